package push

import (
	"context"
	"net/http"
	"time"

	pusher "github.com/pusher/pusher-http-go/v5"
	"go.uber.org/zap"

	"github.com/sol1corejz/sendcent/internal/logger"
)

// Sink is the real-time delivery fabric, reduced to a single publish
// capability. Production uses Pusher channels; tests use fakes.
type Sink interface {
	Publish(ctx context.Context, channel, event string, payload map[string]any) error
}

type PusherSink struct {
	client pusher.Client
}

func NewPusherSink(appID, key, secret, cluster string, timeout time.Duration) *PusherSink {
	return &PusherSink{
		client: pusher.Client{
			AppID:      appID,
			Key:        key,
			Secret:     secret,
			Cluster:    cluster,
			HTTPClient: &http.Client{Timeout: timeout},
		},
	}
}

func (p *PusherSink) Publish(ctx context.Context, channel, event string, payload map[string]any) error {
	return p.client.Trigger(channel, event, payload)
}

// LogSink stands in when no Pusher credentials are configured: events are
// logged instead of delivered. Useful for local development.
type LogSink struct{}

func (LogSink) Publish(ctx context.Context, channel, event string, payload map[string]any) error {
	logger.Log.Info("Push event (log sink)",
		zap.String("channel", channel),
		zap.String("event", event),
		zap.Any("payload", payload),
	)
	return nil
}
