package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/sol1corejz/sendcent/cmd/config"
	"github.com/sol1corejz/sendcent/internal/auth"
	"github.com/sol1corejz/sendcent/internal/handlers"
	"github.com/sol1corejz/sendcent/internal/identity"
	"github.com/sol1corejz/sendcent/internal/ledger"
	"github.com/sol1corejz/sendcent/internal/logger"
	"github.com/sol1corejz/sendcent/internal/outbox"
	"github.com/sol1corejz/sendcent/internal/push"
	"github.com/sol1corejz/sendcent/internal/store"
)

// ledgerStore and outboxStore narrow the concrete store to the capability
// interfaces the engine and worker declare.
type ledgerStore struct {
	*store.Store
}

func (l ledgerStore) Begin(ctx context.Context) (ledger.Tx, error) {
	return l.Store.Begin(ctx)
}

type outboxStore struct {
	*store.Store
}

func (o outboxStore) Begin(ctx context.Context) (outbox.Tx, error) {
	return o.Store.Begin(ctx)
}

func main() {
	config.ParseFlags()

	if err := logger.Initialize(config.LogLevel); err != nil {
		logger.Log.Fatal("Failed to initialize logger", zap.Error(err))
	}

	auth.Init(config.JWTSecret)

	st, err := store.Open(config.DatabaseURI)
	if err != nil {
		logger.Log.Fatal("Failed to open storage", zap.Error(err))
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	if err := st.Bootstrap(ctx); err != nil {
		cancel()
		logger.Log.Fatal("Failed to bootstrap storage", zap.Error(err))
	}
	cancel()

	var sink push.Sink = push.LogSink{}
	if config.PusherKey != "" {
		sink = push.NewPusherSink(config.PusherAppID, config.PusherKey, config.PusherSecret, config.PusherCluster, 30*time.Second)
	} else {
		logger.Log.Warn("No Pusher credentials configured, events go to the log")
	}

	worker := outbox.NewWorker(outboxStore{st}, sink, config.OutboxInterval)
	engine := ledger.NewEngine(ledgerStore{st}, worker.Wake)
	ident := identity.NewService(st, config.BcryptCost, config.SignupBonus)

	workerCtx, stopWorker := context.WithCancel(context.Background())
	workerDone := make(chan struct{})
	go func() {
		worker.Run(workerCtx)
		close(workerDone)
	}()

	app := handlers.NewApp(st, ident, engine)

	go func() {
		logger.Log.Info("Running server", zap.String("address", config.RunAddress))
		if err := app.Listen(config.RunAddress); err != nil {
			logger.Log.Error("Server stopped", zap.Error(err))
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	<-stop

	logger.Log.Info("Shutting down")

	if err := app.Shutdown(); err != nil {
		logger.Log.Error("Server shutdown failed", zap.Error(err))
	}

	stopWorker()
	<-workerDone

	if err := st.Close(); err != nil {
		logger.Log.Error("Error closing storage", zap.Error(err))
	}

	logger.Log.Info("Server exited")
}
