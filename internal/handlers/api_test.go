package handlers_test

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"strings"
	"testing"
	"time"

	_ "github.com/jackc/pgx/v4/stdlib"
	"golang.org/x/crypto/bcrypt"

	"github.com/gofiber/fiber/v2"

	"github.com/sol1corejz/sendcent/internal/handlers"
	"github.com/sol1corejz/sendcent/internal/identity"
	"github.com/sol1corejz/sendcent/internal/ledger"
	"github.com/sol1corejz/sendcent/internal/store"
)

type testEnv struct {
	app *fiber.App
	db  *sql.DB
}

type ledgerStore struct {
	st *store.Store
}

func (l ledgerStore) Begin(ctx context.Context) (ledger.Tx, error) {
	return l.st.Begin(ctx)
}

func setupTest(t *testing.T) *testEnv {
	t.Helper()

	dbURL := os.Getenv("DATABASE_URL")
	if dbURL == "" {
		t.Skip("DATABASE_URL is not set")
	}

	st, err := store.Open(dbURL)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := st.Bootstrap(ctx); err != nil {
		t.Fatalf("bootstrap: %v", err)
	}

	db, err := sql.Open("pgx", dbURL)
	if err != nil {
		t.Fatalf("open db: %v", err)
	}

	_, err = db.ExecContext(ctx, `
		TRUNCATE transaction_outbox, balance_snapshots, transactions, auth_tokens, users
		RESTART IDENTITY CASCADE;
	`)
	if err != nil {
		t.Fatalf("reset db: %v", err)
	}

	ident := identity.NewService(st, bcrypt.MinCost, 0)
	engine := ledger.NewEngine(ledgerStore{st}, nil)
	app := handlers.NewApp(st, ident, engine)

	t.Cleanup(func() {
		db.Close()
		st.Close()
	})

	return &testEnv{app: app, db: db}
}

func (e *testEnv) doRequest(t *testing.T, method, path, token, body string, headers map[string]string) *http.Response {
	t.Helper()

	req, err := http.NewRequest(method, path, strings.NewReader(body))
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := e.app.Test(req, -1)
	if err != nil {
		t.Fatalf("do request: %v", err)
	}
	return resp
}

func decodeJSON(t *testing.T, resp *http.Response) map[string]any {
	t.Helper()
	defer resp.Body.Close()

	var payload map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	return payload
}

func (e *testEnv) register(t *testing.T, name, email string) (int64, string) {
	t.Helper()

	body := fmt.Sprintf(`{"name":%q,"email":%q,"password":"secret-password","password_confirmation":"secret-password"}`, name, email)
	resp := e.doRequest(t, http.MethodPost, "/api/auth/register", "", body, nil)
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("register %s: expected %d, got %d", email, http.StatusCreated, resp.StatusCode)
	}

	payload := decodeJSON(t, resp)
	token, _ := payload["token"].(string)
	user, _ := payload["user"].(map[string]any)
	id, _ := user["id"].(float64)
	if token == "" || id == 0 {
		t.Fatalf("register %s: malformed response %v", email, payload)
	}
	return int64(id), token
}

func (e *testEnv) setBalance(t *testing.T, userID, balance int64) {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	_, err := e.db.ExecContext(ctx, `
		UPDATE users SET balance = $1, initial_balance = $1 WHERE id = $2;
	`, balance, userID)
	if err != nil {
		t.Fatalf("set balance: %v", err)
	}
}

func (e *testEnv) getBalance(t *testing.T, userID int64) int64 {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	var balance int64
	if err := e.db.QueryRowContext(ctx, `SELECT balance FROM users WHERE id = $1;`, userID).Scan(&balance); err != nil {
		t.Fatalf("get balance: %v", err)
	}
	return balance
}

func (e *testEnv) countRows(t *testing.T, query string, args ...any) int {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	var count int
	if err := e.db.QueryRowContext(ctx, query, args...).Scan(&count); err != nil {
		t.Fatalf("count rows: %v", err)
	}
	return count
}

func TestRegisterLoginFlow(t *testing.T) {
	env := setupTest(t)

	_, token := env.register(t, "Alice", "alice@example.com")

	resp := env.doRequest(t, http.MethodGet, "/api/auth/user", token, "", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("get user: expected %d, got %d", http.StatusOK, resp.StatusCode)
	}
	payload := decodeJSON(t, resp)
	user, _ := payload["user"].(map[string]any)
	if user["email"] != "alice@example.com" {
		t.Fatalf("unexpected user payload: %v", user)
	}

	resp = env.doRequest(t, http.MethodPost, "/api/auth/register", "",
		`{"name":"Alice Again","email":"alice@example.com","password":"secret-password","password_confirmation":"secret-password"}`, nil)
	if resp.StatusCode != http.StatusUnprocessableEntity {
		t.Fatalf("duplicate register: expected %d, got %d", http.StatusUnprocessableEntity, resp.StatusCode)
	}
	resp.Body.Close()

	resp = env.doRequest(t, http.MethodPost, "/api/auth/login", "",
		`{"email":"alice@example.com","password":"wrong-password"}`, nil)
	if resp.StatusCode != http.StatusUnprocessableEntity {
		t.Fatalf("bad login: expected %d, got %d", http.StatusUnprocessableEntity, resp.StatusCode)
	}
	resp.Body.Close()

	resp = env.doRequest(t, http.MethodPost, "/api/auth/login", "",
		`{"email":"alice@example.com","password":"secret-password"}`, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("login: expected %d, got %d", http.StatusOK, resp.StatusCode)
	}
	resp.Body.Close()
}

func TestLogoutRevokesToken(t *testing.T) {
	env := setupTest(t)

	_, token := env.register(t, "Alice", "alice@example.com")

	resp := env.doRequest(t, http.MethodPost, "/api/auth/logout", token, "", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("logout: expected %d, got %d", http.StatusOK, resp.StatusCode)
	}
	resp.Body.Close()

	resp = env.doRequest(t, http.MethodGet, "/api/balance", token, "", nil)
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("revoked token: expected %d, got %d", http.StatusUnauthorized, resp.StatusCode)
	}
	resp.Body.Close()
}

func TestUnauthorizedWithoutToken(t *testing.T) {
	env := setupTest(t)

	resp := env.doRequest(t, http.MethodGet, "/api/balance", "", "", nil)
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected %d, got %d", http.StatusUnauthorized, resp.StatusCode)
	}
	resp.Body.Close()
}

func TestTransferEndToEnd(t *testing.T) {
	env := setupTest(t)

	aliceID, aliceToken := env.register(t, "Alice", "alice@example.com")
	bobID, bobToken := env.register(t, "Bob", "bob@example.com")
	env.setBalance(t, aliceID, 100000)
	env.setBalance(t, bobID, 50000)

	resp := env.doRequest(t, http.MethodPost, "/api/transactions", aliceToken,
		`{"receiver_email":"bob@example.com","amount":10000}`,
		map[string]string{"Idempotency-Key": "k1"})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("transfer: expected %d, got %d", http.StatusCreated, resp.StatusCode)
	}
	payload := decodeJSON(t, resp)
	data, _ := payload["data"].(map[string]any)
	if data["amount"].(float64) != 10000 || data["commission"].(float64) != 150 {
		t.Fatalf("unexpected transfer data: %v", data)
	}
	if data["sender_balance"].(float64) != 89850 || data["receiver_balance"].(float64) != 60000 {
		t.Fatalf("unexpected balances in response: %v", data)
	}
	uuid, _ := data["uuid"].(string)
	if uuid == "" {
		t.Fatal("transfer response carries no uuid")
	}

	if env.getBalance(t, aliceID) != 89850 {
		t.Fatalf("alice balance = %d, want 89850", env.getBalance(t, aliceID))
	}
	if env.getBalance(t, bobID) != 60000 {
		t.Fatalf("bob balance = %d, want 60000", env.getBalance(t, bobID))
	}

	// Replay with the same key returns the original row and moves nothing.
	resp = env.doRequest(t, http.MethodPost, "/api/transactions", aliceToken,
		`{"receiver_email":"bob@example.com","amount":10000}`,
		map[string]string{"Idempotency-Key": "k1"})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("replay: expected %d, got %d", http.StatusCreated, resp.StatusCode)
	}
	replay := decodeJSON(t, resp)
	replayData, _ := replay["data"].(map[string]any)
	if replayData["uuid"] != uuid {
		t.Fatalf("replay returned uuid %v, want %s", replayData["uuid"], uuid)
	}

	if got := env.countRows(t, `SELECT COUNT(*) FROM transactions;`); got != 1 {
		t.Fatalf("expected 1 ledger row, got %d", got)
	}
	if got := env.countRows(t, `SELECT COUNT(*) FROM balance_snapshots WHERE transaction_uuid = $1;`, uuid); got != 2 {
		t.Fatalf("expected 2 snapshots, got %d", got)
	}
	if got := env.countRows(t, `SELECT COUNT(*) FROM transaction_outbox WHERE transaction_uuid = $1;`, uuid); got != 1 {
		t.Fatalf("expected 1 outbox entry, got %d", got)
	}
	if env.getBalance(t, aliceID) != 89850 {
		t.Fatal("replay moved the sender balance")
	}

	// Bob can see the transaction; a stranger cannot.
	resp = env.doRequest(t, http.MethodGet, "/api/transactions/"+uuid, bobToken, "", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("detail for receiver: expected %d, got %d", http.StatusOK, resp.StatusCode)
	}
	resp.Body.Close()

	_, carolToken := env.register(t, "Carol", "carol@example.com")
	resp = env.doRequest(t, http.MethodGet, "/api/transactions/"+uuid, carolToken, "", nil)
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("detail for stranger: expected %d, got %d", http.StatusNotFound, resp.StatusCode)
	}
	resp.Body.Close()
}

func TestTransferInsufficientBalance(t *testing.T) {
	env := setupTest(t)

	aliceID, aliceToken := env.register(t, "Alice", "alice@example.com")
	bobID, _ := env.register(t, "Bob", "bob@example.com")
	env.setBalance(t, aliceID, 100)

	resp := env.doRequest(t, http.MethodPost, "/api/transactions", aliceToken,
		`{"receiver_email":"bob@example.com","amount":10000}`,
		map[string]string{"Idempotency-Key": "k1"})
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected %d, got %d", http.StatusBadRequest, resp.StatusCode)
	}
	resp.Body.Close()

	if env.getBalance(t, aliceID) != 100 || env.getBalance(t, bobID) != 0 {
		t.Fatal("rejected transfer moved balances")
	}
	if got := env.countRows(t, `SELECT COUNT(*) FROM transactions;`); got != 0 {
		t.Fatalf("expected 0 ledger rows, got %d", got)
	}
	if got := env.countRows(t, `SELECT COUNT(*) FROM transaction_outbox;`); got != 0 {
		t.Fatalf("expected 0 outbox entries, got %d", got)
	}
}

func TestTransferToSelf(t *testing.T) {
	env := setupTest(t)

	aliceID, aliceToken := env.register(t, "Alice", "alice@example.com")
	env.setBalance(t, aliceID, 100000)

	resp := env.doRequest(t, http.MethodPost, "/api/transactions", aliceToken,
		`{"receiver_email":"alice@example.com","amount":1000}`,
		map[string]string{"Idempotency-Key": "k1"})
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected %d, got %d", http.StatusBadRequest, resp.StatusCode)
	}
	resp.Body.Close()

	if got := env.countRows(t, `SELECT COUNT(*) FROM transactions;`); got != 0 {
		t.Fatalf("self transfer wrote %d rows", got)
	}
}

func TestValidateReceiver(t *testing.T) {
	env := setupTest(t)

	_, aliceToken := env.register(t, "Alice", "alice@example.com")
	env.register(t, "Bob", "bob@example.com")

	resp := env.doRequest(t, http.MethodPost, "/api/transactions/validate-receiver", aliceToken,
		`{"email":"bob@example.com"}`, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("valid receiver: expected %d, got %d", http.StatusOK, resp.StatusCode)
	}
	payload := decodeJSON(t, resp)
	data, _ := payload["data"].(map[string]any)
	if data["valid"] != true {
		t.Fatalf("expected valid=true, got %v", data)
	}
	user, _ := data["user"].(map[string]any)
	if user["name"] != "Bob" {
		t.Fatalf("expected receiver name, got %v", user)
	}

	resp = env.doRequest(t, http.MethodPost, "/api/transactions/validate-receiver", aliceToken,
		`{"email":"alice@example.com"}`, nil)
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("self: expected %d, got %d", http.StatusBadRequest, resp.StatusCode)
	}
	resp.Body.Close()

	resp = env.doRequest(t, http.MethodPost, "/api/transactions/validate-receiver", aliceToken,
		`{"email":"nobody@example.com"}`, nil)
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("unknown: expected %d, got %d", http.StatusNotFound, resp.StatusCode)
	}
	resp.Body.Close()
}

func TestTransactionsListAndStats(t *testing.T) {
	env := setupTest(t)

	aliceID, aliceToken := env.register(t, "Alice", "alice@example.com")
	bobID, bobToken := env.register(t, "Bob", "bob@example.com")
	env.setBalance(t, aliceID, 100000)
	env.setBalance(t, bobID, 100000)

	for i := 0; i < 3; i++ {
		resp := env.doRequest(t, http.MethodPost, "/api/transactions", aliceToken,
			`{"receiver_email":"bob@example.com","amount":1000}`,
			map[string]string{"Idempotency-Key": fmt.Sprintf("alice-%d", i)})
		if resp.StatusCode != http.StatusCreated {
			t.Fatalf("transfer %d: expected %d, got %d", i, http.StatusCreated, resp.StatusCode)
		}
		resp.Body.Close()
	}
	resp := env.doRequest(t, http.MethodPost, "/api/transactions", bobToken,
		`{"receiver_email":"alice@example.com","amount":500}`,
		map[string]string{"Idempotency-Key": "bob-0"})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("bob transfer: expected %d, got %d", http.StatusCreated, resp.StatusCode)
	}
	resp.Body.Close()

	resp = env.doRequest(t, http.MethodGet, "/api/transactions?direction=sent", aliceToken, "", nil)
	payload := decodeJSON(t, resp)
	data, _ := payload["data"].(map[string]any)
	if data["total"].(float64) != 3 {
		t.Fatalf("alice sent total = %v, want 3", data["total"])
	}

	resp = env.doRequest(t, http.MethodGet, "/api/transactions?direction=received", aliceToken, "", nil)
	payload = decodeJSON(t, resp)
	data, _ = payload["data"].(map[string]any)
	if data["total"].(float64) != 1 {
		t.Fatalf("alice received total = %v, want 1", data["total"])
	}

	resp = env.doRequest(t, http.MethodGet, "/api/transactions?per_page=2", aliceToken, "", nil)
	payload = decodeJSON(t, resp)
	data, _ = payload["data"].(map[string]any)
	items, _ := data["items"].([]any)
	if len(items) != 2 {
		t.Fatalf("expected 2 items on page, got %d", len(items))
	}
	if data["total"].(float64) != 4 {
		t.Fatalf("alice total = %v, want 4", data["total"])
	}

	// commission(1000) = 15 per sent transfer
	resp = env.doRequest(t, http.MethodGet, "/api/transactions/stats", aliceToken, "", nil)
	payload = decodeJSON(t, resp)
	data, _ = payload["data"].(map[string]any)
	if data["total_sent"].(float64) != 3*1015 {
		t.Fatalf("total_sent = %v, want 3045", data["total_sent"])
	}
	if data["total_received"].(float64) != 500 {
		t.Fatalf("total_received = %v, want 500", data["total_received"])
	}
	if data["total_commission"].(float64) != 45 {
		t.Fatalf("total_commission = %v, want 45", data["total_commission"])
	}
	if data["total_transactions"].(float64) != 4 {
		t.Fatalf("total_transactions = %v, want 4", data["total_transactions"])
	}
	if data["net_balance_change"].(float64) != 500-3045 {
		t.Fatalf("net_balance_change = %v, want -2545", data["net_balance_change"])
	}
}
