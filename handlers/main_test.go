package handlers

import (
	"bytes"
	"database/sql"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"hearth/accounts"
	"hearth/audit"
	"hearth/auth"
	"hearth/database"
	"hearth/migrate"
	"hearth/models"
	"hearth/moderation"
	"hearth/utils"
)

// MockApplication holds dependencies for handler tests.
type MockApplication struct {
	db          *database.DatabaseService
	registry    *auth.Registry
	recorder    *audit.Recorder
	accounts    *accounts.Manager
	engine      *moderation.Engine
	bans        *moderation.BanManager
	migrator    *migrate.Migrator
	sessions    *models.SessionStore
	rateLimiter *models.RateLimiter
	storage     utils.StorageService
	logger      *slog.Logger
}

func (a *MockApplication) DB() *database.DatabaseService    { return a.db }
func (a *MockApplication) Registry() *auth.Registry         { return a.registry }
func (a *MockApplication) Audit() *audit.Recorder           { return a.recorder }
func (a *MockApplication) Accounts() *accounts.Manager      { return a.accounts }
func (a *MockApplication) Moderation() *moderation.Engine   { return a.engine }
func (a *MockApplication) Bans() *moderation.BanManager     { return a.bans }
func (a *MockApplication) Migrator() *migrate.Migrator      { return a.migrator }
func (a *MockApplication) Sessions() *models.SessionStore   { return a.sessions }
func (a *MockApplication) RateLimiter() *models.RateLimiter { return a.rateLimiter }
func (a *MockApplication) Storage() utils.StorageService    { return a.storage }
func (a *MockApplication) Logger() *slog.Logger             { return a.logger }

// setupTestApp creates a full application stack with a test database.
func setupTestApp(t *testing.T) *MockApplication {
	t.Helper()
	dir := t.TempDir()
	logger := slog.New(slog.NewJSONHandler(io.Discard, nil))

	dbPath := filepath.Join(dir, "test.db") + "?_journal_mode=WAL&_foreign_keys=on"
	dbService, err := database.InitDB(dbPath, dir, logger)
	if err != nil {
		t.Fatalf("Failed to initialize test database: %v", err)
	}
	t.Cleanup(func() {
		if err := dbService.DB.Close(); err != nil {
			t.Errorf("Failed to close test database: %v", err)
		}
	})

	registry := auth.NewRegistry(dbService, logger)
	recorder := audit.NewRecorder(dbService, registry, 1000, logger)

	return &MockApplication{
		db:          dbService,
		registry:    registry,
		recorder:    recorder,
		accounts:    accounts.NewManager(dbService, registry, recorder, logger),
		engine:      moderation.NewEngine(dbService, registry, recorder, logger),
		bans:        moderation.NewBanManager(dbService, registry, recorder, logger),
		migrator:    migrate.NewMigrator(dbService, logger),
		sessions:    models.NewSessionStore(time.Hour),
		rateLimiter: models.NewRateLimiter(time.Millisecond, 1000, time.Hour, 24*time.Hour),
		storage:     &utils.LocalStorage{Dir: dir},
		logger:      logger,
	}
}

// createTestAccount inserts an account with the given role and password.
func createTestAccount(t *testing.T, app *MockApplication, username, password string, role models.Role) {
	t.Helper()
	hash, err := utils.HashPassword(password)
	if err != nil {
		t.Fatal(err)
	}
	tx, err := app.db.DB.Begin()
	if err != nil {
		t.Fatal(err)
	}
	defer func() {
		if rerr := tx.Rollback(); rerr != nil && rerr != sql.ErrTxDone {
			t.Fatal(rerr)
		}
	}()
	if err := app.db.CreateAccountTx(tx, username, role, hash); err != nil {
		t.Fatal(err)
	}
	if err := tx.Commit(); err != nil {
		t.Fatal(err)
	}
}

// login performs a login request against the test server and returns the
// session cookie.
func login(t *testing.T, serverURL, username, password string) *http.Cookie {
	t.Helper()
	body, _ := json.Marshal(map[string]string{"username": username, "password": password})
	resp, err := http.Post(serverURL+"/api/login", "application/json", bytes.NewReader(body))
	if err != nil {
		t.Fatal(err)
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("Login for %s failed with status %d", username, resp.StatusCode)
	}
	for _, c := range resp.Cookies() {
		if c.Name == SessionCookieName {
			return c
		}
	}
	t.Fatalf("No session cookie returned for %s", username)
	return nil
}

// doJSON issues a request with an optional session cookie and JSON body.
func doJSON(t *testing.T, method, url string, cookie *http.Cookie, payload interface{}) *http.Response {
	t.Helper()
	var body io.Reader
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			t.Fatal(err)
		}
		body = bytes.NewReader(raw)
	}
	req, err := http.NewRequest(method, url, body)
	if err != nil {
		t.Fatal(err)
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if cookie != nil {
		req.AddCookie(cookie)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	return resp
}

func newTestServer(t *testing.T, app *MockApplication) *httptest.Server {
	t.Helper()
	server := httptest.NewServer(SetupRouter(app))
	t.Cleanup(server.Close)
	return server
}
