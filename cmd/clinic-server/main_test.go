package main

import (
	"bytes"
	"encoding/json"
	"io"
	"io/fs"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/clinic/dispensary/internal/config"
	"github.com/clinic/dispensary/internal/platform/auth"
	"github.com/clinic/dispensary/internal/platform/db"
)

const testKey = "test-signing-key-that-is-32-bytes!"

func testConfig(env string) *config.Config {
	return &config.Config{
		Port:               "0",
		Env:                env,
		LogLevel:           "info",
		DBMaxConns:         4,
		DBMinConns:         1,
		AuthSigningKey:     testKey,
		AuthIssuer:         "clinic-test",
		SessionCookie:      "clinic_session",
		CORSOrigins:        []string{"http://localhost:3000"},
		BodyLimit:          "1M",
		KafkaTopic:         "clinic.prescriptions",
		OutboxPollInterval: time.Second,
		OutboxBatchSize:    10,
		OutboxMaxRetries:   3,
	}
}

func TestRootCmd_Subcommands(t *testing.T) {
	root := rootCmd()
	for _, path := range [][]string{
		{"serve"},
		{"migrate", "up"},
		{"migrate", "status"},
		{"relay"},
		{"relay", "purge"},
		{"inventory", "expire"},
		{"token", "issue"},
	} {
		cmd, _, err := root.Find(path)
		if err != nil {
			t.Errorf("%v: %v", path, err)
			continue
		}
		if cmd.Name() != path[len(path)-1] {
			t.Errorf("%v resolved to %q", path, cmd.Name())
		}
	}

	serve, _, _ := root.Find([]string{"serve"})
	if serve.Flags().Lookup("with-relay") == nil {
		t.Error("serve must accept --with-relay")
	}
}

func TestMigrationSource(t *testing.T) {
	embedded, err := fs.Glob(migrationSource(""), "*.sql")
	if err != nil || len(embedded) == 0 {
		t.Fatalf("expected embedded migrations, got %v (%v)", embedded, err)
	}

	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "001_local.sql"), []byte("SELECT 1;"), 0o644); err != nil {
		t.Fatal(err)
	}
	local, _ := fs.Glob(migrationSource(dir), "*.sql")
	if len(local) != 1 || local[0] != "001_local.sql" {
		t.Errorf("expected directory source, got %v", local)
	}
}

func TestPrintStatus(t *testing.T) {
	applied := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	var buf bytes.Buffer
	cmd := rootCmd()
	cmd.SetOut(&buf)

	printStatus(cmd, []db.MigrationStatus{
		{Version: 1, Name: "schema", Applied: true, AppliedAt: &applied},
		{Version: 2, Name: "charges_seed"},
	})

	out := buf.String()
	if !strings.Contains(out, "applied") || !strings.Contains(out, "2026-03-01T09:00:00Z") {
		t.Errorf("missing applied row:\n%s", out)
	}
	if !strings.Contains(out, "pending") || !strings.Contains(out, "charges_seed") {
		t.Errorf("missing pending row:\n%s", out)
	}
}

func TestRelayConfig(t *testing.T) {
	rc := relayConfig(testConfig("production"))
	if rc.PollInterval != time.Second || rc.BatchSize != 10 || rc.MaxRetries != 3 {
		t.Errorf("unexpected relay config: %+v", rc)
	}
}

func TestNewLogger_Level(t *testing.T) {
	cfg := testConfig("production")
	cfg.LogLevel = "warn"
	if lvl := newLogger(cfg).GetLevel(); lvl != zerolog.WarnLevel {
		t.Errorf("expected warn, got %s", lvl)
	}
}

func TestNewServer_Routes(t *testing.T) {
	e, _ := newServer(testConfig("production"), nil, zerolog.New(io.Discard))

	registered := make(map[string]bool)
	for _, r := range e.Routes() {
		registered[r.Method+" "+r.Path] = true
	}
	for _, want := range []string{
		"GET /health",
		"GET /api/v1/ws",
		"POST /api/v1/patients",
		"GET /api/v1/queue/today",
		"POST /api/v1/dosing/quantity",
		"POST /api/v1/batches",
		"PUT /api/v1/batches/:id/remaining",
		"POST /api/v1/patients/:id/prescriptions",
		"GET /api/v1/prescriptions/:id",
		"POST /api/v1/prescriptions/:id/bill",
		"GET /api/v1/prescriptions/:id/bill",
		"POST /api/v1/prescriptions/:id/complete",
		"PUT /api/v1/charges/:id",
		"GET /api/v1/drugs/:id/strategy-history",
	} {
		if !registered[want] {
			t.Errorf("route %s not registered", want)
		}
	}
}

func TestNewServer_RequiresToken(t *testing.T) {
	e, _ := newServer(testConfig("production"), nil, zerolog.New(io.Discard))

	req := httptest.NewRequest(http.MethodPost, "/api/v1/dosing/quantity", strings.NewReader(`{}`))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
	var body struct {
		Success bool `json:"success"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil || body.Success {
		t.Errorf("expected error envelope, got %s", rec.Body.String())
	}
}

func TestNewServer_DosingWithToken(t *testing.T) {
	cfg := testConfig("production")
	e, _ := newServer(cfg, nil, zerolog.New(io.Discard))

	token, err := auth.IssueToken(auth.JWTConfig{Issuer: cfg.AuthIssuer, SigningKey: []byte(cfg.AuthSigningKey)},
		"doc-1", "Dr. Silva", []string{auth.RoleDoctor}, time.Hour)
	if err != nil {
		t.Fatalf("IssueToken: %v", err)
	}

	body := `{"type":"PERIODIC","dose":1,"interval_hours":8,"for_days":3}`
	req := httptest.NewRequest(http.MethodPost, "/api/v1/dosing/quantity", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if !strings.Contains(rec.Body.String(), `"quantity":"9"`) {
		t.Errorf("unexpected body: %s", rec.Body.String())
	}
	if rec.Header().Get("X-Content-Type-Options") != "nosniff" {
		t.Error("expected security headers on API responses")
	}
}

func TestNewServer_ReceptionistCannotDose(t *testing.T) {
	cfg := testConfig("production")
	e, _ := newServer(cfg, nil, zerolog.New(io.Discard))

	token, _ := auth.IssueToken(auth.JWTConfig{Issuer: cfg.AuthIssuer, SigningKey: []byte(cfg.AuthSigningKey)},
		"desk-1", "", []string{auth.RoleReceptionist}, time.Hour)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/dosing/quantity", strings.NewReader(`{}`))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)

	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", rec.Code)
	}
}
