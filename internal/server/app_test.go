package server

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/JakeFAU/spider-emissaries/internal/config"
	localstorage "github.com/JakeFAU/spider-emissaries/internal/storage/local"
)

func testConfig() *config.Config {
	return &config.Config{
		Server:   config.ServerConfig{Port: 0, RequestTimeoutSeconds: 5},
		Logging:  config.LoggingConfig{Level: "error"},
		Database: config.DatabaseConfig{Driver: "memory"},
		Scraper:  config.ScraperConfig{UserAgent: "test", TimeoutSeconds: 5, Extract: "text"},
		Models:   config.ModelsConfig{LabelHash: "sha1", StateSize: 2, SentenceTries: 10},
		Chat: config.ChatConfig{
			Enabled:      true,
			MinDelay:     time.Hour,
			MaxDelay:     time.Hour,
			DefaultLimit: 10,
			MaxLimit:     10,
		},
	}
}

func get(t *testing.T, app *App, target string) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	app.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, target, nil))
	return rec
}

func TestBuildMemory(t *testing.T) {
	t.Parallel()

	app, err := Build(context.Background(), testConfig())
	require.NoError(t, err)
	require.NotNil(t, app.simulator)
	require.Nil(t, app.publisher)

	require.Equal(t, http.StatusOK, get(t, app, "/healthz").Code)
	require.Equal(t, http.StatusOK, get(t, app, "/readyz").Code)
	require.Equal(t, http.StatusOK, get(t, app, "/api/v1/name").Code)
	require.NoError(t, app.Close(context.Background()))
}

func TestBuildSQLiteWithLocalArchive(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	cfg := testConfig()
	cfg.Database = config.DatabaseConfig{Driver: "sqlite", DSN: filepath.Join(dir, "spider.db")}
	cfg.Archive = config.ArchiveConfig{
		Backend: "local",
		Prefix:  "models",
		Local:   localstorage.Config{BaseDir: filepath.Join(dir, "archive")},
	}
	cfg.Chat.Enabled = false
	cfg.Scraper.RateLimit = config.RateLimitConfig{Enabled: true, DefaultRPS: 10, DefaultBurst: 1}

	app, err := Build(context.Background(), cfg)
	require.NoError(t, err)
	require.Nil(t, app.simulator)
	require.Len(t, app.closers, 1)

	require.Equal(t, http.StatusOK, get(t, app, "/readyz").Code)
	rec := get(t, app, "/api/v1/user")
	require.Equal(t, http.StatusOK, rec.Code)
	require.JSONEq(t, `{"users":[]}`, rec.Body.String())
	require.NoError(t, app.Close(context.Background()))
}

func TestBuildErrors(t *testing.T) {
	t.Parallel()

	cfg := testConfig()
	cfg.Models.LabelHash = "md5"
	_, err := Build(context.Background(), cfg)
	require.ErrorContains(t, err, "label hasher")

	cfg = testConfig()
	cfg.Database = config.DatabaseConfig{Driver: "sqlite"}
	_, err = Build(context.Background(), cfg)
	require.ErrorContains(t, err, "sqlite store")

	cfg = testConfig()
	cfg.Chat.MaxDelay = time.Second
	_, err = Build(context.Background(), cfg)
	require.ErrorContains(t, err, "chat simulator")
}

func TestRunStopsOnCancel(t *testing.T) {
	t.Parallel()

	app, err := Build(context.Background(), testConfig())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- app.Run(ctx) }()

	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

type syncRecorder struct {
	zapcore.Core
	synced *bool
}

func (s syncRecorder) Check(ent zapcore.Entry, ce *zapcore.CheckedEntry) *zapcore.CheckedEntry {
	if s.Enabled(ent.Level) {
		return ce.AddCore(ent, s)
	}
	return ce
}

func (s syncRecorder) Write(ent zapcore.Entry, fields []zapcore.Field) error {
	if ent.Message == "shutdown complete" && *s.synced {
		return errors.New("shutdown logged after sync")
	}
	return s.Core.Write(ent, fields)
}

func (s syncRecorder) Sync() error {
	*s.synced = true
	return s.Core.Sync()
}

func TestCloseLogsBeforeSync(t *testing.T) {
	t.Parallel()

	core, logs := observer.New(zapcore.InfoLevel)
	synced := false
	app := &App{logger: zap.New(syncRecorder{Core: core, synced: &synced})}

	require.NoError(t, app.Close(context.Background()))
	require.True(t, synced)
	require.Equal(t, 1, logs.FilterMessage("shutdown complete").Len())
}
