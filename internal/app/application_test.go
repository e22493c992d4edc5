package app

import (
	"context"
	"io"
	"net"
	"net/http"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"proctor/internal/config"
)

func freePort(t *testing.T) int {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer l.Close()
	return l.Addr().(*net.TCPAddr).Port
}

func testConfig(t *testing.T) *config.Config {
	cfg := config.DefaultConfig()
	cfg.HTTP.Host = "127.0.0.1"
	cfg.HTTP.Port = freePort(t)
	cfg.Liveness.SweepInterval = time.Second
	return cfg
}

func get(t *testing.T, url string) (int, string) {
	t.Helper()
	resp, err := http.Get(url)
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp.StatusCode, string(body)
}

func TestNewApplication_RejectsInvalidConfig(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.HTTP.Port = -1
	_, err := NewApplication(cfg, nil)
	assert.Error(t, err)
}

func TestNewApplication_JournalOpenFailure(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Journal.Enabled = true
	cfg.Journal.Path = filepath.Join(t.TempDir(), "missing-dir", "journal.db")
	_, err := NewApplication(cfg, nil)
	assert.Error(t, err)
}

func TestApplication_StartServeStop(t *testing.T) {
	cfg := testConfig(t)
	cfg.Journal.Enabled = true
	cfg.Journal.Path = filepath.Join(t.TempDir(), "journal.db")

	app, err := NewApplication(cfg, nil)
	require.NoError(t, err)
	require.NoError(t, app.Start(context.Background()))

	base := "http://" + app.Addr()

	code, body := get(t, base+"/health")
	assert.Equal(t, http.StatusOK, code)
	assert.Contains(t, body, `"journal":"healthy"`)

	code, body = get(t, base+"/api/alerts")
	assert.Equal(t, http.StatusOK, code)
	assert.Contains(t, body, `"count":0`)

	code, body = get(t, base+"/metrics")
	assert.Equal(t, http.StatusOK, code)
	assert.Contains(t, body, "proctor_")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, app.Stop(ctx))

	_, err = http.Get(base + "/health")
	assert.Error(t, err, "listener closed after stop")
}

func TestApplication_MetricsDisabledAndNoJournal(t *testing.T) {
	cfg := testConfig(t)
	cfg.Metrics.Enabled = false

	app, err := NewApplication(cfg, nil)
	require.NoError(t, err)
	require.NoError(t, app.Start(context.Background()))
	defer func() { _ = app.Stop(context.Background()) }()

	base := "http://" + app.Addr()
	code, _ := get(t, base+"/metrics")
	assert.Equal(t, http.StatusNotFound, code)

	code, _ = get(t, base+"/api/alerts")
	assert.Equal(t, http.StatusNotFound, code)

	code, body := get(t, base+"/health")
	assert.Equal(t, http.StatusOK, code)
	assert.Contains(t, body, `"journal":"disabled"`)
}

func TestApplication_StartFailsOnBusyPort(t *testing.T) {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer l.Close()

	cfg := config.DefaultConfig()
	cfg.HTTP.Host = "127.0.0.1"
	cfg.HTTP.Port = l.Addr().(*net.TCPAddr).Port

	app, err := NewApplication(cfg, nil)
	require.NoError(t, err)
	assert.Error(t, app.Start(context.Background()))
}
