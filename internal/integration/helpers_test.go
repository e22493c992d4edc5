package integration

import (
	"context"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"path/filepath"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"

	"proctor/internal/app"
	"proctor/internal/config"
	"proctor/pkg/types"
)

const readTimeout = 5 * time.Second

// startCoordinator runs a full application on a free loopback port with the journal enabled
func startCoordinator(t *testing.T) string {
	t.Helper()

	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	port := l.Addr().(*net.TCPAddr).Port
	require.NoError(t, l.Close())

	cfg := config.DefaultConfig()
	cfg.HTTP.Host = "127.0.0.1"
	cfg.HTTP.Port = port
	cfg.Journal.Enabled = true
	cfg.Journal.Path = filepath.Join(t.TempDir(), "journal.db")

	application, err := app.NewApplication(cfg, nil)
	require.NoError(t, err)
	require.NoError(t, application.Start(context.Background()))
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = application.Stop(ctx)
	})
	return application.Addr()
}

type client struct {
	t            *testing.T
	conn         *websocket.Conn
	connectionID string
	sessionID    string
}

func dial(t *testing.T, addr string) *client {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial("ws://"+addr+"/ws", nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return &client{t: t, conn: conn}
}

func (c *client) send(env *types.Envelope) {
	c.t.Helper()
	require.NoError(c.t, c.conn.WriteJSON(env))
}

// next returns the next envelope of msgType, skipping any other types
func (c *client) next(msgType string) *types.Envelope {
	c.t.Helper()
	deadline := time.Now().Add(readTimeout)
	for {
		require.NoError(c.t, c.conn.SetReadDeadline(deadline))
		var env types.Envelope
		require.NoError(c.t, c.conn.ReadJSON(&env), "waiting for %s", msgType)
		if env.Type == msgType {
			return &env
		}
	}
}

// nextSessionUpdate returns the next session-update carrying event
func (c *client) nextSessionUpdate(event string) *types.Envelope {
	c.t.Helper()
	for {
		env := c.next(types.MessageTypeSessionUpdate)
		if env.Event == event {
			return env
		}
	}
}

func (c *client) register(env *types.Envelope) {
	c.t.Helper()
	env.Type = types.MessageTypeRegister
	c.send(env)
	ack := c.next(types.MessageTypeRegistered)
	require.NotEmpty(c.t, ack.ConnectionID)
	c.connectionID = ack.ConnectionID
	c.sessionID = ack.SessionID
}

func registerAdmin(t *testing.T, addr, userID string) *client {
	c := dial(t, addr)
	c.register(&types.Envelope{Role: types.RoleAdmin, UserID: userID, UserName: "Proctor " + userID})
	return c
}

func registerStudent(t *testing.T, addr, userID, examID string) *client {
	c := dial(t, addr)
	c.register(&types.Envelope{
		Role:         types.RoleStudent,
		UserID:       userID,
		UserName:     "Student " + userID,
		ExamID:       examID,
		Capabilities: &types.Capabilities{Camera: true, Screen: true, ScreenMode: types.ScreenModeFull},
	})
	return c
}

func httpJSON(t *testing.T, method, url string, out interface{}) int {
	t.Helper()
	req, err := http.NewRequest(method, url, nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	if out != nil && len(body) > 0 {
		require.NoError(t, json.Unmarshal(body, out), string(body))
	}
	return resp.StatusCode
}
