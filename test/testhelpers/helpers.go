// Package testhelpers provides shared utilities for the rably end-to-end
// tests: starting a relay behind a real HTTP server, dialing WebSocket
// clients, and exchanging protocol frames.
package testhelpers

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/Tyrowin/rably/internal/relay"
	"github.com/Tyrowin/rably/internal/server"
)

// EventTimeout bounds every read performed by the helpers.
const EventTimeout = 2 * time.Second

var markers atomic.Uint64

// TestServer is a running relay reachable over HTTP.
type TestServer struct {
	App *server.App
	*httptest.Server
}

// StartServer starts a relay configured by DefaultConfig, adjusted by
// mutate when it is non-nil. The server and relay are stopped at the end
// of the test.
func StartServer(t *testing.T, mutate func(*server.Config)) *TestServer {
	t.Helper()

	cfg := server.DefaultConfig()
	cfg.ShutdownTimeout = 2 * time.Second
	if mutate != nil {
		mutate(&cfg)
	}

	app, err := server.NewApp(cfg, zerolog.Nop())
	require.NoError(t, err)

	ts := &TestServer{App: app, Server: httptest.NewServer(app.HTTP.Handler)}
	t.Cleanup(func() {
		_ = app.Relay.Shutdown(cfg.ShutdownTimeout)
		ts.Close()
	})
	return ts
}

// WebSocketURL returns the ws:// URL of the relay endpoint.
func (ts *TestServer) WebSocketURL() string {
	return "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws"
}

// Client is a test WebSocket connection to the relay.
type Client struct {
	t    *testing.T
	Conn *websocket.Conn
}

// Connect dials the relay and closes the connection at the end of the test.
func (ts *TestServer) Connect(t *testing.T) *Client {
	t.Helper()

	conn, err := ConnectWebSocket(ts.WebSocketURL(), "")
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return &Client{t: t, Conn: conn}
}

// ConnectWebSocket creates a WebSocket connection to url, sending origin
// as the Origin header when it is not empty.
func ConnectWebSocket(url, origin string) (*websocket.Conn, error) {
	dialer := websocket.Dialer{
		HandshakeTimeout: 5 * time.Second,
	}

	headers := http.Header{}
	if origin != "" {
		headers.Set("Origin", origin)
	}

	conn, resp, err := dialer.Dial(url, headers)
	if resp != nil {
		_ = resp.Body.Close()
	}
	return conn, err
}

// Send writes one inbound action frame.
func (c *Client) Send(action relay.Action, channel string, data any, role string) {
	c.t.Helper()

	frame := map[string]any{"action": action, "channel": channel}
	if data != nil {
		frame["data"] = data
	}
	if role != "" {
		frame["role"] = role
	}
	require.NoError(c.t, c.Conn.WriteJSON(frame))
}

// SendRaw writes an arbitrary text frame.
func (c *Client) SendRaw(payload string) {
	c.t.Helper()
	require.NoError(c.t, c.Conn.WriteMessage(websocket.TextMessage, []byte(payload)))
}

// Subscribe joins channel and consumes the client's own user_joined event.
func (c *Client) Subscribe(channel, role string) relay.ClientRecord {
	c.t.Helper()

	c.Send(relay.ActionSubscribe, channel, nil, role)
	ev := c.ReadEventOfType(relay.EventUserJoined)
	require.Equal(c.t, channel, ev.Channel)

	var rec relay.ClientRecord
	require.NoError(c.t, json.Unmarshal(ev.Data, &rec))
	return rec
}

// ReadEvent reads the next outbound event.
func (c *Client) ReadEvent() relay.Outbound {
	c.t.Helper()

	require.NoError(c.t, c.Conn.SetReadDeadline(time.Now().Add(EventTimeout)))
	var ev relay.Outbound
	require.NoError(c.t, c.Conn.ReadJSON(&ev))
	return ev
}

// ReadEventOfType reads events until one of type typ arrives.
func (c *Client) ReadEventOfType(typ relay.EventType) relay.Outbound {
	c.t.Helper()

	for {
		ev := c.ReadEvent()
		if ev.Type == typ {
			return ev
		}
	}
}

// ExpectNoEvent fails the test if any event is pending for the client. It
// subscribes to a fresh marker channel and requires the marker's user_joined
// to be the next event, so the connection stays usable afterwards.
func (c *Client) ExpectNoEvent() {
	c.t.Helper()

	marker := fmt.Sprintf("marker-%d", markers.Add(1))
	c.Send(relay.ActionSubscribe, marker, nil, "")

	ev := c.ReadEvent()
	require.Equal(c.t, relay.EventUserJoined, ev.Type, "unexpected event on %q: %s", ev.Channel, ev.Data)
	require.Equal(c.t, marker, ev.Channel, "unexpected event on %q: %s", ev.Channel, ev.Data)
}

// Close sends a normal close frame and closes the connection.
func (c *Client) Close() {
	_ = c.Conn.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	_ = c.Conn.Close()
}

// GetJSON issues a GET to url and decodes the JSON body into v.
func GetJSON(t *testing.T, url string, v any) *http.Response {
	t.Helper()

	resp := MakeRequest(t, http.MethodGet, url)
	defer resp.Body.Close()
	require.NoError(t, json.NewDecoder(resp.Body).Decode(v))
	return resp
}

// Presence fetches the participants of channel over HTTP.
func (ts *TestServer) Presence(t *testing.T, channel string) []relay.ClientRecord {
	t.Helper()

	var body server.PresenceResponse
	resp := GetJSON(t, ts.URL+"/channels/"+url.PathEscape(channel)+"/presence", &body)
	AssertStatusCode(t, resp, http.StatusOK)
	return body.Participants
}

// AssertStatusCode checks if the HTTP response has the expected status code.
func AssertStatusCode(t *testing.T, resp *http.Response, expected int) {
	t.Helper()
	if resp.StatusCode != expected {
		t.Errorf("Expected status code %d, got %d", expected, resp.StatusCode)
	}
}

// AssertContentType checks if the HTTP response has the expected Content-Type header.
func AssertContentType(t *testing.T, resp *http.Response, expected string) {
	t.Helper()
	contentType := resp.Header.Get("Content-Type")
	if contentType != expected {
		t.Errorf("Expected content type %s, got %s", expected, contentType)
	}
}

// MakeRequest creates and executes an HTTP request with a 5-second timeout.
func MakeRequest(t *testing.T, method, url string) *http.Response {
	t.Helper()

	client := &http.Client{
		Timeout: 5 * time.Second,
	}

	req, err := http.NewRequest(method, url, http.NoBody)
	if err != nil {
		t.Fatalf("Failed to create request: %v", err)
	}

	resp, err := client.Do(req)
	if err != nil {
		t.Fatalf("Failed to make request: %v", err)
	}

	return resp
}
