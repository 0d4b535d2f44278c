package sink

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/sight-dev/sight/pkg/sensory"
	"github.com/sight-dev/sight/pkg/wsclient"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestSink(t *testing.T, opts ...Option) (*Server, *httptest.Server) {
	t.Helper()
	opts = append([]Option{WithLogger(testLogger())}, opts...)
	s := New("test-token", opts...)
	ts := httptest.NewServer(s.Routes())
	t.Cleanup(func() {
		s.Close()
		ts.Close()
	})
	return s, ts
}

func wsURL(ts *httptest.Server) string {
	return "ws" + strings.TrimPrefix(ts.URL, "http") + "/"
}

func dialGorilla(t *testing.T, url string) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial %s: %v", url, err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func waitForClients(t *testing.T, s *Server, want int) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if s.ClientCount() == want {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("client count = %d, want %d", s.ClientCount(), want)
}

func eventText(t *testing.T, event sensory.Event) string {
	t.Helper()
	var body struct {
		Text string `json:"text"`
	}
	if err := json.Unmarshal(event.Payload, &body); err != nil {
		t.Fatalf("decode event payload: %v", err)
	}
	return body.Text
}

func TestAuthRejectedBadToken(t *testing.T) {
	_, ts := newTestSink(t)
	conn := dialGorilla(t, wsURL(ts))

	if err := conn.WriteMessage(websocket.TextMessage, []byte("camera-user:wrong")); err != nil {
		t.Fatalf("write credential: %v", err)
	}

	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	_, _, err := conn.ReadMessage()
	var ce *websocket.CloseError
	if !errors.As(err, &ce) {
		t.Fatalf("ReadMessage() error = %v, want close error", err)
	}
	if ce.Code != websocket.ClosePolicyViolation {
		t.Errorf("close code = %d, want %d", ce.Code, websocket.ClosePolicyViolation)
	}
	if ce.Text != "auth failed" {
		t.Errorf("close reason = %q, want %q", ce.Text, "auth failed")
	}
}

func TestAuthRejectedEmptyUser(t *testing.T) {
	_, ts := newTestSink(t)
	conn := dialGorilla(t, wsURL(ts))

	if err := conn.WriteMessage(websocket.TextMessage, []byte(":test-token")); err != nil {
		t.Fatalf("write credential: %v", err)
	}

	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	_, _, err := conn.ReadMessage()
	var ce *websocket.CloseError
	if !errors.As(err, &ce) || ce.Code != websocket.ClosePolicyViolation {
		t.Errorf("ReadMessage() error = %v, want close %d", err, websocket.ClosePolicyViolation)
	}
}

func TestAuthRejectedNonTextFirstFrame(t *testing.T) {
	_, ts := newTestSink(t)
	conn := dialGorilla(t, wsURL(ts))

	if err := conn.WriteMessage(websocket.BinaryMessage, []byte{0x01, 0x02}); err != nil {
		t.Fatalf("write binary frame: %v", err)
	}

	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	_, _, err := conn.ReadMessage()
	var ce *websocket.CloseError
	if !errors.As(err, &ce) {
		t.Fatalf("ReadMessage() error = %v, want close error", err)
	}
	if ce.Code != websocket.CloseProtocolError {
		t.Errorf("close code = %d, want %d", ce.Code, websocket.CloseProtocolError)
	}
}

func TestInputBroadcastToClients(t *testing.T) {
	s, ts := newTestSink(t)

	viewer := dialGorilla(t, wsURL(ts))
	if err := viewer.WriteMessage(websocket.TextMessage, []byte("viewer:test-token")); err != nil {
		t.Fatalf("viewer credential: %v", err)
	}
	waitForClients(t, s, 1)

	sender, err := wsclient.Dial(context.Background(), wsURL(ts), wsclient.WithLogger(testLogger()))
	if err != nil {
		t.Fatalf("Dial() error = %v", err)
	}
	defer sender.Close()

	if err := sender.SendText("camera-user:test-token"); err != nil {
		t.Fatalf("send credential: %v", err)
	}
	data, err := sensory.NewMessage("a red bicycle leaning on a fence").Encode()
	if err != nil {
		t.Fatalf("encode message: %v", err)
	}
	if err := sender.SendText(string(data)); err != nil {
		t.Fatalf("send observation: %v", err)
	}

	viewer.SetReadDeadline(time.Now().Add(5 * time.Second))
	_, payload, err := viewer.ReadMessage()
	if err != nil {
		t.Fatalf("viewer read: %v", err)
	}

	env, err := sensory.DecodeEnvelope(payload)
	if err != nil {
		t.Fatalf("DecodeEnvelope() error = %v", err)
	}
	if env.Type != sensory.TypeEvent {
		t.Errorf("envelope type = %q, want %q", env.Type, sensory.TypeEvent)
	}
	if env.Event.Source != "user" {
		t.Errorf("event source = %q, want %q", env.Event.Source, "user")
	}
	if got := eventText(t, env.Event); got != "a red bicycle leaning on a fence" {
		t.Errorf("event text = %q", got)
	}
	if !hasAllTags(env.Event, []string{"input", "type:sensory"}) {
		t.Errorf("event tags = %v, want input and type:sensory", env.Event.Meta.Tags)
	}
}

// The full client flow against the sink: dial, authenticate, send an
// observation, then listen for the echoed event envelope.
func TestRelayClientReceivesEcho(t *testing.T) {
	_, ts := newTestSink(t)

	c, err := wsclient.Dial(context.Background(), wsURL(ts), wsclient.WithLogger(testLogger()))
	if err != nil {
		t.Fatalf("Dial() error = %v", err)
	}
	defer c.Close()

	if err := c.SendText("camera-user:test-token"); err != nil {
		t.Fatalf("send credential: %v", err)
	}
	data, err := sensory.NewMessage("the hallway is dark").Encode()
	if err != nil {
		t.Fatalf("encode message: %v", err)
	}
	if err := c.SendText(string(data)); err != nil {
		t.Fatalf("send observation: %v", err)
	}

	var replies [][]byte
	err = c.Listen(1200*time.Millisecond, func(p []byte) {
		replies = append(replies, append([]byte(nil), p...))
	})
	if err != nil {
		t.Fatalf("Listen() error = %v", err)
	}
	if len(replies) != 1 {
		t.Fatalf("replies = %d, want 1", len(replies))
	}

	env, err := sensory.DecodeEnvelope(replies[0])
	if err != nil {
		t.Fatalf("DecodeEnvelope() error = %v", err)
	}
	if got := eventText(t, env.Event); got != "the hallway is dark" {
		t.Errorf("event text = %q", got)
	}
}

func TestMessagesEndpoint(t *testing.T) {
	s, ts := newTestSink(t)

	s.handleInput("camera-user", []byte(`{"type":"sensory","text":"first"}`))
	s.handleInput("camera-user", []byte(`{"type":"message","text":"second"}`))
	s.handleInput("camera-user", []byte(`not json`))

	resp, err := http.Get(ts.URL + "/messages")
	if err != nil {
		t.Fatalf("GET /messages: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}

	var body messagesResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if len(body.Events) != 3 {
		t.Fatalf("events = %d, want 3", len(body.Events))
	}
	if got := eventText(t, body.Events[0]); got != "first" {
		t.Errorf("events[0] text = %q, want %q (oldest first)", got, "first")
	}
	if body.Events[2].Source != "system" {
		t.Errorf("events[2] source = %q, want system", body.Events[2].Source)
	}
	if got := eventText(t, body.Events[2]); got != "invalid input payload" {
		t.Errorf("events[2] text = %q", got)
	}
}

func TestMessagesEndpointFilters(t *testing.T) {
	s, ts := newTestSink(t)

	s.handleInput("camera-user", []byte(`{"type":"sensory","text":"first"}`))
	s.handleInput("camera-user", []byte(`{"type":"message","text":"second"}`))

	resp, err := http.Get(ts.URL + "/messages?tag=input,type:sensory")
	if err != nil {
		t.Fatalf("GET /messages: %v", err)
	}
	defer resp.Body.Close()

	var body messagesResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if len(body.Events) != 1 {
		t.Fatalf("filtered events = %d, want 1", len(body.Events))
	}
	if got := eventText(t, body.Events[0]); got != "first" {
		t.Errorf("filtered event text = %q, want %q", got, "first")
	}
}

func TestMessagesEndpointLimit(t *testing.T) {
	s, ts := newTestSink(t)

	s.handleInput("u", []byte(`{"type":"message","text":"one"}`))
	s.handleInput("u", []byte(`{"type":"message","text":"two"}`))

	resp, err := http.Get(ts.URL + "/messages?limit=1")
	if err != nil {
		t.Fatalf("GET /messages: %v", err)
	}
	defer resp.Body.Close()

	var body messagesResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if len(body.Events) != 1 {
		t.Fatalf("events = %d, want 1", len(body.Events))
	}
	if got := eventText(t, body.Events[0]); got != "two" {
		t.Errorf("limited event text = %q, want newest", got)
	}
}

func TestMessagesEndpointBadLimit(t *testing.T) {
	_, ts := newTestSink(t)

	for _, raw := range []string{"abc", "0", "-5"} {
		resp, err := http.Get(ts.URL + "/messages?limit=" + raw)
		if err != nil {
			t.Fatalf("GET /messages: %v", err)
		}
		resp.Body.Close()
		if resp.StatusCode != http.StatusBadRequest {
			t.Errorf("limit=%s status = %d, want 400", raw, resp.StatusCode)
		}
	}
}

func TestInvalidInputTypeRecorded(t *testing.T) {
	s, _ := newTestSink(t)

	s.handleInput("u", []byte(`{"type":"telemetry","text":"x"}`))

	events := s.history.latest(0, nil)
	if len(events) != 1 {
		t.Fatalf("events = %d, want 1", len(events))
	}
	if events[0].Source != "system" {
		t.Errorf("source = %q, want system", events[0].Source)
	}
	if got := eventText(t, events[0]); got != "invalid input type" {
		t.Errorf("text = %q, want %q", got, "invalid input type")
	}
	if !hasAllTags(events[0], []string{"error"}) {
		t.Errorf("tags = %v, want error", events[0].Meta.Tags)
	}
}

func TestHistoryEviction(t *testing.T) {
	h := newHistory(3)
	for i := 0; i < 5; i++ {
		event, err := sensory.NewEvent("user", "text", map[string]int{"n": i}, nil)
		if err != nil {
			t.Fatalf("NewEvent: %v", err)
		}
		h.add(event)
	}

	if h.size() != 3 {
		t.Fatalf("size = %d, want 3", h.size())
	}

	events := h.latest(0, nil)
	var first, last struct {
		N int `json:"n"`
	}
	if err := json.Unmarshal(events[0].Payload, &first); err != nil {
		t.Fatal(err)
	}
	if err := json.Unmarshal(events[len(events)-1].Payload, &last); err != nil {
		t.Fatal(err)
	}
	if first.N != 2 || last.N != 4 {
		t.Errorf("window = [%d..%d], want [2..4]", first.N, last.N)
	}
}

func TestHealthz(t *testing.T) {
	_, ts := newTestSink(t)

	resp, err := http.Get(ts.URL + "/healthz")
	if err != nil {
		t.Fatalf("GET /healthz: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("status = %d, want 200", resp.StatusCode)
	}
	body, _ := io.ReadAll(resp.Body)
	if strings.TrimSpace(string(body)) != "ok" {
		t.Errorf("body = %q, want ok", body)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	s, ts := newTestSink(t)

	s.handleInput("u", []byte(`{"type":"sensory","text":"x"}`))

	resp, err := http.Get(ts.URL + "/metrics")
	if err != nil {
		t.Fatalf("GET /metrics: %v", err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)

	for _, want := range []string{
		`sight_sink_messages_total{type="sensory"} 1`,
		`sight_sink_events_total 1`,
		`sight_sink_connected_clients 0`,
	} {
		if !strings.Contains(string(body), want) {
			t.Errorf("metrics output missing %q", want)
		}
	}
}

func TestServerCloseDisconnectsClients(t *testing.T) {
	s, ts := newTestSink(t)

	conn := dialGorilla(t, wsURL(ts))
	if err := conn.WriteMessage(websocket.TextMessage, []byte("viewer:test-token")); err != nil {
		t.Fatalf("write credential: %v", err)
	}
	waitForClients(t, s, 1)

	s.Close()

	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	if _, _, err := conn.ReadMessage(); err == nil {
		t.Fatal("ReadMessage() after Close = nil, want error")
	}
	if s.ClientCount() != 0 {
		t.Errorf("client count after Close = %d, want 0", s.ClientCount())
	}
}
