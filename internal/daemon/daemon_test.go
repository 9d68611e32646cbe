package daemon

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"net"
	"path/filepath"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"

	"github.com/victorarias/jelly-j/internal/config"
	"github.com/victorarias/jelly-j/internal/history"
	"github.com/victorarias/jelly-j/internal/modelruntime"
	"github.com/victorarias/jelly-j/internal/protocol"
	"github.com/victorarias/jelly-j/internal/queue"
	"github.com/victorarias/jelly-j/internal/registry"
)

func testSetup(t *testing.T, adapter modelruntime.Adapter) (*Daemon, *Server) {
	t.Helper()
	logger := logrus.New()
	logger.SetOutput(bytes.NewBuffer(nil))
	entry := logger.WithField("test", true)

	reg := registry.New(entry)
	q := queue.New()
	hist := history.Open(filepath.Join(t.TempDir(), "history.jsonl"))
	exec := &queue.Executor{Adapter: adapter, History: hist, Logger: entry}

	d := New(entry, reg, q, exec, hist, config.Default(), filepath.Join(t.TempDir(), "state.json"))
	srv := &Server{Daemon: d, Logger: entry}
	return d, srv
}

// pipeClient is a minimal in-memory stand-in for a UI client: it writes
// frames to one side of a net.Pipe and decodes responses from the other,
// without going through a real Unix socket file.
type pipeClient struct {
	conn net.Conn
	dec  *json.Decoder
}

func newPipeClient(conn net.Conn) *pipeClient {
	return &pipeClient{conn: conn, dec: json.NewDecoder(bufio.NewReader(conn))}
}

func (c *pipeClient) send(frame interface{}) {
	data, _ := json.Marshal(frame)
	data = append(data, '\n')
	_, _ = c.conn.Write(data)
}

func (c *pipeClient) recv(t *testing.T) map[string]interface{} {
	t.Helper()
	var raw map[string]interface{}
	if err := c.dec.Decode(&raw); err != nil {
		t.Fatalf("decode frame: %v", err)
	}
	return raw
}

func runActorAndServer(t *testing.T, d *Daemon, srv *Server) (context.Context, func()) {
	ctx, cancel := context.WithCancel(context.Background())
	go d.Run(ctx)
	return ctx, cancel
}

func TestHappyPathTurn(t *testing.T) {
	fake := &modelruntime.FakeAdapter{Scripted: []modelruntime.FakeTurn{
		{Texts: []string{"hi there"}, ResumeToken: "sess-1"},
	}}
	d, srv := testSetup(t, fake)
	ctx, cancel := runActorAndServer(t, d, srv)
	defer cancel()

	serverConn, clientConn := net.Pipe()
	go srv.handleConn(ctx, serverConn)
	c := newPipeClient(clientConn)
	defer clientConn.Close()

	c.send(protocol.RegisterClient{Type: protocol.TypeRegisterClient, ClientID: "c1"})

	registered := c.recv(t)
	require.Equal(t, "registered", registered["type"])
	require.Equal(t, "c1", registered["clientId"])
	require.Equal(t, "opus", registered["model"])
	require.Equal(t, false, registered["busy"])

	snapshot := c.recv(t)
	require.Equal(t, "history_snapshot", snapshot["type"])

	c.send(protocol.ChatRequest{Type: protocol.TypeChatRequest, RequestID: "r1", ClientID: "c1", Text: "hi"})

	start := c.recv(t)
	require.Equal(t, "chat_start", start["type"])
	require.Equal(t, "r1", start["requestId"])
	require.Equal(t, float64(0), start["queuedAhead"])

	var sawDelta, sawEnd bool
	for i := 0; i < 5 && !sawEnd; i++ {
		frame := c.recv(t)
		switch frame["type"] {
		case "chat_delta":
			sawDelta = true
		case "chat_end":
			sawEnd = true
			require.Equal(t, true, frame["ok"])
		}
	}
	require.True(t, sawDelta)
	require.True(t, sawEnd)
}

func TestProtocolErrorBeforeRegistration(t *testing.T) {
	fake := &modelruntime.FakeAdapter{}
	d, srv := testSetup(t, fake)
	ctx, cancel := runActorAndServer(t, d, srv)
	defer cancel()

	serverConn, clientConn := net.Pipe()
	go srv.handleConn(ctx, serverConn)
	c := newPipeClient(clientConn)
	defer clientConn.Close()

	c.send(protocol.ChatRequest{Type: protocol.TypeChatRequest, RequestID: "r1", ClientID: "c1", Text: "hi"})

	errFrame := c.recv(t)
	require.Equal(t, "error", errFrame["type"])
}

func TestPingPong(t *testing.T) {
	fake := &modelruntime.FakeAdapter{}
	d, srv := testSetup(t, fake)
	ctx, cancel := runActorAndServer(t, d, srv)
	defer cancel()

	serverConn, clientConn := net.Pipe()
	go srv.handleConn(ctx, serverConn)
	c := newPipeClient(clientConn)
	defer clientConn.Close()

	c.send(protocol.RegisterClient{Type: protocol.TypeRegisterClient, ClientID: "c1"})
	c.recv(t) // registered
	c.recv(t) // history_snapshot

	c.send(protocol.Ping{Type: protocol.TypePing, RequestID: "p1", ClientID: "c1"})
	pong := c.recv(t)
	require.Equal(t, "pong", pong["type"])
	require.Equal(t, "p1", pong["requestId"])
}

func TestSetModelBroadcastsAndIsIdempotent(t *testing.T) {
	fake := &modelruntime.FakeAdapter{}
	d, srv := testSetup(t, fake)
	ctx, cancel := runActorAndServer(t, d, srv)
	defer cancel()

	serverConn, clientConn := net.Pipe()
	go srv.handleConn(ctx, serverConn)
	c := newPipeClient(clientConn)
	defer clientConn.Close()

	c.send(protocol.RegisterClient{Type: protocol.TypeRegisterClient, ClientID: "c1"})
	c.recv(t)
	c.recv(t)

	c.send(protocol.SetModel{Type: protocol.TypeSetModel, RequestID: "m1", ClientID: "c1", Alias: "haiku"})
	first := c.recv(t)
	require.Equal(t, "model_updated", first["type"])
	require.Equal(t, "haiku", first["alias"])

	c.send(protocol.SetModel{Type: protocol.TypeSetModel, RequestID: "m2", ClientID: "c1", Alias: "haiku"})
	second := c.recv(t)
	require.Equal(t, "model_updated", second["type"])
	require.Equal(t, "haiku", second["alias"])
}

func TestGetConfigReturnsRunningTunables(t *testing.T) {
	fake := &modelruntime.FakeAdapter{}
	d, srv := testSetup(t, fake)
	ctx, cancel := runActorAndServer(t, d, srv)
	defer cancel()

	serverConn, clientConn := net.Pipe()
	go srv.handleConn(ctx, serverConn)
	c := newPipeClient(clientConn)
	defer clientConn.Close()

	c.send(protocol.RegisterClient{Type: protocol.TypeRegisterClient, ClientID: "c1"})
	c.recv(t)
	c.recv(t)

	c.send(protocol.GetConfig{Type: protocol.TypeGetConfig, RequestID: "g1", ClientID: "c1"})
	cfgFrame := c.recv(t)
	require.Equal(t, "config", cfgFrame["type"])
	require.Equal(t, float64(300), cfgFrame["heartbeatIntervalSeconds"])
}

func TestNewSessionAcknowledgesWhenIdle(t *testing.T) {
	fake := &modelruntime.FakeAdapter{}
	d, srv := testSetup(t, fake)
	ctx, cancel := runActorAndServer(t, d, srv)
	defer cancel()

	serverConn, clientConn := net.Pipe()
	go srv.handleConn(ctx, serverConn)
	c := newPipeClient(clientConn)
	defer clientConn.Close()

	c.send(protocol.RegisterClient{Type: protocol.TypeRegisterClient, ClientID: "c1"})
	c.recv(t)
	c.recv(t)

	c.send(protocol.NewSession{Type: protocol.TypeNewSession, RequestID: "n1", ClientID: "c1"})
	note := c.recv(t)
	require.Equal(t, "status_note", note["type"])
}

// gatedAdapter emits one text fragment and then holds the turn open until
// release is closed, so a test can act while the executor is busy.
type gatedAdapter struct {
	release chan struct{}
}

func (g *gatedAdapter) Chat(ctx context.Context, params modelruntime.ChatParams, cb modelruntime.Callbacks) (modelruntime.Result, error) {
	cb.OnText("still thinking")
	<-g.release
	return modelruntime.Result{ResumeToken: "sess-1"}, nil
}

func (g *gatedAdapter) Query(ctx context.Context, prompt, modelAlias string) (string, error) {
	return "", nil
}

func TestNewSessionRejectedWhileBusy(t *testing.T) {
	gate := &gatedAdapter{release: make(chan struct{})}
	defer close(gate.release)
	d, srv := testSetup(t, gate)
	ctx, cancel := runActorAndServer(t, d, srv)
	defer cancel()

	serverConn, clientConn := net.Pipe()
	go srv.handleConn(ctx, serverConn)
	c := newPipeClient(clientConn)
	defer clientConn.Close()

	c.send(protocol.RegisterClient{Type: protocol.TypeRegisterClient, ClientID: "c1"})
	c.recv(t)
	c.recv(t)

	c.send(protocol.ChatRequest{Type: protocol.TypeChatRequest, RequestID: "r1", ClientID: "c1", Text: "hi"})
	start := c.recv(t)
	require.Equal(t, "chat_start", start["type"])

	c.send(protocol.NewSession{Type: protocol.TypeNewSession, RequestID: "n1", ClientID: "c1"})
	// The held turn's chat_delta is queued before the rejection.
	errFrame := c.recv(t)
	for errFrame["type"] == "chat_delta" {
		errFrame = c.recv(t)
	}
	require.Equal(t, "error", errFrame["type"])
	require.Equal(t, "n1", errFrame["requestId"])
}

func TestDuplicateChatRequestIDIsRejected(t *testing.T) {
	fake := &modelruntime.FakeAdapter{Scripted: []modelruntime.FakeTurn{
		{Texts: []string{"hi there"}, ResumeToken: "sess-1"},
	}}
	d, srv := testSetup(t, fake)
	ctx, cancel := runActorAndServer(t, d, srv)
	defer cancel()

	serverConn, clientConn := net.Pipe()
	go srv.handleConn(ctx, serverConn)
	c := newPipeClient(clientConn)
	defer clientConn.Close()

	c.send(protocol.RegisterClient{Type: protocol.TypeRegisterClient, ClientID: "c1"})
	c.recv(t)
	c.recv(t)

	c.send(protocol.ChatRequest{Type: protocol.TypeChatRequest, RequestID: "r1", ClientID: "c1", Text: "hi"})
	start := c.recv(t)
	require.Equal(t, "chat_start", start["type"])

	c.send(protocol.ChatRequest{Type: protocol.TypeChatRequest, RequestID: "r1", ClientID: "c1", Text: "hi again"})

	// The rejection and the first turn's remaining frames are produced by
	// different goroutines (the actor vs. the running turn), so their
	// relative arrival order isn't guaranteed; collect until both show up.
	var sawError, sawEnd bool
	for i := 0; i < 10 && (!sawError || !sawEnd); i++ {
		frame := c.recv(t)
		switch frame["type"] {
		case "error":
			require.Equal(t, "r1", frame["requestId"])
			sawError = true
		case "chat_end":
			sawEnd = true
		}
	}
	require.True(t, sawError)
	require.True(t, sawEnd)
}
