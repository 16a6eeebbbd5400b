package render

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	ws "github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/markerlens/tracker/internal/cache"
	"github.com/markerlens/tracker/internal/dispatcher"
	"github.com/markerlens/tracker/pkg/core"
	"github.com/markerlens/tracker/pkg/streaming"
)

type recordingDispatcher struct {
	mu     sync.Mutex
	events []dispatcher.Event
}

func (d *recordingDispatcher) Dispatch(e dispatcher.Event) (any, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.events = append(d.events, e)
	return "ok", nil
}

func (d *recordingDispatcher) all() []dispatcher.Event {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]dispatcher.Event(nil), d.events...)
}

func newTestServer(t *testing.T, d Dispatcher) (*Server, *httptest.Server) {
	t.Helper()
	s := NewServer(d, func() any { return map[string]any{"sessionId": "s-1"} }, nil)
	srv := httptest.NewServer(s.Handler())
	t.Cleanup(func() {
		_ = s.Close()
		srv.Close()
	})
	return s, srv
}

func dial(t *testing.T, srv *httptest.Server) *ws.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
	conn, _, err := ws.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

type envelope struct {
	Type         string                   `json:"type"`
	Seq          uint64                   `json:"seq"`
	Instructions []core.RenderInstruction `json:"instructions"`
	Assets       []streaming.CatalogEntry `json:"assets"`
}

func readEnvelope(t *testing.T, conn *ws.Conn) envelope {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)
	var env envelope
	require.NoError(t, json.Unmarshal(data, &env))
	return env
}

var entries = []cache.AssetEntry{
	{Handle: 0, Asset: core.MarkerAsset{ID: "A", MediaLocator: "http://cdn/a.mp4", DisplayName: "Ad A"}},
	{Handle: 1, Asset: core.MarkerAsset{ID: "B", MediaLocator: "http://cdn/b.mp4", DisplayName: "Ad B"}},
}

func playA() []core.RenderInstruction {
	return []core.RenderInstruction{{
		MarkerID: "A", Handle: 0, MediaLocator: "http://cdn/a.mp4", Visible: true,
		Region: core.Region{X: 10, Y: 10, Width: 20, Height: 20}, Command: core.CommandPlay,
	}}
}

func TestServer_GreetsWithCatalogAndLatestFrame(t *testing.T) {
	s, srv := newTestServer(t, nil)
	s.PublishCatalog(entries)
	require.NoError(t, s.Render(playA()))

	conn := dial(t, srv)

	cat := readEnvelope(t, conn)
	assert.Equal(t, streaming.TypeCatalog, cat.Type)
	require.Len(t, cat.Assets, 2)
	assert.Equal(t, "B", cat.Assets[1].ID)
	assert.Equal(t, core.Handle(1), cat.Assets[1].Handle)
	assert.Equal(t, "Ad B", cat.Assets[1].Name)

	frame := readEnvelope(t, conn)
	assert.Equal(t, streaming.TypeRender, frame.Type)
	assert.Equal(t, uint64(1), frame.Seq)
	require.Len(t, frame.Instructions, 1)
	assert.Equal(t, core.CommandPlay, frame.Instructions[0].Command)
}

func TestServer_BroadcastsChangedFramesOnly(t *testing.T) {
	s, srv := newTestServer(t, nil)
	conn := dial(t, srv)
	require.Eventually(t, func() bool { return s.Clients() == 1 }, time.Second, 5*time.Millisecond)

	require.NoError(t, s.Render(playA()))
	placed := playA()
	placed[0].Command = core.CommandNone
	for i := 0; i < 5; i++ {
		require.NoError(t, s.Render(placed))
	}
	moved := playA()
	moved[0].Command = core.CommandNone
	moved[0].Region.X = 50
	require.NoError(t, s.Render(moved))

	f1 := readEnvelope(t, conn)
	f2 := readEnvelope(t, conn)
	f3 := readEnvelope(t, conn)

	assert.Equal(t, core.CommandPlay, f1.Instructions[0].Command)
	assert.Equal(t, core.CommandNone, f2.Instructions[0].Command)
	assert.Equal(t, 50.0, f3.Instructions[0].Region.X)
	assert.Equal(t, []uint64{1, 2, 3}, []uint64{f1.Seq, f2.Seq, f3.Seq})
}

func TestServer_EmptySetIsSentAsArray(t *testing.T) {
	s, srv := newTestServer(t, nil)
	conn := dial(t, srv)
	require.Eventually(t, func() bool { return s.Clients() == 1 }, time.Second, 5*time.Millisecond)

	require.NoError(t, s.Render(nil))

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)
	assert.Contains(t, string(data), `"instructions":[]`)
}

func TestServer_PlaybackMessagesAreDispatched(t *testing.T) {
	d := &recordingDispatcher{}
	_, srv := newTestServer(t, d)
	conn := dial(t, srv)

	msgs := []string{
		`{"type":"playback","event":"ended","id":"A"}`,
		`{"type":"playback","event":"error","id":"B"}`,
		`{"type":"playback","event":"paused","id":"C"}`,
		`{"type":"playback","event":"ended"}`,
		`{"type":"hello"}`,
		`not json`,
	}
	for _, m := range msgs {
		require.NoError(t, conn.WriteMessage(ws.TextMessage, []byte(m)))
	}

	require.Eventually(t, func() bool { return len(d.all()) == 2 }, 2*time.Second, 5*time.Millisecond)
	time.Sleep(50 * time.Millisecond)

	events := d.all()
	require.Len(t, events, 2)
	assert.Equal(t, "playback:ended", events[0].Command)
	assert.Equal(t, "A", events[0].Arg(0))
	assert.Equal(t, "playback:error", events[1].Command)
	assert.Equal(t, "B", events[1].Arg(0))
	assert.Equal(t, "render-ws", events[0].Source)
}

func TestServer_HealthAndStatus(t *testing.T) {
	s, srv := newTestServer(t, nil)
	dial(t, srv)
	require.Eventually(t, func() bool { return s.Clients() == 1 }, time.Second, 5*time.Millisecond)

	resp, err := http.Get(srv.URL + "/healthz")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, err = http.Get(srv.URL + "/status")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, "application/json", resp.Header.Get("Content-Type"))

	var body map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, float64(1), body["renderClients"])
	assert.Equal(t, "s-1", body["session"].(map[string]any)["sessionId"])
}

func TestServer_CloseDisconnectsClients(t *testing.T) {
	s, srv := newTestServer(t, nil)
	conn := dial(t, srv)
	require.Eventually(t, func() bool { return s.Clients() == 1 }, time.Second, 5*time.Millisecond)

	require.NoError(t, s.Close())
	require.NoError(t, s.Close())

	assert.Zero(t, s.Clients())
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, _, err := conn.ReadMessage()
	assert.Error(t, err)

	assert.NoError(t, s.Render(playA()), "render after close is a no-op")
}

func TestServer_StartAndAddr(t *testing.T) {
	s := NewServer(nil, nil, nil)
	assert.Empty(t, s.Addr())
	require.NoError(t, s.Start("127.0.0.1:0"))
	t.Cleanup(func() { _ = s.Close() })

	resp, err := http.Get("http://" + s.Addr() + "/healthz")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestServer_OutboxFull(t *testing.T) {
	// no broadcaster draining the outbox
	s := &Server{outbox: make(chan []byte, 1), done: make(chan struct{})}
	require.NoError(t, s.enqueue([]byte("a")))
	assert.ErrorIs(t, s.enqueue([]byte("b")), ErrOutboxFull)
	assert.Equal(t, uint64(1), s.Dropped())

	close(s.done)
	assert.NoError(t, s.enqueue([]byte("c")))
}
