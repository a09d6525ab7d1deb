package ws_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/ambspc/spcengine/pkg/spc"
	"github.com/ambspc/spcengine/server/internal/alerts"
	"github.com/ambspc/spcengine/server/internal/store"
	wsHub "github.com/ambspc/spcengine/server/internal/ws"
)

const testInterval = 20 * time.Millisecond

// --- helpers ----------------------------------------------------------------

type fakeAlerts []*alerts.Alert

func (f fakeAlerts) Active() []*alerts.Alert { return f }

func newStore(t *testing.T, dps ...store.DataPoint) store.Store {
	t.Helper()
	st := store.NewMemory()
	for _, dp := range dps {
		if _, err := st.AddDataPoint(context.Background(), dp); err != nil {
			t.Fatalf("AddDataPoint: %v", err)
		}
	}
	return st
}

func point(param string, status spc.Status) store.DataPoint {
	return store.DataPoint{
		ParameterID: param,
		Value:       70,
		Status:      status,
		Zone:        spc.ZoneNormal,
		MeasuredAt:  time.Now().UTC(),
	}
}

// startHub starts a test HTTP server with the hub as its handler.
// The hub's Run loop is started with a cancellable context.
// Returns the ws:// URL, the hub, and a cleanup function.
func startHub(t *testing.T, st store.Store) (wsURL string, hub *wsHub.Hub, cancel func()) {
	t.Helper()

	sources := store.NewSources(time.Minute)
	sources.Put(store.SourceStatus{SourceID: "line-1", State: "reachable"})
	hub = wsHub.New(st, fakeAlerts{{ID: "a1", State: alerts.StateFiring}}, sources, testInterval)
	ctx, cancelFn := context.WithCancel(context.Background())

	srv := httptest.NewServer(http.HandlerFunc(hub.ServeHTTP))
	go hub.Run(ctx)

	t.Cleanup(func() {
		cancelFn()
		srv.Close()
	})

	wsURL = "ws" + strings.TrimPrefix(srv.URL, "http")
	return wsURL, hub, cancelFn
}

func decodeMessage(t *testing.T, msg []byte) wsHub.Message {
	t.Helper()
	var m wsHub.Message
	if err := json.Unmarshal(msg, &m); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	return m
}

// dial connects a WebSocket client to wsURL and returns the connection.
func dial(t *testing.T, wsURL string) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial %s: %v", wsURL, err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

// readMessage reads one text message from conn with a short deadline.
func readMessage(t *testing.T, conn *websocket.Conn) []byte {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, msg, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("ReadMessage: %v", err)
	}
	return msg
}

// --- tests ------------------------------------------------------------------

func TestHub_Connect_ReceivesImmediateDashboard(t *testing.T) {
	wsURL, _, _ := startHub(t, newStore(t, point("SPC-TEMP", spc.StatusInControl)))

	conn := dial(t, wsURL)
	msg := readMessage(t, conn)

	var m map[string]interface{}
	if err := json.Unmarshal(msg, &m); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if m["event"] != "dashboard" {
		t.Errorf("event: got %v, want dashboard", m["event"])
	}
	data, ok := m["data"].(map[string]interface{})
	if !ok {
		t.Fatal("data: missing or wrong type")
	}
	if data["generated_at"] == nil || data["generated_at"] == "" {
		t.Error("generated_at: missing")
	}
}

func TestHub_MessageContainsDashboard(t *testing.T) {
	st := newStore(t,
		point("SPC-TEMP", spc.StatusInControl),
		point("SPC-TEMP", spc.StatusOutOfControl),
		point("SPC-PH", spc.StatusInControl),
	)
	wsURL, _, _ := startHub(t, st)

	m := decodeMessage(t, readMessage(t, dial(t, wsURL)))
	if len(m.Data.DataPoints) != 3 {
		t.Errorf("data_points: got %d, want 3", len(m.Data.DataPoints))
	}
	if m.Data.Counts[spc.StatusInControl] != 2 || m.Data.Counts[spc.StatusOutOfControl] != 1 {
		t.Errorf("counts: got %v", m.Data.Counts)
	}
	if len(m.Data.Alerts) != 1 || m.Data.Alerts[0].ID != "a1" {
		t.Errorf("alerts: got %+v", m.Data.Alerts)
	}
	if len(m.Data.Sources) != 1 || m.Data.Sources[0].SourceID != "line-1" {
		t.Errorf("sources: got %+v", m.Data.Sources)
	}
}

func TestHub_EmptyStore_EmptyDataPoints(t *testing.T) {
	wsURL, _, _ := startHub(t, newStore(t))
	msg := readMessage(t, dial(t, wsURL))

	var m map[string]interface{}
	json.Unmarshal(msg, &m) //nolint:errcheck
	data := m["data"].(map[string]interface{})
	dps, ok := data["data_points"].([]interface{})
	if !ok {
		t.Fatalf("data_points: want an array, got %T", data["data_points"])
	}
	if len(dps) != 0 {
		t.Errorf("data_points: got %d, want 0", len(dps))
	}
}

func TestHub_CountClients_SingleClient(t *testing.T) {
	wsURL, hub, _ := startHub(t, newStore(t))

	conn := dial(t, wsURL)
	readMessage(t, conn) // consume initial message

	// Give the hub a moment to register the client.
	time.Sleep(10 * time.Millisecond)
	if n := hub.Count(); n != 1 {
		t.Errorf("Count: got %d, want 1", n)
	}
}

func TestHub_CountClients_MultipleClients(t *testing.T) {
	wsURL, hub, _ := startHub(t, newStore(t))

	for i := 0; i < 3; i++ {
		conn := dial(t, wsURL)
		readMessage(t, conn)
	}

	time.Sleep(10 * time.Millisecond)
	if n := hub.Count(); n != 3 {
		t.Errorf("Count: got %d, want 3", n)
	}
}

func TestHub_CountClients_DecreasesOnDisconnect(t *testing.T) {
	wsURL, hub, _ := startHub(t, newStore(t))

	conn := dial(t, wsURL)
	readMessage(t, conn)
	time.Sleep(10 * time.Millisecond)

	if n := hub.Count(); n != 1 {
		t.Errorf("Count before disconnect: got %d, want 1", n)
	}

	conn.Close()
	time.Sleep(50 * time.Millisecond) // let readPump detect the close

	if n := hub.Count(); n != 0 {
		t.Errorf("Count after disconnect: got %d, want 0", n)
	}
}

func TestHub_ReceivesBroadcastOnTick(t *testing.T) {
	st := newStore(t)
	wsURL, _, _ := startHub(t, st)

	conn := dial(t, wsURL)
	readMessage(t, conn) // consume immediate dashboard (empty store)

	if _, err := st.AddDataPoint(context.Background(), point("SPC-NEW", spc.StatusInControl)); err != nil {
		t.Fatal(err)
	}

	// A later tick carries the new point.
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		m := decodeMessage(t, readMessage(t, conn))
		if len(m.Data.DataPoints) == 1 {
			if m.Data.DataPoints[0].ParameterID != "SPC-NEW" {
				t.Errorf("parameter_id: got %v, want SPC-NEW", m.Data.DataPoints[0].ParameterID)
			}
			return
		}
	}
	t.Fatal("no broadcast carried the new data point")
}

func TestHub_AllClientsReceiveBroadcast(t *testing.T) {
	wsURL, _, _ := startHub(t, newStore(t, point("SPC-TEMP", spc.StatusInControl)))

	conns := make([]*websocket.Conn, 3)
	for i := 0; i < 3; i++ {
		conns[i] = dial(t, wsURL)
	}

	for i, conn := range conns {
		m := decodeMessage(t, readMessage(t, conn))
		if m.Event != "dashboard" {
			t.Errorf("client %d: event: got %v, want dashboard", i, m.Event)
		}
	}
}

func TestHub_CancelContextClosesConnections(t *testing.T) {
	wsURL, hub, cancel := startHub(t, newStore(t))

	conn := dial(t, wsURL)
	readMessage(t, conn)
	time.Sleep(10 * time.Millisecond)

	cancel() // signal shutdown

	time.Sleep(50 * time.Millisecond)
	if n := hub.Count(); n != 0 {
		t.Errorf("Count after cancel: got %d, want 0", n)
	}
}

func TestHub_NonWebSocketRequest_Returns400(t *testing.T) {
	hub := wsHub.New(newStore(t), nil, nil, testInterval)
	srv := httptest.NewServer(http.HandlerFunc(hub.ServeHTTP))
	defer srv.Close()

	// Plain HTTP GET without WebSocket upgrade headers gives 400.
	resp, err := http.Get(srv.URL)
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("status: got %d, want 400", resp.StatusCode)
	}
}
