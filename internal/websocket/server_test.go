package websocket

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/yegors/ridscan/pkg/logger"
)

type signalHandler struct {
	seen chan string
}

func (h *signalHandler) HandleMessage(client *Client, messageType string, data map[string]any) error {
	h.seen <- messageType
	return nil
}

func startHub(t *testing.T) (*Server, *signalHandler, string, context.CancelFunc) {
	t.Helper()
	s := NewServer(logger.NewNop())
	h := &signalHandler{seen: make(chan string, 8)}
	s.SetMessageHandler(h)

	ctx, cancel := context.WithCancel(context.Background())
	go s.Run(ctx)

	srv := httptest.NewServer(http.HandlerFunc(s.HandleConnection))
	t.Cleanup(func() {
		cancel()
		srv.Close()
	})
	return s, h, "ws" + strings.TrimPrefix(srv.URL, "http"), cancel
}

func dial(t *testing.T, s *Server, url string, want int) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("Dial failed: %v", err)
	}
	t.Cleanup(func() { conn.Close() })

	deadline := time.Now().Add(2 * time.Second)
	for s.ClientCount() != want {
		if time.Now().After(deadline) {
			t.Fatalf("Expected %d clients, got %d", want, s.ClientCount())
		}
		time.Sleep(5 * time.Millisecond)
	}
	return conn
}

func readType(t *testing.T, conn *websocket.Conn) string {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var msg Message
	if err := conn.ReadJSON(&msg); err != nil {
		t.Fatalf("ReadJSON failed: %v", err)
	}
	return msg.Type
}

func TestBroadcastReachesClients(t *testing.T) {
	s, _, url, _ := startHub(t)
	a := dial(t, s, url, 1)
	b := dial(t, s, url, 2)

	s.Broadcast(&Message{Type: MessageTypeDetectionsUpdated, Data: map[string]any{"count": 1}})

	for _, conn := range []*websocket.Conn{a, b} {
		if got := readType(t, conn); got != MessageTypeDetectionsUpdated {
			t.Errorf("Expected %s, got %s", MessageTypeDetectionsUpdated, got)
		}
	}
}

func TestSubscribeFiltersTopics(t *testing.T) {
	s, h, url, _ := startHub(t)
	conn := dial(t, s, url, 1)

	if err := conn.WriteJSON(Message{Type: MessageTypeSubscribe, Data: map[string]any{"topics": []string{"aircraft"}}}); err != nil {
		t.Fatalf("WriteJSON failed: %v", err)
	}
	// Messages are read in order, so once the handler sees this the subscription is in place
	if err := conn.WriteJSON(Message{Type: MessageTypeSnapshotRequest}); err != nil {
		t.Fatalf("WriteJSON failed: %v", err)
	}
	select {
	case got := <-h.seen:
		if got != MessageTypeSnapshotRequest {
			t.Fatalf("Expected handler to see %s, got %s", MessageTypeSnapshotRequest, got)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Handler never saw the request")
	}

	s.Broadcast(&Message{Type: MessageTypeDetectionsUpdated})
	s.Broadcast(&Message{Type: MessageTypeAircraftFetchError})
	s.Broadcast(&Message{Type: MessageTypeAircraftUpdated})

	// Errors are always delivered, detections are filtered out
	if got := readType(t, conn); got != MessageTypeAircraftFetchError {
		t.Errorf("Expected %s first, got %s", MessageTypeAircraftFetchError, got)
	}
	if got := readType(t, conn); got != MessageTypeAircraftUpdated {
		t.Errorf("Expected %s second, got %s", MessageTypeAircraftUpdated, got)
	}
}

func TestRunStopClosesClients(t *testing.T) {
	s, _, url, cancel := startHub(t)
	conn := dial(t, s, url, 1)

	cancel()

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	if _, _, err := conn.ReadMessage(); err == nil {
		t.Fatal("Expected the connection to be closed")
	}
	if s.ClientCount() != 0 {
		t.Errorf("Expected no clients after stop, got %d", s.ClientCount())
	}
}
