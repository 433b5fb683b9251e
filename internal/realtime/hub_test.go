package realtime

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/joao-fontenele/bargainflow/internal/auth"
	"github.com/joao-fontenele/bargainflow/internal/domain"
	"github.com/joao-fontenele/bargainflow/internal/negotiation"
)

const sessionID = "8f14e45f-ceea-467f-a8f4-6f2b0b6c4a11"

type fakeEngine struct {
	hub *Hub
}

func (f *fakeEngine) Get(ctx context.Context, id string, caller negotiation.Caller) (negotiation.View, error) {
	if id != sessionID {
		return negotiation.View{}, negotiation.ErrSessionNotFound
	}
	if caller.ID != "customer-1" {
		return negotiation.View{}, negotiation.ErrForbidden
	}
	return negotiation.View{ID: id, Status: negotiation.StatusInProgress, AttemptsRemaining: 5}, nil
}

func (f *fakeEngine) Handle(ctx context.Context, p negotiation.Proposal) negotiation.Response {
	if p.ProposedPrice == nil {
		return negotiation.Response{SessionID: p.SessionID, Decision: negotiation.DecisionGreeting}
	}
	resp := negotiation.Response{SessionID: p.SessionID, Decision: negotiation.DecisionEncourage, AttemptsRemaining: 4}
	_ = f.hub.PublishNegotiationEvent(ctx, domain.NegotiationEvent{
		SessionID:    p.SessionID,
		Type:         domain.NegotiationEventProposal,
		DecisionKind: string(resp.Decision),
	})
	return resp
}

func newTestServer(t *testing.T) (*httptest.Server, *Hub) {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	hub := NewHub(logger)
	handler := NewHandler(hub, &fakeEngine{hub: hub}, nil, logger)

	mux := http.NewServeMux()
	mux.HandleFunc("GET /ws/negotiations/{id}", handler.HandleSubscribe)
	withCaller := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if id := r.Header.Get("X-Caller-ID"); id != "" {
			r = r.WithContext(auth.WithPrincipal(r.Context(), auth.Principal{ID: id, Role: auth.RoleCustomer}))
		}
		mux.ServeHTTP(w, r)
	})

	server := httptest.NewServer(withCaller)
	t.Cleanup(server.Close)
	return server, hub
}

func dial(t *testing.T, server *httptest.Server, id, callerID string) (*websocket.Conn, *http.Response, error) {
	t.Helper()
	url := "ws" + strings.TrimPrefix(server.URL, "http") + "/ws/negotiations/" + id
	header := http.Header{}
	header.Set("X-Caller-ID", callerID)
	return websocket.DefaultDialer.Dial(url, header)
}

func readFrame(t *testing.T, conn *websocket.Conn) Frame {
	t.Helper()
	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	_, data, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("failed to read frame: %v", err)
	}
	var f Frame
	if err := json.Unmarshal(data, &f); err != nil {
		t.Fatalf("failed to decode frame: %v", err)
	}
	return f
}

func TestHandler_HandleSubscribe(t *testing.T) {
	t.Run("sends the session then broadcast events", func(t *testing.T) {
		server, hub := newTestServer(t)

		conn, _, err := dial(t, server, sessionID, "customer-1")
		if err != nil {
			t.Fatalf("failed to dial: %v", err)
		}
		defer conn.Close()

		first := readFrame(t, conn)
		if first.Type != FrameSession || first.Session == nil || first.Session.ID != sessionID {
			t.Fatalf("expected session frame, got %+v", first)
		}
		if hub.Subscribers(sessionID) != 1 {
			t.Errorf("expected 1 subscriber, got %d", hub.Subscribers(sessionID))
		}

		price := int64(450000)
		err = hub.PublishNegotiationEvent(context.Background(), domain.NegotiationEvent{
			SessionID:  sessionID,
			Type:       domain.NegotiationEventAccepted,
			FinalPrice: &price,
		})
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}

		ev := readFrame(t, conn)
		if ev.Type != FrameEvent || ev.Event.Type != domain.NegotiationEventAccepted {
			t.Fatalf("expected accepted event, got %+v", ev)
		}
		if *ev.Event.FinalPrice != 450000 {
			t.Errorf("expected final price 450000, got %d", *ev.Event.FinalPrice)
		}
	})

	t.Run("inbound proposals are answered and broadcast", func(t *testing.T) {
		server, _ := newTestServer(t)

		conn, _, err := dial(t, server, sessionID, "customer-1")
		if err != nil {
			t.Fatalf("failed to dial: %v", err)
		}
		defer conn.Close()
		readFrame(t, conn)

		if err := conn.WriteJSON(map[string]any{"text": "300k?", "proposed_price": 300000}); err != nil {
			t.Fatalf("failed to write: %v", err)
		}

		seen := map[string]bool{}
		for i := 0; i < 2; i++ {
			f := readFrame(t, conn)
			seen[f.Type] = true
			if f.Type == FrameResponse && f.Response.Decision != negotiation.DecisionEncourage {
				t.Errorf("expected encourage, got %s", f.Response.Decision)
			}
		}
		if !seen[FrameResponse] || !seen[FrameEvent] {
			t.Errorf("expected response and event frames, got %v", seen)
		}
	})

	t.Run("malformed inbound frame yields an error frame", func(t *testing.T) {
		server, _ := newTestServer(t)

		conn, _, err := dial(t, server, sessionID, "customer-1")
		if err != nil {
			t.Fatalf("failed to dial: %v", err)
		}
		defer conn.Close()
		readFrame(t, conn)

		if err := conn.WriteMessage(websocket.TextMessage, []byte("{")); err != nil {
			t.Fatalf("failed to write: %v", err)
		}
		f := readFrame(t, conn)
		if f.Type != FrameError || f.Error.Code != "invalid_request" {
			t.Errorf("expected invalid_request error frame, got %+v", f)
		}
	})

	t.Run("refuses unknown sessions before upgrading", func(t *testing.T) {
		server, _ := newTestServer(t)

		_, resp, err := dial(t, server, "3b2f6a3e-0b7e-4f4e-9d1b-0a8d3c1e2f40", "customer-1")
		if err == nil {
			t.Fatal("expected dial to fail")
		}
		if resp == nil || resp.StatusCode != http.StatusNotFound {
			t.Errorf("expected status 404, got %v", resp)
		}
	})

	t.Run("refuses non-participants", func(t *testing.T) {
		server, _ := newTestServer(t)

		_, resp, err := dial(t, server, sessionID, "customer-2")
		if err == nil {
			t.Fatal("expected dial to fail")
		}
		if resp == nil || resp.StatusCode != http.StatusForbidden {
			t.Errorf("expected status 403, got %v", resp)
		}
	})

	t.Run("unsubscribes on disconnect", func(t *testing.T) {
		server, hub := newTestServer(t)

		conn, _, err := dial(t, server, sessionID, "customer-1")
		if err != nil {
			t.Fatalf("failed to dial: %v", err)
		}
		readFrame(t, conn)
		_ = conn.Close()

		deadline := time.Now().Add(5 * time.Second)
		for hub.Subscribers(sessionID) != 0 {
			if time.Now().After(deadline) {
				t.Fatal("subscriber was not removed")
			}
			time.Sleep(10 * time.Millisecond)
		}
	})
}

func TestHub_PublishDoesNotBlock(t *testing.T) {
	hub := NewHub(slog.New(slog.NewTextHandler(io.Discard, nil)))
	sub := hub.subscribe(sessionID)

	done := make(chan struct{})
	go func() {
		for i := 0; i < sendBuffer*3; i++ {
			_ = hub.PublishNegotiationEvent(context.Background(), domain.NegotiationEvent{SessionID: sessionID})
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("publish blocked on a slow subscriber")
	}
	if len(sub.send) != sendBuffer {
		t.Errorf("expected buffer to be full at %d, got %d", sendBuffer, len(sub.send))
	}

	hub.unsubscribe(sub)
	hub.unsubscribe(sub)
	if hub.Subscribers(sessionID) != 0 {
		t.Errorf("expected no subscribers, got %d", hub.Subscribers(sessionID))
	}
}
