package ws_test

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

	"github.com/evetabi/tradesim/internal/config"
	"github.com/evetabi/tradesim/internal/domain"
	"github.com/evetabi/tradesim/internal/service"
	"github.com/evetabi/tradesim/internal/ws"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/shopspring/decimal"
)

func setupHub(t *testing.T) (*ws.Hub, *service.AuthService, *httptest.Server) {
	t.Helper()
	auth := service.NewAuthService(config.JWTConfig{AccessSecret: "test-secret"})
	hub := ws.NewHub(auth, nil, slog.New(slog.NewTextHandler(io.Discard, nil)))

	ctx, cancel := context.WithCancel(context.Background())
	go func() { _ = hub.Run(ctx) }()

	srv := httptest.NewServer(http.HandlerFunc(hub.ServeWs))
	t.Cleanup(func() {
		srv.Close()
		cancel()
	})
	return hub, auth, srv
}

func dial(t *testing.T, srv *httptest.Server, token string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/?token=" + token
	conn, resp, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	resp.Body.Close()
	t.Cleanup(func() { conn.Close() })
	return conn
}

func waitConnected(t *testing.T, hub *ws.Hub, n int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for hub.ConnectedCount() != n {
		if time.Now().After(deadline) {
			t.Fatalf("ConnectedCount = %d, want %d", hub.ConnectedCount(), n)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func readJSON(t *testing.T, conn *websocket.Conn, v interface{}) {
	t.Helper()
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		t.Fatalf("unmarshal %s: %v", data, err)
	}
}

func TestHub_RejectsMissingToken(t *testing.T) {
	_, _, srv := setupHub(t)

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/"
	_, resp, err := websocket.DefaultDialer.Dial(url, nil)
	if err == nil {
		t.Fatal("dial without token succeeded")
	}
	if resp == nil || resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("status = %v, want 401", resp)
	}
}

func TestHub_DeliversOnlyToOwner(t *testing.T) {
	hub, auth, srv := setupHub(t)

	alice, bob := uuid.New(), uuid.New()
	aliceTok, _ := auth.IssueAccessToken(alice, "user", time.Hour)
	bobTok, _ := auth.IssueAccessToken(bob, "user", time.Hour)

	aliceConn := dial(t, srv, aliceTok)
	bobConn := dial(t, srv, bobTok)
	waitConnected(t, hub, 2)

	posID := uuid.New()
	hub.BroadcastValuations([]domain.Valuation{{
		PositionID:   posID,
		UserID:       alice,
		Symbol:       "XAUUSD",
		CurrentPrice: decimal.RequireFromString("2660"),
		PnL:          decimal.RequireFromString("10"),
	}})

	var msg ws.ValuationsMessage
	readJSON(t, aliceConn, &msg)
	if msg.Type != ws.MsgTypeValuations {
		t.Errorf("type = %q, want valuations", msg.Type)
	}
	if len(msg.Positions) != 1 || msg.Positions[0].PositionID != posID {
		t.Errorf("positions = %+v", msg.Positions)
	}

	// bob must only see his own event
	if err := hub.Send(context.Background(), domain.Event{
		Kind:         domain.EventPayout,
		UserID:       bob,
		Amount:       decimal.RequireFromString("5"),
		BalanceAfter: decimal.RequireFromString("105"),
	}); err != nil {
		t.Fatalf("Send: %v", err)
	}

	var ev ws.EventMessage
	readJSON(t, bobConn, &ev)
	if ev.Type != ws.MsgTypePayout {
		t.Errorf("bob got %q, want payout", ev.Type)
	}
	if ev.BalanceAfter.StringFixed(2) != "105.00" {
		t.Errorf("balance_after = %s", ev.BalanceAfter)
	}
}

func TestHub_UnregistersOnClose(t *testing.T) {
	hub, auth, srv := setupHub(t)

	tok, _ := auth.IssueAccessToken(uuid.New(), "user", time.Hour)
	conn := dial(t, srv, tok)
	waitConnected(t, hub, 1)

	conn.Close()
	waitConnected(t, hub, 0)
}

func TestNewEventMessage(t *testing.T) {
	id := uuid.New()
	msg := ws.NewEventMessage(domain.Event{
		Kind:       domain.EventPositionClosed,
		PositionID: &id,
		Symbol:     "XAUUSD",
		Reason:     "stop_loss",
		Amount:     decimal.RequireFromString("-12"),
	})
	if msg.Type != ws.MsgTypePositionClosed || *msg.PositionID != id || msg.Reason != "stop_loss" {
		t.Errorf("NewEventMessage = %+v", msg)
	}
}
