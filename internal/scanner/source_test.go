package scanner_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/juliana/internal/rfid"
	"github.com/noah-isme/juliana/internal/scanner"
)

func bridge(t *testing.T, frames ...string) (*httptest.Server, *atomic.Int32) {
	t.Helper()
	var conns atomic.Int32
	upgrader := websocket.Upgrader{Subprotocols: []string{"nfc"}}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		if conn.Subprotocol() != "nfc" {
			return
		}
		if conns.Add(1) > 1 {
			// Keep later connections open until the client goes away.
			_, _, _ = conn.ReadMessage()
			return
		}
		for _, f := range frames {
			if err := conn.WriteMessage(websocket.TextMessage, []byte(f)); err != nil {
				return
			}
		}
		_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, "bye"))
	}))
	t.Cleanup(srv.Close)
	return srv, &conns
}

func next(t *testing.T, events <-chan scanner.Event) scanner.Event {
	t.Helper()
	select {
	case ev := <-events:
		return ev
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for scanner event")
		return scanner.Event{}
	}
}

func TestSourceDeliversScansAndReconnects(t *testing.T) {
	srv, conns := bridge(t,
		`{"atqa":"00:04","sak":"08","uid":"de:ad:be:ef"}`,
		`{"atqa":"ff:ff","sak":"00","uid":"01"}`,
	)
	src := &scanner.Source{
		URL:         "ws" + strings.TrimPrefix(srv.URL, "http"),
		Subprotocol: "nfc",
		RetryBase:   5 * time.Millisecond,
		RetryMax:    20 * time.Millisecond,
		Logger:      zerolog.Nop(),
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	events := make(chan scanner.Event, 8)
	done := make(chan error, 1)
	go func() { done <- src.Run(ctx, events) }()

	require.Equal(t, scanner.Connected, next(t, events).Kind)

	scan := next(t, events)
	require.Equal(t, scanner.Scan, scan.Kind)
	require.Equal(t, rfid.Card{ATQA: "00:04", SAK: "08", UID: "de:ad:be:ef"}, scan.Card)

	rejected := next(t, events)
	require.Equal(t, scanner.Rejected, rejected.Kind)
	require.ErrorIs(t, rejected.Err, rfid.ErrInvalidCard)

	lost := next(t, events)
	require.Equal(t, scanner.Disconnected, lost.Kind)
	require.Error(t, lost.Err)

	require.Equal(t, scanner.Connected, next(t, events).Kind)
	require.Eventually(t, src.Connected, time.Second, 5*time.Millisecond)
	require.EqualValues(t, 2, conns.Load())

	cancel()
	select {
	case err := <-done:
		require.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("source did not stop")
	}
	require.False(t, src.Connected())
}

func TestSourceReportsOutageOnce(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	srv.Close()

	src := &scanner.Source{URL: url, RetryBase: time.Millisecond, RetryMax: 2 * time.Millisecond, Logger: zerolog.Nop()}
	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	events := make(chan scanner.Event, 16)
	err := src.Run(ctx, events)
	require.ErrorIs(t, err, context.DeadlineExceeded)
	close(events)

	var kinds []scanner.Kind
	for ev := range events {
		kinds = append(kinds, ev.Kind)
	}
	require.Equal(t, []scanner.Kind{scanner.Disconnected}, kinds)
}
