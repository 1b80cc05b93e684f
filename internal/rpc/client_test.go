package rpc_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/juliana/internal/resilience"
	"github.com/noah-isme/juliana/internal/rfid"
	"github.com/noah-isme/juliana/internal/rpc"
)

type recorded struct {
	JSONRPC string          `json:"jsonrpc"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params"`
	ID      int             `json:"id"`
	CSRF    string          `json:"-"`
}

func newServer(t *testing.T, status int, reply string) (*httptest.Server, chan recorded) {
	t.Helper()
	requests := make(chan recorded, 4)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var rec recorded
		_ = json.NewDecoder(r.Body).Decode(&rec)
		rec.CSRF = r.Header.Get("X-CSRFToken")
		requests <- rec
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_, _ = w.Write([]byte(reply))
	}))
	t.Cleanup(srv.Close)
	return srv, requests
}

func newClient(srv *httptest.Server) *rpc.Client {
	doer := resilience.HTTPClient{Client: srv.Client(), Logger: zerolog.Nop()}
	return &rpc.Client{
		Endpoint: srv.URL,
		HTTP:     doer,
		Headers:  http.Header{"X-CSRFToken": []string{"token"}},
		Timeout:  time.Second,
		Logger:   zerolog.Nop(),
	}
}

var card = rfid.Card{ATQA: "00:04", SAK: "08", UID: "de:ad:be:ef"}

func TestLookupCard(t *testing.T) {
	srv, requests := newServer(t, http.StatusOK, `{"jsonrpc":"2.0","id":1,"result":{"user":{"id":7,"first_name":"Ada","last_name":"Lovelace","username":"ada"},"authorization":{"id":3}}}`)
	client := newClient(srv)

	user, err := client.LookupCard(context.Background(), 42, card)
	require.NoError(t, err)
	require.Equal(t, rpc.User{ID: 7, FirstName: "Ada", LastName: "Lovelace", Username: "ada"}, user)

	rec := <-requests
	require.Equal(t, "2.0", rec.JSONRPC)
	require.Equal(t, rpc.MethodRFIDGet, rec.Method)
	require.Equal(t, 1, rec.ID)
	require.Equal(t, "token", rec.CSRF)
	require.JSONEq(t, `{"event_id":42,"rfid":{"atqa":"00:04","sak":"08","uid":"de:ad:be:ef"}}`, string(rec.Params))
}

func TestLookupCardServerError(t *testing.T) {
	srv, _ := newServer(t, http.StatusOK, `{"jsonrpc":"2.0","id":1,"error":{"code":-32602,"message":"RFID card not found"}}`)
	_, err := newClient(srv).LookupCard(context.Background(), 42, card)

	var rpcErr *rpc.Error
	require.ErrorAs(t, err, &rpcErr)
	require.Equal(t, "RFID card not found", rpcErr.Message)
	require.Equal(t, -32602, rpcErr.Code)
	require.NotErrorIs(t, err, rpc.ErrTransport)
}

func TestCheckSpend(t *testing.T) {
	srv, requests := newServer(t, http.StatusOK, `{"jsonrpc":"2.0","id":1,"result":1250}`)
	cents, err := newClient(srv).CheckSpend(context.Background(), 42, 7)
	require.NoError(t, err)
	require.EqualValues(t, 1250, cents)

	rec := <-requests
	require.Equal(t, rpc.MethodUserCheck, rec.Method)
	require.JSONEq(t, `{"event_id":42,"user_id":7}`, string(rec.Params))
}

func TestSaveOrder(t *testing.T) {
	srv, requests := newServer(t, http.StatusOK, `{"jsonrpc":"2.0","id":1,"result":true}`)
	err := newClient(srv).SaveOrder(context.Background(), 42, 7, []rpc.Purchase{{Product: 1, Amount: 2, Price: 170}}, card)
	require.NoError(t, err)

	rec := <-requests
	require.Equal(t, rpc.MethodOrderSave, rec.Method)
	require.JSONEq(t, `{"event_id":42,"user_id":7,"purchases":[{"product":1,"amount":2,"price":170}],"rfid_data":{"atqa":"00:04","sak":"08","uid":"de:ad:be:ef"}}`, string(rec.Params))
}

func TestSaveOrderErrorOnServerFailureStatus(t *testing.T) {
	srv, _ := newServer(t, http.StatusInternalServerError, `{"jsonrpc":"2.0","id":1,"error":{"message":"timeout"}}`)
	err := newClient(srv).SaveOrder(context.Background(), 42, 7, nil, card)
	require.EqualError(t, err, "timeout")
}

func TestBareStringError(t *testing.T) {
	srv, _ := newServer(t, http.StatusOK, `{"jsonrpc":"2.0","id":1,"error":"Price for product 1 is incorrect"}`)
	err := newClient(srv).SaveOrder(context.Background(), 42, 7, nil, card)
	var rpcErr *rpc.Error
	require.ErrorAs(t, err, &rpcErr)
	require.Equal(t, "Price for product 1 is incorrect", rpcErr.Message)
}

func TestTransportFailures(t *testing.T) {
	srv, _ := newServer(t, http.StatusBadGateway, `<html>bad gateway</html>`)
	_, err := newClient(srv).CheckSpend(context.Background(), 42, 7)
	require.ErrorIs(t, err, rpc.ErrTransport)

	srv, _ = newServer(t, http.StatusOK, `{"jsonrpc":"2.0","id":1,"result":null}`)
	_, err = newClient(srv).LookupCard(context.Background(), 42, card)
	require.ErrorIs(t, err, rpc.ErrTransport)

	_, err = (&rpc.Client{Endpoint: "http://127.0.0.1:1"}).CheckSpend(context.Background(), 42, 7)
	require.ErrorIs(t, err, rpc.ErrTransport)
}

func TestTimeoutTakesFailurePath(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	}))
	t.Cleanup(srv.Close)

	client := newClient(srv)
	client.Timeout = 30 * time.Millisecond
	_, err := client.LookupCard(context.Background(), 42, card)
	require.ErrorIs(t, err, rpc.ErrTransport)
}

func TestOrdersDoerIsUsedForSaveOrder(t *testing.T) {
	var reads, orders atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"jsonrpc":"2.0","id":1,"result":true}`))
	}))
	t.Cleanup(srv.Close)

	client := &rpc.Client{
		Endpoint: srv.URL,
		HTTP:     countingDoer{inner: srv.Client(), n: &reads},
		Orders:   countingDoer{inner: srv.Client(), n: &orders},
		Logger:   zerolog.Nop(),
	}
	require.NoError(t, client.SaveOrder(context.Background(), 1, 2, nil, card))
	require.EqualValues(t, 1, orders.Load())
	require.Zero(t, reads.Load())
}

type countingDoer struct {
	inner *http.Client
	n     *atomic.Int32
}

func (d countingDoer) Do(ctx context.Context, req *http.Request) (*http.Response, error) {
	d.n.Add(1)
	return d.inner.Do(req.WithContext(ctx))
}
