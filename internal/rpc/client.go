package rpc

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/noah-isme/juliana/internal/obs"
	"github.com/noah-isme/juliana/internal/rfid"
)

// Backend methods.
const (
	MethodRFIDGet   = "juliana.rfid.get"
	MethodUserCheck = "juliana.user.check"
	MethodOrderSave = "juliana.order.save"
)

// DefaultTimeout bounds every call when Client.Timeout is unset.
const DefaultTimeout = 5 * time.Second

const maxResponseBytes = 1 << 20

// ErrTransport wraps failures to reach the backend or to read its reply.
var ErrTransport = errors.New("rpc: transport failure")

// Error is an error object returned by the backend.
type Error struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data,omitempty"`
}

func (e *Error) Error() string {
	return e.Message
}

// UnmarshalJSON accepts both the error object and a bare error string.
func (e *Error) UnmarshalJSON(data []byte) error {
	var msg string
	if err := json.Unmarshal(data, &msg); err == nil {
		*e = Error{Message: msg}
		return nil
	}
	type plain Error
	var obj plain
	if err := json.Unmarshal(data, &obj); err != nil {
		return err
	}
	*e = Error(obj)
	return nil
}

// Doer sends an HTTP request. resilience.HTTPClient satisfies it.
type Doer interface {
	Do(ctx context.Context, req *http.Request) (*http.Response, error)
}

// User is the cardholder resolved by a card lookup.
type User struct {
	ID        int64  `json:"id"`
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
	Username  string `json:"username"`
}

// Purchase is one order line as the backend expects it. Price is the line
// total in cents.
type Purchase struct {
	Product int64 `json:"product"`
	Amount  int   `json:"amount"`
	Price   int64 `json:"price"`
}

// Client calls the backend JSON-RPC endpoint. Lookups and spend checks go
// through HTTP; order submissions go through Orders so they can be configured
// without retries. Orders falls back to HTTP when nil.
type Client struct {
	Endpoint string
	HTTP     Doer
	Orders   Doer
	Headers  http.Header
	Timeout  time.Duration
	Logger   zerolog.Logger
}

type request struct {
	JSONRPC string `json:"jsonrpc"`
	Method  string `json:"method"`
	Params  any    `json:"params"`
	ID      int    `json:"id"`
}

type response struct {
	Result json.RawMessage `json:"result"`
	Error  *Error          `json:"error"`
}

type lookupResult struct {
	User          User            `json:"user"`
	Authorization json.RawMessage `json:"authorization"`
}

// LookupCard resolves the cardholder for a presented card.
func (c *Client) LookupCard(ctx context.Context, eventID int64, card rfid.Card) (User, error) {
	params := map[string]any{"event_id": eventID, "rfid": card}
	var out lookupResult
	if err := c.call(ctx, c.HTTP, MethodRFIDGet, params, &out); err != nil {
		return User{}, err
	}
	return out.User, nil
}

// CheckSpend returns what the user has spent at the event, in cents.
func (c *Client) CheckSpend(ctx context.Context, eventID, userID int64) (int64, error) {
	params := map[string]any{"event_id": eventID, "user_id": userID}
	var cents int64
	if err := c.call(ctx, c.HTTP, MethodUserCheck, params, &cents); err != nil {
		return 0, err
	}
	return cents, nil
}

// SaveOrder submits an order. It is sent at most once.
func (c *Client) SaveOrder(ctx context.Context, eventID, userID int64, purchases []Purchase, card rfid.Card) error {
	params := map[string]any{
		"event_id":  eventID,
		"user_id":   userID,
		"purchases": purchases,
		"rfid_data": card,
	}
	doer := c.Orders
	if doer == nil {
		doer = c.HTTP
	}
	return c.call(ctx, doer, MethodOrderSave, params, nil)
}

func (c *Client) call(ctx context.Context, doer Doer, method string, params, out any) (err error) {
	ctx, span := otel.Tracer("juliana/rpc").Start(ctx, method)
	span.SetAttributes(attribute.String("rpc.system", "jsonrpc"), attribute.String("rpc.method", method))
	start := time.Now()
	defer func() {
		result := "ok"
		var rpcErr *Error
		switch {
		case errors.As(err, &rpcErr):
			result = "rpc_error"
		case err != nil:
			result = "transport_error"
		}
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			c.Logger.Warn().Err(err).Str("method", method).Str("result", result).Msg("rpc_call_failed")
		}
		if obs.RPCDuration != nil {
			obs.RPCDuration.WithLabelValues(method, result).Observe(obs.DurationMillis(time.Since(start)))
		}
		span.End()
	}()

	if doer == nil {
		return fmt.Errorf("%s: client not configured: %w", method, ErrTransport)
	}
	timeout := c.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	body, err := json.Marshal(request{JSONRPC: "2.0", Method: method, Params: params, ID: 1})
	if err != nil {
		return fmt.Errorf("%s: encode request: %w", method, err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.Endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("%s: build request: %v: %w", method, err, ErrTransport)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	for k, values := range c.Headers {
		for _, v := range values {
			req.Header.Add(k, v)
		}
	}

	resp, err := doer.Do(ctx, req)
	if err != nil {
		return fmt.Errorf("%s: %v: %w", method, err, ErrTransport)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return fmt.Errorf("%s: read response: %v: %w", method, err, ErrTransport)
	}
	var envelope response
	if err := json.Unmarshal(raw, &envelope); err != nil {
		return fmt.Errorf("%s: status %d: decode response: %v: %w", method, resp.StatusCode, err, ErrTransport)
	}
	if envelope.Error != nil {
		return envelope.Error
	}
	if resp.StatusCode >= http.StatusBadRequest {
		return fmt.Errorf("%s: status %d: %w", method, resp.StatusCode, ErrTransport)
	}
	if out == nil {
		return nil
	}
	if len(envelope.Result) == 0 || string(envelope.Result) == "null" {
		return fmt.Errorf("%s: empty result: %w", method, ErrTransport)
	}
	if err := json.Unmarshal(envelope.Result, out); err != nil {
		return fmt.Errorf("%s: decode result: %v: %w", method, err, ErrTransport)
	}
	return nil
}
