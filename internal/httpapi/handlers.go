package httpapi

import (
	"context"
	"errors"
	"net/http"

	"github.com/go-playground/validator/v10"

	"github.com/noah-isme/juliana/internal/cart"
	"github.com/noah-isme/juliana/internal/common"
	"github.com/noah-isme/juliana/internal/display"
	"github.com/noah-isme/juliana/internal/pricing"
	"github.com/noah-isme/juliana/internal/terminal"
)

// Terminal is the controller surface exposed over HTTP.
type Terminal interface {
	Keypad(ctx context.Context, digit string) (terminal.Snapshot, error)
	Command(ctx context.Context, cmd terminal.Command) (terminal.Snapshot, error)
	Snapshot(ctx context.Context) (terminal.Snapshot, error)
}

// Prices exposes the live price book.
type Prices interface {
	Prices() []pricing.PriceState
	Product(productID int64) (pricing.Product, bool)
}

// DisplaySource exposes the operator display.
type DisplaySource interface {
	Snapshot() display.Snapshot
}

// Handler serves the terminal endpoints.
type Handler struct {
	terminal Terminal
	prices   Prices
	display  DisplaySource
	validate *validator.Validate
}

// NewHandler constructs a Handler.
func NewHandler(t Terminal, prices Prices, disp DisplaySource) *Handler {
	return &Handler{terminal: t, prices: prices, display: disp, validate: validator.New()}
}

type keypadRequest struct {
	Digit string `json:"digit" validate:"required,len=1,numeric"`
}

type commandRequest struct {
	Command string `json:"command" validate:"required,max=32,alpha"`
	Product int64  `json:"product" validate:"gte=0"`
	Index   int    `json:"index" validate:"gte=0"`
}

type priceView struct {
	ProductID int64   `json:"productId"`
	Name      string  `json:"name"`
	Price     int64   `json:"price"`
	Display   string  `json:"display"`
	Current   float64 `json:"current"`
	Floor     int64   `json:"floor"`
	Ceiling   int64   `json:"ceiling"`
}

// Snapshot returns the terminal state.
func (h *Handler) Snapshot(w http.ResponseWriter, r *http.Request) {
	snap, err := h.terminal.Snapshot(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	common.JSON(w, http.StatusOK, snap)
}

// Keypad enters one digit.
func (h *Handler) Keypad(w http.ResponseWriter, r *http.Request) {
	var req keypadRequest
	if !h.decode(w, r, &req) {
		return
	}
	snap, err := h.terminal.Keypad(r.Context(), req.Digit)
	if err != nil {
		writeError(w, err)
		return
	}
	common.JSON(w, http.StatusAccepted, snap)
}

// Command presses a command button.
func (h *Handler) Command(w http.ResponseWriter, r *http.Request) {
	var req commandRequest
	if !h.decode(w, r, &req) {
		return
	}
	snap, err := h.terminal.Command(r.Context(), terminal.Command{Name: req.Command, Product: req.Product, Index: req.Index})
	if err != nil {
		writeError(w, err)
		return
	}
	common.JSON(w, http.StatusAccepted, snap)
}

// Display returns the operator display line.
func (h *Handler) Display(w http.ResponseWriter, _ *http.Request) {
	common.JSON(w, http.StatusOK, h.display.Snapshot())
}

// Prices returns the live dynamic prices.
func (h *Handler) Prices(w http.ResponseWriter, _ *http.Request) {
	states := h.prices.Prices()
	out := make([]priceView, 0, len(states))
	for _, st := range states {
		view := priceView{
			ProductID: st.ProductID,
			Price:     st.Cents(),
			Display:   pricing.FormatCents(st.Cents(), ","),
			Current:   st.Current,
			Floor:     st.Floor,
			Ceiling:   st.Ceiling,
		}
		if p, ok := h.prices.Product(st.ProductID); ok {
			view.Name = p.Name
		}
		out = append(out, view)
	}
	common.JSON(w, http.StatusOK, map[string]any{"prices": out})
}

func (h *Handler) decode(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := common.DecodeJSON(w, r, v); err != nil {
		common.JSONError(w, http.StatusBadRequest, "BAD_REQUEST", "invalid payload", nil)
		return false
	}
	if err := h.validate.Struct(v); err != nil {
		var verrs validator.ValidationErrors
		details := map[string]string{}
		if errors.As(err, &verrs) {
			for _, fe := range verrs {
				details[fe.Field()] = fe.Tag()
			}
		}
		common.JSONError(w, http.StatusBadRequest, "BAD_REQUEST", "validation failed", details)
		return false
	}
	return true
}

func writeError(w http.ResponseWriter, err error) {
	if code := common.CodeOf(err); code != "" {
		common.JSONError(w, http.StatusUnprocessableEntity, code, err.Error(), nil)
		return
	}
	switch {
	case errors.Is(err, terminal.ErrCommandNotAllowed):
		common.JSONError(w, http.StatusConflict, "COMMAND_NOT_ALLOWED", err.Error(), nil)
	case errors.Is(err, cart.ErrUnknownProduct):
		common.JSONError(w, http.StatusNotFound, "UNKNOWN_PRODUCT", err.Error(), nil)
	case errors.Is(err, terminal.ErrStopped), errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		common.JSONError(w, http.StatusServiceUnavailable, "UNAVAILABLE", "terminal unavailable", nil)
	default:
		common.JSONError(w, http.StatusInternalServerError, "INTERNAL", err.Error(), nil)
	}
}
