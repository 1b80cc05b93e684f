package terminal

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/noah-isme/juliana/internal/cart"
	"github.com/noah-isme/juliana/internal/common"
	"github.com/noah-isme/juliana/internal/events"
	"github.com/noah-isme/juliana/internal/obs"
	"github.com/noah-isme/juliana/internal/pricing"
	"github.com/noah-isme/juliana/internal/rfid"
	"github.com/noah-isme/juliana/internal/rpc"
	"github.com/noah-isme/juliana/internal/scanner"
)

// Command names accepted by the terminal.
const (
	CmdClear         = "clear"
	CmdSales         = "sales"
	CmdRemove        = "remove"
	CmdCancel        = "cancel"
	CmdCheck         = "check"
	CmdCash          = "cash"
	CmdCancelPayment = "cancelPayment"
	CmdPayNow        = "payNow"
	CmdOK            = "ok"
)

// Operator-facing texts.
const (
	TextIdle            = "?"
	TextAdded           = "OK"
	TextSelectProducts  = "Please select products!"
	TextScanCard        = "Scan a card"
	TextPaid            = "Paid"
	TextUnimplemented   = "Unimplemented function"
	TextRetrievalFailed = "RFID card retrieval failed"
	TextClearFirst      = "Clear the receipt first"
	TextUnknownCard     = "Unknown card type"
	TextScannerUp       = "Scanner connected"
)

const (
	// DefaultCountdown is the delay between a successful card lookup and the
	// automatic order submission.
	DefaultCountdown = 3 * time.Second
	// DefaultTickInterval is the countdown resolution.
	DefaultTickInterval = time.Second
	defaultInboxSize    = 64
)

var (
	// ErrCommandNotAllowed is returned when a command is not available in the current state.
	ErrCommandNotAllowed = errors.New("terminal: command not available in current state")
	// ErrStopped is returned when the controller loop is no longer running.
	ErrStopped = errors.New("terminal: controller stopped")
)

// Backend is the remote API the terminal talks to.
type Backend interface {
	LookupCard(ctx context.Context, eventID int64, card rfid.Card) (rpc.User, error)
	CheckSpend(ctx context.Context, eventID, userID int64) (int64, error)
	SaveOrder(ctx context.Context, eventID, userID int64, purchases []rpc.Purchase, card rfid.Card) error
}

// Pricing supplies current prices and receives the demand signal.
type Pricing interface {
	PriceOf(productID int64) (int64, bool)
	OnPurchase(ctx context.Context, quantities map[int64]int) []pricing.Change
}

// Display is the operator status line.
type Display interface {
	SetText(text string)
	Flash()
}

// Publisher emits domain events.
type Publisher interface {
	Emit(ctx context.Context, topic string, payload any) (events.Event, error)
}

// Config configures a Controller.
type Config struct {
	EventID      int64
	Countdown    time.Duration
	TickInterval time.Duration
	InboxSize    int
}

// Deps are the collaborators of a Controller. Bus and Scheduler are optional.
type Deps struct {
	Backend   Backend
	Pricing   Pricing
	Display   Display
	Bus       Publisher
	Scheduler Scheduler
	Logger    zerolog.Logger
}

// Command is a button press.
type Command struct {
	Name    string `json:"command"`
	Product int64  `json:"product,omitempty"`
	Index   int    `json:"index,omitempty"`
}

// PaymentIntent is a sale awaiting confirmation against a resolved cardholder.
type PaymentIntent struct {
	ID        uuid.UUID       `json:"id"`
	EventID   int64           `json:"eventId"`
	UserID    int64           `json:"userId"`
	Lines     []cart.LineItem `json:"lines"`
	Card      rfid.Card       `json:"card"`
	CreatedAt time.Time       `json:"createdAt"`
	// Quantities is the demand signal handed to pricing once the order is saved.
	Quantities map[int64]int `json:"-"`
}

// Total sums the intent lines.
func (p PaymentIntent) Total() int64 {
	var total int64
	for _, l := range p.Lines {
		total += l.Price
	}
	return total
}

// Snapshot is a read-only view of the terminal.
type Snapshot struct {
	State            State           `json:"state"`
	Message          string          `json:"message,omitempty"`
	ErrorCode        string          `json:"errorCode,omitempty"`
	Prompt           string          `json:"prompt"`
	Lines            []cart.LineItem `json:"lines"`
	Total            int64           `json:"total"`
	User             *rpc.User       `json:"user,omitempty"`
	Intent           *PaymentIntent  `json:"intent,omitempty"`
	Countdown        int             `json:"countdown"`
	ScannerConnected bool            `json:"scannerConnected"`
}

type requestKind int

const (
	reqDigit requestKind = iota
	reqCommand
	reqScan
	reqTick
	reqSnapshot
)

type request struct {
	kind    requestKind
	digit   string
	command Command
	scan    scanner.Event
	gen     uint64
	reply   chan result
}

type result struct {
	snap Snapshot
	err  error
}

// Controller is the cashier terminal. A single goroutine started by Run owns
// every piece of mutable state; all input reaches it through one queue.
type Controller struct {
	cfg       Config
	backend   Backend
	pricing   Pricing
	display   Display
	bus       Publisher
	scheduler Scheduler
	logger    zerolog.Logger

	inbox chan request
	done  chan struct{}

	// loop-owned
	state     State
	message   string
	errCode   string
	cart      *cart.Cart
	input     Input
	user      *rpc.User
	intent    *PaymentIntent
	gen       uint64
	remaining int
	stopTick  func()
	scannerUp bool
}

// New builds a controller in the SALES state.
func New(cfg Config, deps Deps) *Controller {
	if cfg.Countdown <= 0 {
		cfg.Countdown = DefaultCountdown
	}
	if cfg.TickInterval <= 0 {
		cfg.TickInterval = DefaultTickInterval
	}
	if cfg.InboxSize <= 0 {
		cfg.InboxSize = defaultInboxSize
	}
	sched := deps.Scheduler
	if sched == nil {
		sched = TickerScheduler{}
	}
	return &Controller{
		cfg:       cfg,
		backend:   deps.Backend,
		pricing:   deps.Pricing,
		display:   deps.Display,
		bus:       deps.Bus,
		scheduler: sched,
		logger:    deps.Logger,
		inbox:     make(chan request, cfg.InboxSize),
		done:      make(chan struct{}),
		state:     Sales,
		cart:      cart.New(deps.Pricing),
	}
}

// Run processes input until ctx is cancelled. scans may be nil.
func (c *Controller) Run(ctx context.Context, scans <-chan scanner.Event) error {
	defer close(c.done)
	defer c.stopCountdown()
	c.display.SetText(TextIdle)
	c.logger.Info().Int64("event_id", c.cfg.EventID).Msg("terminal_started")
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-scans:
			if !ok {
				scans = nil
				continue
			}
			c.handleScan(ctx, ev)
		case req := <-c.inbox:
			c.dispatch(ctx, req)
		}
	}
}

// Keypad enters a digit.
func (c *Controller) Keypad(ctx context.Context, digit string) (Snapshot, error) {
	return c.call(ctx, request{kind: reqDigit, digit: digit})
}

// Command presses a command button.
func (c *Controller) Command(ctx context.Context, cmd Command) (Snapshot, error) {
	return c.call(ctx, request{kind: reqCommand, command: cmd})
}

// Scan feeds a scanner event and waits until it has been handled.
func (c *Controller) Scan(ctx context.Context, ev scanner.Event) (Snapshot, error) {
	return c.call(ctx, request{kind: reqScan, scan: ev})
}

// Snapshot returns the current terminal view.
func (c *Controller) Snapshot(ctx context.Context) (Snapshot, error) {
	return c.call(ctx, request{kind: reqSnapshot})
}

func (c *Controller) call(ctx context.Context, req request) (Snapshot, error) {
	req.reply = make(chan result, 1)
	select {
	case c.inbox <- req:
	case <-c.done:
		return Snapshot{}, ErrStopped
	case <-ctx.Done():
		return Snapshot{}, ctx.Err()
	}
	select {
	case res := <-req.reply:
		return res.snap, res.err
	case <-c.done:
		return Snapshot{}, ErrStopped
	case <-ctx.Done():
		return Snapshot{}, ctx.Err()
	}
}

func (c *Controller) post(req request) {
	select {
	case c.inbox <- req:
	case <-c.done:
	}
}

func (c *Controller) dispatch(ctx context.Context, req request) {
	var err error
	switch req.kind {
	case reqDigit:
		err = c.handleDigit(req.digit)
	case reqCommand:
		err = c.handleCommand(ctx, req.command)
	case reqScan:
		c.handleScan(ctx, req.scan)
	case reqTick:
		c.handleTick(ctx, req.gen)
	}
	if req.reply != nil {
		req.reply <- result{snap: c.snapshot(), err: err}
	}
}

func (c *Controller) handleDigit(digit string) error {
	if !c.input.Stroke(digit) {
		c.display.Flash()
		return fmt.Errorf("keypad %q: %w", digit, common.ErrInvalidCommand)
	}
	c.display.SetText(c.input.Prompt())
	return nil
}

func (c *Controller) handleCommand(ctx context.Context, cmd Command) error {
	if cmd.Name == CmdClear {
		c.input.Discard()
		c.display.SetText(TextIdle)
		return nil
	}
	defer c.input.Reset()

	switch cmd.Name {
	case CmdSales:
		return c.cmdSales(cmd.Product)
	case CmdRemove:
		return c.cmdRemove(cmd.Index)
	case CmdCancel:
		c.enterSales(true)
		c.display.SetText(TextIdle)
		return nil
	case CmdCheck:
		return c.cmdCheck()
	case CmdCash:
		return c.cmdCash()
	case CmdCancelPayment:
		if c.state != Paying {
			return c.refuse(cmd.Name)
		}
		c.enterSales(false)
		c.display.SetText(TextIdle)
		return nil
	case CmdPayNow:
		if c.state != Paying || c.intent == nil {
			return c.refuse(cmd.Name)
		}
		c.submit(ctx)
		return nil
	case CmdOK:
		switch c.state {
		case Error, Message, Check:
			c.enterSales(true)
			c.display.SetText(TextIdle)
			return nil
		}
		return c.refuse(cmd.Name)
	default:
		c.display.SetText(TextUnimplemented)
		c.display.Flash()
		return fmt.Errorf("command %q: %w", cmd.Name, common.ErrInvalidCommand)
	}
}

func (c *Controller) refuse(name string) error {
	c.display.Flash()
	return fmt.Errorf("%s in %s: %w", name, c.state, ErrCommandNotAllowed)
}

func (c *Controller) cmdSales(product int64) error {
	if c.state != Sales {
		return c.refuse(CmdSales)
	}
	if _, ok := c.pricing.PriceOf(product); !ok {
		c.display.Flash()
		return fmt.Errorf("product %d: %w", product, cart.ErrUnknownProduct)
	}
	c.input.Latch(func(quantity int) {
		if _, err := c.cart.Add(product, quantity); err != nil {
			c.logger.Warn().Err(err).Int64("product_id", product).Msg("cart_add_failed")
			c.display.Flash()
			return
		}
		c.display.SetText(TextAdded)
	})
	return nil
}

func (c *Controller) cmdRemove(index int) error {
	if c.state != Sales {
		return c.refuse(CmdRemove)
	}
	if _, err := c.cart.Remove(index); err != nil {
		c.display.Flash()
		return err
	}
	return nil
}

func (c *Controller) cmdCheck() error {
	if c.state != Sales {
		return c.refuse(CmdCheck)
	}
	if c.cart.Len() > 0 {
		c.display.SetText(TextClearFirst)
		return c.refuse(CmdCheck)
	}
	c.transition(Check)
	c.display.SetText(TextScanCard)
	return nil
}

func (c *Controller) cmdCash() error {
	if c.state != Sales {
		return c.refuse(CmdCash)
	}
	amount := CashAmount(c.cart.Total())
	c.transition(Message)
	c.message = "That will be € " + pricing.FormatCents(amount, ".")
	c.display.SetText(c.message)
	return nil
}

// CashAmount rounds a total up to the next 10 cents.
func CashAmount(total int64) int64 {
	if total <= 0 {
		return 0
	}
	return (total + 9) / 10 * 10
}

func (c *Controller) handleScan(ctx context.Context, ev scanner.Event) {
	switch ev.Kind {
	case scanner.Connected:
		wasDown := !c.scannerUp
		c.scannerUp = true
		if wasDown && c.state == Sales && c.cart.Len() == 0 {
			c.display.SetText(TextScannerUp)
		}
		return
	case scanner.Disconnected:
		c.scannerUp = false
		terr := common.NewTerminalError(common.CodeTransportUnavailable, scannerWarning(ev.Err), ev.Err)
		c.logger.Warn().Err(terr.Err).Str("code", terr.Code).Msg("scanner_unavailable")
		if c.state != Paying {
			c.display.SetText(terr.Message)
		}
		c.display.Flash()
		return
	case scanner.Rejected:
		if c.state == Sales || c.state == Check {
			c.display.SetText(TextUnknownCard)
			c.display.Flash()
		}
		return
	}

	switch c.state {
	case Sales:
		if c.cart.Len() == 0 {
			c.display.SetText(TextSelectProducts)
			return
		}
		c.pay(ctx, ev.Card)
	case Check:
		c.check(ctx, ev.Card)
	default:
		c.logger.Info().Str("state", c.state.String()).Msg("scan_ignored")
	}
}

func scannerWarning(err error) string {
	if err == nil {
		return "Scanner unavailable"
	}
	return "Scanner unavailable: " + err.Error()
}

func (c *Controller) pay(ctx context.Context, card rfid.Card) {
	c.transition(Paying)
	lines := c.cart.Lines()

	user, err := c.backend.LookupCard(ctx, c.cfg.EventID, card)
	if err != nil {
		c.fail(common.CodeLookupFailed, lookupMessage(err), err)
		return
	}
	c.user = &user
	c.intent = &PaymentIntent{
		ID:         uuid.New(),
		EventID:    c.cfg.EventID,
		UserID:     user.ID,
		Lines:      lines,
		Card:       card,
		CreatedAt:  time.Now().UTC(),
		Quantities: c.cart.QuantitiesByProduct(),
	}
	c.startCountdown()
	c.display.SetText(c.payingText())
}

func (c *Controller) payingText() string {
	return fmt.Sprintf("€ %s for %s, paying in %d", pricing.FormatCents(c.intent.Total(), "."), c.user.FirstName, c.remaining)
}

func (c *Controller) check(ctx context.Context, card rfid.Card) {
	user, err := c.backend.LookupCard(ctx, c.cfg.EventID, card)
	if err != nil {
		c.fail(common.CodeLookupFailed, lookupMessage(err), err)
		return
	}
	c.user = &user
	spent, err := c.backend.CheckSpend(ctx, c.cfg.EventID, user.ID)
	if err != nil {
		c.fail(common.CodeLookupFailed, rpcMessage(err), err)
		return
	}
	c.transition(Message)
	c.message = fmt.Sprintf("%s has spent € %s at this event", user.FirstName, pricing.FormatCents(spent, "."))
	c.display.SetText(c.message)
}

func (c *Controller) submit(ctx context.Context) {
	c.stopCountdown()
	intent := *c.intent
	purchases := make([]rpc.Purchase, 0, len(intent.Lines))
	for _, l := range intent.Lines {
		purchases = append(purchases, rpc.Purchase{Product: l.ProductID, Amount: l.Quantity, Price: l.Price})
	}

	if err := c.backend.SaveOrder(ctx, intent.EventID, intent.UserID, purchases, intent.Card); err != nil {
		recordOrder("failed")
		c.fail(common.CodeOrderSubmitFailed, "Error with payment: "+rpcMessage(err), err)
		return
	}
	recordOrder("saved")
	c.logger.Info().
		Str("intent_id", intent.ID.String()).
		Int64("user_id", intent.UserID).
		Int64("total", intent.Total()).
		Msg("order_saved")

	c.pricing.OnPurchase(ctx, intent.Quantities)
	if c.bus != nil {
		if _, err := c.bus.Emit(ctx, events.TopicOrderSaved, intent); err != nil {
			c.logger.Error().Err(err).Str("intent_id", intent.ID.String()).Msg("emit_order_saved")
		}
	}
	c.enterSales(true)
	c.display.SetText(TextPaid)
}

func (c *Controller) fail(code, message string, cause error) {
	terr := common.NewTerminalError(code, message, cause)
	c.logger.Warn().Err(cause).Str("code", code).Str("state", c.state.String()).Msg("terminal_error")
	c.transition(Error)
	c.message = terr.Message
	c.errCode = terr.Code
	c.display.SetText(terr.Message)
}

func lookupMessage(err error) string {
	var rpcErr *rpc.Error
	if errors.As(err, &rpcErr) {
		return "Error authenticating: " + rpcErr.Message
	}
	return TextRetrievalFailed
}

func rpcMessage(err error) string {
	var rpcErr *rpc.Error
	if errors.As(err, &rpcErr) {
		return rpcErr.Message
	}
	return err.Error()
}

func (c *Controller) enterSales(clearCart bool) {
	c.transition(Sales)
	if clearCart {
		c.cart.Clear()
	}
}

// transition switches state. Leaving PAYING always drops the countdown and the
// payment intent.
func (c *Controller) transition(next State) {
	prev := c.state
	if next != Paying {
		c.stopCountdown()
		c.intent = nil
	}
	c.state = next
	c.message = ""
	c.errCode = ""
	if next == Sales || next == Check {
		c.user = nil
	}
	if prev == next {
		return
	}
	if obs.TerminalTransitions != nil {
		obs.TerminalTransitions.WithLabelValues(prev.String(), next.String()).Inc()
	}
	c.logger.Debug().Str("from", prev.String()).Str("to", next.String()).Msg("terminal_transition")
}

func (c *Controller) startCountdown() {
	c.stopCountdown()
	c.gen++
	gen := c.gen
	c.remaining = int(c.cfg.Countdown / c.cfg.TickInterval)
	if c.remaining < 1 {
		c.remaining = 1
	}
	c.stopTick = c.scheduler.Every(c.cfg.TickInterval, func() {
		c.post(request{kind: reqTick, gen: gen})
	})
}

func (c *Controller) stopCountdown() {
	if c.stopTick != nil {
		c.stopTick()
		c.stopTick = nil
	}
	c.remaining = 0
}

func (c *Controller) handleTick(ctx context.Context, gen uint64) {
	if gen != c.gen || c.state != Paying || c.intent == nil || c.stopTick == nil {
		return
	}
	c.remaining--
	if c.remaining > 0 {
		c.display.SetText(c.payingText())
		return
	}
	c.submit(ctx)
}

func (c *Controller) snapshot() Snapshot {
	snap := Snapshot{
		State:            c.state,
		Message:          c.message,
		ErrorCode:        c.errCode,
		Prompt:           c.input.Prompt(),
		Lines:            c.cart.Lines(),
		Total:            c.cart.Total(),
		Countdown:        c.remaining,
		ScannerConnected: c.scannerUp,
	}
	if c.user != nil {
		u := *c.user
		snap.User = &u
	}
	if c.intent != nil {
		intent := *c.intent
		intent.Lines = append([]cart.LineItem(nil), c.intent.Lines...)
		intent.Quantities = make(map[int64]int, len(c.intent.Quantities))
		for id, q := range c.intent.Quantities {
			intent.Quantities[id] = q
		}
		snap.Intent = &intent
	}
	return snap
}

func recordOrder(result string) {
	if obs.OrdersTotal != nil {
		obs.OrdersTotal.WithLabelValues(result).Inc()
	}
}
