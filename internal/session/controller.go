// Package session owns the live transaction state of one order: the
// merged view of persisted lines and local drafts, and every operation
// that advances the order through confirmation, payment, and closure.
package session

import (
	"context"
	"sort"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/kiwari-pos/terminal/internal/backend"
	"github.com/kiwari-pos/terminal/internal/cart"
	"github.com/kiwari-pos/terminal/internal/enum"
	"github.com/kiwari-pos/terminal/internal/pricing"
)

// Backend is the slice of the REST client a controller needs.
type Backend interface {
	Order(ctx context.Context, orderID int64) (*backend.Order, error)
	OrderItems(ctx context.Context, orderID int64) ([]backend.OrderItem, error)
	PostOrderItems(ctx context.Context, items []backend.OrderItem) error
	PostSubOrder(ctx context.Context, req backend.SubOrderRequest) (*backend.SubOrderResponse, error)
	PostReceiptMethods(ctx context.Context, methods []backend.ReceiptMethod) error
	UpdateOrderStatus(ctx context.Context, orderID int64, status string) error
	CloseOrder(ctx context.Context, orderID int64) error
	ResetIfEmpty(ctx context.Context, orderID int64) error
}

// Rules are the operational policies a controller enforces locally.
type Rules struct {
	KitchenExcludedItems      []string
	KitchenExcludedCategories []string
	AutoCloseTableAfterPay    bool
	AutoClosePacketAfterPay   bool
	AutoClosePacketMethods    []string
}

// Controller manages one order's transaction session. All methods are
// safe for concurrent use; operations that call the backend additionally
// hold a busy latch so double-submission (a double-tapped pay button)
// fails fast instead of charging twice.
type Controller struct {
	api   Backend
	rules Rules
	lg    *zap.Logger

	mu       sync.Mutex
	busy     bool
	order    *backend.Order
	server   []cart.Item
	drafts   []cart.Item
	discount pricing.Discount
	closed   bool
	disposed bool
}

// NewController wraps an already-fetched order. Call Refresh to load its
// persisted lines before serving reads.
func NewController(order *backend.Order, api Backend, rules Rules, lg *zap.Logger) *Controller {
	c := &Controller{
		api:   api,
		rules: rules,
		lg:    lg.With(zap.Int64("order_id", order.ID)),
		order: order,
	}
	if d := (pricing.Discount{Type: order.DiscountType, Value: order.DiscountValue}); !d.IsZero() {
		c.discount = d
	}
	c.closed = order.Status == enum.OrderStatusClosed
	return c
}

// OrderID returns the backend order id this session controls.
func (c *Controller) OrderID() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.order.ID
}

// TableNumber returns the order's table, or false for non-table orders.
func (c *Controller) TableNumber() (int, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.order.TableNumber == nil {
		return 0, false
	}
	return *c.order.TableNumber, true
}

// OrderType returns the order's type.
func (c *Controller) OrderType() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.order.OrderType
}

// begin takes the busy latch for a backend-calling operation.
func (c *Controller) begin() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.disposed {
		return ErrSessionDisposed
	}
	if c.busy {
		return ErrBusy
	}
	c.busy = true
	return nil
}

func (c *Controller) end() {
	c.mu.Lock()
	c.busy = false
	c.mu.Unlock()
}

// guardMutable rejects local cart edits on sessions that can no longer
// change. Callers hold c.mu.
func (c *Controller) guardMutable() error {
	if c.disposed {
		return ErrSessionDisposed
	}
	if c.closed {
		return ErrSessionClosed
	}
	if c.busy {
		return ErrBusy
	}
	return nil
}

func (c *Controller) keyExists(key cart.LineKey) bool {
	for _, it := range c.server {
		if it.Key == key {
			return true
		}
	}
	for _, it := range c.drafts {
		if it.Key == key {
			return true
		}
	}
	return false
}

// AddToCart adds one unit of a product with the given extras and note.
// A plain add folds into an existing unlocked plain line for the same
// product and price; anything else becomes its own line, with lineage
// bumped past any locked line it would collide with.
func (c *Controller) AddToCart(p cart.Product, sel []cart.ExtraSelection, note string) (cart.Item, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.guardMutable(); err != nil {
		return cart.Item{}, err
	}

	line := cart.CloneWithExtras(p, sel, note)
	if line.Mergeable() {
		for i := range c.drafts {
			if c.drafts[i].Mergeable() && c.drafts[i].Key.SameLine(line.Key) {
				c.drafts[i].Quantity++
				return c.drafts[i], nil
			}
		}
	}
	for c.keyExists(line.Key) {
		line.Key.Lineage++
	}
	c.drafts = append(c.drafts, line)
	return line, nil
}

func (c *Controller) findDraft(key string) (int, error) {
	for i := range c.drafts {
		if c.drafts[i].Key.String() == key {
			return i, nil
		}
	}
	for _, it := range c.server {
		if it.Key.String() == key {
			return 0, ErrLineLocked
		}
	}
	return 0, ErrLineNotFound
}

// Increment raises an unconfirmed line's quantity by one.
func (c *Controller) Increment(key string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.guardMutable(); err != nil {
		return err
	}
	i, err := c.findDraft(key)
	if err != nil {
		return err
	}
	c.drafts[i].Quantity++
	return nil
}

// Decrement lowers an unconfirmed line's quantity by one, flooring at
// one. Removing the line entirely is an explicit Remove.
func (c *Controller) Decrement(key string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.guardMutable(); err != nil {
		return err
	}
	i, err := c.findDraft(key)
	if err != nil {
		return err
	}
	if c.drafts[i].Quantity > 1 {
		c.drafts[i].Quantity--
	}
	return nil
}

// Remove drops an unconfirmed line from the cart.
func (c *Controller) Remove(key string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.guardMutable(); err != nil {
		return err
	}
	i, err := c.findDraft(key)
	if err != nil {
		return err
	}
	c.drafts = append(c.drafts[:i], c.drafts[i+1:]...)
	return nil
}

// ClearUnconfirmed drops every draft line. Persisted lines are untouched.
func (c *Controller) ClearUnconfirmed() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.guardMutable(); err != nil {
		return err
	}
	c.drafts = nil
	return nil
}

// SetDiscount sets or clears the cart-level discount.
func (c *Controller) SetDiscount(d pricing.Discount) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.guardMutable(); err != nil {
		return err
	}
	if d.Value.IsNegative() {
		return guard("discount value cannot be negative")
	}
	if d.Type == enum.DiscountTypePercent && d.Value.GreaterThan(decimal.NewFromInt(100)) {
		return guard("percent discount cannot exceed 100")
	}
	switch d.Type {
	case "", enum.DiscountTypeNone, enum.DiscountTypePercent, enum.DiscountTypeFixed:
	default:
		return guard("unknown discount type " + d.Type)
	}
	c.discount = d
	return nil
}

// fetchAndApply pulls the latest order and items and reconciles local
// state: persisted lines replace the server view, and drafts whose keys
// now exist on the server (confirmed here or on another terminal) drop.
func (c *Controller) fetchAndApply(ctx context.Context) error {
	c.mu.Lock()
	orderID := c.order.ID
	c.mu.Unlock()

	o, err := c.api.Order(ctx, orderID)
	if err != nil {
		return err
	}
	rows, err := c.api.OrderItems(ctx, orderID)
	if err != nil {
		return err
	}
	items := make([]cart.Item, 0, len(rows))
	for _, row := range rows {
		items = append(items, itemFromServer(row))
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.disposed {
		return ErrSessionDisposed
	}
	c.order = o
	c.server = items
	if o.Status == enum.OrderStatusClosed {
		c.closed = true
	}
	kept := c.drafts[:0]
	for _, d := range c.drafts {
		persisted := false
		for _, s := range items {
			if s.Key == d.Key {
				persisted = true
				break
			}
		}
		if !persisted {
			kept = append(kept, d)
		}
	}
	c.drafts = kept
	return nil
}

// Refresh re-syncs the session with the backend. Safe to call from
// realtime event handlers; a session mid-operation reports busy instead
// of interleaving.
func (c *Controller) Refresh(ctx context.Context) error {
	if err := c.begin(); err != nil {
		return err
	}
	defer c.end()
	return c.fetchAndApply(ctx)
}

// ConfirmUnconfirmed sends every draft line to the kitchen. On success
// the drafts become persisted lines and the order leaves draft status.
func (c *Controller) ConfirmUnconfirmed(ctx context.Context) error {
	if err := c.begin(); err != nil {
		return err
	}
	defer c.end()

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrSessionClosed
	}
	if len(c.drafts) == 0 {
		c.mu.Unlock()
		return ErrNothingToDo
	}
	orderID := c.order.ID
	status := c.order.Status
	rows := make([]backend.OrderItem, 0, len(c.drafts))
	for _, d := range c.drafts {
		rows = append(rows, itemToServer(orderID, d, c.discount))
	}
	c.mu.Unlock()

	if err := c.api.PostOrderItems(ctx, rows); err != nil {
		return err
	}
	if status == "" || status == enum.OrderStatusDraft {
		if err := c.api.UpdateOrderStatus(ctx, orderID, enum.OrderStatusConfirmed); err != nil {
			return err
		}
	}
	return c.fetchAndApply(ctx)
}

type payLine struct {
	item backend.SubOrderItem
	due  decimal.Decimal
}

// selectPayable resolves a payment selection against persisted unpaid
// lines. An empty selection means everything unpaid. Callers hold c.mu.
func (c *Controller) selectPayable(selection map[string]int64) ([]payLine, bool, error) {
	var lines []payLine
	full := true

	if len(selection) == 0 {
		for _, it := range c.server {
			if it.IsPaid() || enum.IsCancelled(it.KitchenStatus) {
				continue
			}
			lines = append(lines, payLine{
				item: backend.SubOrderItem{UniqueID: it.Key.String(), Quantity: it.Quantity},
				due:  pricing.LineTotal(it),
			})
		}
	} else {
		unpaid := 0
		for _, it := range c.server {
			if !it.IsPaid() && !enum.IsCancelled(it.KitchenStatus) {
				unpaid++
			}
		}
		for key, qty := range selection {
			var found *cart.Item
			for i := range c.server {
				if c.server[i].Key.String() == key {
					found = &c.server[i]
					break
				}
			}
			if found == nil {
				for i := range c.drafts {
					if c.drafts[i].Key.String() == key {
						return nil, false, guard("line must be confirmed before payment")
					}
				}
				return nil, false, ErrLineNotFound
			}
			if found.IsPaid() {
				return nil, false, guard("line is already paid")
			}
			if qty <= 0 || qty > found.Quantity {
				qty = found.Quantity
			}
			if qty < found.Quantity {
				full = false
			}
			lines = append(lines, payLine{
				item: backend.SubOrderItem{UniqueID: found.Key.String(), Quantity: qty},
				due:  pricing.PerUnitTotal(*found).Mul(decimal.NewFromInt(qty)),
			})
		}
		if len(lines) < unpaid {
			full = false
		}
	}

	if len(lines) == 0 {
		return nil, false, ErrNothingToPay
	}
	return lines, full, nil
}

// PayItems charges the selected lines (all unpaid lines when selection
// is empty) with one payment method and returns the receipt id. The
// cart discount applies only when the payment settles the whole
// remaining balance; partial picks pay their raw line totals.
func (c *Controller) PayItems(ctx context.Context, method string, selection map[string]int64) (string, error) {
	if err := c.begin(); err != nil {
		return "", err
	}
	defer c.end()

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return "", ErrSessionClosed
	}
	if strings.TrimSpace(method) == "" {
		c.mu.Unlock()
		return "", guard("payment method is required")
	}
	lines, full, err := c.selectPayable(selection)
	if err != nil {
		c.mu.Unlock()
		return "", err
	}
	orderID := c.order.ID
	total := decimal.Zero
	items := make([]backend.SubOrderItem, 0, len(lines))
	for _, l := range lines {
		total = total.Add(l.due)
		items = append(items, l.item)
	}
	if full {
		total = pricing.ApplyDiscount(total, c.discount)
	}
	total = pricing.RoundCents(total)
	c.mu.Unlock()

	receiptID := uuid.NewString()
	if _, err := c.api.PostSubOrder(ctx, backend.SubOrderRequest{
		OrderID:       orderID,
		ReceiptID:     receiptID,
		PaymentMethod: method,
		Total:         total,
		Items:         items,
	}); err != nil {
		return "", err
	}
	if err := c.api.PostReceiptMethods(ctx, []backend.ReceiptMethod{
		{ReceiptID: receiptID, PaymentMethod: method, Amount: total},
	}); err != nil {
		return "", err
	}
	if err := c.fetchAndApply(ctx); err != nil {
		return "", err
	}
	if err := c.settleAfterPay(ctx, method); err != nil {
		return "", err
	}
	return receiptID, nil
}

// PayWithSplits settles the whole remaining balance across several
// payment methods under one receipt. The split must cover the total due
// within half a cent or the payment is refused before anything posts.
func (c *Controller) PayWithSplits(ctx context.Context, splits map[string]decimal.Decimal) (string, error) {
	if err := c.begin(); err != nil {
		return "", err
	}
	defer c.end()

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return "", ErrSessionClosed
	}
	lines, _, err := c.selectPayable(nil)
	if err != nil {
		c.mu.Unlock()
		return "", err
	}
	orderID := c.order.ID
	subtotal := decimal.Zero
	items := make([]backend.SubOrderItem, 0, len(lines))
	for _, l := range lines {
		subtotal = subtotal.Add(l.due)
		items = append(items, l.item)
	}
	totalDue := pricing.RoundCents(pricing.ApplyDiscount(subtotal, c.discount))
	c.mu.Unlock()

	clean := pricing.NonZeroSplits(splits)
	if len(clean) == 0 {
		return "", ErrNothingToPay
	}
	if !pricing.SplitConfirmable(totalDue, clean) {
		return "", ErrSplitMismatch
	}

	receiptID := uuid.NewString()
	if _, err := c.api.PostSubOrder(ctx, backend.SubOrderRequest{
		OrderID:       orderID,
		ReceiptID:     receiptID,
		PaymentMethod: enum.SplitPaymentLabel,
		Total:         totalDue,
		Items:         items,
	}); err != nil {
		return "", err
	}

	methods := make([]string, 0, len(clean))
	for method := range clean {
		methods = append(methods, method)
	}
	sort.Strings(methods)
	rows := make([]backend.ReceiptMethod, 0, len(methods))
	for _, method := range methods {
		rows = append(rows, backend.ReceiptMethod{
			ReceiptID:     receiptID,
			PaymentMethod: method,
			Amount:        pricing.RoundCents(clean[method]),
		})
	}
	if err := c.api.PostReceiptMethods(ctx, rows); err != nil {
		return "", err
	}
	if err := c.fetchAndApply(ctx); err != nil {
		return "", err
	}
	if err := c.settleAfterPay(ctx, enum.SplitPaymentLabel); err != nil {
		return "", err
	}
	return receiptID, nil
}

// settleAfterPay promotes the order to paid once every persisted line
// carries a paid stamp, then auto-closes where policy allows. A close
// blocked by undelivered kitchen items is skipped, not an error.
func (c *Controller) settleAfterPay(ctx context.Context, method string) error {
	c.mu.Lock()
	allPaid := len(c.server) > 0 && len(c.drafts) == 0
	for _, it := range c.server {
		if !it.IsPaid() && !enum.IsCancelled(it.KitchenStatus) {
			allPaid = false
			break
		}
	}
	orderID := c.order.ID
	orderType := c.order.OrderType
	status := c.order.Status
	c.mu.Unlock()

	if !allPaid {
		return nil
	}
	if status != enum.OrderStatusPaid && status != enum.OrderStatusClosed {
		if err := c.api.UpdateOrderStatus(ctx, orderID, enum.OrderStatusPaid); err != nil {
			return err
		}
		c.mu.Lock()
		c.order.Status = enum.OrderStatusPaid
		c.mu.Unlock()
	}

	if !c.autoCloseWanted(orderType, method) {
		return nil
	}
	if err := c.closeSettled(ctx); err != nil {
		if IsGuard(err) {
			c.lg.Info("auto-close skipped", zap.String("reason", err.Error()))
			return nil
		}
		return err
	}
	return nil
}

func (c *Controller) autoCloseWanted(orderType, method string) bool {
	switch orderType {
	case enum.OrderTypeTable:
		return c.rules.AutoCloseTableAfterPay
	case enum.OrderTypePacket:
		if !c.rules.AutoClosePacketAfterPay {
			return false
		}
		if len(c.rules.AutoClosePacketMethods) == 0 {
			return true
		}
		for _, m := range c.rules.AutoClosePacketMethods {
			if strings.EqualFold(m, method) {
				return true
			}
		}
	}
	return false
}

// kitchenRelevant reports whether a line blocks closing until delivered.
func (c *Controller) kitchenRelevant(it cart.Item) bool {
	if enum.IsCancelled(it.KitchenStatus) {
		return false
	}
	for _, name := range c.rules.KitchenExcludedItems {
		if strings.EqualFold(strings.TrimSpace(name), strings.TrimSpace(it.Name)) {
			return false
		}
	}
	for _, cat := range c.rules.KitchenExcludedCategories {
		if strings.EqualFold(strings.TrimSpace(cat), strings.TrimSpace(it.Category)) {
			return false
		}
	}
	return true
}

// closeSettled runs the delivery guard against current state and closes.
// Callers must hold the busy latch and have refreshed state already.
func (c *Controller) closeSettled(ctx context.Context) error {
	c.mu.Lock()
	orderID := c.order.ID
	for _, it := range c.server {
		if c.kitchenRelevant(it) && !enum.IsKitchenDelivered(it.KitchenStatus) {
			c.mu.Unlock()
			return ErrKitchenPending
		}
	}
	c.mu.Unlock()

	if err := c.api.CloseOrder(ctx, orderID); err != nil {
		return err
	}
	c.mu.Lock()
	c.closed = true
	c.order.Status = enum.OrderStatusClosed
	c.mu.Unlock()
	return nil
}

// Close ends the session's order. State is refetched first so the
// delivery guard judges what the kitchen actually reports, not a stale
// view. Closing an order another terminal already closed succeeds.
func (c *Controller) Close(ctx context.Context) error {
	if err := c.begin(); err != nil {
		return err
	}
	defer c.end()

	if err := c.fetchAndApply(ctx); err != nil {
		return err
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	orderID := c.order.ID
	orderType := c.order.OrderType
	empty := len(c.server) == 0 && len(c.drafts) == 0
	c.mu.Unlock()

	// A phone order abandoned before any item was rung up just closes.
	if empty && orderType == enum.OrderTypePhone {
		if err := c.api.CloseOrder(ctx, orderID); err != nil {
			return err
		}
		c.mu.Lock()
		c.closed = true
		c.order.Status = enum.OrderStatusClosed
		c.mu.Unlock()
		return nil
	}

	return c.closeSettled(ctx)
}

// Dispose releases the session. An order that never got any persisted
// items is reset on the backend so its table frees up. Cleanup failures
// are logged, not returned; the session is gone either way.
func (c *Controller) Dispose(ctx context.Context) {
	c.mu.Lock()
	if c.disposed {
		c.mu.Unlock()
		return
	}
	c.disposed = true
	orderID := c.order.ID
	resettable := !c.closed && len(c.server) == 0
	c.mu.Unlock()

	if resettable {
		if err := c.api.ResetIfEmpty(ctx, orderID); err != nil {
			c.lg.Warn("reset-if-empty failed on dispose", zap.Error(err))
		}
	}
}

// Items returns the merged cart view: persisted lines first, drafts
// after, as copies.
func (c *Controller) Items() []cart.Item {
	c.mu.Lock()
	defer c.mu.Unlock()
	items := make([]cart.Item, 0, len(c.server)+len(c.drafts))
	items = append(items, c.server...)
	items = append(items, c.drafts...)
	return items
}

// Status derives the session's lifecycle status from its items.
func (c *Controller) Status() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.statusLocked()
}

func (c *Controller) statusLocked() string {
	if c.closed {
		return enum.OrderStatusClosed
	}
	if c.order == nil {
		return enum.OrderStatusLoading
	}
	paid := 0
	for _, it := range c.server {
		if it.IsPaid() {
			paid++
		}
	}
	switch {
	case len(c.server) > 0 && paid == len(c.server) && len(c.drafts) == 0:
		return enum.OrderStatusPaid
	case paid > 0:
		return enum.OrderStatusPartiallyPaid
	case len(c.server) > 0:
		return enum.OrderStatusConfirmed
	default:
		return enum.OrderStatusDraft
	}
}

// Snapshot is the session view served to the UI.
type Snapshot struct {
	OrderID     int64               `json:"order_id"`
	TableNumber *int                `json:"table_number,omitempty"`
	OrderType   string              `json:"order_type"`
	Status      string              `json:"status"`
	Items       []cart.Item         `json:"items"`
	Receipts    []cart.ReceiptGroup `json:"receipts"`
	Discount    pricing.Discount    `json:"discount"`
	Subtotal    decimal.Decimal     `json:"subtotal"`
	TotalDue    decimal.Decimal     `json:"total_due"`
}

// Snapshot renders the current session state.
func (c *Controller) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()

	items := make([]cart.Item, 0, len(c.server)+len(c.drafts))
	items = append(items, c.server...)
	items = append(items, c.drafts...)

	subtotal := pricing.CartSubtotal(items, false)
	return Snapshot{
		OrderID:     c.order.ID,
		TableNumber: c.order.TableNumber,
		OrderType:   c.order.OrderType,
		Status:      c.statusLocked(),
		Items:       items,
		Receipts:    cart.GroupByReceipt(items),
		Discount:    c.discount,
		Subtotal:    pricing.RoundCents(subtotal),
		TotalDue:    pricing.RoundCents(pricing.ApplyDiscount(subtotal, c.discount)),
	}
}
