package session

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/kiwari-pos/terminal/internal/backend"
	"github.com/kiwari-pos/terminal/internal/cart"
	"github.com/kiwari-pos/terminal/internal/enum"
	"github.com/kiwari-pos/terminal/internal/pricing"
)

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

// fakeBackend is an in-memory stand-in for the POS backend. It persists
// items, stamps payments, and splits partially paid lines the way the
// real backend does.
type fakeBackend struct {
	mu     sync.Mutex
	order  backend.Order
	items  []backend.OrderItem
	nextID int64

	postItemsCalls int
	subOrders      []backend.SubOrderRequest
	receiptRows    [][]backend.ReceiptMethod
	statusLog      []string
	closeCalls     int
	resetCalls     int

	payEntered chan struct{}
	payRelease chan struct{}
}

func newFakeBackend(order backend.Order) *fakeBackend {
	return &fakeBackend{order: order, nextID: 100}
}

func (f *fakeBackend) Order(ctx context.Context, orderID int64) (*backend.Order, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	o := f.order
	return &o, nil
}

func (f *fakeBackend) OrderItems(ctx context.Context, orderID int64) ([]backend.OrderItem, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	items := make([]backend.OrderItem, len(f.items))
	copy(items, f.items)
	return items, nil
}

func (f *fakeBackend) PostOrderItems(ctx context.Context, items []backend.OrderItem) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.postItemsCalls++
	for _, it := range items {
		f.nextID++
		it.ID = f.nextID
		f.items = append(f.items, it)
	}
	return nil
}

func (f *fakeBackend) PostSubOrder(ctx context.Context, req backend.SubOrderRequest) (*backend.SubOrderResponse, error) {
	if f.payEntered != nil {
		close(f.payEntered)
		f.payEntered = nil
		<-f.payRelease
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	f.subOrders = append(f.subOrders, req)

	now := time.Now()
	for _, sel := range req.Items {
		for i := range f.items {
			if f.items[i].UniqueID != sel.UniqueID || f.items[i].PaidAt != nil {
				continue
			}
			if sel.Quantity < f.items[i].Quantity {
				// Split: the paid portion becomes its own row.
				paid := f.items[i]
				paid.Quantity = sel.Quantity
				paid.UniqueID = f.bumpLineage(paid.UniqueID)
				paid.PaidAt = &now
				paid.PaymentMethod = req.PaymentMethod
				paid.ReceiptID = req.ReceiptID
				f.nextID++
				paid.ID = f.nextID
				f.items[i].Quantity -= sel.Quantity
				f.items = append(f.items, paid)
			} else {
				f.items[i].PaidAt = &now
				f.items[i].PaymentMethod = req.PaymentMethod
				f.items[i].ReceiptID = req.ReceiptID
			}
			break
		}
	}
	return &backend.SubOrderResponse{SubOrderID: f.nextID}, nil
}

func (f *fakeBackend) bumpLineage(uniqueID string) string {
	key, err := cart.ParseLineKey(uniqueID)
	if err != nil {
		return uniqueID + "-split"
	}
	for {
		key.Lineage++
		taken := false
		for _, it := range f.items {
			if it.UniqueID == key.String() {
				taken = true
				break
			}
		}
		if !taken {
			return key.String()
		}
	}
}

func (f *fakeBackend) PostReceiptMethods(ctx context.Context, methods []backend.ReceiptMethod) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.receiptRows = append(f.receiptRows, methods)
	return nil
}

func (f *fakeBackend) UpdateOrderStatus(ctx context.Context, orderID int64, status string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.statusLog = append(f.statusLog, status)
	f.order.Status = status
	return nil
}

func (f *fakeBackend) CloseOrder(ctx context.Context, orderID int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closeCalls++
	f.order.Status = enum.OrderStatusClosed
	return nil
}

func (f *fakeBackend) ResetIfEmpty(ctx context.Context, orderID int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.resetCalls++
	return nil
}

func (f *fakeBackend) deliverAll() {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i := range f.items {
		f.items[i].KitchenStatus = enum.KitchenStatusDelivered
	}
}

func (f *fakeBackend) setKitchenStatus(status string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i := range f.items {
		f.items[i].KitchenStatus = status
	}
}

func tableOrder(id int64, table int) backend.Order {
	return backend.Order{
		ID:          id,
		TableNumber: &table,
		OrderType:   enum.OrderTypeTable,
		Status:      enum.OrderStatusDraft,
	}
}

func newTestController(t *testing.T, f *fakeBackend, rules Rules) *Controller {
	t.Helper()
	o := f.order
	ctrl := NewController(&o, f, rules, zap.NewNop())
	require.NoError(t, ctrl.Refresh(context.Background()))
	return ctrl
}

func burger() cart.Product {
	return cart.Product{ID: 7, Name: "Burger", Price: dec("20"), Category: "Mains"}
}

func TestTableOrderFullLifecycle(t *testing.T) {
	ctx := context.Background()
	f := newFakeBackend(tableOrder(1, 5))
	ctrl := newTestController(t, f, Rules{})

	// Two plain adds of the same product fold into one line.
	_, err := ctrl.AddToCart(burger(), nil, "")
	require.NoError(t, err)
	line, err := ctrl.AddToCart(burger(), nil, "")
	require.NoError(t, err)
	assert.EqualValues(t, 2, line.Quantity)

	snap := ctrl.Snapshot()
	assert.Equal(t, enum.OrderStatusDraft, snap.Status)
	assert.True(t, dec("40").Equal(snap.Subtotal))

	require.NoError(t, ctrl.SetDiscount(pricing.Discount{Type: enum.DiscountTypePercent, Value: dec("10")}))
	snap = ctrl.Snapshot()
	assert.True(t, dec("36").Equal(snap.TotalDue), "got %s", snap.TotalDue)

	require.NoError(t, ctrl.ConfirmUnconfirmed(ctx))
	assert.Equal(t, 1, f.postItemsCalls)
	require.Len(t, f.items, 1)
	assert.Equal(t, enum.KitchenStatusNew, f.items[0].KitchenStatus)
	assert.Equal(t, enum.DiscountTypePercent, f.items[0].DiscountType)
	assert.Equal(t, enum.OrderStatusConfirmed, ctrl.Status())

	receiptID, err := ctrl.PayItems(ctx, "Cash", nil)
	require.NoError(t, err)
	assert.NotEmpty(t, receiptID)
	require.Len(t, f.subOrders, 1)
	assert.True(t, dec("36").Equal(f.subOrders[0].Total))
	require.Len(t, f.receiptRows, 1)
	assert.Equal(t, "Cash", f.receiptRows[0][0].PaymentMethod)
	assert.Equal(t, enum.OrderStatusPaid, ctrl.Status())
	assert.Contains(t, f.statusLog, enum.OrderStatusPaid)

	f.deliverAll()
	require.NoError(t, ctrl.Close(ctx))
	assert.Equal(t, 1, f.closeCalls)
	assert.Equal(t, enum.OrderStatusClosed, ctrl.Status())

	// Everything after closure is rejected.
	_, err = ctrl.AddToCart(burger(), nil, "")
	assert.ErrorIs(t, err, ErrSessionClosed)
}

func TestAddToCartExtrasGetSeparateLines(t *testing.T) {
	f := newFakeBackend(tableOrder(1, 5))
	ctrl := newTestController(t, f, Rules{})

	cheese := []cart.ExtraSelection{{Name: "cheese", UnitPrice: dec("1"), Quantity: 1}}
	a, err := ctrl.AddToCart(burger(), cheese, "")
	require.NoError(t, err)
	b, err := ctrl.AddToCart(burger(), cheese, "")
	require.NoError(t, err)

	assert.False(t, a.Key == b.Key)
	assert.True(t, a.Key.SameLine(b.Key))
	assert.Len(t, ctrl.Items(), 2)
}

func TestAddToCartAfterConfirmStartsNewLineage(t *testing.T) {
	ctx := context.Background()
	f := newFakeBackend(tableOrder(1, 5))
	ctrl := newTestController(t, f, Rules{})

	first, err := ctrl.AddToCart(burger(), nil, "")
	require.NoError(t, err)
	require.NoError(t, ctrl.ConfirmUnconfirmed(ctx))

	second, err := ctrl.AddToCart(burger(), nil, "")
	require.NoError(t, err)
	assert.True(t, first.Key.SameLine(second.Key))
	assert.NotEqual(t, first.Key.Lineage, second.Key.Lineage)
	assert.EqualValues(t, 1, second.Quantity)
	assert.Len(t, ctrl.Items(), 2)
}

func TestQuantityAdjustments(t *testing.T) {
	f := newFakeBackend(tableOrder(1, 5))
	ctrl := newTestController(t, f, Rules{})

	line, err := ctrl.AddToCart(burger(), nil, "")
	require.NoError(t, err)
	key := line.Key.String()

	require.NoError(t, ctrl.Increment(key))
	require.NoError(t, ctrl.Decrement(key))
	require.NoError(t, ctrl.Decrement(key))
	items := ctrl.Items()
	require.Len(t, items, 1)
	assert.EqualValues(t, 1, items[0].Quantity, "decrement floors at one")

	require.NoError(t, ctrl.Remove(key))
	assert.Empty(t, ctrl.Items())

	assert.ErrorIs(t, ctrl.Increment(key), ErrLineNotFound)
}

func TestConfirmedLinesAreLocked(t *testing.T) {
	ctx := context.Background()
	f := newFakeBackend(tableOrder(1, 5))
	ctrl := newTestController(t, f, Rules{})

	line, err := ctrl.AddToCart(burger(), nil, "")
	require.NoError(t, err)
	require.NoError(t, ctrl.ConfirmUnconfirmed(ctx))

	key := line.Key.String()
	assert.ErrorIs(t, ctrl.Increment(key), ErrLineLocked)
	assert.ErrorIs(t, ctrl.Decrement(key), ErrLineLocked)
	assert.ErrorIs(t, ctrl.Remove(key), ErrLineLocked)
}

func TestConfirmWithNoDraftsIsGuarded(t *testing.T) {
	f := newFakeBackend(tableOrder(1, 5))
	ctrl := newTestController(t, f, Rules{})
	assert.ErrorIs(t, ctrl.ConfirmUnconfirmed(context.Background()), ErrNothingToDo)
}

func TestPartialQuantityPaySplitsLine(t *testing.T) {
	ctx := context.Background()
	f := newFakeBackend(tableOrder(1, 5))
	ctrl := newTestController(t, f, Rules{})

	line, err := ctrl.AddToCart(burger(), nil, "")
	require.NoError(t, err)
	require.NoError(t, ctrl.Increment(line.Key.String()))
	require.NoError(t, ctrl.ConfirmUnconfirmed(ctx))

	_, err = ctrl.PayItems(ctx, "Card", map[string]int64{line.Key.String(): 1})
	require.NoError(t, err)

	require.Len(t, f.subOrders, 1)
	assert.True(t, dec("20").Equal(f.subOrders[0].Total))
	assert.Equal(t, enum.OrderStatusPartiallyPaid, ctrl.Status())

	paid, unpaid := 0, 0
	for _, it := range ctrl.Items() {
		if it.IsPaid() {
			paid++
		} else {
			unpaid++
		}
		assert.EqualValues(t, 1, it.Quantity)
	}
	assert.Equal(t, 1, paid)
	assert.Equal(t, 1, unpaid)
}

func TestPartialPayDoesNotApplyCartDiscount(t *testing.T) {
	ctx := context.Background()
	f := newFakeBackend(tableOrder(1, 5))
	ctrl := newTestController(t, f, Rules{})

	line, err := ctrl.AddToCart(burger(), nil, "")
	require.NoError(t, err)
	require.NoError(t, ctrl.Increment(line.Key.String()))
	require.NoError(t, ctrl.SetDiscount(pricing.Discount{Type: enum.DiscountTypePercent, Value: dec("50")}))
	require.NoError(t, ctrl.ConfirmUnconfirmed(ctx))

	_, err = ctrl.PayItems(ctx, "Cash", map[string]int64{line.Key.String(): 1})
	require.NoError(t, err)
	assert.True(t, dec("20").Equal(f.subOrders[0].Total), "partial picks pay raw line totals")
}

func TestPayRejectsUnconfirmedLine(t *testing.T) {
	f := newFakeBackend(tableOrder(1, 5))
	ctrl := newTestController(t, f, Rules{})

	line, err := ctrl.AddToCart(burger(), nil, "")
	require.NoError(t, err)

	_, err = ctrl.PayItems(context.Background(), "Cash", map[string]int64{line.Key.String(): 0})
	require.Error(t, err)
	assert.True(t, IsGuard(err))
	assert.Empty(t, f.subOrders)
}

func TestPayWithNothingDue(t *testing.T) {
	f := newFakeBackend(tableOrder(1, 5))
	ctrl := newTestController(t, f, Rules{})
	_, err := ctrl.PayItems(context.Background(), "Cash", nil)
	assert.ErrorIs(t, err, ErrNothingToPay)
}

func TestSplitPayRefusedWhenShort(t *testing.T) {
	ctx := context.Background()
	f := newFakeBackend(tableOrder(1, 5))
	ctrl := newTestController(t, f, Rules{})

	p := cart.Product{ID: 9, Name: "Platter", Price: dec("123.45")}
	_, err := ctrl.AddToCart(p, nil, "")
	require.NoError(t, err)
	require.NoError(t, ctrl.ConfirmUnconfirmed(ctx))

	_, err = ctrl.PayWithSplits(ctx, map[string]decimal.Decimal{
		"Cash": dec("100"),
		"Card": dec("23.40"),
	})
	assert.ErrorIs(t, err, ErrSplitMismatch)
	assert.Empty(t, f.subOrders, "nothing posted when the split is refused")
}

func TestSplitPayPostsOneRowPerMethod(t *testing.T) {
	ctx := context.Background()
	f := newFakeBackend(tableOrder(1, 5))
	ctrl := newTestController(t, f, Rules{})

	p := cart.Product{ID: 9, Name: "Platter", Price: dec("123.45")}
	_, err := ctrl.AddToCart(p, nil, "")
	require.NoError(t, err)
	require.NoError(t, ctrl.ConfirmUnconfirmed(ctx))

	receiptID, err := ctrl.PayWithSplits(ctx, map[string]decimal.Decimal{
		"Cash":    dec("100"),
		"Card":    dec("23.45"),
		"Voucher": decimal.Zero,
	})
	require.NoError(t, err)

	require.Len(t, f.subOrders, 1)
	assert.Equal(t, enum.SplitPaymentLabel, f.subOrders[0].PaymentMethod)
	require.Len(t, f.receiptRows, 1)
	require.Len(t, f.receiptRows[0], 2)
	assert.Equal(t, "Card", f.receiptRows[0][0].PaymentMethod)
	assert.Equal(t, "Cash", f.receiptRows[0][1].PaymentMethod)
	for _, row := range f.receiptRows[0] {
		assert.Equal(t, receiptID, row.ReceiptID)
	}
	assert.Equal(t, enum.OrderStatusPaid, ctrl.Status())
}

func TestDoubleSubmissionIsRejectedWhileBusy(t *testing.T) {
	ctx := context.Background()
	f := newFakeBackend(tableOrder(1, 5))
	ctrl := newTestController(t, f, Rules{})

	_, err := ctrl.AddToCart(burger(), nil, "")
	require.NoError(t, err)
	require.NoError(t, ctrl.ConfirmUnconfirmed(ctx))

	f.payEntered = make(chan struct{})
	f.payRelease = make(chan struct{})
	entered := f.payEntered

	done := make(chan error, 1)
	go func() {
		_, err := ctrl.PayItems(ctx, "Cash", nil)
		done <- err
	}()

	<-entered
	_, err = ctrl.PayItems(ctx, "Cash", nil)
	assert.ErrorIs(t, err, ErrBusy)

	close(f.payRelease)
	require.NoError(t, <-done)
	assert.Len(t, f.subOrders, 1, "only the first submission charged")
}

func TestCloseGuardBlocksUndeliveredKitchenItems(t *testing.T) {
	ctx := context.Background()
	f := newFakeBackend(tableOrder(1, 5))
	ctrl := newTestController(t, f, Rules{})

	_, err := ctrl.AddToCart(burger(), nil, "")
	require.NoError(t, err)
	require.NoError(t, ctrl.ConfirmUnconfirmed(ctx))

	f.setKitchenStatus(enum.KitchenStatusPreparing)
	assert.ErrorIs(t, ctrl.Close(ctx), ErrKitchenPending)
	assert.Equal(t, 0, f.closeCalls)

	f.setKitchenStatus(enum.KitchenStatusDelivered)
	require.NoError(t, ctrl.Close(ctx))
	assert.Equal(t, 1, f.closeCalls)
}

func TestCloseGuardSkipsExcludedCategories(t *testing.T) {
	ctx := context.Background()
	f := newFakeBackend(tableOrder(1, 5))
	ctrl := newTestController(t, f, Rules{KitchenExcludedCategories: []string{"Drinks"}})

	cola := cart.Product{ID: 3, Name: "Cola", Price: dec("4"), Category: "Drinks"}
	_, err := ctrl.AddToCart(cola, nil, "")
	require.NoError(t, err)
	require.NoError(t, ctrl.ConfirmUnconfirmed(ctx))

	f.setKitchenStatus(enum.KitchenStatusPreparing)
	require.NoError(t, ctrl.Close(ctx))
	assert.Equal(t, 1, f.closeCalls)
}

func TestCloseAlreadyClosedSucceeds(t *testing.T) {
	ctx := context.Background()
	f := newFakeBackend(tableOrder(1, 5))
	f.order.Status = enum.OrderStatusClosed
	ctrl := newTestController(t, f, Rules{})

	require.NoError(t, ctrl.Close(ctx))
	assert.Equal(t, 0, f.closeCalls, "no extra close call for an already closed order")
}

func TestCloseEmptyPhoneOrder(t *testing.T) {
	ctx := context.Background()
	f := newFakeBackend(backend.Order{ID: 2, OrderType: enum.OrderTypePhone, Status: enum.OrderStatusDraft})
	ctrl := newTestController(t, f, Rules{})

	require.NoError(t, ctrl.Close(ctx))
	assert.Equal(t, 1, f.closeCalls)
	assert.Equal(t, enum.OrderStatusClosed, ctrl.Status())
}

func TestAutoCloseAfterPay(t *testing.T) {
	ctx := context.Background()
	f := newFakeBackend(tableOrder(1, 5))
	ctrl := newTestController(t, f, Rules{AutoCloseTableAfterPay: true})

	cola := cart.Product{ID: 3, Name: "Cola", Price: dec("4")}
	_, err := ctrl.AddToCart(cola, nil, "")
	require.NoError(t, err)
	require.NoError(t, ctrl.ConfirmUnconfirmed(ctx))
	f.deliverAll()

	_, err = ctrl.PayItems(ctx, "Cash", nil)
	require.NoError(t, err)
	assert.Equal(t, 1, f.closeCalls)
	assert.Equal(t, enum.OrderStatusClosed, ctrl.Status())
}

func TestAutoCloseSkippedWhileKitchenPending(t *testing.T) {
	ctx := context.Background()
	f := newFakeBackend(tableOrder(1, 5))
	ctrl := newTestController(t, f, Rules{AutoCloseTableAfterPay: true})

	_, err := ctrl.AddToCart(burger(), nil, "")
	require.NoError(t, err)
	require.NoError(t, ctrl.ConfirmUnconfirmed(ctx))
	f.setKitchenStatus(enum.KitchenStatusPreparing)

	_, err = ctrl.PayItems(ctx, "Cash", nil)
	require.NoError(t, err, "a blocked auto-close must not fail the payment")
	assert.Equal(t, 0, f.closeCalls)
	assert.Equal(t, enum.OrderStatusPaid, ctrl.Status())
}

func TestDisposeResetsEmptyOrder(t *testing.T) {
	f := newFakeBackend(tableOrder(1, 5))
	ctrl := newTestController(t, f, Rules{})

	ctrl.Dispose(context.Background())
	assert.Equal(t, 1, f.resetCalls)

	_, err := ctrl.AddToCart(burger(), nil, "")
	assert.ErrorIs(t, err, ErrSessionDisposed)
}

func TestDisposeKeepsOrdersWithItems(t *testing.T) {
	ctx := context.Background()
	f := newFakeBackend(tableOrder(1, 5))
	ctrl := newTestController(t, f, Rules{})

	_, err := ctrl.AddToCart(burger(), nil, "")
	require.NoError(t, err)
	require.NoError(t, ctrl.ConfirmUnconfirmed(ctx))

	ctrl.Dispose(ctx)
	assert.Equal(t, 0, f.resetCalls)
}

func TestSetDiscountValidation(t *testing.T) {
	f := newFakeBackend(tableOrder(1, 5))
	ctrl := newTestController(t, f, Rules{})

	assert.Error(t, ctrl.SetDiscount(pricing.Discount{Type: enum.DiscountTypePercent, Value: dec("120")}))
	assert.Error(t, ctrl.SetDiscount(pricing.Discount{Type: enum.DiscountTypeFixed, Value: dec("-5")}))
	assert.Error(t, ctrl.SetDiscount(pricing.Discount{Type: "bogus", Value: dec("5")}))
	assert.NoError(t, ctrl.SetDiscount(pricing.Discount{Type: enum.DiscountTypeNone}))
}

func TestRefreshDropsDraftsConfirmedElsewhere(t *testing.T) {
	ctx := context.Background()
	f := newFakeBackend(tableOrder(1, 5))
	ctrl := newTestController(t, f, Rules{})

	line, err := ctrl.AddToCart(burger(), nil, "")
	require.NoError(t, err)

	// Another terminal persisted the same line.
	f.mu.Lock()
	f.items = append(f.items, backend.OrderItem{
		ID:        500,
		OrderID:   1,
		ProductID: 7,
		UniqueID:  line.Key.String(),
		Name:      "Burger",
		Price:     dec("20"),
		Quantity:  1,
	})
	f.mu.Unlock()

	require.NoError(t, ctrl.Refresh(ctx))
	items := ctrl.Items()
	require.Len(t, items, 1)
	assert.True(t, items[0].Confirmed)
}
