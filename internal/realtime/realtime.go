// Package realtime wires backend socket events to live sessions so a
// merge landed by another terminal shows up here without a manual
// reload, and payment notifications reach the UI.
package realtime

import (
	"context"
	"encoding/json"
	"time"

	"go.uber.org/zap"

	"github.com/kiwari-pos/terminal/internal/enum"
	"github.com/kiwari-pos/terminal/internal/socket"
)

// ItemPaidEvent announces paid stamps landing on an order's items.
// Display-only: sessions reconcile paid state through their own fetches.
type ItemPaidEvent struct {
	OrderID   int64  `json:"order_id"`
	ReceiptID string `json:"receipt_id"`
}

// MergedEvent carries the surviving order of a merge.
type MergedEvent struct {
	Order struct {
		ID          int64 `json:"id"`
		TableNumber int   `json:"table_number"`
	} `json:"order"`
}

// StockEvent announces a product stock change.
type StockEvent struct {
	ProductID int64 `json:"product_id"`
}

// Refresher is the session surface a binding drives.
type Refresher interface {
	OrderID() int64
	Refresh(ctx context.Context) error
}

// Hooks are the optional notification callbacks a binding forwards to.
type Hooks struct {
	ItemPaid func(ItemPaidEvent)
	Stock    func(StockEvent)
}

// Binding keeps one session in sync with the event stream. Close it when
// the session goes away so handlers never outlive their session.
type Binding struct {
	subs []*socket.Subscription
}

// Bind subscribes a session to the events that affect it. A merge
// touching the session triggers a refetch; item_paid is a notification
// only and never mutates state. Refreshes run on the dispatch goroutine
// with a short deadline; a session mid-operation reports busy and the
// next event catches it up.
func Bind(bus socket.Bus, target Refresher, hooks Hooks, lg *zap.Logger) *Binding {
	refresh := func(reason string) {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := target.Refresh(ctx); err != nil {
			lg.Warn("refresh after event failed",
				zap.String("event", reason),
				zap.Int64("order_id", target.OrderID()),
				zap.Error(err))
		}
	}

	b := &Binding{}
	b.subs = append(b.subs, bus.On(enum.EventItemPaid, func(payload json.RawMessage) {
		var ev ItemPaidEvent
		if err := json.Unmarshal(payload, &ev); err != nil || ev.OrderID != target.OrderID() {
			return
		}
		if hooks.ItemPaid != nil {
			hooks.ItemPaid(ev)
			return
		}
		lg.Info("payment notification",
			zap.Int64("order_id", ev.OrderID),
			zap.String("receipt_id", ev.ReceiptID))
	}))
	b.subs = append(b.subs, bus.On(enum.EventOrderMerged, func(payload json.RawMessage) {
		var ev MergedEvent
		if err := json.Unmarshal(payload, &ev); err != nil || ev.Order.ID != target.OrderID() {
			return
		}
		refresh(enum.EventOrderMerged)
	}))
	if hooks.Stock != nil {
		b.subs = append(b.subs, bus.On(enum.EventStockUpdated, func(payload json.RawMessage) {
			var ev StockEvent
			if err := json.Unmarshal(payload, &ev); err != nil {
				return
			}
			hooks.Stock(ev)
		}))
	}
	return b
}

// Close removes every subscription the binding holds.
func (b *Binding) Close() {
	for _, s := range b.subs {
		s.Off()
	}
	b.subs = nil
}

// MergeWatch is a one-shot wait for a merge landing on one table. Open
// the watch before issuing the merge call so a fast broadcast is not
// missed, then Wait after the call returns.
type MergeWatch struct {
	sub *socket.Subscription
	got chan MergedEvent
}

// WatchMerge starts listening for a merge broadcast on the given table.
func WatchMerge(bus socket.Bus, table int) *MergeWatch {
	w := &MergeWatch{got: make(chan MergedEvent, 1)}
	w.sub = bus.On(enum.EventOrderMerged, func(payload json.RawMessage) {
		var ev MergedEvent
		if err := json.Unmarshal(payload, &ev); err != nil || ev.Order.TableNumber != table {
			return
		}
		select {
		case w.got <- ev:
		default:
		}
	})
	return w
}

// Wait blocks until the broadcast arrives, the timeout passes, or ctx is
// done. It reports whether the event arrived.
func (w *MergeWatch) Wait(ctx context.Context, timeout time.Duration) (MergedEvent, bool) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case ev := <-w.got:
		return ev, true
	case <-timer.C:
		return MergedEvent{}, false
	case <-ctx.Done():
		return MergedEvent{}, false
	}
}

// Close removes the subscription.
func (w *MergeWatch) Close() {
	w.sub.Off()
}
