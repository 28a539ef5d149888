// Package transfer coordinates moving an order to a free table and
// merging it into another table's order.
package transfer

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/kiwari-pos/terminal/internal/backend"
	"github.com/kiwari-pos/terminal/internal/realtime"
	"github.com/kiwari-pos/terminal/internal/socket"
)

// Backend is the slice of the REST client the coordinator needs.
type Backend interface {
	ListOrders(ctx context.Context) ([]backend.Order, error)
	Order(ctx context.Context, orderID int64) (*backend.Order, error)
	MoveTable(ctx context.Context, orderID int64, table int) error
	MergeTable(ctx context.Context, orderID int64, req backend.MergeTableRequest) error
}

// GuardError is a transfer rule violation the operator can recover from.
type GuardError struct {
	Reason string
}

func (e *GuardError) Error() string { return e.Reason }

func guard(reason string) error { return &GuardError{Reason: reason} }

// Target describes one table in the transfer picker.
type Target struct {
	Table    int    `json:"table"`
	Occupied bool   `json:"occupied"`
	OrderID  int64  `json:"order_id,omitempty"`
	CanMove  bool   `json:"can_move"`
	CanMerge bool   `json:"can_merge"`
}

// MergeResult reports how a merge ended. Confirmed means the backend's
// broadcast arrived in time; a false value only means the confirmation
// window elapsed, not that the merge failed.
type MergeResult struct {
	TargetTable int            `json:"target_table"`
	Order       *backend.Order `json:"order"`
	Confirmed   bool           `json:"confirmed"`
}

// Coordinator validates and executes table transfers.
type Coordinator struct {
	api        Backend
	bus        socket.Bus
	tableCount int
	mergeWait  time.Duration
	lg         *zap.Logger
}

// NewCoordinator creates a coordinator for a floor of tableCount tables.
func NewCoordinator(api Backend, bus socket.Bus, tableCount int, mergeWait time.Duration, lg *zap.Logger) *Coordinator {
	return &Coordinator{
		api:        api,
		bus:        bus,
		tableCount: tableCount,
		mergeWait:  mergeWait,
		lg:         lg,
	}
}

// Targets lists every table with what the order on currentTable may do
// with it: move to it when free, merge into it when occupied by another
// order.
func (c *Coordinator) Targets(ctx context.Context, currentTable int) ([]Target, error) {
	orders, err := c.api.ListOrders(ctx)
	if err != nil {
		return nil, err
	}

	occupied := make(map[int]int64, len(orders))
	for _, o := range orders {
		if o.TableNumber != nil {
			occupied[*o.TableNumber] = o.ID
		}
	}

	targets := make([]Target, 0, c.tableCount)
	for table := 1; table <= c.tableCount; table++ {
		t := Target{Table: table}
		if id, ok := occupied[table]; ok {
			t.Occupied = true
			t.OrderID = id
			t.CanMerge = table != currentTable
		} else {
			t.CanMove = true
		}
		targets = append(targets, t)
	}
	return targets, nil
}

func (c *Coordinator) validateTable(table int) error {
	if table < 1 || table > c.tableCount {
		return guard("table number out of range")
	}
	return nil
}

// Move relocates an order to a free table. The backend call is
// synchronous; when it returns the order lives on the new table.
func (c *Coordinator) Move(ctx context.Context, orderID int64, targetTable int) error {
	if err := c.validateTable(targetTable); err != nil {
		return err
	}
	orders, err := c.api.ListOrders(ctx)
	if err != nil {
		return err
	}
	for _, o := range orders {
		if o.TableNumber == nil || *o.TableNumber != targetTable {
			continue
		}
		if o.ID == orderID {
			return guard("order is already on that table")
		}
		return guard("target table is occupied")
	}

	if err := c.api.MoveTable(ctx, orderID, targetTable); err != nil {
		return err
	}
	c.lg.Info("order moved",
		zap.Int64("order_id", orderID),
		zap.Int("table", targetTable))
	return nil
}

// Merge folds an order into the order on the target table. The merge
// itself is the PATCH call; the coordinator then waits briefly for the
// backend's merge broadcast so the caller knows the combined order is
// visible everywhere. The watch opens before the PATCH, a broadcast
// racing the response still counts.
func (c *Coordinator) Merge(ctx context.Context, orderID int64, sourceTable, targetTable int) (*MergeResult, error) {
	if err := c.validateTable(targetTable); err != nil {
		return nil, err
	}
	orders, err := c.api.ListOrders(ctx)
	if err != nil {
		return nil, err
	}
	var target *backend.Order
	for i := range orders {
		if orders[i].TableNumber != nil && *orders[i].TableNumber == targetTable {
			target = &orders[i]
			break
		}
	}
	if target == nil {
		return nil, guard("target table has no order to merge into")
	}
	if target.ID == orderID {
		return nil, guard("cannot merge an order into itself")
	}

	watch := realtime.WatchMerge(c.bus, targetTable)
	defer watch.Close()

	targetID := target.ID
	if err := c.api.MergeTable(ctx, orderID, backend.MergeTableRequest{
		TargetTableNumber: targetTable,
		TargetOrderID:     &targetID,
		SourceTableNumber: sourceTable,
	}); err != nil {
		return nil, err
	}

	ev, confirmed := watch.Wait(ctx, c.mergeWait)
	if !confirmed {
		c.lg.Info("merge broadcast not seen before deadline",
			zap.Int64("order_id", orderID),
			zap.Int("table", targetTable))
	} else {
		c.lg.Info("merge confirmed",
			zap.Int64("order_id", orderID),
			zap.Int64("target_order_id", ev.Order.ID),
			zap.Int("table", targetTable))
	}

	merged, err := c.api.Order(ctx, target.ID)
	if err != nil {
		return nil, err
	}
	return &MergeResult{TargetTable: targetTable, Order: merged, Confirmed: confirmed}, nil
}
