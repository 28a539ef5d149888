package session

import (
	"context"
	"strconv"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/kiwari-pos/terminal/internal/backend"
	"github.com/kiwari-pos/terminal/internal/enum"
)

// Directory extends Backend with the lookups the manager needs to open
// sessions.
type Directory interface {
	Backend
	OrderByTable(ctx context.Context, table int) (*backend.Order, error)
	CreateOrder(ctx context.Context, req backend.CreateOrderRequest) (*backend.Order, error)
}

// Manager tracks the live session controllers on this terminal, at most
// one per order.
type Manager struct {
	api   Directory
	rules Rules
	lg    *zap.Logger

	sf       singleflight.Group
	mu       sync.Mutex
	sessions map[int64]*Controller
}

// NewManager creates an empty session manager.
func NewManager(api Directory, rules Rules, lg *zap.Logger) *Manager {
	return &Manager{
		api:      api,
		rules:    rules,
		lg:       lg,
		sessions: make(map[int64]*Controller),
	}
}

// OpenTable returns the session for a table, creating a draft order on
// the backend when the table is free. Concurrent opens for the same
// table share one lookup so a double-tapped table never spawns two
// orders.
func (m *Manager) OpenTable(ctx context.Context, table int) (*Controller, error) {
	if table <= 0 {
		return nil, guard("table number must be positive")
	}

	v, err, _ := m.sf.Do("table-"+strconv.Itoa(table), func() (interface{}, error) {
		if ctrl := m.findByTable(table); ctrl != nil {
			if err := ctrl.Refresh(ctx); err != nil && !IsGuard(err) {
				return nil, err
			}
			return ctrl, nil
		}

		order, err := m.api.OrderByTable(ctx, table)
		if err != nil {
			return nil, err
		}
		if order == nil {
			t := table
			order, err = m.api.CreateOrder(ctx, backend.CreateOrderRequest{
				TableNumber: &t,
				OrderType:   enum.OrderTypeTable,
				Status:      enum.OrderStatusDraft,
			})
			if err != nil {
				return nil, err
			}
		}
		return m.adopt(ctx, order)
	})
	if err != nil {
		return nil, err
	}
	return v.(*Controller), nil
}

// OpenOrder returns the session for an order id, fetching the order when
// no session exists yet. Used for phone and packet orders that have no
// table to open by.
func (m *Manager) OpenOrder(ctx context.Context, orderID int64) (*Controller, error) {
	v, err, _ := m.sf.Do("order-"+strconv.FormatInt(orderID, 10), func() (interface{}, error) {
		m.mu.Lock()
		ctrl, ok := m.sessions[orderID]
		m.mu.Unlock()
		if ok {
			if err := ctrl.Refresh(ctx); err != nil && !IsGuard(err) {
				return nil, err
			}
			return ctrl, nil
		}

		order, err := m.api.Order(ctx, orderID)
		if err != nil {
			return nil, err
		}
		return m.adopt(ctx, order)
	})
	if err != nil {
		return nil, err
	}
	return v.(*Controller), nil
}

func (m *Manager) adopt(ctx context.Context, order *backend.Order) (*Controller, error) {
	ctrl := NewController(order, m.api, m.rules, m.lg)
	if err := ctrl.Refresh(ctx); err != nil {
		return nil, err
	}
	m.mu.Lock()
	m.sessions[order.ID] = ctrl
	m.mu.Unlock()
	return ctrl, nil
}

// findByTable scans live sessions for one on the given table. The pool
// is small, a linear scan beats keeping a second index in sync across
// moves and merges.
func (m *Manager) findByTable(table int) *Controller {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, ctrl := range m.sessions {
		if t, ok := ctrl.TableNumber(); ok && t == table {
			return ctrl
		}
	}
	return nil
}

// Get returns the live session for an order, if any.
func (m *Manager) Get(orderID int64) (*Controller, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ctrl, ok := m.sessions[orderID]
	return ctrl, ok
}

// Release disposes a session and forgets it.
func (m *Manager) Release(ctx context.Context, orderID int64) {
	m.mu.Lock()
	ctrl, ok := m.sessions[orderID]
	delete(m.sessions, orderID)
	m.mu.Unlock()
	if ok {
		ctrl.Dispose(ctx)
	}
}
