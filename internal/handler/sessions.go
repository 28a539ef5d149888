package handler

import (
	"net/http"
	"strconv"
	"sync"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/kiwari-pos/terminal/internal/cart"
	"github.com/kiwari-pos/terminal/internal/pricing"
	"github.com/kiwari-pos/terminal/internal/realtime"
	"github.com/kiwari-pos/terminal/internal/session"
	"github.com/kiwari-pos/terminal/internal/socket"
	"github.com/kiwari-pos/terminal/internal/transfer"
)

// SessionHandler serves the session lifecycle endpoints and keeps each
// open session bound to the realtime event stream.
type SessionHandler struct {
	sessions  *session.Manager
	transfers *transfer.Coordinator
	bus       socket.Bus
	lg        *zap.Logger

	mu       sync.Mutex
	bindings map[int64]*realtime.Binding
}

// NewSessionHandler creates the handler.
func NewSessionHandler(sessions *session.Manager, transfers *transfer.Coordinator, bus socket.Bus, lg *zap.Logger) *SessionHandler {
	return &SessionHandler{
		sessions:  sessions,
		transfers: transfers,
		bus:       bus,
		lg:        lg,
		bindings:  make(map[int64]*realtime.Binding),
	}
}

// RegisterRoutes mounts the session endpoints.
func (h *SessionHandler) RegisterRoutes(r chi.Router) {
	r.Get("/sessions/table/{table}", h.openTable)
	r.Get("/sessions/{id}", h.get)
	r.Delete("/sessions/{id}", h.release)

	r.Post("/sessions/{id}/cart", h.addToCart)
	r.Patch("/sessions/{id}/cart/{key}", h.adjustLine)
	r.Delete("/sessions/{id}/cart/{key}", h.removeLine)
	r.Delete("/sessions/{id}/cart", h.clearUnconfirmed)
	r.Put("/sessions/{id}/discount", h.setDiscount)

	r.Post("/sessions/{id}/confirm", h.confirm)
	r.Post("/sessions/{id}/pay", h.pay)
	r.Post("/sessions/{id}/pay/split", h.paySplit)
	r.Post("/sessions/{id}/close", h.close)

	r.Get("/sessions/{id}/transfer-targets", h.transferTargets)
	r.Post("/sessions/{id}/move", h.move)
	r.Post("/sessions/{id}/merge", h.merge)
}

func (h *SessionHandler) bind(ctrl *session.Controller) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.bindings[ctrl.OrderID()]; ok {
		return
	}
	h.bindings[ctrl.OrderID()] = realtime.Bind(h.bus, ctrl, realtime.Hooks{}, h.lg)
}

func (h *SessionHandler) unbind(orderID int64) {
	h.mu.Lock()
	b, ok := h.bindings[orderID]
	delete(h.bindings, orderID)
	h.mu.Unlock()
	if ok {
		b.Close()
	}
}

func (h *SessionHandler) controller(w http.ResponseWriter, r *http.Request) (*session.Controller, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid session id")
		return nil, false
	}
	ctrl, ok := h.sessions.Get(id)
	if !ok {
		writeError(w, http.StatusNotFound, "no such session")
		return nil, false
	}
	return ctrl, true
}

func (h *SessionHandler) openTable(w http.ResponseWriter, r *http.Request) {
	table, err := strconv.Atoi(chi.URLParam(r, "table"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid table number")
		return
	}
	ctrl, err := h.sessions.OpenTable(r.Context(), table)
	if err != nil {
		respondErr(w, h.lg, err)
		return
	}
	h.bind(ctrl)
	writeJSON(w, http.StatusOK, ctrl.Snapshot())
}

func (h *SessionHandler) get(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid session id")
		return
	}
	ctrl, err := h.sessions.OpenOrder(r.Context(), id)
	if err != nil {
		respondErr(w, h.lg, err)
		return
	}
	h.bind(ctrl)
	writeJSON(w, http.StatusOK, ctrl.Snapshot())
}

func (h *SessionHandler) release(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid session id")
		return
	}
	h.unbind(id)
	h.sessions.Release(r.Context(), id)
	w.WriteHeader(http.StatusNoContent)
}

type addToCartRequest struct {
	Product cart.Product          `json:"product"`
	Extras  []cart.ExtraSelection `json:"extras"`
	Note    string                `json:"note"`
}

func (h *SessionHandler) addToCart(w http.ResponseWriter, r *http.Request) {
	ctrl, ok := h.controller(w, r)
	if !ok {
		return
	}
	var req addToCartRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if req.Product.ID == 0 {
		writeError(w, http.StatusBadRequest, "product is required")
		return
	}
	line, err := ctrl.AddToCart(req.Product, req.Extras, req.Note)
	if err != nil {
		respondErr(w, h.lg, err)
		return
	}
	writeJSON(w, http.StatusCreated, line)
}

type adjustLineRequest struct {
	Op string `json:"op"`
}

func (h *SessionHandler) adjustLine(w http.ResponseWriter, r *http.Request) {
	ctrl, ok := h.controller(w, r)
	if !ok {
		return
	}
	var req adjustLineRequest
	if !decodeBody(w, r, &req) {
		return
	}
	key := chi.URLParam(r, "key")

	var err error
	switch req.Op {
	case "increment":
		err = ctrl.Increment(key)
	case "decrement":
		err = ctrl.Decrement(key)
	default:
		writeError(w, http.StatusBadRequest, "op must be increment or decrement")
		return
	}
	if err != nil {
		respondErr(w, h.lg, err)
		return
	}
	writeJSON(w, http.StatusOK, ctrl.Snapshot())
}

func (h *SessionHandler) removeLine(w http.ResponseWriter, r *http.Request) {
	ctrl, ok := h.controller(w, r)
	if !ok {
		return
	}
	if err := ctrl.Remove(chi.URLParam(r, "key")); err != nil {
		respondErr(w, h.lg, err)
		return
	}
	writeJSON(w, http.StatusOK, ctrl.Snapshot())
}

func (h *SessionHandler) clearUnconfirmed(w http.ResponseWriter, r *http.Request) {
	ctrl, ok := h.controller(w, r)
	if !ok {
		return
	}
	if err := ctrl.ClearUnconfirmed(); err != nil {
		respondErr(w, h.lg, err)
		return
	}
	writeJSON(w, http.StatusOK, ctrl.Snapshot())
}

func (h *SessionHandler) setDiscount(w http.ResponseWriter, r *http.Request) {
	ctrl, ok := h.controller(w, r)
	if !ok {
		return
	}
	var req pricing.Discount
	if !decodeBody(w, r, &req) {
		return
	}
	if err := ctrl.SetDiscount(req); err != nil {
		respondErr(w, h.lg, err)
		return
	}
	writeJSON(w, http.StatusOK, ctrl.Snapshot())
}

func (h *SessionHandler) confirm(w http.ResponseWriter, r *http.Request) {
	ctrl, ok := h.controller(w, r)
	if !ok {
		return
	}
	if err := ctrl.ConfirmUnconfirmed(r.Context()); err != nil {
		respondErr(w, h.lg, err)
		return
	}
	writeJSON(w, http.StatusOK, ctrl.Snapshot())
}

type payRequest struct {
	Method string           `json:"method"`
	Items  map[string]int64 `json:"items"`
}

type payResponse struct {
	ReceiptID string           `json:"receipt_id"`
	Session   session.Snapshot `json:"session"`
}

func (h *SessionHandler) pay(w http.ResponseWriter, r *http.Request) {
	ctrl, ok := h.controller(w, r)
	if !ok {
		return
	}
	var req payRequest
	if !decodeBody(w, r, &req) {
		return
	}
	receiptID, err := ctrl.PayItems(r.Context(), req.Method, req.Items)
	if err != nil {
		respondErr(w, h.lg, err)
		return
	}
	writeJSON(w, http.StatusOK, payResponse{ReceiptID: receiptID, Session: ctrl.Snapshot()})
}

type paySplitRequest struct {
	Splits map[string]decimal.Decimal `json:"splits"`
}

func (h *SessionHandler) paySplit(w http.ResponseWriter, r *http.Request) {
	ctrl, ok := h.controller(w, r)
	if !ok {
		return
	}
	var req paySplitRequest
	if !decodeBody(w, r, &req) {
		return
	}
	receiptID, err := ctrl.PayWithSplits(r.Context(), req.Splits)
	if err != nil {
		respondErr(w, h.lg, err)
		return
	}
	writeJSON(w, http.StatusOK, payResponse{ReceiptID: receiptID, Session: ctrl.Snapshot()})
}

func (h *SessionHandler) close(w http.ResponseWriter, r *http.Request) {
	ctrl, ok := h.controller(w, r)
	if !ok {
		return
	}
	if err := ctrl.Close(r.Context()); err != nil {
		respondErr(w, h.lg, err)
		return
	}
	writeJSON(w, http.StatusOK, ctrl.Snapshot())
}

func (h *SessionHandler) transferTargets(w http.ResponseWriter, r *http.Request) {
	ctrl, ok := h.controller(w, r)
	if !ok {
		return
	}
	current, _ := ctrl.TableNumber()
	targets, err := h.transfers.Targets(r.Context(), current)
	if err != nil {
		respondErr(w, h.lg, err)
		return
	}
	writeJSON(w, http.StatusOK, targets)
}

type transferRequest struct {
	Table int `json:"table"`
}

func (h *SessionHandler) move(w http.ResponseWriter, r *http.Request) {
	ctrl, ok := h.controller(w, r)
	if !ok {
		return
	}
	var req transferRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if err := h.transfers.Move(r.Context(), ctrl.OrderID(), req.Table); err != nil {
		respondErr(w, h.lg, err)
		return
	}
	if err := ctrl.Refresh(r.Context()); err != nil {
		respondErr(w, h.lg, err)
		return
	}
	writeJSON(w, http.StatusOK, ctrl.Snapshot())
}

func (h *SessionHandler) merge(w http.ResponseWriter, r *http.Request) {
	ctrl, ok := h.controller(w, r)
	if !ok {
		return
	}
	var req transferRequest
	if !decodeBody(w, r, &req) {
		return
	}
	sourceTable, _ := ctrl.TableNumber()
	result, err := h.transfers.Merge(r.Context(), ctrl.OrderID(), sourceTable, req.Table)
	if err != nil {
		respondErr(w, h.lg, err)
		return
	}
	// The source order is gone after a merge; drop its session.
	h.unbind(ctrl.OrderID())
	h.sessions.Release(r.Context(), ctrl.OrderID())
	writeJSON(w, http.StatusOK, result)
}
