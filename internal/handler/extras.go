package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/kiwari-pos/terminal/internal/cart"
	"github.com/kiwari-pos/terminal/internal/extras"
)

// ExtrasHandler serves the extras-group catalog and resolves the groups
// to offer for a product.
type ExtrasHandler struct {
	catalog *extras.Catalog
	lg      *zap.Logger
}

// NewExtrasHandler creates the handler.
func NewExtrasHandler(catalog *extras.Catalog, lg *zap.Logger) *ExtrasHandler {
	return &ExtrasHandler{catalog: catalog, lg: lg}
}

// RegisterRoutes mounts the extras endpoints.
func (h *ExtrasHandler) RegisterRoutes(r chi.Router) {
	r.Get("/extras-groups", h.list)
	r.Post("/extras-groups/refresh", h.refresh)
	r.Post("/extras/resolve", h.resolve)
}

func (h *ExtrasHandler) list(w http.ResponseWriter, r *http.Request) {
	groups, err := h.catalog.Groups(r.Context())
	if err != nil {
		respondErr(w, h.lg, err)
		return
	}
	if groups == nil {
		groups = []extras.Group{}
	}
	writeJSON(w, http.StatusOK, groups)
}

func (h *ExtrasHandler) refresh(w http.ResponseWriter, r *http.Request) {
	h.catalog.Invalidate()
	groups, err := h.catalog.Groups(r.Context())
	if err != nil {
		respondErr(w, h.lg, err)
		return
	}
	if groups == nil {
		groups = []extras.Group{}
	}
	writeJSON(w, http.StatusOK, groups)
}

func (h *ExtrasHandler) resolve(w http.ResponseWriter, r *http.Request) {
	var product cart.Product
	if !decodeBody(w, r, &product) {
		return
	}
	if product.ID == 0 {
		writeError(w, http.StatusBadRequest, "product is required")
		return
	}
	catalog, err := h.catalog.Groups(r.Context())
	if err != nil {
		respondErr(w, h.lg, err)
		return
	}
	groups := extras.ResolveGroups(product, catalog)
	if groups == nil {
		groups = []extras.Group{}
	}
	writeJSON(w, http.StatusOK, groups)
}
