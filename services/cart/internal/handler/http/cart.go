package http

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/shopspring/decimal"

	apperrors "github.com/utafrali/EcommerceGo/pkg/errors"
	"github.com/utafrali/EcommerceGo/pkg/httputil"
	"github.com/utafrali/EcommerceGo/pkg/logger"
	"github.com/utafrali/EcommerceGo/pkg/validator"
	"github.com/utafrali/EcommerceGo/services/cart/internal/domain"
	"github.com/utafrali/EcommerceGo/services/cart/internal/service"
	"github.com/utafrali/EcommerceGo/services/cart/internal/store"
)

// CartHandler handles HTTP requests for cart endpoints.
type CartHandler struct {
	sessions *service.SessionManager
	logger   *slog.Logger
}

// NewCartHandler creates a new cart HTTP handler.
func NewCartHandler(sessions *service.SessionManager, logger *slog.Logger) *CartHandler {
	return &CartHandler{
		sessions: sessions,
		logger:   logger,
	}
}

// --- Request DTOs ---

// VariantRequest is the optional variant of a line. Missing fields are empty.
type VariantRequest struct {
	Color string `json:"color" validate:"max=64"`
	Size  string `json:"size" validate:"max=64"`
	SKU   string `json:"sku" validate:"max=128"`
}

func (v *VariantRequest) toDomain() *domain.Variant {
	if v == nil {
		return nil
	}
	return &domain.Variant{Color: v.Color, Size: v.Size, SKU: v.SKU}
}

// ItemRequest names a line by product and variant.
type ItemRequest struct {
	ProductID string          `json:"product_id" validate:"required,max=64"`
	Variant   *VariantRequest `json:"variant"`
}

func (req ItemRequest) identity() domain.Identity {
	return domain.NewIdentity(req.ProductID, req.Variant.toDomain())
}

// AddItemRequest is the JSON request body for adding an item to the cart.
// A zero quantity adds one unit.
type AddItemRequest struct {
	ProductID string          `json:"product_id" validate:"required,max=64"`
	Variant   *VariantRequest `json:"variant"`
	Name      string          `json:"name" validate:"max=500"`
	UnitPrice string          `json:"unit_price" validate:"required,money"`
	Quantity  int             `json:"quantity" validate:"gte=0,lte=999"`
}

// SetQuantityRequest is the JSON request body for setting a line's quantity.
// A zero quantity removes the line.
type SetQuantityRequest struct {
	ProductID string          `json:"product_id" validate:"required,max=64"`
	Variant   *VariantRequest `json:"variant"`
	Quantity  int             `json:"quantity" validate:"gte=0,lte=999"`
}

// --- Handlers ---

// GetCart handles GET /api/v1/cart
func (h *CartHandler) GetCart(w http.ResponseWriter, r *http.Request) {
	st, err := sessionFromContext(r.Context()).State()
	h.respond(w, r, st, err)
}

// ClearCart handles DELETE /api/v1/cart
func (h *CartHandler) ClearCart(w http.ResponseWriter, r *http.Request) {
	st, err := sessionFromContext(r.Context()).Clear(r.Context())
	h.respond(w, r, st, err)
}

// AddItem handles POST /api/v1/cart/items
func (h *CartHandler) AddItem(w http.ResponseWriter, r *http.Request) {
	var req AddItemRequest
	if err := validator.DecodeAndValidate(r, &req); err != nil {
		httputil.WriteValidationError(w, err)
		return
	}

	in := store.AddInput{
		ProductID: req.ProductID,
		Variant:   req.Variant.toDomain(),
		Name:      req.Name,
		UnitPrice: decimal.RequireFromString(req.UnitPrice),
		Quantity:  req.Quantity,
	}

	st, err := sessionFromContext(r.Context()).Add(r.Context(), in)
	h.respond(w, r, st, err)
}

// SetQuantity handles PUT /api/v1/cart/items/quantity
func (h *CartHandler) SetQuantity(w http.ResponseWriter, r *http.Request) {
	var req SetQuantityRequest
	if err := validator.DecodeAndValidate(r, &req); err != nil {
		httputil.WriteValidationError(w, err)
		return
	}

	id := ItemRequest{ProductID: req.ProductID, Variant: req.Variant}.identity()
	st, err := sessionFromContext(r.Context()).SetQuantity(r.Context(), id, req.Quantity)
	h.respond(w, r, st, err)
}

// Increment handles POST /api/v1/cart/items/increment
func (h *CartHandler) Increment(w http.ResponseWriter, r *http.Request) {
	h.lineOp(w, r, (*service.Session).Increment)
}

// Decrement handles POST /api/v1/cart/items/decrement
func (h *CartHandler) Decrement(w http.ResponseWriter, r *http.Request) {
	h.lineOp(w, r, (*service.Session).Decrement)
}

// RemoveItem handles POST /api/v1/cart/items/remove
func (h *CartHandler) RemoveItem(w http.ResponseWriter, r *http.Request) {
	h.lineOp(w, r, (*service.Session).Remove)
}

// Sync handles POST /api/v1/cart/sync
func (h *CartHandler) Sync(w http.ResponseWriter, r *http.Request) {
	st, err := sessionFromContext(r.Context()).Sync(r.Context())
	h.respond(w, r, st, err)
}

// EndSession handles DELETE /api/v1/cart/session
func (h *CartHandler) EndSession(w http.ResponseWriter, r *http.Request) {
	sid := logger.SessionIDFromContext(r.Context())
	h.sessions.End(r.Context(), sid)
	w.WriteHeader(http.StatusNoContent)
}

// --- Helpers ---

type lineFunc func(*service.Session, context.Context, domain.Identity) (domain.State, error)

func (h *CartHandler) lineOp(w http.ResponseWriter, r *http.Request, op lineFunc) {
	var req ItemRequest
	if err := validator.DecodeAndValidate(r, &req); err != nil {
		httputil.WriteValidationError(w, err)
		return
	}

	st, err := op(sessionFromContext(r.Context()), r.Context(), req.identity())
	h.respond(w, r, st, err)
}

func (h *CartHandler) respond(w http.ResponseWriter, r *http.Request, st domain.State, err error) {
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	if st.Items == nil {
		st.Items = []domain.LineItem{}
	}
	httputil.WriteData(w, http.StatusOK, st)
}

func (h *CartHandler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	if errors.Is(err, service.ErrSessionEnded) || errors.Is(err, store.ErrStoreClosed) {
		err = apperrors.Conflict("cart session was closed, retry the request")
	}
	httputil.WriteError(w, r, err, h.logger)
}
