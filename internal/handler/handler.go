// Package handler exposes the engine's internal HTTP surface: discount
// administration, unique-code management, cart evaluation, and the
// order-completion hook the checkout pipeline calls into.
package handler

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"

	"github.com/shopengine/discount/internal/domain/cart"
	"github.com/shopengine/discount/internal/domain/discount"
)

// ProductCatalog is the slice of the product store the handlers need.
type ProductCatalog interface {
	discount.ProductSource
	GetByIDs(ctx context.Context, ids []string) ([]cart.Product, error)
}

// Handler wires the HTTP surface to the domain services.
type Handler struct {
	discounts  discount.Repository
	ledger     discount.Ledger
	cartCodes  discount.CartCodes
	products   ProductCatalog
	query      *discount.Query
	engine     *discount.Engine
	completion discount.CompletionHandler
}

// NewHandler constructs a Handler with the required domain dependencies.
func NewHandler(
	discounts discount.Repository,
	ledger discount.Ledger,
	cartCodes discount.CartCodes,
	products ProductCatalog,
	query *discount.Query,
	engine *discount.Engine,
	completion discount.CompletionHandler,
) *Handler {
	return &Handler{
		discounts:  discounts,
		ledger:     ledger,
		cartCodes:  cartCodes,
		products:   products,
		query:      query,
		engine:     engine,
		completion: completion,
	}
}

// Routes builds the chi router for the API surface.
func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()

	r.Route("/discounts", func(r chi.Router) {
		r.Get("/", h.ListDiscounts)
		r.Post("/", h.CreateDiscount)
		r.Route("/{discountID}", func(r chi.Router) {
			r.Get("/", h.GetDiscount)
			r.Put("/", h.UpdateDiscount)
			r.Get("/codes", h.ListCodes)
			r.Post("/codes", h.GenerateCodes)
		})
	})

	r.Post("/carts/{cartID}/code", h.AttachCartCode)
	r.Post("/evaluate", h.Evaluate)
	r.Post("/orders/complete", h.CompleteOrder)

	return r
}

// errorResponse is the uniform error payload.
type errorResponse struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{Code: status, Message: msg})
}

// writeInternal logs the error with the request-scoped logger and hides the
// detail from the client.
func writeInternal(w http.ResponseWriter, r *http.Request, err error) {
	zctx.From(r.Context()).Error("request failed", zap.Error(err))
	writeError(w, http.StatusInternalServerError, "internal error")
}

func decodeBody(r *http.Request, v any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	return dec.Decode(v)
}
