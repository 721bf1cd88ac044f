package handler

import (
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"

	cartpkg "github.com/shopengine/discount/internal/domain/cart"
	"github.com/shopengine/discount/internal/domain/discount"
)

// evaluateRequest carries a cart snapshot plus the code the shopper offered.
type evaluateRequest struct {
	CartID string         `json:"cart_id"`
	Code   string         `json:"code"`
	Items  []evaluateItem `json:"items"`
}

type evaluateItem struct {
	ProductID string `json:"product_id"`
	Quantity  int    `json:"quantity"`
}

// evaluateResponse is the itemized breakdown the checkout pipeline folds into
// its displayed total.
type evaluateResponse struct {
	Subtotal   decimal.Decimal      `json:"subtotal"`
	CartFields []cartpkg.PriceField `json:"cart_fields"`
	Items      []evaluatedLine      `json:"items"`
	Applied    []string             `json:"applied"`
}

type evaluatedLine struct {
	ProductID    string               `json:"product_id"`
	Quantity     int                  `json:"quantity"`
	LineSubtotal decimal.Decimal      `json:"line_subtotal"`
	Fields       []cartpkg.PriceField `json:"fields"`
}

// Evaluate runs the eligibility query and the calculators over the supplied
// cart. An empty applicable set is not an error: the response simply carries
// no adjustments.
func (h *Handler) Evaluate(w http.ResponseWriter, r *http.Request) {
	var in evaluateRequest
	if err := decodeBody(r, &in); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if len(in.Items) == 0 {
		writeError(w, http.StatusBadRequest, "items required")
		return
	}

	c, errMsg, err := h.buildCart(r, &in)
	if err != nil {
		writeInternal(w, r, err)
		return
	}
	if errMsg != "" {
		writeError(w, http.StatusUnprocessableEntity, errMsg)
		return
	}

	applicable, err := h.query.Active(r.Context(), time.Time{}, in.Code)
	if err != nil {
		writeInternal(w, r, err)
		return
	}

	if err := h.engine.ApplyAll(r.Context(), applicable, c); err != nil {
		writeInternal(w, r, err)
		return
	}

	resp := evaluateResponse{
		Subtotal:   c.SubtotalPrice(),
		CartFields: emptyIfNil(c.ExtraPriceFields),
		Items:      make([]evaluatedLine, len(c.Items)),
		Applied:    make([]string, 0, len(applicable)),
	}
	for i, item := range c.Items {
		resp.Items[i] = evaluatedLine{
			ProductID:    item.Product.ID,
			Quantity:     item.Quantity,
			LineSubtotal: item.LineSubtotal,
			Fields:       emptyIfNil(item.ExtraPriceFields),
		}
	}
	for _, rec := range applicable {
		resp.Applied = append(resp.Applied, rec.ID)
	}

	writeJSON(w, http.StatusOK, resp)
}

// buildCart resolves the request's product references into a cart. The
// middle return carries a client-facing rejection, the last a server fault.
func (h *Handler) buildCart(r *http.Request, in *evaluateRequest) (*cartpkg.Cart, string, error) {
	ids := make([]string, len(in.Items))
	for i, item := range in.Items {
		if item.Quantity <= 0 {
			return nil, fmt.Sprintf("quantity must be greater than 0 for product %s", item.ProductID), nil
		}
		ids[i] = item.ProductID
	}

	fetched, err := h.products.GetByIDs(r.Context(), ids)
	if err != nil {
		return nil, "", errors.Wrap(err, "get products")
	}
	byID := make(map[string]cartpkg.Product, len(fetched))
	for _, p := range fetched {
		byID[p.ID] = p
	}

	c := &cartpkg.Cart{ID: in.CartID, Items: make([]*cartpkg.Item, len(in.Items))}
	for i, item := range in.Items {
		p, ok := byID[item.ProductID]
		if !ok {
			return nil, fmt.Sprintf("product %s not found", item.ProductID), nil
		}
		c.Items[i] = cartpkg.NewItem(p, item.Quantity)
	}
	return c, "", nil
}

// attachCodeRequest attaches a shopper-entered code to a cart.
type attachCodeRequest struct {
	Code string `json:"code"`
}

// AttachCartCode stores the shopper's code for the cart and, when the code
// belongs to a unique-code pool, binds the ledger entry to the cart. Shared
// codes simply miss the ledger; that is not an error.
func (h *Handler) AttachCartCode(w http.ResponseWriter, r *http.Request) {
	cartID := chi.URLParam(r, "cartID")

	var in attachCodeRequest
	if err := decodeBody(r, &in); err != nil || in.Code == "" {
		writeError(w, http.StatusBadRequest, "code required")
		return
	}

	if err := h.cartCodes.Attach(r.Context(), cartID, in.Code); err != nil {
		writeInternal(w, r, err)
		return
	}

	if err := h.ledger.Bind(r.Context(), in.Code, cartID); err != nil && !errors.Is(err, discount.ErrCodeNotFound) {
		writeInternal(w, r, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// completeOrderRequest identifies the completed order's cart.
type completeOrderRequest struct {
	CartID string `json:"cart_id"`
}

// CompleteOrder is the hook the order pipeline calls exactly once per
// completed order; it runs the usage-accounting transition synchronously.
func (h *Handler) CompleteOrder(w http.ResponseWriter, r *http.Request) {
	var in completeOrderRequest
	if err := decodeBody(r, &in); err != nil || in.CartID == "" {
		writeError(w, http.StatusBadRequest, "cart_id required")
		return
	}

	if err := h.completion(r.Context(), in.CartID); err != nil {
		writeInternal(w, r, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func emptyIfNil(fields []cartpkg.PriceField) []cartpkg.PriceField {
	if fields == nil {
		return []cartpkg.PriceField{}
	}
	return fields
}
