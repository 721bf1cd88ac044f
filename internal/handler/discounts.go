package handler

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"

	"github.com/shopengine/discount/internal/codes"
	"github.com/shopengine/discount/internal/domain/discount"
)

// discountPayload is the create/update request body.
type discountPayload struct {
	Kind        string          `json:"kind"`
	Title       string          `json:"title"`
	Code        string          `json:"code"`
	UniqueCodes bool            `json:"unique_codes"`
	ValidFrom   *time.Time      `json:"valid_from"`
	ValidUntil  *time.Time      `json:"valid_until"`
	Active      *bool           `json:"active"`
	Amount      decimal.Decimal `json:"amount"`
	MinQuantity int             `json:"min_quantity"`
}

// discountResponse mirrors one persisted record. UniqueCodesCount is present
// only for unique-code discounts; for the rest the notion is undefined.
type discountResponse struct {
	ID               string          `json:"id"`
	Kind             string          `json:"kind"`
	Title            string          `json:"title"`
	Code             string          `json:"code"`
	UniqueCodes      bool            `json:"unique_codes"`
	ValidFrom        time.Time       `json:"valid_from"`
	ValidUntil       *time.Time      `json:"valid_until,omitempty"`
	Active           bool            `json:"active"`
	NumUses          int             `json:"num_uses"`
	Amount           decimal.Decimal `json:"amount"`
	MinQuantity      int             `json:"min_quantity,omitempty"`
	UniqueCodesCount *int            `json:"unique_codes_count,omitempty"`
}

func (h *Handler) toResponse(r *http.Request, rec *discount.Record) (discountResponse, error) {
	resp := discountResponse{
		ID:          rec.ID,
		Kind:        string(rec.Kind),
		Title:       rec.Title,
		Code:        rec.Code,
		UniqueCodes: rec.UniqueCodes,
		ValidFrom:   rec.ValidFrom,
		ValidUntil:  rec.ValidUntil,
		Active:      rec.Active,
		NumUses:     rec.NumUses,
		Amount:      rec.Amount,
		MinQuantity: rec.MinQuantity,
	}

	n, ok, err := h.query.UniqueCodesCount(r.Context(), rec)
	if err != nil {
		return resp, err
	}
	if ok {
		resp.UniqueCodesCount = &n
	}
	return resp, nil
}

// ListDiscounts returns every configured discount.
func (h *Handler) ListDiscounts(w http.ResponseWriter, r *http.Request) {
	recs, err := h.discounts.List(r.Context())
	if err != nil {
		writeInternal(w, r, err)
		return
	}

	out := make([]discountResponse, 0, len(recs))
	for _, rec := range recs {
		resp, err := h.toResponse(r, rec)
		if err != nil {
			writeInternal(w, r, err)
			return
		}
		out = append(out, resp)
	}
	writeJSON(w, http.StatusOK, out)
}

// GetDiscount returns one discount by ID.
func (h *Handler) GetDiscount(w http.ResponseWriter, r *http.Request) {
	rec, err := h.discounts.Get(r.Context(), chi.URLParam(r, "discountID"))
	if err != nil {
		if errors.Is(err, discount.ErrNotFound) {
			writeError(w, http.StatusNotFound, "discount not found")
			return
		}
		writeInternal(w, r, err)
		return
	}

	resp, err := h.toResponse(r, rec)
	if err != nil {
		writeInternal(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// CreateDiscount persists a new discount record. A record carrying both a
// shared code and unique-code mode is not rejected: the save normalization
// clears the shared code, unique mode wins.
func (h *Handler) CreateDiscount(w http.ResponseWriter, r *http.Request) {
	var in discountPayload
	if err := decodeBody(r, &in); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	rec, errMsg := recordFromPayload(&in)
	if errMsg != "" {
		writeError(w, http.StatusUnprocessableEntity, errMsg)
		return
	}

	if err := h.discounts.Save(r.Context(), rec); err != nil {
		writeInternal(w, r, err)
		return
	}

	resp, err := h.toResponse(r, rec)
	if err != nil {
		writeInternal(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, resp)
}

// UpdateDiscount overwrites an existing record. Switching out of unique-code
// mode discards the record's issued codes; any confirmation step belongs to
// the admin UI in front of this API.
func (h *Handler) UpdateDiscount(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "discountID")
	existing, err := h.discounts.Get(r.Context(), id)
	if err != nil {
		if errors.Is(err, discount.ErrNotFound) {
			writeError(w, http.StatusNotFound, "discount not found")
			return
		}
		writeInternal(w, r, err)
		return
	}

	var in discountPayload
	if err := decodeBody(r, &in); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	rec, errMsg := recordFromPayload(&in)
	if errMsg != "" {
		writeError(w, http.StatusUnprocessableEntity, errMsg)
		return
	}
	rec.ID = existing.ID
	rec.NumUses = existing.NumUses

	if err := h.discounts.Save(r.Context(), rec); err != nil {
		writeInternal(w, r, err)
		return
	}

	resp, err := h.toResponse(r, rec)
	if err != nil {
		writeInternal(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// recordFromPayload validates the payload and maps it to a record. It returns
// a non-empty message describing the first rejection. Percent amounts above
// 100 pass through: the range is a convention, not a model constraint.
func recordFromPayload(in *discountPayload) (*discount.Record, string) {
	kind := discount.Kind(in.Kind)
	if !kind.Valid() {
		return nil, "unsupported discount kind"
	}
	if in.Title == "" {
		return nil, "title required"
	}
	if in.Amount.IsNegative() {
		return nil, "amount must not be negative"
	}
	if kind == discount.KindBulkItem && in.MinQuantity < 1 {
		return nil, "min_quantity must be at least 1 for bulk discounts"
	}

	rec := &discount.Record{
		Kind:        kind,
		Title:       in.Title,
		Code:        in.Code,
		UniqueCodes: in.UniqueCodes,
		ValidUntil:  in.ValidUntil,
		Active:      true,
		Amount:      in.Amount,
		MinQuantity: in.MinQuantity,
	}
	if in.ValidFrom != nil {
		rec.ValidFrom = *in.ValidFrom
	} else {
		rec.ValidFrom = time.Now()
	}
	if in.Active != nil {
		rec.Active = *in.Active
	}
	return rec, ""
}

// generateCodesRequest is the batch-generation request body.
type generateCodesRequest struct {
	NumberOfCodes int `json:"number_of_codes"`
}

// codeResponse is one ledger entry.
type codeResponse struct {
	Code   string `json:"code"`
	CartID string `json:"cart_id,omitempty"`
}

// GenerateCodes creates a batch of pronounceable single-use codes for a
// unique-code discount.
func (h *Handler) GenerateCodes(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "discountID")
	rec, err := h.discounts.Get(r.Context(), id)
	if err != nil {
		if errors.Is(err, discount.ErrNotFound) {
			writeError(w, http.StatusNotFound, "discount not found")
			return
		}
		writeInternal(w, r, err)
		return
	}
	if !rec.HasUniqueCode() {
		writeError(w, http.StatusUnprocessableEntity, "discount does not use unique codes")
		return
	}

	var in generateCodesRequest
	if err := decodeBody(r, &in); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	batch, err := codes.Generate(in.NumberOfCodes)
	if err != nil {
		if errors.Is(err, codes.ErrBatchTooSmall) {
			writeError(w, http.StatusUnprocessableEntity, err.Error())
			return
		}
		writeInternal(w, r, err)
		return
	}

	if err := h.ledger.Insert(r.Context(), rec.ID, batch); err != nil {
		writeInternal(w, r, err)
		return
	}

	out := make([]codeResponse, len(batch))
	for i, c := range batch {
		out[i] = codeResponse{Code: c}
	}
	writeJSON(w, http.StatusCreated, out)
}

// ListCodes returns the discount's issued codes.
func (h *Handler) ListCodes(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "discountID")
	if _, err := h.discounts.Get(r.Context(), id); err != nil {
		if errors.Is(err, discount.ErrNotFound) {
			writeError(w, http.StatusNotFound, "discount not found")
			return
		}
		writeInternal(w, r, err)
		return
	}

	entries, err := h.ledger.List(r.Context(), id)
	if err != nil {
		writeInternal(w, r, err)
		return
	}

	out := make([]codeResponse, len(entries))
	for i, e := range entries {
		out[i] = codeResponse{Code: e.Code, CartID: e.CartID}
	}
	writeJSON(w, http.StatusOK, out)
}
