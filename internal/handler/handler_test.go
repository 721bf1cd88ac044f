package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shopengine/discount/internal/domain/cart"
	"github.com/shopengine/discount/internal/domain/discount"
)

type fakeRepo struct {
	recs []*discount.Record
	seq  int
}

func (f *fakeRepo) Get(_ context.Context, id string) (*discount.Record, error) {
	for _, rec := range f.recs {
		if rec.ID == id {
			return rec, nil
		}
	}
	return nil, discount.ErrNotFound
}

func (f *fakeRepo) List(_ context.Context) ([]*discount.Record, error) {
	return f.recs, nil
}

func (f *fakeRepo) ListActive(_ context.Context, at time.Time) ([]*discount.Record, error) {
	var out []*discount.Record
	for _, rec := range f.recs {
		if rec.WithinWindow(at) {
			out = append(out, rec)
		}
	}
	return out, nil
}

func (f *fakeRepo) FindByCode(_ context.Context, code string) (*discount.Record, error) {
	for _, rec := range f.recs {
		if rec.Code != "" && rec.Code == code {
			return rec, nil
		}
	}
	return nil, discount.ErrNotFound
}

func (f *fakeRepo) Save(_ context.Context, rec *discount.Record) error {
	rec.OnSave()
	if rec.ID == "" {
		f.seq++
		rec.ID = fmt.Sprintf("d%d", f.seq)
	}
	for i, existing := range f.recs {
		if existing.ID == rec.ID {
			f.recs[i] = rec
			return nil
		}
	}
	f.recs = append(f.recs, rec)
	return nil
}

func (f *fakeRepo) IncrementUses(_ context.Context, id string) error {
	for _, rec := range f.recs {
		if rec.ID == id {
			rec.NumUses++
		}
	}
	return nil
}

func (f *fakeRepo) IncrementBackgroundUses(_ context.Context, at time.Time) error {
	for _, rec := range f.recs {
		if rec.WithinWindow(at) && rec.Code == "" && !rec.UniqueCodes {
			rec.NumUses++
		}
	}
	return nil
}

type fakeLedger struct {
	pools map[string][]string
	bound map[string]string
}

func newFakeLedger() *fakeLedger {
	return &fakeLedger{pools: make(map[string][]string), bound: make(map[string]string)}
}

func (f *fakeLedger) Insert(_ context.Context, discountID string, batch []string) error {
	f.pools[discountID] = append(f.pools[discountID], batch...)
	return nil
}

func (f *fakeLedger) First(_ context.Context, discountID string) (string, error) {
	pool := f.pools[discountID]
	if len(pool) == 0 {
		return "", discount.ErrNoCodes
	}
	return pool[0], nil
}

func (f *fakeLedger) Count(_ context.Context, discountID string) (int, error) {
	return len(f.pools[discountID]), nil
}

func (f *fakeLedger) List(_ context.Context, discountID string) ([]discount.UniqueCode, error) {
	out := make([]discount.UniqueCode, 0, len(f.pools[discountID]))
	for _, code := range f.pools[discountID] {
		out = append(out, discount.UniqueCode{Code: code, DiscountID: discountID, CartID: f.bound[code]})
	}
	return out, nil
}

func (f *fakeLedger) Bind(_ context.Context, code, cartID string) error {
	for _, pool := range f.pools {
		for _, c := range pool {
			if c == code {
				f.bound[code] = cartID
				return nil
			}
		}
	}
	return discount.ErrCodeNotFound
}

func (f *fakeLedger) Consume(_ context.Context, code string) (string, error) {
	for discountID, pool := range f.pools {
		for i, c := range pool {
			if c == code {
				f.pools[discountID] = append(pool[:i:i], pool[i+1:]...)
				return discountID, nil
			}
		}
	}
	return "", discount.ErrCodeNotFound
}

func (f *fakeLedger) Purge(_ context.Context, discountID string) error {
	delete(f.pools, discountID)
	return nil
}

type fakeCartCodes struct {
	codes map[string]string
}

func (f *fakeCartCodes) Attach(_ context.Context, cartID, code string) error {
	if f.codes == nil {
		f.codes = make(map[string]string)
	}
	f.codes[cartID] = code
	return nil
}

func (f *fakeCartCodes) First(_ context.Context, cartID string) (string, error) {
	code, ok := f.codes[cartID]
	if !ok {
		return "", discount.ErrNoCartCode
	}
	return code, nil
}

type fakeCatalog struct {
	products []cart.Product
}

func (f *fakeCatalog) All(_ context.Context) ([]cart.Product, error) {
	return f.products, nil
}

func (f *fakeCatalog) GetByIDs(_ context.Context, ids []string) ([]cart.Product, error) {
	want := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		want[id] = struct{}{}
	}
	var out []cart.Product
	for _, p := range f.products {
		if _, ok := want[p.ID]; ok {
			out = append(out, p)
		}
	}
	return out, nil
}

type fixture struct {
	h          *Handler
	repo       *fakeRepo
	ledger     *fakeLedger
	cartCodes  *fakeCartCodes
	catalog    *fakeCatalog
	completed  []string
	completeFn discount.CompletionHandler
}

func newFixture() *fixture {
	f := &fixture{
		repo:      &fakeRepo{},
		ledger:    newFakeLedger(),
		cartCodes: &fakeCartCodes{},
		catalog: &fakeCatalog{products: []cart.Product{
			{ID: "p1", Name: "Waffle", Category: "breakfast", Price: decimal.RequireFromString("4.50")},
			{ID: "p2", Name: "Burger", Category: "lunch", Price: decimal.RequireFromString("9.00")},
		}},
	}
	f.completeFn = func(_ context.Context, cartID string) error {
		f.completed = append(f.completed, cartID)
		return nil
	}

	query := discount.NewQuery(f.repo, f.ledger)
	engine := discount.NewEngine(discount.NewRegistry(), f.catalog)
	f.h = NewHandler(f.repo, f.ledger, f.cartCodes, f.catalog, query, engine, f.completeFn)
	return f
}

func (f *fixture) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	rr := httptest.NewRecorder()
	f.h.Routes().ServeHTTP(rr, req)
	return rr
}

func decode[T any](t *testing.T, rr *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	require.NoError(t, json.NewDecoder(rr.Body).Decode(&out))
	return out
}

func activeRecord(id string, kind discount.Kind) *discount.Record {
	return &discount.Record{
		ID:        id,
		Kind:      kind,
		Title:     id,
		Active:    true,
		ValidFrom: time.Now().Add(-time.Hour),
	}
}

func TestCreateDiscount(t *testing.T) {
	f := newFixture()

	rr := f.do(t, http.MethodPost, "/discounts", map[string]any{
		"kind":   "percent_cart",
		"title":  "10% off everything",
		"amount": "10",
	})

	require.Equal(t, http.StatusCreated, rr.Code)
	resp := decode[discountResponse](t, rr)
	assert.NotEmpty(t, resp.ID)
	assert.Equal(t, "percent_cart", resp.Kind)
	assert.True(t, resp.Active)
	assert.Nil(t, resp.UniqueCodesCount)
}

func TestCreateDiscount_Validation(t *testing.T) {
	f := newFixture()

	tests := []struct {
		name    string
		payload map[string]any
		message string
	}{
		{
			name:    "unknown kind",
			payload: map[string]any{"kind": "percent", "title": "x", "amount": "10"},
			message: "unsupported discount kind",
		},
		{
			name:    "missing title",
			payload: map[string]any{"kind": "percent_cart", "amount": "10"},
			message: "title required",
		},
		{
			name:    "negative amount",
			payload: map[string]any{"kind": "absolute_cart", "title": "x", "amount": "-5"},
			message: "amount must not be negative",
		},
		{
			name:    "bulk without threshold",
			payload: map[string]any{"kind": "bulk_item", "title": "x", "amount": "10"},
			message: "min_quantity must be at least 1 for bulk discounts",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rr := f.do(t, http.MethodPost, "/discounts", tt.payload)
			require.Equal(t, http.StatusUnprocessableEntity, rr.Code)
			assert.Equal(t, tt.message, decode[errorResponse](t, rr).Message)
		})
	}
}

func TestCreateDiscount_UniqueModeClearsSharedCode(t *testing.T) {
	f := newFixture()

	rr := f.do(t, http.MethodPost, "/discounts", map[string]any{
		"kind":         "absolute_cart",
		"title":        "invite only",
		"amount":       "5",
		"code":         "LEAKED",
		"unique_codes": true,
	})

	require.Equal(t, http.StatusCreated, rr.Code)
	resp := decode[discountResponse](t, rr)
	assert.Empty(t, resp.Code)
	assert.True(t, resp.UniqueCodes)
	require.NotNil(t, resp.UniqueCodesCount)
	assert.Equal(t, 0, *resp.UniqueCodesCount)
}

func TestGetDiscount_NotFound(t *testing.T) {
	f := newFixture()

	rr := f.do(t, http.MethodGet, "/discounts/missing", nil)
	assert.Equal(t, http.StatusNotFound, rr.Code)
}

func TestUpdateDiscount_PreservesUsageCounter(t *testing.T) {
	f := newFixture()
	rec := activeRecord("d1", discount.KindPercentCart)
	rec.NumUses = 7
	f.repo.recs = []*discount.Record{rec}

	rr := f.do(t, http.MethodPut, "/discounts/d1", map[string]any{
		"kind":   "percent_cart",
		"title":  "renamed",
		"amount": "15",
	})

	require.Equal(t, http.StatusOK, rr.Code)
	resp := decode[discountResponse](t, rr)
	assert.Equal(t, "renamed", resp.Title)
	assert.Equal(t, 7, resp.NumUses)
}

func TestGenerateCodes(t *testing.T) {
	f := newFixture()
	rec := activeRecord("d1", discount.KindPercentCart)
	rec.UniqueCodes = true
	f.repo.recs = []*discount.Record{rec}

	rr := f.do(t, http.MethodPost, "/discounts/d1/codes", map[string]any{"number_of_codes": 5})

	require.Equal(t, http.StatusCreated, rr.Code)
	out := decode[[]codeResponse](t, rr)
	assert.Len(t, out, 5)

	entries, err := f.ledger.List(context.Background(), "d1")
	require.NoError(t, err)
	assert.Len(t, entries, 5)
}

func TestGenerateCodes_Rejections(t *testing.T) {
	f := newFixture()
	shared := activeRecord("shared", discount.KindPercentCart)
	shared.Code = "SAVE10"
	unique := activeRecord("unique", discount.KindPercentCart)
	unique.UniqueCodes = true
	f.repo.recs = []*discount.Record{shared, unique}

	rr := f.do(t, http.MethodPost, "/discounts/shared/codes", map[string]any{"number_of_codes": 5})
	assert.Equal(t, http.StatusUnprocessableEntity, rr.Code)

	rr = f.do(t, http.MethodPost, "/discounts/unique/codes", map[string]any{"number_of_codes": 1})
	assert.Equal(t, http.StatusUnprocessableEntity, rr.Code)

	rr = f.do(t, http.MethodPost, "/discounts/missing/codes", map[string]any{"number_of_codes": 5})
	assert.Equal(t, http.StatusNotFound, rr.Code)
}

func TestListCodes(t *testing.T) {
	f := newFixture()
	rec := activeRecord("d1", discount.KindPercentCart)
	rec.UniqueCodes = true
	f.repo.recs = []*discount.Record{rec}
	require.NoError(t, f.ledger.Insert(context.Background(), "d1", []string{"abac12", "ocid34"}))
	require.NoError(t, f.ledger.Bind(context.Background(), "ocid34", "cart-9"))

	rr := f.do(t, http.MethodGet, "/discounts/d1/codes", nil)

	require.Equal(t, http.StatusOK, rr.Code)
	out := decode[[]codeResponse](t, rr)
	require.Len(t, out, 2)
	assert.Equal(t, codeResponse{Code: "abac12"}, out[0])
	assert.Equal(t, codeResponse{Code: "ocid34", CartID: "cart-9"}, out[1])
}

func TestAttachCartCode(t *testing.T) {
	f := newFixture()
	require.NoError(t, f.ledger.Insert(context.Background(), "d1", []string{"abac12"}))

	rr := f.do(t, http.MethodPost, "/carts/cart-1/code", map[string]any{"code": "abac12"})

	require.Equal(t, http.StatusNoContent, rr.Code)
	assert.Equal(t, "abac12", f.cartCodes.codes["cart-1"])
	assert.Equal(t, "cart-1", f.ledger.bound["abac12"])
}

func TestAttachCartCode_SharedCodeSkipsLedger(t *testing.T) {
	f := newFixture()

	// A shared code has no ledger entry; attaching it still succeeds.
	rr := f.do(t, http.MethodPost, "/carts/cart-1/code", map[string]any{"code": "SAVE10"})

	require.Equal(t, http.StatusNoContent, rr.Code)
	assert.Equal(t, "SAVE10", f.cartCodes.codes["cart-1"])
}

func TestAttachCartCode_MissingCode(t *testing.T) {
	f := newFixture()

	rr := f.do(t, http.MethodPost, "/carts/cart-1/code", map[string]any{})
	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestEvaluate(t *testing.T) {
	f := newFixture()
	background := activeRecord("background", discount.KindPercentCart)
	background.Amount = decimal.RequireFromString("10")
	f.repo.recs = []*discount.Record{background}

	rr := f.do(t, http.MethodPost, "/evaluate", map[string]any{
		"cart_id": "cart-1",
		"items": []map[string]any{
			{"product_id": "p1", "quantity": 2}, // 9.00
			{"product_id": "p2", "quantity": 1}, // 9.00
		},
	})

	require.Equal(t, http.StatusOK, rr.Code)
	resp := decode[evaluateResponse](t, rr)
	assert.True(t, decimal.RequireFromString("18.00").Equal(resp.Subtotal))
	require.Len(t, resp.CartFields, 1)
	assert.True(t, decimal.RequireFromString("1.80").Equal(resp.CartFields[0].Amount))
	assert.Equal(t, []string{"background"}, resp.Applied)
	require.Len(t, resp.Items, 2)
	assert.Empty(t, resp.Items[0].Fields)
}

func TestEvaluate_Rejections(t *testing.T) {
	f := newFixture()

	rr := f.do(t, http.MethodPost, "/evaluate", map[string]any{"cart_id": "cart-1"})
	assert.Equal(t, http.StatusBadRequest, rr.Code)

	rr = f.do(t, http.MethodPost, "/evaluate", map[string]any{
		"cart_id": "cart-1",
		"items":   []map[string]any{{"product_id": "p1", "quantity": 0}},
	})
	assert.Equal(t, http.StatusUnprocessableEntity, rr.Code)

	rr = f.do(t, http.MethodPost, "/evaluate", map[string]any{
		"cart_id": "cart-1",
		"items":   []map[string]any{{"product_id": "ghost", "quantity": 1}},
	})
	require.Equal(t, http.StatusUnprocessableEntity, rr.Code)
	assert.Equal(t, "product ghost not found", decode[errorResponse](t, rr).Message)
}

func TestCompleteOrder(t *testing.T) {
	f := newFixture()

	rr := f.do(t, http.MethodPost, "/orders/complete", map[string]any{"cart_id": "cart-1"})

	require.Equal(t, http.StatusNoContent, rr.Code)
	assert.Equal(t, []string{"cart-1"}, f.completed)

	rr = f.do(t, http.MethodPost, "/orders/complete", map[string]any{})
	assert.Equal(t, http.StatusBadRequest, rr.Code)
}
