package http

import (
	"bytes"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/SaleDjerfi/shopit/internal/auth"
	"github.com/SaleDjerfi/shopit/internal/cache"
	"github.com/SaleDjerfi/shopit/internal/domain"
	"github.com/SaleDjerfi/shopit/internal/event"
	badgerstore "github.com/SaleDjerfi/shopit/internal/repository/badger"
	"github.com/SaleDjerfi/shopit/internal/service"
	"github.com/SaleDjerfi/shopit/pkg/health"
	"github.com/SaleDjerfi/shopit/pkg/httputil"
	"github.com/SaleDjerfi/shopit/pkg/middleware"
)

const testSecret = "handler-test-secret"

var (
	root  = auth.Identity{ID: "admin-root", Name: "Root", Role: auth.RoleAdmin}
	alice = auth.Identity{ID: "user-alice", Name: "Alice", Role: auth.RoleCustomer}
	bob   = auth.Identity{ID: "user-bob", Name: "Bob", Role: auth.RoleCustomer}
)

// =============================================================================
// Test server
// =============================================================================

type testServer struct {
	handler http.Handler
	issuer  *auth.Issuer
}

func newTestServer(t *testing.T, limiter *middleware.RateLimiter) *testServer {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	cfg := badgerstore.InMemoryConfig()
	cfg.ConflictRetries = 200
	db, err := badgerstore.Open(cfg, logger)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	productSvc := service.NewProductService(badgerstore.NewProductRepository(db), cache.Noop{}, event.Noop{}, logger)
	reviewSvc := service.NewReviewService(badgerstore.NewReviewRepository(db), cache.Noop{}, event.Noop{}, logger, 0)

	gate := auth.NewGate(auth.NewVerifier(testSecret))
	routes := Routes(NewProductHandler(productSvc, logger), NewReviewHandler(reviewSvc, logger), gate, limiter)

	return &testServer{
		handler: NewRouter(routes, health.NewHandler(), logger, RouterConfig{ServiceName: "catalog-test", AllowedOrigins: []string{"*"}}),
		issuer:  auth.NewIssuer(testSecret, time.Hour),
	}
}

func (s *testServer) token(t *testing.T, id auth.Identity) string {
	t.Helper()
	token, err := s.issuer.Issue(id)
	require.NoError(t, err)
	return token
}

// do sends a request as id; a nil id sends no credentials. A string body is
// sent verbatim, anything else is JSON encoded.
func (s *testServer) do(t *testing.T, method, path string, body any, id *auth.Identity) *httptest.ResponseRecorder {
	t.Helper()

	var reader io.Reader
	switch b := body.(type) {
	case nil:
	case string:
		reader = strings.NewReader(b)
	default:
		raw, err := json.Marshal(b)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	}

	req := httptest.NewRequest(method, path, reader)
	if reader != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if id != nil {
		req.Header.Set("Authorization", "Bearer "+s.token(t, *id))
	}

	rec := httptest.NewRecorder()
	s.handler.ServeHTTP(rec, req)
	return rec
}

type envelope struct {
	Success bool                    `json:"success"`
	Data    json.RawMessage         `json:"data"`
	Message string                  `json:"message"`
	Error   *httputil.ErrorResponse `json:"error"`

	TotalCount int `json:"total_count"`
	Page       int `json:"page"`
	PerPage    int `json:"per_page"`
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) envelope {
	t.Helper()
	var env envelope
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env), rec.Body.String())
	return env
}

func decodeData[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	require.NoError(t, json.Unmarshal(decode(t, rec).Data, &out), rec.Body.String())
	return out
}

func requireErrorCode(t *testing.T, rec *httptest.ResponseRecorder, status int, code string) envelope {
	t.Helper()
	require.Equal(t, status, rec.Code, rec.Body.String())
	env := decode(t, rec)
	require.NotNil(t, env.Error)
	assert.False(t, env.Success)
	assert.Equal(t, code, env.Error.Code)
	assert.Equal(t, env.Error.Message, env.Message)
	return env
}

func newProductBody(name string, price int64, category domain.Category) map[string]any {
	return map[string]any{
		"name":        name,
		"price":       price,
		"description": name + " for everyday use",
		"category":    string(category),
		"stock":       5,
		"images":      []map[string]string{{"public_id": "products/" + name, "url": "https://cdn.example.com/" + name + ".jpg"}},
	}
}

func (s *testServer) createProduct(t *testing.T, name string, price int64, category domain.Category) domain.ProductView {
	t.Helper()
	rec := s.do(t, http.MethodPost, "/api/v1/admin/product/new", newProductBody(name, price, category), &root)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	return decodeData[domain.ProductView](t, rec)
}

func (s *testServer) getProduct(t *testing.T, id string) domain.ProductView {
	t.Helper()
	rec := s.do(t, http.MethodGet, "/api/v1/products/"+id, nil, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	return decodeData[domain.ProductView](t, rec)
}

// =============================================================================
// CreateProduct
// =============================================================================

func TestCreateProduct_Success(t *testing.T) {
	s := newTestServer(t, nil)

	rec := s.do(t, http.MethodPost, "/api/v1/admin/product/new", newProductBody("Trail Camera", 12999, domain.CategoryCameras), &root)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	env := decode(t, rec)
	assert.True(t, env.Success)

	var p domain.ProductView
	require.NoError(t, json.Unmarshal(env.Data, &p))
	assert.NotEmpty(t, p.ID)
	assert.True(t, strings.HasPrefix(p.Slug, "trail-camera-"))
	assert.Equal(t, int64(12999), p.Price)
	assert.Equal(t, root.ID, p.Seller)
	assert.Zero(t, p.Rating)
	assert.Zero(t, p.ReviewCount)
	require.Len(t, p.Images, 1)
}

func TestCreateProduct_Unauthenticated(t *testing.T) {
	s := newTestServer(t, nil)

	rec := s.do(t, http.MethodPost, "/api/v1/admin/product/new", newProductBody("Lamp", 100, domain.CategoryHome), nil)
	env := requireErrorCode(t, rec, http.StatusUnauthorized, "UNAUTHENTICATED")
	assert.Contains(t, env.Error.Message, "login first")
}

func TestCreateProduct_CustomerForbidden_NothingCreated(t *testing.T) {
	s := newTestServer(t, nil)

	rec := s.do(t, http.MethodPost, "/api/v1/admin/product/new", newProductBody("Lamp", 100, domain.CategoryHome), &alice)
	requireErrorCode(t, rec, http.StatusForbidden, "FORBIDDEN")

	list := s.do(t, http.MethodGet, "/api/v1/products", nil, nil)
	assert.Zero(t, decode(t, list).TotalCount)
}

func TestCreateProduct_ValidationError(t *testing.T) {
	s := newTestServer(t, nil)

	body := newProductBody("Lamp", 0, domain.CategoryHome)
	body["stock"] = -1

	rec := s.do(t, http.MethodPost, "/api/v1/admin/product/new", body, &root)
	env := requireErrorCode(t, rec, http.StatusBadRequest, "VALIDATION_ERROR")
	assert.Contains(t, env.Error.Fields, "price")
	assert.Contains(t, env.Error.Fields, "stock")
}

func TestCreateProduct_UnknownCategory(t *testing.T) {
	s := newTestServer(t, nil)

	rec := s.do(t, http.MethodPost, "/api/v1/admin/product/new", newProductBody("Robot", 100, domain.Category("Toys")), &root)
	requireErrorCode(t, rec, http.StatusBadRequest, "VALIDATION_ERROR")
}

func TestCreateProduct_InvalidJSON(t *testing.T) {
	s := newTestServer(t, nil)

	rec := s.do(t, http.MethodPost, "/api/v1/admin/product/new", `{"name": `, &root)
	env := requireErrorCode(t, rec, http.StatusBadRequest, "VALIDATION_ERROR")
	assert.Contains(t, env.Error.Message, "malformed JSON")
}

func TestCreateProduct_WrongContentType(t *testing.T) {
	s := newTestServer(t, nil)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/admin/product/new", strings.NewReader("<product/>"))
	req.Header.Set("Content-Type", "application/xml")
	req.Header.Set("Authorization", "Bearer "+s.token(t, root))
	rec := httptest.NewRecorder()
	s.handler.ServeHTTP(rec, req)

	requireErrorCode(t, rec, http.StatusUnsupportedMediaType, "UNSUPPORTED_MEDIA_TYPE")
}

func TestCreateProduct_WrongContentTypeChecksCallerFirst(t *testing.T) {
	s := newTestServer(t, nil)

	tests := []struct {
		name   string
		caller *auth.Identity
		status int
		code   string
	}{
		{"anonymous", nil, http.StatusUnauthorized, "UNAUTHENTICATED"},
		{"customer", &alice, http.StatusForbidden, "FORBIDDEN"},
		{"admin", &root, http.StatusUnsupportedMediaType, "UNSUPPORTED_MEDIA_TYPE"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/api/v1/admin/product/new", strings.NewReader("name=camera"))
			req.Header.Set("Content-Type", "text/plain")
			if tt.caller != nil {
				req.Header.Set("Authorization", "Bearer "+s.token(t, *tt.caller))
			}
			rec := httptest.NewRecorder()
			s.handler.ServeHTTP(rec, req)

			requireErrorCode(t, rec, tt.status, tt.code)
		})
	}
}

// =============================================================================
// ListProducts / GetProduct
// =============================================================================

func TestListProducts_Filters(t *testing.T) {
	s := newTestServer(t, nil)
	s.createProduct(t, "Trail Camera", 12999, domain.CategoryCameras)
	s.createProduct(t, "Action Camera", 4999, domain.CategoryCameras)
	s.createProduct(t, "Desk Lamp", 2500, domain.CategoryHome)

	tests := []struct {
		name  string
		query string
		want  int
	}{
		{"all", "", 3},
		{"keyword", "?keyword=camera", 2},
		{"category", "?category=Home", 1},
		{"price range", "?min_price=3000&max_price=13000", 2},
		{"keyword and max price", "?keyword=CAMERA&max_price=5000", 1},
		{"min rating excludes unrated", "?min_rating=1", 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := s.do(t, http.MethodGet, "/api/v1/products"+tt.query, nil, nil)
			require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
			env := decode(t, rec)
			assert.True(t, env.Success)
			assert.Equal(t, tt.want, env.TotalCount)
		})
	}
}

func TestListProducts_PaginationAndPublicView(t *testing.T) {
	s := newTestServer(t, nil)
	for _, name := range []string{"One", "Two", "Three"} {
		s.createProduct(t, name, 100, domain.CategoryBooks)
	}

	rec := s.do(t, http.MethodGet, "/api/v1/products?page=2&per_page=2", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	env := decode(t, rec)
	assert.Equal(t, 3, env.TotalCount)
	assert.Equal(t, 2, env.Page)
	assert.Equal(t, 2, env.PerPage)

	var page []domain.ProductView
	require.NoError(t, json.Unmarshal(env.Data, &page))
	require.Len(t, page, 1)
	assert.Empty(t, page[0].Seller)
}

func TestListProducts_EmptyCatalog(t *testing.T) {
	s := newTestServer(t, nil)

	rec := s.do(t, http.MethodGet, "/api/v1/products", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, "[]", string(decode(t, rec).Data))
}

func TestListProducts_InvalidParameters(t *testing.T) {
	s := newTestServer(t, nil)

	for _, q := range []string{
		"?min_price=abc",
		"?max_price=-5",
		"?min_price=500&max_price=100",
		"?category=Toys",
		"?min_rating=9",
	} {
		t.Run(q, func(t *testing.T) {
			rec := s.do(t, http.MethodGet, "/api/v1/products"+q, nil, nil)
			requireErrorCode(t, rec, http.StatusBadRequest, "INVALID_PARAMETER")
		})
	}
}

func TestGetProduct(t *testing.T) {
	s := newTestServer(t, nil)
	created := s.createProduct(t, "Desk Lamp", 2500, domain.CategoryHome)

	got := s.getProduct(t, created.ID)
	assert.Equal(t, created.Name, got.Name)
	assert.Empty(t, got.Seller)
}

func TestGetProduct_NotFound(t *testing.T) {
	s := newTestServer(t, nil)

	rec := s.do(t, http.MethodGet, "/api/v1/products/"+uuid.NewString(), nil, nil)
	requireErrorCode(t, rec, http.StatusNotFound, "NOT_FOUND")
}

func TestGetProduct_InvalidID(t *testing.T) {
	s := newTestServer(t, nil)

	rec := s.do(t, http.MethodGet, "/api/v1/products/not-a-uuid", nil, nil)
	env := requireErrorCode(t, rec, http.StatusBadRequest, "VALIDATION_ERROR")
	assert.Equal(t, "must be a valid UUID", env.Error.Fields["id"])
}

func TestListAdminProducts(t *testing.T) {
	s := newTestServer(t, nil)
	s.createProduct(t, "First", 100, domain.CategoryBooks)
	s.createProduct(t, "Second", 100, domain.CategoryBooks)

	rec := s.do(t, http.MethodGet, "/api/v1/admin/products", nil, &root)
	require.Equal(t, http.StatusOK, rec.Code)
	all := decodeData[[]domain.ProductView](t, rec)
	require.Len(t, all, 2)
	assert.Equal(t, root.ID, all[0].Seller)

	requireErrorCode(t, s.do(t, http.MethodGet, "/api/v1/admin/products", nil, &alice), http.StatusForbidden, "FORBIDDEN")
}

// =============================================================================
// UpdateProduct
// =============================================================================

func TestUpdateProduct_MergesFields(t *testing.T) {
	s := newTestServer(t, nil)
	created := s.createProduct(t, "Desk Lamp", 2500, domain.CategoryHome)

	rec := s.do(t, http.MethodPut, "/api/v1/admin/products/"+created.ID, map[string]any{"price": 1999, "stock": 0}, &root)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	got := decodeData[domain.ProductView](t, rec)
	assert.Equal(t, int64(1999), got.Price)
	assert.Zero(t, got.Stock)
	assert.Equal(t, created.Name, got.Name)
	assert.Equal(t, created.Slug, got.Slug)
	assert.Equal(t, created.Description, got.Description)
}

func TestUpdateProduct_CannotTouchAggregate(t *testing.T) {
	s := newTestServer(t, nil)
	created := s.createProduct(t, "Desk Lamp", 2500, domain.CategoryHome)

	rec := s.do(t, http.MethodPut, "/api/v1/admin/products/"+created.ID, map[string]any{"rating": 5, "review_count": 40}, &root)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	got := s.getProduct(t, created.ID)
	assert.Zero(t, got.Rating)
	assert.Zero(t, got.ReviewCount)
}

func TestUpdateProduct_NonAdminForbidden_ProductUnchanged(t *testing.T) {
	s := newTestServer(t, nil)
	created := s.createProduct(t, "Desk Lamp", 2500, domain.CategoryHome)

	rec := s.do(t, http.MethodPut, "/api/v1/admin/products/"+created.ID, map[string]any{"price": 1}, &alice)
	requireErrorCode(t, rec, http.StatusForbidden, "FORBIDDEN")

	got := s.getProduct(t, created.ID)
	assert.Equal(t, created.Price, got.Price)
	assert.Equal(t, created.UpdatedAt, got.UpdatedAt)
}

func TestUpdateProduct_Invalid(t *testing.T) {
	s := newTestServer(t, nil)
	created := s.createProduct(t, "Desk Lamp", 2500, domain.CategoryHome)

	rec := s.do(t, http.MethodPut, "/api/v1/admin/products/"+created.ID, map[string]any{"price": -3}, &root)
	requireErrorCode(t, rec, http.StatusBadRequest, "VALIDATION_ERROR")

	rec = s.do(t, http.MethodPut, "/api/v1/admin/products/"+created.ID, map[string]any{"category": "Toys"}, &root)
	requireErrorCode(t, rec, http.StatusBadRequest, "VALIDATION_ERROR")

	assert.Equal(t, created.Price, s.getProduct(t, created.ID).Price)
}

func TestUnknownRoute_NotFoundEnvelope(t *testing.T) {
	s := newTestServer(t, nil)

	rec := s.do(t, http.MethodGet, "/api/v1/widgets", nil, nil)
	env := requireErrorCode(t, rec, http.StatusNotFound, "NOT_FOUND")
	assert.Equal(t, "route /api/v1/widgets not found", env.Message)
}

func TestUpdateProduct_NotFound(t *testing.T) {
	s := newTestServer(t, nil)

	rec := s.do(t, http.MethodPut, "/api/v1/admin/products/"+uuid.NewString(), map[string]any{"price": 10}, &root)
	requireErrorCode(t, rec, http.StatusNotFound, "NOT_FOUND")
}

// =============================================================================
// DeleteProduct
// =============================================================================

func TestDeleteProduct_RemovesProductAndReviews(t *testing.T) {
	s := newTestServer(t, nil)
	created := s.createProduct(t, "Desk Lamp", 2500, domain.CategoryHome)

	rec := s.do(t, http.MethodPut, "/api/v1/review", map[string]any{"productId": created.ID, "rating": 4}, &alice)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = s.do(t, http.MethodDelete, "/api/v1/admin/products/"+created.ID, nil, &root)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	env := decode(t, rec)
	assert.True(t, env.Success)
	assert.Equal(t, "product is deleted", env.Message)

	requireErrorCode(t, s.do(t, http.MethodGet, "/api/v1/products/"+created.ID, nil, nil), http.StatusNotFound, "NOT_FOUND")
	requireErrorCode(t, s.do(t, http.MethodGet, "/api/v1/reviews?productId="+created.ID, nil, &alice), http.StatusNotFound, "NOT_FOUND")
	requireErrorCode(t, s.do(t, http.MethodDelete, "/api/v1/admin/products/"+created.ID, nil, &root), http.StatusNotFound, "NOT_FOUND")
}

func TestDeleteProduct_NonAdminForbidden(t *testing.T) {
	s := newTestServer(t, nil)
	created := s.createProduct(t, "Desk Lamp", 2500, domain.CategoryHome)

	requireErrorCode(t, s.do(t, http.MethodDelete, "/api/v1/admin/products/"+created.ID, nil, &alice), http.StatusForbidden, "FORBIDDEN")
	s.getProduct(t, created.ID)
}

// =============================================================================
// Router
// =============================================================================

func TestRouter_OperationalEndpoints(t *testing.T) {
	s := newTestServer(t, nil)

	for _, path := range []string{"/health/live", "/health/ready", "/metrics"} {
		rec := s.do(t, http.MethodGet, path, nil, nil)
		assert.Equal(t, http.StatusOK, rec.Code, path)
	}
}

func TestRouter_UnknownRoute(t *testing.T) {
	s := newTestServer(t, nil)

	rec := s.do(t, http.MethodGet, "/api/v1/nothing-here", nil, nil)
	requireErrorCode(t, rec, http.StatusNotFound, "NOT_FOUND")
}

func TestRouter_CorrelationIDEchoed(t *testing.T) {
	s := newTestServer(t, nil)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/products/"+uuid.NewString(), nil)
	req.Header.Set(middleware.CorrelationHeader, "corr-42")
	rec := httptest.NewRecorder()
	s.handler.ServeHTTP(rec, req)

	assert.Equal(t, "corr-42", rec.Header().Get(middleware.CorrelationHeader))
	env := requireErrorCode(t, rec, http.StatusNotFound, "NOT_FOUND")
	assert.Equal(t, "corr-42", env.Error.RequestID)
}

func TestRouter_CacheControlOnPublicReads(t *testing.T) {
	s := newTestServer(t, nil)

	rec := s.do(t, http.MethodGet, "/api/v1/products", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "no-store", rec.Header().Get("Cache-Control"))

	rec = s.do(t, http.MethodGet, "/api/v1/admin/products", nil, &root)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, rec.Header().Get("Cache-Control"))
}

func TestRoutes_Table(t *testing.T) {
	gate := auth.NewGate(auth.NewVerifier(testSecret))
	routes := Routes(&ProductHandler{}, &ReviewHandler{}, gate, middleware.NewRateLimiter(1, 1, time.Minute))

	guards := make(map[string]int, len(routes))
	for _, rt := range routes {
		guards[rt.Method+" "+rt.Pattern] = len(rt.Guards)
	}

	assert.Equal(t, map[string]int{
		"GET /products":               0,
		"GET /admin/products":         2,
		"GET /products/{id}":          0,
		"POST /admin/product/new":     2,
		"PUT /admin/products/{id}":    2,
		"DELETE /admin/products/{id}": 2,
		"PUT /review":                 2,
		"GET /reviews":                1,
		"DELETE /reviews":             2,
	}, guards)
}
