package http

import (
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/SaleDjerfi/shopit/internal/auth"
	"github.com/SaleDjerfi/shopit/internal/domain"
	"github.com/SaleDjerfi/shopit/internal/repository"
	"github.com/SaleDjerfi/shopit/internal/service"
	"github.com/SaleDjerfi/shopit/pkg/httputil"
	"github.com/SaleDjerfi/shopit/pkg/pagination"
	"github.com/SaleDjerfi/shopit/pkg/validator"
)

// maxBodyBytes bounds product and review request bodies.
const maxBodyBytes = 1 << 20

// ProductHandler handles HTTP requests for product endpoints.
type ProductHandler struct {
	service *service.ProductService
	logger  *slog.Logger
}

// NewProductHandler creates a new product HTTP handler.
func NewProductHandler(svc *service.ProductService, logger *slog.Logger) *ProductHandler {
	return &ProductHandler{
		service: svc,
		logger:  logger,
	}
}

// --- Request DTOs ---

// ImageRequest references an uploaded image.
type ImageRequest struct {
	PublicID string `json:"public_id"`
	URL      string `json:"url" validate:"required"`
}

// CreateProductRequest is the JSON request body for creating a product.
type CreateProductRequest struct {
	Name        string         `json:"name" validate:"required,max=100"`
	Price       int64          `json:"price" validate:"gt=0"`
	Description string         `json:"description" validate:"required"`
	Images      []ImageRequest `json:"images" validate:"omitempty,dive"`
	Category    string         `json:"category" validate:"required"`
	Stock       int            `json:"stock" validate:"gte=0"`
}

// UpdateProductRequest is the JSON request body for updating a product.
// Absent fields are left unchanged.
type UpdateProductRequest struct {
	Name        *string        `json:"name" validate:"omitempty,max=100"`
	Price       *int64         `json:"price" validate:"omitempty,gt=0"`
	Description *string        `json:"description"`
	Images      []ImageRequest `json:"images" validate:"omitempty,dive"`
	Category    *string        `json:"category"`
	Stock       *int           `json:"stock" validate:"omitempty,gte=0"`
}

func toImages(in []ImageRequest) []domain.ProductImage {
	if in == nil {
		return nil
	}
	out := make([]domain.ProductImage, len(in))
	for i, img := range in {
		out[i] = domain.ProductImage{PublicID: img.PublicID, URL: img.URL}
	}
	return out
}

// --- Handlers ---

// ListProducts handles GET /api/v1/products
// Supports keyword, category, min_price, max_price, min_rating, page and
// per_page query parameters.
func (h *ProductHandler) ListProducts(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	params := pagination.FromRequest(r)

	filter := repository.ProductFilter{
		Keyword: q.Get("keyword"),
		Page:    params.Page,
		PerPage: params.PerPage,
	}

	if v := q.Get("category"); v != "" {
		c := domain.Category(v)
		if !c.Valid() {
			invalidParameter(w, "category is not one of the storefront categories")
			return
		}
		filter.Category = &c
	}
	if v := q.Get("min_price"); v != "" {
		p, err := strconv.ParseInt(v, 10, 64)
		if err != nil || p < 0 {
			invalidParameter(w, "min_price must be a non-negative integer")
			return
		}
		filter.MinPrice = &p
	}
	if v := q.Get("max_price"); v != "" {
		p, err := strconv.ParseInt(v, 10, 64)
		if err != nil || p < 0 {
			invalidParameter(w, "max_price must be a non-negative integer")
			return
		}
		filter.MaxPrice = &p
	}
	if filter.MinPrice != nil && filter.MaxPrice != nil && *filter.MinPrice > *filter.MaxPrice {
		invalidParameter(w, "min_price must not exceed max_price")
		return
	}
	if v := q.Get("min_rating"); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil || f < 0 || f > domain.MaxRating {
			invalidParameter(w, "min_rating must be a number between 0 and 5")
			return
		}
		filter.MinRating = &f
	}

	products, total, err := h.service.ListPublic(r.Context(), filter)
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}

	httputil.WriteJSON(w, http.StatusOK, httputil.NewPaginatedResponse(domain.PublicViews(products), total, filter.Page, filter.PerPage))
}

// ListAdminProducts handles GET /api/v1/admin/products
func (h *ProductHandler) ListAdminProducts(w http.ResponseWriter, r *http.Request) {
	caller, _ := auth.IdentityFromContext(r.Context())

	products, err := h.service.ListAdmin(r.Context(), caller)
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}

	httputil.OK(w, domain.AdminViews(products))
}

// GetProduct handles GET /api/v1/products/{id}
func (h *ProductHandler) GetProduct(w http.ResponseWriter, r *http.Request) {
	id, ok := httputil.ParseUUID(w, "id", chi.URLParam(r, "id"))
	if !ok {
		return
	}

	product, err := h.service.Get(r.Context(), id.String())
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}

	httputil.OK(w, product.PublicView())
}

// CreateProduct handles POST /api/v1/admin/product/new
func (h *ProductHandler) CreateProduct(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)

	var req CreateProductRequest
	if err := validator.DecodeAndValidate(r, &req); err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}

	caller, _ := auth.IdentityFromContext(r.Context())
	input := &service.CreateProductInput{
		Name:        req.Name,
		Price:       req.Price,
		Description: req.Description,
		Images:      toImages(req.Images),
		Category:    domain.Category(req.Category),
		Stock:       req.Stock,
	}

	product, err := h.service.Create(r.Context(), caller, input)
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}

	httputil.Created(w, product.AdminView())
}

// UpdateProduct handles PUT /api/v1/admin/products/{id}
func (h *ProductHandler) UpdateProduct(w http.ResponseWriter, r *http.Request) {
	id, ok := httputil.ParseUUID(w, "id", chi.URLParam(r, "id"))
	if !ok {
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)

	var req UpdateProductRequest
	if err := validator.DecodeAndValidate(r, &req); err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}

	input := &service.UpdateProductInput{
		Name:        req.Name,
		Price:       req.Price,
		Description: req.Description,
		Images:      toImages(req.Images),
		Stock:       req.Stock,
	}
	if req.Category != nil {
		c := domain.Category(*req.Category)
		input.Category = &c
	}

	caller, _ := auth.IdentityFromContext(r.Context())
	product, err := h.service.Update(r.Context(), caller, id.String(), input)
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}

	httputil.OK(w, product.AdminView())
}

// DeleteProduct handles DELETE /api/v1/admin/products/{id}
func (h *ProductHandler) DeleteProduct(w http.ResponseWriter, r *http.Request) {
	id, ok := httputil.ParseUUID(w, "id", chi.URLParam(r, "id"))
	if !ok {
		return
	}

	caller, _ := auth.IdentityFromContext(r.Context())
	if err := h.service.Delete(r.Context(), caller, id.String()); err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}

	httputil.Message(w, "product is deleted")
}

func invalidParameter(w http.ResponseWriter, msg string) {
	httputil.Fail(w, http.StatusBadRequest, &httputil.ErrorResponse{Code: "INVALID_PARAMETER", Message: msg})
}
