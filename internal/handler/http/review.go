package http

import (
	"log/slog"
	"net/http"

	"github.com/SaleDjerfi/shopit/internal/auth"
	"github.com/SaleDjerfi/shopit/internal/domain"
	"github.com/SaleDjerfi/shopit/internal/service"
	"github.com/SaleDjerfi/shopit/pkg/httputil"
	"github.com/SaleDjerfi/shopit/pkg/validator"
)

// ReviewHandler handles HTTP requests for review endpoints.
type ReviewHandler struct {
	service *service.ReviewService
	logger  *slog.Logger
}

// NewReviewHandler creates a new review HTTP handler.
func NewReviewHandler(svc *service.ReviewService, logger *slog.Logger) *ReviewHandler {
	return &ReviewHandler{
		service: svc,
		logger:  logger,
	}
}

// --- Request / response DTOs ---

// UpsertReviewRequest is the JSON request body for writing a review.
type UpsertReviewRequest struct {
	ProductID string `json:"productId" validate:"required,uuid"`
	Rating    int    `json:"rating" validate:"required,min=1,max=5"`
	Comment   string `json:"comment"`
}

// RatingSummary is the product aggregate returned after a review mutation.
type RatingSummary struct {
	ProductID   string  `json:"product_id"`
	Rating      float64 `json:"rating"`
	ReviewCount int     `json:"review_count"`
}

func summaryOf(p *domain.Product) RatingSummary {
	return RatingSummary{ProductID: p.ID, Rating: p.Rating, ReviewCount: p.ReviewCount}
}

// --- Handlers ---

// UpsertReview handles PUT /api/v1/review
func (h *ReviewHandler) UpsertReview(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)

	var req UpsertReviewRequest
	if err := validator.DecodeAndValidate(r, &req); err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}

	caller, _ := auth.IdentityFromContext(r.Context())
	product, err := h.service.Upsert(r.Context(), caller, &service.UpsertReviewInput{
		ProductID: req.ProductID,
		Rating:    req.Rating,
		Comment:   req.Comment,
	})
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}

	httputil.OK(w, summaryOf(product))
}

// ListReviews handles GET /api/v1/reviews?productId=
func (h *ReviewHandler) ListReviews(w http.ResponseWriter, r *http.Request) {
	productID, ok := httputil.ParseUUID(w, "productId", r.URL.Query().Get("productId"))
	if !ok {
		return
	}

	caller, _ := auth.IdentityFromContext(r.Context())
	reviews, err := h.service.List(r.Context(), caller, productID.String())
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}

	httputil.OK(w, reviews)
}

// DeleteReview handles DELETE /api/v1/reviews?productId=&userId=
// userId defaults to the caller.
func (h *ReviewHandler) DeleteReview(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	productID, ok := httputil.ParseUUID(w, "productId", q.Get("productId"))
	if !ok {
		return
	}

	caller, _ := auth.IdentityFromContext(r.Context())
	product, err := h.service.Delete(r.Context(), caller, productID.String(), q.Get("userId"))
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}

	httputil.OK(w, summaryOf(product))
}
