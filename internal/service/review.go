package service

import (
	"context"
	"fmt"
	"log/slog"
	"unicode/utf8"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/SaleDjerfi/shopit/internal/auth"
	"github.com/SaleDjerfi/shopit/internal/cache"
	"github.com/SaleDjerfi/shopit/internal/domain"
	"github.com/SaleDjerfi/shopit/internal/event"
	"github.com/SaleDjerfi/shopit/internal/repository"
	apperrors "github.com/SaleDjerfi/shopit/pkg/errors"
)

// DefaultCommentMaxLength bounds review comments when no limit is configured.
const DefaultCommentMaxLength = 2000

var reviewMutations = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Name: "catalog_review_mutations_total",
		Help: "Committed review changes by operation.",
	},
	[]string{"op"},
)

// ReviewService implements the business logic for product reviews.
type ReviewService struct {
	repo       repository.ReviewRepository
	cache      cache.ProductCache
	events     event.Publisher
	logger     *slog.Logger
	commentMax int
}

// NewReviewService creates a new review service. A non-positive commentMax
// selects DefaultCommentMaxLength.
func NewReviewService(repo repository.ReviewRepository, c cache.ProductCache, events event.Publisher, logger *slog.Logger, commentMax int) *ReviewService {
	if commentMax <= 0 {
		commentMax = DefaultCommentMaxLength
	}
	return &ReviewService{
		repo:       repo,
		cache:      c,
		events:     events,
		logger:     logger,
		commentMax: commentMax,
	}
}

// UpsertReviewInput holds the parameters for writing a review.
type UpsertReviewInput struct {
	ProductID string
	Rating    int
	Comment   string
}

// Upsert writes the caller's review of a product, replacing any earlier one,
// and returns the product with its recomputed aggregate.
func (s *ReviewService) Upsert(ctx context.Context, caller *auth.Identity, input *UpsertReviewInput) (*domain.Product, error) {
	if err := auth.Authorize(caller, auth.RoleCustomer, auth.RoleAdmin); err != nil {
		return nil, err
	}
	if input.ProductID == "" {
		return nil, apperrors.Validation("productId is required")
	}
	if input.Rating < domain.MinRating || input.Rating > domain.MaxRating {
		return nil, apperrors.Validation(fmt.Sprintf("rating must be between %d and %d", domain.MinRating, domain.MaxRating))
	}
	if n := utf8.RuneCountInString(input.Comment); n > s.commentMax {
		return nil, apperrors.Validation(fmt.Sprintf("comment cannot exceed %d characters", s.commentMax))
	}

	review := domain.Review{
		UserID:  caller.ID,
		Name:    caller.Name,
		Rating:  input.Rating,
		Comment: input.Comment,
	}

	product, err := s.repo.Upsert(ctx, input.ProductID, review)
	if err != nil {
		return nil, fmt.Errorf("upsert review: %w", err)
	}
	reviewMutations.WithLabelValues("upsert").Inc()

	invalidateProduct(ctx, s.cache, s.logger, product.ID)

	if err := s.events.PublishReviewUpserted(ctx, product, review); err != nil {
		s.logger.ErrorContext(ctx, "failed to publish review.upserted event",
			slog.String("product_id", product.ID),
			slog.String("error", err.Error()),
		)
	}

	s.logger.InfoContext(ctx, "review upserted",
		slog.String("product_id", product.ID),
		slog.Int("rating", review.Rating),
		slog.Float64("product_rating", product.Rating),
		slog.Int("review_count", product.ReviewCount),
	)

	return product, nil
}

// List returns every review of a product, oldest first.
func (s *ReviewService) List(ctx context.Context, caller *auth.Identity, productID string) ([]domain.Review, error) {
	if err := auth.Authorize(caller, auth.RoleCustomer, auth.RoleAdmin); err != nil {
		return nil, err
	}
	if productID == "" {
		return nil, apperrors.Validation("productId is required")
	}

	reviews, err := s.repo.ListByProduct(ctx, productID)
	if err != nil {
		return nil, fmt.Errorf("list reviews: %w", err)
	}
	return reviews, nil
}

// Delete removes the review userID wrote on a product. Callers may remove
// their own review; admins may remove anyone's. An empty userID means the
// caller's own review.
func (s *ReviewService) Delete(ctx context.Context, caller *auth.Identity, productID, userID string) (*domain.Product, error) {
	if err := auth.Authorize(caller, auth.RoleCustomer, auth.RoleAdmin); err != nil {
		return nil, err
	}
	if productID == "" {
		return nil, apperrors.Validation("productId is required")
	}
	if userID == "" {
		userID = caller.ID
	}
	if userID != caller.ID && !caller.IsAdmin() {
		return nil, apperrors.Forbidden("you can only delete your own review")
	}

	product, err := s.repo.Delete(ctx, productID, userID)
	if err != nil {
		return nil, fmt.Errorf("delete review: %w", err)
	}
	reviewMutations.WithLabelValues("delete").Inc()

	invalidateProduct(ctx, s.cache, s.logger, product.ID)

	if err := s.events.PublishReviewDeleted(ctx, product, userID); err != nil {
		s.logger.ErrorContext(ctx, "failed to publish review.deleted event",
			slog.String("product_id", product.ID),
			slog.String("error", err.Error()),
		)
	}

	s.logger.InfoContext(ctx, "review deleted",
		slog.String("product_id", product.ID),
		slog.String("review_user_id", userID),
		slog.Float64("product_rating", product.Rating),
		slog.Int("review_count", product.ReviewCount),
	)

	return product, nil
}
