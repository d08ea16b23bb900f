package badger

import (
	"context"
	"time"

	badgerdb "github.com/dgraph-io/badger/v4"

	"github.com/SaleDjerfi/shopit/internal/domain"
	apperrors "github.com/SaleDjerfi/shopit/pkg/errors"
)

// ReviewRepository implements repository.ReviewRepository on Badger. Reviews
// live inside the product document, so the aggregate is rewritten by the same
// commit that changes the review map.
type ReviewRepository struct {
	db  *DB
	now func() time.Time
}

// NewReviewRepository creates a Badger-backed review repository.
func NewReviewRepository(db *DB) *ReviewRepository {
	return &ReviewRepository{db: db, now: utcNow}
}

// Upsert inserts or replaces the caller's review and recomputes the aggregate.
func (r *ReviewRepository) Upsert(ctx context.Context, productID string, review domain.Review) (*domain.Product, error) {
	var updated *domain.Product
	err := r.db.update(ctx, "UpsertReview", productPrefix+productID, func(txn *badgerdb.Txn) error {
		p, err := getProduct(txn, productID)
		if err != nil {
			return err
		}
		now := r.now()
		p.UpsertReview(review, now)
		p.Version++
		p.UpdatedAt = now
		if err := putProduct(txn, p); err != nil {
			return err
		}
		updated = p
		return nil
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

// ListByProduct returns the product's reviews in creation order.
func (r *ReviewRepository) ListByProduct(ctx context.Context, productID string) ([]domain.Review, error) {
	var reviews []domain.Review
	err := r.db.view(ctx, "ListReviews", productPrefix+productID, func(txn *badgerdb.Txn) error {
		p, err := getProduct(txn, productID)
		if err != nil {
			return err
		}
		reviews = p.ReviewList()
		return nil
	})
	if err != nil {
		return nil, err
	}
	return reviews, nil
}

// Delete removes userID's review and recomputes the aggregate.
func (r *ReviewRepository) Delete(ctx context.Context, productID, userID string) (*domain.Product, error) {
	var updated *domain.Product
	err := r.db.update(ctx, "DeleteReview", productPrefix+productID, func(txn *badgerdb.Txn) error {
		p, err := getProduct(txn, productID)
		if err != nil {
			return err
		}
		if !p.RemoveReview(userID) {
			return apperrors.NotFound("review", userID)
		}
		p.Version++
		p.UpdatedAt = r.now()
		if err := putProduct(txn, p); err != nil {
			return err
		}
		updated = p
		return nil
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}
