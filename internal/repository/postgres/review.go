package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/SaleDjerfi/shopit/internal/domain"
	"github.com/SaleDjerfi/shopit/pkg/database"
	apperrors "github.com/SaleDjerfi/shopit/pkg/errors"
)

const (
	lockProductRowQuery = `SELECT id FROM products WHERE id = $1 FOR UPDATE`

	upsertReviewQuery = `
		INSERT INTO product_reviews (product_id, user_id, name, rating, comment, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $6)
		ON CONFLICT (product_id, user_id) DO UPDATE
		SET name = EXCLUDED.name, rating = EXCLUDED.rating,
		    comment = EXCLUDED.comment, updated_at = EXCLUDED.updated_at`

	deleteReviewQuery = `DELETE FROM product_reviews WHERE product_id = $1 AND user_id = $2`

	reviewTotalsQuery = `SELECT COUNT(*), COALESCE(SUM(rating), 0) FROM product_reviews WHERE product_id = $1`

	writeAggregateQuery = `
		UPDATE products
		SET rating = $1, review_count = $2, version = version + 1, updated_at = $3
		WHERE id = $4
		RETURNING ` + productColumns

	productExistsQuery = `SELECT EXISTS(SELECT 1 FROM products WHERE id = $1)`

	listReviewsQuery = `
		SELECT user_id, name, rating, comment, created_at, updated_at
		FROM product_reviews
		WHERE product_id = $1
		ORDER BY created_at, user_id`
)

// ReviewRepository implements repository.ReviewRepository using PostgreSQL.
// Each mutation holds the product row lock while it changes the review table
// and rewrites the aggregate, so writers on one product are serialized and
// writers on different products never wait on each other.
type ReviewRepository struct {
	db  database.DBTX
	now func() time.Time
}

// NewReviewRepository creates a new PostgreSQL-backed review repository.
func NewReviewRepository(db database.DBTX) *ReviewRepository {
	return &ReviewRepository{db: db, now: utcNow}
}

// Upsert inserts or replaces the caller's review and recomputes the aggregate.
func (r *ReviewRepository) Upsert(ctx context.Context, productID string, review domain.Review) (p *domain.Product, err error) {
	ctx, end := database.TraceQuery(ctx, "UpsertReview", upsertReviewQuery)
	defer func() { end(err) }()

	err = database.WithTx(ctx, r.db, func(tx pgx.Tx) error {
		if err := lockProductRow(ctx, tx, productID); err != nil {
			return err
		}

		now := r.now()
		if _, err := tx.Exec(ctx, upsertReviewQuery,
			productID,
			review.UserID,
			review.Name,
			review.Rating,
			review.Comment,
			now,
		); err != nil {
			if pgCode(err) == codeForeignKeyViolation {
				return apperrors.NotFound("product", productID)
			}
			return fmt.Errorf("upsert review: %w", err)
		}

		p, err = writeAggregate(ctx, tx, productID, now)
		return err
	})
	if err != nil {
		return nil, err
	}
	return p, nil
}

// ListByProduct returns the product's reviews in creation order.
func (r *ReviewRepository) ListByProduct(ctx context.Context, productID string) (reviews []domain.Review, err error) {
	ctx, end := database.TraceQuery(ctx, "ListReviews", listReviewsQuery)
	defer func() { end(err) }()

	var exists bool
	if err := r.db.QueryRow(ctx, productExistsQuery, productID).Scan(&exists); err != nil {
		if pgCode(err) == codeInvalidTextRepr {
			return nil, apperrors.NotFound("product", productID)
		}
		return nil, fmt.Errorf("check product exists: %w", err)
	}
	if !exists {
		return nil, apperrors.NotFound("product", productID)
	}

	rows, err := r.db.Query(ctx, listReviewsQuery, productID)
	if err != nil {
		return nil, fmt.Errorf("list reviews: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var rv domain.Review
		if err := rows.Scan(
			&rv.UserID,
			&rv.Name,
			&rv.Rating,
			&rv.Comment,
			&rv.CreatedAt,
			&rv.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan review row: %w", err)
		}
		reviews = append(reviews, rv)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate review rows: %w", err)
	}

	if reviews == nil {
		reviews = []domain.Review{}
	}
	return reviews, nil
}

// Delete removes userID's review and recomputes the aggregate.
func (r *ReviewRepository) Delete(ctx context.Context, productID, userID string) (p *domain.Product, err error) {
	ctx, end := database.TraceQuery(ctx, "DeleteReview", deleteReviewQuery)
	defer func() { end(err) }()

	err = database.WithTx(ctx, r.db, func(tx pgx.Tx) error {
		if err := lockProductRow(ctx, tx, productID); err != nil {
			return err
		}

		tag, err := tx.Exec(ctx, deleteReviewQuery, productID, userID)
		if err != nil {
			return fmt.Errorf("delete review: %w", err)
		}
		if tag.RowsAffected() == 0 {
			return apperrors.NotFound("review", userID)
		}

		p, err = writeAggregate(ctx, tx, productID, r.now())
		return err
	})
	if err != nil {
		return nil, err
	}
	return p, nil
}

// lockProductRow takes the per-product write lock for the rest of tx.
func lockProductRow(ctx context.Context, tx pgx.Tx, productID string) error {
	var id string
	if err := tx.QueryRow(ctx, lockProductRowQuery, productID).Scan(&id); err != nil {
		return productLookupError(err, productID)
	}
	return nil
}

// writeAggregate recomputes count and mean from the review table and stores
// them on the product row, returning the updated product.
func writeAggregate(ctx context.Context, tx pgx.Tx, productID string, now time.Time) (*domain.Product, error) {
	var (
		count int
		sum   int64
	)
	if err := tx.QueryRow(ctx, reviewTotalsQuery, productID).Scan(&count, &sum); err != nil {
		return nil, fmt.Errorf("compute review totals: %w", err)
	}

	p, err := scanProduct(tx.QueryRow(ctx, writeAggregateQuery,
		domain.RatingFromSum(sum, count),
		count,
		now,
		productID,
	))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.NotFound("product", productID)
		}
		return nil, fmt.Errorf("write aggregate: %w", err)
	}
	return p, nil
}
