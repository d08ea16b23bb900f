package repository

import (
	"context"
	"strings"

	"github.com/SaleDjerfi/shopit/internal/domain"
)

// ProductFilter defines filter criteria for the public product listing.
type ProductFilter struct {
	Keyword   string
	Category  *domain.Category
	MinPrice  *int64
	MaxPrice  *int64
	MinRating *float64
	Page      int
	PerPage   int
}

// Matches reports whether p passes every criterion except pagination. Stores
// that cannot push the filter down to a query use it directly.
func (f ProductFilter) Matches(p *domain.Product) bool {
	if f.Category != nil && p.Category != *f.Category {
		return false
	}
	if f.MinPrice != nil && p.Price < *f.MinPrice {
		return false
	}
	if f.MaxPrice != nil && p.Price > *f.MaxPrice {
		return false
	}
	if f.MinRating != nil && p.Rating < *f.MinRating {
		return false
	}
	if f.Keyword != "" && !containsFold(p.Name, f.Keyword) && !containsFold(p.Description, f.Keyword) {
		return false
	}
	return true
}

// MutateFunc edits a product inside a store's read-modify-write. Returning an
// error aborts the write and is passed back to the caller unchanged.
type MutateFunc func(p *domain.Product) error

// ProductRepository defines product persistence. Every mutation of a single
// product is serialized against all other mutations of that product.
type ProductRepository interface {
	// Create inserts a new product.
	Create(ctx context.Context, product *domain.Product) error

	// GetByID retrieves a product with its aggregate; reviews may be omitted.
	GetByID(ctx context.Context, id string) (*domain.Product, error)

	// List returns the page of products matching filter and the total match count.
	List(ctx context.Context, filter ProductFilter) ([]domain.Product, int, error)

	// ListAll returns every product, newest first.
	ListAll(ctx context.Context) ([]domain.Product, error)

	// Update loads the product, applies mutate and persists the result
	// atomically, bumping Version.
	Update(ctx context.Context, id string, mutate MutateFunc) (*domain.Product, error)

	// Delete removes the product and all of its reviews in one step.
	Delete(ctx context.Context, id string) error
}

// ReviewRepository defines review persistence. Each mutation recomputes the
// owning product's aggregate in the same atomic step and returns the product.
type ReviewRepository interface {
	// Upsert inserts or replaces the review keyed by (productID, review.UserID).
	Upsert(ctx context.Context, productID string, review domain.Review) (*domain.Product, error)

	// ListByProduct returns the product's reviews ordered by creation time.
	ListByProduct(ctx context.Context, productID string) ([]domain.Review, error)

	// Delete removes the review written by userID.
	Delete(ctx context.Context, productID, userID string) (*domain.Product, error)
}

func containsFold(s, substr string) bool {
	return strings.Contains(strings.ToLower(s), strings.ToLower(substr))
}
