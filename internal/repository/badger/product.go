package badger

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	badgerdb "github.com/dgraph-io/badger/v4"

	"github.com/SaleDjerfi/shopit/internal/domain"
	"github.com/SaleDjerfi/shopit/internal/repository"
	apperrors "github.com/SaleDjerfi/shopit/pkg/errors"
	"github.com/SaleDjerfi/shopit/pkg/pagination"
)

// ProductRepository implements repository.ProductRepository on Badger.
type ProductRepository struct {
	db  *DB
	now func() time.Time
}

// NewProductRepository creates a Badger-backed product repository.
func NewProductRepository(db *DB) *ProductRepository {
	return &ProductRepository{db: db, now: utcNow}
}

func utcNow() time.Time { return time.Now().UTC() }

// Create stores a new product and claims its slug.
func (r *ProductRepository) Create(ctx context.Context, p *domain.Product) error {
	return r.db.update(ctx, "CreateProduct", productPrefix+p.ID, func(txn *badgerdb.Txn) error {
		if _, err := txn.Get(productKey(p.ID)); err == nil {
			return apperrors.AlreadyExists("product", "id", p.ID)
		} else if !errors.Is(err, badgerdb.ErrKeyNotFound) {
			return fmt.Errorf("check product id: %w", err)
		}
		if err := claimSlug(txn, p.Slug, p.ID); err != nil {
			return err
		}
		return putProduct(txn, p)
	})
}

// GetByID returns the product document, reviews included.
func (r *ProductRepository) GetByID(ctx context.Context, id string) (p *domain.Product, err error) {
	err = r.db.view(ctx, "GetProduct", productPrefix+id, func(txn *badgerdb.Txn) error {
		p, err = getProduct(txn, id)
		return err
	})
	if err != nil {
		return nil, err
	}
	return p, nil
}

// List filters in memory and returns the requested page, newest first.
func (r *ProductRepository) List(ctx context.Context, filter repository.ProductFilter) ([]domain.Product, int, error) {
	var matched []domain.Product
	err := r.db.view(ctx, "ListProducts", productPrefix, func(txn *badgerdb.Txn) error {
		var err error
		matched, err = scanProducts(txn, filter.Matches)
		return err
	})
	if err != nil {
		return nil, 0, err
	}
	sortNewestFirst(matched)

	params := pagination.Params{Page: filter.Page, PerPage: filter.PerPage}
	if params.PerPage <= 0 {
		params.PerPage = pagination.DefaultPerPage
	}
	start, end := params.Window(len(matched))
	return matched[start:end], len(matched), nil
}

// ListAll returns every product, newest first.
func (r *ProductRepository) ListAll(ctx context.Context) ([]domain.Product, error) {
	var products []domain.Product
	err := r.db.view(ctx, "ListAllProducts", productPrefix, func(txn *badgerdb.Txn) error {
		var err error
		products, err = scanProducts(txn, nil)
		return err
	})
	if err != nil {
		return nil, err
	}
	sortNewestFirst(products)
	return products, nil
}

// Update applies mutate to a freshly read copy on every attempt. The review
// map and aggregate are restored after mutate so only editable fields change.
func (r *ProductRepository) Update(ctx context.Context, id string, mutate repository.MutateFunc) (*domain.Product, error) {
	var updated *domain.Product
	err := r.db.update(ctx, "UpdateProduct", productPrefix+id, func(txn *badgerdb.Txn) error {
		cur, err := getProduct(txn, id)
		if err != nil {
			return err
		}
		prev := cur.Clone()

		if err := mutate(cur); err != nil {
			return err
		}

		cur.ID = prev.ID
		cur.Seller = prev.Seller
		cur.CreatedAt = prev.CreatedAt
		cur.Rating, cur.ReviewCount, cur.Reviews = prev.Rating, prev.ReviewCount, prev.Reviews
		cur.Version = prev.Version + 1
		cur.UpdatedAt = r.now()

		if cur.Slug != prev.Slug {
			if err := claimSlug(txn, cur.Slug, id); err != nil {
				return err
			}
			if err := txn.Delete(slugKey(prev.Slug)); err != nil {
				return fmt.Errorf("release slug: %w", err)
			}
		}
		if err := putProduct(txn, cur); err != nil {
			return err
		}
		updated = cur
		return nil
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

// Delete removes the product document, which holds its reviews, and frees
// the slug.
func (r *ProductRepository) Delete(ctx context.Context, id string) error {
	return r.db.update(ctx, "DeleteProduct", productPrefix+id, func(txn *badgerdb.Txn) error {
		p, err := getProduct(txn, id)
		if err != nil {
			return err
		}
		if err := txn.Delete(productKey(id)); err != nil {
			return fmt.Errorf("delete product: %w", err)
		}
		if err := txn.Delete(slugKey(p.Slug)); err != nil {
			return fmt.Errorf("release slug: %w", err)
		}
		return nil
	})
}

// claimSlug records slug as owned by id, failing when another product holds it.
func claimSlug(txn *badgerdb.Txn, slug, id string) error {
	item, err := txn.Get(slugKey(slug))
	switch {
	case errors.Is(err, badgerdb.ErrKeyNotFound):
	case err != nil:
		return fmt.Errorf("check slug: %w", err)
	default:
		owner, err := item.ValueCopy(nil)
		if err != nil {
			return fmt.Errorf("read slug owner: %w", err)
		}
		if string(owner) != id {
			return apperrors.AlreadyExists("product", "slug", slug)
		}
	}
	if err := txn.Set(slugKey(slug), []byte(id)); err != nil {
		return fmt.Errorf("claim slug: %w", err)
	}
	return nil
}

func sortNewestFirst(products []domain.Product) {
	slices.SortFunc(products, func(a, b domain.Product) int {
		if c := b.CreatedAt.Compare(a.CreatedAt); c != 0 {
			return c
		}
		return strings.Compare(a.ID, b.ID)
	})
}
