package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/SaleDjerfi/shopit/internal/domain"
	"github.com/SaleDjerfi/shopit/internal/repository"
	"github.com/SaleDjerfi/shopit/pkg/database"
	apperrors "github.com/SaleDjerfi/shopit/pkg/errors"
)

const productColumns = `id, name, slug, price, description, images, category, stock, seller,
	rating, review_count, version, created_at, updated_at`

const (
	insertProductQuery = `
		INSERT INTO products (id, name, slug, price, description, images, category, stock, seller,
			rating, review_count, version, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)`

	getProductQuery = `SELECT ` + productColumns + ` FROM products WHERE id = $1`

	lockProductQuery = `SELECT ` + productColumns + ` FROM products WHERE id = $1 FOR UPDATE`

	updateProductQuery = `
		UPDATE products
		SET name = $1, slug = $2, price = $3, description = $4, images = $5, category = $6,
		    stock = $7, version = version + 1, updated_at = $8
		WHERE id = $9
		RETURNING ` + productColumns

	listAllProductsQuery = `SELECT ` + productColumns + ` FROM products ORDER BY created_at DESC, id`

	deleteProductReviewsQuery = `DELETE FROM product_reviews WHERE product_id = $1`

	deleteProductQuery = `DELETE FROM products WHERE id = $1`
)

// ProductRepository implements repository.ProductRepository using PostgreSQL.
// Reviews live in their own table; the aggregate columns on products are
// rewritten in the same transaction as every review change.
type ProductRepository struct {
	db  database.DBTX
	now func() time.Time
}

// NewProductRepository creates a new PostgreSQL-backed product repository.
func NewProductRepository(db database.DBTX) *ProductRepository {
	return &ProductRepository{db: db, now: utcNow}
}

func utcNow() time.Time { return time.Now().UTC() }

// Create inserts a new product.
func (r *ProductRepository) Create(ctx context.Context, p *domain.Product) (err error) {
	ctx, end := database.TraceQuery(ctx, "CreateProduct", insertProductQuery)
	defer func() { end(err) }()

	images, err := json.Marshal(nonNilImages(p.Images))
	if err != nil {
		return fmt.Errorf("marshal images: %w", err)
	}

	_, err = r.db.Exec(ctx, insertProductQuery,
		p.ID,
		p.Name,
		p.Slug,
		p.Price,
		p.Description,
		images,
		string(p.Category),
		p.Stock,
		p.Seller,
		p.Rating,
		p.ReviewCount,
		p.Version,
		p.CreatedAt,
		p.UpdatedAt,
	)
	if err != nil {
		if pgCode(err) == codeUniqueViolation {
			return apperrors.AlreadyExists("product", "slug", p.Slug)
		}
		return fmt.Errorf("insert product: %w", err)
	}
	return nil
}

// GetByID retrieves a product by its ID. Reviews are not loaded.
func (r *ProductRepository) GetByID(ctx context.Context, id string) (p *domain.Product, err error) {
	ctx, end := database.TraceQuery(ctx, "GetProduct", getProductQuery)
	defer func() { end(err) }()

	p, err = scanProduct(r.db.QueryRow(ctx, getProductQuery, id))
	if err != nil {
		return nil, productLookupError(err, id)
	}
	return p, nil
}

// List returns products matching the filter with the total count.
func (r *ProductRepository) List(ctx context.Context, filter repository.ProductFilter) (products []domain.Product, total int, err error) {
	var (
		conditions []string
		args       []any
		argIndex   = 1
	)

	if filter.Keyword != "" {
		conditions = append(conditions, fmt.Sprintf("(name ILIKE $%d OR description ILIKE $%d)", argIndex, argIndex))
		args = append(args, "%"+filter.Keyword+"%")
		argIndex++
	}

	if filter.Category != nil {
		conditions = append(conditions, fmt.Sprintf("category = $%d", argIndex))
		args = append(args, string(*filter.Category))
		argIndex++
	}

	if filter.MinPrice != nil {
		conditions = append(conditions, fmt.Sprintf("price >= $%d", argIndex))
		args = append(args, *filter.MinPrice)
		argIndex++
	}

	if filter.MaxPrice != nil {
		conditions = append(conditions, fmt.Sprintf("price <= $%d", argIndex))
		args = append(args, *filter.MaxPrice)
		argIndex++
	}

	if filter.MinRating != nil {
		conditions = append(conditions, fmt.Sprintf("rating >= $%d", argIndex))
		args = append(args, *filter.MinRating)
		argIndex++
	}

	whereClause := ""
	if len(conditions) > 0 {
		whereClause = "WHERE " + strings.Join(conditions, " AND ")
	}

	query := fmt.Sprintf(`
		SELECT %s, count(*) OVER() AS total_count
		FROM products
		%s
		ORDER BY created_at DESC, id
		LIMIT $%d OFFSET $%d`,
		productColumns, whereClause, argIndex, argIndex+1,
	)

	limit := filter.PerPage
	if limit <= 0 {
		limit = 20
	}
	offset := 0
	if filter.Page > 1 {
		offset = (filter.Page - 1) * limit
	}
	args = append(args, limit, offset)

	ctx, end := database.TraceQuery(ctx, "ListProducts", query)
	defer func() { end(err) }()

	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("list products: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		p, err := scanProduct(rows, &total)
		if err != nil {
			return nil, 0, err
		}
		products = append(products, *p)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("iterate product rows: %w", err)
	}

	if products == nil {
		products = []domain.Product{}
	}
	return products, total, nil
}

// ListAll returns every product, newest first.
func (r *ProductRepository) ListAll(ctx context.Context) (products []domain.Product, err error) {
	ctx, end := database.TraceQuery(ctx, "ListAllProducts", listAllProductsQuery)
	defer func() { end(err) }()

	rows, err := r.db.Query(ctx, listAllProductsQuery)
	if err != nil {
		return nil, fmt.Errorf("list all products: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		p, err := scanProduct(rows)
		if err != nil {
			return nil, err
		}
		products = append(products, *p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate product rows: %w", err)
	}

	if products == nil {
		products = []domain.Product{}
	}
	return products, nil
}

// Update locks the product row, applies mutate and writes the editable
// columns back in one transaction. The aggregate columns are never written
// here.
func (r *ProductRepository) Update(ctx context.Context, id string, mutate repository.MutateFunc) (updated *domain.Product, err error) {
	ctx, end := database.TraceQuery(ctx, "UpdateProduct", updateProductQuery)
	defer func() { end(err) }()

	err = database.WithTx(ctx, r.db, func(tx pgx.Tx) error {
		cur, err := scanProduct(tx.QueryRow(ctx, lockProductQuery, id))
		if err != nil {
			return productLookupError(err, id)
		}

		if err := mutate(cur); err != nil {
			return err
		}

		images, err := json.Marshal(nonNilImages(cur.Images))
		if err != nil {
			return fmt.Errorf("marshal images: %w", err)
		}

		updated, err = scanProduct(tx.QueryRow(ctx, updateProductQuery,
			cur.Name,
			cur.Slug,
			cur.Price,
			cur.Description,
			images,
			string(cur.Category),
			cur.Stock,
			r.now(),
			id,
		))
		if err != nil {
			if pgCode(err) == codeUniqueViolation {
				return apperrors.AlreadyExists("product", "slug", cur.Slug)
			}
			return fmt.Errorf("update product: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

// Delete removes the product and its reviews in one transaction, holding the
// product row lock so no review write can interleave.
func (r *ProductRepository) Delete(ctx context.Context, id string) (err error) {
	ctx, end := database.TraceQuery(ctx, "DeleteProduct", deleteProductQuery)
	defer func() { end(err) }()

	return database.WithTx(ctx, r.db, func(tx pgx.Tx) error {
		if err := lockProductRow(ctx, tx, id); err != nil {
			return err
		}
		if _, err := tx.Exec(ctx, deleteProductReviewsQuery, id); err != nil {
			return fmt.Errorf("delete product reviews: %w", err)
		}
		if _, err := tx.Exec(ctx, deleteProductQuery, id); err != nil {
			return fmt.Errorf("delete product: %w", err)
		}
		return nil
	})
}

// scanProduct reads one product row. extra receives trailing columns such as
// a window count.
func scanProduct(row pgx.Row, extra ...any) (*domain.Product, error) {
	var (
		p        domain.Product
		images   []byte
		category string
	)

	dest := []any{
		&p.ID,
		&p.Name,
		&p.Slug,
		&p.Price,
		&p.Description,
		&images,
		&category,
		&p.Stock,
		&p.Seller,
		&p.Rating,
		&p.ReviewCount,
		&p.Version,
		&p.CreatedAt,
		&p.UpdatedAt,
	}
	if err := row.Scan(append(dest, extra...)...); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("scan product: %w", err)
	}

	p.Category = domain.Category(category)
	p.Images = []domain.ProductImage{}
	if len(images) > 0 {
		if err := json.Unmarshal(images, &p.Images); err != nil {
			return nil, fmt.Errorf("unmarshal images: %w", err)
		}
	}
	return &p, nil
}

func nonNilImages(images []domain.ProductImage) []domain.ProductImage {
	if images == nil {
		return []domain.ProductImage{}
	}
	return images
}

const (
	codeUniqueViolation     = "23505"
	codeInvalidTextRepr     = "22P02"
	codeForeignKeyViolation = "23503"
)

func pgCode(err error) string {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code
	}
	return ""
}

// productLookupError maps a missing row, or an id that is not a UUID, to
// NotFound.
func productLookupError(err error, id string) error {
	if errors.Is(err, pgx.ErrNoRows) || pgCode(err) == codeInvalidTextRepr {
		return apperrors.NotFound("product", id)
	}
	return fmt.Errorf("get product: %w", err)
}
