package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/SaleDjerfi/shopit/internal/auth"
	"github.com/SaleDjerfi/shopit/internal/cache"
	"github.com/SaleDjerfi/shopit/internal/domain"
	"github.com/SaleDjerfi/shopit/internal/event"
	"github.com/SaleDjerfi/shopit/internal/repository"
	apperrors "github.com/SaleDjerfi/shopit/pkg/errors"
	"github.com/SaleDjerfi/shopit/pkg/slug"
)

// MaxNameLength is the longest product name accepted, in characters.
const MaxNameLength = 100

// ProductService implements the business logic for product operations.
type ProductService struct {
	repo   repository.ProductRepository
	cache  cache.ProductCache
	events event.Publisher
	logger *slog.Logger
	now    func() time.Time
}

// NewProductService creates a new product service.
func NewProductService(repo repository.ProductRepository, c cache.ProductCache, events event.Publisher, logger *slog.Logger) *ProductService {
	return &ProductService{
		repo:   repo,
		cache:  c,
		events: events,
		logger: logger,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// CreateProductInput holds the parameters for creating a product.
type CreateProductInput struct {
	Name        string
	Price       int64
	Description string
	Images      []domain.ProductImage
	Category    domain.Category
	Stock       int
}

// UpdateProductInput holds the parameters for updating a product. Nil fields
// are left unchanged. The aggregate and reviews are not editable here.
type UpdateProductInput struct {
	Name        *string
	Price       *int64
	Description *string
	Images      []domain.ProductImage
	Category    *domain.Category
	Stock       *int
}

// ListPublic returns a page of products matching filter.
func (s *ProductService) ListPublic(ctx context.Context, filter repository.ProductFilter) ([]domain.Product, int, error) {
	products, total, err := s.repo.List(ctx, filter)
	if err != nil {
		return nil, 0, fmt.Errorf("list products: %w", err)
	}
	return products, total, nil
}

// ListAdmin returns every product, newest first.
func (s *ProductService) ListAdmin(ctx context.Context, admin *auth.Identity) ([]domain.Product, error) {
	if err := auth.Authorize(admin, auth.RoleAdmin); err != nil {
		return nil, err
	}
	products, err := s.repo.ListAll(ctx)
	if err != nil {
		return nil, fmt.Errorf("list all products: %w", err)
	}
	return products, nil
}

// Get returns one product, reading through the cache.
func (s *ProductService) Get(ctx context.Context, id string) (*domain.Product, error) {
	cached, gen, err := s.cache.Get(ctx, id)
	if err == nil {
		return cached, nil
	}
	miss := errors.Is(err, cache.ErrMiss)
	if !miss {
		s.logger.WarnContext(ctx, "product cache read failed",
			slog.String("product_id", id),
			slog.String("error", err.Error()),
		)
	}

	product, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("get product: %w", err)
	}

	// Only a clean miss carries a generation to fill the cache against.
	if !miss {
		return product, nil
	}
	if err := s.cache.Set(ctx, product, gen); err != nil {
		s.logger.WarnContext(ctx, "product cache write failed",
			slog.String("product_id", id),
			slog.String("error", err.Error()),
		)
	}
	return product, nil
}

// Create adds a product owned by the calling admin.
func (s *ProductService) Create(ctx context.Context, admin *auth.Identity, input *CreateProductInput) (*domain.Product, error) {
	if err := auth.Authorize(admin, auth.RoleAdmin); err != nil {
		return nil, err
	}

	name := strings.TrimSpace(input.Name)
	if err := validateName(name); err != nil {
		return nil, err
	}
	if err := validatePrice(input.Price); err != nil {
		return nil, err
	}
	if strings.TrimSpace(input.Description) == "" {
		return nil, apperrors.Validation("product description is required")
	}
	if err := validateCategory(input.Category); err != nil {
		return nil, err
	}
	if err := validateStock(input.Stock); err != nil {
		return nil, err
	}
	if err := validateImages(input.Images); err != nil {
		return nil, err
	}

	id := uuid.New()
	now := s.now()
	product := &domain.Product{
		ID:          id.String(),
		Name:        name,
		Slug:        slug.WithSuffix(name, id),
		Price:       input.Price,
		Description: input.Description,
		Images:      nonNilImages(input.Images),
		Category:    input.Category,
		Stock:       input.Stock,
		Seller:      admin.ID,
		Version:     1,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	if err := s.repo.Create(ctx, product); err != nil {
		return nil, fmt.Errorf("create product: %w", err)
	}

	if err := s.events.PublishProductCreated(ctx, product); err != nil {
		s.logger.ErrorContext(ctx, "failed to publish product.created event",
			slog.String("product_id", product.ID),
			slog.String("error", err.Error()),
		)
	}

	s.logger.InfoContext(ctx, "product created",
		slog.String("product_id", product.ID),
		slog.String("slug", product.Slug),
	)

	return product, nil
}

// Update merges input into the product. Renaming regenerates the slug.
func (s *ProductService) Update(ctx context.Context, admin *auth.Identity, id string, input *UpdateProductInput) (*domain.Product, error) {
	if err := auth.Authorize(admin, auth.RoleAdmin); err != nil {
		return nil, err
	}

	var name string
	if input.Name != nil {
		name = strings.TrimSpace(*input.Name)
		if err := validateName(name); err != nil {
			return nil, err
		}
	}
	if input.Price != nil {
		if err := validatePrice(*input.Price); err != nil {
			return nil, err
		}
	}
	if input.Description != nil && strings.TrimSpace(*input.Description) == "" {
		return nil, apperrors.Validation("product description must not be empty")
	}
	if input.Category != nil {
		if err := validateCategory(*input.Category); err != nil {
			return nil, err
		}
	}
	if input.Stock != nil {
		if err := validateStock(*input.Stock); err != nil {
			return nil, err
		}
	}
	if err := validateImages(input.Images); err != nil {
		return nil, err
	}

	product, err := s.repo.Update(ctx, id, func(p *domain.Product) error {
		if input.Name != nil && name != p.Name {
			p.Name = name
			p.Slug = productSlug(name, p.ID)
		}
		if input.Price != nil {
			p.Price = *input.Price
		}
		if input.Description != nil {
			p.Description = *input.Description
		}
		if input.Images != nil {
			p.Images = input.Images
		}
		if input.Category != nil {
			p.Category = *input.Category
		}
		if input.Stock != nil {
			p.Stock = *input.Stock
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("update product: %w", err)
	}

	s.invalidate(ctx, id)

	if err := s.events.PublishProductUpdated(ctx, product); err != nil {
		s.logger.ErrorContext(ctx, "failed to publish product.updated event",
			slog.String("product_id", product.ID),
			slog.String("error", err.Error()),
		)
	}

	s.logger.InfoContext(ctx, "product updated",
		slog.String("product_id", product.ID),
		slog.Int64("version", product.Version),
	)

	return product, nil
}

// Delete removes a product together with its reviews.
func (s *ProductService) Delete(ctx context.Context, admin *auth.Identity, id string) error {
	if err := auth.Authorize(admin, auth.RoleAdmin); err != nil {
		return err
	}

	if err := s.repo.Delete(ctx, id); err != nil {
		return fmt.Errorf("delete product: %w", err)
	}

	s.invalidate(ctx, id)

	if err := s.events.PublishProductDeleted(ctx, id); err != nil {
		s.logger.ErrorContext(ctx, "failed to publish product.deleted event",
			slog.String("product_id", id),
			slog.String("error", err.Error()),
		)
	}

	s.logger.InfoContext(ctx, "product deleted",
		slog.String("product_id", id),
	)

	return nil
}

func (s *ProductService) invalidate(ctx context.Context, id string) {
	invalidateProduct(ctx, s.cache, s.logger, id)
}

func invalidateProduct(ctx context.Context, c cache.ProductCache, logger *slog.Logger, id string) {
	if err := c.Invalidate(ctx, id); err != nil {
		logger.ErrorContext(ctx, "failed to invalidate cached product",
			slog.String("product_id", id),
			slog.String("error", err.Error()),
		)
	}
}

// productSlug derives the slug for name. Products created here always have
// uuid ids; anything else falls back to the bare name slug.
func productSlug(name, id string) string {
	if u, err := uuid.Parse(id); err == nil {
		return slug.WithSuffix(name, u)
	}
	return slug.Generate(name)
}

func validateName(name string) error {
	if name == "" {
		return apperrors.Validation("product name is required")
	}
	if utf8.RuneCountInString(name) > MaxNameLength {
		return apperrors.Validation(fmt.Sprintf("product name cannot exceed %d characters", MaxNameLength))
	}
	return nil
}

func validatePrice(price int64) error {
	if price <= 0 {
		return apperrors.Validation("product price must be greater than zero")
	}
	return nil
}

func validateStock(stock int) error {
	if stock < 0 {
		return apperrors.Validation("product stock must not be negative")
	}
	return nil
}

func validateCategory(c domain.Category) error {
	if !c.Valid() {
		return apperrors.Validation(fmt.Sprintf("category %q must be one of %v", c, domain.Categories()))
	}
	return nil
}

func validateImages(images []domain.ProductImage) error {
	for i, img := range images {
		if strings.TrimSpace(img.URL) == "" {
			return apperrors.Validation(fmt.Sprintf("image %d is missing its url", i))
		}
	}
	return nil
}

func nonNilImages(images []domain.ProductImage) []domain.ProductImage {
	if images == nil {
		return []domain.ProductImage{}
	}
	return images
}
