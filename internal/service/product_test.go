package service

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/SaleDjerfi/shopit/internal/auth"
	"github.com/SaleDjerfi/shopit/internal/cache"
	"github.com/SaleDjerfi/shopit/internal/domain"
	"github.com/SaleDjerfi/shopit/internal/repository"
	apperrors "github.com/SaleDjerfi/shopit/pkg/errors"
)

// --- Mocks ---

type mockProductRepository struct {
	mock.Mock
}

func (m *mockProductRepository) Create(ctx context.Context, product *domain.Product) error {
	args := m.Called(ctx, product)
	return args.Error(0)
}

func (m *mockProductRepository) GetByID(ctx context.Context, id string) (*domain.Product, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.Product), args.Error(1)
}

func (m *mockProductRepository) List(ctx context.Context, filter repository.ProductFilter) ([]domain.Product, int, error) {
	args := m.Called(ctx, filter)
	if args.Get(0) == nil {
		return nil, args.Int(1), args.Error(2)
	}
	return args.Get(0).([]domain.Product), args.Int(1), args.Error(2)
}

func (m *mockProductRepository) ListAll(ctx context.Context) ([]domain.Product, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]domain.Product), args.Error(1)
}

// Update applies mutate to the product given in the expectation, mimicking
// a store's read-modify-write.
func (m *mockProductRepository) Update(ctx context.Context, id string, mutate repository.MutateFunc) (*domain.Product, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	p := args.Get(0).(*domain.Product).Clone()
	if err := mutate(p); err != nil {
		return nil, err
	}
	p.Version++
	return p, args.Error(1)
}

func (m *mockProductRepository) Delete(ctx context.Context, id string) error {
	args := m.Called(ctx, id)
	return args.Error(0)
}

type mockCache struct {
	mock.Mock
}

func (m *mockCache) Get(ctx context.Context, id string) (*domain.Product, cache.Generation, error) {
	args := m.Called(ctx, id)
	gen := args.Get(1).(cache.Generation)
	if args.Get(0) == nil {
		return nil, gen, args.Error(2)
	}
	return args.Get(0).(*domain.Product), gen, args.Error(2)
}

func (m *mockCache) Set(ctx context.Context, p *domain.Product, gen cache.Generation) error {
	return m.Called(ctx, p, gen).Error(0)
}

func (m *mockCache) Invalidate(ctx context.Context, id string) error {
	return m.Called(ctx, id).Error(0)
}

type mockPublisher struct {
	mock.Mock
}

func (m *mockPublisher) PublishProductCreated(ctx context.Context, p *domain.Product) error {
	return m.Called(ctx, p).Error(0)
}

func (m *mockPublisher) PublishProductUpdated(ctx context.Context, p *domain.Product) error {
	return m.Called(ctx, p).Error(0)
}

func (m *mockPublisher) PublishProductDeleted(ctx context.Context, id string) error {
	return m.Called(ctx, id).Error(0)
}

func (m *mockPublisher) PublishReviewUpserted(ctx context.Context, p *domain.Product, r domain.Review) error {
	return m.Called(ctx, p, r).Error(0)
}

func (m *mockPublisher) PublishReviewDeleted(ctx context.Context, p *domain.Product, userID string) error {
	return m.Called(ctx, p, userID).Error(0)
}

// --- Test Helpers ---

func newTestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

var (
	admin    = &auth.Identity{ID: "admin-1", Name: "Root", Role: auth.RoleAdmin}
	customer = &auth.Identity{ID: "user-1", Name: "Ana", Role: auth.RoleCustomer}
)

func newTestService(repo *mockProductRepository, pub *mockPublisher) *ProductService {
	return NewProductService(repo, cache.Noop{}, pub, newTestLogger())
}

func strPtr(s string) *string { return &s }

func int64Ptr(i int64) *int64 { return &i }

func intPtr(i int) *int { return &i }

func validCreateInput() *CreateProductInput {
	return &CreateProductInput{
		Name:        "Trail Camera",
		Price:       12999,
		Description: "Weatherproof camera",
		Category:    domain.CategoryCameras,
		Stock:       4,
	}
}

func existingProduct() *domain.Product {
	return &domain.Product{
		ID:          "7b0d3f4e-51f4-4c1c-9a53-2f1f8f1e0a01",
		Name:        "Trail Camera",
		Slug:        "trail-camera-7b0d3f4e",
		Price:       12999,
		Description: "Weatherproof camera",
		Images:      []domain.ProductImage{},
		Category:    domain.CategoryCameras,
		Stock:       4,
		Seller:      "admin-1",
		Rating:      4.5,
		ReviewCount: 2,
		Reviews: map[string]domain.Review{
			"a": {UserID: "a", Rating: 4},
			"b": {UserID: "b", Rating: 5},
		},
		Version: 3,
	}
}

// --- Create ---

func TestCreate_Success(t *testing.T) {
	repo := new(mockProductRepository)
	pub := new(mockPublisher)
	svc := newTestService(repo, pub)
	ctx := context.Background()

	repo.On("Create", ctx, mock.AnythingOfType("*domain.Product")).Return(nil)
	pub.On("PublishProductCreated", ctx, mock.AnythingOfType("*domain.Product")).Return(nil)

	p, err := svc.Create(ctx, admin, validCreateInput())
	require.NoError(t, err)

	id, err := uuid.Parse(p.ID)
	require.NoError(t, err)
	assert.Equal(t, "trail-camera-"+id.String()[:8], p.Slug)
	assert.Equal(t, "admin-1", p.Seller)
	assert.Zero(t, p.Rating)
	assert.Zero(t, p.ReviewCount)
	assert.Empty(t, p.Reviews)
	assert.NotNil(t, p.Images)
	assert.Equal(t, int64(1), p.Version)
	repo.AssertExpectations(t)
	pub.AssertExpectations(t)
}

func TestCreate_RequiresAdmin(t *testing.T) {
	repo := new(mockProductRepository)
	svc := newTestService(repo, new(mockPublisher))

	_, err := svc.Create(context.Background(), customer, validCreateInput())
	assert.ErrorIs(t, err, apperrors.ErrForbidden)

	_, err = svc.Create(context.Background(), nil, validCreateInput())
	assert.ErrorIs(t, err, apperrors.ErrUnauthorized)

	repo.AssertNotCalled(t, "Create", mock.Anything, mock.Anything)
}

func TestCreate_Validation(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(in *CreateProductInput)
		want   string
	}{
		{"empty name", func(in *CreateProductInput) { in.Name = "   " }, "name is required"},
		{"long name", func(in *CreateProductInput) { in.Name = strings.Repeat("é", MaxNameLength+1) }, "cannot exceed"},
		{"zero price", func(in *CreateProductInput) { in.Price = 0 }, "price"},
		{"negative stock", func(in *CreateProductInput) { in.Stock = -1 }, "stock"},
		{"unknown category", func(in *CreateProductInput) { in.Category = "Toys" }, "category"},
		{"empty description", func(in *CreateProductInput) { in.Description = "" }, "description"},
		{"image without url", func(in *CreateProductInput) {
			in.Images = []domain.ProductImage{{PublicID: "x"}}
		}, "url"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			repo := new(mockProductRepository)
			svc := newTestService(repo, new(mockPublisher))
			in := validCreateInput()
			tt.mutate(in)

			_, err := svc.Create(context.Background(), admin, in)
			require.Error(t, err)
			assert.ErrorIs(t, err, apperrors.ErrInvalidInput)
			assert.Contains(t, err.Error(), tt.want)
			repo.AssertNotCalled(t, "Create", mock.Anything, mock.Anything)
		})
	}
}

func TestCreate_NameAtLimitAccepted(t *testing.T) {
	repo := new(mockProductRepository)
	pub := new(mockPublisher)
	svc := newTestService(repo, pub)
	ctx := context.Background()

	repo.On("Create", ctx, mock.Anything).Return(nil)
	pub.On("PublishProductCreated", ctx, mock.Anything).Return(nil)

	in := validCreateInput()
	in.Name = strings.Repeat("é", MaxNameLength)
	_, err := svc.Create(ctx, admin, in)
	assert.NoError(t, err)
}

func TestCreate_PublishFailureDoesNotFail(t *testing.T) {
	repo := new(mockProductRepository)
	pub := new(mockPublisher)
	svc := newTestService(repo, pub)
	ctx := context.Background()

	repo.On("Create", ctx, mock.Anything).Return(nil)
	pub.On("PublishProductCreated", ctx, mock.Anything).Return(errors.New("broker down"))

	p, err := svc.Create(ctx, admin, validCreateInput())
	require.NoError(t, err)
	assert.NotEmpty(t, p.ID)
}

func TestCreate_RepositoryError(t *testing.T) {
	repo := new(mockProductRepository)
	svc := newTestService(repo, new(mockPublisher))
	ctx := context.Background()

	repo.On("Create", ctx, mock.Anything).Return(apperrors.AlreadyExists("product", "slug", "x"))

	_, err := svc.Create(ctx, admin, validCreateInput())
	assert.ErrorIs(t, err, apperrors.ErrAlreadyExists)
}

// --- Get ---

func TestGet_CacheHit(t *testing.T) {
	repo := new(mockProductRepository)
	c := new(mockCache)
	svc := NewProductService(repo, c, new(mockPublisher), newTestLogger())
	ctx := context.Background()

	p := existingProduct()
	c.On("Get", ctx, p.ID).Return(p, cache.Generation(0), nil)

	got, err := svc.Get(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, p, got)
	repo.AssertNotCalled(t, "GetByID", mock.Anything, mock.Anything)
}

func TestGet_CacheMissFillsCache(t *testing.T) {
	repo := new(mockProductRepository)
	c := new(mockCache)
	svc := NewProductService(repo, c, new(mockPublisher), newTestLogger())
	ctx := context.Background()

	p := existingProduct()
	c.On("Get", ctx, p.ID).Return(nil, cache.Generation(7), cache.ErrMiss)
	repo.On("GetByID", ctx, p.ID).Return(p, nil)
	c.On("Set", ctx, p, cache.Generation(7)).Return(nil)

	got, err := svc.Get(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, p.ID, got.ID)
	c.AssertExpectations(t)
}

func TestGet_CacheErrorFallsBackToStore(t *testing.T) {
	repo := new(mockProductRepository)
	c := new(mockCache)
	svc := NewProductService(repo, c, new(mockPublisher), newTestLogger())
	ctx := context.Background()

	p := existingProduct()
	c.On("Get", ctx, p.ID).Return(nil, cache.Generation(0), errors.New("redis down"))
	repo.On("GetByID", ctx, p.ID).Return(p, nil)

	got, err := svc.Get(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, p.ID, got.ID)
	c.AssertNotCalled(t, "Set", mock.Anything, mock.Anything, mock.Anything)
}

func TestGet_NotFound(t *testing.T) {
	repo := new(mockProductRepository)
	svc := newTestService(repo, new(mockPublisher))
	ctx := context.Background()

	repo.On("GetByID", ctx, "missing").Return(nil, apperrors.NotFound("product", "missing"))

	_, err := svc.Get(ctx, "missing")
	assert.ErrorIs(t, err, apperrors.ErrNotFound)
}

// --- List ---

func TestListPublic(t *testing.T) {
	repo := new(mockProductRepository)
	svc := newTestService(repo, new(mockPublisher))
	ctx := context.Background()

	filter := repository.ProductFilter{Keyword: "camera", Page: 1, PerPage: 20}
	repo.On("List", ctx, filter).Return([]domain.Product{*existingProduct()}, 1, nil)

	products, total, err := svc.ListPublic(ctx, filter)
	require.NoError(t, err)
	assert.Equal(t, 1, total)
	assert.Len(t, products, 1)
}

func TestListAdmin(t *testing.T) {
	repo := new(mockProductRepository)
	svc := newTestService(repo, new(mockPublisher))
	ctx := context.Background()

	repo.On("ListAll", ctx).Return([]domain.Product{*existingProduct()}, nil)

	products, err := svc.ListAdmin(ctx, admin)
	require.NoError(t, err)
	assert.Len(t, products, 1)

	_, err = svc.ListAdmin(ctx, customer)
	assert.ErrorIs(t, err, apperrors.ErrForbidden)
}

// --- Update ---

func TestUpdate_PartialMerge(t *testing.T) {
	repo := new(mockProductRepository)
	c := new(mockCache)
	pub := new(mockPublisher)
	svc := NewProductService(repo, c, pub, newTestLogger())
	ctx := context.Background()

	cur := existingProduct()
	repo.On("Update", ctx, cur.ID).Return(cur, nil)
	c.On("Invalidate", ctx, cur.ID).Return(nil)
	pub.On("PublishProductUpdated", ctx, mock.Anything).Return(nil)

	updated, err := svc.Update(ctx, admin, cur.ID, &UpdateProductInput{
		Price: int64Ptr(9999),
		Stock: intPtr(0),
	})
	require.NoError(t, err)
	assert.Equal(t, int64(9999), updated.Price)
	assert.Equal(t, 0, updated.Stock)
	assert.Equal(t, cur.Name, updated.Name)
	assert.Equal(t, cur.Slug, updated.Slug, "slug kept without rename")
	assert.Equal(t, cur.Rating, updated.Rating)
	assert.Equal(t, cur.ReviewCount, updated.ReviewCount)
	c.AssertExpectations(t)
	pub.AssertExpectations(t)
}

func TestUpdate_RenameRegeneratesSlug(t *testing.T) {
	repo := new(mockProductRepository)
	pub := new(mockPublisher)
	svc := newTestService(repo, pub)
	ctx := context.Background()

	cur := existingProduct()
	repo.On("Update", ctx, cur.ID).Return(cur, nil)
	pub.On("PublishProductUpdated", ctx, mock.Anything).Return(nil)

	updated, err := svc.Update(ctx, admin, cur.ID, &UpdateProductInput{Name: strPtr("  Night Vision Cam ")})
	require.NoError(t, err)
	assert.Equal(t, "Night Vision Cam", updated.Name)
	assert.Equal(t, "night-vision-cam-7b0d3f4e", updated.Slug)
}

func TestUpdate_InvalidInputNeverReachesStore(t *testing.T) {
	repo := new(mockProductRepository)
	svc := newTestService(repo, new(mockPublisher))
	cat := domain.Category("Toys")

	inputs := []*UpdateProductInput{
		{Name: strPtr("")},
		{Price: int64Ptr(-5)},
		{Stock: intPtr(-1)},
		{Category: &cat},
		{Description: strPtr(" ")},
	}
	for _, in := range inputs {
		_, err := svc.Update(context.Background(), admin, "p1", in)
		assert.ErrorIs(t, err, apperrors.ErrInvalidInput)
	}
	repo.AssertNotCalled(t, "Update", mock.Anything, mock.Anything)
}

func TestUpdate_NonAdminForbidden(t *testing.T) {
	repo := new(mockProductRepository)
	svc := newTestService(repo, new(mockPublisher))

	_, err := svc.Update(context.Background(), customer, "p1", &UpdateProductInput{Price: int64Ptr(1)})
	assert.ErrorIs(t, err, apperrors.ErrForbidden)
	repo.AssertNotCalled(t, "Update", mock.Anything, mock.Anything)
}

func TestUpdate_NotFound(t *testing.T) {
	repo := new(mockProductRepository)
	svc := newTestService(repo, new(mockPublisher))
	ctx := context.Background()

	repo.On("Update", ctx, "missing").Return(nil, apperrors.NotFound("product", "missing"))

	_, err := svc.Update(ctx, admin, "missing", &UpdateProductInput{Price: int64Ptr(1)})
	assert.ErrorIs(t, err, apperrors.ErrNotFound)
}

// --- Delete ---

func TestDelete_Success(t *testing.T) {
	repo := new(mockProductRepository)
	c := new(mockCache)
	pub := new(mockPublisher)
	svc := NewProductService(repo, c, pub, newTestLogger())
	ctx := context.Background()

	repo.On("Delete", ctx, "p1").Return(nil)
	c.On("Invalidate", ctx, "p1").Return(errors.New("redis down"))
	pub.On("PublishProductDeleted", ctx, "p1").Return(nil)

	require.NoError(t, svc.Delete(ctx, admin, "p1"))
	repo.AssertExpectations(t)
	c.AssertExpectations(t)
	pub.AssertExpectations(t)
}

func TestDelete_NonAdminForbidden(t *testing.T) {
	repo := new(mockProductRepository)
	svc := newTestService(repo, new(mockPublisher))

	err := svc.Delete(context.Background(), customer, "p1")
	assert.ErrorIs(t, err, apperrors.ErrForbidden)
	repo.AssertNotCalled(t, "Delete", mock.Anything, mock.Anything)
}

func TestDelete_NotFound(t *testing.T) {
	repo := new(mockProductRepository)
	svc := newTestService(repo, new(mockPublisher))
	ctx := context.Background()

	repo.On("Delete", ctx, "missing").Return(apperrors.NotFound("product", "missing"))

	err := svc.Delete(ctx, admin, "missing")
	assert.ErrorIs(t, err, apperrors.ErrNotFound)
}
