package domain

import (
	"maps"
	"slices"
	"time"
)

// ProductImage references an image hosted by the media provider.
type ProductImage struct {
	PublicID string `json:"public_id"`
	URL      string `json:"url"`
}

// Product represents a product in the catalog. Rating, ReviewCount and
// Reviews change only through UpsertReview and RemoveReview.
type Product struct {
	ID          string            `json:"id"`
	Name        string            `json:"name"`
	Slug        string            `json:"slug"`
	Price       int64             `json:"price"`
	Description string            `json:"description"`
	Images      []ProductImage    `json:"images"`
	Category    Category          `json:"category"`
	Stock       int               `json:"stock"`
	Seller      string            `json:"seller"`
	Rating      float64           `json:"rating"`
	ReviewCount int               `json:"review_count"`
	Reviews     map[string]Review `json:"reviews,omitempty"`
	Version     int64             `json:"version"`
	CreatedAt   time.Time         `json:"created_at"`
	UpdatedAt   time.Time         `json:"updated_at"`
}

// UpsertReview stores r under r.UserID, replacing any earlier review by the
// same identity while keeping its creation time, and recomputes the
// aggregate. It reports whether a new entry was added.
func (p *Product) UpsertReview(r Review, now time.Time) (created bool) {
	if p.Reviews == nil {
		p.Reviews = make(map[string]Review)
	}
	r.CreatedAt, r.UpdatedAt = now, now
	if prev, ok := p.Reviews[r.UserID]; ok {
		r.CreatedAt = prev.CreatedAt
	} else {
		created = true
	}
	p.Reviews[r.UserID] = r
	p.recompute()
	return created
}

// RemoveReview deletes the review written by userID and recomputes the
// aggregate. It reports false when there was no such review.
func (p *Product) RemoveReview(userID string) bool {
	if _, ok := p.Reviews[userID]; !ok {
		return false
	}
	delete(p.Reviews, userID)
	p.recompute()
	return true
}

func (p *Product) recompute() {
	p.Rating, p.ReviewCount = Aggregate(p.Reviews)
}

// ReviewList returns the reviews in stable order.
func (p *Product) ReviewList() []Review {
	list := slices.Collect(maps.Values(p.Reviews))
	if list == nil {
		list = []Review{}
	}
	SortReviews(list)
	return list
}

// Clone returns a deep copy of p.
func (p *Product) Clone() *Product {
	c := *p
	c.Images = slices.Clone(p.Images)
	if p.Reviews != nil {
		c.Reviews = maps.Clone(p.Reviews)
	}
	return &c
}

// ProductView is the wire form of a product: everything except the review
// collection, which is served by the review endpoints.
type ProductView struct {
	ID          string         `json:"id"`
	Name        string         `json:"name"`
	Slug        string         `json:"slug"`
	Price       int64          `json:"price"`
	Description string         `json:"description"`
	Images      []ProductImage `json:"images"`
	Category    Category       `json:"category"`
	Stock       int            `json:"stock"`
	Seller      string         `json:"seller,omitempty"`
	Rating      float64        `json:"rating"`
	ReviewCount int            `json:"review_count"`
	CreatedAt   time.Time      `json:"created_at"`
	UpdatedAt   time.Time      `json:"updated_at"`
}

// AdminView includes the seller.
func (p *Product) AdminView() ProductView {
	images := p.Images
	if images == nil {
		images = []ProductImage{}
	}
	return ProductView{
		ID:          p.ID,
		Name:        p.Name,
		Slug:        p.Slug,
		Price:       p.Price,
		Description: p.Description,
		Images:      images,
		Category:    p.Category,
		Stock:       p.Stock,
		Seller:      p.Seller,
		Rating:      p.Rating,
		ReviewCount: p.ReviewCount,
		CreatedAt:   p.CreatedAt,
		UpdatedAt:   p.UpdatedAt,
	}
}

// PublicView omits the seller.
func (p *Product) PublicView() ProductView {
	v := p.AdminView()
	v.Seller = ""
	return v
}

// PublicViews maps PublicView over products.
func PublicViews(products []Product) []ProductView {
	out := make([]ProductView, len(products))
	for i := range products {
		out[i] = products[i].PublicView()
	}
	return out
}

// AdminViews maps AdminView over products.
func AdminViews(products []Product) []ProductView {
	out := make([]ProductView, len(products))
	for i := range products {
		out[i] = products[i].AdminView()
	}
	return out
}
