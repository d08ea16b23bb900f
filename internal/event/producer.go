package event

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/SaleDjerfi/shopit/internal/domain"
	"github.com/SaleDjerfi/shopit/pkg/breaker"
	pkgkafka "github.com/SaleDjerfi/shopit/pkg/kafka"
	"github.com/SaleDjerfi/shopit/pkg/logger"
)

// Event types published for the product aggregate. All of them go to the
// same topic keyed by product id, so consumers see one product's history in
// order.
const (
	TypeProductCreated = "product.created"
	TypeProductUpdated = "product.updated"
	TypeProductDeleted = "product.deleted"
	TypeReviewUpserted = "review.upserted"
	TypeReviewDeleted  = "review.deleted"
)

// Aggregate type constant.
const AggregateTypeProduct = "product"

// SourceCatalog identifies events originating from this service.
const SourceCatalog = "catalog-service"

// ProductData is the payload for product.created and product.updated.
type ProductData struct {
	ID          string          `json:"id"`
	Name        string          `json:"name"`
	Slug        string          `json:"slug"`
	Price       int64           `json:"price"`
	Category    domain.Category `json:"category"`
	Stock       int             `json:"stock"`
	Seller      string          `json:"seller"`
	Rating      float64         `json:"rating"`
	ReviewCount int             `json:"review_count"`
	Version     int64           `json:"version"`
}

// ProductDeletedData is the payload for product.deleted.
type ProductDeletedData struct {
	ID string `json:"id"`
}

// ReviewData is the payload for review.upserted and review.deleted. It
// carries the aggregate as it stood after the change.
type ReviewData struct {
	ProductID     string  `json:"product_id"`
	UserID        string  `json:"user_id"`
	Rating        int     `json:"rating,omitempty"`
	ProductRating float64 `json:"product_rating"`
	ReviewCount   int     `json:"review_count"`
}

// Publisher is what services need from the event layer.
type Publisher interface {
	PublishProductCreated(ctx context.Context, p *domain.Product) error
	PublishProductUpdated(ctx context.Context, p *domain.Product) error
	PublishProductDeleted(ctx context.Context, id string) error
	PublishReviewUpserted(ctx context.Context, p *domain.Product, r domain.Review) error
	PublishReviewDeleted(ctx context.Context, p *domain.Product, userID string) error
}

// sender is the part of *pkgkafka.Producer used here.
type sender interface {
	Publish(ctx context.Context, topic string, event *pkgkafka.Event) error
}

// Producer publishes catalog domain events to Kafka. Sends go through a
// circuit breaker so an unreachable broker fails fast.
type Producer struct {
	kafka  sender
	topic  string
	cb     *breaker.Breaker[struct{}]
	logger *slog.Logger
}

// NewProducer creates a producer writing to "<topicPrefix>.product.events".
func NewProducer(kafka sender, topicPrefix string, cbCfg breaker.Config, logger *slog.Logger) *Producer {
	return &Producer{
		kafka:  kafka,
		topic:  pkgkafka.Topic(topicPrefix, AggregateTypeProduct),
		cb:     breaker.New[struct{}](cbCfg, logger, nil),
		logger: logger,
	}
}

// Topic returns the topic events are written to.
func (p *Producer) Topic() string { return p.topic }

// PublishProductCreated publishes a product.created event.
func (p *Producer) PublishProductCreated(ctx context.Context, product *domain.Product) error {
	return p.publish(ctx, TypeProductCreated, product.ID, productData(product))
}

// PublishProductUpdated publishes a product.updated event.
func (p *Producer) PublishProductUpdated(ctx context.Context, product *domain.Product) error {
	return p.publish(ctx, TypeProductUpdated, product.ID, productData(product))
}

// PublishProductDeleted publishes a product.deleted event.
func (p *Producer) PublishProductDeleted(ctx context.Context, id string) error {
	return p.publish(ctx, TypeProductDeleted, id, ProductDeletedData{ID: id})
}

// PublishReviewUpserted publishes a review.upserted event.
func (p *Producer) PublishReviewUpserted(ctx context.Context, product *domain.Product, r domain.Review) error {
	return p.publish(ctx, TypeReviewUpserted, product.ID, ReviewData{
		ProductID:     product.ID,
		UserID:        r.UserID,
		Rating:        r.Rating,
		ProductRating: product.Rating,
		ReviewCount:   product.ReviewCount,
	})
}

// PublishReviewDeleted publishes a review.deleted event.
func (p *Producer) PublishReviewDeleted(ctx context.Context, product *domain.Product, userID string) error {
	return p.publish(ctx, TypeReviewDeleted, product.ID, ReviewData{
		ProductID:     product.ID,
		UserID:        userID,
		ProductRating: product.Rating,
		ReviewCount:   product.ReviewCount,
	})
}

func (p *Producer) publish(ctx context.Context, eventType, aggregateID string, data any) error {
	evt, err := pkgkafka.NewEvent(eventType, aggregateID, AggregateTypeProduct, SourceCatalog, data)
	if err != nil {
		return fmt.Errorf("create %s event: %w", eventType, err)
	}
	if id := logger.CorrelationIDFromContext(ctx); id != "" {
		evt.WithCorrelationID(id)
	}
	if userID := logger.UserIDFromContext(ctx); userID != "" {
		evt.WithMetadata("actor", userID)
	}

	_, err = p.cb.Execute(func() (struct{}, error) {
		return struct{}{}, p.kafka.Publish(ctx, p.topic, evt)
	})
	if err != nil {
		return fmt.Errorf("publish %s event: %w", eventType, err)
	}

	p.logger.DebugContext(ctx, "published domain event",
		slog.String("event_type", eventType),
		slog.String("product_id", aggregateID),
	)
	return nil
}

func productData(p *domain.Product) ProductData {
	return ProductData{
		ID:          p.ID,
		Name:        p.Name,
		Slug:        p.Slug,
		Price:       p.Price,
		Category:    p.Category,
		Stock:       p.Stock,
		Seller:      p.Seller,
		Rating:      p.Rating,
		ReviewCount: p.ReviewCount,
		Version:     p.Version,
	}
}

// Noop discards events; it is used when Kafka is disabled.
type Noop struct{}

func (Noop) PublishProductCreated(context.Context, *domain.Product) error { return nil }
func (Noop) PublishProductUpdated(context.Context, *domain.Product) error { return nil }
func (Noop) PublishProductDeleted(context.Context, string) error          { return nil }
func (Noop) PublishReviewUpserted(context.Context, *domain.Product, domain.Review) error {
	return nil
}
func (Noop) PublishReviewDeleted(context.Context, *domain.Product, string) error { return nil }
