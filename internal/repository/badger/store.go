package badger

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v5"
	badgerdb "github.com/dgraph-io/badger/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/SaleDjerfi/shopit/internal/domain"
	"github.com/SaleDjerfi/shopit/pkg/database"
	apperrors "github.com/SaleDjerfi/shopit/pkg/errors"
)

var conflictsTotal = promauto.NewCounter(prometheus.CounterOpts{
	Name: "catalog_store_conflicts_total",
	Help: "Optimistic transaction conflicts seen by the embedded store.",
})

const (
	productPrefix = "product:"
	slugPrefix    = "slug:"
)

func productKey(id string) []byte { return []byte(productPrefix + id) }

func slugKey(slug string) []byte { return []byte(slugPrefix + slug) }

// update runs fn in a read-write transaction. A commit that loses an
// optimistic conflict re-runs fn from scratch with jittered exponential
// backoff; once the retry budget is spent the caller gets a Conflict.
func (d *DB) update(ctx context.Context, operation, key string, fn func(txn *badgerdb.Txn) error) (err error) {
	ctx, end := database.TraceOp(ctx, database.SystemBadger, operation, key)
	defer func() { end(err) }()

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 2 * time.Millisecond
	b.MaxInterval = 100 * time.Millisecond
	b.RandomizationFactor = 0.5

	attempts := 0
	_, err = backoff.Retry(ctx, func() (struct{}, error) {
		attempts++
		err := d.db.Update(fn)
		switch {
		case err == nil:
			return struct{}{}, nil
		case errors.Is(err, badgerdb.ErrConflict):
			conflictsTotal.Inc()
			return struct{}{}, err
		default:
			return struct{}{}, backoff.Permanent(err)
		}
	},
		backoff.WithBackOff(b),
		backoff.WithMaxTries(uint(d.retries)+1),
	)

	if errors.Is(err, badgerdb.ErrConflict) {
		d.logger.WarnContext(ctx, "store conflict retries exhausted",
			slog.String("operation", operation),
			slog.String("key", key),
			slog.Int("attempts", attempts),
		)
		return apperrors.Conflict("the product is being modified concurrently, retry the request")
	}
	return err
}

// view runs fn in a read-only transaction.
func (d *DB) view(ctx context.Context, operation, key string, fn func(txn *badgerdb.Txn) error) (err error) {
	_, end := database.TraceOp(ctx, database.SystemBadger, operation, key)
	defer func() { end(err) }()

	return d.db.View(fn)
}

func getProduct(txn *badgerdb.Txn, id string) (*domain.Product, error) {
	item, err := txn.Get(productKey(id))
	if err != nil {
		if errors.Is(err, badgerdb.ErrKeyNotFound) {
			return nil, apperrors.NotFound("product", id)
		}
		return nil, fmt.Errorf("get product %s: %w", id, err)
	}

	var p domain.Product
	if err := item.Value(func(val []byte) error {
		return json.Unmarshal(val, &p)
	}); err != nil {
		return nil, fmt.Errorf("decode product %s: %w", id, err)
	}
	if p.Images == nil {
		p.Images = []domain.ProductImage{}
	}
	return &p, nil
}

func putProduct(txn *badgerdb.Txn, p *domain.Product) error {
	data, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("encode product %s: %w", p.ID, err)
	}
	if err := txn.Set(productKey(p.ID), data); err != nil {
		return fmt.Errorf("put product %s: %w", p.ID, err)
	}
	return nil
}

// scanProducts decodes every stored product accepted by keep.
func scanProducts(txn *badgerdb.Txn, keep func(*domain.Product) bool) ([]domain.Product, error) {
	opts := badgerdb.DefaultIteratorOptions
	opts.Prefix = []byte(productPrefix)
	it := txn.NewIterator(opts)
	defer it.Close()

	products := []domain.Product{}
	for it.Rewind(); it.Valid(); it.Next() {
		var p domain.Product
		if err := it.Item().Value(func(val []byte) error {
			return json.Unmarshal(val, &p)
		}); err != nil {
			return nil, fmt.Errorf("decode product %s: %w", it.Item().Key(), err)
		}
		if keep != nil && !keep(&p) {
			continue
		}
		if p.Images == nil {
			p.Images = []domain.ProductImage{}
		}
		products = append(products, p)
	}
	return products, nil
}
