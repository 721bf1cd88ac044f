// Command discount-codegen bulk-generates unique discount codes into a
// discount's ledger, for campaigns too large for the admin endpoint.
package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"

	"github.com/go-faster/errors"
	"golang.org/x/sync/errgroup"

	"github.com/shopengine/discount/internal/codes"
	"github.com/shopengine/discount/internal/domain/discount"
	"github.com/shopengine/discount/internal/storage/postgres"
)

const insertBatchSize = 500

func main() {
	var (
		databaseURL string
		discountID  string
		count       int
	)

	flag.StringVar(&databaseURL, "database-url", "", "PostgreSQL connection URL (or DATABASE_URL env)")
	flag.StringVar(&discountID, "discount-id", "", "target discount record ID")
	flag.IntVar(&count, "count", 100, "number of codes to generate (min 2)")
	flag.Parse()

	if databaseURL == "" {
		databaseURL = os.Getenv("DATABASE_URL")
	}
	if databaseURL == "" {
		slog.Error("database URL is required: set --database-url or DATABASE_URL")
		os.Exit(1)
	}
	if discountID == "" {
		slog.Error("--discount-id is required")
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	if err := run(ctx, databaseURL, discountID, count); err != nil {
		slog.Error("code generation failed", slog.String("error", err.Error()))
		os.Exit(1)
	}

	slog.Info("code generation completed", slog.Int("count", count))
}

func run(ctx context.Context, databaseURL, discountID string, count int) error {
	pool, err := postgres.NewPool(ctx, databaseURL)
	if err != nil {
		return errors.Wrap(err, "connect to database")
	}
	defer pool.Close()

	discounts := postgres.NewDiscountRepository(pool)
	rec, err := discounts.Get(ctx, discountID)
	if err != nil {
		return errors.Wrapf(err, "load discount %s", discountID)
	}
	if !rec.HasUniqueCode() {
		return errors.Errorf("discount %s does not use unique codes", discountID)
	}

	batch, err := codes.Generate(count)
	if err != nil {
		return errors.Wrap(err, "generate codes")
	}

	slog.Info("inserting codes",
		slog.String("discount", rec.Title),
		slog.Int("count", len(batch)),
	)

	return insertChunks(ctx, postgres.NewLedgerRepository(pool), discountID, batch)
}

// insertChunks writes the batch in fixed-size chunks, a few in flight at a
// time.
func insertChunks(ctx context.Context, ledger discount.Ledger, discountID string, batch []string) error {
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(4)

	for start := 0; start < len(batch); start += insertBatchSize {
		end := min(start+insertBatchSize, len(batch))
		chunk := batch[start:end]
		g.Go(func() error {
			return ledger.Insert(ctx, discountID, chunk)
		})
	}

	return g.Wait()
}
