package main

import (
	"context"
	"encoding/json"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"

	"github.com/xenking/bookstore-pickup/internal/domain/catalog"
	"github.com/xenking/bookstore-pickup/internal/domain/member"
	"github.com/xenking/bookstore-pickup/internal/storage/postgres"
)

type seedFile struct {
	Books []struct {
		ID              int64           `json:"id"`
		Title           string          `json:"title"`
		Author          string          `json:"author"`
		Price           decimal.Decimal `json:"price"`
		Stock           int             `json:"stock"`
		DiscountPercent int             `json:"discountPercent"`
		DiscountStart   *time.Time      `json:"discountStart"`
		DiscountEnd     *time.Time      `json:"discountEnd"`
	} `json:"books"`
	Members []struct {
		Name  string `json:"name"`
		Email string `json:"email"`
	} `json:"members"`
}

func main() {
	var (
		databaseURL string
		seedPath    string
	)

	flag.StringVar(&databaseURL, "database-url", "", "PostgreSQL connection URL (or DATABASE_URL env)")
	flag.StringVar(&seedPath, "seed-file", "db/seed/catalog.json", "path to the books and members JSON file")
	flag.Parse()

	if databaseURL == "" {
		databaseURL = os.Getenv("DATABASE_URL")
	}
	if databaseURL == "" {
		slog.Error("database URL is required: set --database-url or DATABASE_URL")
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	if err := run(ctx, databaseURL, seedPath); err != nil {
		slog.Error("seed failed", slog.String("error", err.Error()))
		os.Exit(1)
	}

	slog.Info("seed completed successfully")
}

func run(ctx context.Context, databaseURL, seedPath string) error {
	slog.Info("reading seed file", slog.String("path", seedPath))

	data, err := os.ReadFile(seedPath)
	if err != nil {
		return errors.Wrap(err, "read seed file")
	}
	var seed seedFile
	if err := json.Unmarshal(data, &seed); err != nil {
		return errors.Wrap(err, "parse seed JSON")
	}

	slog.Info("connecting to database")

	pool, err := postgres.NewPool(ctx, databaseURL)
	if err != nil {
		return errors.Wrap(err, "connect to database")
	}
	defer pool.Close()

	slog.Info("running migrations")

	if err := postgres.RunMigrations(ctx, pool); err != nil {
		return errors.Wrap(err, "run migrations")
	}

	books := postgres.NewBookRepository(pool)
	for _, b := range seed.Books {
		if err := books.Upsert(ctx, catalog.Book{
			ID:              b.ID,
			Title:           b.Title,
			Author:          b.Author,
			Price:           b.Price,
			Stock:           b.Stock,
			DiscountPercent: b.DiscountPercent,
			DiscountStart:   b.DiscountStart,
			DiscountEnd:     b.DiscountEnd,
		}); err != nil {
			return errors.Wrapf(err, "upsert book %d", b.ID)
		}
		slog.Info("upserted book", slog.Int64("id", b.ID), slog.String("title", b.Title))
	}
	if err := books.SyncSequence(ctx); err != nil {
		return errors.Wrap(err, "sync book ids")
	}

	members := postgres.NewMemberRepository(pool)
	for _, s := range seed.Members {
		m := &member.Member{Name: s.Name, Email: s.Email}
		if err := members.Upsert(ctx, m); err != nil {
			return errors.Wrapf(err, "upsert member %s", s.Email)
		}
		slog.Info("upserted member",
			slog.Int64("id", m.ID),
			slog.String("email", m.Email),
			slog.String("membership_id", m.MembershipID.String()),
		)
	}

	return nil
}
