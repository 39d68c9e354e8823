package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/xenking/bookstore-pickup/internal/domain/catalog"
)

const getBooksByIDsSQL = `SELECT id, title, author, price, stock, discount_percent, discount_start, discount_end
	FROM books WHERE id = ANY($1) ORDER BY id`

const upsertBookSQL = `INSERT INTO books (id, title, author, price, stock, discount_percent, discount_start, discount_end)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	ON CONFLICT (id) DO UPDATE SET
		title = EXCLUDED.title,
		author = EXCLUDED.author,
		price = EXCLUDED.price,
		stock = EXCLUDED.stock,
		discount_percent = EXCLUDED.discount_percent,
		discount_start = EXCLUDED.discount_start,
		discount_end = EXCLUDED.discount_end`

const syncBookSequenceSQL = `SELECT setval(pg_get_serial_sequence('books', 'id'), GREATEST((SELECT MAX(id) FROM books), 1))`

var _ catalog.Repository = (*BookRepository)(nil)

// BookRepository implements catalog.Repository backed by PostgreSQL.
type BookRepository struct {
	pool *pgxpool.Pool
}

// NewBookRepository returns a BookRepository that uses the given pool.
func NewBookRepository(pool *pgxpool.Pool) *BookRepository {
	return &BookRepository{pool: pool}
}

// GetByIDs returns the books matching ids ordered by id. ANY ignores
// duplicates in ids.
func (r *BookRepository) GetByIDs(ctx context.Context, ids []int64) ([]catalog.Book, error) {
	if len(ids) == 0 {
		return nil, nil
	}

	rows, err := conn(ctx, r.pool).Query(ctx, getBooksByIDsSQL, ids)
	if err != nil {
		return nil, fmt.Errorf("getting books by ids: %w", err)
	}

	books, err := pgx.CollectRows(rows, scanBook)
	if err != nil {
		return nil, fmt.Errorf("getting books by ids: %w", err)
	}
	return books, nil
}

func scanBook(row pgx.CollectableRow) (catalog.Book, error) {
	var (
		b       catalog.Book
		price   decimal.Decimal
		stock   int32
		percent int32
		start   *time.Time
		end     *time.Time
	)
	err := row.Scan(&b.ID, &b.Title, &b.Author, &price, &stock, &percent, &start, &end)
	b.Price = price
	b.Stock = int(stock)
	b.DiscountPercent = int(percent)
	b.DiscountStart = start
	b.DiscountEnd = end
	return b, err
}

// Upsert inserts b with its id or overwrites the existing row. Callers that
// upsert explicit ids must call SyncSequence afterwards.
func (r *BookRepository) Upsert(ctx context.Context, b catalog.Book) error {
	_, err := conn(ctx, r.pool).Exec(ctx, upsertBookSQL,
		b.ID, b.Title, b.Author, b.Price, b.Stock, b.DiscountPercent, b.DiscountStart, b.DiscountEnd,
	)
	if err != nil {
		return fmt.Errorf("upserting book %d: %w", b.ID, err)
	}
	return nil
}

// SyncSequence moves the id sequence past the highest stored id.
func (r *BookRepository) SyncSequence(ctx context.Context) error {
	if _, err := conn(ctx, r.pool).Exec(ctx, syncBookSequenceSQL); err != nil {
		return fmt.Errorf("syncing book sequence: %w", err)
	}
	return nil
}
