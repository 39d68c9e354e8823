package postgres

import (
	"context"
	"fmt"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/xenking/bookstore-pickup/internal/domain/member"
)

const getMemberByIDSQL = `SELECT id, name, email, membership_id FROM members WHERE id = $1`

const upsertMemberSQL = `INSERT INTO members (name, email) VALUES ($1, $2)
	ON CONFLICT (email) DO UPDATE SET name = EXCLUDED.name
	RETURNING id, membership_id`

var _ member.Repository = (*MemberRepository)(nil)

// MemberRepository implements member.Repository backed by PostgreSQL.
type MemberRepository struct {
	pool *pgxpool.Pool
}

// NewMemberRepository returns a MemberRepository that uses the given pool.
func NewMemberRepository(pool *pgxpool.Pool) *MemberRepository {
	return &MemberRepository{pool: pool}
}

// GetByID returns member.ErrNotFound when no member has the given id.
func (r *MemberRepository) GetByID(ctx context.Context, id int64) (*member.Member, error) {
	var m member.Member
	err := conn(ctx, r.pool).QueryRow(ctx, getMemberByIDSQL, id).Scan(
		&m.ID, &m.Name, &m.Email, &m.MembershipID,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, member.ErrNotFound
		}
		return nil, fmt.Errorf("getting member %d: %w", id, err)
	}
	return &m, nil
}

// Upsert registers m by email, or renames the existing member, and fills in
// the stored id and membership id.
func (r *MemberRepository) Upsert(ctx context.Context, m *member.Member) error {
	err := conn(ctx, r.pool).QueryRow(ctx, upsertMemberSQL, m.Name, m.Email).Scan(&m.ID, &m.MembershipID)
	if err != nil {
		return fmt.Errorf("upserting member %s: %w", m.Email, err)
	}
	return nil
}
