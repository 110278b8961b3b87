package db

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"boxrate/internal/packing"
)

var (
	ErrNotFound  = errors.New("estimate not found")
	ErrDuplicate = errors.New("estimate already exists")
)

const schema = `
CREATE TABLE IF NOT EXISTS shipping_estimates (
    id             uuid PRIMARY KEY,
    request_id     text NOT NULL DEFAULT '',
    postal_code    text NOT NULL,
    country        text NOT NULL,
    box_name       text NOT NULL,
    box_dimensions jsonb NOT NULL,
    weight         double precision NOT NULL,
    fallback       boolean NOT NULL DEFAULT false,
    rates          jsonb NOT NULL,
    created_at     timestamptz NOT NULL
)`

// Estimate is a persisted box + rate quote.
type Estimate struct {
	ID            uuid.UUID          `json:"id"`
	RequestID     string             `json:"request_id,omitempty"`
	PostalCode    string             `json:"postal_code"`
	Country       string             `json:"country"`
	BoxName       string             `json:"box"`
	BoxDimensions packing.Dimensions `json:"box_dimensions"`
	Weight        float64            `json:"weight"`
	Fallback      bool               `json:"fallback"`
	Rates         json.RawMessage    `json:"rates"`
	CreatedAt     time.Time          `json:"created_at"`
}

type EstimateStore struct {
	pool *pgxpool.Pool
}

func NewEstimateStore(pool *pgxpool.Pool) *EstimateStore {
	return &EstimateStore{pool: pool}
}

// EnsureSchema creates the estimates table if it does not exist.
func (s *EstimateStore) EnsureSchema(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, schema)
	return err
}

// Save inserts e, assigning an id and creation time when unset.
func (s *EstimateStore) Save(ctx context.Context, e *Estimate) error {
	if e.ID == uuid.Nil {
		e.ID = uuid.New()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now().UTC()
	}
	if e.Rates == nil {
		e.Rates = json.RawMessage("{}")
	}
	dims, err := json.Marshal(e.BoxDimensions)
	if err != nil {
		return err
	}

	_, err = s.pool.Exec(ctx, `
        INSERT INTO shipping_estimates (
            id, request_id, postal_code, country, box_name, box_dimensions,
            weight, fallback, rates, created_at
        ) VALUES ($1, $2, $3, $4, $5, $6::jsonb, $7, $8, $9::jsonb, $10)
    `,
		e.ID,
		e.RequestID,
		e.PostalCode,
		e.Country,
		e.BoxName,
		string(dims),
		e.Weight,
		e.Fallback,
		string(e.Rates),
		e.CreatedAt,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" { // unique_violation
			return fmt.Errorf("%w: %s", ErrDuplicate, e.ID)
		}
		return err
	}
	return nil
}

func (s *EstimateStore) Get(ctx context.Context, id uuid.UUID) (*Estimate, error) {
	var (
		e    Estimate
		dims []byte
	)
	err := s.pool.QueryRow(ctx, `
        SELECT id, request_id, postal_code, country, box_name, box_dimensions,
               weight, fallback, rates, created_at
        FROM shipping_estimates
        WHERE id = $1
    `, id).Scan(
		&e.ID,
		&e.RequestID,
		&e.PostalCode,
		&e.Country,
		&e.BoxName,
		&dims,
		&e.Weight,
		&e.Fallback,
		&e.Rates,
		&e.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	if err := json.Unmarshal(dims, &e.BoxDimensions); err != nil {
		return nil, fmt.Errorf("decode box dimensions: %w", err)
	}
	e.CreatedAt = e.CreatedAt.UTC()
	return &e, nil
}
