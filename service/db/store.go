package db

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/brojonat/weektoken/service/metrics"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

//go:embed schema.sql
var schema string

// ErrNotFound is returned when a lookup matches no row.
var ErrNotFound = errors.New("not found")

// ErrDuplicate is returned when an event for the same signature and
// instruction index was already recorded.
var ErrDuplicate = errors.New("duplicate instruction event")

const pgErrUniqueViolation = "23505"

// Instruction event statuses.
const (
	StatusSuccess = "success"
	StatusFailed  = "failed"
	// StatusInvalid marks an instruction that could not be decoded.
	StatusInvalid = "invalid"
)

// Store provides database operations for the service.
type Store struct {
	pool    *pgxpool.Pool
	metrics *metrics.Metrics
}

// NewStore creates a new Store with the given database connection pool.
// m may be nil.
func NewStore(pool *pgxpool.Pool, m *metrics.Metrics) *Store {
	return &Store{pool: pool, metrics: m}
}

// Connect opens a pool for dsn and verifies it with a ping.
func Connect(ctx context.Context, dsn string) (*pgxpool.Pool, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("connect to postgres: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return pool, nil
}

// Migrate creates the tables and indexes if they do not exist.
func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, schema); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
}

// InstructionEvent is one WEEK program instruction seen in a processed
// transaction. Fields an instruction does not carry are nil.
type InstructionEvent struct {
	ID               int64
	Signature        string
	InstructionIndex int
	Instruction      string
	Mint             *string
	Source           *string
	Destination      *string
	Authority        *string
	Amount           *uint64
	Decimals         *uint8
	Slot             uint64
	Status           string
	Error            *string
	CreatedAt        time.Time
}

// CreateInstructionEventParams contains the parameters for recording an event.
type CreateInstructionEventParams struct {
	Signature        string
	InstructionIndex int
	Instruction      string
	Mint             *string
	Source           *string
	Destination      *string
	Authority        *string
	Amount           *uint64
	Decimals         *uint8
	Slot             uint64
	Status           string
	Error            *string
}

// ListInstructionEventsParams filters and paginates events. Empty filters
// match everything. Account matches source, destination or authority.
type ListInstructionEventsParams struct {
	Mint        string
	Account     string
	Instruction string
	Limit       int32
	Offset      int32
}

const instructionEventColumns = `
	id, signature, instruction_index, instruction, mint, source, destination,
	authority, amount::text, decimals, slot, status, error, created_at`

// CreateInstructionEvent inserts a new instruction event.
func (s *Store) CreateInstructionEvent(ctx context.Context, params CreateInstructionEventParams) (*InstructionEvent, error) {
	start := time.Now()

	var amount *string
	if params.Amount != nil {
		v := strconv.FormatUint(*params.Amount, 10)
		amount = &v
	}
	var decimals *int16
	if params.Decimals != nil {
		v := int16(*params.Decimals)
		decimals = &v
	}

	row := s.pool.QueryRow(ctx, `
		INSERT INTO instruction_events (
			signature, instruction_index, instruction, mint, source, destination,
			authority, amount, decimals, slot, status, error
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8::numeric, $9, $10, $11, $12)
		RETURNING`+instructionEventColumns,
		params.Signature,
		params.InstructionIndex,
		params.Instruction,
		params.Mint,
		params.Source,
		params.Destination,
		params.Authority,
		amount,
		decimals,
		int64(params.Slot),
		params.Status,
		params.Error,
	)

	event, err := scanInstructionEvent(row)
	s.record("insert", "instruction_events", start, err)
	if err != nil {
		if isDuplicateKeyError(err) {
			return nil, ErrDuplicate
		}
		return nil, fmt.Errorf("insert instruction event: %w", err)
	}
	return event, nil
}

// ListInstructionEvents returns matching events, newest first.
func (s *Store) ListInstructionEvents(ctx context.Context, params ListInstructionEventsParams) ([]*InstructionEvent, error) {
	start := time.Now()

	limit := params.Limit
	if limit <= 0 {
		limit = 100
	}

	rows, err := s.pool.Query(ctx, `
		SELECT`+instructionEventColumns+`
		FROM instruction_events
		WHERE ($1 = '' OR mint = $1)
		  AND ($2 = '' OR source = $2 OR destination = $2 OR authority = $2)
		  AND ($3 = '' OR instruction = $3)
		ORDER BY slot DESC, signature DESC, instruction_index DESC
		LIMIT $4 OFFSET $5`,
		params.Mint,
		params.Account,
		params.Instruction,
		limit,
		params.Offset,
	)
	if err != nil {
		s.record("select", "instruction_events", start, err)
		return nil, fmt.Errorf("list instruction events: %w", err)
	}
	defer rows.Close()

	var events []*InstructionEvent
	for rows.Next() {
		event, err := scanInstructionEvent(rows)
		if err != nil {
			s.record("select", "instruction_events", start, err)
			return nil, fmt.Errorf("scan instruction event: %w", err)
		}
		events = append(events, event)
	}
	err = rows.Err()
	s.record("select", "instruction_events", start, err)
	if err != nil {
		return nil, fmt.Errorf("iterate instruction events: %w", err)
	}
	return events, nil
}

func scanInstructionEvent(row pgx.Row) (*InstructionEvent, error) {
	var (
		e        InstructionEvent
		amount   *string
		decimals *int16
		slot     int64
	)
	if err := row.Scan(
		&e.ID,
		&e.Signature,
		&e.InstructionIndex,
		&e.Instruction,
		&e.Mint,
		&e.Source,
		&e.Destination,
		&e.Authority,
		&amount,
		&decimals,
		&slot,
		&e.Status,
		&e.Error,
		&e.CreatedAt,
	); err != nil {
		return nil, err
	}

	if amount != nil {
		v, err := strconv.ParseUint(*amount, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("parse amount %q: %w", *amount, err)
		}
		e.Amount = &v
	}
	if decimals != nil {
		v := uint8(*decimals)
		e.Decimals = &v
	}
	e.Slot = uint64(slot)
	return &e, nil
}

// Mint is a WEEK mint created through the program.
type Mint struct {
	Address       string
	Decimals      uint8
	MintAuthority string
	CreatedSlot   uint64
	Signature     string
	CreatedAt     time.Time
}

// UpsertMintParams contains the parameters for recording a mint.
type UpsertMintParams struct {
	Address       string
	Decimals      uint8
	MintAuthority string
	CreatedSlot   uint64
	Signature     string
}

const mintColumns = `address, decimals, mint_authority, created_slot, signature, created_at`

// UpsertMint records a mint, replacing the stored row for the same address.
func (s *Store) UpsertMint(ctx context.Context, params UpsertMintParams) (*Mint, error) {
	start := time.Now()
	row := s.pool.QueryRow(ctx, `
		INSERT INTO mints (address, decimals, mint_authority, created_slot, signature)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (address) DO UPDATE SET
			decimals = EXCLUDED.decimals,
			mint_authority = EXCLUDED.mint_authority,
			created_slot = EXCLUDED.created_slot,
			signature = EXCLUDED.signature
		RETURNING `+mintColumns,
		params.Address,
		int16(params.Decimals),
		params.MintAuthority,
		int64(params.CreatedSlot),
		params.Signature,
	)
	mint, err := scanMint(row)
	s.record("upsert", "mints", start, err)
	if err != nil {
		return nil, fmt.Errorf("upsert mint: %w", err)
	}
	return mint, nil
}

// GetMint returns the mint at address or ErrNotFound.
func (s *Store) GetMint(ctx context.Context, address string) (*Mint, error) {
	start := time.Now()
	row := s.pool.QueryRow(ctx, `SELECT `+mintColumns+` FROM mints WHERE address = $1`, address)
	mint, err := scanMint(row)
	if errors.Is(err, pgx.ErrNoRows) {
		s.record("select", "mints", start, nil)
		return nil, ErrNotFound
	}
	s.record("select", "mints", start, err)
	if err != nil {
		return nil, fmt.Errorf("get mint: %w", err)
	}
	return mint, nil
}

// ListMints returns mints ordered by creation slot, oldest first.
func (s *Store) ListMints(ctx context.Context, limit, offset int32) ([]*Mint, error) {
	start := time.Now()
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.pool.Query(ctx, `
		SELECT `+mintColumns+`
		FROM mints
		ORDER BY created_slot ASC, address ASC
		LIMIT $1 OFFSET $2`, limit, offset)
	if err != nil {
		s.record("select", "mints", start, err)
		return nil, fmt.Errorf("list mints: %w", err)
	}
	defer rows.Close()

	var mints []*Mint
	for rows.Next() {
		mint, err := scanMint(rows)
		if err != nil {
			s.record("select", "mints", start, err)
			return nil, fmt.Errorf("scan mint: %w", err)
		}
		mints = append(mints, mint)
	}
	err = rows.Err()
	s.record("select", "mints", start, err)
	if err != nil {
		return nil, fmt.Errorf("iterate mints: %w", err)
	}
	return mints, nil
}

func scanMint(row pgx.Row) (*Mint, error) {
	var (
		m        Mint
		decimals int16
		slot     int64
	)
	if err := row.Scan(&m.Address, &decimals, &m.MintAuthority, &slot, &m.Signature, &m.CreatedAt); err != nil {
		return nil, err
	}
	m.Decimals = uint8(decimals)
	m.CreatedSlot = uint64(slot)
	return &m, nil
}

func (s *Store) record(operation, table string, start time.Time, err error) {
	if s.metrics != nil {
		s.metrics.RecordDBQuery(operation, table, time.Since(start).Seconds(), err)
	}
}

func isDuplicateKeyError(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == pgErrUniqueViolation
}
