package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	sq "github.com/Masterminds/squirrel"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/jmoiron/sqlx"
	_ "github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"

	"github.com/MrEthical07/goSession/session"
)

// Dialect selects the SQL flavour and driver.
type Dialect string

const (
	// DialectPostgres uses the pgx driver and $n placeholders.
	DialectPostgres Dialect = "postgres"
	// DialectSQLite uses the ncruces driver and ? placeholders.
	DialectSQLite Dialect = "sqlite"
)

const tableName = "sessions"

// Store is a [session.Store] over database/sql.
type Store struct {
	db      *sqlx.DB
	dialect Dialect
	sb      sq.StatementBuilderType
}

// Open connects to dsn and prepares the schema. SQLite databases get their table
// created in place; Postgres databases are expected to be migrated with [Migrate].
func Open(ctx context.Context, dialect Dialect, dsn string) (*Store, error) {
	var driver string
	switch dialect {
	case DialectPostgres:
		driver = "pgx"
	case DialectSQLite:
		driver = "sqlite3"
	default:
		return nil, fmt.Errorf("unsupported dialect %q", dialect)
	}

	db, err := sqlx.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("%w: open: %v", session.ErrUnavailable, err)
	}
	if dialect == DialectSQLite {
		// SQLite allows one writer; a single connection turns lock contention into
		// queueing inside the pool.
		db.SetMaxOpenConns(1)
	} else {
		db.SetMaxOpenConns(20)
		db.SetConnMaxIdleTime(5 * time.Minute)
	}

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("%w: ping: %v", session.ErrUnavailable, err)
	}
	if dialect == DialectSQLite {
		if _, err := db.ExecContext(ctx, sqliteSchema); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("apply sqlite schema: %w", err)
		}
	}
	return New(db, dialect), nil
}

// New wraps an open database handle.
func New(db *sqlx.DB, dialect Dialect) *Store {
	var placeholder sq.PlaceholderFormat = sq.Question
	if dialect == DialectPostgres {
		placeholder = sq.Dollar
	}
	return &Store{
		db:      db,
		dialect: dialect,
		sb:      sq.StatementBuilder.PlaceholderFormat(placeholder),
	}
}

// Close releases the connection pool.
func (s *Store) Close() error {
	return s.db.Close()
}

// Ping reports whether the database answers.
func (s *Store) Ping(ctx context.Context) error {
	if err := s.db.PingContext(ctx); err != nil {
		return fmt.Errorf("%w: %v", session.ErrUnavailable, err)
	}
	return nil
}

// Get implements [session.Store].
func (s *Store) Get(ctx context.Context, handle string) (*session.Session, error) {
	query, args, err := s.sb.
		Select(columns...).
		From(tableName).
		Where(sq.Eq{"handle": handle}).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build query: %w", err)
	}

	var row sqlxSession
	if err := s.db.GetContext(ctx, &row, query, args...); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, session.ErrNotFound
		}
		return nil, fmt.Errorf("%w: %v", session.ErrUnavailable, err)
	}
	return row.toDomain()
}

// Create implements [session.Store].
func (s *Store) Create(ctx context.Context, sess *session.Session) error {
	row := fromDomain(sess)
	query, args, err := s.sb.
		Insert(tableName).
		Columns(columns...).
		Values(
			row.Handle,
			row.UserID,
			row.Generation,
			row.CurrentHash,
			nullableBytes(row.PreviousHash),
			row.Status,
			row.CreatedAt,
			row.LastRefreshedAt,
			row.ExpiresAt,
			row.RefreshedMillis,
		).
		Suffix("ON CONFLICT (handle) DO NOTHING").
		ToSql()
	if err != nil {
		return fmt.Errorf("build query: %w", err)
	}

	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("%w: %v", session.ErrUnavailable, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("%w: %v", session.ErrUnavailable, err)
	}
	if n == 0 {
		return session.ErrHandleExists
	}
	return nil
}

// CompareAndAdvance implements [session.Store] with a single conditional UPDATE.
// When no row matches, the record is read back to tell a missing handle from a
// lost race.
func (s *Store) CompareAndAdvance(ctx context.Context, handle string, adv session.Advance) (*session.Session, error) {
	query, args, err := s.advanceQuery(handle, adv)
	if err != nil {
		return nil, fmt.Errorf("build query: %w", err)
	}

	var row sqlxSession
	err = s.db.QueryRowxContext(ctx, query, args...).StructScan(&row)
	if err == nil {
		return row.toDomain()
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %v", session.ErrUnavailable, err)
	}

	if _, err := s.Get(ctx, handle); err != nil {
		return nil, err
	}
	return nil, session.ErrConflict
}

func (s *Store) advanceQuery(handle string, adv session.Advance) (string, []interface{}, error) {
	return s.sb.
		Update(tableName).
		Set("previous_hash", sq.Expr("current_hash")).
		Set("current_hash", adv.NewHash[:]).
		Set("generation", sq.Expr("generation + 1")).
		Set("last_refreshed_at", adv.RefreshedAt).
		Set("last_refreshed_ms", adv.RefreshedAtMillis).
		Set("expires_at", adv.ExpiresAt).
		Where(sq.Eq{
			"handle":     handle,
			"generation": int64(adv.ExpectedGeneration),
			"status":     int16(session.StatusActive),
		}).
		// sq.Eq would expand a byte slice into an IN list.
		Where(sq.Expr("current_hash = ?", adv.ExpectedHash[:])).
		Suffix("RETURNING " + returningList()).
		ToSql()
}

// Revoke implements [session.Store].
func (s *Store) Revoke(ctx context.Context, handle string) error {
	n, err := s.setStatus(ctx, sq.Eq{"handle": handle})
	if err != nil {
		return err
	}
	if n == 0 {
		return session.ErrNotFound
	}
	return nil
}

// RevokeAllForUser implements [session.Store].
func (s *Store) RevokeAllForUser(ctx context.Context, userID string) (int, error) {
	n, err := s.setStatus(ctx, sq.Eq{
		"user_id": userID,
		"status":  int16(session.StatusActive),
	})
	return int(n), err
}

func (s *Store) setStatus(ctx context.Context, where sq.Eq) (int64, error) {
	query, args, err := s.sb.
		Update(tableName).
		Set("status", int16(session.StatusRevoked)).
		Where(where).
		ToSql()
	if err != nil {
		return 0, fmt.Errorf("build query: %w", err)
	}
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", session.ErrUnavailable, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("%w: %v", session.ErrUnavailable, err)
	}
	return n, nil
}

// PurgeExpired deletes records whose expiry is not after now.
func (s *Store) PurgeExpired(ctx context.Context, now time.Time) (int64, error) {
	query, args, err := s.sb.
		Delete(tableName).
		Where(sq.LtOrEq{"expires_at": now.Unix()}).
		ToSql()
	if err != nil {
		return 0, fmt.Errorf("build query: %w", err)
	}
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", session.ErrUnavailable, err)
	}
	return res.RowsAffected()
}

func returningList() string {
	return strings.Join(columns, ", ")
}

func nullableBytes(b []byte) interface{} {
	if len(b) == 0 {
		return nil
	}
	return b
}

var _ session.Store = (*Store)(nil)
