// Package postgres implements the store interfaces on top of a pgx pool.
// Schema is managed by the embedded goose migrations; call Migrate before
// opening the pool.
package postgres

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"

	"github.com/voxgate/voxgate/pkg/store"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// Migrate brings the schema up to date. It uses a short-lived database/sql
// handle because goose does not speak pgx natively.
func Migrate(dsn string) error {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return fmt.Errorf("open migration connection: %w", err)
	}
	defer db.Close()

	goose.SetBaseFS(migrationsFS)
	if err := goose.SetDialect("postgres"); err != nil {
		return fmt.Errorf("set goose dialect: %w", err)
	}
	if err := goose.Up(db, "migrations"); err != nil {
		return fmt.Errorf("apply migrations: %w", err)
	}
	return nil
}

func Open(ctx context.Context, dsn string) (*pgxpool.Pool, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("open pgx pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	return pool, nil
}

const uniqueViolation = "23505"

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == uniqueViolation
}

type CredentialStore struct {
	pool *pgxpool.Pool
}

func NewCredentialStore(pool *pgxpool.Pool) *CredentialStore {
	return &CredentialStore{pool: pool}
}

const credentialColumns = "identity, secret, active, session_limit, sessions_used, last_used, created_at, updated_at"

func scanCredential(row pgx.Row) (store.Credential, error) {
	var cred store.Credential
	var lastUsed sql.NullTime
	err := row.Scan(&cred.Identity, &cred.Secret, &cred.Active, &cred.SessionLimit,
		&cred.SessionsUsed, &lastUsed, &cred.CreatedAt, &cred.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return store.Credential{}, store.ErrNotFound
	}
	if err != nil {
		return store.Credential{}, fmt.Errorf("scan credential: %w", err)
	}
	if lastUsed.Valid {
		cred.LastUsed = lastUsed.Time
	}
	return cred, nil
}

func (s *CredentialStore) Get(ctx context.Context, identity string) (store.Credential, error) {
	row := s.pool.QueryRow(ctx,
		"SELECT "+credentialColumns+" FROM user_credentials WHERE identity = $1", identity)
	return scanCredential(row)
}

func (s *CredentialStore) List(ctx context.Context) ([]store.Credential, error) {
	rows, err := s.pool.Query(ctx,
		"SELECT "+credentialColumns+" FROM user_credentials ORDER BY identity")
	if err != nil {
		return nil, fmt.Errorf("list credentials: %w", err)
	}
	defer rows.Close()

	var out []store.Credential
	for rows.Next() {
		cred, err := scanCredential(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, cred)
	}
	return out, rows.Err()
}

func (s *CredentialStore) Create(ctx context.Context, cred store.Credential) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO user_credentials (identity, secret, active, session_limit, sessions_used)
		 VALUES ($1, $2, $3, $4, $5)`,
		cred.Identity, cred.Secret, cred.Active, cred.SessionLimit, cred.SessionsUsed)
	if isUniqueViolation(err) {
		return store.ErrDuplicate
	}
	if err != nil {
		return fmt.Errorf("create credential: %w", err)
	}
	return nil
}

func (s *CredentialStore) Update(ctx context.Context, identity string, patch store.CredentialPatch) error {
	sets := []string{"updated_at = now()"}
	args := []any{identity}
	if patch.Secret != nil {
		args = append(args, *patch.Secret)
		sets = append(sets, fmt.Sprintf("secret = $%d", len(args)))
	}
	if patch.Active != nil {
		args = append(args, *patch.Active)
		sets = append(sets, fmt.Sprintf("active = $%d", len(args)))
	}
	if patch.SessionLimit != nil {
		args = append(args, *patch.SessionLimit)
		sets = append(sets, fmt.Sprintf("session_limit = $%d", len(args)))
	}

	tag, err := s.pool.Exec(ctx,
		"UPDATE user_credentials SET "+strings.Join(sets, ", ")+" WHERE identity = $1", args...)
	if err != nil {
		return fmt.Errorf("update credential: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (s *CredentialStore) Delete(ctx context.Context, identity string) error {
	tag, err := s.pool.Exec(ctx, "DELETE FROM user_credentials WHERE identity = $1", identity)
	if err != nil {
		return fmt.Errorf("delete credential: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return store.ErrNotFound
	}
	return nil
}

// IncrementSessionsUsed relies on a conditional UPDATE so the quota invariant
// holds even across processes.
func (s *CredentialStore) IncrementSessionsUsed(ctx context.Context, identity string) (int, error) {
	var used int
	err := s.pool.QueryRow(ctx,
		`UPDATE user_credentials
		 SET sessions_used = sessions_used + 1, updated_at = now()
		 WHERE identity = $1 AND sessions_used < session_limit
		 RETURNING sessions_used`, identity).Scan(&used)
	if errors.Is(err, pgx.ErrNoRows) {
		// Either missing or at the limit; disambiguate for the caller.
		if _, getErr := s.Get(ctx, identity); errors.Is(getErr, store.ErrNotFound) {
			return 0, store.ErrNotFound
		}
		return 0, store.ErrQuotaExceeded
	}
	if err != nil {
		return 0, fmt.Errorf("increment sessions used: %w", err)
	}
	return used, nil
}

func (s *CredentialStore) ResetSessionsUsed(ctx context.Context, identity string) error {
	tag, err := s.pool.Exec(ctx,
		"UPDATE user_credentials SET sessions_used = 0, updated_at = now() WHERE identity = $1", identity)
	if err != nil {
		return fmt.Errorf("reset sessions used: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (s *CredentialStore) TouchLastUsed(ctx context.Context, identity string, at time.Time) error {
	_, err := s.pool.Exec(ctx,
		"UPDATE user_credentials SET last_used = $2 WHERE identity = $1", identity, at)
	if err != nil {
		return fmt.Errorf("touch last used: %w", err)
	}
	return nil
}

type SessionStore struct {
	pool *pgxpool.Pool
}

func NewSessionStore(pool *pgxpool.Pool) *SessionStore {
	return &SessionStore{pool: pool}
}

const sessionColumns = "id, identity, start_time, last_activity, message_count, active, conversation_active, conversation_start"

func scanSession(row pgx.Row) (store.Session, error) {
	var sess store.Session
	var convStart sql.NullTime
	err := row.Scan(&sess.ID, &sess.Identity, &sess.StartTime, &sess.LastActivity, &sess.MessageCount,
		&sess.Active, &sess.ConversationActive, &convStart)
	if errors.Is(err, pgx.ErrNoRows) {
		return store.Session{}, store.ErrNotFound
	}
	if err != nil {
		return store.Session{}, fmt.Errorf("scan session: %w", err)
	}
	if convStart.Valid {
		sess.ConversationStart = convStart.Time
	}
	return sess, nil
}

// Create inserts an active session; the partial unique index on
// user_sessions(identity) WHERE active enforces one-active-per-identity at
// the store level.
func (s *SessionStore) Create(ctx context.Context, sess store.Session) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO user_sessions (id, identity, start_time, last_activity, message_count, active)
		 VALUES ($1, $2, $3, $4, $5, TRUE)`,
		sess.ID, sess.Identity, sess.StartTime, sess.LastActivity, sess.MessageCount)
	if isUniqueViolation(err) {
		return store.ErrDuplicate
	}
	if err != nil {
		return fmt.Errorf("create session: %w", err)
	}
	return nil
}

func (s *SessionStore) GetActive(ctx context.Context, identity string) (store.Session, error) {
	row := s.pool.QueryRow(ctx,
		"SELECT "+sessionColumns+" FROM user_sessions WHERE identity = $1 AND active", identity)
	return scanSession(row)
}

func (s *SessionStore) Update(ctx context.Context, identity string, patch store.SessionPatch) error {
	sets := []string{}
	args := []any{identity}
	if patch.LastActivity != nil {
		args = append(args, *patch.LastActivity)
		sets = append(sets, fmt.Sprintf("last_activity = $%d", len(args)))
	}
	if patch.MessageCount != nil {
		args = append(args, *patch.MessageCount)
		sets = append(sets, fmt.Sprintf("message_count = $%d", len(args)))
	}
	if patch.Active != nil {
		args = append(args, *patch.Active)
		sets = append(sets, fmt.Sprintf("active = $%d", len(args)))
	}
	if patch.ConversationActive != nil {
		args = append(args, *patch.ConversationActive)
		sets = append(sets, fmt.Sprintf("conversation_active = $%d", len(args)))
	}
	if patch.ConversationStart != nil {
		args = append(args, *patch.ConversationStart)
		sets = append(sets, fmt.Sprintf("conversation_start = $%d", len(args)))
	}
	if len(sets) == 0 {
		return nil
	}

	tag, err := s.pool.Exec(ctx,
		"UPDATE user_sessions SET "+strings.Join(sets, ", ")+" WHERE identity = $1 AND active", args...)
	if err != nil {
		return fmt.Errorf("update session: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (s *SessionStore) Deactivate(ctx context.Context, identity string) error {
	_, err := s.pool.Exec(ctx,
		`UPDATE user_sessions SET active = FALSE, conversation_active = FALSE
		 WHERE identity = $1 AND active`, identity)
	if err != nil {
		return fmt.Errorf("deactivate session: %w", err)
	}
	return nil
}

func (s *SessionStore) DeactivateOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx,
		`UPDATE user_sessions SET active = FALSE, conversation_active = FALSE
		 WHERE active AND start_time < $1`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("deactivate expired sessions: %w", err)
	}
	return tag.RowsAffected(), nil
}

func (s *SessionStore) List(ctx context.Context) ([]store.Session, error) {
	rows, err := s.pool.Query(ctx,
		"SELECT "+sessionColumns+" FROM user_sessions ORDER BY identity, start_time")
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	defer rows.Close()

	var out []store.Session
	for rows.Next() {
		sess, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, sess)
	}
	return out, rows.Err()
}
