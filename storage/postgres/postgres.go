// Package postgres provides a PostgreSQL implementation of the
// entitlement.ProfileStore interface. Partial updates build a dynamic
// UPDATE with a RETURNING clause so the patch applies and reads back in
// a single statement; credit decrements guard the balance in the WHERE
// clause instead of locking the row first.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ultraprompt/entitlement/pkg/entitlement"
)

// Store implements entitlement.ProfileStore using PostgreSQL
type Store struct {
	pool   *pgxpool.Pool
	config Config
}

// Config holds PostgreSQL store configuration
type Config struct {
	// ConnectionString is the PostgreSQL connection string
	ConnectionString string

	// Pool configuration
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
	MaxConnIdleTime time.Duration
}

// DefaultConfig returns a Config with sensible defaults
func DefaultConfig() Config {
	return Config{
		MaxConns:        10,
		MinConns:        2,
		MaxConnLifetime: time.Hour,
		MaxConnIdleTime: 30 * time.Minute,
	}
}

// New creates a new PostgreSQL profile store
func New(ctx context.Context, config Config) (*Store, error) {
	if config.ConnectionString == "" {
		return nil, fmt.Errorf("connection string is required")
	}

	poolConfig, err := pgxpool.ParseConfig(config.ConnectionString)
	if err != nil {
		return nil, fmt.Errorf("failed to parse connection string: %w", err)
	}

	if config.MaxConns > 0 {
		poolConfig.MaxConns = config.MaxConns
	}
	if config.MinConns > 0 {
		poolConfig.MinConns = config.MinConns
	}
	if config.MaxConnLifetime > 0 {
		poolConfig.MaxConnLifetime = config.MaxConnLifetime
	}
	if config.MaxConnIdleTime > 0 {
		poolConfig.MaxConnIdleTime = config.MaxConnIdleTime
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &Store{pool: pool, config: config}, nil
}

// Close closes the PostgreSQL connection pool
func (s *Store) Close() {
	if s.pool != nil {
		s.pool.Close()
	}
}

// Ping verifies the database connection
func (s *Store) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

const profileColumns = "email, subscription_tier, credits, has_lifetime_prompt, is_banned, full_name, avatar_url, updated_at"

func scanProfile(row pgx.Row) (*entitlement.Profile, error) {
	var p entitlement.Profile
	err := row.Scan(
		&p.Email,
		&p.SubscriptionTier,
		&p.Credits,
		&p.HasLifetimePrompt,
		&p.IsBanned,
		&p.FullName,
		&p.AvatarURL,
		&p.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, entitlement.ErrProfileNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan profile: %w", err)
	}
	return &p, nil
}

// GetByEmail implements entitlement.ProfileStore
func (s *Store) GetByEmail(ctx context.Context, email string) (*entitlement.Profile, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+profileColumns+` FROM profiles WHERE email = $1`,
		entitlement.NormalizeEmail(email))
	return scanProfile(row)
}

// ApplyPatch implements entitlement.ProfileStore. The SET list is built
// from the non-nil patch fields only, so concurrent patches touching
// different fields never clobber each other.
func (s *Store) ApplyPatch(ctx context.Context, email string, patch entitlement.Patch) (*entitlement.Profile, error) {
	if patch.IsZero() {
		return nil, entitlement.ErrEmptyPatch
	}

	sets := make([]string, 0, 4)
	args := make([]interface{}, 0, 5)
	args = append(args, entitlement.NormalizeEmail(email))

	addSet := func(column string, value interface{}) {
		args = append(args, value)
		sets = append(sets, fmt.Sprintf("%s = $%d", column, len(args)))
	}
	if patch.SubscriptionTier != nil {
		addSet("subscription_tier", *patch.SubscriptionTier)
	}
	if patch.Credits != nil {
		addSet("credits", *patch.Credits)
	}
	if patch.HasLifetimePrompt != nil {
		addSet("has_lifetime_prompt", *patch.HasLifetimePrompt)
	}
	sets = append(sets, "updated_at = now()")

	row := s.pool.QueryRow(ctx,
		`UPDATE profiles SET `+strings.Join(sets, ", ")+
			` WHERE email = $1 RETURNING `+profileColumns,
		args...)
	return scanProfile(row)
}

// SpendCredits implements entitlement.ProfileStore. The balance guard
// lives in the WHERE clause, so a short balance matches no row and the
// statement is a no-op; a second query then distinguishes a missing
// profile from an insufficient balance.
func (s *Store) SpendCredits(ctx context.Context, email string, amount int) (int, error) {
	if amount <= 0 {
		return 0, entitlement.ErrInvalidAmount
	}
	key := entitlement.NormalizeEmail(email)

	var remaining int
	err := s.pool.QueryRow(ctx,
		`UPDATE profiles SET credits = credits - $2, updated_at = now()
			WHERE email = $1 AND credits >= $2
			RETURNING credits`,
		key, amount).Scan(&remaining)
	if err == nil {
		return remaining, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return 0, fmt.Errorf("failed to spend credits: %w", err)
	}

	var balance int
	err = s.pool.QueryRow(ctx,
		`SELECT credits FROM profiles WHERE email = $1`, key).Scan(&balance)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, entitlement.ErrProfileNotFound
	}
	if err != nil {
		return 0, fmt.Errorf("failed to spend credits: %w", err)
	}
	return balance, entitlement.ErrInsufficientCredits
}

// GrantCredits implements entitlement.ProfileStore
func (s *Store) GrantCredits(ctx context.Context, email string, amount int) (int, error) {
	if amount <= 0 {
		return 0, entitlement.ErrInvalidAmount
	}

	var balance int
	err := s.pool.QueryRow(ctx,
		`UPDATE profiles SET credits = credits + $2, updated_at = now()
			WHERE email = $1
			RETURNING credits`,
		entitlement.NormalizeEmail(email), amount).Scan(&balance)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, entitlement.ErrProfileNotFound
	}
	if err != nil {
		return 0, fmt.Errorf("failed to grant credits: %w", err)
	}
	return balance, nil
}

// Upsert implements entitlement.ProfileStore
func (s *Store) Upsert(ctx context.Context, profile *entitlement.Profile) error {
	if profile == nil || strings.TrimSpace(profile.Email) == "" {
		return fmt.Errorf("invalid profile")
	}

	_, err := s.pool.Exec(ctx,
		`INSERT INTO profiles (`+profileColumns+`)
			VALUES ($1, $2, $3, $4, $5, $6, $7, now())
			ON CONFLICT (email) DO UPDATE SET
				subscription_tier = EXCLUDED.subscription_tier,
				credits = EXCLUDED.credits,
				has_lifetime_prompt = EXCLUDED.has_lifetime_prompt,
				is_banned = EXCLUDED.is_banned,
				full_name = EXCLUDED.full_name,
				avatar_url = EXCLUDED.avatar_url,
				updated_at = now()`,
		entitlement.NormalizeEmail(profile.Email),
		profile.SubscriptionTier,
		profile.Credits,
		profile.HasLifetimePrompt,
		profile.IsBanned,
		profile.FullName,
		profile.AvatarURL,
	)
	if err != nil {
		return fmt.Errorf("failed to upsert profile: %w", err)
	}
	return nil
}

// List implements entitlement.ProfileStore
func (s *Store) List(ctx context.Context) ([]*entitlement.Profile, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+profileColumns+` FROM profiles ORDER BY email`)
	if err != nil {
		return nil, fmt.Errorf("failed to list profiles: %w", err)
	}
	defer rows.Close()

	var profiles []*entitlement.Profile
	for rows.Next() {
		profile, err := scanProfile(rows)
		if err != nil {
			return nil, err
		}
		profiles = append(profiles, profile)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to list profiles: %w", err)
	}
	return profiles, nil
}

// Schema returns the DDL for the profiles table. Deployments run this
// through their own migration tooling.
func Schema() string {
	return `CREATE TABLE IF NOT EXISTS profiles (
	email               TEXT PRIMARY KEY,
	subscription_tier   TEXT NOT NULL DEFAULT '',
	credits             INTEGER NOT NULL DEFAULT 0 CHECK (credits >= 0),
	has_lifetime_prompt BOOLEAN NOT NULL DEFAULT FALSE,
	is_banned           BOOLEAN NOT NULL DEFAULT FALSE,
	full_name           TEXT NOT NULL DEFAULT '',
	avatar_url          TEXT NOT NULL DEFAULT '',
	updated_at          TIMESTAMPTZ NOT NULL DEFAULT now()
)`
}

// Migrate creates the profiles table if it does not exist. Convenient
// for examples and integration tests.
func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, Schema()); err != nil {
		return fmt.Errorf("failed to create profiles table: %w", err)
	}
	return nil
}
