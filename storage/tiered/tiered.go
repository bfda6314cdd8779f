// Package tiered provides a Hot/Cold tiered profile store that layers a
// fast ephemeral cache (Hot) over a durable source of truth (Cold).
// Reads are read-through; mutations hit Cold first and then refresh or
// invalidate the cached row, so a crashed refresh degrades to a cache
// miss rather than stale entitlement data.
package tiered

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/ultraprompt/entitlement/pkg/entitlement"
)

// CacheStore is the contract for the Hot layer. It extends the profile
// store with invalidation, which both the memory and redis stores
// implement.
type CacheStore interface {
	entitlement.ProfileStore
	Delete(ctx context.Context, email string) error
}

// Config configures the tiered store behavior
type Config struct {
	// Hot is the L1 cache (e.g., Redis, Memory). Rows cached here may
	// expire; Cold remains authoritative.
	Hot CacheStore

	// Cold is the L2 source of truth (e.g., Postgres, Firestore).
	Cold entitlement.ProfileStore

	// AsyncCacheRefresh makes cache refreshes after Cold mutations
	// non-blocking. If false, refreshes are synchronous.
	AsyncCacheRefresh bool

	// RefreshBufferSize is the size of the buffered channel for async
	// refreshes. Default: 1000
	RefreshBufferSize int

	// AsyncErrorHandler is called when an async refresh fails.
	AsyncErrorHandler func(error)
}

// Store implements entitlement.ProfileStore over a Hot/Cold pair.
type Store struct {
	hot  CacheStore
	cold entitlement.ProfileStore
	conf Config

	refreshQueue chan func() error
	shutdown     chan struct{}
	wg           sync.WaitGroup
}

// New creates a new tiered profile store.
func New(config Config) (*Store, error) {
	if config.Hot == nil || config.Cold == nil {
		return nil, errors.New("tiered store: both hot and cold storage are required")
	}
	if config.RefreshBufferSize <= 0 {
		config.RefreshBufferSize = 1000
	}

	s := &Store{
		hot:          config.Hot,
		cold:         config.Cold,
		conf:         config,
		refreshQueue: make(chan func() error, config.RefreshBufferSize),
		shutdown:     make(chan struct{}),
	}
	if config.AsyncCacheRefresh {
		s.startWorker()
	}
	return s, nil
}

// Close gracefully shuts down the async worker (if enabled).
func (s *Store) Close() error {
	if s.conf.AsyncCacheRefresh {
		select {
		case <-s.shutdown:
			// Already closed
		default:
			close(s.shutdown)
			s.wg.Wait()
		}
	}
	return nil
}

// startWorker runs the background refresh loop. Sequential processing
// keeps causal ordering per profile.
func (s *Store) startWorker() {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		for {
			select {
			case job := <-s.refreshQueue:
				if err := job(); err != nil {
					if s.conf.AsyncErrorHandler != nil {
						s.conf.AsyncErrorHandler(fmt.Errorf("tiered cache refresh failed: %w", err))
					}
				}
			case <-s.shutdown:
				// Drain queue on shutdown (best effort)
				for {
					select {
					case job := <-s.refreshQueue:
						_ = job()
					default:
						return
					}
				}
			}
		}
	}()
}

// refreshCache caches the post-mutation row. When the row is nil the
// cached entry is invalidated instead.
func (s *Store) refreshCache(email string, profile *entitlement.Profile) {
	job := func() error {
		ctx := context.Background()
		if profile == nil {
			return s.hot.Delete(ctx, email)
		}
		return s.hot.Upsert(ctx, profile)
	}

	if !s.conf.AsyncCacheRefresh {
		if err := job(); err != nil && s.conf.AsyncErrorHandler != nil {
			s.conf.AsyncErrorHandler(fmt.Errorf("tiered cache refresh failed: %w", err))
		}
		return
	}

	select {
	case s.refreshQueue <- job:
	default:
		// Queue full: invalidate synchronously so the cache cannot
		// serve a stale row.
		if err := s.hot.Delete(context.Background(), email); err != nil && s.conf.AsyncErrorHandler != nil {
			s.conf.AsyncErrorHandler(fmt.Errorf("tiered cache invalidation failed: %w", err))
		}
	}
}

// GetByEmail implements entitlement.ProfileStore with a read-through
// strategy.
func (s *Store) GetByEmail(ctx context.Context, email string) (*entitlement.Profile, error) {
	profile, err := s.hot.GetByEmail(ctx, email)
	if err == nil {
		return profile, nil
	}
	if !errors.Is(err, entitlement.ErrProfileNotFound) && s.conf.AsyncErrorHandler != nil {
		// Degraded cache; fall through to Cold.
		s.conf.AsyncErrorHandler(fmt.Errorf("tiered hot read failed: %w", err))
	}

	profile, err = s.cold.GetByEmail(ctx, email)
	if err != nil {
		return nil, err
	}
	s.refreshCache(entitlement.NormalizeEmail(email), profile)
	return profile, nil
}

// ApplyPatch implements entitlement.ProfileStore. Cold first, then the
// returned row refreshes the cache.
func (s *Store) ApplyPatch(ctx context.Context, email string, patch entitlement.Patch) (*entitlement.Profile, error) {
	updated, err := s.cold.ApplyPatch(ctx, email, patch)
	if err != nil {
		return nil, err
	}
	s.refreshCache(entitlement.NormalizeEmail(email), updated)
	return updated, nil
}

// SpendCredits implements entitlement.ProfileStore. The decrement runs
// against Cold so the balance guard is authoritative; the cached row is
// invalidated rather than patched to avoid drift.
func (s *Store) SpendCredits(ctx context.Context, email string, amount int) (int, error) {
	remaining, err := s.cold.SpendCredits(ctx, email, amount)
	if err != nil {
		return remaining, err
	}
	s.refreshCache(entitlement.NormalizeEmail(email), nil)
	return remaining, nil
}

// GrantCredits implements entitlement.ProfileStore
func (s *Store) GrantCredits(ctx context.Context, email string, amount int) (int, error) {
	balance, err := s.cold.GrantCredits(ctx, email, amount)
	if err != nil {
		return balance, err
	}
	s.refreshCache(entitlement.NormalizeEmail(email), nil)
	return balance, nil
}

// Upsert implements entitlement.ProfileStore with write-through.
func (s *Store) Upsert(ctx context.Context, profile *entitlement.Profile) error {
	if err := s.cold.Upsert(ctx, profile); err != nil {
		return err
	}
	s.refreshCache(entitlement.NormalizeEmail(profile.Email), profile)
	return nil
}

// List implements entitlement.ProfileStore. Always served by Cold; the
// cache holds an unknown subset.
func (s *Store) List(ctx context.Context) ([]*entitlement.Profile, error) {
	return s.cold.List(ctx)
}
