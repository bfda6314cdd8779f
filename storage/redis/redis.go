// Package redis provides a Redis implementation of the
// entitlement.ProfileStore interface. Profiles are stored as JSON
// documents; read-modify-write sequences run as Lua scripts so patches
// and credit decrements stay atomic under concurrent webhooks.
package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/ultraprompt/entitlement/pkg/entitlement"
)

// Store implements entitlement.ProfileStore using Redis
type Store struct {
	client  redis.UniversalClient
	config  Config
	scripts map[string]*redis.Script
}

// Config holds Redis store configuration
type Config struct {
	// KeyPrefix is prepended to all Redis keys (default: "entitlement:")
	KeyPrefix string

	// ProfileTTL is the TTL for profile keys (0 = no expiration).
	// Only set this when Redis is the cache layer of a tiered store;
	// as the primary store profiles must not expire.
	ProfileTTL time.Duration
}

// DefaultConfig returns a Config with sensible defaults
func DefaultConfig() Config {
	return Config{
		KeyPrefix:  "entitlement:",
		ProfileTTL: 0,
	}
}

// New creates a new Redis profile store.
// The client can be *redis.Client, *redis.ClusterClient, or *redis.Ring.
func New(client redis.UniversalClient, config Config) (*Store, error) {
	if client == nil {
		return nil, fmt.Errorf("redis client is required")
	}
	if config.KeyPrefix == "" {
		config.KeyPrefix = "entitlement:"
	}

	s := &Store{
		client:  client,
		config:  config,
		scripts: make(map[string]*redis.Script),
	}
	s.loadScripts()
	return s, nil
}

// profileDoc is the stored JSON shape. Field names match the public
// API payloads so keys are greppable across the stack.
type profileDoc struct {
	Email             string    `json:"email"`
	SubscriptionTier  string    `json:"subscription_tier"`
	Credits           int       `json:"credits"`
	HasLifetimePrompt bool      `json:"has_lifetime_prompt"`
	IsBanned          bool      `json:"is_banned"`
	FullName          string    `json:"full_name"`
	AvatarURL         string    `json:"avatar_url"`
	UpdatedAt         time.Time `json:"updated_at"`
}

func docFromProfile(p *entitlement.Profile) profileDoc {
	return profileDoc{
		Email:             entitlement.NormalizeEmail(p.Email),
		SubscriptionTier:  p.SubscriptionTier,
		Credits:           p.Credits,
		HasLifetimePrompt: p.HasLifetimePrompt,
		IsBanned:          p.IsBanned,
		FullName:          p.FullName,
		AvatarURL:         p.AvatarURL,
		UpdatedAt:         p.UpdatedAt,
	}
}

func (d profileDoc) toProfile() *entitlement.Profile {
	return &entitlement.Profile{
		Email:             d.Email,
		SubscriptionTier:  d.SubscriptionTier,
		Credits:           d.Credits,
		HasLifetimePrompt: d.HasLifetimePrompt,
		IsBanned:          d.IsBanned,
		FullName:          d.FullName,
		AvatarURL:         d.AvatarURL,
		UpdatedAt:         d.UpdatedAt,
	}
}

func (s *Store) loadScripts() {
	// patch: KEYS[1] = profile key
	// ARGV[1] = tier or "-", ARGV[2] = credits or "-", ARGV[3] = lifetime
	// ("1"/"0"/"-"), ARGV[4] = updated_at RFC3339, ARGV[5] = ttl seconds
	// Returns the updated JSON document, or false when the key is absent.
	s.scripts["patch"] = redis.NewScript(`
		local raw = redis.call('GET', KEYS[1])
		if not raw then
			return false
		end
		local doc = cjson.decode(raw)
		if ARGV[1] ~= '-' then
			doc['subscription_tier'] = ARGV[1]
		end
		if ARGV[2] ~= '-' then
			doc['credits'] = tonumber(ARGV[2])
		end
		if ARGV[3] ~= '-' then
			doc['has_lifetime_prompt'] = (ARGV[3] == '1')
		end
		doc['updated_at'] = ARGV[4]
		local encoded = cjson.encode(doc)
		if tonumber(ARGV[5]) > 0 then
			redis.call('SET', KEYS[1], encoded, 'EX', tonumber(ARGV[5]))
		else
			redis.call('SET', KEYS[1], encoded)
		end
		return encoded
	`)

	// adjustCredits: KEYS[1] = profile key
	// ARGV[1] = signed delta, ARGV[2] = updated_at, ARGV[3] = ttl seconds
	// Returns the new balance, -1 when the key is absent, -2 when a
	// negative delta would take the balance below zero (balance intact).
	s.scripts["adjustCredits"] = redis.NewScript(`
		local raw = redis.call('GET', KEYS[1])
		if not raw then
			return -1
		end
		local doc = cjson.decode(raw)
		local balance = tonumber(doc['credits']) + tonumber(ARGV[1])
		if balance < 0 then
			return -2
		end
		doc['credits'] = balance
		doc['updated_at'] = ARGV[2]
		local encoded = cjson.encode(doc)
		if tonumber(ARGV[3]) > 0 then
			redis.call('SET', KEYS[1], encoded, 'EX', tonumber(ARGV[3]))
		else
			redis.call('SET', KEYS[1], encoded)
		end
		return balance
	`)
}

func (s *Store) profileKey(email string) string {
	return s.config.KeyPrefix + "profile:" + entitlement.NormalizeEmail(email)
}

func (s *Store) ttlSeconds() int64 {
	return int64(s.config.ProfileTTL / time.Second)
}

// GetByEmail implements entitlement.ProfileStore
func (s *Store) GetByEmail(ctx context.Context, email string) (*entitlement.Profile, error) {
	raw, err := s.client.Get(ctx, s.profileKey(email)).Result()
	if err == redis.Nil {
		return nil, entitlement.ErrProfileNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get profile: %w", err)
	}

	var doc profileDoc
	if err := json.Unmarshal([]byte(raw), &doc); err != nil {
		return nil, fmt.Errorf("failed to unmarshal profile: %w", err)
	}
	return doc.toProfile(), nil
}

// ApplyPatch implements entitlement.ProfileStore
func (s *Store) ApplyPatch(ctx context.Context, email string, patch entitlement.Patch) (*entitlement.Profile, error) {
	if patch.IsZero() {
		return nil, entitlement.ErrEmptyPatch
	}

	tierArg := "-"
	if patch.SubscriptionTier != nil {
		tierArg = *patch.SubscriptionTier
	}
	creditsArg := "-"
	if patch.Credits != nil {
		creditsArg = fmt.Sprintf("%d", *patch.Credits)
	}
	lifetimeArg := "-"
	if patch.HasLifetimePrompt != nil {
		if *patch.HasLifetimePrompt {
			lifetimeArg = "1"
		} else {
			lifetimeArg = "0"
		}
	}

	result, err := s.scripts["patch"].Run(ctx, s.client,
		[]string{s.profileKey(email)},
		tierArg, creditsArg, lifetimeArg,
		time.Now().UTC().Format(time.RFC3339Nano), s.ttlSeconds(),
	).Result()
	if err == redis.Nil {
		return nil, entitlement.ErrProfileNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to patch profile: %w", err)
	}

	raw, ok := result.(string)
	if !ok {
		return nil, fmt.Errorf("unexpected patch script result type %T", result)
	}
	var doc profileDoc
	if err := json.Unmarshal([]byte(raw), &doc); err != nil {
		return nil, fmt.Errorf("failed to unmarshal patched profile: %w", err)
	}
	return doc.toProfile(), nil
}

// SpendCredits implements entitlement.ProfileStore
func (s *Store) SpendCredits(ctx context.Context, email string, amount int) (int, error) {
	if amount <= 0 {
		return 0, entitlement.ErrInvalidAmount
	}
	return s.adjustCredits(ctx, email, -amount)
}

// GrantCredits implements entitlement.ProfileStore
func (s *Store) GrantCredits(ctx context.Context, email string, amount int) (int, error) {
	if amount <= 0 {
		return 0, entitlement.ErrInvalidAmount
	}
	return s.adjustCredits(ctx, email, amount)
}

func (s *Store) adjustCredits(ctx context.Context, email string, delta int) (int, error) {
	result, err := s.scripts["adjustCredits"].Run(ctx, s.client,
		[]string{s.profileKey(email)},
		delta, time.Now().UTC().Format(time.RFC3339Nano), s.ttlSeconds(),
	).Int64()
	if err != nil {
		return 0, fmt.Errorf("failed to adjust credits: %w", err)
	}

	switch result {
	case -1:
		return 0, entitlement.ErrProfileNotFound
	case -2:
		// Report the surviving balance the way the SQL store does.
		profile, err := s.GetByEmail(ctx, email)
		if err != nil {
			return 0, entitlement.ErrInsufficientCredits
		}
		return profile.Credits, entitlement.ErrInsufficientCredits
	default:
		return int(result), nil
	}
}

// Upsert implements entitlement.ProfileStore
func (s *Store) Upsert(ctx context.Context, profile *entitlement.Profile) error {
	if profile == nil || strings.TrimSpace(profile.Email) == "" {
		return fmt.Errorf("invalid profile")
	}

	doc := docFromProfile(profile)
	doc.UpdatedAt = time.Now().UTC()
	raw, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("failed to marshal profile: %w", err)
	}
	if err := s.client.Set(ctx, s.profileKey(profile.Email), raw, s.config.ProfileTTL).Err(); err != nil {
		return fmt.Errorf("failed to upsert profile: %w", err)
	}
	return nil
}

// List implements entitlement.ProfileStore. SCAN-based, so it suits
// the admin surface rather than hot paths.
func (s *Store) List(ctx context.Context) ([]*entitlement.Profile, error) {
	var profiles []*entitlement.Profile
	iter := s.client.Scan(ctx, 0, s.config.KeyPrefix+"profile:*", 100).Iterator()
	for iter.Next(ctx) {
		raw, err := s.client.Get(ctx, iter.Val()).Result()
		if err == redis.Nil {
			continue // expired between SCAN and GET
		}
		if err != nil {
			return nil, fmt.Errorf("failed to list profiles: %w", err)
		}
		var doc profileDoc
		if err := json.Unmarshal([]byte(raw), &doc); err != nil {
			return nil, fmt.Errorf("failed to unmarshal profile: %w", err)
		}
		profiles = append(profiles, doc.toProfile())
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("failed to list profiles: %w", err)
	}
	return profiles, nil
}

// Delete removes a profile. The tiered store uses this for cache
// invalidation.
func (s *Store) Delete(ctx context.Context, email string) error {
	if err := s.client.Del(ctx, s.profileKey(email)).Err(); err != nil {
		return fmt.Errorf("failed to delete profile: %w", err)
	}
	return nil
}

// Close closes the Redis client
func (s *Store) Close() error {
	return s.client.Close()
}

// Ping verifies the Redis connection
func (s *Store) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}
