// Package redis persists agent histories in Redis.
//
// Each history is stored as one JSON string under Prefix+key, optionally
// expiring after TTL.
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/hupe1980/reagent/core"
	"github.com/hupe1980/reagent/session"
)

// DefaultPrefix namespaces history keys.
const DefaultPrefix = "reagent:history:"

// Options configures a Store.
type Options struct {
	// URL is parsed with redis.ParseURL when Client is nil.
	URL    string
	Client goredis.UniversalClient
	Prefix string
	// TTL expires stored histories. Zero keeps them forever.
	TTL time.Duration
}

// Store is a session.Store backed by Redis.
type Store struct {
	client goredis.UniversalClient
	owned  bool
	opts   Options
}

var _ session.Store = (*Store)(nil)

// New creates a Store from an existing client or a redis:// URL.
func New(optFns ...func(o *Options)) (*Store, error) {
	opts := Options{Prefix: DefaultPrefix}
	for _, fn := range optFns {
		fn(&opts)
	}

	client, owned := opts.Client, false
	if client == nil {
		if opts.URL == "" {
			return nil, errors.New("redis: url or client is required")
		}
		parsed, err := goredis.ParseURL(opts.URL)
		if err != nil {
			return nil, fmt.Errorf("redis: parse url: %w", err)
		}
		client, owned = goredis.NewClient(parsed), true
	}

	return &Store{client: client, owned: owned, opts: opts}, nil
}

func (s *Store) key(k string) string { return s.opts.Prefix + k }

// Save replaces the history stored under key.
func (s *Store) Save(ctx context.Context, key string, msgs []core.Message) error {
	b, err := json.Marshal(msgs)
	if err != nil {
		return fmt.Errorf("encode history: %w", err)
	}
	if err := s.client.Set(ctx, s.key(key), b, s.opts.TTL).Err(); err != nil {
		return fmt.Errorf("redis: save history: %w", err)
	}
	return nil
}

// Load returns the history stored under key or session.ErrNotFound.
func (s *Store) Load(ctx context.Context, key string) ([]core.Message, error) {
	b, err := s.client.Get(ctx, s.key(key)).Bytes()
	if errors.Is(err, goredis.Nil) {
		return nil, session.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("redis: load history: %w", err)
	}

	var msgs []core.Message
	if err := json.Unmarshal(b, &msgs); err != nil {
		return nil, fmt.Errorf("decode history: %w", err)
	}
	return msgs, nil
}

// Delete removes the history stored under key.
func (s *Store) Delete(ctx context.Context, key string) error {
	if err := s.client.Del(ctx, s.key(key)).Err(); err != nil {
		return fmt.Errorf("redis: delete history: %w", err)
	}
	return nil
}

// Close closes the client if the store created it.
func (s *Store) Close() error {
	if !s.owned {
		return nil
	}
	return s.client.Close()
}
