// Package redis implements store.Store on a Redis server via go-redis.
//
// Redis has no multi-statement transactions in the SQL sense, so WithTx runs
// the callback against the store itself. The operations that carry an
// atomicity invariant stay atomic on their own: ConsumeLoginToken is a single
// GETDEL, user creation claims its uniqueness indexes with SETNX, and
// InvalidateSession writes only the valid field, which nothing ever writes
// back to 1.
//
// Session hashes and their per-user index carry a TTL so records left behind
// by logouts that never happened do not accumulate; see Options.SessionTTL.
package redis

import (
	"context"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/latchkeyhq/latchkey/store"
)

const defaultPrefix = "latchkey"

// DefaultSessionTTL bounds how long a session record survives without being
// refreshed. It must comfortably exceed the refresh token lifetime, or
// sessions could vanish while their tokens are still redeemable.
const DefaultSessionTTL = 30 * 24 * time.Hour

// Options tunes the store. The zero value is usable.
type Options struct {
	// Prefix namespaces every key, for sharing one Redis database between
	// environments. Defaults to "latchkey".
	Prefix string

	// SessionTTL is the expiry set on session records and the per-user
	// session index, refreshed on every session update. Defaults to
	// DefaultSessionTTL.
	SessionTTL time.Duration
}

// Store is the redis-backed implementation of store.Store.
type Store struct {
	rdb        *redis.Client
	prefix     string
	sessionTTL time.Duration
}

// NewStore wraps an existing client with default options. The caller owns
// client configuration (addresses, auth, pooling); Close closes the client.
func NewStore(client *redis.Client) *Store {
	return NewStoreWithOptions(client, Options{})
}

// NewStoreWithPrefix is NewStore with a custom key prefix.
func NewStoreWithPrefix(client *redis.Client, prefix string) *Store {
	return NewStoreWithOptions(client, Options{Prefix: prefix})
}

// NewStoreWithOptions wraps an existing client with the given options.
func NewStoreWithOptions(client *redis.Client, opts Options) *Store {
	if opts.Prefix == "" {
		opts.Prefix = defaultPrefix
	}
	if opts.SessionTTL <= 0 {
		opts.SessionTTL = DefaultSessionTTL
	}
	return &Store{rdb: client, prefix: opts.Prefix, sessionTTL: opts.SessionTTL}
}

func (s *Store) Users() store.Users       { return &usersRepo{s: s} }
func (s *Store) Sessions() store.Sessions { return &sessionsRepo{s: s} }

// WithTx runs fn against the live store. See the package comment.
func (s *Store) WithTx(ctx context.Context, fn func(tx store.Tx) error) error {
	return fn(txView{s: s})
}

func (s *Store) Ping(ctx context.Context) error {
	return s.rdb.Ping(ctx).Err()
}

func (s *Store) Close() error { return s.rdb.Close() }

type txView struct {
	s *Store
}

func (v txView) Users() store.Users       { return v.s.Users() }
func (v txView) Sessions() store.Sessions { return v.s.Sessions() }

func (s *Store) key(parts ...string) string {
	return s.prefix + ":" + strings.Join(parts, ":")
}

func mapNil(err error) error {
	if err == redis.Nil {
		return store.ErrNotFound
	}
	return err
}
