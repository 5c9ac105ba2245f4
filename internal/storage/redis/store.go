// Package redis persists alert state in Redis.
package redis

import (
	"context"
	"sort"
	"time"

	goredis "github.com/go-redis/redis/v8"
	"github.com/pkg/errors"

	"github.com/Alias1177/VolumeSpike/internal/alert"
)

const (
	DefaultPrefix = "volspike:alerts:"
	// state outlives its day by one more day at most
	defaultTTL = 48 * time.Hour
)

// Options configures the Redis connection
type Options struct {
	Addr     string
	Password string
	DB       int
	Prefix   string
	TTL      time.Duration
}

// Store keeps the reset day in a string key and the identities in a set.
// Save writes both inside MULTI/EXEC.
type Store struct {
	client *goredis.Client
	prefix string
	ttl    time.Duration
}

// NewStore connects to Redis and checks the connection
func NewStore(ctx context.Context, opts Options) (*Store, error) {
	client := goredis.NewClient(&goredis.Options{
		Addr:     opts.Addr,
		Password: opts.Password,
		DB:       opts.DB,
	})

	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, errors.Wrapf(err, "ping redis %s", opts.Addr)
	}

	return NewStoreWithClient(client, opts), nil
}

// NewStoreWithClient wraps an existing client
func NewStoreWithClient(client *goredis.Client, opts Options) *Store {
	if opts.Prefix == "" {
		opts.Prefix = DefaultPrefix
	}
	if opts.TTL <= 0 {
		opts.TTL = defaultTTL
	}
	return &Store{client: client, prefix: opts.Prefix, ttl: opts.TTL}
}

func (s *Store) dayKey() string { return s.prefix + "day" }
func (s *Store) setKey() string { return s.prefix + "set" }

// Load reads the day and the identity set
func (s *Store) Load(ctx context.Context) (alert.State, error) {
	day, err := s.client.Get(ctx, s.dayKey()).Result()
	if err != nil {
		if errors.Is(err, goredis.Nil) {
			return alert.State{}, nil
		}
		return alert.State{}, errors.Wrap(err, "read alert day")
	}

	ids, err := s.client.SMembers(ctx, s.setKey()).Result()
	if err != nil {
		return alert.State{}, errors.Wrap(err, "read alerted candles")
	}
	sort.Strings(ids)
	if len(ids) == 0 {
		ids = nil
	}

	return alert.State{Day: alert.DayEpoch(day), Alerted: ids}, nil
}

// Save replaces day and set atomically
func (s *Store) Save(ctx context.Context, state alert.State) error {
	_, err := s.client.TxPipelined(ctx, func(pipe goredis.Pipeliner) error {
		pipe.Set(ctx, s.dayKey(), string(state.Day), s.ttl)
		pipe.Del(ctx, s.setKey())
		if len(state.Alerted) > 0 {
			members := make([]interface{}, 0, len(state.Alerted))
			for _, id := range state.Alerted {
				members = append(members, id)
			}
			pipe.SAdd(ctx, s.setKey(), members...)
			pipe.Expire(ctx, s.setKey(), s.ttl)
		}
		return nil
	})
	return errors.Wrap(err, "store alert state")
}

// Clear deletes both keys
func (s *Store) Clear(ctx context.Context) error {
	return errors.Wrap(s.client.Del(ctx, s.dayKey(), s.setKey()).Err(), "clear alert state")
}

// Close closes the client
func (s *Store) Close() error {
	return s.client.Close()
}
