package redis

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	goredis "github.com/redis/go-redis/v9"

	"github.com/abhishekgusain07/clip-farm/internal/platform/logger"
)

// ErrLeaseHeld is returned by TryAcquire when another holder owns the key.
var ErrLeaseHeld = errors.New("lease held by another holder")

// Lease coordinates source fetches across replicas that share a cache
// directory. A key is held by at most one token until released or expired.
type Lease interface {
	TryAcquire(ctx context.Context, key string) (release func(), err error)
	Acquire(ctx context.Context, key string) (release func(), err error)
	Ping(ctx context.Context) error
	Client() *goredis.Client
	Close() error
}

type Config struct {
	Addr     string
	Password string
	DB       int
	Prefix   string
	TTL      time.Duration
	Poll     time.Duration
}

type lease struct {
	log    *logger.Logger
	rdb    *goredis.Client
	prefix string
	ttl    time.Duration
	poll   time.Duration
}

var releaseScript = goredis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

var refreshScript = goredis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("PEXPIRE", KEYS[1], ARGV[2])
end
return 0
`)

func NewLease(log *logger.Logger, cfg Config) (Lease, error) {
	if log == nil {
		return nil, fmt.Errorf("logger required")
	}
	addr := strings.TrimSpace(cfg.Addr)
	if addr == "" {
		return nil, fmt.Errorf("missing REDIS_ADDR")
	}
	if cfg.TTL <= 0 {
		cfg.TTL = 2 * time.Minute
	}
	if cfg.Poll <= 0 {
		cfg.Poll = 250 * time.Millisecond
	}
	if cfg.Prefix == "" {
		cfg.Prefix = "clipfarm:fetch:"
	}

	rdb := goredis.NewClient(&goredis.Options{
		Addr:        addr,
		Password:    cfg.Password,
		DB:          cfg.DB,
		DialTimeout: 5 * time.Second,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}

	return &lease{
		log:    log.With("service", "RedisLease"),
		rdb:    rdb,
		prefix: cfg.Prefix,
		ttl:    cfg.TTL,
		poll:   cfg.Poll,
	}, nil
}

// TryAcquire takes the lease once. While held, a background refresher keeps
// it alive at ttl/3 intervals; release stops the refresher and deletes the
// key only if this holder still owns it.
func (l *lease) TryAcquire(ctx context.Context, key string) (func(), error) {
	k := l.prefix + key
	token := uuid.NewString()
	ok, err := l.rdb.SetNX(ctx, k, token, l.ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("redis setnx %s: %w", k, err)
	}
	if !ok {
		return nil, ErrLeaseHeld
	}

	stop := make(chan struct{})
	done := make(chan struct{})
	go func() {
		defer close(done)
		t := time.NewTicker(l.ttl / 3)
		defer t.Stop()
		for {
			select {
			case <-stop:
				return
			case <-t.C:
				rctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				if err := refreshScript.Run(rctx, l.rdb, []string{k}, token, l.ttl.Milliseconds()).Err(); err != nil {
					l.log.Warn("lease refresh failed", "key", k, "error", err)
				}
				cancel()
			}
		}
	}()

	var released bool
	return func() {
		if released {
			return
		}
		released = true
		close(stop)
		<-done
		rctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := releaseScript.Run(rctx, l.rdb, []string{k}, token).Err(); err != nil {
			l.log.Warn("lease release failed", "key", k, "error", err)
		}
	}, nil
}

// Acquire polls until the lease is taken or ctx ends.
func (l *lease) Acquire(ctx context.Context, key string) (func(), error) {
	for {
		release, err := l.TryAcquire(ctx, key)
		if err == nil {
			return release, nil
		}
		if !errors.Is(err, ErrLeaseHeld) {
			return nil, err
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(l.poll):
		}
	}
}

func (l *lease) Ping(ctx context.Context) error {
	return l.rdb.Ping(ctx).Err()
}

func (l *lease) Client() *goredis.Client { return l.rdb }

func (l *lease) Close() error {
	return l.rdb.Close()
}
