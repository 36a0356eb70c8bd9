package querysync

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/unkn0wn-root/querysync/retry"
)

// FetchFunc loads one resource from the backend. It is invoked under the
// retry policy and deduplicated per key, so it must be safe to call at most
// once per in-flight window.
type FetchFunc func(ctx context.Context) (any, error)

// Options tune the client. Everything has a default; construct one Client at
// application start and share it.
type Options struct {
	Logger Logger // nil => NopLogger
	Hooks  Hooks  // nil => NopHooks

	// StaleTime is the default freshness window for queries that do not set
	// their own. 0 => 30s.
	StaleTime time.Duration

	// Retention and SweepInterval configure the owned Store's garbage
	// collection (see StoreOptions). Ignored when Store is set.
	Retention     time.Duration
	SweepInterval time.Duration

	// Retry is the read-path retry policy. A zero Config means the package
	// defaults (3 retries, 1s initial delay). If OnRetry is nil, retries are
	// reported through Logger at warn level.
	Retry retry.Config

	// Store lets several clients share one cache table. nil => the client
	// owns a Store built from the options above and closes it on Close.
	Store *Store
}

// Client orchestrates queries, mutations, and search sessions over one
// shared Store.
type Client struct {
	store    *Store
	ownStore bool
	log      Logger
	hooks    Hooks

	staleTime time.Duration
	retry     retry.Config

	sf singleflight.Group

	mu       sync.Mutex
	fetchers map[string]FetchFunc
	locks    map[string]*keyLock
}

func New(opts Options) (*Client, error) {
	if opts.StaleTime < 0 || opts.Retention < 0 || opts.SweepInterval < 0 {
		return nil, fmt.Errorf("querysync: negative duration in Options")
	}

	c := &Client{
		log:       coalesce[Logger](opts.Logger, NopLogger{}),
		hooks:     coalesce[Hooks](opts.Hooks, NopHooks{}),
		staleTime: coalesce(opts.StaleTime, 30*time.Second),
		fetchers:  make(map[string]FetchFunc),
		locks:     make(map[string]*keyLock),
	}

	c.store = opts.Store
	if c.store == nil {
		c.store = NewStore(StoreOptions{
			Retention:     opts.Retention,
			SweepInterval: opts.SweepInterval,
			Logger:        c.log,
			Hooks:         c.hooks,
		})
		c.ownStore = true
	}

	rc := opts.Retry
	if rc.OnRetry == nil {
		rc.OnRetry = func(attempt int, delay time.Duration, err error) {
			c.log.Warn("rate limited; retry scheduled", Fields{
				"attempt": attempt,
				"delay":   delay.String(),
				"err":     err,
			})
		}
	}
	c.retry = rc

	return c, nil
}

// Store exposes the shared cache table, mainly for Subscribe.
func (c *Client) Store() *Store { return c.store }

// Close releases the owned store's GC loop. Shared stores are left alone.
func (c *Client) Close(context.Context) error {
	if c.ownStore {
		c.store.Close()
	}
	return nil
}

func (c *Client) registerFetcher(key Key, fetch FetchFunc) {
	c.mu.Lock()
	c.fetchers[key.ID()] = fetch
	c.mu.Unlock()
}

func (c *Client) fetcherFor(key Key) (FetchFunc, bool) {
	c.mu.Lock()
	f, ok := c.fetchers[key.ID()]
	c.mu.Unlock()
	return f, ok
}
