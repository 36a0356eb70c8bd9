package querysync

import (
	"context"
	"fmt"
	"time"

	"github.com/unkn0wn-root/querysync/normalize"
	"github.com/unkn0wn-root/querysync/retry"
)

// QueryOptions tune a single Query call.
type QueryOptions struct {
	// StaleTime is how long a fetched entry counts as fresh. 0 => the
	// client default.
	StaleTime time.Duration
	// Disabled returns the current cache state without any fetching.
	Disabled bool
}

// Result is the read model a view binds to.
type Result struct {
	Data   any
	Status Status
	Err    error
	// Refetch bypasses freshness and fetches now.
	Refetch func(ctx context.Context) (Result, error)
}

// Query resolves key through the cache:
//
//   - fresh entry: served with no network call
//   - stale entry with data: served immediately, revalidated in the
//     background (subscribers hear about the refresh when it lands)
//   - error entry: returned as-is until the caller refetches explicitly
//   - miss: fetched now, deduplicated with any concurrent call for the
//     same key
//
// Successive identical-key calls racing the network are not ordered; the
// last response to resolve wins. Search sessions add request-id gating on
// top for the one surface where that matters.
func (c *Client) Query(ctx context.Context, key Key, fetch FetchFunc, opts QueryOptions) (Result, error) {
	if fetch != nil {
		c.registerFetcher(key, fetch)
	}
	e, ok := c.store.Read(key)
	if opts.Disabled || fetch == nil {
		return c.resultFor(key, e, ok), nil
	}

	if ok {
		switch {
		case e.Status == StatusError:
			return c.resultFor(key, e, true), e.Err

		case e.Status == StatusLoading && e.HasData():
			// refresh already in flight; keep showing what we have
			return c.resultFor(key, e, true), nil

		case e.Status == StatusLoading:
			// join the in-flight fetch
			ne, err := c.fetchAndStore(ctx, key, fetch)
			return c.resultFor(key, ne, true), err

		case e.Status == StatusSuccess && e.Fresh(coalesce(opts.StaleTime, c.staleTime), time.Now()):
			return c.resultFor(key, e, true), nil

		case e.HasData():
			// stale-while-revalidate: hand back last known good now
			var age time.Duration
			if !e.LastFetchedAt.IsZero() {
				age = time.Since(e.LastFetchedAt)
			}
			c.hooks.StaleServed(key.ID(), age)
			c.store.MarkLoading(key)
			go c.backgroundRefetch(key, fetch)
			return c.resultFor(key, e, true), nil
		}
	}

	// miss (or stale entry that never held data): fetch before returning
	c.store.MarkLoading(key)
	ne, err := c.fetchAndStore(ctx, key, fetch)
	return c.resultFor(key, ne, true), err
}

// QueryPage is Query for list-shaped endpoints: the fetch result runs
// through the response normalizer before it is cached, so the entry holds a
// normalize.Page. Detail objects go through plain Query untouched.
func (c *Client) QueryPage(ctx context.Context, key Key, fetch FetchFunc, p normalize.Params, opts QueryOptions) (Result, error) {
	if fetch == nil {
		return c.Query(ctx, key, nil, opts)
	}
	return c.Query(ctx, key, func(ctx context.Context) (any, error) {
		raw, err := fetch(ctx)
		if err != nil {
			return nil, err
		}
		return normalize.Normalize(raw, p), nil
	}, opts)
}

// Refetch fetches key now, ignoring freshness. The fetch function is the one
// the most recent Query for this key registered.
func (c *Client) Refetch(ctx context.Context, key Key) (Result, error) {
	fetch, ok := c.fetcherFor(key)
	if !ok {
		return Result{Status: StatusIdle}, fmt.Errorf("%w: %s", ErrNoFetcher, key.ID())
	}
	c.store.MarkLoading(key)
	e, err := c.fetchAndStore(ctx, key, fetch)
	return c.resultFor(key, e, true), err
}

// Invalidate marks everything under prefix stale and kicks off background
// refetches for the keys someone is currently subscribed to, so observed
// views reconcile with the server without being asked.
func (c *Client) Invalidate(prefix Key) int {
	n := c.store.Invalidate(prefix)
	for _, k := range c.store.subscribedUnder(prefix) {
		fetch, ok := c.fetcherFor(k)
		if !ok {
			continue
		}
		c.store.MarkLoading(k)
		go c.backgroundRefetch(k, fetch)
	}
	return n
}

// fetchAndStore is the single funnel to the network: concurrent callers for
// one key share one underlying call, and that call carries the retry policy.
func (c *Client) fetchAndStore(ctx context.Context, key Key, fetch FetchFunc) (Entry, error) {
	_, err, _ := c.sf.Do(key.ID(), func() (any, error) {
		data, ferr := retry.Do(ctx, c.retry, func(ctx context.Context) (any, error) {
			return fetch(ctx)
		})
		if ferr != nil {
			c.store.Fail(key, ferr)
			return nil, ferr
		}
		c.store.Write(key, data)
		return data, nil
	})
	e, _ := c.store.Read(key)
	return e, err
}

func (c *Client) backgroundRefetch(key Key, fetch FetchFunc) {
	if _, err := c.fetchAndStore(context.Background(), key, fetch); err != nil {
		c.hooks.RefetchFailed(key.ID(), err)
		c.log.Debug("background refetch failed", Fields{"key": key.ID(), "err": err})
	}
}

func (c *Client) resultFor(key Key, e Entry, ok bool) Result {
	r := Result{
		Refetch: func(ctx context.Context) (Result, error) {
			return c.Refetch(ctx, key)
		},
	}
	if !ok {
		r.Status = StatusIdle
		return r
	}
	r.Data, r.Status, r.Err = e.Data, e.Status, e.Err
	return r
}
