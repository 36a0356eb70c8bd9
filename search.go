package querysync

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/unkn0wn-root/querysync/normalize"
)

// SearchFetchFunc loads one page of search results for a query string.
type SearchFetchFunc func(ctx context.Context, query string, page int) (any, error)

// SearchState is what a search box renders: the current input, the merged
// result pages, and where the session is in its lifecycle.
type SearchState struct {
	Query   string
	Status  Status
	Results *normalize.Page
	Err     error
}

// SearchOptions configure one search session.
type SearchOptions struct {
	// Fetch is required.
	Fetch SearchFetchFunc
	// Debounce is how long the input must be quiet before a request goes
	// out. 0 => 300ms.
	Debounce time.Duration
	// PageSize is the requested page size. 0 => 12.
	PageSize int
	// StaleTime for the underlying cached pages. 0 => client default.
	StaleTime time.Duration
	// Filters are folded into the cache key alongside the query text.
	Filters map[string]string
	// OnChange is invoked on every state transition. Must be fast and
	// non-blocking; it runs on the dispatch path.
	OnChange func(SearchState)
}

// Search is one search box's session. Every dispatched request carries a
// monotonically increasing id; a response whose id is no longer current is
// discarded, so the last keystroke always wins regardless of network
// ordering. Stale requests are not aborted - their results just never land.
type Search struct {
	client    *Client
	fetch     SearchFetchFunc
	debounce  time.Duration
	pageSize  int
	staleTime time.Duration
	filters   map[string]string
	onChange  func(SearchState)

	reqID atomic.Uint64

	mu     sync.Mutex
	timer  *time.Timer
	state  SearchState
	page   int // highest page merged into state.Results
	closed bool
}

// NewSearch creates a search session bound to this client's cache.
func (c *Client) NewSearch(opts SearchOptions) (*Search, error) {
	if opts.Fetch == nil {
		return nil, fmt.Errorf("querysync: SearchOptions.Fetch is required")
	}
	return &Search{
		client:    c,
		fetch:     opts.Fetch,
		debounce:  coalesce(opts.Debounce, 300*time.Millisecond),
		pageSize:  coalesce(opts.PageSize, 12),
		staleTime: opts.StaleTime,
		filters:   opts.Filters,
		onChange:  opts.OnChange,
	}, nil
}

// SetQuery feeds one keystroke into the session. The debounce timer resets;
// only the value still present after the quiet window triggers a request.
// Empty input short-circuits to an empty result set with no network call.
func (s *Search) SetQuery(q string) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
	s.state.Query = q

	if strings.TrimSpace(q) == "" {
		// orphan any in-flight response, then clear
		s.reqID.Add(1)
		s.state.Status = StatusSuccess
		s.state.Results = &normalize.Page{}
		s.state.Err = nil
		s.page = 0
		st := s.state
		s.mu.Unlock()
		s.notify(st)
		return
	}

	s.state.Status = StatusLoading
	st := s.state
	s.timer = time.AfterFunc(s.debounce, func() {
		id := s.reqID.Add(1)
		s.run(id, q, 1, false)
	})
	s.mu.Unlock()
	s.notify(st)
}

// LoadMore fetches the page after the last merged one under the current
// request id. No-op while the session is empty or on the last page.
func (s *Search) LoadMore() {
	s.mu.Lock()
	if s.closed || s.state.Results == nil || strings.TrimSpace(s.state.Query) == "" {
		s.mu.Unlock()
		return
	}
	if s.state.Results.TotalPages > 0 && s.page >= s.state.Results.TotalPages {
		s.mu.Unlock()
		return
	}
	q, page := s.state.Query, s.page+1
	s.mu.Unlock()

	id := s.reqID.Add(1)
	go s.run(id, q, page, true)
}

// State returns a copy of the current session state.
func (s *Search) State() SearchState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Close stops the pending debounce timer and orphans in-flight requests.
func (s *Search) Close() {
	s.mu.Lock()
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
	s.closed = true
	s.reqID.Add(1)
	s.mu.Unlock()
}

func (s *Search) run(id uint64, q string, page int, appendItems bool) {
	key := CourseSearch(q, s.filters).With(fmt.Sprintf("p%d", page))
	res, err := s.client.QueryPage(context.Background(), key, func(ctx context.Context) (any, error) {
		return s.fetch(ctx, q, page)
	}, normalize.Params{Page: page, Limit: s.pageSize}, QueryOptions{StaleTime: s.staleTime})

	if s.reqID.Load() != id {
		s.client.hooks.SearchResponseDiscarded(q, id)
		return
	}

	s.mu.Lock()
	if s.closed || s.reqID.Load() != id {
		s.mu.Unlock()
		s.client.hooks.SearchResponseDiscarded(q, id)
		return
	}
	if err != nil {
		s.state.Status = StatusError
		s.state.Err = err
	} else {
		pg, _ := res.Data.(normalize.Page)
		if appendItems && s.state.Results != nil {
			merged := *s.state.Results
			merged.Items = append(append([]any{}, merged.Items...), pg.Items...)
			merged.CurrentPage = pg.CurrentPage
			merged.TotalPages = pg.TotalPages
			merged.TotalItems = pg.TotalItems
			merged.ItemsPerPage = pg.ItemsPerPage
			pg = merged
		}
		s.state.Results = &pg
		s.state.Status = StatusSuccess
		s.state.Err = nil
		s.page = page
	}
	st := s.state
	s.mu.Unlock()
	s.notify(st)
}

func (s *Search) notify(st SearchState) {
	if s.onChange != nil {
		s.onChange(st)
	}
}
