package querysync

import (
	"sync"
	"time"
)

const (
	defaultRetention = 5 * time.Minute
	defaultSweep     = time.Minute
)

// StoreOptions tune the entry table. Zero values mean defaults.
type StoreOptions struct {
	// Retention is how long an entry survives with zero subscribers before
	// it becomes eligible for garbage collection. Never immediate, so brief
	// unmount/remount cycles keep their data. 0 => 5m.
	Retention time.Duration
	// SweepInterval is how often the GC loop runs. 0 => 1m.
	SweepInterval time.Duration

	Logger Logger // nil => NopLogger
	Hooks  Hooks  // nil => NopHooks
}

// Store is the key-addressed cache table: entries plus their subscribers.
// All coordinators share one Store instance; it is the single copy of truth
// views bind to between server round trips.
type Store struct {
	mu      sync.RWMutex
	entries map[string]*storeEntry

	log       Logger
	hooks     Hooks
	retention time.Duration

	ticker    *time.Ticker
	stopCh    chan struct{}
	wg        sync.WaitGroup
	closeOnce sync.Once
}

type storeEntry struct {
	entry        Entry
	listeners    map[uint64]func(Entry)
	nextListener uint64

	// when the last subscriber left (or the entry was created unobserved);
	// zero while observed
	unobservedAt time.Time
}

func NewStore(opts StoreOptions) *Store {
	s := &Store{
		entries:   make(map[string]*storeEntry),
		log:       coalesce[Logger](opts.Logger, NopLogger{}),
		hooks:     coalesce[Hooks](opts.Hooks, NopHooks{}),
		retention: coalesce(opts.Retention, defaultRetention),
	}
	sweep := coalesce(opts.SweepInterval, defaultSweep)
	if sweep > 0 && s.retention > 0 {
		s.ticker = time.NewTicker(sweep)
		s.stopCh = make(chan struct{})
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			for {
				select {
				case <-s.ticker.C:
					s.sweep(time.Now())
				case <-s.stopCh:
					return
				}
			}
		}()
	}
	return s
}

// Close stops the GC loop. Entries are simply dropped with the process.
func (s *Store) Close() {
	s.closeOnce.Do(func() {
		if s.stopCh != nil {
			close(s.stopCh)
			s.ticker.Stop()
			s.wg.Wait()
		}
	})
}

// Read returns a copy of the entry for k.
func (s *Store) Read(k Key) (Entry, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	se, ok := s.entries[k.ID()]
	if !ok {
		return Entry{}, false
	}
	return se.entry, true
}

// Len is the number of live entries.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}

// Write replaces the entry's data with a fresh successful fetch result and
// notifies subscribers before returning.
func (s *Store) Write(k Key, data any) {
	s.mu.Lock()
	se := s.ensure(k)
	se.entry.Data = data
	se.entry.Status = StatusSuccess
	se.entry.LastFetchedAt = time.Now()
	se.entry.Err = nil
	e, ls := se.entry, se.listenerList()
	s.mu.Unlock()
	notify(ls, e)
}

// Fail records a fetch failure. Previously fetched data is kept so a failed
// refresh never blanks an already populated view.
func (s *Store) Fail(k Key, err error) {
	s.mu.Lock()
	se := s.ensure(k)
	se.entry.Status = StatusError
	se.entry.Err = err
	e, ls := se.entry, se.listenerList()
	s.mu.Unlock()
	notify(ls, e)
}

// MarkLoading flags the entry as having a fetch in flight. Data is kept.
func (s *Store) MarkLoading(k Key) {
	s.mu.Lock()
	se := s.ensure(k)
	se.entry.Status = StatusLoading
	se.entry.Err = nil
	e, ls := se.entry, se.listenerList()
	s.mu.Unlock()
	notify(ls, e)
}

// Patch applies a pure function to the entry without a network round trip
// and returns the pre-patch image for rollback. The updater must not mutate
// the entry's existing Data in place - it returns a replacement. Missing
// keys are not patched.
func (s *Store) Patch(k Key, fn func(Entry) Entry) (Snapshot, bool) {
	if fn == nil {
		return Snapshot{}, false
	}
	s.mu.Lock()
	se, ok := s.entries[k.ID()]
	if !ok {
		s.mu.Unlock()
		return Snapshot{}, false
	}
	snap := Snapshot{key: k, entry: se.entry, existed: true}
	next := fn(se.entry)
	// identity and bookkeeping stay with the store
	next.Key = se.entry.Key
	next.subscribers = se.entry.subscribers
	se.entry = next
	e, ls := se.entry, se.listenerList()
	s.mu.Unlock()
	notify(ls, e)
	return snap, true
}

// Restore puts back a pre-patch snapshot and notifies subscribers. A
// snapshot from a no-op Patch restores nothing.
func (s *Store) Restore(snap Snapshot) {
	if !snap.existed {
		return
	}
	s.mu.Lock()
	se, ok := s.entries[snap.key.ID()]
	if !ok {
		s.mu.Unlock()
		return
	}
	subs := se.entry.subscribers
	se.entry = snap.entry
	se.entry.subscribers = subs
	e, ls := se.entry, se.listenerList()
	s.mu.Unlock()
	notify(ls, e)
}

// Invalidate marks every entry under prefix stale by zeroing its fetch
// stamp. Data stays, so current subscribers keep rendering the last known
// good value until a refetch lands (stale-while-revalidate). Unknown
// prefixes are a no-op; Invalidate never fails.
func (s *Store) Invalidate(prefix Key) int {
	s.mu.Lock()
	n := 0
	for _, se := range s.entries {
		if se.entry.Key.HasPrefix(prefix) {
			se.entry.LastFetchedAt = time.Time{}
			n++
		}
	}
	s.mu.Unlock()
	if n > 0 {
		s.log.Debug("invalidated entries under prefix", Fields{"prefix": prefix.ID(), "count": n})
	}
	return n
}

// Subscribe registers a listener for changes to k's entry, creating an idle
// entry if none exists. Listeners are invoked synchronously from the
// operation that changed the entry. The returned func unsubscribes and is
// safe to call more than once.
func (s *Store) Subscribe(k Key, fn func(Entry)) func() {
	id := k.ID()
	s.mu.Lock()
	se := s.ensure(k)
	if se.listeners == nil {
		se.listeners = make(map[uint64]func(Entry))
	}
	lid := se.nextListener
	se.nextListener++
	se.listeners[lid] = fn
	se.entry.subscribers = len(se.listeners)
	se.unobservedAt = time.Time{}
	s.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			s.mu.Lock()
			if se, ok := s.entries[id]; ok {
				delete(se.listeners, lid)
				se.entry.subscribers = len(se.listeners)
				if len(se.listeners) == 0 {
					se.unobservedAt = time.Now()
				}
			}
			s.mu.Unlock()
		})
	}
}

// subscribedUnder lists keys under prefix that currently have subscribers.
func (s *Store) subscribedUnder(prefix Key) []Key {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []Key
	for _, se := range s.entries {
		if len(se.listeners) > 0 && se.entry.Key.HasPrefix(prefix) {
			out = append(out, se.entry.Key)
		}
	}
	return out
}

// sweep evicts entries that have been unobserved longer than the retention
// window.
func (s *Store) sweep(now time.Time) {
	cutoff := now.Add(-s.retention)
	var evicted []string
	s.mu.Lock()
	for id, se := range s.entries {
		if len(se.listeners) == 0 && !se.unobservedAt.IsZero() && se.unobservedAt.Before(cutoff) {
			delete(s.entries, id)
			evicted = append(evicted, id)
		}
	}
	s.mu.Unlock()
	for _, id := range evicted {
		s.hooks.EntryEvicted(id)
	}
	if len(evicted) > 0 {
		s.log.Debug("swept unobserved entries", Fields{"count": len(evicted)})
	}
}

// ensure returns the entry for k, creating an idle unobserved one if needed.
// Callers hold s.mu.
func (s *Store) ensure(k Key) *storeEntry {
	id := k.ID()
	se, ok := s.entries[id]
	if !ok {
		se = &storeEntry{
			entry:        Entry{Key: k, Status: StatusIdle},
			unobservedAt: time.Now(),
		}
		s.entries[id] = se
	}
	return se
}

func (se *storeEntry) listenerList() []func(Entry) {
	if len(se.listeners) == 0 {
		return nil
	}
	out := make([]func(Entry), 0, len(se.listeners))
	for _, fn := range se.listeners {
		out = append(out, fn)
	}
	return out
}

// notify runs outside the store lock so listeners may read the store.
func notify(ls []func(Entry), e Entry) {
	for _, fn := range ls {
		fn(e)
	}
}
