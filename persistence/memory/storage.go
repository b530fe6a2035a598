// Package memory provides an in-process implementation of walletsync.Storage.
//
// An Origin plays the role of a browser origin: every handle returned by
// Origin.Tab shares the same records, and a write through one handle is
// announced to the subscribers of every other handle.
//
//	origin := memory.NewOrigin()
//	tabA, tabB := origin.Tab(), origin.Tab()
//
//	clientA, _ := walletsync.NewClient(walletA, tabA)
//	clientB, _ := walletsync.NewClient(walletB, tabB)
package memory

import (
	"context"
	"sync"

	"github.com/patrickmn/go-cache"

	"github.com/tranvictor/walletsync"
)

// Origin is a shared in-memory keyspace.
type Origin struct {
	records *cache.Cache

	mu      sync.Mutex
	nextTab int
	// subscribers by key, then by subscribing tab
	watchers map[string]map[*watcher]struct{}
}

type watcher struct {
	tab *Tab
	ch  chan walletsync.StorageEvent
}

// NewOrigin creates an empty origin.
func NewOrigin() *Origin {
	return &Origin{
		records:  cache.New(cache.NoExpiration, 0),
		watchers: make(map[string]map[*watcher]struct{}),
	}
}

// Tab returns a new handle on the origin.
func (o *Origin) Tab() *Tab {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.nextTab++
	return &Tab{origin: o, id: o.nextTab}
}

// Tab is one handle on an Origin. It implements walletsync.Storage.
type Tab struct {
	origin *Origin
	id     int
}

// Verify Tab implements walletsync.Storage
var _ walletsync.Storage = (*Tab)(nil)

// Get returns a copy of the stored value, or nil.
func (t *Tab) Get(_ context.Context, key string) ([]byte, error) {
	v, ok := t.origin.records.Get(key)
	if !ok {
		return nil, nil
	}
	return clone(v.([]byte)), nil
}

// Set stores value and notifies the other tabs.
func (t *Tab) Set(_ context.Context, key string, value []byte) error {
	t.origin.records.Set(key, clone(value), cache.NoExpiration)
	t.origin.notify(t, key, clone(value))
	return nil
}

// Delete removes key and notifies the other tabs. Deleting a missing key is
// not an error and does not notify.
func (t *Tab) Delete(_ context.Context, key string) error {
	if _, ok := t.origin.records.Get(key); !ok {
		return nil
	}
	t.origin.records.Delete(key)
	t.origin.notify(t, key, nil)
	return nil
}

// Subscribe delivers writes made by other tabs to key until ctx is done.
func (t *Tab) Subscribe(ctx context.Context, key string) (<-chan walletsync.StorageEvent, error) {
	w := &watcher{
		tab: t,
		ch:  make(chan walletsync.StorageEvent, 16),
	}

	o := t.origin
	o.mu.Lock()
	if o.watchers[key] == nil {
		o.watchers[key] = make(map[*watcher]struct{})
	}
	o.watchers[key][w] = struct{}{}
	o.mu.Unlock()

	go func() {
		<-ctx.Done()
		o.mu.Lock()
		delete(o.watchers[key], w)
		close(w.ch)
		o.mu.Unlock()
	}()

	return w.ch, nil
}

func (o *Origin) notify(from *Tab, key string, value []byte) {
	o.mu.Lock()
	defer o.mu.Unlock()
	for w := range o.watchers[key] {
		if w.tab == from {
			continue
		}
		select {
		case w.ch <- walletsync.StorageEvent{Key: key, Value: value}:
		default:
			// a slow reader only needs to know something changed; it
			// re-reads the record anyway
		}
	}
}

func clone(b []byte) []byte {
	if b == nil {
		return nil
	}
	out := make([]byte, len(b))
	copy(out, b)
	return out
}
