package walletsync

import (
	"context"
	"fmt"

	"github.com/KyberNetwork/logger"
)

// CrossTabSynchronizer follows writes other tabs make to the session record
// and reconciles the local scheduler with them. Convergence is eventual: one
// notification round-trip, with no ordering beyond what the storage itself
// serializes.
type CrossTabSynchronizer struct {
	storage   Storage
	store     *SessionStore
	scheduler *SessionScheduler
	clock     Clock
	post      func(func()) bool
}

// NewCrossTabSynchronizer creates a synchronizer. post must run closures on
// the same loop that drives scheduler.
func NewCrossTabSynchronizer(storage Storage, store *SessionStore, scheduler *SessionScheduler, clock Clock, post func(func()) bool) *CrossTabSynchronizer {
	if clock == nil {
		clock = RealClock
	}
	if post == nil {
		post = func(fn func()) bool { fn(); return true }
	}
	return &CrossTabSynchronizer{
		storage:   storage,
		store:     store,
		scheduler: scheduler,
		clock:     clock,
		post:      post,
	}
}

// Start subscribes to the session key and reconciles on every notification
// until ctx is done.
func (c *CrossTabSynchronizer) Start(ctx context.Context) error {
	events, err := c.storage.Subscribe(ctx, c.store.Key())
	if err != nil {
		return fmt.Errorf("couldn't subscribe to session changes: %w", err)
	}

	go func() {
		for ev := range events {
			if ev.Key != c.store.Key() {
				continue
			}
			if !c.post(func() { c.Reconcile(ctx) }) {
				return
			}
		}
	}()
	return nil
}

// Reconcile re-reads the shared record and brings the scheduler in line:
// a missing or expired record ends the local session, a record with another
// expiry is adopted.
func (c *CrossTabSynchronizer) Reconcile(ctx context.Context) {
	record, err := c.store.Read(ctx)
	if err != nil {
		logger.WithFields(logger.Fields{
			"error": err,
		}).Error("Failed to read session record after change notification")
		return
	}

	switch record.Status(c.clock.Now()) {
	case SessionAbsent:
		if c.scheduler.Armed() {
			c.scheduler.Expire(ctx, ExpiryRemoteClear)
		}

	case SessionExpired:
		if c.scheduler.Armed() {
			c.scheduler.Expire(ctx, ExpiryRemoteExpire)
			return
		}
		if err := c.store.Clear(ctx); err != nil {
			logger.WithFields(logger.Fields{
				"error": err,
			}).Error("Failed to clear expired session record")
		}

	case SessionActive:
		current := c.scheduler.Current()
		if current != nil && current.ExpiresAt.Equal(record.ExpiresAt) && current.Address == record.Address {
			return
		}
		if current != nil && current.Address != record.Address {
			// last writer wins, even across accounts
			logger.WithFields(logger.Fields{
				"local_address":  current.Address.Hex(),
				"remote_address": record.Address.Hex(),
			}).Warn("Another tab replaced the session with a different account")
		}
		c.scheduler.Adopt(record)
	}
}
