package walletsync

import (
	"context"
	"time"

	"github.com/KyberNetwork/logger"
)

// ExpiryReason says why a session left the Active state.
type ExpiryReason string

const (
	ExpiryTimer        ExpiryReason = "timer"
	ExpiryLiveness     ExpiryReason = "liveness_check"
	ExpiryRemoteClear  ExpiryReason = "cleared_by_other_tab"
	ExpiryRemoteExpire ExpiryReason = "expired_in_other_tab"
)

// SessionScheduler keeps exactly one expiry timer armed for the known session.
//
// It is not safe for concurrent use; the owning Client drives it from its
// event loop, and post must hand timer fires back to that same loop.
type SessionScheduler struct {
	store *SessionStore
	clock Clock
	post  func(func()) bool

	// onExpired runs on the loop after the record has been cleared
	onExpired func(record *SessionRecord, reason ExpiryReason)

	// baseContext bounds storage calls made from timer fires
	baseContext func() context.Context

	timer   Timer
	gen     uint64
	current *SessionRecord
}

// NewSessionScheduler creates a scheduler. post runs a closure on the caller's
// event loop; a nil post runs timer fires inline.
func NewSessionScheduler(store *SessionStore, clock Clock, post func(func()) bool, onExpired func(*SessionRecord, ExpiryReason)) *SessionScheduler {
	if clock == nil {
		clock = RealClock
	}
	if post == nil {
		post = func(fn func()) bool { fn(); return true }
	}
	if onExpired == nil {
		onExpired = func(*SessionRecord, ExpiryReason) {}
	}
	return &SessionScheduler{
		store:       store,
		clock:       clock,
		post:        post,
		onExpired:   onExpired,
		baseContext: context.Background,
	}
}

// SetBaseContext makes timer fires clear the shared record under the context
// fn returns, so an owner that shuts down cancels in-flight clears.
func (s *SessionScheduler) SetBaseContext(fn func() context.Context) {
	if fn == nil {
		fn = context.Background
	}
	s.baseContext = fn
}

// Arm schedules expiry for a freshly created record.
func (s *SessionScheduler) Arm(record *SessionRecord) {
	s.schedule(record, "armed")
}

// Resume schedules expiry for an existing, still valid record without
// touching storage, so the original window is kept.
func (s *SessionScheduler) Resume(record *SessionRecord) {
	s.schedule(record, "resumed")
}

// Adopt schedules expiry for a record written by another tab.
func (s *SessionScheduler) Adopt(record *SessionRecord) {
	s.schedule(record, "adopted")
}

func (s *SessionScheduler) schedule(record *SessionRecord, how string) {
	s.Cancel()
	if record == nil {
		return
	}

	delay := record.ExpiresAt.Sub(s.clock.Now())
	if delay < 0 {
		delay = 0
	}

	s.current = record
	gen := s.gen
	s.timer = s.clock.AfterFunc(delay, func() {
		s.post(func() { s.fire(gen) })
	})

	logger.WithFields(logger.Fields{
		"address":    record.Address.Hex(),
		"expires_at": record.ExpiresAt.UTC().Format(time.RFC3339),
		"delay":      delay.String(),
	}).Debug("Session expiry " + how)
}

// Cancel disarms the timer and forgets the current record.
func (s *SessionScheduler) Cancel() {
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
	// fires already queued from the old timer carry a stale generation
	s.gen++
	s.current = nil
}

// Current returns the record whose expiry is armed, or nil.
func (s *SessionScheduler) Current() *SessionRecord {
	return s.current
}

// ExpiresAt returns the armed expiry, or the zero time when nothing is armed.
func (s *SessionScheduler) ExpiresAt() time.Time {
	if s.current == nil {
		return time.Time{}
	}
	return s.current.ExpiresAt
}

// Armed reports whether a timer is live.
func (s *SessionScheduler) Armed() bool {
	return s.current != nil
}

func (s *SessionScheduler) fire(gen uint64) {
	if gen != s.gen || s.current == nil {
		return
	}
	ctx := s.baseContext()
	if ctx == nil {
		ctx = context.Background()
	}
	s.Expire(ctx, ExpiryTimer)
}

// Expire force-expires the current session: the timer is dropped, the shared
// record cleared and onExpired invoked.
func (s *SessionScheduler) Expire(ctx context.Context, reason ExpiryReason) {
	record := s.current
	s.Cancel()

	if reason != ExpiryRemoteClear {
		if err := s.store.Clear(ctx); err != nil {
			logger.WithFields(logger.Fields{
				"reason": reason,
				"error":  err,
			}).Error("Failed to clear expired session")
		}
	}

	fields := logger.Fields{"reason": reason}
	if record != nil {
		fields["address"] = record.Address.Hex()
	}
	logger.WithFields(fields).Info("Session expired")

	s.onExpired(record, reason)
}

// CheckLiveness re-reads the shared record and force-expires the session if
// it is gone or past its expiry. Host timers are not trusted to have fired on
// time while the process was suspended or backgrounded.
func (s *SessionScheduler) CheckLiveness(ctx context.Context) (SessionStatus, error) {
	if s.current == nil {
		return SessionAbsent, nil
	}

	record, err := s.store.Read(ctx)
	if err != nil {
		return SessionActive, err
	}

	status := record.Status(s.clock.Now())
	if status != SessionActive {
		s.Expire(ctx, ExpiryLiveness)
		if status == SessionAbsent {
			return SessionAbsent, nil
		}
		return SessionExpired, nil
	}

	if !record.ExpiresAt.Equal(s.current.ExpiresAt) {
		s.Adopt(record)
	}
	return SessionActive, nil
}
