package walletsync

import (
	"context"
	"fmt"
	"time"

	"github.com/KyberNetwork/logger"
	"github.com/ethereum/go-ethereum/common"
	"github.com/goccy/go-json"
)

// SessionRecord is the single session entry shared by all tabs of an origin.
type SessionRecord struct {
	Address   common.Address
	CreatedAt time.Time
	ExpiresAt time.Time
}

// Status reports whether the record is still active at now.
func (r *SessionRecord) Status(now time.Time) SessionStatus {
	if r == nil {
		return SessionAbsent
	}
	if now.Before(r.ExpiresAt) {
		return SessionActive
	}
	return SessionExpired
}

// ValidFor reports whether the record can be resumed by account at now.
func (r *SessionRecord) ValidFor(account common.Address, now time.Time) bool {
	return r != nil && r.Address == account && r.Status(now) == SessionActive
}

// sessionRecordData is the persisted layout: exactly address, createdAt and
// expiresAt, the timestamps in epoch milliseconds.
type sessionRecordData struct {
	Address   string `json:"address"`
	CreatedAt int64  `json:"createdAt"`
	ExpiresAt int64  `json:"expiresAt"`
}

func encodeSessionRecord(r *SessionRecord) ([]byte, error) {
	return json.Marshal(sessionRecordData{
		Address:   r.Address.Hex(),
		CreatedAt: r.CreatedAt.UnixMilli(),
		ExpiresAt: r.ExpiresAt.UnixMilli(),
	})
}

func decodeSessionRecord(data []byte) (*SessionRecord, error) {
	var d sessionRecordData
	if err := json.Unmarshal(data, &d); err != nil {
		return nil, fmt.Errorf("failed to unmarshal session record: %w", err)
	}
	if !common.IsHexAddress(d.Address) {
		return nil, fmt.Errorf("session record address %q is not valid", d.Address)
	}
	if d.CreatedAt <= 0 || d.ExpiresAt <= 0 {
		return nil, fmt.Errorf("session record timestamps missing")
	}
	return &SessionRecord{
		Address:   common.HexToAddress(d.Address),
		CreatedAt: time.UnixMilli(d.CreatedAt),
		ExpiresAt: time.UnixMilli(d.ExpiresAt),
	}, nil
}

// SessionStore reads and writes the shared session record. Writes are
// last-writer-wins: Create replaces whatever is stored, without merging.
type SessionStore struct {
	storage  Storage
	key      string
	duration time.Duration
	clock    Clock
}

// NewSessionStore creates a store over storage. Zero values for key, duration
// and clock pick the defaults.
func NewSessionStore(storage Storage, key string, duration time.Duration, clock Clock) *SessionStore {
	if key == "" {
		key = DefaultSessionKey
	}
	if duration <= 0 {
		duration = DefaultSessionDuration
	}
	if clock == nil {
		clock = RealClock
	}
	return &SessionStore{
		storage:  storage,
		key:      key,
		duration: duration,
		clock:    clock,
	}
}

// Key returns the storage key holding the record.
func (s *SessionStore) Key() string {
	return s.key
}

// Duration returns the validity window of new sessions.
func (s *SessionStore) Duration() time.Duration {
	return s.duration
}

// Create writes a fresh record for address starting now.
func (s *SessionStore) Create(ctx context.Context, address common.Address) (*SessionRecord, error) {
	// millisecond precision is all the persisted layout keeps
	now := time.UnixMilli(s.clock.Now().UnixMilli())
	record := &SessionRecord{
		Address:   address,
		CreatedAt: now,
		ExpiresAt: now.Add(s.duration),
	}

	data, err := encodeSessionRecord(record)
	if err != nil {
		return nil, fmt.Errorf("failed to serialize session record: %w", err)
	}
	if err := s.storage.Set(ctx, s.key, data); err != nil {
		return nil, fmt.Errorf("failed to write session record: %w", err)
	}
	return record, nil
}

// Read returns the stored record, or nil if it is absent or malformed.
// Only storage failures are returned as errors.
func (s *SessionStore) Read(ctx context.Context) (*SessionRecord, error) {
	data, err := s.storage.Get(ctx, s.key)
	if err != nil {
		return nil, fmt.Errorf("failed to read session record: %w", err)
	}
	if data == nil {
		return nil, nil
	}
	record, err := decodeSessionRecord(data)
	if err != nil {
		logger.WithFields(logger.Fields{
			"key":   s.key,
			"error": err,
		}).Warn("Ignoring malformed session record")
		return nil, nil
	}
	return record, nil
}

// Clear removes the record.
func (s *SessionStore) Clear(ctx context.Context) error {
	if err := s.storage.Delete(ctx, s.key); err != nil {
		return fmt.Errorf("failed to clear session record: %w", err)
	}
	return nil
}
