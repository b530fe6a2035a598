package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/KyberNetwork/logger"
	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/tranvictor/walletsync"
)

// Key and channel prefixes
const (
	recordKeyPrefix = "walletsync:record:" // value by storage key
	eventsChannel   = "walletsync:events"  // change notifications for all keys
)

// Storage provides Redis-based shared storage for walletsync.
// It implements the walletsync.Storage interface.
//
// Each Storage value is one "tab": it has its own writer id, and Subscribe
// only delivers changes made by other Storage values.
type Storage struct {
	client    redis.UniversalClient
	keyPrefix string
	ttl       time.Duration
	writerID  string
}

// StorageOption configures a Storage.
type StorageOption func(*Storage)

// WithKeyPrefix sets a custom prefix for all Redis keys and the event channel.
// Storages with different prefixes are different origins.
func WithKeyPrefix(prefix string) StorageOption {
	return func(s *Storage) {
		s.keyPrefix = prefix
	}
}

// WithRecordTTL lets Redis drop records after ttl as a backstop for records
// nobody cleared. Expiry by TTL does not produce a notification.
func WithRecordTTL(ttl time.Duration) StorageOption {
	return func(s *Storage) {
		s.ttl = ttl
	}
}

// WithWriterID overrides the random writer id.
func WithWriterID(id string) StorageOption {
	return func(s *Storage) {
		s.writerID = id
	}
}

// NewStorage creates a new Redis-based storage handle.
func NewStorage(client redis.UniversalClient, opts ...StorageOption) *Storage {
	s := &Storage{
		client:   client,
		writerID: uuid.NewString(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// WriterID returns the id this handle stamps on its notifications.
func (s *Storage) WriterID() string {
	return s.writerID
}

// key returns the full Redis key with optional prefix.
func (s *Storage) key(parts ...string) string {
	var key string
	for _, p := range parts {
		key += p
	}
	if s.keyPrefix != "" {
		return s.keyPrefix + ":" + key
	}
	return key
}

func (s *Storage) recordKey(key string) string {
	return s.key(recordKeyPrefix, key)
}

func (s *Storage) channel() string {
	return s.key(eventsChannel)
}

// eventData is the JSON payload published on every write.
type eventData struct {
	Key     string `json:"key"`
	Writer  string `json:"writer"`
	Value   []byte `json:"value,omitempty"`
	Deleted bool   `json:"deleted,omitempty"`
}

// Get retrieves the value for key, or nil if absent.
func (s *Storage) Get(ctx context.Context, key string) ([]byte, error) {
	data, err := s.client.Get(ctx, s.recordKey(key)).Bytes()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get %s: %w", key, err)
	}
	return data, nil
}

// Set replaces the value for key and publishes the change in the same
// MULTI/EXEC, so subscribers never see a notification before the write.
func (s *Storage) Set(ctx context.Context, key string, value []byte) error {
	payload, err := json.Marshal(eventData{Key: key, Writer: s.writerID, Value: value})
	if err != nil {
		return fmt.Errorf("failed to serialize event: %w", err)
	}

	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, s.recordKey(key), value, s.ttl)
		pipe.Publish(ctx, s.channel(), payload)
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to set %s: %w", key, err)
	}
	return nil
}

// Delete removes key and publishes the change.
func (s *Storage) Delete(ctx context.Context, key string) error {
	payload, err := json.Marshal(eventData{Key: key, Writer: s.writerID, Deleted: true})
	if err != nil {
		return fmt.Errorf("failed to serialize event: %w", err)
	}

	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, s.recordKey(key))
		pipe.Publish(ctx, s.channel(), payload)
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to delete %s: %w", key, err)
	}
	return nil
}

// Subscribe delivers changes to key made by other writers until ctx is done.
// It returns once the subscription is confirmed by Redis.
func (s *Storage) Subscribe(ctx context.Context, key string) (<-chan walletsync.StorageEvent, error) {
	pubsub := s.client.Subscribe(ctx, s.channel())
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return nil, fmt.Errorf("failed to subscribe to %s: %w", s.channel(), err)
	}

	out := make(chan walletsync.StorageEvent, 16)
	go func() {
		defer close(out)
		defer func() { _ = pubsub.Close() }()

		msgs := pubsub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-msgs:
				if !ok {
					return
				}
				var ev eventData
				if err := json.Unmarshal([]byte(msg.Payload), &ev); err != nil {
					logger.WithFields(logger.Fields{
						"channel": msg.Channel,
						"error":   err,
					}).Warn("Ignoring malformed storage event")
					continue
				}
				if ev.Writer == s.writerID || ev.Key != key {
					continue
				}
				value := ev.Value
				if ev.Deleted {
					value = nil
				}
				select {
				case out <- walletsync.StorageEvent{Key: ev.Key, Value: value}:
				case <-ctx.Done():
					return
				}
			}
		}
	}()

	return out, nil
}

// Verify Storage implements walletsync.Storage
var _ walletsync.Storage = (*Storage)(nil)
