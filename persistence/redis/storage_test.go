package redis

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tranvictor/walletsync"
)

const testKey = "walletsync:session"

func waitEvent(t *testing.T, ch <-chan walletsync.StorageEvent) walletsync.StorageEvent {
	t.Helper()
	select {
	case ev, ok := <-ch:
		require.True(t, ok, "event channel closed")
		return ev
	case <-time.After(3 * time.Second):
		t.Fatal("timed out waiting for storage event")
		return walletsync.StorageEvent{}
	}
}

func assertNoEvent(t *testing.T, ch <-chan walletsync.StorageEvent) {
	t.Helper()
	select {
	case ev := <-ch:
		t.Fatalf("unexpected event %+v", ev)
	case <-time.After(200 * time.Millisecond):
	}
}

func TestStorage_SetGetDelete(t *testing.T) {
	client := newTestClient(t)
	ctx := context.Background()
	s := NewStorage(client)

	got, err := s.Get(ctx, testKey)
	require.NoError(t, err)
	assert.Nil(t, got)

	require.NoError(t, s.Set(ctx, testKey, []byte(`{"a":1}`)))
	got, err = s.Get(ctx, testKey)
	require.NoError(t, err)
	assert.Equal(t, []byte(`{"a":1}`), got)

	require.NoError(t, s.Delete(ctx, testKey))
	got, err = s.Get(ctx, testKey)
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestStorage_HandlesShareRecords(t *testing.T) {
	client := newTestClient(t)
	ctx := context.Background()
	tabA := NewStorage(client)
	tabB := NewStorage(client)

	require.NoError(t, tabA.Set(ctx, testKey, []byte("first")))
	require.NoError(t, tabB.Set(ctx, testKey, []byte("second")))

	got, err := tabA.Get(ctx, testKey)
	require.NoError(t, err)
	assert.Equal(t, []byte("second"), got, "last writer wins")
}

func TestStorage_SubscribeSeesOtherWritersOnly(t *testing.T) {
	client := newTestClient(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	tabA := NewStorage(client)
	tabB := NewStorage(client)
	require.NotEqual(t, tabA.WriterID(), tabB.WriterID())

	eventsA, err := tabA.Subscribe(ctx, testKey)
	require.NoError(t, err)
	eventsB, err := tabB.Subscribe(ctx, testKey)
	require.NoError(t, err)

	require.NoError(t, tabA.Set(ctx, testKey, []byte("v1")))

	ev := waitEvent(t, eventsB)
	assert.Equal(t, testKey, ev.Key)
	assert.Equal(t, []byte("v1"), ev.Value)
	assertNoEvent(t, eventsA)

	require.NoError(t, tabA.Delete(ctx, testKey))
	ev = waitEvent(t, eventsB)
	assert.Nil(t, ev.Value)
}

func TestStorage_SubscribeFiltersKey(t *testing.T) {
	client := newTestClient(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	tabA := NewStorage(client)
	tabB := NewStorage(client)

	events, err := tabB.Subscribe(ctx, testKey)
	require.NoError(t, err)

	require.NoError(t, tabA.Set(ctx, "other-key", []byte("x")))
	assertNoEvent(t, events)
}

func TestStorage_KeyPrefixSeparatesOrigins(t *testing.T) {
	client := newTestClient(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	prod := NewStorage(client, WithKeyPrefix("prod"))
	staging := NewStorage(client, WithKeyPrefix("staging"))

	events, err := staging.Subscribe(ctx, testKey)
	require.NoError(t, err)

	require.NoError(t, prod.Set(ctx, testKey, []byte("prod-value")))

	got, err := staging.Get(ctx, testKey)
	require.NoError(t, err)
	assert.Nil(t, got)
	assertNoEvent(t, events)
}

func TestStorage_SubscriptionClosesWithContext(t *testing.T) {
	client := newTestClient(t)
	ctx, cancel := context.WithCancel(context.Background())

	events, err := NewStorage(client).Subscribe(ctx, testKey)
	require.NoError(t, err)

	cancel()
	select {
	case _, ok := <-events:
		assert.False(t, ok)
	case <-time.After(3 * time.Second):
		t.Fatal("subscription channel not closed")
	}
}

func TestStorage_RecordTTL(t *testing.T) {
	client := newTestClient(t)
	ctx := context.Background()
	s := NewStorage(client, WithRecordTTL(100*time.Millisecond))

	require.NoError(t, s.Set(ctx, testKey, []byte("short-lived")))
	time.Sleep(250 * time.Millisecond)

	got, err := s.Get(ctx, testKey)
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestSessionStore_OverRedisAdoptsOtherTabsWindow(t *testing.T) {
	client := newTestClient(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	tabA := NewStorage(client)
	tabB := NewStorage(client)

	storeA := walletsync.NewSessionStore(tabA, "", time.Hour, nil)
	storeB := walletsync.NewSessionStore(tabB, "", time.Hour, nil)

	// stands in for tab B's event loop
	var mu sync.Mutex
	post := func(fn func()) bool {
		mu.Lock()
		defer mu.Unlock()
		fn()
		return true
	}

	expired := make(chan struct{}, 1)
	schedB := walletsync.NewSessionScheduler(storeB, nil, post, func(*walletsync.SessionRecord, walletsync.ExpiryReason) {
		expired <- struct{}{}
	})
	syncB := walletsync.NewCrossTabSynchronizer(tabB, storeB, schedB, nil, post)
	require.NoError(t, syncB.Start(ctx))

	addr := common.HexToAddress("0x1111111111111111111111111111111111111111")
	record, err := storeA.Create(ctx, addr)
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return schedB.ExpiresAt().Equal(record.ExpiresAt)
	}, 3*time.Second, 20*time.Millisecond)

	require.NoError(t, storeA.Clear(ctx))
	select {
	case <-expired:
	case <-time.After(3 * time.Second):
		t.Fatal("tab B did not end its session after tab A cleared it")
	}
}
