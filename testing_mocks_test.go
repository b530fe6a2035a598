package walletsync

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/require"
)

// ============================================================
// Mock Implementations
// ============================================================

var (
	testAccount  = common.HexToAddress("0x1111111111111111111111111111111111111111")
	otherAccount = common.HexToAddress("0x2222222222222222222222222222222222222222")

	// fixed start so expiry arithmetic is readable in failures
	testEpoch = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
)

const (
	chainMainnet   uint64 = 1
	chainSepolia   uint64 = 11155111
	chainGanache   uint64 = 1337
	chainUnmapped  uint64 = 137
	testSessionTTL        = 30 * time.Minute
)

// mockWallet implements Wallet for testing
type mockWallet struct {
	mu sync.Mutex

	// Function hooks - set these to customize behavior
	ConnectFn     func(ctx context.Context) (common.Address, error)
	DisconnectFn  func(ctx context.Context) error
	SwitchChainFn func(ctx context.Context, chainID uint64) error
	ChainIDFn     func(ctx context.Context) (uint64, error)

	// Call tracking for assertions
	ConnectCalls     int
	DisconnectCalls  int
	SwitchChainCalls []uint64

	chainID         uint64
	chainHandlers   map[int]func(uint64)
	accountHandlers map[int]func(common.Address)
	nextHandler     int
}

func newMockWallet(chainID uint64) *mockWallet {
	return &mockWallet{
		chainID:         chainID,
		chainHandlers:   make(map[int]func(uint64)),
		accountHandlers: make(map[int]func(common.Address)),
	}
}

func (m *mockWallet) OnChainChanged(fn func(uint64)) func() {
	m.mu.Lock()
	defer m.mu.Unlock()
	id := m.nextHandler
	m.nextHandler++
	m.chainHandlers[id] = fn
	return func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		delete(m.chainHandlers, id)
	}
}

func (m *mockWallet) OnAccountChanged(fn func(common.Address)) func() {
	m.mu.Lock()
	defer m.mu.Unlock()
	id := m.nextHandler
	m.nextHandler++
	m.accountHandlers[id] = fn
	return func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		delete(m.accountHandlers, id)
	}
}

func (m *mockWallet) Connect(ctx context.Context) (common.Address, error) {
	m.mu.Lock()
	m.ConnectCalls++
	m.mu.Unlock()
	if m.ConnectFn != nil {
		return m.ConnectFn(ctx)
	}
	return testAccount, nil
}

func (m *mockWallet) Disconnect(ctx context.Context) error {
	m.mu.Lock()
	m.DisconnectCalls++
	m.mu.Unlock()
	if m.DisconnectFn != nil {
		return m.DisconnectFn(ctx)
	}
	return nil
}

// SwitchChain defaults to accepting the switch and announcing the new chain
// the way a browser wallet does.
func (m *mockWallet) SwitchChain(ctx context.Context, chainID uint64) error {
	m.mu.Lock()
	m.SwitchChainCalls = append(m.SwitchChainCalls, chainID)
	m.mu.Unlock()
	if m.SwitchChainFn != nil {
		return m.SwitchChainFn(ctx, chainID)
	}
	m.EmitChainChanged(chainID)
	return nil
}

func (m *mockWallet) ChainID(ctx context.Context) (uint64, error) {
	if m.ChainIDFn != nil {
		return m.ChainIDFn(ctx)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.chainID, nil
}

// EmitChainChanged moves the wallet to chainID and notifies handlers.
func (m *mockWallet) EmitChainChanged(chainID uint64) {
	m.mu.Lock()
	m.chainID = chainID
	handlers := make([]func(uint64), 0, len(m.chainHandlers))
	for _, fn := range m.chainHandlers {
		handlers = append(handlers, fn)
	}
	m.mu.Unlock()
	for _, fn := range handlers {
		fn(chainID)
	}
}

// EmitAccountChanged notifies account handlers.
func (m *mockWallet) EmitAccountChanged(account common.Address) {
	m.mu.Lock()
	handlers := make([]func(common.Address), 0, len(m.accountHandlers))
	for _, fn := range m.accountHandlers {
		handlers = append(handlers, fn)
	}
	m.mu.Unlock()
	for _, fn := range handlers {
		fn(account)
	}
}

func (m *mockWallet) disconnectCalls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.DisconnectCalls
}

func (m *mockWallet) switchChainCalls() []uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]uint64(nil), m.SwitchChainCalls...)
}

// Verify mockWallet implements Wallet
var _ Wallet = (*mockWallet)(nil)

// mockNotifier records notifications
type mockNotifier struct {
	mu     sync.Mutex
	errors []*NetworkError
}

func (m *mockNotifier) Notify(err *NetworkError) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.errors = append(m.errors, err)
}

func (m *mockNotifier) notified() []*NetworkError {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]*NetworkError(nil), m.errors...)
}

// fakeClock is a manual clock. Timers fire only from Advance, in deadline
// order, outside the clock's lock.
type fakeClock struct {
	mu     sync.Mutex
	now    time.Time
	timers []*fakeTimer
}

type fakeTimer struct {
	clock   *fakeClock
	at      time.Time
	fn      func()
	stopped bool
	fired   bool
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: testEpoch}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) AfterFunc(d time.Duration, fn func()) Timer {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := &fakeTimer{clock: c, at: c.now.Add(d), fn: fn}
	c.timers = append(c.timers, t)
	return t
}

func (t *fakeTimer) Stop() bool {
	t.clock.mu.Lock()
	defer t.clock.mu.Unlock()
	if t.stopped || t.fired {
		return false
	}
	t.stopped = true
	return true
}

// Advance moves time forward and fires every timer that became due.
func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	var due []*fakeTimer
	live := c.timers[:0]
	for _, t := range c.timers {
		switch {
		case t.stopped:
		case !t.at.After(c.now):
			t.fired = true
			due = append(due, t)
		default:
			live = append(live, t)
		}
	}
	c.timers = live
	c.mu.Unlock()

	sort.SliceStable(due, func(i, j int) bool { return due[i].at.Before(due[j].at) })
	for _, t := range due {
		t.fn()
	}
}

// Suspend moves time forward without firing anything, like a process whose
// timers were throttled.
func (c *fakeClock) Suspend(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// PendingTimers counts timers that are neither stopped nor fired.
func (c *fakeClock) PendingTimers() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, t := range c.timers {
		if !t.stopped && !t.fired {
			n++
		}
	}
	return n
}

// fakeOrigin is a shared keyspace; each fakeTab is one handle on it.
type fakeOrigin struct {
	mu       sync.Mutex
	data     map[string][]byte
	watchers map[*fakeTab][]chan StorageEvent
}

type fakeTab struct {
	origin *fakeOrigin

	// error injection
	GetErr    error
	SetErr    error
	DeleteErr error

	SetCalls    int
	DeleteCalls int
}

func newFakeOrigin() *fakeOrigin {
	return &fakeOrigin{
		data:     make(map[string][]byte),
		watchers: make(map[*fakeTab][]chan StorageEvent),
	}
}

func (o *fakeOrigin) tab() *fakeTab {
	return &fakeTab{origin: o}
}

func (t *fakeTab) Get(_ context.Context, key string) ([]byte, error) {
	t.origin.mu.Lock()
	defer t.origin.mu.Unlock()
	if t.GetErr != nil {
		return nil, t.GetErr
	}
	v, ok := t.origin.data[key]
	if !ok {
		return nil, nil
	}
	return append([]byte(nil), v...), nil
}

func (t *fakeTab) Set(_ context.Context, key string, value []byte) error {
	t.origin.mu.Lock()
	defer t.origin.mu.Unlock()
	t.SetCalls++
	if t.SetErr != nil {
		return t.SetErr
	}
	t.origin.data[key] = append([]byte(nil), value...)
	t.origin.notifyLocked(t, key, value)
	return nil
}

func (t *fakeTab) Delete(_ context.Context, key string) error {
	t.origin.mu.Lock()
	defer t.origin.mu.Unlock()
	t.DeleteCalls++
	if t.DeleteErr != nil {
		return t.DeleteErr
	}
	if _, ok := t.origin.data[key]; !ok {
		return nil
	}
	delete(t.origin.data, key)
	t.origin.notifyLocked(t, key, nil)
	return nil
}

func (t *fakeTab) Subscribe(ctx context.Context, key string) (<-chan StorageEvent, error) {
	ch := make(chan StorageEvent, 16)
	o := t.origin
	o.mu.Lock()
	o.watchers[t] = append(o.watchers[t], ch)
	o.mu.Unlock()

	go func() {
		<-ctx.Done()
		o.mu.Lock()
		defer o.mu.Unlock()
		chans := o.watchers[t]
		for i, c := range chans {
			if c == ch {
				o.watchers[t] = append(chans[:i], chans[i+1:]...)
				break
			}
		}
		close(ch)
	}()
	return ch, nil
}

func (o *fakeOrigin) notifyLocked(from *fakeTab, key string, value []byte) {
	for tab, chans := range o.watchers {
		if tab == from {
			continue
		}
		for _, ch := range chans {
			select {
			case ch <- StorageEvent{Key: key, Value: append([]byte(nil), value...)}:
			default:
			}
		}
	}
}

func (o *fakeOrigin) raw(key string) []byte {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.data[key]
}

func (t *fakeTab) setCalls() int {
	t.origin.mu.Lock()
	defer t.origin.mu.Unlock()
	return t.SetCalls
}

// Verify fakeTab implements Storage
var _ Storage = (*fakeTab)(nil)

// fakeHost runs state updates under a lock instead of an event loop
type fakeHost struct {
	mu    sync.Mutex
	state NetworkState
}

func (h *fakeHost) update(fn func(*NetworkState)) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	fn(&h.state)
	return nil
}

func (h *fakeHost) snapshot() NetworkState {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.state.clone()
}

// ============================================================
// Test Helpers
// ============================================================

// testSetup holds a Client and its fakes
type testSetup struct {
	Client   *Client
	Wallet   *mockWallet
	Clock    *fakeClock
	Origin   *fakeOrigin
	Tab      *fakeTab
	Notifier *mockNotifier
}

// newTestSetup creates a Client on mainnet wired to fresh fakes. The Client is
// closed when the test ends.
func newTestSetup(t *testing.T, opts ...ClientOption) *testSetup {
	t.Helper()
	origin := newFakeOrigin()
	return newTestSetupOn(t, origin, newFakeClock(), opts...)
}

// newTestSetupOn creates a Client on a shared origin and clock, as another
// tab would.
func newTestSetupOn(t *testing.T, origin *fakeOrigin, clock *fakeClock, opts ...ClientOption) *testSetup {
	t.Helper()

	s := &testSetup{
		Wallet:   newMockWallet(chainMainnet),
		Clock:    clock,
		Origin:   origin,
		Tab:      origin.tab(),
		Notifier: &mockNotifier{},
	}

	allOpts := append([]ClientOption{
		WithClock(s.Clock),
		WithNotifier(s.Notifier),
		WithSessionDuration(testSessionTTL),
		WithFallbackEnvironment(EnvironmentMainnet),
	}, opts...)

	c, err := NewClient(s.Wallet, s.Tab, allOpts...)
	require.NoError(t, err)
	s.Client = c
	t.Cleanup(c.Close)
	return s
}

// flush waits until everything posted to the client's loop so far has run.
func (s *testSetup) flush(t *testing.T) {
	t.Helper()
	require.NoError(t, s.Client.loop.do(func() {}))
}

// writeSession stores a record for addr on origin as another tab would.
func writeSession(t *testing.T, origin *fakeOrigin, clock Clock, addr common.Address, ttl time.Duration) *SessionRecord {
	t.Helper()
	record, err := NewSessionStore(origin.tab(), "", ttl, clock).Create(context.Background(), addr)
	require.NoError(t, err)
	return record
}

// codeError is an rpc.Error carrying a provider error code
type codeError struct {
	code int
	msg  string
}

func (e codeError) Error() string  { return e.msg }
func (e codeError) ErrorCode() int { return e.code }

func rpcErr(code int, format string, args ...any) error {
	return codeError{code: code, msg: fmt.Sprintf(format, args...)}
}
