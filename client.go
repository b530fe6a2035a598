package walletsync

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/KyberNetwork/logger"
	"github.com/ethereum/go-ethereum/common"
)

// Client is the per-process context object that owns NetworkState and the
// session lifecycle. Create one at bootstrap with NewClient, hand it to
// whatever needs it, and Close it on shutdown.
//
// Client manages
//  1. the environment the connected wallet is on, fed by chain-changed events
//     and by explicit switch requests
//  2. the contract addresses valid for that environment
//  3. a time-bounded session record shared with every other Client using the
//     same storage origin, expired by a local timer and kept in line with
//     other writers through storage notifications
//
// All state changes run on a single event loop.
type Client struct {
	wallet   Wallet
	storage  Storage
	resolver *Resolver
	clock    Clock
	notifier Notifier

	sessionKey      string
	sessionDuration time.Duration
	fallback        Environment
	queueSize       int

	loop      *eventLoop
	observer  *ChainObserver
	switcher  *SwitchCoordinator
	store     *SessionStore
	scheduler *SessionScheduler
	crossTab  *CrossTabSynchronizer

	// state is written only on the loop; the lock is for readers
	stateMu sync.RWMutex
	state   NetworkState

	subsMu  sync.Mutex
	subs    map[int]chan NetworkState
	nextSub int

	lifecycleMu sync.Mutex
	started     bool
	closed      bool
	ctx         context.Context
	cancel      context.CancelFunc
	unsubs      []func()
}

// NewClient creates a Client with optional configuration. The event loop
// starts immediately; wallet and storage events are followed after Start.
func NewClient(wallet Wallet, storage Storage, opts ...ClientOption) (*Client, error) {
	if wallet == nil {
		return nil, ErrWalletNil
	}
	if storage == nil {
		return nil, ErrStorageNil
	}

	c := &Client{
		wallet:   wallet,
		storage:  storage,
		fallback: FallbackEnvironment,
		subs:     make(map[int]chan NetworkState),
		state:    NetworkState{Status: StatusUninitialized},
		ctx:      context.Background(),
	}

	for _, opt := range opts {
		opt(c)
	}

	if c.resolver == nil {
		r, err := NewResolver()
		if err != nil {
			return nil, err
		}
		c.resolver = r
	}
	if c.clock == nil {
		c.clock = RealClock
	}
	if c.notifier == nil {
		c.notifier = NotifierFunc(logNotification)
	}

	c.loop = newEventLoop(c.queueSize)
	c.observer = NewChainObserver(c.resolver, c.fallback)
	c.switcher = NewSwitchCoordinator(c, c.wallet, c.resolver, c.notifier)
	c.store = NewSessionStore(c.storage, c.sessionKey, c.sessionDuration, c.clock)
	c.scheduler = NewSessionScheduler(c.store, c.clock, c.loop.post, c.onSessionEnded)
	c.scheduler.SetBaseContext(c.lifecycleContext)
	c.crossTab = NewCrossTabSynchronizer(c.storage, c.store, c.scheduler, c.clock, c.loop.post)

	go c.loop.run()
	return c, nil
}

func logNotification(err *NetworkError) {
	logger.WithFields(logger.Fields{
		"kind":  err.Kind,
		"error": err.Message,
	}).Warn("Network error")
}

// Start subscribes to wallet and storage events and performs a best-effort
// detection of the wallet's current chain. Calling it again is a no-op.
func (c *Client) Start(ctx context.Context) error {
	c.lifecycleMu.Lock()
	if c.closed {
		c.lifecycleMu.Unlock()
		return ErrClientClosed
	}
	if c.started {
		c.lifecycleMu.Unlock()
		return nil
	}
	c.started = true
	c.ctx, c.cancel = context.WithCancel(ctx)
	lctx := c.ctx

	c.unsubs = append(c.unsubs,
		c.wallet.OnChainChanged(func(chainID uint64) {
			c.loop.post(func() { c.handleChainID(chainID) })
		}),
		c.wallet.OnAccountChanged(func(account common.Address) {
			c.loop.post(func() { c.handleAccountChanged(lctx, account) })
		}),
	)
	c.lifecycleMu.Unlock()

	if err := c.crossTab.Start(lctx); err != nil {
		return err
	}

	if err := c.loop.do(func() {
		c.apply(func(s *NetworkState) { s.Status = StatusDetecting })
	}); err != nil {
		return err
	}

	chainID, err := c.wallet.ChainID(ctx)
	if err != nil {
		ne := Classify(err)
		logger.WithFields(logger.Fields{
			"kind":  ne.Kind,
			"error": err,
		}).Warn("Couldn't detect wallet chain at startup")
		if uerr := c.update(func(s *NetworkState) {
			s.Error = ne
			settleStatus(s)
		}); uerr != nil {
			return uerr
		}
		c.notifier.Notify(ne)
		return nil
	}

	return c.loop.do(func() { c.handleChainID(chainID) })
}

// Close stops following events, disarms the session timer and stops the
// event loop. The shared session record is left in place for other tabs.
func (c *Client) Close() {
	c.lifecycleMu.Lock()
	if c.closed {
		c.lifecycleMu.Unlock()
		return
	}
	c.closed = true
	if c.cancel != nil {
		c.cancel()
	}
	unsubs := c.unsubs
	c.unsubs = nil
	c.lifecycleMu.Unlock()

	for _, unsub := range unsubs {
		if unsub != nil {
			unsub()
		}
	}

	_ = c.loop.do(func() { c.scheduler.Cancel() })
	c.loop.close()
	c.loop.wait()

	c.subsMu.Lock()
	for id, ch := range c.subs {
		close(ch)
		delete(c.subs, id)
	}
	c.subsMu.Unlock()
}

// State returns a snapshot of the current NetworkState.
func (c *Client) State() NetworkState {
	c.stateMu.RLock()
	defer c.stateMu.RUnlock()
	return c.state.clone()
}

// Subscribe returns a channel that always holds the most recent state after
// each change. Intermediate states may be skipped by slow readers. The
// returned func unsubscribes and closes the channel.
func (c *Client) Subscribe() (<-chan NetworkState, func()) {
	ch := make(chan NetworkState, 1)

	c.subsMu.Lock()
	id := c.nextSub
	c.nextSub++
	c.subs[id] = ch
	c.subsMu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			c.subsMu.Lock()
			defer c.subsMu.Unlock()
			if _, ok := c.subs[id]; ok {
				delete(c.subs, id)
				close(ch)
			}
		})
	}
}

func (c *Client) publish(snapshot NetworkState) {
	c.subsMu.Lock()
	defer c.subsMu.Unlock()
	for _, ch := range c.subs {
		// single producer: after draining, the send cannot block
		select {
		case <-ch:
		default:
		}
		ch <- snapshot.clone()
	}
}

// apply mutates the state and publishes it. Loop only.
func (c *Client) apply(fn func(s *NetworkState)) {
	c.stateMu.Lock()
	fn(&c.state)
	snapshot := c.state.clone()
	c.stateMu.Unlock()
	c.publish(snapshot)
}

// update runs apply on the loop and waits for it.
func (c *Client) update(fn func(s *NetworkState)) error {
	return c.loop.do(func() { c.apply(fn) })
}

func (c *Client) handleChainID(chainID uint64) {
	var prev, next *NetworkError
	c.apply(func(s *NetworkState) {
		prev = s.Error
		next = c.observer.OnChainID(s, chainID)
	})

	logger.WithFields(logger.Fields{
		"chain_id":    chainID,
		"environment": c.State().CurrentEnvironment,
	}).Debug("Chain changed")

	// repeated events for the same bad chain notify once
	if next != nil && !sameError(prev, next) {
		c.notifier.Notify(next)
	}
}

func sameError(a, b *NetworkError) bool {
	if a == nil || b == nil {
		return a == b
	}
	return a.Kind == b.Kind && a.Message == b.Message
}

func (c *Client) handleAccountChanged(ctx context.Context, account common.Address) {
	state := c.State()
	if !state.IsConnected {
		return
	}
	if account == (common.Address{}) {
		logger.WithFields(logger.Fields{
			"address": state.Account.Hex(),
		}).Info("Wallet stopped exposing accounts, ending session")
		c.endSessionLocally(ctx)
		return
	}
	if account == state.Account {
		return
	}
	if err := c.establishSession(ctx, account); err != nil {
		logger.WithFields(logger.Fields{
			"address": account.Hex(),
			"error":   err,
		}).Error("Failed to establish session for new account")
	}
}

// Connect connects the wallet and creates a session for the account, or
// resumes the shared one when it is still valid for the same account so the
// expiry window is not reset.
func (c *Client) Connect(ctx context.Context) error {
	account, err := c.wallet.Connect(ctx)
	if err != nil {
		ne := Classify(err)
		if uerr := c.update(func(s *NetworkState) {
			s.Error = ne
			settleStatus(s)
		}); uerr != nil {
			return uerr
		}
		c.notifier.Notify(ne)
		return ne
	}

	var sessionErr error
	if err := c.loop.do(func() {
		sessionErr = c.establishSession(ctx, account)
	}); err != nil {
		return err
	}
	if sessionErr != nil {
		return sessionErr
	}

	chainID, err := c.wallet.ChainID(ctx)
	if err != nil {
		logger.WithFields(logger.Fields{
			"error": err,
		}).Warn("Couldn't read wallet chain after connecting")
		return nil
	}
	return c.loop.do(func() { c.handleChainID(chainID) })
}

// establishSession resumes or creates the session for account. Loop only.
func (c *Client) establishSession(ctx context.Context, account common.Address) error {
	record, err := c.store.Read(ctx)
	if err != nil {
		return err
	}

	if record.ValidFor(account, c.clock.Now()) {
		c.scheduler.Resume(record)
	} else {
		record, err = c.store.Create(ctx, account)
		if err != nil {
			return err
		}
		c.scheduler.Arm(record)
	}

	c.apply(func(s *NetworkState) {
		s.IsConnected = true
		s.Account = account
		if s.Error != nil && s.Error.Kind == KindWalletNotConnected {
			s.Error = nil
			settleStatus(s)
		}
	})

	logger.WithFields(logger.Fields{
		"address":    account.Hex(),
		"expires_at": record.ExpiresAt.UTC().Format(time.RFC3339),
	}).Info("Session established")
	return nil
}

// Disconnect ends the session everywhere and disconnects the wallet.
func (c *Client) Disconnect(ctx context.Context) error {
	var clearErr error
	if err := c.loop.do(func() {
		c.scheduler.Cancel()
		clearErr = c.store.Clear(ctx)
		c.markDisconnected()
	}); err != nil {
		return err
	}

	if err := c.wallet.Disconnect(ctx); err != nil {
		return fmt.Errorf("wallet disconnect failed: %w", err)
	}
	return clearErr
}

func (c *Client) endSessionLocally(ctx context.Context) {
	c.scheduler.Cancel()
	if err := c.store.Clear(ctx); err != nil {
		logger.WithFields(logger.Fields{
			"error": err,
		}).Error("Failed to clear session record")
	}
	c.markDisconnected()
}

func (c *Client) markDisconnected() {
	c.apply(func(s *NetworkState) {
		s.IsConnected = false
		s.Account = common.Address{}
	})
}

// onSessionEnded runs on the loop once the scheduler has expired the session.
func (c *Client) onSessionEnded(record *SessionRecord, reason ExpiryReason) {
	c.markDisconnected()

	ctx := c.lifecycleContext()
	go func() {
		if err := c.wallet.Disconnect(ctx); err != nil {
			logger.WithFields(logger.Fields{
				"reason": reason,
				"error":  err,
			}).Warn("Wallet disconnect after session expiry failed")
		}
	}()
}

func (c *Client) lifecycleContext() context.Context {
	c.lifecycleMu.Lock()
	defer c.lifecycleMu.Unlock()
	return c.ctx
}

// Session returns the session record the local scheduler is armed for.
func (c *Client) Session() (*SessionRecord, error) {
	var out *SessionRecord
	err := c.loop.do(func() {
		if cur := c.scheduler.Current(); cur != nil {
			rec := *cur
			out = &rec
		}
	})
	return out, err
}

// VisibilityRegained re-checks the session right away. Call it when the
// process resumes from suspension or a tab becomes visible again; timers may
// have been throttled meanwhile.
func (c *Client) VisibilityRegained(ctx context.Context) (SessionStatus, error) {
	var (
		status   SessionStatus
		checkErr error
	)
	if err := c.loop.do(func() {
		status, checkErr = c.scheduler.CheckLiveness(ctx)
	}); err != nil {
		return SessionAbsent, err
	}
	return status, checkErr
}

// SwitchToEnvironment asks the wallet to move to env. See SwitchCoordinator.
func (c *Client) SwitchToEnvironment(ctx context.Context, env Environment) error {
	return c.switcher.SwitchToEnvironment(ctx, env)
}

// RefreshAddresses re-resolves the contract addresses for the current
// environment.
func (c *Client) RefreshAddresses() error {
	var ne *NetworkError
	if err := c.update(func(s *NetworkState) {
		ne = c.observer.Refresh(s)
	}); err != nil {
		return err
	}
	if ne != nil {
		c.notifier.Notify(ne)
		return ne
	}
	return nil
}

// ClearError drops the recorded error.
func (c *Client) ClearError() error {
	return c.update(func(s *NetworkState) {
		s.Error = nil
		settleStatus(s)
	})
}
