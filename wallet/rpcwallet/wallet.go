// Package rpcwallet adapts a wallet that speaks EIP-1193 style JSON-RPC over
// HTTP, WebSocket or IPC (for example Frame or a local signer) to the
// walletsync.Wallet interface.
//
// Wallet events are not pushed over plain JSON-RPC, so chain and account
// changes are detected by polling eth_chainId and eth_accounts.
package rpcwallet

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/KyberNetwork/logger"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/ethereum/go-ethereum/rpc"

	"github.com/tranvictor/walletsync"
)

const (
	DefaultPollInterval = 2 * time.Second
	DefaultPollTimeout  = 5 * time.Second

	codeMethodNotFound = -32601
)

var (
	ErrNoAccounts = fmt.Errorf("%w: wallet returned no accounts", walletsync.ErrWalletNotConnected)
)

// Wallet implements walletsync.Wallet on top of a go-ethereum rpc.Client.
type Wallet struct {
	rpc *rpc.Client
	eth *ethclient.Client

	pollInterval time.Duration
	pollTimeout  time.Duration

	mu              sync.Mutex
	connected       bool
	chainHandlers   map[int]func(uint64)
	accountHandlers map[int]func(common.Address)
	nextHandler     int

	// pollMu serializes polls so events keep emission order
	pollMu      sync.Mutex
	lastChain   uint64
	lastAccount common.Address

	cancel context.CancelFunc
	done   chan struct{}
}

// Option configures a Wallet.
type Option func(*Wallet)

// WithPollInterval sets how often chain and account are polled
func WithPollInterval(d time.Duration) Option {
	return func(w *Wallet) {
		w.pollInterval = d
	}
}

// WithPollTimeout bounds each poll request
func WithPollTimeout(d time.Duration) Option {
	return func(w *Wallet) {
		w.pollTimeout = d
	}
}

// Dial connects to the wallet endpoint at rawurl.
func Dial(ctx context.Context, rawurl string, opts ...Option) (*Wallet, error) {
	c, err := rpc.DialContext(ctx, rawurl)
	if err != nil {
		return nil, fmt.Errorf("couldn't dial wallet at %s: %w", rawurl, err)
	}
	return New(c, opts...), nil
}

// New wraps an existing rpc client and starts polling. Close stops polling
// and closes the client.
func New(c *rpc.Client, opts ...Option) *Wallet {
	w := &Wallet{
		rpc:             c,
		eth:             ethclient.NewClient(c),
		pollInterval:    DefaultPollInterval,
		pollTimeout:     DefaultPollTimeout,
		chainHandlers:   make(map[int]func(uint64)),
		accountHandlers: make(map[int]func(common.Address)),
		done:            make(chan struct{}),
	}
	for _, opt := range opts {
		opt(w)
	}

	ctx, cancel := context.WithCancel(context.Background())
	w.cancel = cancel
	go w.pollLoop(ctx)
	return w
}

// Close stops polling and closes the underlying client.
func (w *Wallet) Close() {
	w.cancel()
	<-w.done
	w.rpc.Close()
}

// OnChainChanged registers fn for chain changes.
func (w *Wallet) OnChainChanged(fn func(chainID uint64)) func() {
	w.mu.Lock()
	defer w.mu.Unlock()
	id := w.nextHandler
	w.nextHandler++
	w.chainHandlers[id] = fn
	return func() {
		w.mu.Lock()
		defer w.mu.Unlock()
		delete(w.chainHandlers, id)
	}
}

// OnAccountChanged registers fn for account changes.
func (w *Wallet) OnAccountChanged(fn func(account common.Address)) func() {
	w.mu.Lock()
	defer w.mu.Unlock()
	id := w.nextHandler
	w.nextHandler++
	w.accountHandlers[id] = fn
	return func() {
		w.mu.Lock()
		defer w.mu.Unlock()
		delete(w.accountHandlers, id)
	}
}

// Connect requests account access with eth_requestAccounts, falling back to
// eth_accounts for signers that do not implement it.
func (w *Wallet) Connect(ctx context.Context) (common.Address, error) {
	var accounts []common.Address
	err := w.rpc.CallContext(ctx, &accounts, "eth_requestAccounts")
	if isMethodNotFound(err) {
		err = w.rpc.CallContext(ctx, &accounts, "eth_accounts")
	}
	if err != nil {
		return common.Address{}, err
	}
	if len(accounts) == 0 {
		return common.Address{}, ErrNoAccounts
	}

	w.mu.Lock()
	w.connected = true
	w.mu.Unlock()

	w.pollMu.Lock()
	w.lastAccount = accounts[0]
	w.pollMu.Unlock()

	return accounts[0], nil
}

// Disconnect revokes account permissions where supported and stops reporting
// account changes.
func (w *Wallet) Disconnect(ctx context.Context) error {
	w.mu.Lock()
	w.connected = false
	w.mu.Unlock()

	w.pollMu.Lock()
	w.lastAccount = common.Address{}
	w.pollMu.Unlock()

	err := w.rpc.CallContext(ctx, nil, "wallet_revokePermissions",
		map[string]map[string]any{"eth_accounts": {}})
	if err != nil && !isMethodNotFound(err) {
		return err
	}
	return nil
}

// SwitchChain calls wallet_switchEthereumChain (EIP-3326).
func (w *Wallet) SwitchChain(ctx context.Context, chainID uint64) error {
	err := w.rpc.CallContext(ctx, nil, "wallet_switchEthereumChain",
		map[string]string{"chainId": hexutil.EncodeUint64(chainID)})
	if err != nil {
		return err
	}
	// report the new chain without waiting for the next tick
	w.poll(ctx)
	return nil
}

// ChainID returns the chain the wallet reports.
func (w *Wallet) ChainID(ctx context.Context) (uint64, error) {
	id, err := w.eth.ChainID(ctx)
	if err != nil {
		return 0, err
	}
	if !id.IsUint64() {
		return 0, fmt.Errorf("chain id %s out of range", id)
	}
	return id.Uint64(), nil
}

func (w *Wallet) pollLoop(ctx context.Context) {
	defer close(w.done)
	ticker := time.NewTicker(w.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			pctx, cancel := context.WithTimeout(ctx, w.pollTimeout)
			w.poll(pctx)
			cancel()
		}
	}
}

// poll reads chain and account and emits what changed since the last poll.
func (w *Wallet) poll(ctx context.Context) {
	w.pollMu.Lock()
	defer w.pollMu.Unlock()

	if chainID, err := w.ChainID(ctx); err != nil {
		logger.WithFields(logger.Fields{
			"error": err,
		}).Debug("Polling wallet chain id failed")
	} else if chainID != w.lastChain {
		// the first reading is reported too; consumers treat repeats as no-ops
		w.lastChain = chainID
		for _, fn := range w.chainSubscribers() {
			fn(chainID)
		}
	}

	w.mu.Lock()
	connected := w.connected
	w.mu.Unlock()
	if !connected {
		return
	}

	var accounts []common.Address
	if err := w.rpc.CallContext(ctx, &accounts, "eth_accounts"); err != nil {
		logger.WithFields(logger.Fields{
			"error": err,
		}).Debug("Polling wallet accounts failed")
		return
	}
	var account common.Address
	if len(accounts) > 0 {
		account = accounts[0]
	}
	if account != w.lastAccount {
		w.lastAccount = account
		for _, fn := range w.accountSubscribers() {
			fn(account)
		}
	}
}

func (w *Wallet) chainSubscribers() []func(uint64) {
	w.mu.Lock()
	defer w.mu.Unlock()
	out := make([]func(uint64), 0, len(w.chainHandlers))
	for _, fn := range w.chainHandlers {
		out = append(out, fn)
	}
	return out
}

func (w *Wallet) accountSubscribers() []func(common.Address) {
	w.mu.Lock()
	defer w.mu.Unlock()
	out := make([]func(common.Address), 0, len(w.accountHandlers))
	for _, fn := range w.accountHandlers {
		out = append(out, fn)
	}
	return out
}

func isMethodNotFound(err error) bool {
	var rpcErr rpc.Error
	return errors.As(err, &rpcErr) && rpcErr.ErrorCode() == codeMethodNotFound
}

// Verify Wallet implements walletsync.Wallet
var _ walletsync.Wallet = (*Wallet)(nil)
