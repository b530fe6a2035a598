// deps.go defines minimal interfaces for external dependencies.
// This allows for easy mocking in tests and keeps the core independent of any
// concrete wallet backend or storage.
package walletsync

import (
	"context"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// Wallet is the capability set the core needs from a wallet backend. One
// adapter per backend is chosen at startup; see wallet/rpcwallet.
type Wallet interface {
	// OnChainChanged registers fn for chain-changed events, delivered in
	// emission order. The returned func unregisters it.
	OnChainChanged(fn func(chainID uint64)) (unsubscribe func())

	// OnAccountChanged registers fn for account changes. The zero address
	// means the wallet no longer exposes any account.
	OnAccountChanged(fn func(account common.Address)) (unsubscribe func())

	// Connect requests access and returns the selected account
	Connect(ctx context.Context) (common.Address, error)

	// Disconnect drops the connection
	Disconnect(ctx context.Context) error

	// SwitchChain asks the wallet to move to chainID. It may block until the
	// user answers a prompt and fails on rejection or provider error.
	SwitchChain(ctx context.Context, chainID uint64) error

	// ChainID returns the chain the wallet currently reports
	ChainID(ctx context.Context) (uint64, error)
}

// StorageEvent notifies that another writer changed a key. Value is nil when
// the key was removed.
type StorageEvent struct {
	Key   string
	Value []byte
}

// Storage is the per-origin store shared by every tab. Writes through one
// handle are observable by Subscribe on every other handle of the same origin,
// never on the writing handle itself.
type Storage interface {
	// Get returns the stored value, or nil if the key is absent
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte) error
	Delete(ctx context.Context, key string) error

	// Subscribe delivers change notifications for key until ctx is done, at
	// which point the channel is closed.
	Subscribe(ctx context.Context, key string) (<-chan StorageEvent, error)
}

// Notifier surfaces transient user notifications for classified errors.
type Notifier interface {
	Notify(err *NetworkError)
}

// NotifierFunc adapts a function to Notifier.
type NotifierFunc func(err *NetworkError)

func (f NotifierFunc) Notify(err *NetworkError) { f(err) }

// Timer is a cancellable one-shot timer.
type Timer interface {
	Stop() bool
}

// Clock abstracts time so expiry can be driven deterministically in tests.
type Clock interface {
	Now() time.Time
	AfterFunc(d time.Duration, f func()) Timer
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

func (realClock) AfterFunc(d time.Duration, f func()) Timer {
	return time.AfterFunc(d, f)
}

// RealClock is the wall clock backed by package time.
var RealClock Clock = realClock{}
