package walletsync

import (
	"context"
)

// Manager defines the operations the rest of an application uses.
// This interface allows for easy mocking in tests and provides a stable API contract.
type Manager interface {
	// Lifecycle
	Start(ctx context.Context) error
	Close()

	// Network state
	State() NetworkState
	Subscribe() (<-chan NetworkState, func())

	// Wallet connection and session
	Connect(ctx context.Context) error
	Disconnect(ctx context.Context) error
	Session() (*SessionRecord, error)
	VisibilityRegained(ctx context.Context) (SessionStatus, error)

	// Environment actions
	SwitchToEnvironment(ctx context.Context, env Environment) error
	RefreshAddresses() error
	ClearError() error
}

// Compile-time check that Client implements Manager
var _ Manager = (*Client)(nil)
