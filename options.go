package walletsync

import (
	"time"
)

// ClientOption is a function that configures a Client
type ClientOption func(*Client)

// WithResolver sets the environment table. Defaults to the embedded one.
func WithResolver(resolver *Resolver) ClientOption {
	return func(c *Client) {
		c.resolver = resolver
	}
}

// WithClock sets the clock used for session timestamps and expiry timers
func WithClock(clock Clock) ClientOption {
	return func(c *Client) {
		c.clock = clock
	}
}

// WithNotifier sets where classified errors are surfaced to the user
func WithNotifier(notifier Notifier) ClientOption {
	return func(c *Client) {
		c.notifier = notifier
	}
}

// WithSessionKey sets the shared storage key holding the session record
func WithSessionKey(key string) ClientOption {
	return func(c *Client) {
		c.sessionKey = key
	}
}

// WithSessionDuration sets how long a newly created session stays valid
func WithSessionDuration(d time.Duration) ClientOption {
	return func(c *Client) {
		c.sessionDuration = d
	}
}

// WithFallbackEnvironment overrides the build-mode environment assumed for
// chain ids missing from the chain table.
func WithFallbackEnvironment(env Environment) ClientOption {
	return func(c *Client) {
		c.fallback = env
	}
}

// WithEventQueueSize sets the capacity of the client's event queue
func WithEventQueueSize(size int) ClientOption {
	return func(c *Client) {
		c.queueSize = size
	}
}
