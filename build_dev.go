//go:build !prod
// +build !prod

package walletsync

// Build-specific constants for dev builds
const (
	Build = "dev"

	// FallbackEnvironment is assumed when the wallet reports a chain id that
	// is not in the chain table.
	FallbackEnvironment = EnvironmentLocalhost
)
