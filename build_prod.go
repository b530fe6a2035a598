//go:build prod
// +build prod

package walletsync

// Build-specific constants for prod builds
const (
	Build = "prod"

	// FallbackEnvironment is assumed when the wallet reports a chain id that
	// is not in the chain table.
	FallbackEnvironment = EnvironmentMainnet
)
