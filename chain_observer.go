package walletsync

import (
	"fmt"
)

// ChainObserver projects wallet-reported chain ids onto NetworkState.
// Every call recomputes the network part of the state from scratch, so it is
// safe to apply the same chain id any number of times and in any interleaving
// with a switch settling.
type ChainObserver struct {
	resolver *Resolver
	fallback Environment
}

// NewChainObserver creates an observer. fallback is used for chain ids absent
// from the chain table.
func NewChainObserver(resolver *Resolver, fallback Environment) *ChainObserver {
	return &ChainObserver{
		resolver: resolver,
		fallback: fallback,
	}
}

// Detect maps a chain id to its environment. supported is false when the
// fallback had to be used.
func (o *ChainObserver) Detect(chainID uint64) (env Environment, supported bool) {
	if env, ok := EnvironmentForChain(chainID); ok {
		return env, true
	}
	return o.fallback, false
}

// OnChainID applies a chain-changed event to state and returns the error it
// recorded, if any.
func (o *ChainObserver) OnChainID(state *NetworkState, chainID uint64) *NetworkError {
	if state.Status == StatusUninitialized {
		state.Status = StatusDetecting
	}

	env, supported := o.Detect(chainID)
	state.CurrentChainID = chainID
	state.CurrentEnvironment = env

	var unsupported *NetworkError
	if !supported {
		unsupported = Classify(fmt.Errorf("%w: chain %d is not mapped to an environment, assuming %s",
			ErrUnsupportedNetwork, chainID, env)).withChainID(chainID)
	}

	resolveErr := o.resolve(state)

	switch {
	case unsupported != nil:
		state.Error = unsupported
	case resolveErr != nil:
		state.Error = resolveErr
	default:
		state.Error = nil
	}
	settleStatus(state)
	return state.Error
}

// Refresh re-resolves the addresses for the current environment.
func (o *ChainObserver) Refresh(state *NetworkState) *NetworkError {
	if state.CurrentEnvironment == "" {
		return nil
	}
	err := o.resolve(state)
	if err != nil {
		state.Error = err
	} else if state.Error != nil && state.Error.Kind == KindContractAddressNotFound {
		state.Error = nil
	}
	settleStatus(state)
	return err
}

func (o *ChainObserver) resolve(state *NetworkState) *NetworkError {
	addrs, ok := o.resolver.Addresses(state.CurrentEnvironment)
	state.CurrentAddresses = addrs
	state.IsCorrectNetwork = ok
	if !ok {
		return Classify(fmt.Errorf("%w: no deployment configured for %s",
			ErrContractAddressNotFound, state.CurrentEnvironment)).withChainID(state.CurrentChainID)
	}
	return nil
}

// settleStatus derives the state machine status from the rest of the state.
// A pending switch keeps Switching until it settles; Error is left by the
// next clean detection.
func settleStatus(state *NetworkState) {
	switch {
	case state.IsSwitching:
		state.Status = StatusSwitching
	case state.Error != nil:
		state.Status = StatusError
	case state.CurrentEnvironment == "":
		if state.Status != StatusUninitialized {
			state.Status = StatusDetecting
		}
	default:
		state.Status = StatusReady
	}
}
