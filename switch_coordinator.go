package walletsync

import (
	"context"
	"fmt"

	"github.com/KyberNetwork/logger"
)

// stateHost runs fn against the live NetworkState on the owner's event loop
// and publishes the result.
type stateHost interface {
	update(fn func(state *NetworkState)) error
}

// SwitchCoordinator turns environment switch requests into wallet chain
// switches.
//
// It does not queue or reject overlapping calls. Callers are expected to
// check NetworkState.IsSwitching before calling SwitchToEnvironment again.
type SwitchCoordinator struct {
	host     stateHost
	wallet   Wallet
	resolver *Resolver
	notifier Notifier
}

// NewSwitchCoordinator creates a coordinator.
func NewSwitchCoordinator(host stateHost, wallet Wallet, resolver *Resolver, notifier Notifier) *SwitchCoordinator {
	return &SwitchCoordinator{
		host:     host,
		wallet:   wallet,
		resolver: resolver,
		notifier: notifier,
	}
}

// SwitchToEnvironment asks the wallet to move to env's chain and waits for the
// answer. Any failure is classified, recorded in NetworkState.Error, sent to
// the notifier and returned. The authoritative environment change still
// arrives through the next chain-changed event.
func (c *SwitchCoordinator) SwitchToEnvironment(ctx context.Context, env Environment) error {
	var (
		failure *NetworkError
		prior   *NetworkError
		noop    bool
		from    uint64
		target  NetworkConfig
	)

	err := c.host.update(func(s *NetworkState) {
		if !s.IsConnected {
			failure = newNetworkError(KindWalletNotConnected, "connect a wallet before switching networks")
			failure.Cause = ErrWalletNotConnected
			s.Error = failure
			settleStatus(s)
			return
		}
		cfg, ok := c.resolver.NetworkConfig(env)
		// an unmapped chain reports the fallback environment, so the chain
		// has to match too before the request is skipped
		if env == s.CurrentEnvironment && (!ok || cfg.ChainID == s.CurrentChainID) {
			noop = true
			return
		}
		if !ok {
			failure = newNetworkError(KindUnsupportedNetwork,
				fmt.Sprintf("no network configured for environment %s", env))
			if s.CurrentChainID != 0 {
				failure.withChainID(s.CurrentChainID)
			}
			s.Error = failure
			settleStatus(s)
			return
		}
		target = cfg
		from = s.CurrentChainID
		prior = s.Error
		s.IsSwitching = true
		s.Status = StatusSwitching
	})
	if err != nil {
		return err
	}
	if noop {
		return nil
	}
	if failure != nil {
		c.notifier.Notify(failure)
		return failure
	}

	logger.WithFields(logger.Fields{
		"from_chain_id": from,
		"to_chain_id":   target.ChainID,
		"environment":   env,
	}).Info("Requesting wallet network switch")

	switchErr := c.wallet.SwitchChain(ctx, target.ChainID)

	err = c.host.update(func(s *NetworkState) {
		s.IsSwitching = false
		if switchErr != nil {
			failure = classifySwitchError(switchErr, from, target.ChainID)
			s.Error = failure
		} else if s.Error != nil && s.Error == prior && prior.Kind != KindContractAddressNotFound {
			// the wallet moved; an error from before the request no longer
			// describes it
			s.Error = nil
		}
		settleStatus(s)
	})
	if err != nil {
		return err
	}

	if failure != nil {
		logger.WithFields(logger.Fields{
			"environment": env,
			"kind":        failure.Kind,
			"error":       switchErr,
		}).Warn("Wallet network switch failed")
		c.notifier.Notify(failure)
		return failure
	}
	return nil
}
