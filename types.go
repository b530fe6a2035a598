package walletsync

import (
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// Constants for session handling
const (
	DefaultSessionDuration = time.Hour
	DefaultSessionKey      = "walletsync:session"

	DefaultEventQueueSize = 64
)

// Environment is a logical deployment target. It is distinct from the numeric
// chain id a wallet reports.
type Environment string

const (
	EnvironmentLocalhost Environment = "localhost"
	EnvironmentTestnet   Environment = "testnet"
	EnvironmentMainnet   Environment = "mainnet"
)

// AllEnvironments lists every known environment in a stable order.
var AllEnvironments = []Environment{
	EnvironmentLocalhost,
	EnvironmentTestnet,
	EnvironmentMainnet,
}

// ParseEnvironment validates a string against the known environments.
func ParseEnvironment(s string) (Environment, error) {
	for _, env := range AllEnvironments {
		if string(env) == s {
			return env, nil
		}
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownEnvironment, s)
}

func (e Environment) String() string {
	return string(e)
}

// chainEnvironments is the static chain id => environment table.
var chainEnvironments = map[uint64]Environment{
	1337:     EnvironmentLocalhost, // ganache
	31337:    EnvironmentLocalhost, // hardhat / anvil
	11155111: EnvironmentTestnet,   // sepolia
	1:        EnvironmentMainnet,
}

// EnvironmentForChain returns the environment a chain id maps to.
func EnvironmentForChain(chainID uint64) (Environment, bool) {
	env, ok := chainEnvironments[chainID]
	return env, ok
}

// ContractAddressSet holds the deployed contract addresses for one environment.
type ContractAddressSet struct {
	ProxyAddress          common.Address
	ImplementationAddress common.Address
	Network               string
	DeployedAt            time.Time
	Deployer              common.Address
}

// NetworkConfig describes the chain backing an environment.
type NetworkConfig struct {
	Environment Environment
	ChainID     uint64
	Name        string
	RPCURL      string
	ExplorerURL string
}

// NetworkStatus is the state of the network state machine.
type NetworkStatus string

const (
	StatusUninitialized NetworkStatus = "uninitialized"
	StatusDetecting     NetworkStatus = "detecting"
	StatusReady         NetworkStatus = "ready"
	StatusSwitching     NetworkStatus = "switching"
	StatusError         NetworkStatus = "error"
)

// NetworkState is the live view of which environment the wallet is on.
// Values handed out by Client are snapshots and safe to keep.
type NetworkState struct {
	Status             NetworkStatus
	CurrentEnvironment Environment
	CurrentChainID     uint64
	CurrentAddresses   *ContractAddressSet
	Account            common.Address
	IsConnected        bool
	IsCorrectNetwork   bool
	IsSwitching        bool
	Error              *NetworkError
}

func (s NetworkState) clone() NetworkState {
	if s.CurrentAddresses != nil {
		addrs := *s.CurrentAddresses
		s.CurrentAddresses = &addrs
	}
	if s.Error != nil {
		e := *s.Error
		s.Error = &e
	}
	return s
}

// SessionStatus is the state of the session state machine.
type SessionStatus string

const (
	SessionAbsent  SessionStatus = "absent"
	SessionActive  SessionStatus = "active"
	SessionExpired SessionStatus = "expired"
)
