package walletsync

import (
	"fmt"
	"sort"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/tranvictor/jarvis/networks"
	"gopkg.in/yaml.v3"

	"github.com/tranvictor/walletsync/config"
)

// Resolver is the static environment => network/contract table. It is built
// once from build-time configuration and never changes afterwards.
type Resolver struct {
	networks  map[Environment]NetworkConfig
	addresses map[Environment]ContractAddressSet
}

type deploymentsFile struct {
	Networks    map[string]networkEntry    `yaml:"networks"`
	Deployments map[string]deploymentEntry `yaml:"deployments"`
}

type networkEntry struct {
	ChainID     uint64 `yaml:"chain_id"`
	Name        string `yaml:"name"`
	RPCURL      string `yaml:"rpc_url"`
	ExplorerURL string `yaml:"explorer_url"`
}

type deploymentEntry struct {
	ProxyAddress          string `yaml:"proxy_address"`
	ImplementationAddress string `yaml:"implementation_address"`
	Network               string `yaml:"network"`
	DeployedAt            string `yaml:"deployed_at"`
	Deployer              string `yaml:"deployer"`
}

// NewResolver builds a Resolver from the deployment table embedded at build time.
func NewResolver() (*Resolver, error) {
	return NewResolverFromYAML(config.Deployments)
}

// MustNewResolver is NewResolver that panics on a malformed embedded table.
func MustNewResolver() *Resolver {
	r, err := NewResolver()
	if err != nil {
		panic(err)
	}
	return r
}

// NewResolverFromYAML builds a Resolver from a deployments document.
func NewResolverFromYAML(data []byte) (*Resolver, error) {
	var f deploymentsFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("couldn't parse deployments: %w", err)
	}

	r := &Resolver{
		networks:  make(map[Environment]NetworkConfig, len(f.Networks)),
		addresses: make(map[Environment]ContractAddressSet, len(f.Deployments)),
	}

	for name, n := range f.Networks {
		env, err := ParseEnvironment(name)
		if err != nil {
			return nil, fmt.Errorf("networks: %w", err)
		}
		if n.ChainID == 0 {
			return nil, fmt.Errorf("networks.%s: chain_id is required", name)
		}
		if mapped, ok := EnvironmentForChain(n.ChainID); !ok || mapped != env {
			return nil, fmt.Errorf("networks.%s: chain %d does not map to this environment", name, n.ChainID)
		}
		if n.Name == "" {
			n.Name = defaultNetworkName(n.ChainID, env)
		}
		r.networks[env] = NetworkConfig{
			Environment: env,
			ChainID:     n.ChainID,
			Name:        n.Name,
			RPCURL:      n.RPCURL,
			ExplorerURL: n.ExplorerURL,
		}
	}

	for name, d := range f.Deployments {
		env, err := ParseEnvironment(name)
		if err != nil {
			return nil, fmt.Errorf("deployments: %w", err)
		}
		set, err := d.toAddressSet()
		if err != nil {
			return nil, fmt.Errorf("deployments.%s: %w", name, err)
		}
		r.addresses[env] = set
	}

	return r, nil
}

func (d deploymentEntry) toAddressSet() (ContractAddressSet, error) {
	for field, v := range map[string]string{
		"proxy_address":          d.ProxyAddress,
		"implementation_address": d.ImplementationAddress,
		"deployer":               d.Deployer,
	} {
		if !common.IsHexAddress(v) {
			return ContractAddressSet{}, fmt.Errorf("%s %q is not a valid address", field, v)
		}
	}

	var deployedAt time.Time
	if d.DeployedAt != "" {
		t, err := time.Parse(time.RFC3339, d.DeployedAt)
		if err != nil {
			return ContractAddressSet{}, fmt.Errorf("deployed_at: %w", err)
		}
		deployedAt = t
	}

	return ContractAddressSet{
		ProxyAddress:          common.HexToAddress(d.ProxyAddress),
		ImplementationAddress: common.HexToAddress(d.ImplementationAddress),
		Network:               d.Network,
		DeployedAt:            deployedAt,
		Deployer:              common.HexToAddress(d.Deployer),
	}, nil
}

// defaultNetworkName asks jarvis for the canonical name of well known chains.
func defaultNetworkName(chainID uint64, env Environment) string {
	if n, err := networks.GetNetworkByID(chainID); err == nil && n != nil {
		return n.GetName()
	}
	return env.String()
}

// Addresses returns the contract addresses configured for env.
func (r *Resolver) Addresses(env Environment) (*ContractAddressSet, bool) {
	set, ok := r.addresses[env]
	if !ok {
		return nil, false
	}
	return &set, true
}

// NetworkConfig returns the network configured for env.
func (r *Resolver) NetworkConfig(env Environment) (NetworkConfig, bool) {
	n, ok := r.networks[env]
	return n, ok
}

// Environments returns every environment with a network config, in the order
// of AllEnvironments.
func (r *Resolver) Environments() []Environment {
	out := make([]Environment, 0, len(r.networks))
	for env := range r.networks {
		out = append(out, env)
	}
	sort.Slice(out, func(i, j int) bool {
		return envIndex(out[i]) < envIndex(out[j])
	})
	return out
}

func envIndex(env Environment) int {
	for i, e := range AllEnvironments {
		if e == env {
			return i
		}
	}
	return len(AllEnvironments)
}
