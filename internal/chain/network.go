package chain

import (
	"errors"
	"fmt"
	"strings"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"
)

// ErrUnknownNetwork is returned when a network or currency has no configuration.
var ErrUnknownNetwork = errors.New("unknown network")

// Network is the typed configuration of one chain the gateway can talk to.
type Network struct {
	Name          string `mapstructure:"name"`
	Currency      string `mapstructure:"currency"`
	ChainID       int64  `mapstructure:"chain_id"`
	ExplorerURL   string `mapstructure:"explorer_url"`
	RPCURL        string `mapstructure:"rpc_url"`
	Confirmations uint64 `mapstructure:"confirmations"`
	// Default marks the network used for a currency when callers do not name one.
	Default bool `mapstructure:"default"`
}

// TxURL returns the block explorer link for a transaction hash.
func (n Network) TxURL(hash string) string {
	return strings.TrimRight(n.ExplorerURL, "/") + "/tx/" + hash
}

// DefaultNetworks lists the networks supported out of the box.
func DefaultNetworks() []Network {
	return []Network{
		{Name: "sepolia", Currency: "ETH", ChainID: 11155111, ExplorerURL: "https://sepolia.etherscan.io", Confirmations: 1, Default: true},
		{Name: "ethereum", Currency: "ETH", ChainID: 1, ExplorerURL: "https://etherscan.io", Confirmations: 12},
		{Name: "amoy", Currency: "MATIC", ChainID: 80002, ExplorerURL: "https://amoy.polygonscan.com", Confirmations: 1, Default: true},
		{Name: "polygon", Currency: "MATIC", ChainID: 137, ExplorerURL: "https://polygonscan.com", Confirmations: 64},
	}
}

// Factory builds a gateway client for a network.
type Factory func(Network) (Gateway, error)

// Registry resolves networks and currencies to gateway clients. Clients are
// built lazily by the factory and cached.
type Registry struct {
	networks map[string]Network
	defaults map[string]string
	factory  Factory

	mu       sync.Mutex
	gateways *lru.Cache[string, Gateway]
}

// NewRegistry validates the network list and prepares a registry. Each
// currency must have exactly one default network; a currency with a single
// network uses it implicitly.
func NewRegistry(networks []Network, factory Factory) (*Registry, error) {
	if len(networks) == 0 {
		return nil, fmt.Errorf("at least one network is required")
	}
	if factory == nil {
		return nil, fmt.Errorf("gateway factory is required")
	}

	r := &Registry{
		networks: make(map[string]Network, len(networks)),
		defaults: make(map[string]string),
		factory:  factory,
	}
	byCurrency := make(map[string][]string)
	for _, n := range networks {
		n.Name = strings.ToLower(strings.TrimSpace(n.Name))
		n.Currency = strings.ToUpper(strings.TrimSpace(n.Currency))
		if n.Name == "" || n.Currency == "" {
			return nil, fmt.Errorf("network name and currency are required")
		}
		if _, dup := r.networks[n.Name]; dup {
			return nil, fmt.Errorf("network %s configured twice", n.Name)
		}
		r.networks[n.Name] = n
		byCurrency[n.Currency] = append(byCurrency[n.Currency], n.Name)
		if n.Default {
			if prev, ok := r.defaults[n.Currency]; ok {
				return nil, fmt.Errorf("currency %s has two default networks: %s and %s", n.Currency, prev, n.Name)
			}
			r.defaults[n.Currency] = n.Name
		}
	}
	for currency, names := range byCurrency {
		if _, ok := r.defaults[currency]; ok {
			continue
		}
		if len(names) > 1 {
			return nil, fmt.Errorf("currency %s has several networks but no default", currency)
		}
		r.defaults[currency] = names[0]
	}

	cache, err := lru.New[string, Gateway](len(r.networks))
	if err != nil {
		return nil, err
	}
	r.gateways = cache
	return r, nil
}

// Network returns the configuration for a network name.
func (r *Registry) Network(name string) (Network, error) {
	n, ok := r.networks[strings.ToLower(name)]
	if !ok {
		return Network{}, fmt.Errorf("%w: %s", ErrUnknownNetwork, name)
	}
	return n, nil
}

// Networks returns all configured networks.
func (r *Registry) Networks() []Network {
	out := make([]Network, 0, len(r.networks))
	for _, n := range r.networks {
		out = append(out, n)
	}
	return out
}

// ForNetwork returns the gateway and configuration of a named network.
func (r *Registry) ForNetwork(name string) (Gateway, Network, error) {
	n, err := r.Network(name)
	if err != nil {
		return nil, Network{}, err
	}
	gw, err := r.gateway(n)
	if err != nil {
		return nil, Network{}, err
	}
	return gw, n, nil
}

// ForCurrency returns the gateway of the currency's default network.
func (r *Registry) ForCurrency(currency string) (Gateway, Network, error) {
	name, ok := r.defaults[strings.ToUpper(currency)]
	if !ok {
		return nil, Network{}, fmt.Errorf("%w: no network for currency %s", ErrUnknownNetwork, currency)
	}
	return r.ForNetwork(name)
}

func (r *Registry) gateway(n Network) (Gateway, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if gw, ok := r.gateways.Get(n.Name); ok {
		return gw, nil
	}
	gw, err := r.factory(n)
	if err != nil {
		return nil, fmt.Errorf("build gateway for %s: %w", n.Name, err)
	}
	r.gateways.Add(n.Name, gw)
	return gw, nil
}
