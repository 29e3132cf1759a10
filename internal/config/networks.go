package config

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"

	"github.com/congo-pay/custody-gateway/internal/chain"
)

// LoadNetworks returns the chain networks to serve. Without a path the
// built-in networks are used; otherwise the YAML file's "networks" list
// replaces them. In both cases <NAME>_RPC_URL env vars override RPC endpoints.
func LoadNetworks(path string) ([]chain.Network, error) {
	v := viper.New()
	v.AutomaticEnv()

	networks := chain.DefaultNetworks()
	if path != "" {
		v.SetConfigFile(path)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read networks file: %w", err)
		}
		networks = nil
		if err := v.UnmarshalKey("networks", &networks); err != nil {
			return nil, fmt.Errorf("decode networks: %w", err)
		}
		if len(networks) == 0 {
			return nil, fmt.Errorf("networks file %s lists no networks", path)
		}
	}

	for i, n := range networks {
		if url := v.GetString(strings.ToUpper(n.Name) + "_RPC_URL"); url != "" {
			networks[i].RPCURL = url
		}
	}
	return networks, nil
}

// ChainFactory returns the gateway factory for the configured environment.
// The only built-in client is the in-process simulated chain, which holds no
// real balances. It is refused outside development, and for networks that
// name an RPC endpoint it would never call.
func (c Config) ChainFactory(networks []chain.Network) (chain.Factory, error) {
	if !c.IsDev() {
		return nil, fmt.Errorf("no chain RPC client available for APP_ENV=%s: only the simulated chain is built in", c.AppEnv)
	}
	for _, n := range networks {
		if n.RPCURL != "" {
			return nil, fmt.Errorf("network %s sets rpc_url %s but only the simulated chain is built in", n.Name, n.RPCURL)
		}
	}
	return chain.SimulatedFactory, nil
}
