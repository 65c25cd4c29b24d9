// Package envs is the registry of built-in environments, keyed by the name a
// training config refers to them with.
package envs

import (
	"fmt"
	"sort"

	"github.com/Kokkini/MimicRL/envs/bandit"
	"github.com/Kokkini/MimicRL/envs/cartpole"
	"github.com/Kokkini/MimicRL/envs/pursuit"
	"github.com/Kokkini/MimicRL/types"
)

// Factory builds one environment instance from a seed.
type Factory func(seed uint64) (types.Environment, error)

var registry = map[string]Factory{
	"bandit":            func(seed uint64) (types.Environment, error) { return bandit.New(seed), nil },
	"cartpole":          func(seed uint64) (types.Environment, error) { return cartpole.New(seed), nil },
	"cartpole-discrete": func(seed uint64) (types.Environment, error) { return cartpole.NewDiscrete(seed), nil },
	"pursuit":           func(seed uint64) (types.Environment, error) { return pursuit.New(seed), nil },
}

// Register adds an environment under a new name. Re-registering an existing
// name is an error so configs never silently change meaning.
func Register(name string, f Factory) error {
	if _, ok := registry[name]; ok {
		return fmt.Errorf("envs: %q already registered", name)
	}
	registry[name] = f
	return nil
}

// Build instantiates a registered environment.
func Build(name string, seed uint64) (types.Environment, error) {
	f, ok := registry[name]
	if !ok {
		return nil, types.ConfigErrorf("environment", "unknown environment %q, have %v", name, Names())
	}
	return f(seed)
}

// Names lists the registered environments in sorted order.
func Names() []string {
	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
