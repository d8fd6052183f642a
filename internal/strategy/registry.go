package strategy

import (
	"fmt"
	"sort"

	"volatility-trading-bot/config"
)

// Factory builds a strategy variant from its configuration.
type Factory func(cfg config.StrategyConfig) (SignalSource, error)

// Registry is an explicit name-to-factory table owned by the composition
// root. There is no package-level mutable registry.
type Registry struct {
	factories map[string]Factory
}

func NewRegistry() *Registry {
	return &Registry{factories: make(map[string]Factory)}
}

// Register adds a factory; re-registering a name is a programming error.
func (r *Registry) Register(name string, f Factory) error {
	if _, exists := r.factories[name]; exists {
		return fmt.Errorf("strategy %q already registered", name)
	}
	r.factories[name] = f
	return nil
}

// Create instantiates the named strategy.
func (r *Registry) Create(name string, cfg config.StrategyConfig) (SignalSource, error) {
	f, ok := r.factories[name]
	if !ok {
		return nil, fmt.Errorf("unknown strategy %q (registered: %v)", name, r.Names())
	}
	return f(cfg)
}

// Names lists registered strategies, sorted for stable error messages.
func (r *Registry) Names() []string {
	out := make([]string, 0, len(r.factories))
	for name := range r.factories {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// DefaultRegistry returns a registry with the built-in strategies.
func DefaultRegistry() *Registry {
	r := NewRegistry()
	_ = r.Register("volatility_regime", func(cfg config.StrategyConfig) (SignalSource, error) {
		return NewVolatilityRegime(cfg), nil
	})
	return r
}
