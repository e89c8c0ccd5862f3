// Package registry resolves engine type identifiers to connector factories.
// Engines register themselves from init; the job resolves the source and
// target engines once at construction.
package registry

import (
	"fmt"
	"sort"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/ajitpratap0/tablesync/pkg/config"
	"github.com/ajitpratap0/tablesync/pkg/connector/core"
	"github.com/ajitpratap0/tablesync/pkg/errors"
	"github.com/ajitpratap0/tablesync/pkg/logger"
)

// Factory creates a fresh, unconnected connector instance.
type Factory func(cfg config.DatabaseConfig) (core.Connector, error)

// ConnectorInfo provides information about an engine
type ConnectorInfo struct {
	Name         string   `json:"name"`
	Aliases      []string `json:"aliases,omitempty"`
	Description  string   `json:"description"`
	DefaultPort  int      `json:"default_port,omitempty"`
	Capabilities []string `json:"capabilities"`
}

// Registry manages engine registration and instantiation
type Registry struct {
	factories map[string]Factory
	infos     map[string]ConnectorInfo
	aliases   map[string]string
	mu        sync.RWMutex
	logger    *zap.Logger
}

// Global registry instance
var globalRegistry = NewRegistry()

// NewRegistry creates a new connector registry
func NewRegistry() *Registry {
	return &Registry{
		factories: make(map[string]Factory),
		infos:     make(map[string]ConnectorInfo),
		aliases:   make(map[string]string),
		logger:    logger.Get().With(zap.String("component", "connector_registry")),
	}
}

// Register adds an engine under its name and aliases.
func (r *Registry) Register(info ConnectorInfo, factory Factory) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	name := strings.ToLower(info.Name)
	if _, exists := r.factories[name]; exists {
		return errors.New(errors.ErrorTypeConfig, fmt.Sprintf("connector %s already registered", name))
	}
	for _, alias := range info.Aliases {
		if owner, taken := r.aliases[strings.ToLower(alias)]; taken {
			return errors.New(errors.ErrorTypeConfig, fmt.Sprintf("alias %s already registered by %s", alias, owner))
		}
	}

	r.factories[name] = factory
	r.infos[name] = info
	r.aliases[name] = name
	for _, alias := range info.Aliases {
		r.aliases[strings.ToLower(alias)] = name
	}
	r.logger.Debug("connector registered", zap.String("name", name), zap.Strings("aliases", info.Aliases))
	return nil
}

// Resolve maps an engine type or alias to its canonical name.
func (r *Registry) Resolve(engineType string) (string, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	name, ok := r.aliases[strings.ToLower(strings.TrimSpace(engineType))]
	if !ok {
		return "", errors.New(errors.ErrorTypeConfig, fmt.Sprintf("unsupported database type: %s", engineType))
	}
	return name, nil
}

// Create instantiates a connector for cfg.Type.
func (r *Registry) Create(cfg config.DatabaseConfig) (core.Connector, error) {
	name, err := r.Resolve(cfg.Type)
	if err != nil {
		return nil, err
	}

	r.mu.RLock()
	factory := r.factories[name]
	r.mu.RUnlock()

	conn, err := factory(cfg)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeConfig, fmt.Sprintf("failed to create %s connector", name))
	}
	return conn, nil
}

// Factory returns a factory bound to cfg, resolving the engine now so that
// an unknown type is reported before any work starts.
func (r *Registry) Factory(cfg config.DatabaseConfig) (func() (core.Connector, error), error) {
	if _, err := r.Resolve(cfg.Type); err != nil {
		return nil, err
	}
	return func() (core.Connector, error) { return r.Create(cfg) }, nil
}

// List returns registered engines sorted by name.
func (r *Registry) List() []ConnectorInfo {
	r.mu.RLock()
	defer r.mu.RUnlock()

	infos := make([]ConnectorInfo, 0, len(r.infos))
	for _, info := range r.infos {
		infos = append(infos, info)
	}
	sort.Slice(infos, func(i, j int) bool { return infos[i].Name < infos[j].Name })
	return infos
}

// Global registry functions

// Register registers an engine in the global registry
func Register(info ConnectorInfo, factory Factory) error {
	return globalRegistry.Register(info, factory)
}

// MustRegister registers an engine and panics on conflict. Used from init.
func MustRegister(info ConnectorInfo, factory Factory) {
	if err := globalRegistry.Register(info, factory); err != nil {
		panic(err)
	}
}

// Resolve resolves an engine type in the global registry
func Resolve(engineType string) (string, error) {
	return globalRegistry.Resolve(engineType)
}

// Create creates a connector from the global registry
func Create(cfg config.DatabaseConfig) (core.Connector, error) {
	return globalRegistry.Create(cfg)
}

// List returns engines registered in the global registry
func List() []ConnectorInfo {
	return globalRegistry.List()
}

// GetRegistry returns the global registry instance.
func GetRegistry() *Registry {
	return globalRegistry
}
