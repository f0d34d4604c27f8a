package runner

import (
	"fmt"
	"sort"
	"sync"

	"github.com/vulnscanio/engine/pkg/domain/scan"
	"github.com/vulnscanio/engine/pkg/logger"
)

// Registry maps module names to runners. It is consulted when a scan is
// enqueued (module validation) and when it executes.
type Registry struct {
	mu      sync.RWMutex
	runners map[string]Runner
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{runners: make(map[string]Runner)}
}

// Register adds a runner. Registering the same name twice is a wiring bug
// and returns an error.
func (r *Registry) Register(runner Runner) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	name := runner.Name()
	if name == "" {
		return fmt.Errorf("runner has empty name")
	}
	if _, exists := r.runners[name]; exists {
		return fmt.Errorf("runner %s already registered", name)
	}

	r.runners[name] = runner
	return nil
}

// Get returns the runner for a module name.
func (r *Registry) Get(name string) (Runner, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	runner, ok := r.runners[name]
	return runner, ok
}

// Names returns all registered module names, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.runners))
	for name := range r.runners {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Validate checks that every module in the list is registered.
func (r *Registry) Validate(modules []string) error {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, name := range modules {
		if _, ok := r.runners[name]; !ok {
			return fmt.Errorf("%w: %s", scan.ErrUnknownModule, name)
		}
	}
	return nil
}

// NewDefaultRegistry builds the registry with every built-in runner. This is
// the single place modules are wired; the orchestrator only ever consults
// the registry.
func NewDefaultRegistry(log *logger.Logger) *Registry {
	r := NewRegistry()

	builtins := []Runner{
		NewDNSEnumeration(),
		NewRecon(),
		NewSubdomainTakeover(),
		NewSSLAnalysis(),
		NewPortScan(),
		NewTechDetection(),
		NewWebCrawl(),
		NewAdminPanelDetection(),
		NewWAFDetection(),
		NewVulnCheck(),
		NewAPIDiscovery(),
		NewAPISecurity(),
		NewCVEMatch(),
	}

	for _, b := range builtins {
		if err := r.Register(b); err != nil {
			// Duplicate built-in registration cannot happen outside a
			// code change, so fail loudly at startup.
			panic(err)
		}
	}

	log.Info("scan module registry initialized", "modules", len(builtins))
	return r
}
