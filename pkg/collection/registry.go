package collection

import (
	"fmt"
	"strings"
	"sync"

	"github.com/fluidmesh/chancol/pkg/types"
)

// Registry maps a package path to a constructor for the Factory that
// instantiates that data store kind, replacing the original's
// duck-typed class lookup (§9 design note) with an explicit table the
// collection owns.
type Registry struct {
	mu    sync.RWMutex
	ctors map[string]func() types.Factory
}

// NewRegistry returns an empty Registry.
func NewRegistry() *Registry {
	return &Registry{ctors: make(map[string]func() types.Factory)}
}

// Register associates a package path with a Factory constructor.
func (r *Registry) Register(pkgPath []string, ctor func() types.Factory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ctors[joinPath(pkgPath)] = ctor
}

// Resolve builds a Factory for pkgPath, failing if no constructor was
// registered for it.
func (r *Registry) Resolve(pkgPath []string) (types.Factory, error) {
	r.mu.RLock()
	ctor, ok := r.ctors[joinPath(pkgPath)]
	r.mu.RUnlock()
	if !ok {
		return nil, types.NewInternalConsistencyError("registry.resolve",
			fmt.Errorf("no factory registered for package path %v", pkgPath))
	}
	return ctor(), nil
}

func joinPath(pkgPath []string) string {
	return strings.Join(pkgPath, "/")
}
