package integrations

import (
	"github.com/rs/zerolog/log"
)

// Registry resolves active backend instances from persisted configuration.
type Registry struct {
	store *ConfigStore
}

// NewRegistry creates a registry over the given config store.
func NewRegistry(store *ConfigStore) *Registry {
	return &Registry{store: store}
}

// Sync reconciles the built-in backend definitions into the store. Invoked
// once at startup after storage is confirmed ready.
func (r *Registry) Sync() error {
	return r.store.Sync(Definitions())
}

// Active returns the configured backend instances for phase, in fan-out
// order: ascending persisted order, ties broken by identifier. Persisted
// rows whose identifier has no registered implementation are skipped with a
// warning.
func (r *Registry) Active(phase Phase) ([]Backend, error) {
	persisted, err := r.store.Active()
	if err != nil {
		return nil, err
	}

	var out []Backend
	for _, row := range persisted {
		reg, ok := builtin[row.Identifier]
		if !ok {
			log.Warn().Str("identifier", row.Identifier).
				Msg("Integration configured but no implementation registered, skipping")
			continue
		}
		if reg.definition.Phase != phase {
			continue
		}
		out = append(out, reg.factory(row.Config))
	}
	return out, nil
}
