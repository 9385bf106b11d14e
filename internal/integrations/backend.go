// Package integrations contains the pluggable notification and
// issue-tracking backends and the persisted configuration that drives them.
package integrations

import (
	"context"
	"sort"

	"github.com/insiderhq/insider/internal/footprint"
)

// Phase is the fan-out stage a backend participates in.
type Phase string

const (
	// PhasePublish backends create or link external tracking issues. They
	// run only for server-fault footprints, before any notifier.
	PhasePublish Phase = "publish"
	// PhaseNotify backends send human-facing alerts. They run for every
	// notify decision, after the publish phase.
	PhaseNotify Phase = "notify"
)

// FieldType is the declared type of one config entry.
type FieldType string

const (
	FieldString   FieldType = "STRING"
	FieldPassword FieldType = "PASSWORD"
)

// ConfigField declares one entry of a backend's config schema.
type ConfigField struct {
	Key      string    `json:"key"`
	Label    string    `json:"label"`
	Type     FieldType `json:"type"`
	Required bool      `json:"required"`
	Default  string    `json:"default,omitempty"`
	HelpText string    `json:"helpText,omitempty"`
}

// Config is the resolved key/value configuration handed to a backend
// instance. PASSWORD values arrive decrypted; only API serialization masks
// them.
type Config map[string]string

// Get returns the configured value for key, or "".
func (c Config) Get(key string) string {
	return c[key]
}

// GetDefault returns the configured value for key, or fallback when unset.
func (c Config) GetDefault(key, fallback string) string {
	if v, ok := c[key]; ok && v != "" {
		return v
	}
	return fallback
}

// Context is the shared mutable mapping threaded through one fan-out cycle.
// Publish-phase backends contribute entries (issue URLs, keys) that later
// backends observe; it lives for exactly one dispatch.
type Context map[string]any

// Merge folds a backend's partial result into the shared context.
func (c Context) Merge(partial map[string]any) {
	for k, v := range partial {
		c[k] = v
	}
}

// Issue describes one external tracking issue created during the publish
// phase, accumulated under the "generated_issues" context key.
type Issue struct {
	System string `json:"system"`
	URL    string `json:"url"`
	Key    string `json:"key"`
}

// Issues extracts the accumulated issue list from the shared context.
func (c Context) Issues() []Issue {
	v, ok := c["generated_issues"]
	if !ok {
		return nil
	}
	issues, _ := v.([]Issue)
	return issues
}

// AppendIssue returns a partial context update that adds issue to the
// accumulated list along with the flat convenience keys.
func (c Context) AppendIssue(issue Issue) map[string]any {
	return map[string]any{
		"generated_issues": append(c.Issues(), issue),
		"issue_system":     issue.System,
		"issue_url":        issue.URL,
		"issue_key":        issue.Key,
	}
}

// Backend is one configured integration instance.
type Backend interface {
	// Identifier is the stable registry key (e.g. "slack").
	Identifier() string
	// Phase reports whether the backend publishes issues or notifies humans.
	Phase() Phase
	// Run executes the integration for one footprint. The returned map, if
	// any, is merged into the shared context for subsequent backends. A
	// backend missing required configuration short-circuits without an
	// external call and returns ErrMissingConfig.
	Run(ctx context.Context, fp *footprint.Footprint, shared Context) (map[string]any, error)
}

// Definition is the static declaration of a backend: identity, phase, and
// config schema. The registry reconciles these into persisted rows at
// startup.
type Definition struct {
	Identifier string        `json:"identifier"`
	Name       string        `json:"name"`
	LogoURL    string        `json:"logoUrl,omitempty"`
	Phase      Phase         `json:"phase"`
	Schema     []ConfigField `json:"schema"`
}

// Factory constructs a backend instance from its resolved configuration.
type Factory func(cfg Config) Backend

type registration struct {
	definition Definition
	factory    Factory
}

// builtin is the static identifier registry. Persisted rows referencing an
// identifier absent here are skipped with a warning, never fatal.
var builtin = map[string]registration{}

func register(def Definition, factory Factory) {
	builtin[def.Identifier] = registration{definition: def, factory: factory}
}

// Definitions returns the declared backends in identifier order.
func Definitions() []Definition {
	out := make([]Definition, 0, len(builtin))
	for _, id := range sortedIdentifiers() {
		out = append(out, builtin[id].definition)
	}
	return out
}

func sortedIdentifiers() []string {
	ids := make([]string, 0, len(builtin))
	for id := range builtin {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
