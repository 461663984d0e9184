// Package schemafilter applies allow/deny filters to an entity model before it is
// handed to the compiler.
package schemafilter

import (
	"path"
	"slices"
	"strings"

	"odata-sql/internal/schema"
)

// Config controls which entity sets and properties requests may reach.
type Config struct {
	AllowEntitySets []string `mapstructure:"allow_entity_sets"`
	DenyEntitySets  []string `mapstructure:"deny_entity_sets"`
	// DenyProperties maps entity type patterns to property patterns. Key properties are
	// never removed.
	DenyProperties map[string][]string `mapstructure:"deny_properties"`
}

// IsZero reports whether cfg filters nothing.
func (cfg Config) IsZero() bool {
	return len(cfg.AllowEntitySets) == 0 && len(cfg.DenyEntitySets) == 0 && len(cfg.DenyProperties) == 0
}

// Apply returns a filtered copy of s; s is not modified. Missing allow lists default to
// allow-all and deny rules always win. An entity type whose every entity set is filtered
// out is hidden, and navigations targeting it are dropped, as are navigations whose
// constraint uses a removed property.
func Apply(s *schema.Schema, cfg Config) *schema.Schema {
	if s == nil {
		return nil
	}

	out := &schema.Schema{EntitySets: make(map[string]string, len(s.EntitySets))}
	exposed := make(map[string]bool)
	for name, typeName := range s.EntitySets {
		if _, ok := exposed[typeName]; !ok {
			exposed[typeName] = false
		}
		if !entitySetAllowed(name, cfg.AllowEntitySets, cfg.DenyEntitySets) {
			continue
		}
		out.EntitySets[name] = typeName
		exposed[typeName] = true
	}
	hidden := func(typeName string) bool {
		visible, hasSet := exposed[typeName]
		return hasSet && !visible
	}

	removed := make(map[string]map[string]bool)
	for _, et := range s.EntityTypes {
		if hidden(et.Name) {
			continue
		}
		denied := mergePatterns(cfg.DenyProperties, et.Name)
		props := make([]schema.Property, 0, len(et.Properties))
		for _, p := range et.Properties {
			if !p.IsKey && matchesAny(p.Name, denied) {
				if removed[et.Name] == nil {
					removed[et.Name] = make(map[string]bool)
				}
				removed[et.Name][p.Name] = true
				continue
			}
			props = append(props, p)
		}
		et.Properties = props
		out.EntityTypes = append(out.EntityTypes, et)
	}

	for i := range out.EntityTypes {
		et := &out.EntityTypes[i]
		navs := make([]schema.Navigation, 0, len(et.Navigations))
		for _, nav := range et.Navigations {
			if hidden(nav.Target) || !navigationIntact(nav, removed[et.Name], removed[nav.Target]) {
				continue
			}
			navs = append(navs, nav)
		}
		et.Navigations = navs
	}
	return out
}

func navigationIntact(nav schema.Navigation, localRemoved, remoteRemoved map[string]bool) bool {
	for _, kp := range nav.Constraint {
		if localRemoved[kp.Local] || remoteRemoved[kp.Remote] {
			return false
		}
	}
	if nav.Junction != nil {
		for _, jk := range nav.Junction.Local {
			if localRemoved[jk.Property] {
				return false
			}
		}
		for _, jk := range nav.Junction.Remote {
			if remoteRemoved[jk.Property] {
				return false
			}
		}
	}
	return true
}

func entitySetAllowed(name string, allow, deny []string) bool {
	if matchesAny(name, deny) {
		return false
	}
	if len(allow) == 0 {
		return true
	}
	return matchesAny(name, allow)
}

func mergePatterns(patterns map[string][]string, typeName string) []string {
	if patterns == nil {
		return nil
	}
	combined := append([]string{}, patterns["*"]...)
	for pattern, props := range patterns {
		if pattern != "*" && matchesAny(typeName, []string{pattern}) {
			combined = append(combined, props...)
		}
	}
	slices.Sort(combined)
	return slices.Compact(combined)
}

func matchesAny(value string, patterns []string) bool {
	value = strings.ToLower(value)
	for _, pattern := range patterns {
		if pattern == "" {
			continue
		}
		// matching should be case-insensitive
		ok, err := path.Match(strings.ToLower(pattern), value)
		if err != nil {
			continue
		}
		if ok {
			return true
		}
	}
	return false
}

// ValidatePattern reports a malformed glob pattern.
func ValidatePattern(pattern string) error {
	_, err := path.Match(strings.ToLower(pattern), "name")
	return err
}
