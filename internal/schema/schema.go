// Package schema models the entity types the compiler queries: structural properties
// mapped to columns, navigation properties with their referential constraints, and the
// entity sets exposing each type.
package schema

import (
	"fmt"

	"odata-sql/internal/sqltype"
)

// Model is the schema provider consumed by the compiler.
type Model interface {
	// EntitySet returns the entity type exposed under an entity set name.
	EntitySet(name string) (*EntityType, error)
	// EntityType returns an entity type by name.
	EntityType(name string) (*EntityType, bool)
}

// Property is a structural property stored in one column.
type Property struct {
	Name   string
	Column string
	Type   sqltype.Type
	IsKey  bool
}

// KeyPair maps a property of the owning type to a property of the target type.
type KeyPair struct {
	Local  string
	Remote string
}

// JunctionKey maps an entity property to a column of a junction table.
type JunctionKey struct {
	Property string
	Column   string
}

// Junction describes a many-to-many navigation stored in a link table.
type Junction struct {
	Table string
	// Local columns reference the owning type; Remote columns reference the target type.
	Local  []JunctionKey
	Remote []JunctionKey
}

// Navigation is a navigation property.
type Navigation struct {
	Name       string
	Target     string
	Collection bool
	// Constraint pairs owner properties with target properties, positionally.
	Constraint []KeyPair
	Junction   *Junction
}

// HasConstraint reports whether the navigation carries enough key information to join.
func (n *Navigation) HasConstraint() bool {
	if n.Junction != nil {
		return len(n.Junction.Local) > 0 && len(n.Junction.Remote) > 0
	}
	return len(n.Constraint) > 0
}

// EntityType is a structured type backed by a table.
type EntityType struct {
	Name        string
	Table       string
	Properties  []Property
	Navigations []Navigation
}

// Property returns the named structural property.
func (e *EntityType) Property(name string) (*Property, bool) {
	for i := range e.Properties {
		if e.Properties[i].Name == name {
			return &e.Properties[i], true
		}
	}
	return nil, false
}

// Navigation returns the named navigation property.
func (e *EntityType) Navigation(name string) (*Navigation, bool) {
	for i := range e.Navigations {
		if e.Navigations[i].Name == name {
			return &e.Navigations[i], true
		}
	}
	return nil, false
}

// KeyProperties returns the key properties in declaration order.
// Returns an empty slice if the type has no key.
func (e *EntityType) KeyProperties() []Property {
	var keys []Property
	for _, p := range e.Properties {
		if p.IsKey {
			keys = append(keys, p)
		}
	}
	return keys
}

// Schema is an immutable set of entity types and entity sets.
type Schema struct {
	EntityTypes []EntityType
	// EntitySets maps entity set names to entity type names.
	EntitySets map[string]string
}

// EntitySet implements Model.
func (s *Schema) EntitySet(name string) (*EntityType, error) {
	typeName, ok := s.EntitySets[name]
	if !ok {
		return nil, fmt.Errorf("unknown entity set %q", name)
	}
	et, ok := s.EntityType(typeName)
	if !ok {
		return nil, fmt.Errorf("entity set %q references unknown type %q", name, typeName)
	}
	return et, nil
}

// EntityType implements Model.
func (s *Schema) EntityType(name string) (*EntityType, bool) {
	for i := range s.EntityTypes {
		if s.EntityTypes[i].Name == name {
			return &s.EntityTypes[i], true
		}
	}
	return nil, false
}

// Validate checks navigation targets and constraint properties.
func (s *Schema) Validate() error {
	for i := range s.EntityTypes {
		et := &s.EntityTypes[i]
		if et.Table == "" {
			return fmt.Errorf("entity type %s: table is required", et.Name)
		}
		seen := make(map[string]struct{}, len(et.Properties)+len(et.Navigations))
		for _, p := range et.Properties {
			if _, dup := seen[p.Name]; dup {
				return fmt.Errorf("entity type %s: duplicate member %s", et.Name, p.Name)
			}
			seen[p.Name] = struct{}{}
		}
		for _, nav := range et.Navigations {
			if _, dup := seen[nav.Name]; dup {
				return fmt.Errorf("entity type %s: duplicate member %s", et.Name, nav.Name)
			}
			seen[nav.Name] = struct{}{}
			target, ok := s.EntityType(nav.Target)
			if !ok {
				return fmt.Errorf("entity type %s: navigation %s targets unknown type %s", et.Name, nav.Name, nav.Target)
			}
			for _, kp := range nav.Constraint {
				if _, ok := et.Property(kp.Local); !ok {
					return fmt.Errorf("entity type %s: navigation %s: unknown local property %s", et.Name, nav.Name, kp.Local)
				}
				if _, ok := target.Property(kp.Remote); !ok {
					return fmt.Errorf("entity type %s: navigation %s: unknown remote property %s", et.Name, nav.Name, kp.Remote)
				}
			}
			if nav.Junction != nil {
				for _, jk := range nav.Junction.Local {
					if _, ok := et.Property(jk.Property); !ok {
						return fmt.Errorf("entity type %s: navigation %s: unknown junction property %s", et.Name, nav.Name, jk.Property)
					}
				}
				for _, jk := range nav.Junction.Remote {
					if _, ok := target.Property(jk.Property); !ok {
						return fmt.Errorf("entity type %s: navigation %s: unknown junction property %s", et.Name, nav.Name, jk.Property)
					}
				}
			}
		}
	}
	for set, typeName := range s.EntitySets {
		if _, ok := s.EntityType(typeName); !ok {
			return fmt.Errorf("entity set %s references unknown type %s", set, typeName)
		}
	}
	return nil
}
