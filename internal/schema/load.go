package schema

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"odata-sql/internal/sqltype"
)

type schemaDocument struct {
	Enums       []enumDocument       `yaml:"enums"`
	EntityTypes []entityTypeDocument `yaml:"entityTypes"`
}

type enumDocument struct {
	Name    string   `yaml:"name"`
	Members []string `yaml:"members"`
	Ordinal bool     `yaml:"ordinal"`
}

type entityTypeDocument struct {
	Name        string               `yaml:"name"`
	Table       string               `yaml:"table"`
	EntitySet   string               `yaml:"entitySet"`
	Properties  []propertyDocument   `yaml:"properties"`
	Navigations []navigationDocument `yaml:"navigations"`
}

type propertyDocument struct {
	Name     string `yaml:"name"`
	Column   string `yaml:"column"`
	Type     string `yaml:"type"`
	SQLType  string `yaml:"sqlType"`
	Enum     string `yaml:"enum"`
	Nullable bool   `yaml:"nullable"`
	Key      bool   `yaml:"key"`
}

type navigationDocument struct {
	Name       string            `yaml:"name"`
	Target     string            `yaml:"target"`
	Collection bool              `yaml:"collection"`
	Constraint []KeyPair         `yaml:"constraint"`
	Junction   *junctionDocument `yaml:"junction"`
}

type junctionDocument struct {
	Table  string        `yaml:"table"`
	Local  []JunctionKey `yaml:"local"`
	Remote []JunctionKey `yaml:"remote"`
}

// Load reads a YAML schema document from path.
func Load(path string) (*Schema, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read schema %s: %w", path, err)
	}
	return Parse(data)
}

// Parse builds a Schema from a YAML document. Tables default to the snake_case plural
// of the type name, columns to the snake_case property name and entity sets to the
// plural type name.
func Parse(data []byte) (*Schema, error) {
	var doc schemaDocument
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("decode schema: %w", err)
	}

	enums := make(map[string]*sqltype.EnumType, len(doc.Enums))
	for _, e := range doc.Enums {
		if len(e.Members) == 0 {
			return nil, fmt.Errorf("enum %s has no members", e.Name)
		}
		enums[e.Name] = &sqltype.EnumType{Name: e.Name, Members: e.Members, Ordinal: e.Ordinal}
	}

	s := &Schema{EntitySets: make(map[string]string, len(doc.EntityTypes))}
	for _, et := range doc.EntityTypes {
		if et.Name == "" {
			return nil, fmt.Errorf("entity type without name")
		}
		out := EntityType{Name: et.Name, Table: et.Table}
		if out.Table == "" {
			out.Table = DefaultTableName(et.Name)
		}
		for _, p := range et.Properties {
			prop, err := buildProperty(p, enums)
			if err != nil {
				return nil, fmt.Errorf("entity type %s: %w", et.Name, err)
			}
			out.Properties = append(out.Properties, prop)
		}
		for _, n := range et.Navigations {
			nav := Navigation{Name: n.Name, Target: n.Target, Collection: n.Collection, Constraint: n.Constraint}
			if n.Junction != nil {
				nav.Junction = &Junction{Table: n.Junction.Table, Local: n.Junction.Local, Remote: n.Junction.Remote}
				nav.Collection = true
			}
			out.Navigations = append(out.Navigations, nav)
		}
		set := et.EntitySet
		if set == "" {
			set = DefaultEntitySetName(et.Name)
		}
		s.EntitySets[set] = et.Name
		s.EntityTypes = append(s.EntityTypes, out)
	}
	if err := s.Validate(); err != nil {
		return nil, err
	}
	return s, nil
}

func buildProperty(p propertyDocument, enums map[string]*sqltype.EnumType) (Property, error) {
	if p.Name == "" {
		return Property{}, fmt.Errorf("property without name")
	}
	prop := Property{Name: p.Name, Column: p.Column, IsKey: p.Key}
	if prop.Column == "" {
		prop.Column = ToSnakeCase(p.Name)
	}
	switch {
	case p.Enum != "":
		enum, ok := enums[p.Enum]
		if !ok {
			return Property{}, fmt.Errorf("property %s: unknown enum %s", p.Name, p.Enum)
		}
		prop.Type = sqltype.Type{Kind: sqltype.KindEnum, Enum: enum}
	case p.Type != "":
		kind, ok := sqltype.ParseKind(p.Type)
		if !ok {
			return Property{}, fmt.Errorf("property %s: unknown type %s", p.Name, p.Type)
		}
		prop.Type = sqltype.Of(kind)
	case p.SQLType != "":
		prop.Type = sqltype.Of(sqltype.MapSQLType(p.SQLType))
		if prop.Type.Kind == sqltype.KindEnum {
			prop.Type.Enum = parseEnumMembers(p.Name, p.SQLType)
		}
	default:
		prop.Type = sqltype.Of(sqltype.KindString)
	}
	prop.Type.Nullable = p.Nullable && !p.Key
	return prop, nil
}

// parseEnumMembers reads the members of a MySQL ENUM('a','b') column type.
func parseEnumMembers(name, sqlType string) *sqltype.EnumType {
	start := strings.Index(sqlType, "(")
	end := strings.LastIndex(sqlType, ")")
	enum := &sqltype.EnumType{Name: name}
	if start < 0 || end <= start {
		return enum
	}
	for _, raw := range strings.Split(sqlType[start+1:end], ",") {
		enum.Members = append(enum.Members, strings.Trim(strings.TrimSpace(raw), "'"))
	}
	return enum
}
