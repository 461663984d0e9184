package schema

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"odata-sql/internal/sqltype"
)

const testSchema = `
enums:
  - {name: Status, members: [Unknown, Active]}
entityTypes:
  - name: OrderLine
    properties:
      - {name: Id, type: Edm.Int64, key: true}
      - {name: Status, enum: Status}
      - {name: Note, sqlType: "varchar(20)", nullable: true}
      - {name: Size, sqlType: "enum('S','M','L')"}
      - {name: CustomerId, type: Edm.Int64, nullable: true}
    navigations:
      - {name: Customer, target: Person, constraint: [{local: CustomerId, remote: Id}]}
  - name: Person
    table: people_tbl
    properties:
      - {name: Id, type: Edm.Int64, key: true}
`

func TestParse(t *testing.T) {
	s, err := Parse([]byte(testSchema))
	require.NoError(t, err)

	line, err := s.EntitySet("OrderLines")
	require.NoError(t, err)
	assert.Equal(t, "order_lines", line.Table)

	status, ok := line.Property("Status")
	require.True(t, ok)
	assert.Equal(t, sqltype.KindEnum, status.Type.Kind)
	assert.Equal(t, []string{"Unknown", "Active"}, status.Type.Enum.Members)

	note, ok := line.Property("Note")
	require.True(t, ok)
	assert.Equal(t, "note", note.Column)
	assert.True(t, note.Type.Nullable)

	size, ok := line.Property("Size")
	require.True(t, ok)
	assert.Equal(t, []string{"S", "M", "L"}, size.Type.Enum.Members)

	cust, ok := line.Property("CustomerId")
	require.True(t, ok)
	assert.Equal(t, "customer_id", cust.Column)

	nav, ok := line.Navigation("Customer")
	require.True(t, ok)
	assert.True(t, nav.HasConstraint())
	assert.False(t, nav.Collection)

	person, err := s.EntitySet("People")
	require.NoError(t, err)
	assert.Equal(t, "people_tbl", person.Table)
	require.Len(t, person.KeyProperties(), 1)
}

func TestParseRejectsBadReferences(t *testing.T) {
	tests := map[string]string{
		"unknown target": `
entityTypes:
  - name: A
    properties: [{name: Id, key: true}]
    navigations: [{name: B, target: Missing}]
`,
		"unknown constraint property": `
entityTypes:
  - name: A
    properties: [{name: Id, key: true}]
    navigations: [{name: Self, target: A, constraint: [{local: Nope, remote: Id}]}]
`,
		"unknown enum": `
entityTypes:
  - name: A
    properties: [{name: Id, enum: Missing}]
`,
		"duplicate member": `
entityTypes:
  - name: A
    properties: [{name: Id, key: true}, {name: Id}]
`,
	}
	for name, doc := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := Parse([]byte(doc))
			assert.Error(t, err)
		})
	}
}

func TestUnknownEntitySet(t *testing.T) {
	s := &Schema{EntitySets: map[string]string{}}
	_, err := s.EntitySet("Nope")
	assert.Error(t, err)
}

func TestNames(t *testing.T) {
	assert.Equal(t, "order_line", ToSnakeCase("OrderLine"))
	assert.Equal(t, "http_status", ToSnakeCase("HTTPStatus"))
	assert.Equal(t, "customer_id", ToSnakeCase("CustomerId"))
	assert.Equal(t, "people", DefaultTableName("Person"))
	assert.Equal(t, "order_lines", DefaultTableName("OrderLine"))
	assert.Equal(t, "Categories", DefaultEntitySetName("Category"))
}
