package schemafilter

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"odata-sql/internal/schema"
	"odata-sql/internal/testutil"
)

func navNames(t *testing.T, s *schema.Schema, typeName string) []string {
	t.Helper()
	et, ok := s.EntityType(typeName)
	require.True(t, ok, typeName)
	var names []string
	for _, nav := range et.Navigations {
		names = append(names, nav.Name)
	}
	return names
}

func propNames(t *testing.T, s *schema.Schema, typeName string) []string {
	t.Helper()
	et, ok := s.EntityType(typeName)
	require.True(t, ok, typeName)
	var names []string
	for _, p := range et.Properties {
		names = append(names, p.Name)
	}
	return names
}

func TestApply_AllowsAllByDefault(t *testing.T) {
	s := testutil.Schema(t)
	out := Apply(s, Config{})

	assert.Equal(t, s.EntitySets, out.EntitySets)
	assert.Len(t, out.EntityTypes, len(s.EntityTypes))
	assert.True(t, Config{}.IsZero())
}

func TestApply_DenyEntitySetHidesTypeAndNavigations(t *testing.T) {
	s := testutil.Schema(t)
	out := Apply(s, Config{DenyEntitySets: []string{"customers"}})

	assert.NotContains(t, out.EntitySets, "Customers")
	assert.Contains(t, out.EntitySets, "Orders")
	_, ok := out.EntityType("Customer")
	assert.False(t, ok)
	assert.NotContains(t, navNames(t, out, "Order"), "Customer")
	assert.Contains(t, navNames(t, out, "Order"), "Product")
	require.NoError(t, out.Validate())

	// the input is untouched
	assert.Contains(t, s.EntitySets, "Customers")
	assert.Contains(t, navNames(t, s, "Order"), "Customer")
}

func TestApply_AllowListWithGlob(t *testing.T) {
	s := testutil.Schema(t)
	out := Apply(s, Config{AllowEntitySets: []string{"Ord*", "Products"}, DenyEntitySets: []string{"Products"}})

	assert.Equal(t, map[string]string{"Orders": "Order"}, out.EntitySets)
	assert.Len(t, out.EntityTypes, 1)
	assert.Empty(t, navNames(t, out, "Order"))
}

func TestApply_DenyProperties(t *testing.T) {
	s := testutil.Schema(t)
	out := Apply(s, Config{DenyProperties: map[string][]string{
		"*":     {"Id"},
		"Order": {"Note", "Customer*"},
		"Prod*": {"Price"},
	}})

	assert.Equal(t, []string{"Id", "Amount", "Quantity", "ProductId", "PlacedAt"}, propNames(t, out, "Order"))
	assert.NotContains(t, propNames(t, out, "Product"), "Price")
	assert.Contains(t, propNames(t, out, "Product"), "Id", "key properties are never removed")

	// the constraint property is gone so the navigation is dropped too
	assert.NotContains(t, navNames(t, out, "Order"), "Customer")
	assert.NotContains(t, navNames(t, out, "Customer"), "Orders")
	assert.Contains(t, navNames(t, out, "Order"), "Product")
	require.NoError(t, out.Validate())
}

func TestApply_Nil(t *testing.T) {
	assert.Nil(t, Apply(nil, Config{DenyEntitySets: []string{"x"}}))
}

func TestMatchesAny(t *testing.T) {
	assert.True(t, matchesAny("Orders", []string{"ord*"}))
	assert.False(t, matchesAny("Orders", []string{"", "[bad"}))
	assert.False(t, matchesAny("Orders", nil))
}

func TestValidatePattern(t *testing.T) {
	assert.NoError(t, ValidatePattern("Ord*"))
	assert.Error(t, ValidatePattern("[bad"))
}
