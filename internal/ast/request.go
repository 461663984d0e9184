package ast

// Request is a fully parsed query against one entity set.
type Request struct {
	EntitySet string
	// Apply transformations run first, in order.
	Apply []Transformation
	// Filter is applied after Apply and may reference aliases it introduced.
	Filter  Node
	Compute []ComputeItem
	// Select is nil when the request selects the default field set.
	Select    *SelectExpand
	OrderBy   []OrderByItem
	Skip      *int
	Top       *int
	SkipToken string
	// Count requests the total number of matching rows.
	Count bool
}

// Transformation is one step of an apply pipeline.
type Transformation interface {
	transformation()
}

// FilterTransform keeps rows matching Predicate.
type FilterTransform struct {
	Predicate Node
}

// GroupByTransform groups rows by property paths and aggregates each group.
type GroupByTransform struct {
	Keys       []Node
	Aggregates []AggregateItem
}

// AggregateTransform aggregates all rows into one.
type AggregateTransform struct {
	Items []AggregateItem
}

// ComputeTransform adds computed aliases to every row.
type ComputeTransform struct {
	Items []ComputeItem
}

func (*FilterTransform) transformation()    {}
func (*GroupByTransform) transformation()   {}
func (*AggregateTransform) transformation() {}
func (*ComputeTransform) transformation()   {}

// AggregateMethod names an aggregation.
type AggregateMethod string

const (
	AggregateSum           AggregateMethod = "sum"
	AggregateAverage       AggregateMethod = "average"
	AggregateMin           AggregateMethod = "min"
	AggregateMax           AggregateMethod = "max"
	AggregateCountDistinct AggregateMethod = "countdistinct"
	// AggregateCount is the virtual row count; it takes no expression.
	AggregateCount AggregateMethod = "count"
)

type AggregateItem struct {
	Expression Node
	Method     AggregateMethod
	Alias      string
}

type ComputeItem struct {
	Expression Node
	Alias      string
}

// SelectExpand is one level of the select/expand tree.
type SelectExpand struct {
	// Select lists property names; empty selects every structural property.
	Select []string
	Expand []ExpandItem
}

// ExpandItem expands one navigation property.
type ExpandItem struct {
	Navigation string
	Nested     *SelectExpand
	Filter     Node
	OrderBy    []OrderByItem
	Top        *int
	Count      bool
}

type OrderByItem struct {
	Expression Node
	Descending bool
}
