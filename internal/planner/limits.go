package planner

import (
	"fmt"

	"odata-sql/internal/ast"
	"odata-sql/internal/planerr"
)

const (
	DefaultPageSize    = 100
	DefaultMaxPageSize = 1000
	DefaultExpandDepth = 4
	DefaultMaxJoins    = 32
)

// Limits bounds the plans a Compiler produces. Zero disables a bound.
type Limits struct {
	MaxExpandDepth  int
	MaxJoins        int
	MaxPageSize     int
	DefaultPageSize int
}

// DefaultLimits returns the limits used when none are configured.
func DefaultLimits() Limits {
	return Limits{
		MaxExpandDepth:  DefaultExpandDepth,
		MaxJoins:        DefaultMaxJoins,
		MaxPageSize:     DefaultMaxPageSize,
		DefaultPageSize: DefaultPageSize,
	}
}

// PlanCost captures the size of a request before any SQL is built.
type PlanCost struct {
	ExpandDepth int
	Expansions  int
}

// EstimateCost measures the select/expand tree of a request.
func EstimateCost(req *ast.Request) PlanCost {
	if req == nil {
		return PlanCost{}
	}
	depth, expansions := expandCost(req.Select, 0)
	return PlanCost{ExpandDepth: depth, Expansions: expansions}
}

func expandCost(se *ast.SelectExpand, depth int) (int, int) {
	if se == nil || len(se.Expand) == 0 {
		return depth, 0
	}
	maxDepth, total := depth, 0
	for _, item := range se.Expand {
		d, n := expandCost(item.Nested, depth+1)
		if d > maxDepth {
			maxDepth = d
		}
		total += n + 1
	}
	return maxDepth, total
}

func validateLimits(cost PlanCost, limits Limits) error {
	if limits.MaxExpandDepth > 0 && cost.ExpandDepth > limits.MaxExpandDepth {
		return planerr.LimitExceeded(fmt.Sprintf("query exceeds maximum expand depth of %d (depth: %d)", limits.MaxExpandDepth, cost.ExpandDepth))
	}
	if limits.MaxJoins > 0 && cost.Expansions > limits.MaxJoins {
		return planerr.LimitExceeded(fmt.Sprintf("query exceeds maximum join count of %d (expansions: %d)", limits.MaxJoins, cost.Expansions))
	}
	return nil
}

// Validate rejects limits that cannot produce a page.
func (l Limits) Validate() error {
	if l.DefaultPageSize < 0 || l.MaxPageSize < 0 || l.MaxExpandDepth < 0 || l.MaxJoins < 0 {
		return fmt.Errorf("limits must not be negative")
	}
	if l.MaxPageSize > 0 && l.DefaultPageSize > l.MaxPageSize {
		return fmt.Errorf("default page size %d exceeds maximum page size %d", l.DefaultPageSize, l.MaxPageSize)
	}
	return nil
}

// pageSize returns the number of root rows of one page: the requested top bounded by
// MaxPageSize, or DefaultPageSize.
func (l Limits) pageSize(top *int) int {
	size := l.DefaultPageSize
	if size <= 0 {
		size = DefaultPageSize
	}
	if top != nil && *top >= 0 {
		size = *top
	}
	if l.MaxPageSize > 0 && size > l.MaxPageSize {
		size = l.MaxPageSize
	}
	return size
}
