package main

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"odata-sql/internal/app"
	"odata-sql/internal/materialize"
	"odata-sql/internal/planner"
)

type statementView struct {
	SQL  string `json:"sql"`
	Args []any  `json:"args"`
}

type orderingView struct {
	Name      string `json:"name"`
	Direction string `json:"direction"`
}

type fieldView struct {
	Name  string `json:"name"`
	Index int    `json:"index"`
}

type nodeView struct {
	Name       string      `json:"name"`
	EntityType string      `json:"entityType,omitempty"`
	Collection bool        `json:"collection"`
	Fields     []fieldView `json:"fields"`
	Keys       []fieldView `json:"keys,omitempty"`
	Top        *int        `json:"top,omitempty"`
	Count      bool        `json:"count,omitempty"`
	Children   []nodeView  `json:"children,omitempty"`
}

type planView struct {
	CompileID string            `json:"compileId"`
	EntitySet string            `json:"entitySet"`
	Dialect   string            `json:"dialect"`
	Data      statementView     `json:"data"`
	Count     *statementView    `json:"count,omitempty"`
	PageSize  int               `json:"pageSize"`
	OrderKey  string            `json:"orderKey"`
	Ordering  []orderingView    `json:"ordering"`
	Joins     int               `json:"joins"`
	Tree      nodeView          `json:"tree"`
	Page      *materialize.Page `json:"page,omitempty"`
}

func newPlanView(result *app.Result) planView {
	plan := result.Plan
	view := planView{
		CompileID: result.CompileID,
		EntitySet: plan.EntitySet,
		Dialect:   plan.Dialect,
		Data:      statementView{SQL: plan.Data.SQL, Args: nonNilArgs(plan.Data.Args)},
		PageSize:  plan.PageSize,
		OrderKey:  plan.OrderKey,
		Joins:     plan.Joins,
		Page:      result.Page,
	}
	if plan.Count != nil {
		view.Count = &statementView{SQL: plan.Count.SQL, Args: nonNilArgs(plan.Count.Args)}
	}
	for _, term := range plan.Ordering {
		view.Ordering = append(view.Ordering, orderingView{Name: term.Name, Direction: term.Direction()})
	}
	if plan.Root != nil {
		view.Tree = newNodeView(plan.Root)
	}
	return view
}

func nonNilArgs(args []any) []any {
	if args == nil {
		return []any{}
	}
	return args
}

func newNodeView(n *planner.MaterializationNode) nodeView {
	view := nodeView{
		Name:       n.Name,
		EntityType: n.EntityType,
		Collection: n.Collection,
		Fields:     fieldViews(n.Fields),
		Keys:       fieldViews(n.Keys),
		Top:        n.Pagination.Top,
		Count:      n.Pagination.Count,
	}
	for _, child := range n.Children {
		view.Children = append(view.Children, newNodeView(child))
	}
	return view
}

func fieldViews(readers []planner.FieldReader) []fieldView {
	views := make([]fieldView, 0, len(readers))
	for _, r := range readers {
		views = append(views, fieldView{Name: r.Field.Name, Index: r.Index})
	}
	return views
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// writePlanText renders a plan for people: the statements, then the tree.
func writePlanText(w io.Writer, view planView) error {
	var b strings.Builder
	fmt.Fprintf(&b, "entity set: %s (%s)\n", view.EntitySet, view.Dialect)
	fmt.Fprintf(&b, "page size: %d, joins: %d, order key: %s\n", view.PageSize, view.Joins, view.OrderKey)
	fmt.Fprintf(&b, "\ndata:\n  %s\n  args: %v\n", view.Data.SQL, view.Data.Args)
	if view.Count != nil {
		fmt.Fprintf(&b, "\ncount:\n  %s\n  args: %v\n", view.Count.SQL, view.Count.Args)
	}
	b.WriteString("\ntree:\n")
	writeNodeText(&b, view.Tree, 1)
	_, err := io.WriteString(w, b.String())
	return err
}

func writeNodeText(b *strings.Builder, n nodeView, depth int) {
	indent := strings.Repeat("  ", depth)
	kind := "single"
	if n.Collection {
		kind = "collection"
	}
	names := make([]string, 0, len(n.Fields))
	for _, f := range n.Fields {
		names = append(names, fmt.Sprintf("%s@%d", f.Name, f.Index))
	}
	fmt.Fprintf(b, "%s%s [%s] %s\n", indent, n.Name, kind, strings.Join(names, " "))
	for _, child := range n.Children {
		writeNodeText(b, child, depth+1)
	}
}

func writePageText(w io.Writer, page *materialize.Page) error {
	var b strings.Builder
	for _, item := range page.Items {
		line, err := json.Marshal(item)
		if err != nil {
			return err
		}
		b.Write(line)
		b.WriteByte('\n')
	}
	if page.Count != nil {
		fmt.Fprintf(&b, "count: %d\n", *page.Count)
	}
	if page.NextSkipToken != "" {
		fmt.Fprintf(&b, "next: %s\n", page.NextSkipToken)
	}
	_, err := io.WriteString(w, b.String())
	return err
}
