package ast

import (
	"fmt"
	"strings"
)

// DebugString renders the tree one node per line, indented by depth.
func (a *Ast) DebugString() string {
	var sb strings.Builder
	var write func(id NodeID, depth int)
	write = func(id NodeID, depth int) {
		n := a.nodes[id]
		sb.WriteString(strings.Repeat("  ", depth))
		sb.WriteString(n.Kind.String())
		if n.Name != "" {
			fmt.Fprintf(&sb, " %q", n.Name)
		}
		if n.Alias != "" {
			fmt.Fprintf(&sb, " as %q", n.Alias)
		}
		start := a.lines.Position(n.Span.Start)
		end := a.lines.Position(n.Span.End)
		fmt.Fprintf(&sb, " [%d:%d-%d:%d]", start.Line, start.Character, end.Line, end.Character)
		var flags []string
		if n.Exported {
			flags = append(flags, "exported")
		}
		if n.Wildcard {
			flags = append(flags, "wildcard")
		}
		if n.Namespace {
			flags = append(flags, "namespace")
		}
		if len(flags) > 0 {
			sb.WriteString(" {" + strings.Join(flags, ",") + "}")
		}
		sb.WriteByte('\n')
		for _, child := range n.Children {
			write(child, depth+1)
		}
	}
	if len(a.nodes) > 0 {
		write(0, 0)
	}
	return sb.String()
}

// Equal reports whether a and b have the same language, text and node
// structure. URI and version are not compared.
func (a *Ast) Equal(b *Ast) bool {
	if a == b {
		return true
	}
	if a == nil || b == nil {
		return false
	}
	if a.language != b.language || a.text != b.text || len(a.nodes) != len(b.nodes) {
		return false
	}
	for i := range a.nodes {
		if !sameShape(a.nodes[i], b.nodes[i]) {
			return false
		}
	}
	return true
}

func sameShape(x, y Node) bool {
	if x.Kind != y.Kind || x.Name != y.Name || x.Alias != y.Alias ||
		x.Span != y.Span || x.NameSpan != y.NameSpan || x.Parent != y.Parent ||
		x.Exported != y.Exported || x.Wildcard != y.Wildcard || x.Namespace != y.Namespace {
		return false
	}
	if len(x.Children) != len(y.Children) {
		return false
	}
	for i := range x.Children {
		if x.Children[i] != y.Children[i] {
			return false
		}
	}
	return true
}
