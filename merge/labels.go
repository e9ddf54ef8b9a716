package merge

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"

	"github.com/hupe1980/colgraph/codec"
	"github.com/hupe1980/colgraph/entity"
)

// LabelTable maps the row ids of one entity type to display names.
type LabelTable map[uint32]string

// Labels resolves display names for tree levels. Works are labeled from a
// reverse of their external name map; every other entity type is looked
// up in the union of per-type tables.
type Labels struct {
	works  entity.Type
	byWork LabelTable
	tables map[string]LabelTable
	logger *slog.Logger
}

// NewLabels builds the label source. workIDs maps external work names to
// row ids; tables holds the label table of each entity type by name.
func NewLabels(works entity.Type, workIDs map[string]uint32, tables map[string]LabelTable, logger *slog.Logger) *Labels {
	byWork := make(LabelTable, len(workIDs))
	for name, id := range workIDs {
		byWork[id] = name
	}
	union := make(map[string]LabelTable, len(tables))
	for name, t := range tables {
		union[name] = t
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Labels{works: works, byWork: byWork, tables: union, logger: logger}
}

// AddTable adds or replaces the label table of an entity type.
func (l *Labels) AddTable(entityName string, t LabelTable) {
	l.tables[entityName] = t
}

// table returns the table of spec's entity, warning once per level when
// it is missing.
func (l *Labels) table(ctx context.Context, spec BreakdownSpec, warned map[string]bool) (LabelTable, bool) {
	if spec.Entity == l.works {
		return l.byWork, true
	}
	t, ok := l.tables[spec.Entity.Name]
	if !ok && !warned[spec.Level] {
		warned[spec.Level] = true
		l.logger.WarnContext(ctx, "label table missing",
			slog.String("level", spec.Level),
			slog.String("entity", spec.Entity.Name),
		)
	}
	return t, ok
}

func placeholder(level string, id uint32) string {
	return level + ":" + strconv.FormatUint(uint64(id), 10)
}

func lookup(t LabelTable, level string, id uint32) string {
	if name, ok := t[id]; ok {
		return name
	}
	return placeholder(level, id)
}

// Label is a labeled leaf.
type Label struct {
	ID   uint32 `json:"id"`
	Name string `json:"name"`
}

// LabeledNode is a breakdown tree node with display names.
type LabeledNode struct {
	Level    string         `json:"level,omitempty"`
	ID       uint32         `json:"id"`
	Name     string         `json:"name,omitempty"`
	Count    uint64         `json:"count"`
	Children []*LabeledNode `json:"children,omitempty"`
	Leaves   []Label        `json:"leaves,omitempty"`
}

// Encode marshals the tree with c, or codec.Default when c is nil.
func (n *LabeledNode) Encode(c codec.Codec) ([]byte, error) {
	return codec.OrDefault(c).Marshal(n)
}

// Attach labels every node of tree. Missing label tables are reported as
// warnings and their ids rendered as "<level>:<id>".
func Attach(ctx context.Context, tree *Tree, labels *Labels) (*LabeledNode, error) {
	if tree == nil || tree.Root == nil {
		return nil, fmt.Errorf("merge: attach labels: empty tree")
	}
	warned := make(map[string]bool)
	tables := make([]LabelTable, len(tree.Specs))
	for i, spec := range tree.Specs {
		tables[i], _ = labels.table(ctx, spec, warned)
	}
	return attach(tree, tables, tree.Root, -1, 0), nil
}

func attach(tree *Tree, tables []LabelTable, n *Node, depth int, id uint32) *LabeledNode {
	out := &LabeledNode{ID: id}
	if depth >= 0 {
		level := tree.Specs[depth].Level
		out.Level = level
		out.Name = lookup(tables[depth], level, id)
	}

	if n.leaves != nil {
		leafDepth := len(tree.Specs) - 1
		leafLevel := tree.Specs[leafDepth].Level
		it := n.leaves.Iterator()
		for it.HasNext() {
			lid := it.Next()
			out.Leaves = append(out.Leaves, Label{ID: lid, Name: lookup(tables[leafDepth], leafLevel, lid)})
		}
		out.Count = n.leaves.GetCardinality()
		return out
	}

	for cid, child := range n.Children() {
		out.Children = append(out.Children, attach(tree, tables, child, depth+1, cid))
	}
	out.Count = n.LeafSet().GetCardinality()
	return out
}
