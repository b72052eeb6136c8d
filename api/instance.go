package api

import (
	"encoding/json"
	"fmt"
	"path/filepath"
	"slices"
	"strings"
)

// InstanceNode describes the desired shape of an instance and its subtree.
// It carries no identity. The JSON form is the sourcemap format emitted by
// `rojo sourcemap` and stored in sourcemap.json.
type InstanceNode struct {
	ClassName string          `json:"className"`
	Name      string          `json:"name"`
	FilePaths []string        `json:"filePaths,omitempty"`
	Children  []*InstanceNode `json:"children,omitempty"`
}

// ParseInstanceNode decodes a sourcemap document and sorts every child list
// by name. Relative file paths are resolved against base when it is non-empty.
func ParseInstanceNode(data []byte, base string) (*InstanceNode, error) {
	var node InstanceNode
	if err := json.Unmarshal(data, &node); err != nil {
		return nil, fmt.Errorf("decode instance node: %w", err)
	}
	if node.ClassName == "" {
		return nil, fmt.Errorf("decode instance node: missing className")
	}
	if base != "" {
		node.ResolvePaths(base)
	}
	node.Sort()
	return &node, nil
}

// Sort orders children by name, recursively. Equal names keep their
// relative order.
func (n *InstanceNode) Sort() {
	for _, c := range n.Children {
		c.Sort()
	}
	slices.SortStableFunc(n.Children, func(a, b *InstanceNode) int {
		return strings.Compare(a.Name, b.Name)
	})
}

// ResolvePaths makes every file path in the subtree absolute against base
// and cleans it.
func (n *InstanceNode) ResolvePaths(base string) {
	for i, p := range n.FilePaths {
		if !filepath.IsAbs(p) {
			p = filepath.Join(base, p)
		}
		n.FilePaths[i] = filepath.Clean(p)
	}
	for _, c := range n.Children {
		c.ResolvePaths(base)
	}
}

// MergeStub copies file paths from stub into n wherever n has none, matching
// children of both trees by class name and name.
func (n *InstanceNode) MergeStub(stub *InstanceNode) {
	if stub == nil {
		return
	}
	if len(n.FilePaths) == 0 && len(stub.FilePaths) > 0 {
		n.FilePaths = append([]string(nil), stub.FilePaths...)
	}
	for _, c := range n.Children {
		for _, sc := range stub.Children {
			if sc.ClassName == c.ClassName && sc.Name == c.Name {
				c.MergeStub(sc)
				break
			}
		}
	}
}

// Clone returns a deep copy of the subtree.
func (n *InstanceNode) Clone() *InstanceNode {
	if n == nil {
		return nil
	}
	out := &InstanceNode{
		ClassName: n.ClassName,
		Name:      n.Name,
		FilePaths: slices.Clone(n.FilePaths),
	}
	if len(n.Children) > 0 {
		out.Children = make([]*InstanceNode, len(n.Children))
		for i, c := range n.Children {
			out.Children[i] = c.Clone()
		}
	}
	return out
}
