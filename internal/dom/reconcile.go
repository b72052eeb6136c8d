package dom

import (
	"slices"

	"github.com/agentic-research/treesync/api"
	"github.com/agentic-research/treesync/internal/meta"
)

type matchLevel int

const (
	matchVeryStrict matchLevel = iota // name, class and child count
	matchStrict                       // name and class
	matchAny                          // name or class
)

func (l matchLevel) matches(inst *Instance, node *api.InstanceNode) bool {
	switch l {
	case matchVeryStrict:
		return inst.Name == node.Name && inst.ClassName == node.ClassName && len(inst.Children) == len(node.Children)
	case matchStrict:
		return inst.Name == node.Name && inst.ClassName == node.ClassName
	default:
		return inst.Name == node.Name || inst.ClassName == node.ClassName
	}
}

type pair struct {
	id    Ref
	node  *api.InstanceNode
	order int // index of node among the new children
}

type indexedNode struct {
	node  *api.InstanceNode
	order int
}

// reconcile merges nodes into the children of parent, which currently are
// oldIDs. parent is None when reconciling the root. Must be called with mu held.
func (d *Dom) reconcile(parent Ref, oldIDs []Ref, nodes []*api.InstanceNode) []Notification {
	var notes []Notification

	switch {
	case len(oldIDs) == 0 && len(nodes) == 0:
		return nil

	case len(oldIDs) == 0:
		if parent.IsNone() {
			return d.addRoot(nodes[0])
		}
		for _, n := range nodes {
			notes = append(notes, added(parent, d.insertSubtree(parent, n)))
		}
		return notes

	case len(nodes) == 0:
		if parent.IsNone() {
			return d.removeRoot()
		}
		for _, id := range oldIDs {
			d.removeSubtree(id)
			notes = append(notes, removed(parent, id))
		}
		return notes
	}

	ids := slices.Clone(oldIDs)
	pool := make([]indexedNode, len(nodes))
	for i, n := range nodes {
		pool[i] = indexedNode{node: n, order: i}
	}

	var pairs []pair
	for _, level := range []matchLevel{matchVeryStrict, matchStrict, matchAny} {
		// Reverse so removing the current index leaves earlier ones intact.
		for i := len(ids) - 1; i >= 0; i-- {
			inst := d.mustGet(ids[i])
			j := slices.IndexFunc(pool, func(in indexedNode) bool { return level.matches(inst, in.node) })
			if j < 0 {
				continue
			}
			pairs = append(pairs, pair{id: ids[i], node: pool[j].node, order: pool[j].order})
			ids = slices.Delete(ids, i, i+1)
			pool = slices.Delete(pool, j, j+1)
		}
	}

	// There is only one root and it cannot be destroyed, so an unmatched
	// root is retargeted in place.
	if parent.IsNone() && len(pairs) == 0 {
		pairs = append(pairs, pair{id: ids[0], node: pool[0].node})
		ids, pool = nil, nil
	}

	for _, id := range ids {
		d.removeSubtree(id)
		notes = append(notes, removed(parent, id))
	}
	for _, in := range pool {
		notes = append(notes, added(parent, d.insertSubtree(parent, in.node)))
	}

	slices.SortFunc(pairs, func(a, b pair) int { return a.order - b.order })
	for _, p := range pairs {
		if n, ok := d.applyChanges(p.id, p.node); ok {
			notes = append(notes, n)
		}
		inst := d.mustGet(p.id)
		notes = append(notes, d.reconcile(p.id, slices.Clone(inst.Children), p.node.Children)...)
	}
	return notes
}

// applyChanges copies class, name and paths from node onto id and
// recomputes its metadata.
func (d *Dom) applyChanges(id Ref, node *api.InstanceNode) (Notification, bool) {
	inst := d.mustGet(id)
	n := Notification{Kind: Changed, ID: id}
	if inst.ClassName != node.ClassName {
		class := node.ClassName
		n.ClassName = &class
		inst.ClassName = class
	}
	if inst.Name != node.Name {
		name := node.Name
		n.Name = &name
		inst.Name = name
	}
	d.filePaths[id] = slices.Clone(node.FilePaths)
	m := d.derive(id)
	metaChanged := !meta.Equal(d.metas[id], m)
	if metaChanged {
		d.setMeta(id, m)
	}
	return n, n.ClassName != nil || n.Name != nil || metaChanged
}

// addRoot turns the placeholder root into node. The root Ref survives every
// transition between "no tree" and "tree present".
func (d *Dom) addRoot(node *api.InstanceNode) []Notification {
	root := d.mustGet(d.root)
	root.ClassName = node.ClassName
	root.Name = node.Name
	d.filePaths[d.root] = slices.Clone(node.FilePaths)
	d.setMeta(d.root, d.derive(d.root))

	notes := []Notification{added(None, d.root)}
	for _, c := range node.Children {
		notes = append(notes, added(d.root, d.insertSubtree(d.root, c)))
	}
	return notes
}

func (d *Dom) removeRoot() []Notification {
	root := d.mustGet(d.root)
	for _, c := range root.Children {
		d.destroy(c)
	}
	root.Children = nil
	root.ClassName = rootPlaceholder
	root.Name = rootPlaceholder
	d.setMeta(d.root, nil)
	delete(d.filePaths, d.root)
	return []Notification{removed(None, d.root)}
}
