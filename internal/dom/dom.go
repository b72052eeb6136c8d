// Package dom holds the authoritative in-memory instance tree. Trees emitted
// by providers are merged in by the reconciler, which keeps Refs stable
// across passes and reports the minimal set of changes to subscribers.
package dom

import (
	"errors"
	"slices"
	"sync"

	"github.com/RoaringBitmap/roaring"
	"github.com/agentic-research/treesync/api"
	"github.com/agentic-research/treesync/internal/meta"
)

var ErrNotFound = errors.New("instance not found")

// rootPlaceholder names and classes the root while no tree is present.
const rootPlaceholder = "<|<|<|ROOT|>|>|>"

const classDataModel = "DataModel"

// Instance is a snapshot of one node. Children are in tree order.
type Instance struct {
	ID        Ref
	Parent    Ref
	ClassName string
	Name      string
	Children  []Ref
}

func (i *Instance) snapshot() Instance {
	out := *i
	out.Children = slices.Clone(i.Children)
	return out
}

// Dom is safe for concurrent use. State lives behind mu. Subscribers are
// called under emitMu, which is taken before mu is released so batches are
// delivered in commit order without holding the state lock during delivery.
type Dom struct {
	mu     sync.Mutex
	emitMu sync.Mutex

	deriver *meta.Deriver
	mutator Mutator

	instances map[Ref]*Instance
	filePaths map[Ref][]string
	metas     map[Ref]*meta.Metadata

	// Path index: path -> refs whose metadata holds it.
	byPath map[string]*roaring.Bitmap
	// Query pre-filters.
	fileBacked *roaring.Bitmap
	packaged   *roaring.Bitmap

	root    Ref
	nextRef Ref

	subscribers []Subscriber
}

// New creates an empty Dom. mutator may be nil, in which case every
// mutation request fails.
func New(deriver *meta.Deriver, mutator Mutator) *Dom {
	d := &Dom{
		deriver:    deriver,
		mutator:    mutator,
		instances:  make(map[Ref]*Instance),
		filePaths:  make(map[Ref][]string),
		metas:      make(map[Ref]*meta.Metadata),
		byPath:     make(map[string]*roaring.Bitmap),
		fileBacked: roaring.New(),
		packaged:   roaring.New(),
	}
	d.root = d.alloc()
	d.instances[d.root] = &Instance{ID: d.root, ClassName: rootPlaceholder, Name: rootPlaceholder}
	return d
}

// Subscribe registers fn for every future notification batch.
func (d *Dom) Subscribe(fn Subscriber) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.subscribers = append(d.subscribers, fn)
}

// ApplyNewRoot reconciles the tree against node. A nil node means no tree is
// available. The produced notifications are delivered to subscribers and
// returned.
func (d *Dom) ApplyNewRoot(node *api.InstanceNode) []Notification {
	d.mu.Lock()
	var oldIDs []Ref
	if d.hasRoot() {
		oldIDs = []Ref{d.root}
	}
	var nodes []*api.InstanceNode
	if node != nil {
		nodes = []*api.InstanceNode{node}
	}
	notes := d.reconcile(None, oldIDs, nodes)
	d.unlockAndPublish(notes)
	return notes
}

// unlockAndPublish must be called with mu held.
func (d *Dom) unlockAndPublish(notes []Notification) {
	if len(notes) == 0 {
		d.mu.Unlock()
		return
	}
	subs := slices.Clone(d.subscribers)
	d.emitMu.Lock()
	d.mu.Unlock()
	defer d.emitMu.Unlock()
	for _, fn := range subs {
		fn(notes)
	}
}

func (d *Dom) hasRoot() bool {
	return d.instances[d.root].Name != rootPlaceholder
}

func (d *Dom) alloc() Ref {
	d.nextRef++
	return d.nextRef
}

// mustGet panics on a dangling Ref. Callers inside the package only hold
// Refs they just read from the tree, so a miss is a bug.
func (d *Dom) mustGet(id Ref) *Instance {
	inst, ok := d.instances[id]
	if !ok {
		panic("dom: dangling ref " + id.String())
	}
	return inst
}

// live returns the instance for id if it is visible to clients.
func (d *Dom) live(id Ref) (*Instance, bool) {
	inst, ok := d.instances[id]
	if !ok || (id == d.root && !d.hasRoot()) {
		return nil, false
	}
	return inst, true
}

func (d *Dom) isDataModel() bool {
	return d.instances[d.root].ClassName == classDataModel
}

func (d *Dom) derive(id Ref) *meta.Metadata {
	inst := d.mustGet(id)
	var parent *meta.Metadata
	if !inst.Parent.IsNone() {
		parent = d.metas[inst.Parent]
	}
	return d.deriver.Derive(meta.Input{
		Parent:      parent,
		ClassName:   inst.ClassName,
		Name:        inst.Name,
		IsRoot:      id == d.root,
		IsDataModel: d.isDataModel(),
		FilePaths:   d.filePaths[id],
	})
}

// setMeta replaces the metadata of id and keeps the path index and the
// query bitmaps in step with it.
func (d *Dom) setMeta(id Ref, m *meta.Metadata) {
	d.unindex(id)
	if m == nil {
		delete(d.metas, id)
		return
	}
	d.metas[id] = m
	for _, p := range m.AllPaths() {
		bm, ok := d.byPath[p]
		if !ok {
			bm = roaring.New()
			d.byPath[p] = bm
		}
		bm.Add(uint32(id))
	}
	if m.Paths != nil && (m.Paths.File != "" || m.Paths.FileMeta != "") {
		d.fileBacked.Add(uint32(id))
	}
	if m.Package != nil {
		d.packaged.Add(uint32(id))
	}
}

func (d *Dom) unindex(id Ref) {
	old, ok := d.metas[id]
	if !ok {
		return
	}
	for _, p := range old.AllPaths() {
		if bm, ok := d.byPath[p]; ok {
			bm.Remove(uint32(id))
			if bm.IsEmpty() {
				delete(d.byPath, p)
			}
		}
	}
	d.fileBacked.Remove(uint32(id))
	d.packaged.Remove(uint32(id))
}

// insertSubtree creates instances for node and its descendants under parent,
// parents first so child metadata can see the parent's.
func (d *Dom) insertSubtree(parent Ref, node *api.InstanceNode) Ref {
	id := d.alloc()
	d.instances[id] = &Instance{ID: id, Parent: parent, ClassName: node.ClassName, Name: node.Name}
	if !parent.IsNone() {
		p := d.mustGet(parent)
		p.Children = append(p.Children, id)
	}
	d.filePaths[id] = slices.Clone(node.FilePaths)
	d.setMeta(id, d.derive(id))
	for _, c := range node.Children {
		d.insertSubtree(id, c)
	}
	return id
}

// removeSubtree destroys id and every descendant and detaches id from its
// parent.
func (d *Dom) removeSubtree(id Ref) {
	inst := d.mustGet(id)
	if !inst.Parent.IsNone() {
		if p, ok := d.instances[inst.Parent]; ok {
			p.Children = slices.DeleteFunc(p.Children, func(c Ref) bool { return c == id })
		}
	}
	d.destroy(id)
}

func (d *Dom) destroy(id Ref) {
	inst := d.mustGet(id)
	for _, c := range inst.Children {
		d.destroy(c)
	}
	d.setMeta(id, nil)
	delete(d.filePaths, id)
	delete(d.instances, id)
}

// rederive recomputes metadata for id and its descendants, reporting a
// metadata-only Changed for each instance whose metadata moved.
func (d *Dom) rederive(id Ref, notes []Notification) []Notification {
	m := d.derive(id)
	if !meta.Equal(d.metas[id], m) {
		d.setMeta(id, m)
		notes = append(notes, Notification{Kind: Changed, ID: id})
	}
	for _, c := range d.mustGet(id).Children {
		notes = d.rederive(c, notes)
	}
	return notes
}

// RootID returns the root Ref, or false while no tree is present.
func (d *Dom) RootID() (Ref, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.hasRoot() {
		return None, false
	}
	return d.root, true
}

// Instance returns a snapshot of id.
func (d *Dom) Instance(id Ref) (Instance, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	inst, ok := d.live(id)
	if !ok {
		return Instance{}, false
	}
	return inst.snapshot(), true
}

// Metadata returns the metadata of id, nil when it has none. The returned
// value is never modified by the Dom and must not be modified by callers.
func (d *Dom) Metadata(id Ref) *meta.Metadata {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.live(id); !ok {
		return nil
	}
	return d.metas[id]
}

// Children returns snapshots of the children of id in tree order.
func (d *Dom) Children(id Ref) ([]Instance, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	inst, ok := d.live(id)
	if !ok {
		return nil, ErrNotFound
	}
	out := make([]Instance, 0, len(inst.Children))
	for _, c := range inst.Children {
		out = append(out, d.mustGet(c).snapshot())
	}
	return out, nil
}

// Ancestors returns the chain from the root down to the parent of id.
func (d *Dom) Ancestors(id Ref) ([]Instance, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	inst, ok := d.live(id)
	if !ok {
		return nil, ErrNotFound
	}
	var out []Instance
	for p := inst.Parent; !p.IsNone(); {
		pi := d.mustGet(p)
		out = append(out, pi.snapshot())
		p = pi.Parent
	}
	slices.Reverse(out)
	return out, nil
}

// FindByPath returns the instance whose metadata holds path. When several
// do, the oldest wins.
func (d *Dom) FindByPath(path string) (Ref, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	bm, ok := d.byPath[path]
	if !ok || bm.IsEmpty() {
		return None, false
	}
	return Ref(bm.Minimum()), true
}
