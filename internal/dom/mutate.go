package dom

import (
	"log/slog"
	"slices"

	"github.com/agentic-research/treesync/api"
	"github.com/agentic-research/treesync/internal/fsops"
	"github.com/agentic-research/treesync/internal/meta"
)

// Mutator performs the filesystem side of instance mutations.
type Mutator interface {
	Create(parent *meta.Metadata, className, name string) (fsops.Created, error)
	Rename(target *meta.Metadata, name string) (fsops.Renamed, error)
	Delete(target *meta.Metadata) error
}

// snapshotMeta returns the metadata of a live id under the lock.
func (d *Dom) snapshotMeta(id Ref) (*meta.Metadata, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.live(id); !ok {
		return nil, false
	}
	return d.metas[id], true
}

// InsertInstance creates a child of parent on disk and then in the tree.
// It returns false if either step could not happen.
func (d *Dom) InsertInstance(parent Ref, className, name string) (Ref, bool) {
	log := slog.With("parent", parent, "class", className, "name", name)
	if d.mutator == nil {
		log.Warn("insert instance: no filesystem attached")
		return None, false
	}
	pm, ok := d.snapshotMeta(parent)
	if !ok {
		log.Warn("insert instance: parent not found")
		return None, false
	}

	out, err := d.mutator.Create(pm, className, name)
	if err != nil {
		log.Error("insert instance", "err", err)
		if out.Parent != nil {
			d.retarget(parent, out.Parent)
		}
		return None, false
	}

	d.mu.Lock()
	if _, ok := d.live(parent); !ok {
		d.mu.Unlock()
		log.Warn("insert instance: parent removed during create")
		return None, false
	}
	var notes []Notification
	if out.Parent != nil {
		d.filePaths[parent] = out.Parent
		notes = d.rederive(parent, notes)
	}
	id := d.insertSubtree(parent, &api.InstanceNode{ClassName: className, Name: name, FilePaths: out.Child})
	notes = append(notes, added(parent, id))
	d.unlockAndPublish(notes)
	return id, true
}

// RenameInstance renames the file or directory backing id, then the
// instance itself.
func (d *Dom) RenameInstance(id Ref, name string) bool {
	log := slog.With("id", id, "name", name)
	if d.mutator == nil {
		log.Warn("rename instance: no filesystem attached")
		return false
	}
	m, ok := d.snapshotMeta(id)
	if !ok {
		log.Warn("rename instance: not found")
		return false
	}

	out, err := d.mutator.Rename(m, name)
	if err != nil {
		log.Error("rename instance", "err", err)
		if out.Paths != nil {
			d.commitRename(id, name, out)
		}
		return false
	}
	if !d.commitRename(id, name, out) {
		log.Warn("rename instance: removed during rename")
		return false
	}
	return true
}

// retarget records paths that already changed on disk for a mutation that
// then failed.
func (d *Dom) retarget(id Ref, paths []string) {
	d.mu.Lock()
	if _, ok := d.live(id); !ok {
		d.mu.Unlock()
		return
	}
	d.filePaths[id] = paths
	d.unlockAndPublish(d.rederive(id, nil))
}

func (d *Dom) commitRename(id Ref, name string, out fsops.Renamed) bool {
	d.mu.Lock()
	inst, ok := d.live(id)
	if !ok {
		d.mu.Unlock()
		return false
	}
	var notes []Notification
	if inst.Name != name {
		inst.Name = name
		newName := name
		notes = append(notes, Notification{Kind: Changed, ID: id, Name: &newName})
	}
	d.filePaths[id] = slices.Clone(out.Paths)
	if out.OldDir != "" {
		d.rebase(id, out.OldDir, out.NewDir)
	}
	// The rename notification already covers id, only descendants need
	// a metadata-only one.
	m := d.derive(id)
	if !meta.Equal(d.metas[id], m) {
		d.setMeta(id, m)
		if len(notes) == 0 {
			notes = append(notes, Notification{Kind: Changed, ID: id})
		}
	}
	for _, c := range inst.Children {
		notes = d.rederive(c, notes)
	}
	d.unlockAndPublish(notes)
	return true
}

func (d *Dom) rebase(id Ref, oldDir, newDir string) {
	for _, c := range d.mustGet(id).Children {
		d.filePaths[c] = fsops.Rebase(d.filePaths[c], oldDir, newDir)
		d.rebase(c, oldDir, newDir)
	}
}

// DeleteInstance removes the on-disk artifacts of id, then its subtree.
// The root cannot be deleted.
func (d *Dom) DeleteInstance(id Ref) bool {
	log := slog.With("id", id)
	if d.mutator == nil {
		log.Warn("delete instance: no filesystem attached")
		return false
	}
	if id == d.root {
		log.Warn("delete instance: refusing to delete root")
		return false
	}
	m, ok := d.snapshotMeta(id)
	if !ok {
		log.Warn("delete instance: not found")
		return false
	}

	if err := d.mutator.Delete(m); err != nil {
		log.Error("delete instance", "err", err)
		return false
	}

	d.mu.Lock()
	inst, ok := d.live(id)
	if !ok {
		d.mu.Unlock()
		return true
	}
	parent := inst.Parent
	d.removeSubtree(id)
	d.unlockAndPublish([]Notification{removed(parent, id)})
	return true
}

// MoveInstance is not supported. It always reports failure.
func (d *Dom) MoveInstance(id, parent Ref) bool {
	slog.Warn("move instance is not supported", "id", id, "parent", parent)
	return false
}
