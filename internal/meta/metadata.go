// Package meta derives the sparse per-instance metadata served to clients:
// the on-disk paths backing an instance, what a client may do with it, and
// which dependency package it came from.
package meta

import "github.com/google/go-cmp/cmp"

// Paths holds at most one absolute, cleaned path per slot.
type Paths struct {
	Folder    string `json:"folder,omitempty"`
	File      string `json:"file,omitempty"`
	FileMeta  string `json:"fileMeta,omitempty"`
	Rojo      string `json:"rojo,omitempty"`
	Wally     string `json:"wally,omitempty"`
	WallyLock string `json:"wallyLock,omitempty"`
}

func (p Paths) IsEmpty() bool {
	return p == Paths{}
}

// All returns the populated slots in a fixed order.
func (p Paths) All() []string {
	var out []string
	for _, s := range []string{p.Folder, p.File, p.FileMeta, p.Rojo, p.Wally, p.WallyLock} {
		if s != "" {
			out = append(out, s)
		}
	}
	return out
}

// Contains reports whether any slot holds path.
func (p Paths) Contains(path string) bool {
	if path == "" {
		return false
	}
	for _, s := range p.All() {
		if s == path {
			return true
		}
	}
	return false
}

type Actions struct {
	CanOpen          bool `json:"canOpen,omitempty"`
	CanMove          bool `json:"canMove,omitempty"`
	CanPasteSibling  bool `json:"canPasteSibling,omitempty"`
	CanPasteInto     bool `json:"canPasteInto,omitempty"`
	CanInsertService bool `json:"canInsertService,omitempty"`
	CanInsertObject  bool `json:"canInsertObject,omitempty"`
}

func (a Actions) IsEmpty() bool {
	return a == Actions{}
}

// Package is the provenance of an instance that lives inside an installed
// Wally package (a `_Index/<scope>_<name>@<version>/<inner>` directory).
type Package struct {
	Scope   string `json:"scope"`
	Name    string `json:"name"`
	Version string `json:"version"`
	IsRoot  bool   `json:"isRoot"`
}

// Metadata is absent (nil) whenever every part would be empty.
type Metadata struct {
	Paths   *Paths   `json:"paths,omitempty"`
	Actions *Actions `json:"actions,omitempty"`
	Package *Package `json:"package,omitempty"`
}

// AllPaths returns the populated path slots of m, nil-safe.
func (m *Metadata) AllPaths() []string {
	if m == nil || m.Paths == nil {
		return nil
	}
	return m.Paths.All()
}

// Folder returns the folder slot of m, nil-safe.
func (m *Metadata) Folder() string {
	if m == nil || m.Paths == nil {
		return ""
	}
	return m.Paths.Folder
}

// File returns the primary file slot of m, nil-safe.
func (m *Metadata) File() string {
	if m == nil || m.Paths == nil {
		return ""
	}
	return m.Paths.File
}

// CanOpen reports the can_open action of m, nil-safe.
func (m *Metadata) CanOpen() bool {
	return m != nil && m.Actions != nil && m.Actions.CanOpen
}

// Equal compares two metadata values, treating nil as empty.
func Equal(a, b *Metadata) bool {
	return cmp.Equal(a, b)
}
