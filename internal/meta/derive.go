package meta

import (
	"path/filepath"
	"strings"

	"github.com/agentic-research/treesync/internal/classify"
	"github.com/go-git/go-billy/v5"
)

const (
	classDataModel = "DataModel"
	classFolder    = "Folder"
	packageIndex   = "_Index"
)

// Input is everything Derive needs to know about one instance.
type Input struct {
	Parent      *Metadata
	ClassName   string
	Name        string
	IsRoot      bool
	IsDataModel bool // the tree root is a DataModel
	FilePaths   []string
}

// Deriver computes metadata, consulting fs for directory existence.
type Deriver struct {
	fs billy.Filesystem
}

func NewDeriver(fs billy.Filesystem) *Deriver {
	return &Deriver{fs: fs}
}

// Derive never fails. Missing filesystem entries only leave slots empty.
// The result is nil when paths, actions and package are all empty.
func (d *Deriver) Derive(in Input) *Metadata {
	paths := classifyPaths(in.FilePaths)

	if paths.Folder == "" {
		if dir := d.adoptedFolder(paths); dir != "" {
			paths.Folder = dir
		}
	}
	if paths.Folder == "" && in.ClassName == classFolder && in.Name != "" {
		if pf := in.Parent.Folder(); pf != "" {
			if dir := filepath.Join(pf, in.Name); d.isDir(dir) {
				paths.Folder = dir
			}
		}
	}

	actions := deriveActions(paths, in)
	pkg := derivePackage(in.Parent, paths)

	if paths.IsEmpty() && actions.IsEmpty() && pkg == nil {
		return nil
	}
	m := &Metadata{Package: pkg}
	if !paths.IsEmpty() {
		m.Paths = &paths
	}
	if !actions.IsEmpty() {
		m.Actions = &actions
	}
	return m
}

func classifyPaths(filePaths []string) Paths {
	var p Paths
	for _, fp := range filePaths {
		if fp == "" {
			continue
		}
		fp = filepath.Clean(fp)
		switch classify.Classify(fp) {
		case classify.File:
			p.File = fp
		case classify.Meta:
			p.FileMeta = fp
		case classify.Rojo:
			p.Rojo = fp
		case classify.Wally:
			p.Wally = fp
		case classify.WallyLock:
			p.WallyLock = fp
		default:
			p.Folder = fp
		}
	}
	return p
}

// adoptedFolder returns the directory that a defining file lives in. Only
// files that stand for their whole directory qualify: init files, init
// meta files and manifests. A plain sibling file never claims the folder
// of its parent instance.
func (d *Deriver) adoptedFolder(p Paths) string {
	for _, candidate := range []string{p.File, p.FileMeta, p.Rojo, p.Wally} {
		if candidate == "" || !definesDirectory(candidate) {
			continue
		}
		if dir := filepath.Dir(candidate); d.isDir(dir) {
			return dir
		}
	}
	return ""
}

func definesDirectory(path string) bool {
	switch classify.Classify(path) {
	case classify.File:
		return classify.IsInit(path)
	case classify.Meta:
		return filepath.Base(path) == classify.InitName+classify.MetaSuffix
	case classify.Rojo, classify.Wally:
		return true
	}
	return false
}

func (d *Deriver) isDir(path string) bool {
	if d.fs == nil {
		return false
	}
	fi, err := d.fs.Stat(path)
	return err == nil && fi.IsDir()
}

func deriveActions(p Paths, in Input) Actions {
	hasFolder := p.Folder != ""
	hasFile := p.File != ""
	rootOfGame := in.IsRoot && in.IsDataModel
	parentIsProject := in.Parent != nil && in.Parent.Paths != nil && in.Parent.Paths.Rojo != ""

	var a Actions
	if hasFile {
		_, class, _ := classify.NameAndClass(p.File)
		a.CanOpen = classify.IsOpenable(class)
	}
	a.CanInsertService = rootOfGame && (hasFolder || p.Rojo != "")
	a.CanInsertObject = (hasFolder || hasFile) && !rootOfGame
	a.CanMove = !in.IsRoot && (hasFolder || hasFile) && !(in.IsDataModel && parentIsProject)
	a.CanPasteSibling = !in.IsRoot && in.Parent.Folder() != ""
	a.CanPasteInto = hasFolder && a.CanInsertObject
	return a
}

func derivePackage(parent *Metadata, p Paths) *Package {
	if parent != nil && parent.Package != nil {
		pkg := *parent.Package
		pkg.IsRoot = false
		return &pkg
	}
	if p.File == "" {
		return nil
	}
	parts := strings.Split(filepath.ToSlash(p.File), "/")
	for i, part := range parts {
		if part != packageIndex || i+2 >= len(parts) {
			continue
		}
		scope, name, version, ok := ParsePackageFolder(parts[i+1])
		if !ok {
			return nil
		}
		return &Package{Scope: scope, Name: name, Version: version, IsRoot: parts[i+2] == name}
	}
	return nil
}

// ParsePackageFolder splits an index folder name of the form
// `<scope>_<name>@<version>`.
func ParsePackageFolder(folder string) (scope, name, version string, ok bool) {
	scope, rest, ok := strings.Cut(folder, "_")
	if !ok || scope == "" {
		return "", "", "", false
	}
	name, version, ok = strings.Cut(rest, "@")
	if !ok || name == "" || version == "" {
		return "", "", "", false
	}
	return scope, name, version, true
}
