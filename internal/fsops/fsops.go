// Package fsops performs the on-disk side of instance mutations: creating,
// renaming and deleting the files and directories that back instances.
package fsops

import (
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"

	"github.com/agentic-research/treesync/internal/classify"
	"github.com/agentic-research/treesync/internal/meta"
	"github.com/go-git/go-billy/v5"
	"github.com/go-git/go-billy/v5/util"
)

var (
	ErrNoPath      = errors.New("instance has no backing path")
	ErrExists      = errors.New("path already exists")
	ErrUnsupported = errors.New("operation not supported for this instance")
	ErrInvalidName = errors.New("invalid instance name")
)

const classFolder = "Folder"

// Created reports the paths touched by a create.
type Created struct {
	// Child holds the paths backing the new instance.
	Child []string
	// Parent holds the new paths of the parent when its file had to be
	// turned into a directory first. Nil otherwise.
	Parent []string
}

// Renamed reports the paths backing an instance after a rename. A failed
// rename that could not be undone still reports the paths now on disk.
type Renamed struct {
	Paths []string
	// OldDir and NewDir are set when a directory moved, so paths below it
	// can be rebased.
	OldDir string
	NewDir string
}

type Ops struct {
	fs billy.Filesystem
}

func New(fs billy.Filesystem) *Ops {
	return &Ops{fs: fs}
}

func validName(name string) error {
	if name == "" || name == "." || name == ".." || strings.ContainsAny(name, `/\`) {
		return fmt.Errorf("%w: %q", ErrInvalidName, name)
	}
	return nil
}

// Create makes the on-disk artifact for a new child of parent. A parent
// backed by a plain file is first converted into a directory holding the
// original contents as its init file.
//
// The child path is checked before the parent is converted. If an error
// occurs after the conversion, the returned Created still carries the
// parent's new paths.
func (o *Ops) Create(parent *meta.Metadata, className, name string) (Created, error) {
	if err := validName(name); err != nil {
		return Created{}, err
	}

	dir := parent.Folder()
	var convert string
	if dir == "" {
		file := parent.File()
		switch {
		case file == "":
			return Created{}, ErrNoPath
		case classify.IsInit(file):
			dir = filepath.Dir(file)
		default:
			n, _, ok := classify.NameAndClass(file)
			if !ok {
				return Created{}, fmt.Errorf("%w: %s", ErrUnsupported, file)
			}
			dir = filepath.Join(filepath.Dir(file), n)
			convert = file
		}
	}

	path := childPath(dir, className, name)
	if className != classFolder && classify.IsInit(path) {
		return Created{}, fmt.Errorf("%w: %s would be read as the parent's init file", ErrInvalidName, path)
	}
	if convert == "" && exists(o.fs, path) {
		return Created{}, fmt.Errorf("%w: %s", ErrExists, path)
	}

	var out Created
	if convert != "" {
		var err error
		if _, out.Parent, err = o.fileToDir(convert, parent.Paths.FileMeta); err != nil {
			return out, err
		}
	}

	if className == classFolder {
		if err := o.fs.MkdirAll(path, 0o755); err != nil {
			return out, fmt.Errorf("create directory %s: %w", path, err)
		}
		out.Child = []string{path}
		return out, nil
	}
	suffix := classify.SuffixForClass(className)
	if err := writeAtomic(o.fs, path, classify.InitialContents(suffix, className)); err != nil {
		return out, fmt.Errorf("create file %s: %w", path, err)
	}
	out.Child = []string{path}
	return out, nil
}

func childPath(dir, className, name string) string {
	if className == classFolder {
		return filepath.Join(dir, name)
	}
	return filepath.Join(dir, name+classify.SuffixForClass(className))
}

// fileToDir replaces file with a directory of the same instance name whose
// init file carries the original contents. A sidecar meta file becomes the
// directory's init.meta.json.
//
// Failures before file is removed are undone and return no paths. Once file
// is gone the new paths are returned even alongside an error.
func (o *Ops) fileToDir(file, metaFile string) (string, []string, error) {
	name, _, ok := classify.NameAndClass(file)
	if !ok {
		return "", nil, fmt.Errorf("%w: %s", ErrUnsupported, file)
	}
	suffix := classify.Suffix(file)
	dir := filepath.Join(filepath.Dir(file), name)
	if exists(o.fs, dir) {
		return "", nil, fmt.Errorf("%w: %s", ErrExists, dir)
	}

	data, err := util.ReadFile(o.fs, file)
	if err != nil {
		return "", nil, fmt.Errorf("read %s: %w", file, err)
	}
	if err := o.fs.MkdirAll(dir, 0o755); err != nil {
		return "", nil, fmt.Errorf("create directory %s: %w", dir, err)
	}
	initFile := filepath.Join(dir, classify.InitName+suffix)
	if err := writeAtomic(o.fs, initFile, data); err != nil {
		o.undoDir(dir)
		return "", nil, err
	}
	if err := o.fs.Remove(file); err != nil {
		o.undoDir(dir)
		return "", nil, fmt.Errorf("remove %s: %w", file, err)
	}

	paths := []string{dir, initFile}
	if metaFile != "" && exists(o.fs, metaFile) {
		initMeta := filepath.Join(dir, classify.InitName+classify.MetaSuffix)
		if err := o.fs.Rename(metaFile, initMeta); err != nil {
			return dir, paths, fmt.Errorf("move %s: %w", metaFile, err)
		}
		paths = append(paths, initMeta)
	}
	return dir, paths, nil
}

func (o *Ops) undoDir(dir string) {
	if err := util.RemoveAll(o.fs, dir); err != nil {
		slog.Warn("remove partial directory", "path", dir, "err", err)
	}
}

// Rename renames the file or directory backing target. A file's meta
// sidecar is renamed with it. Project roots cannot be renamed.
func (o *Ops) Rename(target *meta.Metadata, name string) (Renamed, error) {
	if err := validName(name); err != nil {
		return Renamed{}, err
	}
	if target == nil || target.Paths == nil {
		return Renamed{}, ErrNoPath
	}
	p := *target.Paths
	if p.Rojo != "" {
		return Renamed{}, fmt.Errorf("%w: %s", ErrUnsupported, p.Rojo)
	}

	if p.Folder != "" {
		newDir := filepath.Join(filepath.Dir(p.Folder), name)
		if newDir == p.Folder {
			return Renamed{Paths: p.All()}, nil
		}
		if exists(o.fs, newDir) {
			return Renamed{}, fmt.Errorf("%w: %s", ErrExists, newDir)
		}
		if err := o.fs.Rename(p.Folder, newDir); err != nil {
			return Renamed{}, fmt.Errorf("rename %s: %w", p.Folder, err)
		}
		return Renamed{
			Paths:  Rebase(p.All(), p.Folder, newDir),
			OldDir: p.Folder,
			NewDir: newDir,
		}, nil
	}

	if p.File == "" {
		return Renamed{}, ErrNoPath
	}
	newFile := filepath.Join(filepath.Dir(p.File), name+classify.Suffix(p.File))
	if newFile == p.File {
		return Renamed{Paths: p.All()}, nil
	}
	if exists(o.fs, newFile) {
		return Renamed{}, fmt.Errorf("%w: %s", ErrExists, newFile)
	}
	if err := o.fs.Rename(p.File, newFile); err != nil {
		return Renamed{}, fmt.Errorf("rename %s: %w", p.File, err)
	}
	out := Renamed{Paths: []string{newFile}}
	if p.FileMeta != "" && exists(o.fs, p.FileMeta) {
		newMeta := filepath.Join(filepath.Dir(p.FileMeta), name+classify.MetaSuffix)
		if err := o.fs.Rename(p.FileMeta, newMeta); err != nil {
			err = fmt.Errorf("rename %s: %w", p.FileMeta, err)
			if rerr := o.fs.Rename(newFile, p.File); rerr != nil {
				// The file keeps its new name, so report it.
				return out, errors.Join(err, fmt.Errorf("restore %s: %w", p.File, rerr))
			}
			return Renamed{}, err
		}
		out.Paths = append(out.Paths, newMeta)
	}
	return out, nil
}

// Delete removes the meta sidecar of target, then its directory tree or
// file.
func (o *Ops) Delete(target *meta.Metadata) error {
	if target == nil || target.Paths == nil {
		return ErrNoPath
	}
	p := *target.Paths
	if p.Rojo != "" {
		return fmt.Errorf("%w: %s", ErrUnsupported, p.Rojo)
	}
	if p.Folder == "" && p.File == "" {
		return ErrNoPath
	}
	if p.FileMeta != "" {
		if err := removeIfExists(o.fs, p.FileMeta); err != nil {
			return err
		}
	}
	if p.Folder != "" {
		if err := util.RemoveAll(o.fs, p.Folder); err != nil {
			return fmt.Errorf("remove %s: %w", p.Folder, err)
		}
		return nil
	}
	return removeIfExists(o.fs, p.File)
}

// Rebase rewrites every path at or below oldDir to sit below newDir.
func Rebase(paths []string, oldDir, newDir string) []string {
	out := make([]string, len(paths))
	prefix := oldDir + string(filepath.Separator)
	for i, p := range paths {
		switch {
		case p == oldDir:
			out[i] = newDir
		case strings.HasPrefix(p, prefix):
			out[i] = filepath.Join(newDir, strings.TrimPrefix(p, prefix))
		default:
			out[i] = p
		}
	}
	return out
}
