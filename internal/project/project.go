// Package project reads Rojo project manifests and builds the approximate
// instance tree they describe.
package project

import (
	"errors"
	"fmt"
	"path/filepath"
	"slices"
	"strings"

	"github.com/google/go-cmp/cmp"
	"github.com/ohler55/ojg/jp"
	"github.com/ohler55/ojg/oj"
)

var ErrInvalid = errors.New("invalid project manifest")

var (
	keyName         = jp.C("name")
	keyTree         = jp.C("tree")
	keyServePort    = jp.C("servePort")
	keyServeAddress = jp.C("serveAddress")
)

// Node is one entry of a project tree.
type Node struct {
	ClassName string
	// Path is the absolute, cleaned $path of the node, or "".
	Path     string
	Optional bool
	Children []NamedNode // sorted by name
}

type NamedNode struct {
	Name string
	Node *Node
}

// File is a parsed manifest. Two manifests are equal when every field is.
type File struct {
	// Path is the absolute path of the manifest itself.
	Path         string
	Name         string
	Tree         *Node
	ServeAddress string
	ServePort    int
}

// Dir returns the directory $path values are relative to.
func (f *File) Dir() string {
	return filepath.Dir(f.Path)
}

// Equal compares manifests by value. Nil only equals nil.
func Equal(a, b *File) bool {
	return cmp.Equal(a, b)
}

// Parse decodes a manifest read from path.
func Parse(data []byte, path string) (*File, error) {
	doc, err := oj.Parse(data)
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	if _, ok := doc.(map[string]any); !ok {
		return nil, fmt.Errorf("%w: %s: top level is not an object", ErrInvalid, path)
	}

	f := &File{Path: filepath.Clean(path)}
	name, ok := keyName.First(doc).(string)
	if !ok || name == "" {
		return nil, fmt.Errorf("%w: %s: missing name", ErrInvalid, path)
	}
	f.Name = name

	tree, ok := keyTree.First(doc).(map[string]any)
	if !ok {
		return nil, fmt.Errorf("%w: %s: missing tree", ErrInvalid, path)
	}
	f.Tree, err = parseNode(tree, f.Dir())
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrInvalid, path, err)
	}

	if addr, ok := keyServeAddress.First(doc).(string); ok {
		f.ServeAddress = addr
	}
	switch port := keyServePort.First(doc).(type) {
	case int64:
		f.ServePort = int(port)
	case float64:
		f.ServePort = int(port)
	}
	return f, nil
}

func parseNode(obj map[string]any, dir string) (*Node, error) {
	n := &Node{}
	if class, ok := obj["$className"].(string); ok {
		n.ClassName = class
	}

	switch p := obj["$path"].(type) {
	case nil:
	case string:
		n.Path = resolve(dir, p)
	case map[string]any:
		opt, ok := p["optional"].(string)
		if !ok {
			return nil, fmt.Errorf("$path object without optional")
		}
		n.Path = resolve(dir, opt)
		n.Optional = true
	default:
		return nil, fmt.Errorf("$path has type %T", p)
	}

	for key, v := range obj {
		if strings.HasPrefix(key, "$") {
			continue
		}
		child, ok := v.(map[string]any)
		if !ok {
			continue
		}
		cn, err := parseNode(child, dir)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", key, err)
		}
		n.Children = append(n.Children, NamedNode{Name: key, Node: cn})
	}
	slices.SortFunc(n.Children, func(a, b NamedNode) int { return strings.Compare(a.Name, b.Name) })
	return n, nil
}

func resolve(dir, p string) string {
	if !filepath.IsAbs(p) {
		p = filepath.Join(dir, p)
	}
	return filepath.Clean(p)
}
