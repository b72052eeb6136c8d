package project

import (
	"path/filepath"
	"strings"

	"github.com/agentic-research/treesync/api"
	"github.com/agentic-research/treesync/internal/classify"
	"github.com/bmatcuk/doublestar/v4"
	"github.com/go-git/go-billy/v5"
)

// MaxStubDepth bounds both the project tree walk and the filesystem scan.
const MaxStubDepth = 6

const (
	classDataModel = "DataModel"
	classFolder    = "Folder"
)

// Stubber builds a rough instance tree from a manifest and a shallow scan
// of the directories it references. It is shown until the real sourcemap
// arrives, so it favours speed over fidelity.
type Stubber struct {
	fs     billy.Filesystem
	ignore []string
}

func NewStubber(fs billy.Filesystem, ignoreGlobs []string) *Stubber {
	return &Stubber{fs: fs, ignore: ignoreGlobs}
}

// Stub returns nil if the root class cannot be determined.
func (s *Stubber) Stub(f *File) *api.InstanceNode {
	root := s.projectNode(f.Name, f.Tree, 1, false)
	if root == nil {
		return nil
	}
	root.FilePaths = append([]string{f.Path}, root.FilePaths...)
	root.Sort()
	return root
}

func (s *Stubber) projectNode(name string, n *Node, depth int, parentIsDataModel bool) *api.InstanceNode {
	class := n.ClassName
	if class == "" && parentIsDataModel {
		// Children of a DataModel are services named after their class.
		class = name
	}
	if class == "" && n.Path != "" {
		class = s.classFromPath(n.Path)
	}
	if class == "" {
		return nil
	}

	out := &api.InstanceNode{ClassName: class, Name: name}
	if n.Path != "" {
		out.FilePaths = []string{n.Path}
	}
	if depth > MaxStubDepth {
		return out
	}

	for _, c := range n.Children {
		if cn := s.projectNode(c.Name, c.Node, depth+1, class == classDataModel); cn != nil {
			out.Children = append(out.Children, cn)
		}
	}
	if n.Path != "" && s.isDir(n.Path) {
		if init := s.initFile(n.Path); init != "" {
			out.FilePaths = append(out.FilePaths, init)
		}
		out.Children = append(out.Children, s.scan(n.Path, depth+1)...)
	}
	return out
}

// scan lists the instances found in dir. Init files describe dir itself
// and manifests or meta files are never instances.
func (s *Stubber) scan(dir string, depth int) []*api.InstanceNode {
	if depth > MaxStubDepth {
		return nil
	}
	entries, err := s.fs.ReadDir(dir)
	if err != nil {
		return nil
	}
	var out []*api.InstanceNode
	for _, e := range entries {
		path := filepath.Join(dir, e.Name())
		if s.ignored(path) {
			continue
		}
		if e.IsDir() {
			n := &api.InstanceNode{
				ClassName: s.classFromPath(path),
				Name:      e.Name(),
				FilePaths: []string{path},
				Children:  s.scan(path, depth+1),
			}
			if init := s.initFile(path); init != "" {
				n.FilePaths = append(n.FilePaths, init)
			}
			out = append(out, n)
			continue
		}
		if classify.Classify(path) != classify.File || classify.IsInit(path) {
			continue
		}
		name, class, _ := classify.NameAndClass(path)
		out = append(out, &api.InstanceNode{ClassName: class, Name: name, FilePaths: []string{path}})
	}
	return out
}

func (s *Stubber) ignored(path string) bool {
	slashed := filepath.ToSlash(path)
	rel := strings.TrimPrefix(slashed, "/")
	for _, g := range s.ignore {
		if ok, _ := doublestar.Match(g, slashed); ok {
			return true
		}
		if ok, _ := doublestar.Match(g, rel); ok {
			return true
		}
	}
	return false
}

func (s *Stubber) isDir(path string) bool {
	fi, err := s.fs.Stat(path)
	return err == nil && fi.IsDir()
}

// classFromPath guesses the class of a directory from its init file, or of
// a file from its suffix.
func (s *Stubber) classFromPath(path string) string {
	fi, err := s.fs.Stat(path)
	if err != nil {
		return ""
	}
	if !fi.IsDir() {
		_, class, _ := classify.NameAndClass(path)
		return class
	}
	if init := s.initFile(path); init != "" {
		_, class, _ := classify.NameAndClass(init)
		return class
	}
	return classFolder
}

func (s *Stubber) initFile(dir string) string {
	entries, err := s.fs.ReadDir(dir)
	if err != nil {
		return ""
	}
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		if p := filepath.Join(dir, e.Name()); classify.IsInit(p) {
			return p
		}
	}
	return ""
}
