// Package classify maps filesystem paths to the roles they play in a Rojo
// project and guesses the class of file-backed instances from their suffix.
package classify

import (
	"encoding/json"
	"path/filepath"
	"strings"
)

// Kind is the semantic role of a path.
type Kind int

const (
	Folder Kind = iota
	File
	Meta
	Rojo
	Wally
	WallyLock
)

func (k Kind) String() string {
	switch k {
	case File:
		return "file"
	case Meta:
		return "meta"
	case Rojo:
		return "rojo"
	case Wally:
		return "wally"
	case WallyLock:
		return "wallyLock"
	default:
		return "folder"
	}
}

const (
	WallyManifest = "wally.toml"
	WallyLockfile = "wally.lock"

	ProjectSuffix = ".project.json"
	MetaSuffix    = ".meta.json"
	ModelSuffix   = ".model.json"

	InitName = "init"

	// ClassInstance marks file types whose real class lives in the file body.
	ClassInstance = "Instance"
)

type suffixClass struct {
	suffix string
	class  string
}

// Ordered table of file suffixes. Longer suffixes of the same family come first.
var suffixes = []suffixClass{
	{".server.luau", "Script"},
	{".server.lua", "Script"},
	{".client.luau", "LocalScript"},
	{".client.lua", "LocalScript"},
	{".luau", "ModuleScript"},
	{".lua", "ModuleScript"},
	{".rbxmx", ClassInstance},
	{".rbxm", ClassInstance},
	{".txt", "StringValue"},
	{".csv", "LocalizationTable"},
	{ModelSuffix, ClassInstance},
	{ProjectSuffix, ClassInstance},
	{MetaSuffix, ClassInstance},
	{".json", ClassInstance},
}

// Classify returns the role of path, judged by its base name only.
func Classify(path string) Kind {
	name := filepath.Base(path)
	switch {
	case name == WallyManifest:
		return Wally
	case name == WallyLockfile:
		return WallyLock
	case strings.HasSuffix(name, ProjectSuffix):
		return Rojo
	case strings.HasSuffix(name, MetaSuffix):
		return Meta
	}
	if _, ok := match(name); ok {
		return File
	}
	return Folder
}

// match returns the most specific table entry for name. Ties go to the
// entry listed first.
func match(name string) (suffixClass, bool) {
	var best suffixClass
	found := false
	for _, sc := range suffixes {
		if len(name) <= len(sc.suffix) || !strings.HasSuffix(name, sc.suffix) {
			continue
		}
		if !found || len(sc.suffix) > len(best.suffix) {
			best = sc
			found = true
		}
	}
	return best, found
}

// NameAndClass splits a file path into the instance name and the class
// implied by its suffix.
func NameAndClass(path string) (name, class string, ok bool) {
	base := filepath.Base(path)
	sc, ok := match(base)
	if !ok {
		return "", "", false
	}
	return strings.TrimSuffix(base, sc.suffix), sc.class, true
}

// Suffix returns the matched suffix of path, or "" when it has none.
func Suffix(path string) string {
	sc, ok := match(filepath.Base(path))
	if !ok {
		return ""
	}
	return sc.suffix
}

// IsInit reports whether path is an init file, the file that defines the
// directory it lives in.
func IsInit(path string) bool {
	name, _, ok := NameAndClass(path)
	return ok && name == InitName && Classify(path) == File
}

// SuffixForClass picks the file suffix used to create a new instance of
// class. Classes without a dedicated entry become model files.
func SuffixForClass(class string) string {
	if class != ClassInstance {
		for _, sc := range suffixes {
			if sc.class == class {
				return sc.suffix
			}
		}
	}
	return ModelSuffix
}

// InitialContents returns the body written to a newly created file with the
// given suffix.
func InitialContents(suffix, class string) []byte {
	if suffix != ModelSuffix {
		return nil
	}
	body, _ := json.MarshalIndent(map[string]any{
		"ClassName":  class,
		"Properties": map[string]any{},
	}, "", "  ")
	return append(body, '\n')
}

// IsOpenable reports whether an instance of class backed by a file can be
// opened in an editor.
func IsOpenable(class string) bool {
	switch class {
	case "Script", "LocalScript", "ModuleScript", "LocalizationTable":
		return true
	}
	return false
}
