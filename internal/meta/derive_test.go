package meta

import (
	"encoding/json"
	"testing"

	"github.com/go-git/go-billy/v5/memfs"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestDeriver(t *testing.T, dirs ...string) *Deriver {
	t.Helper()
	fs := memfs.New()
	for _, d := range dirs {
		require.NoError(t, fs.MkdirAll(d, 0o755))
	}
	return NewDeriver(fs)
}

func TestDerive_EmptyIsNil(t *testing.T) {
	d := newTestDeriver(t)
	assert.Nil(t, d.Derive(Input{ClassName: "Part", Name: "Part"}))
	assert.Nil(t, d.Derive(Input{ClassName: "Folder", Name: "A", FilePaths: []string{""}}))
}

func TestDerive_ClassifiesPaths(t *testing.T) {
	d := newTestDeriver(t)
	m := d.Derive(Input{
		ClassName: "ModuleScript",
		Name:      "Util",
		Parent:    &Metadata{Paths: &Paths{Folder: "/p/src"}},
		FilePaths: []string{"/p/src/Util.luau", "/p/src/Util.meta.json"},
	})
	require.NotNil(t, m)
	require.NotNil(t, m.Paths)
	assert.Equal(t, "/p/src/Util.luau", m.Paths.File)
	assert.Equal(t, "/p/src/Util.meta.json", m.Paths.FileMeta)
	assert.Empty(t, m.Paths.Folder, "sibling file does not claim the parent directory")

	require.NotNil(t, m.Actions)
	assert.True(t, m.Actions.CanOpen)
	assert.True(t, m.Actions.CanMove)
	assert.True(t, m.Actions.CanInsertObject)
	assert.True(t, m.Actions.CanPasteSibling)
	assert.False(t, m.Actions.CanPasteInto)
	assert.False(t, m.Actions.CanInsertService)
}

func TestDerive_LastPathWins(t *testing.T) {
	d := newTestDeriver(t)
	m := d.Derive(Input{ClassName: "ModuleScript", Name: "A", FilePaths: []string{"/p/a.luau", "/p/b.luau"}})
	require.NotNil(t, m)
	assert.Equal(t, "/p/b.luau", m.Paths.File)
}

func TestDerive_InitFileAdoptsFolder(t *testing.T) {
	t.Run("exists", func(t *testing.T) {
		d := newTestDeriver(t, "/p/src/Lib")
		m := d.Derive(Input{ClassName: "ModuleScript", Name: "Lib", FilePaths: []string{"/p/src/Lib/init.luau"}})
		require.NotNil(t, m)
		assert.Equal(t, "/p/src/Lib", m.Paths.Folder)
		assert.True(t, m.Actions.CanPasteInto)
	})
	t.Run("missing on disk", func(t *testing.T) {
		d := newTestDeriver(t)
		m := d.Derive(Input{ClassName: "ModuleScript", Name: "Lib", FilePaths: []string{"/p/src/Lib/init.luau"}})
		require.NotNil(t, m)
		assert.Empty(t, m.Paths.Folder)
	})
}

func TestDerive_PlainFileKeepsOutOfExistingFolder(t *testing.T) {
	d := newTestDeriver(t, "/p/src")
	m := d.Derive(Input{
		ClassName: "Script",
		Name:      "Foo",
		Parent:    &Metadata{Paths: &Paths{Folder: "/p/src"}},
		FilePaths: []string{"/p/src/Foo.server.luau", "/p/src/Foo.meta.json"},
	})
	require.NotNil(t, m)
	assert.Equal(t, "/p/src/Foo.server.luau", m.Paths.File)
	assert.Empty(t, m.Paths.Folder, "src belongs to the parent")
	assert.False(t, m.Actions.CanPasteInto)
}

func TestDerive_FolderFromParent(t *testing.T) {
	d := newTestDeriver(t, "/p/src/Things")
	parent := &Metadata{Paths: &Paths{Folder: "/p/src"}}

	m := d.Derive(Input{Parent: parent, ClassName: "Folder", Name: "Things"})
	require.NotNil(t, m)
	assert.Equal(t, "/p/src/Things", m.Paths.Folder)

	missing := d.Derive(Input{Parent: parent, ClassName: "Folder", Name: "Nope"})
	require.NotNil(t, missing, "paste sibling is still possible")
	assert.Nil(t, missing.Paths)
	assert.True(t, missing.Actions.CanPasteSibling)

	notFolder := d.Derive(Input{Parent: parent, ClassName: "Model", Name: "Things"})
	require.NotNil(t, notFolder)
	assert.Nil(t, notFolder.Paths)
}

func TestDerive_RootOfDataModel(t *testing.T) {
	d := newTestDeriver(t, "/p")
	m := d.Derive(Input{
		ClassName: "DataModel", Name: "game", IsRoot: true, IsDataModel: true,
		FilePaths: []string{"/p/default.project.json"},
	})
	require.NotNil(t, m)
	assert.Equal(t, "/p/default.project.json", m.Paths.Rojo)
	assert.Equal(t, "/p", m.Paths.Folder)
	assert.True(t, m.Actions.CanInsertService)
	assert.False(t, m.Actions.CanInsertObject)
	assert.False(t, m.Actions.CanMove)

	service := d.Derive(Input{
		Parent: m, ClassName: "ReplicatedStorage", Name: "ReplicatedStorage", IsDataModel: true,
		FilePaths: []string{"/p/src/shared"},
	})
	require.NotNil(t, service)
	assert.False(t, service.Actions.CanMove, "services directly under the project root stay put")
	assert.True(t, service.Actions.CanInsertObject)
	assert.True(t, service.Actions.CanPasteInto)
}

func TestDerive_Package(t *testing.T) {
	d := newTestDeriver(t)
	root := d.Derive(Input{
		ClassName: "ModuleScript", Name: "knit",
		FilePaths: []string{"/p/Packages/_Index/sleitnick_knit@1.4.7/knit/init.lua"},
	})
	require.NotNil(t, root)
	require.NotNil(t, root.Package)
	assert.Equal(t, Package{Scope: "sleitnick", Name: "knit", Version: "1.4.7", IsRoot: true}, *root.Package)

	child := d.Derive(Input{
		Parent: root, ClassName: "ModuleScript", Name: "Util",
		FilePaths: []string{"/p/Packages/_Index/sleitnick_knit@1.4.7/knit/Util.lua"},
	})
	require.NotNil(t, child.Package)
	assert.False(t, child.Package.IsRoot)
	assert.Equal(t, "knit", child.Package.Name)

	other := d.Derive(Input{
		ClassName: "ModuleScript", Name: "x",
		FilePaths: []string{"/p/Packages/_Index/sleitnick_knit@1.4.7/other/x.lua"},
	})
	require.NotNil(t, other.Package)
	assert.False(t, other.Package.IsRoot)

	bad := d.Derive(Input{ClassName: "ModuleScript", Name: "x", FilePaths: []string{"/p/_Index/weird/x.lua"}})
	require.NotNil(t, bad)
	assert.Nil(t, bad.Package)
}

func TestParsePackageFolder(t *testing.T) {
	scope, name, version, ok := ParsePackageFolder("evaera_promise@4.0.0")
	require.True(t, ok)
	assert.Equal(t, "evaera", scope)
	assert.Equal(t, "promise", name)
	assert.Equal(t, "4.0.0", version)

	for _, bad := range []string{"", "promise", "_promise@1", "evaera_promise", "evaera_@1", "evaera_promise@"} {
		_, _, _, ok := ParsePackageFolder(bad)
		assert.False(t, ok, bad)
	}
}

func TestMetadata_SparseJSON(t *testing.T) {
	m := &Metadata{
		Paths:   &Paths{File: "/p/a.luau"},
		Actions: &Actions{CanOpen: true},
	}
	data, err := json.Marshal(m)
	require.NoError(t, err)
	assert.JSONEq(t, `{"paths":{"file":"/p/a.luau"},"actions":{"canOpen":true}}`, string(data))
}

func TestEqual(t *testing.T) {
	a := &Metadata{Paths: &Paths{File: "/a"}}
	b := &Metadata{Paths: &Paths{File: "/a"}}
	assert.True(t, Equal(a, b))
	assert.True(t, Equal(nil, nil))
	assert.False(t, Equal(a, nil))
	b.Paths.File = "/b"
	assert.False(t, Equal(a, b))
}
