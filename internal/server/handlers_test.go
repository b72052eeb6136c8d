package server

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"

	"github.com/go-git/go-billy/v5/memfs"
	"github.com/go-git/go-billy/v5/util"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentic-research/treesync/api"
	"github.com/agentic-research/treesync/internal/dom"
	"github.com/agentic-research/treesync/internal/fsops"
	"github.com/agentic-research/treesync/internal/meta"
	"github.com/agentic-research/treesync/internal/rpc"
)

type fixture struct {
	dom *dom.Dom
	mux *rpc.Mux
	id  int64
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	fs := memfs.New()
	require.NoError(t, fs.MkdirAll("/p/src", 0o755))
	require.NoError(t, util.WriteFile(fs, "/p/src/Main.server.luau", []byte("print(1)"), 0o644))
	require.NoError(t, util.WriteFile(fs, "/p/default.project.json", []byte("{}"), 0o644))

	d := dom.New(meta.NewDeriver(fs), fsops.New(fs))
	d.ApplyNewRoot(&api.InstanceNode{
		ClassName: "DataModel", Name: "game",
		FilePaths: []string{"/p/default.project.json"},
		Children: []*api.InstanceNode{{
			ClassName: "Folder", Name: "src", FilePaths: []string{"/p/src"},
			Children: []*api.InstanceNode{
				{ClassName: "Script", Name: "Main", FilePaths: []string{"/p/src/Main.server.luau"}},
			},
		}},
	})

	mux := rpc.NewMux()
	NewHandlers(d).Register(mux)
	return &fixture{dom: d, mux: mux}
}

// call dispatches method and decodes the response value into out.
func (f *fixture) call(t *testing.T, method string, value any, out any) rpc.Data {
	t.Helper()
	f.id++
	req, err := rpc.NewRequest(f.id, method, value)
	require.NoError(t, err)
	resp := f.mux.Dispatch(context.Background(), req)
	require.Equal(t, rpc.KindResponse, resp.Kind)
	assert.Equal(t, f.id, resp.Data.ID)
	assert.Equal(t, method, resp.Data.Method)
	if out != nil && resp.Data.Error == "" && len(resp.Data.Value) > 0 {
		require.NoError(t, json.Unmarshal(resp.Data.Value, out))
	}
	return resp.Data
}

func (f *fixture) root(t *testing.T) Instance {
	t.Helper()
	var root *Instance
	f.call(t, api.MethodDomRoot, nil, &root)
	require.NotNil(t, root)
	return *root
}

func (f *fixture) child(t *testing.T, parent dom.Ref, name string) Instance {
	t.Helper()
	var kids []Instance
	f.call(t, api.MethodDomChildren, map[string]any{"id": parent}, &kids)
	for _, k := range kids {
		if k.Name == name {
			return k
		}
	}
	t.Fatalf("no child %q", name)
	return Instance{}
}

func TestHandlers_Reads(t *testing.T) {
	f := newFixture(t)
	root := f.root(t)
	assert.Equal(t, "DataModel", root.ClassName)
	assert.True(t, root.ParentID.IsNone())
	require.Len(t, root.Children, 1)
	require.NotNil(t, root.Metadata)
	assert.Equal(t, "/p/default.project.json", root.Metadata.Paths.Rojo)

	src := f.child(t, root.ID, "src")
	assert.Equal(t, root.ID, src.ParentID)
	main := f.child(t, src.ID, "Main")
	assert.Empty(t, main.Children)

	var got *Instance
	f.call(t, api.MethodDomGet, map[string]any{"id": main.ID}, &got)
	require.NotNil(t, got)
	assert.Equal(t, "Main", got.Name)
	assert.True(t, got.Metadata.CanOpen())

	var ancestors []Instance
	f.call(t, api.MethodDomAncestors, map[string]any{"id": main.ID}, &ancestors)
	require.Len(t, ancestors, 2)
	assert.Equal(t, []string{"game", "src"}, []string{ancestors[0].Name, ancestors[1].Name})

	got = nil
	f.call(t, api.MethodDomFindByPath, map[string]any{"path": "/p/src/../src/Main.server.luau"}, &got)
	require.NotNil(t, got)
	assert.Equal(t, main.ID, got.ID)

	var matches []Instance
	f.call(t, api.MethodDomFindByQuery, map[string]any{"query": "main"}, &matches)
	require.Len(t, matches, 1)
	assert.Equal(t, main.ID, matches[0].ID)

	matches = nil
	f.call(t, api.MethodDomFindByQuery, map[string]any{"query": "src", "skipNonFiles": false}, &matches)
	require.Len(t, matches, 1)
	assert.Equal(t, src.ID, matches[0].ID)
}

func TestHandlers_Missing(t *testing.T) {
	f := newFixture(t)
	missing := map[string]any{"id": dom.Ref(0xffff)}

	data := f.call(t, api.MethodDomGet, missing, nil)
	assert.Empty(t, data.Error)
	assert.JSONEq(t, "null", string(data.Value))

	var kids []Instance
	data = f.call(t, api.MethodDomChildren, missing, &kids)
	assert.JSONEq(t, "[]", string(data.Value))

	data = f.call(t, api.MethodDomFindByPath, map[string]any{"path": "/nope"}, nil)
	assert.JSONEq(t, "null", string(data.Value))
}

func TestHandlers_Errors(t *testing.T) {
	f := newFixture(t)

	data := f.call(t, "dom/unknown", nil, nil)
	assert.Contains(t, data.Error, rpc.ErrUnknownMethod.Error())

	data = f.call(t, api.MethodDomGet, nil, nil)
	assert.NotEmpty(t, data.Error, "missing payload")

	data = f.call(t, api.MethodDomGet, map[string]any{"id": "not-hex"}, nil)
	assert.NotEmpty(t, data.Error)

	data = f.call(t, "DOM/ROOT", nil, nil)
	assert.Empty(t, data.Error, "methods are case-insensitive")
}

func TestHandlers_Mutations(t *testing.T) {
	f := newFixture(t)
	var notes []dom.Notification
	f.dom.Subscribe(func(n []dom.Notification) { notes = append(notes, n...) })

	root := f.root(t)
	src := f.child(t, root.ID, "src")

	var created *dom.Ref
	f.call(t, api.MethodInstanceInsert, map[string]any{"parentId": src.ID, "className": "ModuleScript", "name": "Util"}, &created)
	require.NotNil(t, created)
	require.Len(t, notes, 1)
	assert.Equal(t, dom.Added, notes[0].Kind)

	var ok bool
	f.call(t, api.MethodInstanceRename, map[string]any{"id": *created, "name": "Shared"}, &ok)
	assert.True(t, ok)
	assert.Equal(t, "Shared", f.child(t, src.ID, "Shared").Name)

	f.call(t, api.MethodInstanceMove, map[string]any{"id": *created, "parentId": root.ID}, &ok)
	assert.False(t, ok)

	f.call(t, api.MethodInstanceDelete, map[string]any{"id": *created}, &ok)
	assert.True(t, ok)

	f.call(t, api.MethodInstanceDelete, map[string]any{"id": root.ID}, &ok)
	assert.False(t, ok, "root cannot be deleted")

	data := f.call(t, api.MethodInstanceInsert, map[string]any{"parentId": dom.Ref(0xffff), "className": "Script", "name": "X"}, nil)
	assert.JSONEq(t, "null", string(data.Value))
}

func TestInstance_JSON(t *testing.T) {
	out, err := json.Marshal(Instance{ID: 2, ClassName: "Folder", Name: "a", Children: []dom.Ref{3, 10}})
	require.NoError(t, err)
	assert.JSONEq(t, `{"id":"2","className":"Folder","name":"a","children":["3","a"]}`, string(out))

	out, err = json.Marshal(Instance{ID: 3, ParentID: 2, ClassName: "Folder", Name: "b", Children: []dom.Ref{}})
	require.NoError(t, err)
	assert.JSONEq(t, fmt.Sprintf(`{"id":"3","parentId":"%s","className":"Folder","name":"b","children":[]}`, dom.Ref(2)), string(out))
}
