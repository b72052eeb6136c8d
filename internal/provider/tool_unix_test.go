//go:build unix

package provider

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/agentic-research/treesync/api"
	"github.com/agentic-research/treesync/internal/project"
	"github.com/go-git/go-billy/v5/osfs"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeTool writes a shell script that answers --version with version and
// otherwise prints one sourcemap line and then blocks.
func fakeTool(t *testing.T, version string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "rojo")
	script := `#!/bin/sh
if [ "$1" = "--version" ]; then
	echo "Rojo ` + version + `"
	exit 0
fi
echo "warming up" >&2
echo '{"className":"DataModel","name":"game","children":[{"className":"Workspace","name":"Workspace"}]}'
exec sleep 60
`
	require.NoError(t, os.WriteFile(path, []byte(script), 0o755))
	return path
}

type syncRecorder struct {
	mu    sync.Mutex
	trees []*api.InstanceNode
}

func (r *syncRecorder) emit(n *api.InstanceNode) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.trees = append(r.trees, n)
}

func (r *syncRecorder) len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.trees)
}

func (r *syncRecorder) at(i int) *api.InstanceNode {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.trees[i]
}

func TestToolProvider_StubThenRealTree(t *testing.T) {
	projDir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(projDir, "src"), 0o755))

	r := &syncRecorder{}
	p := NewTool(ToolOptions{
		Command: fakeTool(t, "7.4.1"),
		Stubber: project.NewStubber(osfs.New("/"), nil),
	}, r.emit)

	require.NoError(t, p.Start(context.Background(), State{Project: testManifest(t, projDir)}))
	assert.Equal(t, "v7.4.1", p.Version())

	require.Eventually(t, func() bool { return r.len() >= 2 }, 5*time.Second, 10*time.Millisecond)

	stub := r.at(0)
	assert.Equal(t, []string{filepath.Join(projDir, "default.project.json")}, stub.FilePaths)

	tree := r.at(1)
	require.Len(t, tree.Children, 1)
	assert.Equal(t, []string{filepath.Join(projDir, "default.project.json")}, tree.FilePaths, "paths merged from the stub")
	assert.Equal(t, []string{filepath.Join(projDir, "src")}, tree.Children[0].FilePaths)

	require.NoError(t, p.Stop())
	assert.Empty(t, p.Version())
	n := r.len()
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, n, r.len(), "nothing is emitted after stop")
}

func TestToolProvider_VersionTooOld(t *testing.T) {
	p := NewTool(ToolOptions{Command: fakeTool(t, "7.2.9")}, func(*api.InstanceNode) {})
	err := p.Start(context.Background(), State{Project: testManifest(t, t.TempDir())})
	assert.ErrorIs(t, err, ErrVersionTooOld)
}

func TestToolProvider_VersionTimeout(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "rojo")
	require.NoError(t, os.WriteFile(path, []byte("#!/bin/sh\nexec sleep 10\n"), 0o755))

	p := NewTool(ToolOptions{Command: path, VersionTimeout: 100 * time.Millisecond}, func(*api.InstanceNode) {})
	err := p.Start(context.Background(), State{Project: testManifest(t, dir)})
	assert.ErrorIs(t, err, ErrVersionTimeout)
}

func TestToolProvider_VersionTimeoutKillsChildren(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "rojo")
	// sleep runs as a child of the shell and holds its stdout.
	require.NoError(t, os.WriteFile(path, []byte("#!/bin/sh\nsleep 3\n"), 0o755))

	p := NewTool(ToolOptions{Command: path, VersionTimeout: 100 * time.Millisecond}, func(*api.InstanceNode) {})
	start := time.Now()
	err := p.Start(context.Background(), State{Project: testManifest(t, dir)})
	assert.ErrorIs(t, err, ErrVersionTimeout)
	assert.Less(t, time.Since(start), 2*time.Second)
}

func TestToolProvider_UpdateRestartsOnNewManifest(t *testing.T) {
	projDir := t.TempDir()
	r := &syncRecorder{}
	p := NewTool(ToolOptions{Command: fakeTool(t, "7.4.1")}, r.emit)
	first := testManifest(t, projDir)
	require.NoError(t, p.Start(context.Background(), State{Project: first}))
	require.Eventually(t, func() bool { return r.len() >= 1 }, 5*time.Second, 10*time.Millisecond)

	require.NoError(t, p.Update(context.Background(), State{Project: first}))
	p.mu.Lock()
	before := p.proc
	p.mu.Unlock()

	second, err := project.Parse([]byte(`{"name":"other","tree":{"$className":"DataModel"}}`), filepath.Join(projDir, "default.project.json"))
	require.NoError(t, err)
	require.NoError(t, p.Update(context.Background(), State{Project: second}))
	p.mu.Lock()
	after := p.proc
	p.mu.Unlock()
	assert.NotSame(t, before, after)

	select {
	case <-before.done:
	default:
		t.Fatal("previous process still running")
	}
	require.NoError(t, p.Stop())
}
