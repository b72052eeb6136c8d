package provider

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	testSourcemap = `{"className":"DataModel","name":"game","children":[{"className":"Workspace","name":"Workspace"}]}`
	testProject   = `{"name":"game","tree":{"$className":"DataModel"}}`
)

// fakeProvider records lifecycle calls into a shared log.
type fakeProvider struct {
	kind     Kind
	log      *[]string
	startErr error
	updates  int
	stopped  bool
}

func (f *fakeProvider) Kind() Kind { return f.kind }

func (f *fakeProvider) Start(context.Context, State) error {
	*f.log = append(*f.log, "start "+f.kind.String())
	return f.startErr
}

func (f *fakeProvider) Update(context.Context, State) error {
	f.updates++
	*f.log = append(*f.log, "update "+f.kind.String())
	return nil
}

func (f *fakeProvider) Stop() error {
	f.stopped = true
	*f.log = append(*f.log, "stop "+f.kind.String())
	return nil
}

// pausingProvider is a fakeProvider that also records Pause and resume.
type pausingProvider struct {
	*fakeProvider
}

func (p pausingProvider) Pause() func() {
	*p.log = append(*p.log, "pause "+p.kind.String())
	return func() { *p.log = append(*p.log, "resume "+p.kind.String()) }
}

type fakeFactory struct {
	log       []string
	made      []*fakeProvider
	failTool  bool
	failFile  bool
	pauseTool bool
}

func (ff *fakeFactory) make(k Kind) Provider {
	p := &fakeProvider{kind: k, log: &ff.log}
	if k == KindTool && ff.failTool {
		p.startErr = errors.New("rojo missing")
	}
	if k == KindFile && ff.failFile {
		p.startErr = errors.New("unreadable sourcemap")
	}
	ff.made = append(ff.made, p)
	if k == KindTool && ff.pauseTool {
		return pausingProvider{p}
	}
	return p
}

func newTestSelector(ff *fakeFactory, autogenerate bool) *Selector {
	return NewSelector(SelectorOptions{
		SourcemapPath: "/p/sourcemap.json",
		ProjectPath:   "/p/default.project.json",
		Autogenerate:  autogenerate,
	}, ff.make)
}

func activeKind(t *testing.T, s *Selector) Kind {
	t.Helper()
	k, ok := s.ActiveKind()
	require.True(t, ok)
	return k
}

func TestSelector_StartsWithNone(t *testing.T) {
	ff := &fakeFactory{}
	s := newTestSelector(ff, true)
	s.Start(context.Background())
	assert.Equal(t, KindNone, activeKind(t, s))
	assert.Equal(t, []string{"start none"}, ff.log)
}

func TestSelector_FileThenTool(t *testing.T) {
	ctx := context.Background()
	ff := &fakeFactory{}
	s := newTestSelector(ff, true)
	s.Start(ctx)

	s.UpdateSourcemap(ctx, []byte(testSourcemap))
	assert.Equal(t, KindFile, activeKind(t, s))

	s.UpdateProject(ctx, []byte(testProject))
	assert.Equal(t, KindTool, activeKind(t, s))

	assert.Equal(t, []string{
		"start none",
		"start file", "stop none",
		"start tool", "stop file",
	}, ff.log, "new provider starts before the old one stops")

	// Sourcemap edits while the tool runs only update it.
	s.UpdateSourcemap(ctx, []byte(testSourcemap))
	assert.Equal(t, KindTool, activeKind(t, s))
	assert.Equal(t, "update tool", ff.log[len(ff.log)-1])

	// Removing the manifest falls back to the sourcemap file.
	s.UpdateProject(ctx, nil)
	assert.Equal(t, KindFile, activeKind(t, s))
	assert.Equal(t, []string{"start file", "stop tool"}, ff.log[len(ff.log)-2:])
}

func TestSelector_ToolFailureKeepsCurrent(t *testing.T) {
	ctx := context.Background()
	ff := &fakeFactory{failTool: true}
	s := newTestSelector(ff, true)
	s.Start(ctx)
	s.UpdateSourcemap(ctx, []byte(testSourcemap))

	s.UpdateProject(ctx, []byte(testProject))
	assert.Equal(t, KindFile, activeKind(t, s))
	assert.Equal(t, []string{"start tool", "update file"}, ff.log[len(ff.log)-2:])

	// The failed manifest is not retried on unrelated events.
	s.UpdateSourcemap(ctx, []byte(testSourcemap))
	assert.Equal(t, "update file", ff.log[len(ff.log)-1])
}

func TestSelector_AutogenerateOff(t *testing.T) {
	ctx := context.Background()
	ff := &fakeFactory{}
	s := newTestSelector(ff, false)
	s.Start(ctx)
	s.UpdateProject(ctx, []byte(testProject))
	assert.Equal(t, KindNone, activeKind(t, s))
	assert.NotContains(t, ff.log, "start tool")
}

func TestSelector_UnreadableInputKeepsState(t *testing.T) {
	ctx := context.Background()
	ff := &fakeFactory{}
	s := newTestSelector(ff, true)
	s.Start(ctx)
	s.UpdateSourcemap(ctx, []byte(testSourcemap))
	n := len(ff.log)

	s.UpdateSourcemap(ctx, []byte(`{"className":`))
	s.UpdateProject(ctx, []byte(`not json`))
	assert.Equal(t, KindFile, activeKind(t, s))
	assert.Len(t, ff.log, n)

	// An emptied file counts as removed.
	s.UpdateSourcemap(ctx, []byte("  \n"))
	assert.Equal(t, KindNone, activeKind(t, s))
}

func TestSelector_UnchangedProjectIsSkipped(t *testing.T) {
	ctx := context.Background()
	ff := &fakeFactory{}
	s := newTestSelector(ff, true)
	s.Start(ctx)
	s.UpdateProject(ctx, []byte(testProject))
	n := len(ff.log)

	s.UpdateProject(ctx, []byte(testProject))
	assert.Len(t, ff.log, n)
}

func TestSelector_Stop(t *testing.T) {
	ff := &fakeFactory{}
	s := newTestSelector(ff, true)
	s.Start(context.Background())
	require.NoError(t, s.Stop())
	assert.True(t, ff.made[0].stopped)
	_, ok := s.ActiveKind()
	assert.False(t, ok)
	require.NoError(t, s.Stop())
}

func TestSelector_PausesToolBeforeReplacing(t *testing.T) {
	ctx := context.Background()
	ff := &fakeFactory{pauseTool: true}
	s := newTestSelector(ff, true)
	s.Start(ctx)
	s.UpdateSourcemap(ctx, []byte(testSourcemap))
	s.UpdateProject(ctx, []byte(testProject))
	require.Equal(t, KindTool, activeKind(t, s))
	n := len(ff.log)

	s.UpdateProject(ctx, nil)
	assert.Equal(t, KindFile, activeKind(t, s))
	assert.Equal(t, []string{"pause tool", "start file", "stop tool"}, ff.log[n:])
}

func TestSelector_ResumesToolWhenReplacementFails(t *testing.T) {
	ctx := context.Background()
	ff := &fakeFactory{pauseTool: true}
	s := newTestSelector(ff, true)
	s.Start(ctx)
	s.UpdateSourcemap(ctx, []byte(testSourcemap))
	s.UpdateProject(ctx, []byte(testProject))
	require.Equal(t, KindTool, activeKind(t, s))
	n := len(ff.log)

	ff.failFile = true
	s.UpdateProject(ctx, nil)
	assert.Equal(t, KindNone, activeKind(t, s))
	assert.Equal(t, []string{
		"pause tool", "start file", "resume tool",
		"pause tool", "start none", "stop tool",
	}, ff.log[n:])
}
