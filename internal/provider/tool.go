package provider

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os/exec"
	"sync"
	"time"

	"github.com/agentic-research/treesync/api"
	"github.com/agentic-research/treesync/internal/project"
)

var ErrNoProject = errors.New("no project manifest available")

const (
	DefaultToolCommand    = "rojo"
	DefaultMinVersion     = "v7.3.0"
	DefaultVersionTimeout = 5 * time.Second

	maxLineSize = 64 * 1024 * 1024
	stopTimeout = 5 * time.Second
)

type ToolOptions struct {
	Command           string
	MinVersion        string
	VersionTimeout    time.Duration
	IncludeNonScripts bool
	Stubber           *project.Stubber
}

func (o *ToolOptions) setDefaults() {
	if o.Command == "" {
		o.Command = DefaultToolCommand
	}
	if o.MinVersion == "" {
		o.MinVersion = DefaultMinVersion
	}
	if o.VersionTimeout <= 0 {
		o.VersionTimeout = DefaultVersionTimeout
	}
}

// ToolProvider streams trees from `rojo sourcemap --watch`. Until the
// first real tree arrives it shows a stub built from the manifest.
type ToolProvider struct {
	opts ToolOptions
	emit Emitter

	mu      sync.Mutex
	version string
	project *project.File
	proc    *process
}

func NewTool(opts ToolOptions, emit Emitter) *ToolProvider {
	opts.setDefaults()
	return &ToolProvider{opts: opts, emit: emit}
}

func (t *ToolProvider) Kind() Kind { return KindTool }

// Version returns the version found by the last successful Start.
func (t *ToolProvider) Version() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.version
}

func (t *ToolProvider) Start(ctx context.Context, st State) error {
	if st.Project == nil {
		return ErrNoProject
	}
	v, err := t.queryVersion(ctx)
	if err != nil {
		return err
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	proc, err := t.spawn(ctx, st.Project)
	if err != nil {
		return err
	}
	t.version = v
	t.project = st.Project
	t.proc = proc
	slog.Info("sourcemap tool started", "command", t.opts.Command, "version", v, "project", st.Project.Path)
	return nil
}

// Update restarts the subprocess when the manifest changed.
func (t *ToolProvider) Update(ctx context.Context, st State) error {
	if st.Project == nil {
		return ErrNoProject
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if project.Equal(t.project, st.Project) && t.proc != nil {
		return nil
	}
	if t.proc != nil {
		t.proc.stop()
		t.proc = nil
	}
	proc, err := t.spawn(ctx, st.Project)
	if err != nil {
		return err
	}
	t.project = st.Project
	t.proc = proc
	slog.Info("sourcemap tool restarted", "project", st.Project.Path)
	return nil
}

func (t *ToolProvider) Stop() error {
	t.mu.Lock()
	proc := t.proc
	t.proc = nil
	t.version = ""
	t.project = nil
	t.mu.Unlock()
	if proc == nil {
		return nil
	}
	return proc.stop()
}

// Pause holds trees from the running subprocess until resume is called.
func (t *ToolProvider) Pause() (resume func()) {
	t.mu.Lock()
	proc := t.proc
	t.mu.Unlock()
	if proc == nil {
		return func() {}
	}
	proc.pause()
	return proc.resume
}

func (t *ToolProvider) args(proj *project.File) []string {
	args := []string{"sourcemap", proj.Path, "--watch"}
	if t.opts.IncludeNonScripts {
		args = append(args, "--include-non-scripts")
	}
	return args
}

// process is one running sourcemap subprocess with its stream readers.
type process struct {
	cmd  *exec.Cmd
	emit Emitter
	stub *api.InstanceNode
	base string
	done chan struct{} // closed once readers and Wait have returned
	once sync.Once

	// emitMu orders emits against pause and stop, so nothing is emitted
	// once stop has begun.
	emitMu sync.Mutex
	closed chan struct{}
	paused bool
	held   *api.InstanceNode
}

func (t *ToolProvider) spawn(ctx context.Context, proj *project.File) (*process, error) {
	cmd := exec.CommandContext(ctx, t.opts.Command, t.args(proj)...)
	cmd.Dir = proj.Dir()
	setProcessGroup(cmd)
	cmd.Cancel = func() error { return killProcessGroup(cmd) }

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, fmt.Errorf("stderr pipe: %w", err)
	}

	var stub *api.InstanceNode
	if t.opts.Stubber != nil {
		stub = t.opts.Stubber.Stub(proj)
	}

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start %s: %w", t.opts.Command, err)
	}

	p := &process{
		cmd:    cmd,
		emit:   t.emit,
		stub:   stub,
		base:   proj.Dir(),
		closed: make(chan struct{}),
		done:   make(chan struct{}),
	}
	if stub != nil {
		t.emit(stub.Clone())
	}

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		p.readTrees(stdout)
	}()
	go func() {
		defer wg.Done()
		p.readErrors(stderr)
	}()
	go func() {
		wg.Wait()
		err := cmd.Wait()
		select {
		case <-p.closed:
		default:
			slog.Warn("sourcemap tool exited", "err", err)
		}
		close(p.done)
	}()
	return p, nil
}

func (p *process) readTrees(r io.Reader) {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 1024*1024), maxLineSize)
	for sc.Scan() {
		line := sc.Bytes()
		if len(line) == 0 {
			continue
		}
		node, err := api.ParseInstanceNode(line, p.base)
		if err != nil {
			slog.Error("sourcemap tool emitted an unreadable tree", "err", err)
			continue
		}
		node.MergeStub(p.stub)
		if !p.send(node) {
			return
		}
	}
	if err := sc.Err(); err != nil {
		slog.Error("read sourcemap tool output", "err", err)
	}
}

func (p *process) send(node *api.InstanceNode) bool {
	p.emitMu.Lock()
	defer p.emitMu.Unlock()
	select {
	case <-p.closed:
		return false
	default:
	}
	if p.paused {
		p.held = node
		return true
	}
	p.emit(node)
	return true
}

func (p *process) pause() {
	p.emitMu.Lock()
	p.paused = true
	p.emitMu.Unlock()
}

func (p *process) resume() {
	p.emitMu.Lock()
	defer p.emitMu.Unlock()
	node := p.held
	p.paused, p.held = false, nil
	select {
	case <-p.closed:
		return
	default:
	}
	if node != nil {
		p.emit(node)
	}
}

func (p *process) readErrors(r io.Reader) {
	sc := bufio.NewScanner(r)
	for sc.Scan() {
		slog.Error("sourcemap tool", "stderr", sc.Text())
	}
}

// stop kills the process group and waits for the readers to drain.
func (p *process) stop() error {
	var err error
	p.once.Do(func() {
		p.emitMu.Lock()
		close(p.closed)
		p.emitMu.Unlock()
		select {
		case <-p.done:
			return
		default:
		}
		if kerr := killProcessGroup(p.cmd); kerr != nil {
			err = fmt.Errorf("kill sourcemap tool: %w", kerr)
		}
		select {
		case <-p.done:
		case <-time.After(stopTimeout):
			err = errors.Join(err, fmt.Errorf("sourcemap tool did not exit within %s", stopTimeout))
		}
	})
	return err
}
