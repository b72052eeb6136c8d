package provider

import (
	"bytes"
	"context"
	"log/slog"
	"path/filepath"
	"sync"

	"github.com/agentic-research/treesync/api"
	"github.com/agentic-research/treesync/internal/project"
)

type SelectorOptions struct {
	SourcemapPath string
	ProjectPath   string
	// Autogenerate allows the tool provider. When false only the sourcemap
	// file is used.
	Autogenerate bool
}

// Selector keeps the most preferred usable provider running. A new provider
// is started before the old one is stopped, and a provider that fails to
// start leaves the current one in place. An outgoing provider that is a
// Pauser is paused while its replacement starts.
type Selector struct {
	opts    SelectorOptions
	factory Factory

	mu     sync.Mutex
	state  State
	active Provider
	// toolFailed is the manifest the tool provider last failed with. The
	// tool is not retried until the manifest changes.
	toolFailed *project.File
}

func NewSelector(opts SelectorOptions, factory Factory) *Selector {
	return &Selector{opts: opts, factory: factory}
}

// ActiveKind reports the kind of the running provider, or false if none has
// started yet.
func (s *Selector) ActiveKind() (Kind, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.active == nil {
		return KindNone, false
	}
	return s.active.Kind(), true
}

// Start brings up the initial provider.
func (s *Selector) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.apply(ctx)
}

// UpdateSourcemap records new sourcemap file contents. Nil or empty content
// means the file is gone. Unreadable content is logged and ignored.
func (s *Selector) UpdateSourcemap(ctx context.Context, contents []byte) {
	var smap *api.InstanceNode
	if len(bytes.TrimSpace(contents)) > 0 {
		var err error
		smap, err = api.ParseInstanceNode(contents, filepath.Dir(s.opts.SourcemapPath))
		if err != nil {
			slog.Error("ignoring unreadable sourcemap", "path", s.opts.SourcemapPath, "err", err)
			return
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.state.Sourcemap = smap
	s.apply(ctx)
}

// UpdateProject records new project manifest contents. Nil or empty content
// means the file is gone. Unreadable content is logged and ignored.
func (s *Selector) UpdateProject(ctx context.Context, contents []byte) {
	var proj *project.File
	if len(bytes.TrimSpace(contents)) > 0 {
		var err error
		proj, err = project.Parse(contents, s.opts.ProjectPath)
		if err != nil {
			slog.Error("ignoring unreadable project manifest", "path", s.opts.ProjectPath, "err", err)
			return
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if project.Equal(s.state.Project, proj) && s.active != nil {
		return
	}
	s.state.Project = proj
	s.apply(ctx)
}

// Stop stops the running provider.
func (s *Selector) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.active == nil {
		return nil
	}
	err := s.active.Stop()
	s.active = nil
	return err
}

func (s *Selector) candidates() []Kind {
	var kinds []Kind
	if s.opts.Autogenerate && s.state.Project != nil && !project.Equal(s.toolFailed, s.state.Project) {
		kinds = append(kinds, KindTool)
	}
	if s.state.Sourcemap != nil {
		kinds = append(kinds, KindFile)
	}
	return append(kinds, KindNone)
}

// apply must be called with mu held.
func (s *Selector) apply(ctx context.Context) {
	for _, kind := range s.candidates() {
		if s.active != nil && s.active.Kind() == kind {
			err := s.active.Update(ctx, s.state)
			if err == nil {
				return
			}
			slog.Error("provider update failed", "provider", kind, "err", err)
			if kind != KindTool {
				return
			}
			s.toolFailed = s.state.Project
			continue
		}

		// The outgoing provider must not emit over the one replacing it.
		resume := s.pauseActive()
		next := s.factory(kind)
		if err := next.Start(ctx, s.state); err != nil {
			resume()
			slog.Error("provider start failed", "provider", kind, "err", err)
			if kind == KindTool {
				s.toolFailed = s.state.Project
			}
			continue
		}

		prev := s.active
		s.active = next
		if prev != nil {
			if err := prev.Stop(); err != nil {
				slog.Error("provider stop failed", "provider", prev.Kind(), "err", err)
			}
		}
		slog.Info("provider selected", "provider", kind)
		return
	}
}

func (s *Selector) pauseActive() (resume func()) {
	if p, ok := s.active.(Pauser); ok {
		return p.Pause()
	}
	return func() {}
}
