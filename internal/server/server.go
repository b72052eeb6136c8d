// Package server wires the watcher, the provider selector, the Dom and the
// transport into one running instance server.
package server

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/go-git/go-billy/v5"
	"golang.org/x/sync/errgroup"

	"github.com/agentic-research/treesync/api"
	"github.com/agentic-research/treesync/internal/config"
	"github.com/agentic-research/treesync/internal/dom"
	"github.com/agentic-research/treesync/internal/fsops"
	"github.com/agentic-research/treesync/internal/meta"
	"github.com/agentic-research/treesync/internal/project"
	"github.com/agentic-research/treesync/internal/provider"
	"github.com/agentic-research/treesync/internal/rpc"
	"github.com/agentic-research/treesync/internal/watcher"
)

type Options struct {
	Config *config.Config
	// FS is rooted at "/" and addressed with absolute paths.
	FS  billy.Filesystem
	In  io.Reader
	Out io.Writer
	// Debounce overrides the watcher debounce window.
	Debounce time.Duration
}

// Run serves until the input stream ends or ctx is done. A fatal error in
// any task ends every task.
func Run(ctx context.Context, opts Options) error {
	cfg := opts.Config
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	d := dom.New(meta.NewDeriver(opts.FS), fsops.New(opts.FS))
	conn := rpc.NewConn(opts.In, opts.Out)
	d.Subscribe(func(notes []dom.Notification) {
		for _, n := range notes {
			if err := conn.Notify(api.MethodDomNotification, n); err != nil {
				slog.Error("send notification", "err", err)
			}
		}
	})

	mux := rpc.NewMux()
	NewHandlers(d).Register(mux)

	trees := make(chan *api.InstanceNode)
	emit := func(node *api.InstanceNode) {
		select {
		case trees <- node:
		case <-ctx.Done():
		}
	}
	factory := provider.NewFactory(provider.ToolOptions{
		Command:           cfg.RojoCommand,
		IncludeNonScripts: cfg.IncludeNonScripts,
		Stubber:           project.NewStubber(opts.FS, cfg.IgnoreGlobs),
	}, emit)
	sel := provider.NewSelector(provider.SelectorOptions{
		SourcemapPath: cfg.SourcemapFile,
		ProjectPath:   cfg.RojoProjectFile,
		Autogenerate:  cfg.Autogenerate,
	}, factory)

	w := watcher.New(opts.FS, cfg.PathsToWatch(), watcher.Options{Debounce: opts.Debounce})

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		if err := w.Run(ctx); err != nil {
			return fmt.Errorf("watch files: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		sel.Start(ctx)
		defer func() {
			if err := sel.Stop(); err != nil {
				slog.Warn("stop provider", "err", err)
			}
		}()
		for ev := range w.Events() {
			switch {
			case cfg.IsSourcemapPath(ev.Path):
				sel.UpdateSourcemap(ctx, ev.Contents)
			case cfg.IsProjectPath(ev.Path):
				sel.UpdateProject(ctx, ev.Contents)
			}
			slog.Debug("file event handled", "path", ev.Path, "op", ev.Op)
		}
		return nil
	})

	g.Go(func() error {
		for {
			select {
			case <-ctx.Done():
				return nil
			case node := <-trees:
				notes := d.ApplyNewRoot(node)
				slog.Debug("tree applied", "changes", len(notes))
			}
		}
	})

	// The reader blocks on input that cannot be interrupted, so it is left
	// behind when another task ends the server.
	served := make(chan error, 1)
	go func() { served <- rpc.Serve(ctx, conn, mux) }()
	g.Go(func() error {
		defer cancel()
		select {
		case <-ctx.Done():
			return nil
		case err := <-served:
			if err != nil {
				return fmt.Errorf("serve: %w", err)
			}
			slog.Info("input closed, shutting down")
			return nil
		}
	})

	return g.Wait()
}
