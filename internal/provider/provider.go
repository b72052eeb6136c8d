// Package provider produces instance trees from whichever source is
// currently usable: a running `rojo sourcemap --watch`, a sourcemap.json
// file, or nothing at all.
package provider

import (
	"context"

	"github.com/agentic-research/treesync/api"
	"github.com/agentic-research/treesync/internal/project"
)

// Kind orders providers by preference, lowest first.
type Kind int

const (
	KindNone Kind = iota
	KindFile
	KindTool
)

func (k Kind) String() string {
	switch k {
	case KindFile:
		return "file"
	case KindTool:
		return "tool"
	default:
		return "none"
	}
}

// State is the last known-good content of the watched files. Nil fields
// mean the file is absent.
type State struct {
	Sourcemap *api.InstanceNode
	Project   *project.File
}

// Emitter receives each tree a provider produces. Nil means no tree.
type Emitter func(*api.InstanceNode)

// Provider is one source of instance trees.
type Provider interface {
	Kind() Kind
	// Start begins producing trees. On error nothing is left running.
	Start(ctx context.Context, st State) error
	// Update is called when the watched files change but this provider
	// stays active.
	Update(ctx context.Context, st State) error
	// Stop returns once the provider can no longer emit.
	Stop() error
}

// Pauser is implemented by providers that can hold back their trees while
// a replacement starts. resume releases the most recent held tree.
type Pauser interface {
	Pause() (resume func())
}

// Factory builds a provider of the given kind.
type Factory func(Kind) Provider

// noneProvider reports that no tree is available.
type noneProvider struct {
	emit Emitter
}

func NewNone(emit Emitter) Provider {
	return &noneProvider{emit: emit}
}

func (p *noneProvider) Kind() Kind { return KindNone }

func (p *noneProvider) Start(context.Context, State) error {
	p.emit(nil)
	return nil
}

func (p *noneProvider) Update(context.Context, State) error { return nil }

func (p *noneProvider) Stop() error { return nil }

// NewFactory returns a Factory whose providers all emit into emit.
func NewFactory(tool ToolOptions, emit Emitter) Factory {
	return func(k Kind) Provider {
		switch k {
		case KindTool:
			return NewTool(tool, emit)
		case KindFile:
			return NewFile(emit)
		default:
			return NewNone(emit)
		}
	}
}
