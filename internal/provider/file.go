package provider

import (
	"context"
	"errors"
	"sync"

	"github.com/agentic-research/treesync/api"
	"github.com/google/go-cmp/cmp"
)

var ErrNoSourcemap = errors.New("no sourcemap available")

// fileProvider forwards the content of a sourcemap file, skipping
// snapshots equal to the last one it emitted.
type fileProvider struct {
	emit Emitter

	mu   sync.Mutex
	last *api.InstanceNode
}

func NewFile(emit Emitter) Provider {
	return &fileProvider{emit: emit}
}

func (p *fileProvider) Kind() Kind { return KindFile }

func (p *fileProvider) Start(_ context.Context, st State) error {
	if st.Sourcemap == nil {
		return ErrNoSourcemap
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.last = st.Sourcemap.Clone()
	p.emit(st.Sourcemap.Clone())
	return nil
}

func (p *fileProvider) Update(_ context.Context, st State) error {
	if st.Sourcemap == nil {
		return ErrNoSourcemap
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if cmp.Equal(p.last, st.Sourcemap) {
		return nil
	}
	p.last = st.Sourcemap.Clone()
	p.emit(st.Sourcemap.Clone())
	return nil
}

func (p *fileProvider) Stop() error { return nil }
