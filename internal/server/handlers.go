package server

import (
	"context"
	"encoding/json"
	"errors"
	"path/filepath"

	"github.com/agentic-research/treesync/api"
	"github.com/agentic-research/treesync/internal/dom"
	"github.com/agentic-research/treesync/internal/meta"
	"github.com/agentic-research/treesync/internal/rpc"
)

// Instance is the wire shape of one instance.
type Instance struct {
	ID        dom.Ref        `json:"id"`
	ParentID  dom.Ref        `json:"parentId,omitempty"`
	ClassName string         `json:"className"`
	Name      string         `json:"name"`
	Children  []dom.Ref      `json:"children"`
	Metadata  *meta.Metadata `json:"metadata,omitempty"`
}

type idRequest struct {
	ID dom.Ref `json:"id"`
}

type findByPathRequest struct {
	Path string `json:"path"`
}

type findByQueryRequest struct {
	Query        string   `json:"query"`
	Limit        *int     `json:"limit"`
	ClassName    string   `json:"className"`
	MinimumScore *float64 `json:"minimumScore"`
	SkipNonFiles *bool    `json:"skipNonFiles"`
	SkipPackages *bool    `json:"skipPackages"`
}

type insertRequest struct {
	ParentID  dom.Ref `json:"parentId"`
	ClassName string  `json:"className"`
	Name      string  `json:"name"`
}

type renameRequest struct {
	ID   dom.Ref `json:"id"`
	Name string  `json:"name"`
}

type moveRequest struct {
	ID       dom.Ref `json:"id"`
	ParentID dom.Ref `json:"parentId"`
}

// Handlers answers client requests against one Dom.
type Handlers struct {
	dom *dom.Dom
}

func NewHandlers(d *dom.Dom) *Handlers {
	return &Handlers{dom: d}
}

// Register installs every request method on mux.
func (h *Handlers) Register(mux *rpc.Mux) {
	mux.Handle(api.MethodDomRoot, h.root)
	mux.Handle(api.MethodDomGet, h.get)
	mux.Handle(api.MethodDomChildren, h.children)
	mux.Handle(api.MethodDomAncestors, h.ancestors)
	mux.Handle(api.MethodDomFindByPath, h.findByPath)
	mux.Handle(api.MethodDomFindByQuery, h.findByQuery)
	mux.Handle(api.MethodInstanceInsert, h.insert)
	mux.Handle(api.MethodInstanceRename, h.rename)
	mux.Handle(api.MethodInstanceDelete, h.delete)
	mux.Handle(api.MethodInstanceMove, h.move)
}

func (h *Handlers) instance(inst dom.Instance) Instance {
	children := inst.Children
	if children == nil {
		children = []dom.Ref{}
	}
	return Instance{
		ID:        inst.ID,
		ParentID:  inst.Parent,
		ClassName: inst.ClassName,
		Name:      inst.Name,
		Children:  children,
		Metadata:  h.dom.Metadata(inst.ID),
	}
}

// lookup returns nil when id is not in the tree.
func (h *Handlers) lookup(id dom.Ref) *Instance {
	inst, ok := h.dom.Instance(id)
	if !ok {
		return nil
	}
	out := h.instance(inst)
	return &out
}

func (h *Handlers) list(insts []dom.Instance, err error) ([]Instance, error) {
	if errors.Is(err, dom.ErrNotFound) {
		return []Instance{}, nil
	}
	if err != nil {
		return nil, err
	}
	out := make([]Instance, 0, len(insts))
	for _, inst := range insts {
		out = append(out, h.instance(inst))
	}
	return out, nil
}

func (h *Handlers) root(context.Context, json.RawMessage) (any, error) {
	id, ok := h.dom.RootID()
	if !ok {
		return (*Instance)(nil), nil
	}
	return h.lookup(id), nil
}

func (h *Handlers) get(_ context.Context, v json.RawMessage) (any, error) {
	req, err := rpc.Decode[idRequest](v)
	if err != nil {
		return nil, err
	}
	return h.lookup(req.ID), nil
}

func (h *Handlers) children(_ context.Context, v json.RawMessage) (any, error) {
	req, err := rpc.Decode[idRequest](v)
	if err != nil {
		return nil, err
	}
	return h.list(h.dom.Children(req.ID))
}

func (h *Handlers) ancestors(_ context.Context, v json.RawMessage) (any, error) {
	req, err := rpc.Decode[idRequest](v)
	if err != nil {
		return nil, err
	}
	return h.list(h.dom.Ancestors(req.ID))
}

func (h *Handlers) findByPath(_ context.Context, v json.RawMessage) (any, error) {
	req, err := rpc.Decode[findByPathRequest](v)
	if err != nil {
		return nil, err
	}
	if req.Path == "" {
		return (*Instance)(nil), nil
	}
	id, ok := h.dom.FindByPath(filepath.Clean(req.Path))
	if !ok {
		return (*Instance)(nil), nil
	}
	return h.lookup(id), nil
}

func (h *Handlers) findByQuery(_ context.Context, v json.RawMessage) (any, error) {
	req, err := rpc.Decode[findByQueryRequest](v)
	if err != nil {
		return nil, err
	}
	q := dom.NewQuery(req.Query)
	q.ClassName = req.ClassName
	if req.Limit != nil {
		q.Limit = *req.Limit
	}
	if req.MinimumScore != nil {
		q.MinimumScore = *req.MinimumScore
	}
	if req.SkipNonFiles != nil {
		q.SkipNonFiles = *req.SkipNonFiles
	}
	if req.SkipPackages != nil {
		q.SkipPackages = *req.SkipPackages
	}

	out := []Instance{}
	for _, r := range h.dom.FindByQuery(q) {
		if inst := h.lookup(r.ID); inst != nil {
			out = append(out, *inst)
		}
	}
	return out, nil
}

func (h *Handlers) insert(_ context.Context, v json.RawMessage) (any, error) {
	req, err := rpc.Decode[insertRequest](v)
	if err != nil {
		return nil, err
	}
	id, ok := h.dom.InsertInstance(req.ParentID, req.ClassName, req.Name)
	if !ok {
		return (*dom.Ref)(nil), nil
	}
	return &id, nil
}

func (h *Handlers) rename(_ context.Context, v json.RawMessage) (any, error) {
	req, err := rpc.Decode[renameRequest](v)
	if err != nil {
		return nil, err
	}
	return h.dom.RenameInstance(req.ID, req.Name), nil
}

func (h *Handlers) delete(_ context.Context, v json.RawMessage) (any, error) {
	req, err := rpc.Decode[idRequest](v)
	if err != nil {
		return nil, err
	}
	return h.dom.DeleteInstance(req.ID), nil
}

func (h *Handlers) move(_ context.Context, v json.RawMessage) (any, error) {
	req, err := rpc.Decode[moveRequest](v)
	if err != nil {
		return nil, err
	}
	return h.dom.MoveInstance(req.ID, req.ParentID), nil
}
