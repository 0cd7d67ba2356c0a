// Package memory is an in-process search engine that applies bulk actions to
// in-memory indices. Used for dry runs and tests.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/syntrixbase/graphsync/internal/dispatcher"
	"github.com/syntrixbase/graphsync/internal/document"
)

// Engine implements dispatcher.BulkClient using in-memory indices.
type Engine struct {
	mu       sync.RWMutex
	indices  map[string]map[string]*stored // key: index name, then document id
	rejected map[string]string             // index name -> error reason
	requests int
}

type stored struct {
	docType string
	body    *document.Body
	version int64
}

var _ dispatcher.BulkClient = (*Engine)(nil)

// New creates an empty engine.
func New() *Engine {
	return &Engine{
		indices:  make(map[string]map[string]*stored),
		rejected: make(map[string]string),
	}
}

// Bulk implements dispatcher.BulkClient. An upsert replaces the whole
// document; deleting a missing document succeeds with status 404.
func (e *Engine) Bulk(ctx context.Context, actions []document.Action) (*dispatcher.BulkResponse, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	start := time.Now()

	e.mu.Lock()
	defer e.mu.Unlock()
	e.requests++

	resp := &dispatcher.BulkResponse{}
	for _, a := range actions {
		item := dispatcher.BulkItem{Op: a.Op, Index: a.Key.Index, ID: a.Key.ID}
		if reason, ok := e.rejected[a.Key.Index]; ok {
			item.Status = 400
			item.Error = reason
			resp.Errors = true
			resp.Items = append(resp.Items, item)
			continue
		}

		switch a.Op {
		case document.OpUpsert:
			item.Status = e.put(a)
		case document.OpDelete:
			item.Status = e.remove(a.Key)
		default:
			item.Status = 400
			item.Error = "unknown op " + string(a.Op)
			resp.Errors = true
		}
		resp.Items = append(resp.Items, item)
	}
	resp.Took = time.Since(start)
	return resp, nil
}

func (e *Engine) put(a document.Action) int {
	idx, ok := e.indices[a.Key.Index]
	if !ok {
		idx = make(map[string]*stored)
		e.indices[a.Key.Index] = idx
	}

	body := document.NewBody()
	for _, f := range a.Body.Fields() {
		body.Set(f.Name, f.Value)
	}

	if prev, ok := idx[a.Key.ID]; ok {
		idx[a.Key.ID] = &stored{docType: a.DocType, body: body, version: prev.version + 1}
		return 200
	}
	idx[a.Key.ID] = &stored{docType: a.DocType, body: body, version: 1}
	return 201
}

func (e *Engine) remove(key document.Key) int {
	idx, ok := e.indices[key.Index]
	if !ok {
		return 404
	}
	if _, ok := idx[key.ID]; !ok {
		return 404
	}
	delete(idx, key.ID)
	return 200
}

// Get returns a copy of a stored document.
func (e *Engine) Get(index, id string) (*document.Body, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	s, ok := e.indices[index][id]
	if !ok {
		return nil, false
	}
	body := document.NewBody()
	for _, f := range s.body.Fields() {
		body.Set(f.Name, f.Value)
	}
	return body, true
}

// Version returns how many times a document was written, or 0.
func (e *Engine) Version(index, id string) int64 {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if s, ok := e.indices[index][id]; ok {
		return s.version
	}
	return 0
}

// Count returns the number of documents in an index.
func (e *Engine) Count(index string) int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return len(e.indices[index])
}

// IDs returns the sorted document ids of an index.
func (e *Engine) IDs(index string) []string {
	e.mu.RLock()
	defer e.mu.RUnlock()
	ids := make([]string, 0, len(e.indices[index]))
	for id := range e.indices[index] {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Indices returns the sorted names of non-empty indices.
func (e *Engine) Indices() []string {
	e.mu.RLock()
	defer e.mu.RUnlock()
	var names []string
	for name, idx := range e.indices {
		if len(idx) > 0 {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names
}

// Requests returns the number of bulk requests served.
func (e *Engine) Requests() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.requests
}

// Reject makes every action on index fail with reason. An empty reason
// accepts the index again.
func (e *Engine) Reject(index, reason string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if reason == "" {
		delete(e.rejected, index)
		return
	}
	e.rejected[index] = reason
}

// Reset drops every index.
func (e *Engine) Reset() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.indices = make(map[string]map[string]*stored)
	e.requests = 0
}
