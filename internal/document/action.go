// Package document builds search documents from graph nodes and describes the
// write actions sent to the search engine.
package document

import (
	"encoding/json"
	"fmt"
)

// Op is the kind of write applied to a document.
type Op string

const (
	OpUpsert Op = "upsert"
	OpDelete Op = "delete"
)

// DefaultDocType is the document type used when type mapping is disabled.
const DefaultDocType = "_doc"

// Key identifies one document in one index. Two actions with an equal key
// target the same document.
type Key struct {
	Scope string `json:"scope,omitempty"`
	Index string `json:"index"`
	ID    string `json:"id"`
}

func (k Key) String() string {
	if k.Scope == "" {
		return k.Index + "/" + k.ID
	}
	return k.Scope + ":" + k.Index + "/" + k.ID
}

// Action is a single upsert or delete. Body is nil for deletes.
type Action struct {
	Op      Op     `json:"op"`
	Key     Key    `json:"key"`
	DocType string `json:"doc_type"`
	Body    *Body  `json:"body,omitempty"`
}

// NewUpsert returns an upsert action replacing the whole document.
func NewUpsert(key Key, docType string, body *Body) Action {
	return Action{Op: OpUpsert, Key: key, DocType: docType, Body: body}
}

// NewDelete returns a delete action.
func NewDelete(key Key, docType string) Action {
	return Action{Op: OpDelete, Key: key, DocType: docType}
}

func (a Action) String() string {
	return fmt.Sprintf("%s %s", a.Op, a.Key)
}

// UnmarshalJSON validates the operation and drops a body sent with a delete.
func (a *Action) UnmarshalJSON(data []byte) error {
	type plain Action
	var p plain
	if err := json.Unmarshal(data, &p); err != nil {
		return err
	}
	switch p.Op {
	case OpUpsert:
		if p.Body == nil {
			p.Body = NewBody()
		}
	case OpDelete:
		p.Body = nil
	default:
		return fmt.Errorf("unknown document op %q", p.Op)
	}
	*a = Action(p)
	return nil
}
