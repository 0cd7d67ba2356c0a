// Package elastic implements the bulk client on top of the official
// Elasticsearch client.
package elastic

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/elastic/go-elasticsearch/v8"
	"github.com/syntrixbase/graphsync/internal/dispatcher"
	"github.com/syntrixbase/graphsync/internal/document"
)

// Options configures the client.
type Options struct {
	// Addresses of the cluster nodes, such as "http://localhost:9200".
	Addresses []string
	Username  string
	Password  string

	// Discovery sniffs the cluster for more nodes on start.
	Discovery bool

	ConnectionTimeout time.Duration
	ReadTimeout       time.Duration

	// Transport replaces the HTTP transport built from the timeouts.
	Transport http.RoundTripper

	Logger *slog.Logger
}

// Client sends bulk requests to Elasticsearch.
type Client struct {
	es     *elasticsearch.Client
	logger *slog.Logger
}

var _ dispatcher.BulkClient = (*Client)(nil)

// New creates a client. It does not contact the cluster.
func New(opts Options) (*Client, error) {
	if len(opts.Addresses) == 0 {
		return nil, fmt.Errorf("elasticsearch address is required")
	}

	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	transport := opts.Transport
	if transport == nil {
		connect := opts.ConnectionTimeout
		if connect <= 0 {
			connect = 10 * time.Second
		}
		transport = &http.Transport{
			Proxy:                 http.ProxyFromEnvironment,
			DialContext:           (&net.Dialer{Timeout: connect}).DialContext,
			ResponseHeaderTimeout: opts.ReadTimeout,
			MaxIdleConnsPerHost:   10,
		}
	}

	es, err := elasticsearch.NewClient(elasticsearch.Config{
		Addresses:            opts.Addresses,
		Username:             opts.Username,
		Password:             opts.Password,
		Transport:            transport,
		DiscoverNodesOnStart: opts.Discovery,
		DisableRetry:         true,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create elasticsearch client: %w", err)
	}

	return &Client{es: es, logger: logger.With("component", "elastic")}, nil
}

// SplitAddresses splits a comma separated host list.
func SplitAddresses(hosts string) []string {
	var out []string
	for _, h := range strings.Split(hosts, ",") {
		if h = strings.TrimSpace(h); h != "" {
			out = append(out, h)
		}
	}
	return out
}

// Bulk implements dispatcher.BulkClient. Upserts are full document replaces.
func (c *Client) Bulk(ctx context.Context, actions []document.Action) (*dispatcher.BulkResponse, error) {
	body, err := EncodeBulk(actions)
	if err != nil {
		return nil, err
	}

	res, err := c.es.Bulk(bytes.NewReader(body), c.es.Bulk.WithContext(ctx))
	if err != nil {
		return nil, err
	}
	defer res.Body.Close()

	raw, err := io.ReadAll(res.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read bulk response: %w", err)
	}

	if res.IsError() {
		c.logger.Warn("Bulk request rejected", "status", res.StatusCode, "actions", len(actions))
		return &dispatcher.BulkResponse{Errors: true, Raw: raw}, nil
	}
	return DecodeBulkResponse(raw)
}

type bulkMeta struct {
	Index string `json:"_index"`
	Type  string `json:"_type,omitempty"`
	ID    string `json:"_id"`
}

// EncodeBulk renders actions as a bulk NDJSON body. The document type is only
// sent when it differs from "_doc". Errors wrap dispatcher.ErrEncode.
func EncodeBulk(actions []document.Action) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	for _, a := range actions {
		meta := bulkMeta{Index: a.Key.Index, ID: a.Key.ID}
		if a.DocType != "" && a.DocType != document.DefaultDocType {
			meta.Type = a.DocType
		}

		var line map[string]bulkMeta
		switch a.Op {
		case document.OpUpsert:
			line = map[string]bulkMeta{"index": meta}
		case document.OpDelete:
			line = map[string]bulkMeta{"delete": meta}
		default:
			return nil, fmt.Errorf("%w: unknown document op %q", dispatcher.ErrEncode, a.Op)
		}
		if err := enc.Encode(line); err != nil {
			return nil, fmt.Errorf("%w: action %s: %v", dispatcher.ErrEncode, a.Key, err)
		}
		if a.Op == document.OpUpsert {
			body := a.Body
			if body == nil {
				body = document.NewBody()
			}
			if err := enc.Encode(body); err != nil {
				return nil, fmt.Errorf("%w: document %s: %v", dispatcher.ErrEncode, a.Key, err)
			}
		}
	}
	return buf.Bytes(), nil
}

type bulkResponse struct {
	Took   int64                        `json:"took"`
	Errors bool                         `json:"errors"`
	Items  []map[string]bulkResponseItem `json:"items"`
}

type bulkResponseItem struct {
	Index  string          `json:"_index"`
	ID     string          `json:"_id"`
	Status int             `json:"status"`
	Error  json.RawMessage `json:"error,omitempty"`
}

type bulkError struct {
	Type   string `json:"type"`
	Reason string `json:"reason"`
}

// DecodeBulkResponse parses a bulk response body.
func DecodeBulkResponse(raw []byte) (*dispatcher.BulkResponse, error) {
	var r bulkResponse
	if err := json.Unmarshal(raw, &r); err != nil {
		return nil, fmt.Errorf("failed to decode bulk response: %w", err)
	}

	out := &dispatcher.BulkResponse{
		Took:   time.Duration(r.Took) * time.Millisecond,
		Errors: r.Errors,
		Raw:    raw,
	}
	for _, entry := range r.Items {
		for op, item := range entry {
			bi := dispatcher.BulkItem{Op: opFromBulk(op), Index: item.Index, ID: item.ID, Status: item.Status}
			if len(item.Error) > 0 && string(item.Error) != "null" {
				bi.Error = errorText(item.Error)
			}
			out.Items = append(out.Items, bi)
		}
	}
	return out, nil
}

func opFromBulk(op string) document.Op {
	if op == "delete" {
		return document.OpDelete
	}
	return document.OpUpsert
}

func errorText(raw json.RawMessage) string {
	var e bulkError
	if err := json.Unmarshal(raw, &e); err == nil && e.Type != "" {
		if e.Reason == "" {
			return e.Type
		}
		return e.Type + ": " + e.Reason
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	return string(raw)
}
