package dispatcher

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrTransport is matched by every *TransportError.
	ErrTransport = errors.New("search engine transport error")
	// ErrBulkWriteFailed is matched by every *BulkWriteError.
	ErrBulkWriteFailed = errors.New("bulk write failed")
	// ErrClosed is returned when dispatching on a closed dispatcher.
	ErrClosed = errors.New("dispatcher is closed")
	// ErrBacklogFull reports an async batch dropped because every worker was
	// busy and the backlog was full.
	ErrBacklogFull = errors.New("async backlog full")
	// ErrEncode reports a batch the client could not serialize. Nothing was
	// sent.
	ErrEncode = errors.New("failed to encode batch")
)

// TransportError reports that the bulk request did not complete.
type TransportError struct {
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("%v: %v", ErrTransport, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

func (e *TransportError) Is(target error) bool { return target == ErrTransport }

// BulkWriteError reports that the engine answered but rejected some or all of
// the batch. Payload is the raw response body.
type BulkWriteError struct {
	Payload []byte
	Failed  []BulkItem
}

func (e *BulkWriteError) Error() string {
	if len(e.Failed) == 0 {
		return ErrBulkWriteFailed.Error()
	}
	reasons := make([]string, 0, 3)
	for i, item := range e.Failed {
		if i == 3 {
			reasons = append(reasons, "...")
			break
		}
		reasons = append(reasons, fmt.Sprintf("%s %s/%s: %s", item.Op, item.Index, item.ID, item.Error))
	}
	return fmt.Sprintf("%v: %d failed item(s): %s", ErrBulkWriteFailed, len(e.Failed), strings.Join(reasons, "; "))
}

func (e *BulkWriteError) Is(target error) bool { return target == ErrBulkWriteFailed }

// Reason classifies err for metrics and the journal.
func Reason(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrBulkWriteFailed):
		return "bulk"
	case errors.Is(err, ErrTransport):
		return "transport"
	case errors.Is(err, ErrClosed):
		return "closed"
	case errors.Is(err, ErrBacklogFull):
		return "dropped"
	case errors.Is(err, ErrEncode):
		return "encode"
	default:
		return "publish"
	}
}
