package atom

import (
	"context"
	"fmt"

	"github.com/google/uuid"
)

// logStreamKey is the shared, fixed-name log stream every element
// writes to and any element may read from.
const logStreamKey = "log"

// responseStreamKey returns the on-wire key of element's response
// stream. Mirrors atom/element.py's _make_response_id.
func responseStreamKey(element string) string {
	return "response:" + element
}

// commandStreamKey returns the on-wire key of element's command
// stream. Mirrors _make_command_id.
func commandStreamKey(element string) string {
	return "command:" + element
}

// dataStreamKey returns the on-wire key of element's stream named
// stream. Mirrors _make_stream_id.
func dataStreamKey(element, stream string) string {
	return fmt.Sprintf("stream:%s:%s", element, stream)
}

// newReferenceKey returns a fresh, globally unique reference key
// prefix (owner + uuid) with no ":ser:<tag>" suffix yet attached.
// Mirrors _make_reference_id.
func newReferenceKey(owner string) string {
	return fmt.Sprintf("reference:%s:%s", owner, uuid.New().String())
}

// GetAllElements enumerates every element currently registered with
// the backing server (i.e. every response:* key), per spec.md §4.2.
func (e *Element) GetAllElements(ctx context.Context) ([]string, error) {
	keys, err := e.pool.client.Keys(ctx, responseStreamKey("*")).Result()
	if err != nil {
		return nil, fmt.Errorf("atom: get all elements: %w", err)
	}
	names := make([]string, 0, len(keys))
	for _, k := range keys {
		names = append(names, k[len("response:"):])
	}
	return names, nil
}

// GetAllStreams enumerates every stream owned by element (all
// elements, by default), per spec.md §4.2.
func (e *Element) GetAllStreams(ctx context.Context, element string) ([]string, error) {
	if element == "" {
		element = "*"
	}
	pattern := dataStreamKey(element, "*")
	keys, err := e.pool.client.Keys(ctx, pattern).Result()
	if err != nil {
		return nil, fmt.Errorf("atom: get all streams: %w", err)
	}
	return keys, nil
}
