package atom

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/npekslin/atom/serialization"
)

// WriteOption configures an EntryWrite call.
type WriteOption func(*writeOptions)

type writeOptions struct {
	maxLen int64
	ser    string
}

// WithWriteMaxLen overrides DefaultStreamLen for one EntryWrite call.
func WithWriteMaxLen(n int64) WriteOption {
	return func(o *writeOptions) { o.maxLen = n }
}

// WithWriteSerialization sets the wire tag EntryWrite encodes every
// field's value with. Defaults to serialization.None.
func WithWriteSerialization(ser string) WriteOption {
	return func(o *writeOptions) { o.ser = ser }
}

// EntryWrite serializes each value in fields with the configured
// codec and appends the result as one entry on element's own
// stream name (creating it implicitly, per spec.md §4.4), returning
// the server-assigned entry id. Field keys in reservedEntryKeys are
// rejected with ErrReservedField.
func (e *Element) EntryWrite(ctx context.Context, stream string, fields map[string]interface{}, opts ...WriteOption) (string, error) {
	options := writeOptions{maxLen: DefaultStreamLen, ser: serialization.None}
	for _, opt := range opts {
		opt(&options)
	}

	values := make(map[string]interface{}, len(fields)+1)
	for k, v := range fields {
		if isReservedKey(k) {
			return "", fmt.Errorf("%w: %q", ErrReservedField, k)
		}
		encoded, err := e.serde.Serialize(options.ser, v)
		if err != nil {
			return "", fmt.Errorf("atom: entry_write: %w", err)
		}
		values[k] = encoded
	}
	values["ser"] = options.ser

	e.streamsMu.Lock()
	e.streams[stream] = struct{}{}
	e.streamsMu.Unlock()

	var cmd *redis.StringCmd
	err := e.pool.withPipeline(ctx, func(p redis.Pipeliner) {
		cmd = p.XAdd(ctx, &redis.XAddArgs{
			Stream: dataStreamKey(e.name, stream),
			MaxLen: options.maxLen,
			Approx: true,
			Values: values,
		})
	})
	if err != nil {
		return "", fmt.Errorf("atom: entry_write: %w", err)
	}
	streamWrites.WithLabelValues(stream).Inc()
	return cmd.Val(), nil
}

// ReadOption configures deserialization behavior shared by
// EntryReadLoop, EntryReadN, and EntryReadSince.
type ReadOption func(*readOptions)

type readOptions struct {
	ser             string
	forceSerialization bool
}

// WithReadSerialization sets the fallback deserialization tag used
// when an entry carries no "ser" field of its own.
func WithReadSerialization(ser string) ReadOption {
	return func(o *readOptions) { o.ser = ser }
}

// WithForceSerialization makes every read use ser regardless of the
// "ser" field an entry carries, per spec.md §4.7's force_serialization
// escape hatch for passing data through to another transport layer
// that needs the raw wire bytes.
func WithForceSerialization(ser string) ReadOption {
	return func(o *readOptions) { o.ser = ser; o.forceSerialization = true }
}

func (e *Element) decodeEntry(id string, values map[string]interface{}, opts readOptions) Entry {
	entry := make(Entry, len(values)+1)
	ser := opts.ser
	if tag, ok := values["ser"].(string); ok && tag != "" && !opts.forceSerialization {
		ser = tag
	}
	if ser == "" {
		ser = serialization.None
	}

	for k, v := range values {
		if k == "ser" {
			continue
		}
		raw := toBytes(v)
		decoded, err := e.serde.Deserialize(ser, raw)
		if err != nil {
			entry[k] = raw
			continue
		}
		entry[k] = decoded
	}
	entry["id"] = id
	return entry
}

// EntryReadLoop subscribes to every stream named in handlers and
// dispatches each new entry, in arrival order, to its StreamHandler.
// It blocks until ctx is canceled, timeout elapses with no new
// entries on any subscribed stream, or loops rounds have run (loops
// <= 0 means run forever).
func (e *Element) EntryReadLoop(ctx context.Context, handlers []StreamHandler, loops int, timeout time.Duration, opts ...ReadOption) error {
	options := readOptions{ser: serialization.None}
	for _, opt := range opts {
		opt(&options)
	}
	if len(handlers) == 0 {
		return fmt.Errorf("atom: entry_read_loop: no stream handlers given")
	}

	// Every cursor starts at the server's current time, so only entries
	// written after the call starts are delivered and a stream that is
	// idle in one round does not lose entries that arrive before the next.
	now, err := e.pool.client.Time(ctx).Result()
	if err != nil {
		return fmt.Errorf("atom: entry_read_loop: %w", err)
	}
	start := fmt.Sprintf("%d-0", now.UnixMilli())

	cursors := make(map[string]string, len(handlers))
	dispatch := make(map[string]EntryHandlerFunc, len(handlers))
	for _, h := range handlers {
		key := dataStreamKey(h.Element, h.Stream)
		cursors[key] = start
		dispatch[key] = h.Handler
	}

	for round := 0; loops <= 0 || round < loops; round++ {
		block := timeout
		if block <= 0 {
			block = MaxBlock
		}

		args := make([]string, 0, len(cursors)*2)
		keys := make([]string, 0, len(cursors))
		for key := range cursors {
			keys = append(keys, key)
		}
		for _, key := range keys {
			args = append(args, key)
		}
		for _, key := range keys {
			args = append(args, cursors[key])
		}

		res, err := e.pool.client.XRead(ctx, &redis.XReadArgs{
			Streams: args,
			Block:   block,
		}).Result()
		if err == redis.Nil {
			return nil
		}
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("atom: entry_read_loop: %w", err)
		}
		if len(res) == 0 {
			return nil
		}

		for _, streamRes := range res {
			handler, ok := dispatch[streamRes.Stream]
			if !ok {
				continue
			}
			for _, msg := range streamRes.Messages {
				cursors[streamRes.Stream] = msg.ID
				handler(e.decodeEntry(msg.ID, msg.Values, options))
			}
		}
	}
	return nil
}

// EntryReadN returns the n most recent entries from element's stream
// name, newest first.
func (e *Element) EntryReadN(ctx context.Context, element, stream string, n int64, opts ...ReadOption) ([]Entry, error) {
	options := readOptions{ser: serialization.None}
	for _, opt := range opts {
		opt(&options)
	}

	res, err := e.pool.client.XRevRangeN(ctx, dataStreamKey(element, stream), "+", "-", n).Result()
	if err != nil {
		return nil, fmt.Errorf("atom: entry_read_n: %w", err)
	}

	entries := make([]Entry, 0, len(res))
	for _, msg := range res {
		entries = append(entries, e.decodeEntry(msg.ID, msg.Values, options))
	}
	return entries, nil
}

// ReadSinceOption configures EntryReadSince.
type ReadSinceOption func(*readSinceOptions)

type readSinceOptions struct {
	readOptions
	count int64
	block time.Duration
}

// WithSinceCount limits EntryReadSince to at most n entries.
func WithSinceCount(n int64) ReadSinceOption {
	return func(o *readSinceOptions) { o.count = n }
}

// WithSinceBlock makes EntryReadSince block up to d waiting for at
// least one new entry if none are immediately available. d <= 0 means
// don't block, matching the Python binding's block=None default.
func WithSinceBlock(d time.Duration) ReadSinceOption {
	return func(o *readSinceOptions) { o.block = d }
}

// WithSinceSerialization is WithReadSerialization for EntryReadSince.
func WithSinceSerialization(ser string) ReadSinceOption {
	return func(o *readSinceOptions) { o.ser = ser }
}

// EntryReadSince returns entries appended to element's stream name
// after lastID ("$" for only entries written after this call begins
// blocking, "0" for the full stream history).
func (e *Element) EntryReadSince(ctx context.Context, element, stream, lastID string, opts ...ReadSinceOption) ([]Entry, error) {
	options := readSinceOptions{readOptions: readOptions{ser: serialization.None}}
	for _, opt := range opts {
		opt(&options)
	}

	args := &redis.XReadArgs{
		Streams: []string{dataStreamKey(element, stream), lastID},
	}
	if options.count > 0 {
		args.Count = options.count
	}
	if options.block > 0 {
		args.Block = options.block
	} else {
		args.Block = -1 // go-redis: negative Block means don't block
	}

	res, err := e.pool.client.XRead(ctx, args).Result()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("atom: entry_read_since: %w", err)
	}

	entries := make([]Entry, 0)
	streamKey := dataStreamKey(element, stream)
	for _, streamRes := range res {
		if streamRes.Stream != streamKey {
			continue
		}
		for _, msg := range streamRes.Messages {
			entries = append(entries, e.decodeEntry(msg.ID, msg.Values, options.readOptions))
		}
	}
	return entries, nil
}
