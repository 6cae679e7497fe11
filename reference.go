package atom

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/npekslin/atom/internal/luascript"
	"github.com/npekslin/atom/serialization"
)

// ReferenceOption configures ReferenceCreate/ReferenceCreateFromStream.
type ReferenceOption func(*referenceOptions)

type referenceOptions struct {
	timeout time.Duration
	ser     string
}

// WithReferenceTimeout overrides the default 10s reference expiry. A
// timeout <= 0 means the reference never expires on its own.
func WithReferenceTimeout(d time.Duration) ReferenceOption {
	return func(o *referenceOptions) { o.timeout = d }
}

// WithReferenceSerialization sets the codec ReferenceCreate encodes
// each value with. Ignored by ReferenceCreateFromStream, whose
// reference inherits the source entry's own "ser" tag.
func WithReferenceSerialization(ser string) ReferenceOption {
	return func(o *referenceOptions) { o.ser = ser }
}

const defaultReferenceTimeout = 10 * time.Second

// ReferenceCreate serializes each value in data and SETs it under a
// freshly minted reference key with NX so a collision (astronomically
// unlikely given the uuid keyspace) surfaces as an error rather than
// silently overwriting, per spec.md §4.6. Returns one key per value,
// in argument order.
func (e *Element) ReferenceCreate(ctx context.Context, data []interface{}, opts ...ReferenceOption) ([]string, error) {
	options := referenceOptions{timeout: defaultReferenceTimeout, ser: serialization.None}
	for _, opt := range opts {
		opt(&options)
	}

	keys := make([]string, len(data))
	results := make([]*redis.BoolCmd, len(data))
	serErrs := make([]error, len(data))
	err := e.pool.withPipeline(ctx, func(p redis.Pipeliner) {
		for i, datum := range data {
			encoded, serErr := e.serde.Serialize(options.ser, datum)
			if serErr != nil {
				serErrs[i] = serErr
				continue
			}
			key := newReferenceKey(e.name) + ":ser:" + options.ser
			keys[i] = key

			var expiry time.Duration
			if options.timeout > 0 {
				expiry = options.timeout
			}
			results[i] = p.SetNX(ctx, key, encoded, expiry)
		}
	})
	if err != nil {
		return nil, fmt.Errorf("atom: reference_create: %w", err)
	}
	for i, r := range results {
		if serErrs[i] != nil {
			return nil, fmt.Errorf("atom: reference_create: %w", serErrs[i])
		}
		if ok, err := r.Result(); err != nil || !ok {
			return nil, fmt.Errorf("atom: reference_create: failed to create reference %d", i)
		}
	}
	referencesCreated.WithLabelValues("value").Add(float64(len(keys)))
	return keys, nil
}

// ReferenceCreateFromStream runs the server-side Lua script that
// snapshots one entry of element's stream name into a set of expiring
// reference keys -- one per field -- without the data ever leaving
// Redis. streamID "" means use the most recent entry; otherwise it
// names an exact entry id. Returns a map from stream field name to
// reference key.
func (e *Element) ReferenceCreateFromStream(ctx context.Context, element, stream, streamID string, opts ...ReferenceOption) (map[string]string, error) {
	options := referenceOptions{timeout: defaultReferenceTimeout}
	for _, opt := range opts {
		opt(&options)
	}
	if e.referenceScriptSHA == "" {
		return nil, ErrScriptUnavailable
	}

	timeoutMS := int64(0)
	if options.timeout > 0 {
		timeoutMS = options.timeout.Milliseconds()
	}

	prefix := newReferenceKey(e.name)
	streamKey := dataStreamKey(element, stream)

	keys, err := e.runReferenceScript(ctx, streamKey, streamID, prefix, timeoutMS)
	if err != nil {
		return nil, fmt.Errorf("atom: reference_create_from_stream: %w", err)
	}

	result := make(map[string]string, len(keys))
	for _, k := range keys {
		parts := strings.Split(k, ":")
		// "<prefix-parts...>:<field>:ser:<tag>" -- field is third from the end.
		if len(parts) < 3 {
			continue
		}
		field := parts[len(parts)-3]
		result[field] = k
	}
	referencesCreated.WithLabelValues("stream").Add(float64(len(keys)))
	return result, nil
}

// runReferenceScript calls EVALSHA and, on NOSCRIPT (e.g. the backing
// server restarted and flushed its script cache), reloads the script
// once and retries -- the retry spec.md §4.6 calls out as the missing
// piece in the original binding.
func (e *Element) runReferenceScript(ctx context.Context, streamKey, streamID, prefix string, timeoutMS int64) ([]string, error) {
	keys, err := e.pool.client.EvalSha(ctx, e.referenceScriptSHA, nil, streamKey, streamID, prefix, timeoutMS).StringSlice()
	if err == nil {
		return keys, nil
	}
	if !strings.Contains(err.Error(), "NOSCRIPT") {
		return nil, err
	}

	sha, loadErr := e.pool.client.ScriptLoad(ctx, luascript.ReferenceSource).Result()
	if loadErr != nil {
		return nil, fmt.Errorf("script unavailable after NOSCRIPT, reload failed: %w", loadErr)
	}
	e.referenceScriptSHA = sha

	return e.pool.client.EvalSha(ctx, e.referenceScriptSHA, nil, streamKey, streamID, prefix, timeoutMS).StringSlice()
}

// ReferenceGet reads and deserializes one or more reference values. A
// key that no longer exists (expired, or never created) decodes to a
// nil element at that position, not an error.
func (e *Element) ReferenceGet(ctx context.Context, keys []string, opts ...ReadOption) ([]interface{}, error) {
	options := readOptions{ser: serialization.None}
	for _, opt := range opts {
		opt(&options)
	}

	results := make([]*redis.StringCmd, len(keys))
	err := e.pool.withPipeline(ctx, func(p redis.Pipeliner) {
		for i, key := range keys {
			results[i] = p.Get(ctx, key)
		}
	})
	// A missing key fails its GET with redis.Nil, which Exec reports as
	// the batch error; those keys are handled one by one below.
	if err != nil && !errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("atom: reference_get: %w", err)
	}

	values := make([]interface{}, len(keys))
	for i, key := range keys {
		raw, err := results[i].Bytes()
		if errors.Is(err, redis.Nil) {
			values[i] = nil
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("atom: reference_get: %w", err)
		}

		ser := referenceKeySerialization(key, options)
		decoded, err := e.serde.Deserialize(ser, raw)
		if err != nil {
			return nil, fmt.Errorf("atom: reference_get: %w", err)
		}
		values[i] = decoded
	}
	return values, nil
}

// referenceKeySerialization extracts the ":ser:<tag>" suffix a
// reference key carries, falling back to the caller-supplied default
// (or forcing it, with WithForceSerialization) the same way entries do.
func referenceKeySerialization(key string, options readOptions) string {
	if options.forceSerialization {
		return options.ser
	}
	if idx := strings.LastIndex(key, ":ser:"); idx >= 0 {
		return key[idx+len(":ser:"):]
	}
	if options.ser != "" {
		return options.ser
	}
	return serialization.None
}

// ReferenceDelete removes one or more reference keys. Returns
// ErrNoSuchReference if any key was already gone.
func (e *Element) ReferenceDelete(ctx context.Context, keys ...string) error {
	n, err := e.pool.client.Del(ctx, keys...).Result()
	if err != nil {
		return fmt.Errorf("atom: reference_delete: %w", err)
	}
	if n != int64(len(keys)) {
		return ErrNoSuchReference
	}
	return nil
}

// ReferenceUpdateTimeoutMS resets key's expiry to timeoutMS
// milliseconds from now, or removes its expiry entirely if
// timeoutMS <= 0. Returns ErrNoSuchReference if key doesn't exist.
func (e *Element) ReferenceUpdateTimeoutMS(ctx context.Context, key string, timeoutMS int64) error {
	var ok bool
	var err error
	if timeoutMS > 0 {
		ok, err = e.pool.client.PExpire(ctx, key, time.Duration(timeoutMS)*time.Millisecond).Result()
	} else {
		ok, err = e.pool.client.Persist(ctx, key).Result()
	}
	if err != nil {
		return fmt.Errorf("atom: reference_update_timeout_ms: %w", err)
	}
	if !ok && timeoutMS <= 0 {
		// PERSIST also reports false for an existing key with no expiry.
		n, err := e.pool.client.Exists(ctx, key).Result()
		if err != nil {
			return fmt.Errorf("atom: reference_update_timeout_ms: %w", err)
		}
		ok = n > 0
	}
	if !ok {
		return ErrNoSuchReference
	}
	return nil
}

// ReferenceGetTimeoutMS returns the remaining time-to-live of key in
// milliseconds, or -1 if key exists but has no expiry. Returns
// ErrNoSuchReference if key doesn't exist (PTTL -2). Uses Do directly
// rather than the PTTL helper so the -1/-2 sentinels come back as
// plain integers instead of being folded into a time.Duration.
func (e *Element) ReferenceGetTimeoutMS(ctx context.Context, key string) (int64, error) {
	ms, err := e.pool.client.Do(ctx, "PTTL", key).Int64()
	if err != nil {
		return 0, fmt.Errorf("atom: reference_get_timeout_ms: %w", err)
	}
	if ms == -2 {
		return 0, ErrNoSuchReference
	}
	return ms, nil
}
