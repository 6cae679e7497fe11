// Package atom implements the Atom element runtime: the command/
// response RPC protocol, the multi-stream publish/subscribe engine,
// the expiring-reference store, and the connection/pipeline pool that
// backs all three (spec.md §2).
package atom

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"sync"

	"github.com/redis/go-redis/v9"
	"go.uber.org/atomic"

	"github.com/npekslin/atom/internal/luascript"
	"github.com/npekslin/atom/serialization"
)

// commandSpec is a registered handler plus its dispatch metadata.
type commandSpec struct {
	handler       HandlerFunc
	noArgHandler  NoArgHandlerFunc // set only for the three built-ins
	serialization string
	timeout       int64 // milliseconds, reported in the acknowledge
}

// Element is a named process-local endpoint: one unit of RPC identity
// and of stream ownership (spec.md §3). The zero Element is not usable;
// construct one with NewElement.
type Element struct {
	name string
	host string

	pool   *pipelinePool
	logger *slog.Logger
	serde  *serialization.Registry

	handlersMu sync.RWMutex
	handlers   map[string]*commandSpec

	streamsMu sync.Mutex
	streams   map[string]struct{}

	commandLastID string // owned solely by the command loop goroutine

	responseCursor *responseCursor

	stopCh  chan struct{}
	stopped atomic.Bool

	referenceScriptSHA string // empty if the script failed to load

	telemetry telemetry
}

// ElementOption configures optional behavior at construction time.
type ElementOption func(*elementOptions)

type elementOptions struct {
	logger *slog.Logger
}

// WithLogger overrides the element's structured logger. If not given,
// NewElement builds a JSON logger writing to stdout at Info level.
func WithLogger(l *slog.Logger) ElementOption {
	return func(o *elementOptions) { o.logger = l }
}

// NewElement constructs and registers element name with the backing
// server named in cfg: it opens the connection pool, writes the
// discovery sentinels to its own response and command streams (so
// GetAllElements finds it), installs the default healthcheck and the
// version/command_list built-ins, and loads the reference-from-stream
// script. Per spec.md §4.1/§7, any failure to connect is fatal;
// failure to load the reference script is logged and leaves
// ReferenceCreateFromStream permanently disabled for this element.
func NewElement(ctx context.Context, name string, cfg Config, opts ...ElementOption) (*Element, error) {
	if name == "" {
		return nil, fmt.Errorf("atom: element name must not be empty")
	}

	options := elementOptions{logger: cfg.Logger}
	for _, opt := range opts {
		opt(&options)
	}
	if options.logger == nil {
		options.logger = newDefaultLogger()
	}

	pool, err := newPipelinePool(name, cfg)
	if err != nil {
		return nil, err
	}

	host, _ := os.Hostname()

	e := &Element{
		name:           name,
		host:           host,
		pool:           pool,
		logger:         options.logger.With("element", name),
		serde:          serialization.NewRegistry(),
		handlers:       make(map[string]*commandSpec),
		streams:        make(map[string]struct{}),
		responseCursor: newResponseCursor(),
		stopCh:         make(chan struct{}),
	}

	if err := e.registerDiscoverySentinels(ctx); err != nil {
		_ = pool.close()
		return nil, err
	}

	e.HealthcheckSet(func() Response { return Response{} })
	e.registerBuiltins()
	e.loadReferenceScript(ctx)

	e.Log(LogInfo, "element initialized", false)
	return e, nil
}

// registerDiscoverySentinels writes the {language, version} sentinel
// entry to both of the element's own streams and seeds
// commandLastID/responseCursor from the ids the server assigns those
// writes, so the first real read only observes entries strictly after
// construction. Mirrors element.py's __init__ pipeline block.
func (e *Element) registerDiscoverySentinels(ctx context.Context) error {
	sentinel := map[string]interface{}{"language": Lang, "version": Version}

	var respCmd, cmdCmd *redis.StringCmd
	err := e.pool.withPipeline(ctx, func(p redis.Pipeliner) {
		respCmd = p.XAdd(ctx, &redis.XAddArgs{
			Stream: responseStreamKey(e.name),
			MaxLen: DefaultStreamLen,
			Approx: true,
			Values: sentinel,
		})
		cmdCmd = p.XAdd(ctx, &redis.XAddArgs{
			Stream: commandStreamKey(e.name),
			MaxLen: DefaultStreamLen,
			Approx: true,
			Values: sentinel,
		})
	})
	if err != nil {
		return fmt.Errorf("atom: could not register element %q: %w", e.name, err)
	}

	e.responseCursor.set(respCmd.Val())
	e.commandLastID = cmdCmd.Val()
	return nil
}

// loadReferenceScript best-effort loads the reference_create_from_stream
// script. Failure is logged, not fatal, per spec.md §4.6/§7.
func (e *Element) loadReferenceScript(ctx context.Context) {
	sha, err := e.pool.client.ScriptLoad(ctx, luascript.ReferenceSource).Result()
	if err != nil {
		e.logger.Error("failed to load reference_create_from_stream script", "error", err)
		return
	}
	e.referenceScriptSHA = sha
}

// CleanUpStream deletes the named stream this element has published
// to and stops tracking it. Raises (returns an error) if the element
// never wrote to that stream, mirroring element.py's clean_up_stream.
func (e *Element) CleanUpStream(ctx context.Context, stream string) error {
	e.streamsMu.Lock()
	_, ok := e.streams[stream]
	if ok {
		delete(e.streams, stream)
	}
	e.streamsMu.Unlock()

	if !ok {
		return fmt.Errorf("%w: %q", ErrUnknownStream, stream)
	}
	return e.pool.client.Del(ctx, dataStreamKey(e.name, stream)).Err()
}

// Close tears the element down: deletes every stream it published to,
// then its command and response streams, per spec.md §3/§6. Unlike the
// original Python binding's __del__-based cleanup (spec.md §9, flagged
// as best-effort and GC-timing dependent), Close is the only teardown
// path here -- callers are expected to `defer e.Close(ctx)`.
func (e *Element) Close(ctx context.Context) error {
	e.streamsMu.Lock()
	streams := make([]string, 0, len(e.streams))
	for s := range e.streams {
		streams = append(streams, s)
	}
	e.streams = make(map[string]struct{})
	e.streamsMu.Unlock()

	var firstErr error
	for _, s := range streams {
		if err := e.pool.client.Del(ctx, dataStreamKey(e.name, s)).Err(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if err := e.pool.client.Del(ctx, responseStreamKey(e.name), commandStreamKey(e.name)).Err(); err != nil && firstErr == nil {
		firstErr = err
	}

	if err := e.pool.close(); err != nil && firstErr == nil {
		firstErr = err
	}
	return firstErr
}

// Name returns the element's registered name.
func (e *Element) Name() string { return e.name }

// Host returns the OS nodename captured at construction.
func (e *Element) Host() string { return e.host }
