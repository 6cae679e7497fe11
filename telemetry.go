package atom

import (
	"time"

	"github.com/getsentry/sentry-go"
)

// telemetry wraps the optional Sentry client an Element reports
// command-loop panics through. captureError is not called from any
// path in this package, so init failures are not reported. Grounded on
// server/pkg/telemetry/sentry.go's InitSentry/CaptureError; unlike that
// file this is scoped to one Element rather than process-global, since
// a single process may host more than one element.
type telemetry struct {
	enabled bool
	element string
}

// InitTelemetry turns on Sentry reporting for dsn. Passing an empty
// dsn leaves telemetry disabled -- this is not an error, matching
// InitSentry's "Sentry disabled" behavior for an empty DSN.
func (e *Element) InitTelemetry(dsn string) error {
	if dsn == "" {
		e.telemetry = telemetry{enabled: false, element: e.name}
		return nil
	}
	if err := sentry.Init(sentry.ClientOptions{
		Dsn:              dsn,
		AttachStacktrace: true,
	}); err != nil {
		return err
	}
	e.telemetry = telemetry{enabled: true, element: e.name}
	return nil
}

func (t telemetry) captureCommandPanic(cmd string, r interface{}) {
	if !t.enabled {
		return
	}
	sentry.WithScope(func(scope *sentry.Scope) {
		scope.SetTag("atom.element", t.element)
		scope.SetTag("atom.cmd", cmd)
		sentry.CurrentHub().Recover(r)
	})
}

func (t telemetry) captureError(err error, tags map[string]string) {
	if !t.enabled || err == nil {
		return
	}
	sentry.WithScope(func(scope *sentry.Scope) {
		scope.SetTag("atom.element", t.element)
		for k, v := range tags {
			scope.SetTag(k, v)
		}
		sentry.CaptureException(err)
	})
}

// FlushTelemetry blocks up to timeout for any buffered Sentry events to
// send. Call it before process exit, the way InitSentry's doc comment
// recommends deferring sentry.Flush.
func FlushTelemetry(timeout time.Duration) bool {
	return sentry.Flush(timeout)
}
