package atom

import (
	"context"
	"net"
	"strconv"
	"testing"
)

func TestNewElementRegistersDiscoverySentinels(t *testing.T) {
	el, mr := newTestElement(t, "camera")

	if el.Name() != "camera" {
		t.Errorf("Name() = %q, want camera", el.Name())
	}
	if !mr.Exists(responseStreamKey("camera")) {
		t.Error("NewElement should create the element's response stream")
	}
	if !mr.Exists(commandStreamKey("camera")) {
		t.Error("NewElement should create the element's command stream")
	}
}

func TestGetAllElements(t *testing.T) {
	ctx := context.Background()
	el, mr := newTestElement(t, "camera")

	host, portStr, err := net.SplitHostPort(mr.Addr())
	if err != nil {
		t.Fatalf("split miniredis addr: %v", err)
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		t.Fatalf("parse miniredis port: %v", err)
	}
	other, err := NewElement(ctx, "logger", Config{Host: host, Port: port})
	if err != nil {
		t.Fatalf("NewElement(logger): %v", err)
	}
	defer other.Close(ctx)

	names, err := el.GetAllElements(ctx)
	if err != nil {
		t.Fatalf("GetAllElements: %v", err)
	}
	seen := map[string]bool{}
	for _, n := range names {
		seen[n] = true
	}
	if !seen["camera"] || !seen["logger"] {
		t.Errorf("GetAllElements() = %v, want to contain camera and logger", names)
	}
}

func TestCleanUpStreamRejectsUnknownStream(t *testing.T) {
	ctx := context.Background()
	el, _ := newTestElement(t, "camera")

	if err := el.CleanUpStream(ctx, "never_written"); err == nil {
		t.Error("CleanUpStream should fail for a stream this element never wrote to")
	}
}

func TestCleanUpStreamDeletesOwnedStream(t *testing.T) {
	ctx := context.Background()
	el, mr := newTestElement(t, "camera")

	if _, err := el.EntryWrite(ctx, "images", map[string]interface{}{"frame": "x"}); err != nil {
		t.Fatalf("EntryWrite: %v", err)
	}
	if !mr.Exists(dataStreamKey("camera", "images")) {
		t.Fatal("expected stream to exist after EntryWrite")
	}

	if err := el.CleanUpStream(ctx, "images"); err != nil {
		t.Fatalf("CleanUpStream: %v", err)
	}
	if mr.Exists(dataStreamKey("camera", "images")) {
		t.Error("CleanUpStream should delete the underlying stream key")
	}
}

func TestHealthcheckSetOverridesDefault(t *testing.T) {
	el, _ := newTestElement(t, "camera")

	el.HealthcheckSet(func() Response {
		return Response{ErrCode: InternalError, ErrStr: "nope"}
	})

	el.handlersMu.RLock()
	spec := el.handlers[CommandHealthcheck]
	el.handlersMu.RUnlock()
	if spec == nil || spec.noArgHandler == nil {
		t.Fatal("expected healthcheck handler to be registered")
	}
	resp := spec.noArgHandler()
	if resp.ErrCode != InternalError {
		t.Errorf("overridden healthcheck returned ErrCode %d, want %d", resp.ErrCode, InternalError)
	}
}
