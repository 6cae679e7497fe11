package atom

import (
	"context"
	"testing"
	"time"

	"github.com/npekslin/atom/serialization"
)

func TestEntryWriteRejectsReservedKey(t *testing.T) {
	ctx := context.Background()
	el, _ := newTestElement(t, "camera")

	_, err := el.EntryWrite(ctx, "images", map[string]interface{}{"cmd_id": "nope"})
	if err == nil {
		t.Fatal("expected error writing a reserved field name")
	}
}

func TestEntryWriteAndReadN(t *testing.T) {
	ctx := context.Background()
	el, _ := newTestElement(t, "camera")

	id1, err := el.EntryWrite(ctx, "images", map[string]interface{}{"frame": []byte("one")})
	if err != nil {
		t.Fatalf("EntryWrite: %v", err)
	}
	id2, err := el.EntryWrite(ctx, "images", map[string]interface{}{"frame": []byte("two")})
	if err != nil {
		t.Fatalf("EntryWrite: %v", err)
	}
	if id1 == id2 {
		t.Fatal("expected distinct entry ids")
	}

	entries, err := el.EntryReadN(ctx, "camera", "images", 10)
	if err != nil {
		t.Fatalf("EntryReadN: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("EntryReadN returned %d entries, want 2", len(entries))
	}
	// XREVRANGE returns newest first.
	if entries[0].ID() != id2 || entries[1].ID() != id1 {
		t.Errorf("EntryReadN order: got ids %q, %q", entries[0].ID(), entries[1].ID())
	}
	if string(entries[0]["frame"].([]byte)) != "two" {
		t.Errorf("entries[0][\"frame\"] = %v, want \"two\"", entries[0]["frame"])
	}
}

func TestEntryWriteWithMsgpackRoundTrip(t *testing.T) {
	ctx := context.Background()
	el, _ := newTestElement(t, "camera")

	_, err := el.EntryWrite(ctx, "telemetry",
		map[string]interface{}{"speed": 42},
		WithWriteSerialization(serialization.Msgpack),
	)
	if err != nil {
		t.Fatalf("EntryWrite: %v", err)
	}

	entries, err := el.EntryReadN(ctx, "camera", "telemetry", 1)
	if err != nil {
		t.Fatalf("EntryReadN: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("got %d entries, want 1", len(entries))
	}
	speed, ok := entries[0]["speed"].(int64)
	if !ok {
		t.Fatalf("entries[0][\"speed\"] is %T, want int64", entries[0]["speed"])
	}
	if speed != 42 {
		t.Errorf("speed = %d, want 42", speed)
	}
}

func TestEntryReadSinceFromZeroReturnsAll(t *testing.T) {
	ctx := context.Background()
	el, _ := newTestElement(t, "camera")

	if _, err := el.EntryWrite(ctx, "images", map[string]interface{}{"frame": []byte("one")}); err != nil {
		t.Fatalf("EntryWrite: %v", err)
	}
	if _, err := el.EntryWrite(ctx, "images", map[string]interface{}{"frame": []byte("two")}); err != nil {
		t.Fatalf("EntryWrite: %v", err)
	}

	entries, err := el.EntryReadSince(ctx, "camera", "images", "0")
	if err != nil {
		t.Fatalf("EntryReadSince: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("EntryReadSince returned %d entries, want 2", len(entries))
	}
}

func TestEntryReadLoopDispatchesToHandler(t *testing.T) {
	ctx := context.Background()
	el, _ := newTestElement(t, "camera")

	if _, err := el.EntryWrite(ctx, "images", map[string]interface{}{"frame": []byte("one")}); err != nil {
		t.Fatalf("EntryWrite: %v", err)
	}

	var received []Entry
	handler := StreamHandler{
		Element: "camera",
		Stream:  "images",
		Handler: func(e Entry) { received = append(received, e) },
	}

	// The loop subscribes from the server's current time (only entries
	// written after the call starts), so with nothing new arriving it should return cleanly
	// once the block timeout elapses rather than hang.
	if err := el.EntryReadLoop(ctx, []StreamHandler{handler}, 1, 50*time.Millisecond); err != nil {
		t.Fatalf("EntryReadLoop: %v", err)
	}
	if len(received) != 0 {
		t.Errorf("expected no entries dispatched, got %d", len(received))
	}
}
