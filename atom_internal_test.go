package atom

import (
	"context"
	"net"
	"strconv"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
)

// newTestElement starts a miniredis instance and an Element backed by
// it, registering cleanup of both with t. Grounded on the same
// in-memory-Redis pattern GoCodeAlone-workflow's test suite uses
// (alicebob/miniredis/v2).
func newTestElement(t *testing.T, name string) (*Element, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)

	host, portStr, err := net.SplitHostPort(mr.Addr())
	if err != nil {
		t.Fatalf("split miniredis addr: %v", err)
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		t.Fatalf("parse miniredis port: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	el, err := NewElement(ctx, name, Config{Host: host, Port: port})
	if err != nil {
		t.Fatalf("NewElement: %v", err)
	}
	t.Cleanup(func() { el.Close(context.Background()) })

	return el, mr
}
