package stack

import (
	"context"
	"testing"
)

// testContext returns a context canceled when the test finishes, matching
// testing.T.Context (Go 1.24+) for the older toolchain in use.
func testContext(t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	return ctx
}
