package handlecache

import (
	"context"
	"testing"
)

// testContext stands in for testing.T.Context, which requires Go 1.24. The
// returned context is canceled when the test finishes.
func testContext(t testing.TB) context.Context {
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	return ctx
}
