package kit

import (
	"context"
	"testing"
)

func TestContextValues(t *testing.T) {
	ctx := context.Background()
	if got := GetTransport(ctx); got != "http" {
		t.Fatalf("default transport: got %q", got)
	}
	if got := GetRequestID(ctx); got != "" {
		t.Fatalf("empty request id: got %q", got)
	}

	ctx = WithTransport(ctx, "mcp")
	ctx = WithRequestID(ctx, "res_1")
	ctx = WithTraceID(ctx, "abcd1234")

	if got := GetTransport(ctx); got != "mcp" {
		t.Fatalf("transport: got %q", got)
	}
	if got := GetRequestID(ctx); got != "res_1" {
		t.Fatalf("request id: got %q", got)
	}
	if got := GetTraceID(ctx); got != "abcd1234" {
		t.Fatalf("trace id: got %q", got)
	}
}
