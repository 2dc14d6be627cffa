package bridge

import (
	"context"
	"errors"
	"strings"
	"testing"
)

func TestNormalizeMessageEndpoint(t *testing.T) {
	cases := []struct {
		name string
		base string
		raw  string
		want string
	}{
		{
			name: "plain path no query",
			base: "http://localhost:8000",
			raw:  "/messages",
			want: "http://localhost:8000/messages",
		},
		{
			name: "message path collapses, session query preserved",
			base: "http://localhost:8000",
			raw:  "/some/nested/message/path?sessionId=abc",
			want: "http://localhost:8000/message?sessionId=abc",
		},
		{
			name: "trailing slash on base trimmed",
			base: "http://localhost:8000/",
			raw:  "message?sessionId=abc",
			want: "http://localhost:8000/message?sessionId=abc",
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := normalizeMessageEndpoint(tc.base, tc.raw)
			if got != tc.want {
				t.Fatalf("normalizeMessageEndpoint(%q, %q) = %q, want %q", tc.base, tc.raw, got, tc.want)
			}
		})
	}
}

func TestSSEIngressDispatchesEndpointAndMessage(t *testing.T) {
	cc := NewConnCtx(ModeSSE, testLogger(), nil, func() {})
	defer cc.Queue.Stop()

	stream := "event: endpoint\n" +
		"data: /message?sessionId=xyz\n" +
		"\n" +
		"event: message\n" +
		"data: {\"jsonrpc\":\"2.0\",\"id\":1,\"result\":{}}\n" +
		"\n"

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- sseIngress(ctx, cc, strings.NewReader(stream)) }()

	select {
	case err := <-done:
		if !errors.Is(err, errSSEStreamClosed) {
			t.Fatalf("sseIngress() = %v, want errSSEStreamClosed at end of stream", err)
		}
	}

	path, ok := cc.Endpoint(context.Background())
	if !ok || path != "/message?sessionId=xyz" {
		t.Fatalf("Endpoint() = (%q, %v), want (/message?sessionId=xyz, true)", path, ok)
	}

	msg, ok := cc.Queue.Get(context.Background())
	if !ok {
		t.Fatal("expected a queued message from the SSE message event")
	}
	want := `{"jsonrpc":"2.0","id":1,"result":{}}`
	if string(msg) != want {
		t.Fatalf("queued message = %q, want %q", msg, want)
	}
}

func TestDispatchSSEMessageUnwrapsWrapper(t *testing.T) {
	cc := NewConnCtx(ModeSSE, testLogger(), nil, func() {})
	defer cc.Queue.Stop()

	dispatchSSEMessage(context.Background(), cc, `{"message": "hello there"}`)

	msg, ok := cc.Queue.Get(context.Background())
	if !ok || string(msg) != "hello there" {
		t.Fatalf("queued message = (%q, %v), want (hello there, true)", msg, ok)
	}
}
