package bridge

import (
	"context"
	"strings"
	"testing"
)

func TestIsResumable(t *testing.T) {
	cases := []struct {
		method string
		want   bool
	}{
		{"tools/list", false},
		{"ping", false},
		{"initialize", false},
		{"session/terminate", false},
		{"tools/call", true},
		{"resources/read", true},
	}
	for _, tc := range cases {
		msg := Message(`{"jsonrpc":"2.0","method":"` + tc.method + `"}`)
		if got := isResumable(msg); got != tc.want {
			t.Errorf("isResumable(method=%q) = %v, want %v", tc.method, got, tc.want)
		}
	}
}

func TestIsResumableNonJSONOrNoMethod(t *testing.T) {
	if isResumable(Message("plain text")) {
		t.Error("isResumable(non-JSON) = true, want false")
	}
	if isResumable(Message(`{"jsonrpc":"2.0","result":{}}`)) {
		t.Error("isResumable(no method) = true, want false")
	}
}

func TestDrainSSEResponseUpdatesLastEventIDAndQueues(t *testing.T) {
	cc := NewConnCtx(ModeStreamableHTTP, testLogger(), nil, func() {})
	defer cc.Queue.Stop()

	stream := "id: evt-1\n" +
		"data: {\"jsonrpc\":\"2.0\",\"id\":1,\"result\":{}}\n" +
		"\n"

	if err := drainSSEResponse(context.Background(), cc, strings.NewReader(stream)); err != nil {
		t.Fatalf("drainSSEResponse() = %v", err)
	}

	if got := cc.LastEventID(); got != "evt-1" {
		t.Fatalf("LastEventID() = %q, want evt-1", got)
	}

	msg, ok := cc.Queue.Get(context.Background())
	if !ok {
		t.Fatal("expected a queued message from the SSE stream")
	}
	want := `{"jsonrpc":"2.0","id":1,"result":{}}`
	if string(msg) != want {
		t.Fatalf("queued message = %q, want %q", msg, want)
	}
}

func TestDrainSSEResponseClosesOn4004Error(t *testing.T) {
	recv := make(chan string, 1)
	wsSrv := wsEchoServer(t, recv)
	defer wsSrv.Close()
	wsURL := "ws" + wsSrv.URL[len("http"):]
	conn := dialTestWS(t, wsURL)

	cc := NewConnCtx(ModeStreamableHTTP, testLogger(), conn, func() {})
	defer cc.Queue.Stop()

	stream := "data: {\"error\": {\"code\": 4004, \"message\": \"boom\"}}\n\n"

	err := drainSSEResponse(context.Background(), cc, strings.NewReader(stream))
	if err != errServerClosed4004 {
		t.Fatalf("drainSSEResponse() = %v, want errServerClosed4004", err)
	}
}
