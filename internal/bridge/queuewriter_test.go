package bridge

import (
	"context"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/google/go-cmp/cmp"
	"net/http"
	"net/http/httptest"
)

// wsEchoServer upgrades to a WebSocket and records every text frame it
// receives on recv, used to exercise pipeQueueToWS without a real upstream.
func wsEchoServer(t *testing.T, recv chan<- string) *httptest.Server {
	t.Helper()
	upgrader := websocket.Upgrader{}
	srv := httptest.NewUnstartedServer(nil)
	mux := http.NewServeMux()
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		for {
			_, data, err := conn.ReadMessage()
			if err != nil {
				return
			}
			recv <- string(data)
		}
	})
	srv.Config.Handler = mux
	srv.Start()
	return srv
}

func dialTestWS(t *testing.T, url string) *wsConn {
	t.Helper()
	conn, _, err := dialUpstream(context.Background(), url)
	if err != nil {
		t.Fatalf("dialUpstream() = %v", err)
	}
	return conn
}

func TestUnwrapSSEData(t *testing.T) {
	cases := []struct {
		name string
		in   string
		want string
	}{
		{"plain json passthrough", `{"jsonrpc":"2.0"}`, `{"jsonrpc":"2.0"}`},
		{"data line with json", `data: {"a": 1, "b": 2}`, `{"a":1,"b":2}`},
		{"data line with non-json", "data: hello", "hello"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := string(unwrapSSEData(Message(tc.in)))
			if got != tc.want {
				t.Fatalf("unwrapSSEData(%q) = %q, want %q", tc.in, got, tc.want)
			}
		})
	}
}

func TestPreviewOfTruncates(t *testing.T) {
	long := make([]byte, 500)
	for i := range long {
		long[i] = 'a'
	}
	got := previewOf(Message(long))
	if len(got) != 203 {
		t.Fatalf("previewOf() length = %d, want 203 (200 + \"...\")", len(got))
	}
}

func TestPipeQueueToWSSendsEnqueuedMessages(t *testing.T) {
	recv := make(chan string, 4)
	httpSrv := wsEchoServer(t, recv)
	defer httpSrv.Close()

	wsURL := "ws" + httpSrv.URL[len("http"):]
	conn := dialTestWS(t, wsURL)
	defer conn.Close(1000, "test done")

	cc := NewConnCtx(ModeStdio, testLogger(), conn, func() {})
	defer cc.Queue.Stop()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	errCh := make(chan error, 1)
	go func() { errCh <- pipeQueueToWS(ctx, cc) }()

	want := `{"jsonrpc":"2.0","method":"tools/list"}`
	if err := cc.Queue.Add(context.Background(), Message(want)); err != nil {
		t.Fatalf("Add() = %v", err)
	}

	select {
	case got := <-recv:
		if diff := cmp.Diff(want, got); diff != "" {
			t.Fatalf("received message mismatch (-want +got):\n%s", diff)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for message to arrive over websocket")
	}

	cancel()
	select {
	case <-errCh:
	case <-time.After(time.Second):
		t.Fatal("pipeQueueToWS did not exit after context cancellation")
	}
}
