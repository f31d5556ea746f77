package server

import (
	"errors"
	"io"
	"net"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/sirupsen/logrus"

	"github.com/dcrodman/echod/internal/core/metrics"
	"github.com/dcrodman/echod/internal/message"
)

func newTestLogger() *logrus.Logger {
	logger := logrus.New()
	logger.Out = io.Discard
	return logger
}

// newTestHandler returns a handler on one end of an in-memory connection and
// the other end for the test to play the client.
func newTestHandler(t *testing.T, readBufferSize int) (*handler, net.Conn) {
	serverSide, clientSide := net.Pipe()
	t.Cleanup(func() { clientSide.Close() })

	return &handler{
		connection:     serverSide,
		logger:         newTestLogger(),
		metrics:        metrics.New(prometheus.NewRegistry()),
		readBufferSize: readBufferSize,
		packetLogging:  true,
	}, clientSide
}

func runHandler(h *handler) <-chan error {
	result := make(chan error, 1)
	go func() { result <- h.handle() }()
	return result
}

func TestHandler_Responses(t *testing.T) {
	tests := []struct {
		name    string
		request *message.ClientMessage
		want    *message.ServerMessage
	}{
		{
			name:    "echo",
			request: message.NewEchoRequest("Hello, Server!"),
			want:    message.NewEchoResponse("Hello, Server!"),
		},
		{
			name:    "empty echo",
			request: message.NewEchoRequest(""),
			want:    message.NewEchoResponse(""),
		},
		{
			name:    "add",
			request: message.NewAddRequest(40, 2),
			want:    message.NewAddResponse(42),
		},
		{
			name:    "add wraps around",
			request: message.NewAddRequest(2147483647, 1),
			want:    message.NewAddResponse(-2147483648),
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h, conn := newTestHandler(t, DefaultReadBufferSize)
			result := runHandler(h)

			if _, err := conn.Write(tt.request.Marshal()); err != nil {
				t.Fatalf("error writing request: %v", err)
			}
			response, err := io.ReadAll(conn)
			if err != nil {
				t.Fatalf("error reading response: %v", err)
			}
			if err := <-result; err != nil {
				t.Fatalf("handle() returned an unexpected error: %v", err)
			}

			got, err := message.DecodeServerMessage(response)
			if err != nil {
				t.Fatalf("error decoding response: %v", err)
			}
			if diff := cmp.Diff(tt.want, got); diff != "" {
				t.Errorf("handler sent the wrong response; diff:\n%s", diff)
			}
			if sent := testutil.ToFloat64(h.metrics.ResponsesSent); sent != 1 {
				t.Errorf("ResponsesSent want = 1, got = %v", sent)
			}
		})
	}
}

func TestHandler_ClientDisconnectsWithoutSending(t *testing.T) {
	h, conn := newTestHandler(t, DefaultReadBufferSize)
	result := runHandler(h)

	conn.Close()
	if err := <-result; err != nil {
		t.Errorf("handle() want = nil for an empty connection, got = %v", err)
	}
}

func TestHandler_NoResponseWithoutValidRequest(t *testing.T) {
	tests := []struct {
		name             string
		data             []byte
		wantDecodeErrors float64
	}{
		{name: "garbage", data: []byte{0xff, 0xff, 0xff, 0xff}, wantDecodeErrors: 1},
		{name: "invalid utf-8", data: message.NewEchoRequest("\xc3\x28").Marshal(), wantDecodeErrors: 1},
		{name: "no variant set", data: []byte{0x48, 0x01}, wantDecodeErrors: 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h, conn := newTestHandler(t, DefaultReadBufferSize)
			result := runHandler(h)

			if _, err := conn.Write(tt.data); err != nil {
				t.Fatalf("error writing request: %v", err)
			}
			response, _ := io.ReadAll(conn)
			if len(response) != 0 {
				t.Errorf("expected no response, got %v", response)
			}
			if err := <-result; err != nil {
				t.Errorf("handle() want = nil, got = %v", err)
			}
			if got := testutil.ToFloat64(h.metrics.DecodeErrors); got != tt.wantDecodeErrors {
				t.Errorf("DecodeErrors want = %v, got = %v", tt.wantDecodeErrors, got)
			}
		})
	}
}

func TestHandler_OversizedRequestIsTruncated(t *testing.T) {
	h, conn := newTestHandler(t, 64)
	result := runHandler(h)

	request := message.NewEchoRequest(strings.Repeat("x", 100)).Marshal()
	go conn.Write(request)

	response, _ := io.ReadAll(conn)
	if len(response) != 0 {
		t.Errorf("expected no response to a truncated request, got %d bytes", len(response))
	}
	if err := <-result; err != nil {
		t.Errorf("handle() want = nil, got = %v", err)
	}
	if got := testutil.ToFloat64(h.metrics.DecodeErrors); got != 1 {
		t.Errorf("DecodeErrors want = 1, got = %v", got)
	}
}

func TestHandler_WriteFailure(t *testing.T) {
	h, conn := newTestHandler(t, DefaultReadBufferSize)
	result := runHandler(h)

	if _, err := conn.Write(message.NewEchoRequest("going away").Marshal()); err != nil {
		t.Fatalf("error writing request: %v", err)
	}
	// The pipe is synchronous, so closing before reading fails the handler's write.
	conn.Close()

	select {
	case err := <-result:
		if !errors.Is(err, io.ErrClosedPipe) {
			t.Errorf("handle() error want = %v, got = %v", io.ErrClosedPipe, err)
		}
	case <-time.After(time.Second):
		t.Fatal("handle() did not return after the client went away")
	}
}

func TestHandler_RunCountsErrors(t *testing.T) {
	h, conn := newTestHandler(t, DefaultReadBufferSize)
	done := make(chan struct{})
	go func() {
		h.run()
		close(done)
	}()

	conn.Write(message.NewEchoRequest("going away").Marshal())
	conn.Close()
	<-done

	if got := testutil.ToFloat64(h.metrics.HandlerErrors); got != 1 {
		t.Errorf("HandlerErrors want = 1, got = %v", got)
	}
}
