// Package notify publishes pipeline events to an external listener.
package notify

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net/url"
	"time"

	"github.com/specialistvlad/stagegate/internal/ctxlog"
	"github.com/zishang520/engine.io-client-go/transports"
	"github.com/zishang520/engine.io/v2/types"
	"github.com/zishang520/socket.io-client-go/socket"
)

// TransitionEvent is the event name used for stage transitions.
const TransitionEvent = "stage_transition"

// DefaultDialTimeout bounds how long Dial waits for the handshake.
const DefaultDialTimeout = 15 * time.Second

// Emitter sends events to a listener.
type Emitter interface {
	Emit(ctx context.Context, event string, payload any) error
	Close() error
}

// Nop discards every event. It is used when no listener is configured.
type Nop struct{}

func (Nop) Emit(context.Context, string, any) error { return nil }
func (Nop) Close() error                            { return nil }

// Options configures a socket.io connection.
type Options struct {
	URL                string
	Namespace          string
	InsecureSkipVerify bool
	Timeout            time.Duration
}

// SocketIO emits events over a socket.io connection.
type SocketIO struct {
	io *socket.Socket
}

// Dial connects to a socket.io server and waits for the handshake.
func Dial(ctx context.Context, o Options) (*SocketIO, error) {
	logger := ctxlog.FromContext(ctx).With("component", "notify", "url", o.URL)

	parsed, err := url.Parse(o.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse notify URL: %w", err)
	}
	if parsed.Scheme == "" || parsed.Host == "" {
		return nil, fmt.Errorf("notify URL %q must include a scheme and host", o.URL)
	}
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("context cancelled before socket.io connection: %w", err)
	}
	timeout := o.Timeout
	if timeout <= 0 {
		timeout = DefaultDialTimeout
	}

	opts := socket.DefaultOptions()
	if parsed.Path != "" {
		opts.SetPath(parsed.Path)
	}
	if o.InsecureSkipVerify {
		logger.Warn("Skipping TLS certificate verification")
		opts.SetTLSClientConfig(&tls.Config{InsecureSkipVerify: true})
	}
	opts.SetTransports(types.NewSet(transports.WebSocket))
	opts.SetReconnection(false)
	opts.SetAutoConnect(false)
	opts.SetTimeout(timeout)

	baseURL := fmt.Sprintf("%s://%s", parsed.Scheme, parsed.Host)
	done := make(chan dialResult)
	abandon := make(chan struct{})
	go connect(baseURL, o.Namespace, opts, done, abandon)

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case r := <-done:
		if r.err != nil {
			return nil, fmt.Errorf("socket.io connection failed: %w", r.err)
		}
		logger.Debug("Notify listener connected.", "sid", r.io.Id())
		logger.Info("🔔 Notify listener attached.")
		return &SocketIO{io: r.io}, nil
	case <-ctx.Done():
		close(abandon)
		return nil, fmt.Errorf("context cancelled while waiting for socket.io connection: %w", ctx.Err())
	case <-timer.C:
		close(abandon)
		return nil, fmt.Errorf("timed out after %s waiting for socket.io connection", timeout)
	}
}

type dialResult struct {
	io  *socket.Socket
	err error
}

// connect owns the socket until it is handed over on done. The transport
// dial can block without a deadline, so it runs here where Dial can walk
// away from it; an abandoned socket is disconnected once the dial returns.
func connect(baseURL, namespace string, opts *socket.Options, done chan<- dialResult, abandon <-chan struct{}) {
	ready := make(chan error, 1)
	io := socket.NewManager(baseURL, opts).Socket(namespace, opts)
	io.Once(types.EventName("connect"), func(...any) {
		select {
		case ready <- nil:
		default:
		}
	})
	io.Once(types.EventName("connect_error"), func(errs ...any) {
		err := errors.New("connect_error")
		if len(errs) > 0 {
			if e, ok := errs[0].(error); ok {
				err = e
			}
		}
		select {
		case ready <- err:
		default:
		}
	})

	io.Connect()

	var r dialResult
	select {
	case err := <-ready:
		r = dialResult{io: io, err: err}
	case <-abandon:
		io.Disconnect()
		return
	}
	if r.err != nil {
		io.Disconnect()
		r.io = nil
	}
	select {
	case done <- r:
	case <-abandon:
		if r.io != nil {
			io.Disconnect()
		}
	}
}

// Emit sends one event. Delivery is fire-and-forget.
func (s *SocketIO) Emit(ctx context.Context, event string, payload any) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := s.io.Emit(event, payload); err != nil {
		return fmt.Errorf("emit %s: %w", event, err)
	}
	return nil
}

// Close disconnects from the server.
func (s *SocketIO) Close() error {
	s.io.Disconnect()
	return nil
}

// Open returns a SocketIO emitter when a URL is configured and Nop otherwise.
func Open(ctx context.Context, o Options) (Emitter, error) {
	if o.URL == "" {
		return Nop{}, nil
	}
	return Dial(ctx, o)
}

// Forward returns a listener that emits each value as event. Errors are
// logged and never interrupt the caller.
func Forward[T any](ctx context.Context, e Emitter, event string) func(T) {
	logger := ctxlog.FromContext(ctx)
	return func(v T) {
		if err := e.Emit(ctx, event, v); err != nil {
			logger.Warn("Failed to emit notification.", "event", event, "error", err)
		}
	}
}
