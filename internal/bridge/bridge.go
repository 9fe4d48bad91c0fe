// Package bridge forwards graph events to a remote editor over a
// socket.io connection. The core never imports this package; the
// application attaches a Bridge to a graph when a bridge URL is
// configured, and every event the graph emits is re-emitted remotely
// under its event type name.
package bridge

import (
	"context"
	"crypto/tls"
	"fmt"
	"log/slog"
	"net/url"
	"time"

	"github.com/zishang520/engine.io-client-go/transports"
	"github.com/zishang520/engine.io/v2/types"
	"github.com/zishang520/socket.io-client-go/socket"

	"github.com/tensorgrid/tensorgrid/internal/ctxlog"
	"github.com/tensorgrid/tensorgrid/internal/graph"
)

// Config holds the bridge connection settings.
type Config struct {
	URL       string
	Namespace string
	// InsecureSkipVerify disables TLS certificate verification.
	InsecureSkipVerify bool
	// ConnectTimeout bounds the initial handshake. Zero means 15s.
	ConnectTimeout time.Duration
}

// Bridge is one live editor connection subscribed to at most one graph.
type Bridge struct {
	logger *slog.Logger
	io     *socket.Socket
	send   func(event string, payload map[string]any)
	unsub  func()
}

// Dial connects to the remote editor and blocks until the handshake
// completes, the context is cancelled or the timeout elapses.
func Dial(ctx context.Context, cfg Config) (*Bridge, error) {
	logger := ctxlog.FromContext(ctx).With("url", cfg.URL)

	parsed, err := url.Parse(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("parsing bridge url: %w", err)
	}
	timeout := cfg.ConnectTimeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}

	opts := socket.DefaultOptions()
	opts.SetPath(parsed.Path)
	if cfg.InsecureSkipVerify {
		logger.Warn("Skipping TLS certificate verification.")
		opts.SetTLSClientConfig(&tls.Config{InsecureSkipVerify: true})
	}
	opts.SetTransports(types.NewSet(transports.WebSocket))

	connectChan := make(chan error, 1)
	base := fmt.Sprintf("%s://%s", parsed.Scheme, parsed.Host)
	manager := socket.NewManager(base, opts)
	io := manager.Socket(cfg.Namespace, opts)

	io.Once(types.EventName("connect"), func(...any) {
		logger.Info("Bridge connected.", "sid", io.Id())
		connectChan <- nil
	})
	io.Once(types.EventName("connect_error"), func(errs ...any) {
		err, ok := errs[0].(error)
		if !ok {
			err = fmt.Errorf("connect error: %v", errs[0])
		}
		connectChan <- err
	})

	io.Connect()
	select {
	case err := <-connectChan:
		if err != nil {
			io.Disconnect()
			return nil, fmt.Errorf("bridge connection failed: %w", err)
		}
	case <-ctx.Done():
		io.Disconnect()
		return nil, fmt.Errorf("context cancelled while connecting to bridge")
	case <-time.After(timeout):
		io.Disconnect()
		return nil, fmt.Errorf("timed out after %s connecting to bridge", timeout)
	}

	b := &Bridge{logger: logger, io: io}
	b.send = func(event string, payload map[string]any) {
		io.Emit(event, payload)
	}
	return b, nil
}

// Attach subscribes the bridge to a graph's event stream. Attaching to a
// second graph replaces the first subscription.
func (b *Bridge) Attach(g *graph.Graph) {
	b.Detach()
	b.unsub = g.Subscribe(func(ev graph.Event) {
		b.send(ev.Type.String(), eventPayload(ev))
	})
}

// Detach drops the current graph subscription, keeping the connection.
func (b *Bridge) Detach() {
	if b.unsub != nil {
		b.unsub()
		b.unsub = nil
	}
}

// Close detaches and disconnects.
func (b *Bridge) Close() {
	b.Detach()
	if b.io != nil {
		b.logger.Info("Bridge disconnecting.")
		b.io.Disconnect()
		b.io = nil
	}
}

// eventPayload flattens an event into the wire shape. Fields that do not
// apply to the event type are omitted.
func eventPayload(ev graph.Event) map[string]any {
	payload := map[string]any{"type": ev.Type.String()}
	if ev.Node != "" {
		payload["node"] = ev.Node
	}
	if ev.Param != "" {
		payload["param"] = ev.Param
	}
	if ev.Conn != "" {
		payload["connection"] = ev.Conn
	}
	if ev.Iteration >= 0 {
		payload["iteration"] = ev.Iteration
	}
	if ev.Err != nil {
		payload["error"] = ev.Err.Error()
	}
	return payload
}
