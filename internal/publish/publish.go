// Package publish streams the outcome of a run to a socket.io server: one
// event per resolved variable, one per failed variable, and a final summary.
package publish

import (
	"context"
	"crypto/tls"
	"fmt"
	"net/url"
	"time"

	"github.com/vk/formulagrid/internal/ctxlog"
	"github.com/vk/formulagrid/internal/resolver"
	"github.com/zclconf/go-cty/cty"
	"github.com/zishang520/engine.io-client-go/transports"
	"github.com/zishang520/engine.io/v2/types"
	"github.com/zishang520/socket.io-client-go/socket"
)

// DefaultConnectTimeout bounds how long Dial waits for the connection.
const DefaultConnectTimeout = 15 * time.Second

// Emitter sends one event. *socket.Socket satisfies it.
type Emitter interface {
	Emit(event string, args ...any) error
}

// Config describes the socket.io endpoint.
type Config struct {
	URL                string
	Namespace          string
	InsecureSkipVerify bool
	ConnectTimeout     time.Duration
}

// Publisher emits run results through an Emitter.
type Publisher struct {
	emitter Emitter
	close   func()
}

// New wraps an existing emitter.
func New(emitter Emitter) *Publisher {
	return &Publisher{emitter: emitter, close: func() {}}
}

// Dial connects to the socket.io server and waits for the connection.
func Dial(ctx context.Context, cfg Config) (*Publisher, error) {
	logger := ctxlog.FromContext(ctx).With("url", cfg.URL, "namespace", cfg.Namespace)
	logger.Debug("Connecting to socket.io server...")

	parsedURL, err := url.Parse(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse URL: %w", err)
	}
	if parsedURL.Scheme == "" || parsedURL.Host == "" {
		return nil, fmt.Errorf("invalid URL %q: scheme and host are required", cfg.URL)
	}

	opts := socket.DefaultOptions()
	if parsedURL.Path != "" {
		opts.SetPath(parsedURL.Path)
	}
	if cfg.InsecureSkipVerify {
		logger.Warn("Skipping TLS certificate verification")
		opts.SetTLSClientConfig(&tls.Config{InsecureSkipVerify: true})
	}
	opts.SetTransports(types.NewSet(transports.WebSocket))

	namespace := cfg.Namespace
	if namespace == "" {
		namespace = "/"
	}

	connectChan := make(chan error, 1)
	baseURL := fmt.Sprintf("%s://%s", parsedURL.Scheme, parsedURL.Host)
	manager := socket.NewManager(baseURL, opts)
	io := manager.Socket(namespace, opts)

	io.Once(types.EventName("connect"), func(...any) {
		logger.Info("Connected to socket.io server", "sid", io.Id())
		connectChan <- nil
	})
	io.Once(types.EventName("connect_error"), func(errs ...any) {
		var err error = fmt.Errorf("connect error")
		if len(errs) > 0 {
			if e, ok := errs[0].(error); ok {
				err = e
			}
		}
		connectChan <- err
	})
	io.Connect()

	timeout := cfg.ConnectTimeout
	if timeout <= 0 {
		timeout = DefaultConnectTimeout
	}

	select {
	case err := <-connectChan:
		if err != nil {
			io.Disconnect()
			return nil, fmt.Errorf("socket.io connection failed: %w", err)
		}
		return &Publisher{emitter: io, close: func() { io.Disconnect() }}, nil
	case <-ctx.Done():
		io.Disconnect()
		return nil, fmt.Errorf("context cancelled while waiting for socket.io connection: %w", ctx.Err())
	case <-time.After(timeout):
		io.Disconnect()
		return nil, fmt.Errorf("timed out after %s waiting for socket.io connection", timeout)
	}
}

// Publish emits the events of res: resolved variables in resolution order,
// failures sorted by variable, then the run summary.
func (p *Publisher) Publish(ctx context.Context, res *resolver.Result) error {
	logger := ctxlog.FromContext(ctx)

	for _, name := range res.Order {
		s, ok := res.Values[name]
		if !ok {
			continue
		}
		if err := p.emit(ctx, EventResolved, resolvedPayload(res.RunID, name, s, res.Sources[name])); err != nil {
			return err
		}
	}
	for _, verr := range res.Errors {
		if err := p.emit(ctx, EventFailed, failedPayload(res.RunID, verr)); err != nil {
			return err
		}
	}
	if err := p.emit(ctx, EventCompleted, completedPayload(res)); err != nil {
		return err
	}

	logger.Info("Published run results.", "resolved", len(res.Values), "failed", len(res.Errors))
	return nil
}

// Close disconnects a dialed publisher.
func (p *Publisher) Close() {
	p.close()
}

func (p *Publisher) emit(ctx context.Context, event string, payload cty.Value) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	data, err := toInterface(payload)
	if err != nil {
		return fmt.Errorf("failed to convert %s payload: %w", event, err)
	}
	if err := p.emitter.Emit(event, data); err != nil {
		return fmt.Errorf("failed to emit %s: %w", event, err)
	}
	return nil
}
