package sdk

import (
	"context"
	"io"
	"log/slog"
	"os"

	"github.com/celerix-dev/celerix-dca/internal/engine"
	"github.com/celerix-dev/celerix-dca/pkg/schema"
)

// Options selects and configures a Portfolio implementation.
type Options struct {
	// Addr of a remote daemon. Falls back to CELERIX_STORE_ADDR when empty.
	Addr string
	// DisableTLS dials plain TCP. Also enabled by CELERIX_DISABLE_TLS=true.
	DisableTLS bool
	// DataDir enables snapshot persistence for the embedded engine.
	DataDir string
	// Key seals the embedded snapshot (32 bytes) when set.
	Key []byte
	// EngineOptions are applied to the embedded engine.
	EngineOptions []engine.Option
	Logger        *slog.Logger
}

// New initializes a portfolio based on the options and environment.
// It returns the interface, so the caller doesn't care if it's local or remote.
// When a remote address is configured but unreachable, New falls back to the
// embedded engine and logs a warning.
func New(opts Options) (Portfolio, error) {
	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	addr := opts.Addr
	if addr == "" {
		addr = os.Getenv("CELERIX_STORE_ADDR")
	}
	if addr != "" {
		var copts []ClientOption
		if opts.DisableTLS || os.Getenv("CELERIX_DISABLE_TLS") == "true" {
			copts = append(copts, WithoutTLS())
		}
		copts = append(copts, WithClientLogger(logger))

		client, err := Connect(addr, copts...)
		if err == nil {
			return client, nil
		}
		logger.Warn("remote portfolio unreachable, using embedded engine", "addr", addr, "error", err)
	}

	embedded, err := NewEmbedded(opts)
	if err != nil {
		return nil, err
	}
	return embedded, nil
}

// Embedded runs the engine inside the caller's process.
type Embedded struct {
	engine *engine.Engine
}

// NewEmbedded starts an in-process engine, restoring and persisting its
// snapshot when DataDir is set.
func NewEmbedded(opts Options) (*Embedded, error) {
	engineOpts := append([]engine.Option{engine.WithLogger(opts.Logger)}, opts.EngineOptions...)

	if opts.DataDir != "" {
		p, err := engine.NewPersistence(opts.DataDir, opts.Key)
		if err != nil {
			return nil, err
		}
		snap, err := p.Load()
		if err != nil {
			return nil, err
		}
		engineOpts = append(engineOpts, engine.WithSnapshot(snap), engine.WithPersistence(p))
	}

	return WrapEngine(engine.New(engineOpts...)), nil
}

// WrapEngine exposes an already constructed engine as a Portfolio.
func WrapEngine(e *engine.Engine) *Embedded {
	return &Embedded{engine: e}
}

// Engine exposes the underlying engine, e.g. for serving it over a transport.
func (e *Embedded) Engine() *engine.Engine {
	return e.engine
}

func (e *Embedded) Get(ctx context.Context, id string) (schema.Case, error) {
	return e.engine.Get(ctx, id)
}

func (e *Embedded) Cases(ctx context.Context) ([]schema.Case, error) {
	return e.engine.Cases(ctx), nil
}

func (e *Embedded) BulkLoad(ctx context.Context, source string, records []schema.Record) (int, error) {
	return e.engine.BulkLoad(ctx, source, records)
}

func (e *Embedded) SubmitUpdate(ctx context.Context, req UpdateRequest) (schema.Case, error) {
	return e.engine.SubmitUpdate(ctx, req)
}

func (e *Embedded) ViewFor(ctx context.Context, agency schema.Agency, search string) (schema.AgencyView, error) {
	return e.engine.ViewFor(ctx, agency, search)
}

func (e *Embedded) Overview(ctx context.Context) (schema.Overview, error) {
	return e.engine.Overview(ctx), nil
}

func (e *Embedded) AuditLog(ctx context.Context, filter AuditFilter) ([]schema.AuditLogEntry, error) {
	return e.engine.AuditLog(ctx, filter), nil
}

// Close waits for pending snapshot writes.
func (e *Embedded) Close() error {
	e.engine.Wait()
	return nil
}
