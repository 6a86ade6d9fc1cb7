// Package server exposes a Portfolio over a newline-delimited TCP protocol.
package server

import (
	"bufio"
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/celerix-dev/celerix-dca/pkg/schema"
	"github.com/celerix-dev/celerix-dca/pkg/sdk"
)

const (
	defaultMaxConns = 100
	defaultMaxLine  = 16 << 20
	connLifetime    = 5 * time.Minute
	idleTimeout     = 30 * time.Second
)

// Router serves one Portfolio to TCP clients. Replies are "OK [json]",
// "PONG" or "ERR <CODE> <message>", one line each.
type Router struct {
	portfolio sdk.Portfolio
	cert      *tls.Certificate
	logger    *slog.Logger
	maxConns  int
	maxLine   int

	mu       sync.Mutex
	listener net.Listener
	stopped  bool
	conns    sync.WaitGroup
}

// RouterOption configures a Router.
type RouterOption func(*Router)

// WithLogger sets the router logger.
func WithLogger(l *slog.Logger) RouterOption {
	return func(r *Router) {
		if l != nil {
			r.logger = l
		}
	}
}

// WithMaxConns caps concurrent connections.
func WithMaxConns(n int) RouterOption {
	return func(r *Router) {
		if n > 0 {
			r.maxConns = n
		}
	}
}

// WithMaxLineSize caps the length of one command line in bytes. Longer
// lines are answered with BAD_REQUEST and the connection is closed.
func WithMaxLineSize(n int) RouterOption {
	return func(r *Router) {
		if n > 0 {
			r.maxLine = n
		}
	}
}

func NewRouter(p sdk.Portfolio, opts ...RouterOption) *Router {
	r := &Router{
		portfolio: p,
		logger:    slog.New(slog.NewTextHandler(io.Discard, nil)),
		maxConns:  defaultMaxConns,
		maxLine:   defaultMaxLine,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// SetCertificate sets the TLS certificate for the router
func (r *Router) SetCertificate(cert tls.Certificate) {
	r.cert = &cert
}

// Addr returns the bound address, or nil before Listen has bound.
func (r *Router) Addr() net.Addr {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.listener == nil {
		return nil
	}
	return r.listener.Addr()
}

// Listen binds addr (e.g. ":7001") and serves until Stop is called.
func (r *Router) Listen(addr string) error {
	var (
		listener net.Listener
		err      error
	)
	if r.cert != nil {
		config := &tls.Config{Certificates: []tls.Certificate{*r.cert}, MinVersion: tls.VersionTLS12}
		listener, err = tls.Listen("tcp", addr, config)
	} else {
		listener, err = net.Listen("tcp", addr)
	}
	if err != nil {
		return err
	}

	r.mu.Lock()
	if r.stopped {
		r.mu.Unlock()
		return listener.Close()
	}
	r.listener = listener
	r.mu.Unlock()
	r.logger.Info("tcp listener started", "addr", listener.Addr().String(), "tls", r.cert != nil)

	semaphore := make(chan struct{}, r.maxConns)

	for {
		conn, err := listener.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				r.conns.Wait()
				return nil
			}
			r.logger.Warn("accept failed", "error", err)
			continue
		}

		// Bound the connection lifetime to prevent resource exhaustion.
		conn.SetDeadline(time.Now().Add(connLifetime))

		semaphore <- struct{}{}
		r.conns.Add(1)
		go func(c net.Conn) {
			defer func() {
				c.Close()
				<-semaphore
				r.conns.Done()
			}()
			r.HandleConnection(c)
		}(conn)
	}
}

// Stop closes the listener. Listen returns once open connections finish.
func (r *Router) Stop() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.stopped = true
	if r.listener == nil {
		return nil
	}
	err := r.listener.Close()
	r.listener = nil
	return err
}

// HandleConnection serves one client until QUIT, EOF or the idle timeout.
func (r *Router) HandleConnection(conn net.Conn) {
	scanner := bufio.NewScanner(conn)
	scanner.Buffer(make([]byte, 0, min(4096, r.maxLine)), r.maxLine)

	for {
		conn.SetReadDeadline(time.Now().Add(idleTimeout))

		if !scanner.Scan() {
			if errors.Is(scanner.Err(), bufio.ErrTooLong) {
				r.replyError(conn, "", badRequest(fmt.Sprintf("line exceeds %d bytes", r.maxLine)))
				// Drain briefly so unread input does not reset the reply away.
				conn.SetReadDeadline(time.Now().Add(time.Second))
				io.Copy(io.Discard, io.LimitReader(conn, int64(r.maxLine)))
			}
			return // connection closed or timeout
		}

		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		cmd, arg, _ := strings.Cut(line, " ")
		cmd = strings.ToUpper(cmd)
		arg = strings.TrimSpace(arg)

		if cmd == sdk.CmdQuit {
			return
		}
		if cmd == sdk.CmdPing {
			fmt.Fprintln(conn, "PONG")
			continue
		}

		result, err := r.dispatch(context.Background(), cmd, arg)
		if err != nil {
			r.replyError(conn, cmd, err)
			continue
		}
		r.replyOK(conn, result)
	}
}

// badRequest marks protocol misuse, as opposed to engine failures.
type badRequest string

func (b badRequest) Error() string { return string(b) }

func (r *Router) dispatch(ctx context.Context, cmd, arg string) (any, error) {
	switch cmd {
	case sdk.CmdGet:
		if arg == "" {
			return nil, badRequest("usage: GET <case id>")
		}
		return r.portfolio.Get(ctx, arg)

	case sdk.CmdCases:
		return r.portfolio.Cases(ctx)

	case sdk.CmdOverview:
		return r.portfolio.Overview(ctx)

	case sdk.CmdAgencies:
		return schema.ServicingAgencies(), nil

	case sdk.CmdView:
		var q sdk.ViewQuery
		if err := decodeArg(arg, &q); err != nil {
			return nil, err
		}
		return r.portfolio.ViewFor(ctx, q.Agency, q.Search)

	case sdk.CmdUpdate:
		var req sdk.UpdateRequest
		if err := decodeArg(arg, &req); err != nil {
			return nil, err
		}
		return r.portfolio.SubmitUpdate(ctx, req)

	case sdk.CmdAudit:
		var f sdk.AuditFilter
		switch {
		case arg == "":
		case strings.HasPrefix(arg, "{"):
			if err := decodeArg(arg, &f); err != nil {
				return nil, err
			}
		default:
			n, err := strconv.Atoi(arg)
			if err != nil || n < 0 {
				return nil, badRequest("usage: AUDIT [limit]")
			}
			f.Limit = n
		}
		return r.portfolio.AuditLog(ctx, f)

	case sdk.CmdImport:
		var batch sdk.ImportBatch
		if err := decodeArg(arg, &batch); err != nil {
			return nil, err
		}
		if batch.Source == "" {
			batch.Source = "tcp"
		}
		records, err := batch.Records()
		if err != nil {
			return nil, err
		}
		n, err := r.portfolio.BulkLoad(ctx, batch.Source, records)
		if err != nil {
			return nil, err
		}
		return map[string]int{"imported": n}, nil
	}
	return nil, badRequest("unknown command " + cmd)
}

func decodeArg(arg string, v any) error {
	if arg == "" {
		return badRequest("missing json argument")
	}
	if err := json.Unmarshal([]byte(arg), v); err != nil {
		return badRequest("invalid json argument: " + err.Error())
	}
	return nil
}

func (r *Router) replyOK(conn net.Conn, v any) {
	res, err := json.Marshal(v)
	if err != nil {
		r.logger.Error("encode reply", "error", err)
		fmt.Fprintln(conn, "ERR", sdk.CodeInternal, "internal error")
		return
	}
	fmt.Fprintln(conn, "OK", string(res))
}

func (r *Router) replyError(conn net.Conn, cmd string, err error) {
	code := sdk.ErrorCode(err)
	var br badRequest
	if errors.As(err, &br) {
		code = sdk.CodeBadRequest
	}
	msg := err.Error()
	if code == sdk.CodeInternal {
		r.logger.Error("command failed", "command", cmd, "error", err)
		msg = "internal error"
	}
	fmt.Fprintln(conn, "ERR", code, strings.ReplaceAll(msg, "\n", " "))
}
