// Package sdk provides the client-side library for the case allocation engine.
// It supports both remote connections via TCP/TLS and local embedded mode.
package sdk

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
)

const (
	maxAttempts    = 3
	defaultTimeout = 30 * time.Second
)

// Client is a remote client for the daemon's line protocol.
// It implements the Portfolio interface.
type Client struct {
	addr      string
	tlsConfig *tls.Config
	logger    *slog.Logger

	mu     sync.Mutex // protects the connection
	conn   net.Conn
	reader *bufio.Reader
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithoutTLS dials plain TCP.
func WithoutTLS() ClientOption {
	return func(c *Client) { c.tlsConfig = nil }
}

// WithTLSConfig replaces the default TLS configuration.
func WithTLSConfig(cfg *tls.Config) ClientOption {
	return func(c *Client) { c.tlsConfig = cfg }
}

// WithClientLogger reports reconnect attempts to l.
func WithClientLogger(l *slog.Logger) ClientOption {
	return func(c *Client) {
		if l != nil {
			c.logger = l
		}
	}
}

// Connect establishes a connection to a remote daemon. By default the
// connection uses TLS without verifying the daemon's self-signed certificate.
func Connect(addr string, opts ...ClientOption) (*Client, error) {
	c := &Client{
		addr: addr,
		// The daemon generates a self-signed certificate at startup.
		tlsConfig: &tls.Config{InsecureSkipVerify: true},
		logger:    slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	for _, opt := range opts {
		opt(c)
	}
	if err := c.reconnect(); err != nil {
		return nil, err
	}
	return c, nil
}

func (c *Client) reconnect() error {
	if c.conn != nil {
		c.conn.Close()
		c.conn = nil
	}

	dialer := &net.Dialer{
		Timeout:   10 * time.Second,
		KeepAlive: 60 * time.Second,
	}

	var (
		conn net.Conn
		err  error
	)
	if c.tlsConfig == nil {
		conn, err = dialer.Dial("tcp", c.addr)
	} else {
		conn, err = tls.DialWithDialer(dialer, "tcp", c.addr, c.tlsConfig)
	}
	if err != nil {
		return err
	}

	c.conn = conn
	c.reader = bufio.NewReader(conn)
	return nil
}

// ErrReplyLost is returned when a mutating command was sent but its reply
// never arrived. The daemon may or may not have applied it.
var ErrReplyLost = errors.New("reply lost after command was sent")

// roundTrip sends one command line and returns the reply payload with the
// "OK " prefix stripped. Connection failures are retried with backoff; error
// replies from the daemon are returned immediately. UPDATE and IMPORT are
// only retried while the line has not been written.
func (c *Client) roundTrip(ctx context.Context, cmd string) (string, error) {
	verb, _, _ := strings.Cut(cmd, " ")
	replayable := idempotent(verb)

	c.mu.Lock()
	defer c.mu.Unlock()

	var err error
	for i := 0; i < maxAttempts; i++ {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return "", ctxErr
		}

		if c.conn == nil {
			if reconnectErr := c.reconnect(); reconnectErr != nil {
				err = fmt.Errorf("reconnect failed: %w", reconnectErr)
				c.backoff(ctx, i)
				continue
			}
		}

		deadline := time.Now().Add(defaultTimeout)
		if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
			deadline = d
		}
		c.conn.SetDeadline(deadline)

		var resp string
		if _, err = fmt.Fprint(c.conn, cmd+"\n"); err == nil {
			if resp, err = c.reader.ReadString('\n'); err == nil {
				return parseReply(strings.TrimSpace(resp))
			}
			if !replayable {
				c.conn.Close()
				c.conn = nil
				return "", fmt.Errorf("%s: %w: %v", verb, ErrReplyLost, err)
			}
		}

		c.logger.Warn("request failed, reconnecting", "attempt", i+1, "addr", c.addr, "error", err)
		if reconnectErr := c.reconnect(); reconnectErr != nil {
			c.logger.Warn("reconnect failed", "addr", c.addr, "error", reconnectErr)
		}
		c.backoff(ctx, i)
	}

	return "", fmt.Errorf("failed after %d attempts: %w", maxAttempts, err)
}

func idempotent(verb string) bool {
	switch verb {
	case CmdUpdate, CmdImport:
		return false
	}
	return true
}

func (c *Client) backoff(ctx context.Context, attempt int) {
	t := time.NewTimer(time.Duration((attempt+1)*200) * time.Millisecond)
	defer t.Stop()
	select {
	case <-t.C:
	case <-ctx.Done():
	}
}

func parseReply(line string) (string, error) {
	switch {
	case line == "OK" || line == "PONG":
		return "", nil
	case strings.HasPrefix(line, "OK "):
		return strings.TrimPrefix(line, "OK "), nil
	case strings.HasPrefix(line, "ERR"):
		return "", parseErrorLine(line)
	}
	return "", &RemoteError{Code: CodeInternal, Message: "unexpected reply: " + line}
}

// call sends cmd with an optional JSON argument and decodes the reply into out.
func (c *Client) call(ctx context.Context, cmd string, arg any, out any) error {
	line := cmd
	if arg != nil {
		payload, err := json.Marshal(arg)
		if err != nil {
			return err
		}
		line += " " + string(payload)
	}
	resp, err := c.roundTrip(ctx, line)
	if err != nil {
		return err
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal([]byte(resp), out); err != nil {
		return fmt.Errorf("decode %s reply: %w", cmd, err)
	}
	return nil
}

// Ping checks that the daemon is reachable.
func (c *Client) Ping(ctx context.Context) error {
	_, err := c.roundTrip(ctx, CmdPing)
	return err
}

func (c *Client) Get(ctx context.Context, id string) (schema.Case, error) {
	var out schema.Case
	if strings.ContainsAny(id, "\r\n") || strings.TrimSpace(id) == "" {
		return out, &RemoteError{Code: CodeNotFound, Message: fmt.Sprintf("case %q not found", id)}
	}
	err := c.call(ctx, CmdGet+" "+id, nil, &out)
	return out, err
}

func (c *Client) Cases(ctx context.Context) ([]schema.Case, error) {
	var out []schema.Case
	err := c.call(ctx, CmdCases, nil, &out)
	return out, err
}

func (c *Client) BulkLoad(ctx context.Context, source string, records []schema.Record) (int, error) {
	var out struct {
		Imported int `json:"imported"`
	}
	err := c.call(ctx, CmdImport, NewImportBatch(source, records), &out)
	return out.Imported, err
}

func (c *Client) SubmitUpdate(ctx context.Context, req UpdateRequest) (schema.Case, error) {
	var out schema.Case
	err := c.call(ctx, CmdUpdate, req, &out)
	return out, err
}

func (c *Client) ViewFor(ctx context.Context, agency schema.Agency, search string) (schema.AgencyView, error) {
	var out schema.AgencyView
	err := c.call(ctx, CmdView, ViewQuery{Agency: agency, Search: search}, &out)
	return out, err
}

func (c *Client) Overview(ctx context.Context) (schema.Overview, error) {
	var out schema.Overview
	err := c.call(ctx, CmdOverview, nil, &out)
	return out, err
}

func (c *Client) AuditLog(ctx context.Context, filter AuditFilter) ([]schema.AuditLogEntry, error) {
	var out []schema.AuditLogEntry
	err := c.call(ctx, CmdAudit, filter, &out)
	return out, err
}

// Agencies lists the servicing agencies known to the daemon.
func (c *Client) Agencies(ctx context.Context) ([]schema.Agency, error) {
	var out []schema.Agency
	err := c.call(ctx, CmdAgencies, nil, &out)
	return out, err
}

// AuditTail is a shorthand for the newest limit entries.
func (c *Client) AuditTail(ctx context.Context, limit int) ([]schema.AuditLogEntry, error) {
	var out []schema.AuditLogEntry
	err := c.call(ctx, CmdAudit+" "+strconv.Itoa(limit), nil, &out)
	return out, err
}

// Close sends QUIT and closes the connection.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn == nil {
		return nil
	}
	fmt.Fprintln(c.conn, CmdQuit)
	err := c.conn.Close()
	c.conn = nil
	return err
}
