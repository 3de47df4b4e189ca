// Package mcpquic serves plume's MCP tools over QUIC instead of stdio
// or HTTP. One bidirectional stream per connection carries the JSON-RPC
// session; a four-byte preamble and a dedicated ALPN keep strangers
// off the socket.
package mcpquic

import (
	"context"
	"crypto/tls"
	"errors"
	"io"
	"log/slog"
	"net"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/quic-go/quic-go"

	"github.com/hazyhaar/plume/idgen"
	"github.com/hazyhaar/plume/kit"
)

// Listener accepts MCP-over-QUIC connections and runs each one as a
// session on a shared mcp.Server.
type Listener struct {
	listener *quic.Listener
	mcp      *mcp.Server
	logger   *slog.Logger
	newID    idgen.Generator
}

// Option configures a Listener.
type Option func(*Listener)

// WithIDSource substitutes the session ID generator.
func WithIDSource(gen idgen.Generator) Option {
	return func(l *Listener) { l.newID = gen }
}

// NewListener binds addr and prepares to serve mcpSrv over it.
func NewListener(addr string, tlsCfg *tls.Config, mcpSrv *mcp.Server, logger *slog.Logger, opts ...Option) (*Listener, error) {
	if logger == nil {
		logger = slog.Default()
	}
	ql, err := quic.ListenAddr(addr, tlsCfg, ProductionQUICConfig())
	if err != nil {
		return nil, err
	}
	l := &Listener{
		listener: ql,
		mcp:      mcpSrv,
		logger:   logger.With("component", "mcpquic"),
		newID:    idgen.Prefixed("quic_", idgen.UUIDv7()),
	}
	for _, o := range opts {
		o(l)
	}
	l.logger.Info("mcp quic listener ready", "addr", ql.Addr().String())
	return l, nil
}

// Addr reports the bound UDP address.
func (l *Listener) Addr() net.Addr { return l.listener.Addr() }

// Serve accepts connections until ctx is cancelled or the listener is
// closed. Sessions run concurrently; a bad connection never stops the
// accept loop.
func (l *Listener) Serve(ctx context.Context) error {
	for {
		conn, err := l.listener.Accept(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if errors.Is(err, quic.ErrServerClosed) {
				return err
			}
			l.logger.Error("quic accept", "error", err)
			continue
		}

		if alpn := conn.ConnectionState().TLS.NegotiatedProtocol; alpn != ALPNProtocolMCP {
			conn.CloseWithError(ConnErrorUnsupportedALPN, "unsupported ALPN: "+alpn)
			continue
		}

		go l.serveConn(ctx, conn)
	}
}

// Close stops the listener. In-flight sessions end when their streams
// close.
func (l *Listener) Close() error {
	return l.listener.Close()
}

func (l *Listener) serveConn(ctx context.Context, conn *quic.Conn) {
	remote := conn.RemoteAddr().String()

	stream, err := conn.AcceptStream(ctx)
	if err != nil {
		l.logger.Error("accept stream", "remote", remote, "error", err)
		conn.CloseWithError(ConnErrorProtocolViolation, "stream accept failed")
		return
	}

	if err := ValidateMagicBytes(stream); err != nil {
		l.logger.Warn("bad preamble", "remote", remote, "error", err)
		stream.CancelWrite(StreamErrorProtocolConfusion)
		stream.CancelRead(StreamErrorProtocolConfusion)
		conn.CloseWithError(ConnErrorProtocolViolation, "invalid magic bytes")
		return
	}

	sessionID := l.newID()
	l.logger.Info("mcp session starting", "session", sessionID, "remote", remote)

	// The session ID doubles as the request ID, so audit rows and SQL
	// traces from this session all correlate back to it.
	ctx = kit.WithRequestID(ctx, sessionID)

	ss, err := l.mcp.Connect(ctx, &streamTransport{stream: stream, sessionID: sessionID}, nil)
	if err != nil {
		l.logger.Error("mcp connect", "session", sessionID, "error", err)
		stream.Close()
		return
	}
	if err := ss.Wait(); err != nil {
		l.logger.Debug("mcp session wait", "session", sessionID, "error", err)
	}

	l.logger.Info("mcp session ended", "session", sessionID, "remote", remote)
}

// streamTransport implements mcp.Transport over one QUIC stream. The
// SDK owns the JSON-RPC read/write loop; this only supplies the pipe
// and a session ID (the underlying ioConn reports none).
type streamTransport struct {
	stream    *quic.Stream
	sessionID string
}

func (t *streamTransport) Connect(ctx context.Context) (mcp.Connection, error) {
	iot := &mcp.IOTransport{
		Reader: io.NopCloser(t.stream),
		Writer: streamWriteCloser{t.stream},
	}
	conn, err := iot.Connect(ctx)
	if err != nil {
		return nil, err
	}
	return &sessionConn{Connection: conn, id: t.sessionID}, nil
}

type sessionConn struct {
	mcp.Connection
	id string
}

func (c *sessionConn) SessionID() string { return c.id }

// streamWriteCloser adapts a *quic.Stream to io.WriteCloser without
// closing the read side.
type streamWriteCloser struct{ stream *quic.Stream }

func (w streamWriteCloser) Write(p []byte) (int, error) { return w.stream.Write(p) }
func (w streamWriteCloser) Close() error                { return w.stream.Close() }
