package mcpquic

import (
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"log/slog"
	"net"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/quic-go/quic-go"

	"github.com/hazyhaar/expscope/internal/idgen"
)

// Handler runs one MCP session per accepted QUIC connection.
type Handler struct {
	mcpServer *mcp.Server
	logger    *slog.Logger
	newID     idgen.Generator
}

// HandlerOption configures a Handler.
type HandlerOption func(*Handler)

// WithHandlerIDGenerator sets the session ID generator.
func WithHandlerIDGenerator(gen idgen.Generator) HandlerOption {
	return func(h *Handler) { h.newID = gen }
}

// NewHandler creates a connection handler for mcpSrv.
func NewHandler(mcpSrv *mcp.Server, logger *slog.Logger, opts ...HandlerOption) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	h := &Handler{
		mcpServer: mcpSrv,
		logger:    logger,
		newID:     idgen.Prefixed("quic_", idgen.UUIDv7()),
	}
	for _, o := range opts {
		o(h)
	}
	return h
}

// ServeConn serves conn until the client goes away or ctx ends.
func (h *Handler) ServeConn(ctx context.Context, conn *quic.Conn) {
	remote := conn.RemoteAddr().String()

	stream, err := conn.AcceptStream(ctx)
	if err != nil {
		h.refuse(conn, &ConnectionError{RemoteAddr: remote, Code: ConnErrorProtocolViolation, Err: err})
		return
	}
	if err := ValidateMagicBytes(stream); err != nil {
		stream.CancelWrite(StreamErrorProtocolConfusion)
		stream.CancelRead(StreamErrorProtocolConfusion)
		h.refuse(conn, &ConnectionError{RemoteAddr: remote, Code: ConnErrorProtocolViolation, Err: err})
		return
	}

	id := h.newID()
	log := h.logger.With("session", id, "remote", remote)
	log.Info("mcpquic: session started")

	ss, err := h.mcpServer.Connect(ctx, &serverTransport{stream: stream, id: id}, nil)
	if err != nil {
		log.Error("mcpquic: connect", "error", err)
		stream.Close()
		conn.CloseWithError(ConnErrorInternal, "connect failed")
		return
	}
	if err := ss.Wait(); err != nil {
		log.Debug("mcpquic: session wait", "error", err)
	}
	conn.CloseWithError(ConnErrorNoError, "")
	log.Info("mcpquic: session ended")
}

func (h *Handler) refuse(conn *quic.Conn, ce *ConnectionError) {
	h.logger.Warn("mcpquic: connection refused", "error", ce)
	conn.CloseWithError(ce.Code, ce.Err.Error())
}

// Listener accepts MCP-over-QUIC connections for one MCP server.
type Listener struct {
	listener *quic.Listener
	handler  *Handler
	logger   *slog.Logger
}

// NewListener listens on addr. tlsCfg must offer ALPNProtocolMCP.
func NewListener(addr string, tlsCfg *tls.Config, mcpSrv *mcp.Server, logger *slog.Logger, opts ...HandlerOption) (*Listener, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if tlsCfg == nil || !hasALPN(tlsCfg.NextProtos) {
		return nil, fmt.Errorf("%w: listener TLS config must offer %s", ErrUnsupportedALPN, ALPNProtocolMCP)
	}
	l, err := quic.ListenAddr(addr, tlsCfg, ProductionQUICConfig())
	if err != nil {
		return nil, fmt.Errorf("mcpquic: listen %s: %w", addr, err)
	}
	logger.Info("mcpquic: listening", "addr", l.Addr().String())
	return &Listener{
		listener: l,
		handler:  NewHandler(mcpSrv, logger, opts...),
		logger:   logger,
	}, nil
}

// Addr is the bound UDP address.
func (l *Listener) Addr() net.Addr { return l.listener.Addr() }

// Serve accepts connections until ctx ends or the listener is closed.
func (l *Listener) Serve(ctx context.Context) error {
	for {
		conn, err := l.listener.Accept(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("mcpquic: accept: %w", err)
		}
		if alpn := conn.ConnectionState().TLS.NegotiatedProtocol; alpn != ALPNProtocolMCP {
			l.handler.refuse(conn, &ConnectionError{
				RemoteAddr: conn.RemoteAddr().String(),
				Code:       ConnErrorUnsupportedALPN,
				Err:        fmt.Errorf("%w: %q", ErrUnsupportedALPN, alpn),
			})
			continue
		}
		go l.handler.ServeConn(ctx, conn)
	}
}

// Close stops accepting connections.
func (l *Listener) Close() error { return l.listener.Close() }

// serverTransport is an mcp.Transport over an accepted stream.
type serverTransport struct {
	stream *quic.Stream
	id     string
}

func (t *serverTransport) Connect(ctx context.Context) (mcp.Connection, error) {
	iot := &mcp.IOTransport{
		Reader: io.NopCloser(t.stream),
		Writer: streamWriteCloser{t.stream},
	}
	conn, err := iot.Connect(ctx)
	if err != nil {
		return nil, err
	}
	return &sessionConn{Connection: conn, id: t.id}, nil
}

// sessionConn gives the stream connection a session ID.
type sessionConn struct {
	mcp.Connection
	id string
}

func (c *sessionConn) SessionID() string { return c.id }

type streamWriteCloser struct{ stream *quic.Stream }

func (w streamWriteCloser) Write(p []byte) (int, error) { return w.stream.Write(p) }
func (w streamWriteCloser) Close() error                { return w.stream.Close() }
