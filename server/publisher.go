package server

import (
	"context"
	"io"
	"log/slog"
	"os"
	"sync"

	"github.com/sourcegraph/jsonrpc2"
	"go.lsp.dev/protocol"

	"github.com/lexcodex/testforge/framework"
)

const methodPublishDiagnostics = "textDocument/publishDiagnostics"

// DiagnosticsPublisher is an AuditSink that mirrors each iteration's failures
// to an editor as LSP diagnostics. Documents that stop failing are cleared
// with an empty diagnostics list.
type DiagnosticsPublisher struct {
	Root   string
	Logger *slog.Logger

	conn      *jsonrpc2.Conn
	mu        sync.Mutex
	published map[protocol.DocumentURI]bool
}

// NewDiagnosticsPublisher speaks LSP framing over rwc. The peer may send
// initialize and shutdown; everything else it sends is ignored.
func NewDiagnosticsPublisher(ctx context.Context, rwc io.ReadWriteCloser, root string) *DiagnosticsPublisher {
	p := &DiagnosticsPublisher{
		Root:      root,
		published: make(map[protocol.DocumentURI]bool),
	}
	stream := jsonrpc2.NewBufferedStream(rwc, jsonrpc2.VSCodeObjectCodec{})
	p.conn = jsonrpc2.NewConn(ctx, stream, jsonrpc2.HandlerWithError(p.handle))
	return p
}

func (p *DiagnosticsPublisher) handle(ctx context.Context, conn *jsonrpc2.Conn, req *jsonrpc2.Request) (interface{}, error) {
	if req.Notif {
		return nil, nil
	}
	switch req.Method {
	case "initialize":
		return protocol.InitializeResult{
			Capabilities: protocol.ServerCapabilities{},
			ServerInfo:   &protocol.ServerInfo{Name: DiagnosticSource},
		}, nil
	case "shutdown":
		return nil, nil
	default:
		return nil, &jsonrpc2.Error{Code: jsonrpc2.CodeMethodNotFound, Message: "method not handled"}
	}
}

// Record implements framework.AuditSink.
func (p *DiagnosticsPublisher) Record(ctx context.Context, event framework.AuditEvent) error {
	switch {
	case event.Iteration != nil:
		return p.Publish(ctx, event.Iteration.Failures)
	case event.Result != nil && event.Result.Success:
		return p.Publish(ctx, nil)
	}
	return nil
}

// Publish replaces the editor's view with the given failures.
func (p *DiagnosticsPublisher) Publish(ctx context.Context, failures []framework.Failure) error {
	current := ToDiagnostics(p.Root, failures)
	p.mu.Lock()
	defer p.mu.Unlock()
	for uri := range p.published {
		if _, ok := current[uri]; !ok {
			current[uri] = []protocol.Diagnostic{}
		}
	}
	for _, uri := range sortedURIs(current) {
		diags := current[uri]
		params := protocol.PublishDiagnosticsParams{URI: uri, Diagnostics: diags}
		if err := p.conn.Notify(ctx, methodPublishDiagnostics, params); err != nil {
			return err
		}
		if len(diags) == 0 {
			delete(p.published, uri)
		} else {
			p.published[uri] = true
		}
	}
	p.logger().Debug("published diagnostics", "documents", len(current))
	return nil
}

// Close tears down the connection.
func (p *DiagnosticsPublisher) Close() error {
	return p.conn.Close()
}

func (p *DiagnosticsPublisher) logger() *slog.Logger {
	if p.Logger == nil {
		return slog.Default()
	}
	return p.Logger
}

// StdioConn joins stdin and stdout into one stream for editors that spawn
// the tool as a language server.
type StdioConn struct {
	Reader io.ReadCloser
	Writer io.WriteCloser
}

// NewStdioConn wraps the process's standard streams.
func NewStdioConn() *StdioConn {
	return &StdioConn{Reader: os.Stdin, Writer: os.Stdout}
}

func (s *StdioConn) Read(p []byte) (int, error)  { return s.Reader.Read(p) }
func (s *StdioConn) Write(p []byte) (int, error) { return s.Writer.Write(p) }

// Close closes both directions and reports the first error.
func (s *StdioConn) Close() error {
	err := s.Writer.Close()
	if rerr := s.Reader.Close(); err == nil {
		err = rerr
	}
	return err
}
