package mcpquic

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/hazyhaar/expscope/internal/kit"
)

func TestMagicBytes(t *testing.T) {
	var buf bytes.Buffer
	if err := SendMagicBytes(&buf); err != nil {
		t.Fatal(err)
	}
	if buf.String() != MagicBytesMCP {
		t.Fatalf("magic: got %q", buf.String())
	}
	if err := ValidateMagicBytes(&buf); err != nil {
		t.Fatal(err)
	}
}

func TestValidateMagicBytes_Invalid(t *testing.T) {
	if err := ValidateMagicBytes(strings.NewReader("HTTP")); !errors.Is(err, ErrInvalidMagicBytes) {
		t.Fatalf("got %v, want ErrInvalidMagicBytes", err)
	}
	if err := ValidateMagicBytes(strings.NewReader("MC")); err == nil {
		t.Fatal("expected error for short input")
	}
}

func TestProductionQUICConfig(t *testing.T) {
	cfg := ProductionQUICConfig()
	if cfg.MaxIdleTimeout != DefaultIdleTimeout || cfg.KeepAlivePeriod != DefaultKeepAlive {
		t.Fatalf("got idle %v keepalive %v", cfg.MaxIdleTimeout, cfg.KeepAlivePeriod)
	}
	if cfg.Allow0RTT {
		t.Fatal("0-RTT should be disabled")
	}
}

func TestTLSConfigs(t *testing.T) {
	srv, err := SelfSignedTLSConfig()
	if err != nil {
		t.Fatal(err)
	}
	if len(srv.Certificates) != 1 || srv.MinVersion != 0x0304 || !hasALPN(srv.NextProtos) {
		t.Fatalf("server config: %+v", srv)
	}
	if c := ClientTLSConfig(true); !c.InsecureSkipVerify || !hasALPN(c.NextProtos) {
		t.Fatal("insecure client config")
	}
	if NewClient("localhost:1", nil).tlsCfg.InsecureSkipVerify {
		t.Fatal("default client must verify the server")
	}
}

func TestConnectionError(t *testing.T) {
	inner := errors.New("timeout")
	ce := &ConnectionError{RemoteAddr: "127.0.0.1:8443", Code: ConnErrorProtocolViolation, Err: inner}
	if msg := ce.Error(); !strings.Contains(msg, "127.0.0.1:8443") || !strings.Contains(msg, "0x03") {
		t.Fatalf("message: %s", msg)
	}
	if !errors.Is(ce, inner) {
		t.Fatal("Unwrap should return inner error")
	}
}

func TestClient_NotConnected(t *testing.T) {
	c := NewClient("localhost:1234", nil)
	ctx := context.Background()
	if _, err := c.ListTools(ctx); !errors.Is(err, ErrConnectionClosed) {
		t.Fatalf("list: %v", err)
	}
	if _, err := c.CallTool(ctx, "x", nil); !errors.Is(err, ErrConnectionClosed) {
		t.Fatalf("call: %v", err)
	}
	if err := c.Ping(ctx); !errors.Is(err, ErrConnectionClosed) {
		t.Fatalf("ping: %v", err)
	}
}

func TestNewListener_RequiresALPN(t *testing.T) {
	srv := mcp.NewServer(&mcp.Implementation{Name: "t", Version: "0"}, nil)
	cfg, err := SelfSignedTLSConfig()
	if err != nil {
		t.Fatal(err)
	}
	cfg.NextProtos = []string{"h3"}
	if _, err := NewListener("127.0.0.1:0", cfg, srv, nil); !errors.Is(err, ErrUnsupportedALPN) {
		t.Fatalf("got %v", err)
	}
}

type shoutRequest struct {
	Word string `json:"word"`
}

func TestRoundTrip(t *testing.T) {
	impl := &mcp.Implementation{Name: "expscope-test", Version: "0.1.0"}
	srv := mcp.NewServer(impl, nil)
	kit.RegisterMCPTool[shoutRequest](srv, &mcp.Tool{
		Name:        "shout",
		Description: "Upper-case a word.",
		InputSchema: kit.InputSchema(map[string]any{"word": map[string]any{"type": "string"}}, "word"),
	}, func(_ context.Context, req any) (any, error) {
		return map[string]string{"word": strings.ToUpper(req.(*shoutRequest).Word)}, nil
	})

	tlsCfg, err := SelfSignedTLSConfig()
	if err != nil {
		t.Fatal(err)
	}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	l, err := NewListener("127.0.0.1:0", tlsCfg, srv, logger)
	if err != nil {
		t.Fatal(err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	go l.Serve(ctx)
	defer l.Close()

	c := NewClient(l.Addr().String(), ClientTLSConfig(true))
	if err := c.Connect(ctx); err != nil {
		t.Fatal(err)
	}
	defer c.Close()

	if err := c.Ping(ctx); err != nil {
		t.Fatalf("ping: %v", err)
	}
	tools, err := c.ListTools(ctx)
	if err != nil || len(tools.Tools) != 1 || tools.Tools[0].Name != "shout" {
		t.Fatalf("tools: %+v, %v", tools, err)
	}
	res, err := c.CallTool(ctx, "shout", map[string]any{"word": "hi"})
	if err != nil || res.IsError {
		t.Fatalf("call: %+v, %v", res, err)
	}
	var out map[string]string
	if err := json.Unmarshal([]byte(res.Content[0].(*mcp.TextContent).Text), &out); err != nil {
		t.Fatal(err)
	}
	if out["word"] != "HI" {
		t.Errorf("got %v", out)
	}
}
