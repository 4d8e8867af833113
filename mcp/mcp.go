package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/exec"
	"strings"
	"time"

	sdk "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/hupe1980/reagent/logging"
	"github.com/hupe1980/reagent/tool"
)

// TransportKind selects how a server is reached.
type TransportKind string

const (
	// TransportStdio spawns Command and talks over its stdin/stdout.
	TransportStdio TransportKind = "stdio"
	// TransportSSE connects to a legacy HTTP+SSE endpoint.
	TransportSSE TransportKind = "sse"
	// TransportStreamable connects to a streamable HTTP endpoint.
	TransportStreamable TransportKind = "streamable"
)

// ErrInvalidConfig reports an unusable server configuration.
var ErrInvalidConfig = errors.New("invalid mcp server config")

// ServerConfig describes one MCP server.
type ServerConfig struct {
	Name      string            `yaml:"name" json:"name"`
	Transport TransportKind     `yaml:"transport" json:"transport"`
	Command   string            `yaml:"command" json:"command,omitempty"`
	Args      []string          `yaml:"args" json:"args,omitempty"`
	Env       map[string]string `yaml:"env" json:"env,omitempty"`
	URL       string            `yaml:"url" json:"url,omitempty"`
	Headers   map[string]string `yaml:"headers" json:"headers,omitempty"`
	// Tools restricts discovery to the named tools. Empty keeps all.
	Tools []string `yaml:"tools" json:"tools,omitempty"`
	// Timeout bounds connect and list round-trips. Zero means no bound.
	Timeout time.Duration `yaml:"timeout" json:"timeout,omitempty"`

	// Custom overrides Transport with a caller supplied transport.
	Custom sdk.Transport `yaml:"-" json:"-"`
}

// Options configure discovery.
type Options struct {
	Logger        logging.Logger
	ClientName    string
	ClientVersion string
	HTTPClient    *http.Client
}

// Server is a connected MCP server and its discovered tools.
type Server struct {
	name    string
	session *sdk.ClientSession
	tools   []tool.Tool
	logger  logging.Logger
}

// Name returns the configured server name.
func (s *Server) Name() string { return s.name }

// Tools returns the discovered tools in server listing order.
func (s *Server) Tools() []tool.Tool { return append([]tool.Tool(nil), s.tools...) }

// Close terminates the client session.
func (s *Server) Close() error {
	s.logger.Debug("mcp.session.close", "server", s.name)
	return s.session.Close()
}

// Discover connects to the server and lists its tools.
func Discover(ctx context.Context, cfg ServerConfig, optFns ...func(o *Options)) (*Server, error) {
	opts := Options{
		Logger:        logging.NoOpLogger{},
		ClientName:    "reagent",
		ClientVersion: "v1.0.0",
	}
	for _, fn := range optFns {
		fn(&opts)
	}
	logger := logging.OrNoOp(opts.Logger)

	transport, err := newTransport(cfg, opts.HTTPClient)
	if err != nil {
		return nil, err
	}

	if cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, cfg.Timeout)
		defer cancel()
	}

	client := sdk.NewClient(&sdk.Implementation{Name: opts.ClientName, Version: opts.ClientVersion}, nil)

	session, err := client.Connect(ctx, transport, nil)
	if err != nil {
		logger.Error("mcp.connect.failed", "server", cfg.Name, "error", err.Error())
		return nil, fmt.Errorf("connect to mcp server %q: %w", cfg.Name, err)
	}

	allowed := make(map[string]struct{}, len(cfg.Tools))
	for _, name := range cfg.Tools {
		allowed[name] = struct{}{}
	}

	var tools []tool.Tool
	for t, err := range session.Tools(ctx, nil) {
		if err != nil {
			_ = session.Close()
			logger.Error("mcp.list_tools.failed", "server", cfg.Name, "error", err.Error())
			return nil, fmt.Errorf("list tools of mcp server %q: %w", cfg.Name, err)
		}
		if len(allowed) > 0 {
			if _, ok := allowed[t.Name]; !ok {
				continue
			}
		}
		params, err := schemaMap(t.InputSchema)
		if err != nil {
			_ = session.Close()
			return nil, fmt.Errorf("tool %q of mcp server %q: %w", t.Name, cfg.Name, err)
		}
		tools = append(tools, &remoteTool{
			name:        t.Name,
			description: t.Description,
			parameters:  params,
			session:     session,
			server:      cfg.Name,
			logger:      logger,
		})
	}

	logger.Info("mcp.discovered", "server", cfg.Name, "tools", len(tools))

	return &Server{name: cfg.Name, session: session, tools: tools, logger: logger}, nil
}

// DiscoverAll discovers every server independently. A failing server does not
// prevent the others from being used; its error is joined into the result.
func DiscoverAll(ctx context.Context, cfgs []ServerConfig, optFns ...func(o *Options)) ([]*Server, error) {
	var (
		servers []*Server
		errs    []error
	)
	for _, cfg := range cfgs {
		srv, err := Discover(ctx, cfg, optFns...)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		servers = append(servers, srv)
	}
	return servers, errors.Join(errs...)
}

func newTransport(cfg ServerConfig, httpClient *http.Client) (sdk.Transport, error) {
	if cfg.Custom != nil {
		return cfg.Custom, nil
	}

	if len(cfg.Headers) > 0 {
		httpClient = withHeaders(httpClient, cfg.Headers)
	}

	switch cfg.Transport {
	case TransportStdio, "":
		if cfg.Command == "" {
			return nil, fmt.Errorf("%w: %q: command is required for stdio", ErrInvalidConfig, cfg.Name)
		}
		cmd := exec.Command(cfg.Command, cfg.Args...)
		if len(cfg.Env) > 0 {
			cmd.Env = os.Environ()
			for k, v := range cfg.Env {
				cmd.Env = append(cmd.Env, k+"="+v)
			}
		}
		return &sdk.CommandTransport{Command: cmd}, nil
	case TransportSSE:
		if cfg.URL == "" {
			return nil, fmt.Errorf("%w: %q: url is required for sse", ErrInvalidConfig, cfg.Name)
		}
		return &sdk.SSEClientTransport{Endpoint: cfg.URL, HTTPClient: httpClient}, nil
	case TransportStreamable:
		if cfg.URL == "" {
			return nil, fmt.Errorf("%w: %q: url is required for streamable", ErrInvalidConfig, cfg.Name)
		}
		return &sdk.StreamableClientTransport{Endpoint: cfg.URL, HTTPClient: httpClient}, nil
	default:
		return nil, fmt.Errorf("%w: %q: unknown transport %q", ErrInvalidConfig, cfg.Name, cfg.Transport)
	}
}

type headerTransport struct {
	base    http.RoundTripper
	headers map[string]string
}

func (h *headerTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	req = req.Clone(req.Context())
	for k, v := range h.headers {
		req.Header.Set(k, v)
	}
	return h.base.RoundTrip(req)
}

func withHeaders(c *http.Client, headers map[string]string) *http.Client {
	if c == nil {
		c = http.DefaultClient
	}
	base := c.Transport
	if base == nil {
		base = http.DefaultTransport
	}
	cp := *c
	cp.Transport = &headerTransport{base: base, headers: headers}
	return &cp
}

// schemaMap normalizes a listed input schema into a plain map.
func schemaMap(schema any) (map[string]any, error) {
	switch s := schema.(type) {
	case nil:
		return map[string]any{"type": "object", "properties": map[string]any{}}, nil
	case map[string]any:
		return s, nil
	}
	raw, err := json.Marshal(schema)
	if err != nil {
		return nil, fmt.Errorf("encode input schema: %w", err)
	}
	out := map[string]any{}
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("decode input schema: %w", err)
	}
	return out, nil
}

// remoteTool forwards calls to an MCP server.
type remoteTool struct {
	name        string
	description string
	parameters  map[string]any
	session     *sdk.ClientSession
	server      string
	logger      logging.Logger
}

func (t *remoteTool) Name() string               { return t.name }
func (t *remoteTool) Description() string        { return t.description }
func (t *remoteTool) Parameters() map[string]any { return t.parameters }

// Call forwards the call and joins the text contents of the result.
func (t *remoteTool) Call(ctx context.Context, args map[string]any) (string, error) {
	start := time.Now()

	res, err := t.session.CallTool(ctx, &sdk.CallToolParams{Name: t.name, Arguments: args})
	if err != nil {
		t.logger.Error("mcp.call.failed", "server", t.server, "tool", t.name, "error", err.Error())
		return "", &tool.ToolError{Tool: t.name, Message: err.Error(), Code: tool.CodeExecution, Details: err}
	}

	texts := make([]string, 0, len(res.Content))
	for _, c := range res.Content {
		if tc, ok := c.(*sdk.TextContent); ok {
			texts = append(texts, tc.Text)
		}
	}
	text := strings.Join(texts, "\n")

	if res.IsError {
		t.logger.Warn("mcp.call.tool_error", "server", t.server, "tool", t.name, "error", text)
		return "", tool.NewToolError(t.name, text, tool.CodeExecution)
	}

	t.logger.Debug("mcp.call.success", "server", t.server, "tool", t.name, "duration_ms", time.Since(start).Milliseconds())

	return text, nil
}
