package registry

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"sync"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/sentrakit/agentcore/config"
)

// ExternalTool is a tool advertised by an external provider, before
// namespacing.
type ExternalTool struct {
	Name        string
	Description string
	InputSchema map[string]interface{}
}

// ExternalProvider lists and invokes tools on external servers. The registry
// only depends on this interface; the MCP-backed implementation lives below.
type ExternalProvider interface {
	ListTools(ctx context.Context, serverID string) ([]ExternalTool, error)
	CallTool(ctx context.Context, serverID, name string, args map[string]interface{}) (interface{}, error)
	ServerIDs() []string
	Close() error
}

// MCPManager maintains one stdio session per configured MCP server. Sessions
// are dialed lazily and re-dialed after a failed call.
type MCPManager struct {
	servers     map[string]config.MCPServerConfig
	order       []string
	connTimeout time.Duration

	mu       sync.Mutex
	sessions map[string]*mcp.ClientSession
}

func NewMCPManager(servers []config.MCPServerConfig, connTimeout time.Duration) *MCPManager {
	m := &MCPManager{
		servers:     make(map[string]config.MCPServerConfig, len(servers)),
		connTimeout: connTimeout,
		sessions:    make(map[string]*mcp.ClientSession),
	}
	for _, s := range servers {
		m.servers[s.ID] = s
		m.order = append(m.order, s.ID)
	}
	return m
}

func (m *MCPManager) ServerIDs() []string {
	out := make([]string, len(m.order))
	copy(out, m.order)
	return out
}

func (m *MCPManager) session(ctx context.Context, serverID string) (*mcp.ClientSession, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if sess, ok := m.sessions[serverID]; ok {
		return sess, nil
	}
	srv, ok := m.servers[serverID]
	if !ok {
		return nil, fmt.Errorf("unknown mcp server %q", serverID)
	}
	if m.connTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, m.connTimeout)
		defer cancel()
	}
	cmd := exec.Command(srv.Command, srv.Args...)
	cmd.Env = os.Environ()
	for k, v := range srv.Env {
		cmd.Env = append(cmd.Env, k+"="+v)
	}
	client := mcp.NewClient(&mcp.Implementation{Name: "agentcore", Version: "1.0.0"}, nil)
	sess, err := client.Connect(ctx, &mcp.CommandTransport{Command: cmd}, nil)
	if err != nil {
		return nil, fmt.Errorf("connect mcp server %q: %w", serverID, err)
	}
	m.sessions[serverID] = sess
	return sess, nil
}

func (m *MCPManager) drop(serverID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if sess, ok := m.sessions[serverID]; ok {
		_ = sess.Close()
		delete(m.sessions, serverID)
	}
}

func (m *MCPManager) ListTools(ctx context.Context, serverID string) ([]ExternalTool, error) {
	sess, err := m.session(ctx, serverID)
	if err != nil {
		return nil, err
	}
	res, err := sess.ListTools(ctx, &mcp.ListToolsParams{})
	if err != nil {
		m.drop(serverID)
		return nil, fmt.Errorf("list tools on %q: %w", serverID, err)
	}
	out := make([]ExternalTool, 0, len(res.Tools))
	for _, t := range res.Tools {
		out = append(out, ExternalTool{
			Name:        t.Name,
			Description: t.Description,
			InputSchema: schemaToMap(t.InputSchema),
		})
	}
	return out, nil
}

func (m *MCPManager) CallTool(ctx context.Context, serverID, name string, args map[string]interface{}) (interface{}, error) {
	sess, err := m.session(ctx, serverID)
	if err != nil {
		return nil, err
	}
	res, err := sess.CallTool(ctx, &mcp.CallToolParams{Name: name, Arguments: args})
	if err != nil {
		m.drop(serverID)
		return nil, fmt.Errorf("call %q on %q: %w", name, serverID, err)
	}
	// Round-trip through JSON to hand the registry the neutral content
	// shape instead of SDK types.
	b, err := json.Marshal(res)
	if err != nil {
		return nil, fmt.Errorf("encode result of %q: %w", name, err)
	}
	var raw map[string]interface{}
	if err := json.Unmarshal(b, &raw); err != nil {
		return nil, fmt.Errorf("decode result of %q: %w", name, err)
	}
	return raw, nil
}

func (m *MCPManager) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	var first error
	for id, sess := range m.sessions {
		if err := sess.Close(); err != nil && first == nil {
			first = err
		}
		delete(m.sessions, id)
	}
	return first
}

func schemaToMap(schema interface{}) map[string]interface{} {
	if schema == nil {
		return nil
	}
	b, err := json.Marshal(schema)
	if err != nil {
		return nil
	}
	var out map[string]interface{}
	if err := json.Unmarshal(b, &out); err != nil {
		return nil
	}
	return out
}
