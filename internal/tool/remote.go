package tool

import (
	"context"
	"errors"

	"github.com/nidhogg/nuka-conductor/internal/mcp"
)

// RemoteCaller is the subset of an MCP client the registry needs.
type RemoteCaller interface {
	Name() string
	ListTools() []mcp.ToolInfo
	CallTool(ctx context.Context, name string, args map[string]interface{}) (*mcp.CallResult, error)
}

// RemoteCallCost is charged for each call to a remote tool.
const RemoteCallCost = 0.2

// RegisterRemote exposes every tool discovered on the given MCP servers.
// Remote tools replace builtins of the same id. It returns how many were added.
func RegisterRemote(reg *Registry, clients []RemoteCaller) int {
	n := 0
	for _, c := range clients {
		for _, info := range c.ListTools() {
			client, name := c, info.Name
			reg.Register(Tool{
				ID:          name,
				Description: info.Description,
				Category:    "mcp:" + client.Name(),
				CostPerCall: RemoteCallCost,
				Handler: func(ctx context.Context, params map[string]any) (any, error) {
					res, err := client.CallTool(ctx, name, params)
					if err != nil {
						return nil, err
					}
					if res.IsError {
						return nil, errors.New(res.Text())
					}
					return res.Text(), nil
				},
			})
			n++
		}
	}
	return n
}
