package providers

import (
	"fmt"

	"github.com/orchestra-mcp/petlink/src/types"
)

// Tool is an operator command exposed under /tools.
type Tool struct {
	Name        string
	Description string
	InputSchema map[string]any
	Handler     func(input map[string]any) (any, error)
}

func (r *Relay) defaultTools() []Tool {
	return []Tool{
		{
			Name:        "list_clients",
			Description: "List connected overlay clients",
			InputSchema: map[string]any{},
			Handler:     r.toolListClients,
		},
		{
			Name:        "broadcast",
			Description: "Broadcast an envelope to every connected overlay",
			InputSchema: map[string]any{
				"type": map[string]any{"type": "string", "description": "Envelope type"},
				"data": map[string]any{"type": "object", "description": "Envelope data"},
			},
			Handler: r.toolBroadcast,
		},
		{
			Name:        "unread_count",
			Description: "Count unread messages for a user",
			InputSchema: map[string]any{
				"user": map[string]any{"type": "string", "description": "Slack user ID"},
			},
			Handler: r.toolUnreadCount,
		},
	}
}

func (r *Relay) tool(name string) (Tool, bool) {
	for _, t := range r.tools {
		if t.Name == name {
			return t, true
		}
	}
	return Tool{}, false
}

func (r *Relay) toolListClients(_ map[string]any) (any, error) {
	if r.service == nil {
		return nil, fmt.Errorf("relay not active")
	}
	infos := r.service.GetClients()
	return map[string]any{
		"clients": infos,
		"count":   len(infos),
	}, nil
}

func (r *Relay) toolBroadcast(input map[string]any) (any, error) {
	if r.service == nil {
		return nil, fmt.Errorf("relay not active")
	}
	typ, _ := input["type"].(string)
	if typ == "" {
		return nil, fmt.Errorf("type is required")
	}
	env, err := types.NewEnvelope(typ, input["data"])
	if err != nil {
		return nil, err
	}
	r.service.Hub().Broadcast(env)
	return map[string]any{"broadcast": true, "type": typ}, nil
}

func (r *Relay) toolUnreadCount(input map[string]any) (any, error) {
	if r.service == nil {
		return nil, fmt.Errorf("relay not active")
	}
	user, _ := input["user"].(string)
	if user == "" {
		user = DefaultUser
	}
	msgs, err := r.service.Unread(r.ctx, user)
	if err != nil {
		return nil, err
	}
	return map[string]any{"user": user, "count": len(msgs)}, nil
}
