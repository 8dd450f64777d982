package providers

import (
	"encoding/json"
	"errors"

	"github.com/gofiber/fiber/v3"
	"github.com/orchestra-mcp/petlink/src/service"
	"github.com/orchestra-mcp/petlink/src/slack"
	"github.com/orchestra-mcp/petlink/src/types"
)

// DefaultUser keys unread messages when no recipient is known.
const DefaultUser = "default"

// RegisterRoutes registers the REST routes. The WebSocket upgrade is
// handled ahead of fiber in Handler since fiber does not expose the raw
// request context for hijacking.
func (r *Relay) RegisterRoutes(group fiber.Router) {
	group.Get("/ws/info", r.handleInfo)
	group.Post("/slack/event", r.handleSlackEvent)
	group.Post("/slack/reply", r.handleReply)
	group.Get("/messages/unread", r.handleUnread)
	group.Get("/messages/unread/:user", r.handleUnread)
	group.Post("/messages/read/:user", r.handleMarkRead)
	group.Get("/tools", r.handleListTools)
	group.Post("/tools/:name", r.handleCallTool)
}

func (r *Relay) handleInfo(c fiber.Ctx) error {
	info := fiber.Map{
		"websocket": true,
		"endpoint":  WebSocketPath,
		"clients":   r.hub.ClientCount(),
		"bridge":    r.Bridged(),
	}
	if rb := r.bridge.Load(); rb != nil {
		info["bridge_stats"] = rb.Stats()
	}
	return c.JSON(info)
}

func (r *Relay) handleSlackEvent(c fiber.Ctx) error {
	body := c.Body()

	if r.cfg.SlackSigningSecret != "" {
		err := slack.Verify(r.cfg.SlackSigningSecret, c.Get(slack.HeaderTimestamp), c.Get(slack.HeaderSignature), body, r.now())
		if err != nil {
			r.logger.Warn().Err(err).Msg("rejected slack request")
			return c.Status(fiber.StatusForbidden).JSON(fiber.Map{"error": "invalid signature"})
		}
	}

	cb, err := slack.ParseCallback(body)
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": err.Error()})
	}

	switch cb.Type {
	case slack.CallbackURLVerification:
		return c.JSON(fiber.Map{"challenge": cb.Challenge})
	case slack.CallbackEvent:
		msg, ok := cb.Event.ChatMessage()
		if !ok {
			break
		}
		user := cb.Recipient()
		if user == "" {
			user = DefaultUser
		}
		if err := r.service.Notify(r.ctx, user, msg); err != nil {
			r.logger.Error().Err(err).Str("event_id", cb.EventID).Msg("notify failed")
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": err.Error()})
		}
	}
	return c.JSON(fiber.Map{"ok": true})
}

func (r *Relay) handleReply(c fiber.Ctx) error {
	var req types.ReplyRequest
	if err := json.Unmarshal(c.Body(), &req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid body"})
	}
	if req.Channel == "" || req.Text == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "channel and text are required"})
	}

	res, err := r.service.Reply(r.ctx, req)
	switch {
	case errors.Is(err, service.ErrNoReplier):
		return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{"error": err.Error()})
	case err != nil:
		return c.Status(fiber.StatusBadGateway).JSON(fiber.Map{"error": err.Error()})
	}
	return c.JSON(res)
}

func (r *Relay) handleUnread(c fiber.Ctx) error {
	user := c.Params("user")
	if user == "" {
		user = DefaultUser
	}
	msgs, err := r.service.Unread(r.ctx, user)
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": err.Error()})
	}
	if msgs == nil {
		msgs = []types.ChatMessage{}
	}
	return c.JSON(types.UnreadResponse{Count: len(msgs), Messages: msgs})
}

func (r *Relay) handleMarkRead(c fiber.Ctx) error {
	n, err := r.service.MarkRead(r.ctx, c.Params("user"))
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": err.Error()})
	}
	return c.JSON(fiber.Map{"cleared": n})
}

func (r *Relay) handleListTools(c fiber.Ctx) error {
	out := make([]fiber.Map, 0, len(r.tools))
	for _, t := range r.tools {
		out = append(out, fiber.Map{
			"name":         t.Name,
			"description":  t.Description,
			"input_schema": t.InputSchema,
		})
	}
	return c.JSON(fiber.Map{"tools": out})
}

func (r *Relay) handleCallTool(c fiber.Ctx) error {
	tool, ok := r.tool(c.Params("name"))
	if !ok {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "unknown tool"})
	}
	input := map[string]any{}
	if body := c.Body(); len(body) > 0 {
		if err := json.Unmarshal(body, &input); err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid body"})
		}
	}
	result, err := tool.Handler(input)
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": err.Error()})
	}
	return c.JSON(result)
}
