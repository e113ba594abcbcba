package api

import (
	"log/slog"

	"github.com/gofiber/fiber/v2"

	"docqa/rag"
	"docqa/types"
)

// RequestHandler serves questions and the per-session conversation views.
type RequestHandler struct {
	engine *rag.Engine
	logger *slog.Logger
}

func NewRequestHandler(engine *rag.Engine) *RequestHandler {
	return &RequestHandler{
		engine: engine,
		logger: slog.Default(),
	}
}

func (h *RequestHandler) HandleAsk(c *fiber.Ctx) error {
	var params types.AskParams
	if c.BodyParser(&params) != nil {
		return ErrBadRequest()
	}

	params.Normalize()
	if params.Question == "" {
		return ErrNoQuestion()
	}
	if errors := types.Validate(&params); len(errors) > 0 {
		return NewValidationError(errors)
	}

	resp := h.engine.Ask(c.UserContext(), params)
	h.logger.Info("[ASK] question answered",
		"session_id", resp.SessionID,
		"model", resp.ModelUsed,
		"sources", len(resp.Sources),
		"context_used", resp.ConversationContextUsed,
	)
	return c.JSON(resp)
}

func (h *RequestHandler) HandleConversation(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{"conversation": h.engine.Conversation(c.Params("session_id"))})
}

func (h *RequestHandler) HandleClearConversation(c *fiber.Ctx) error {
	h.engine.ClearConversation(c.Params("session_id"))
	return c.JSON(fiber.Map{"success": true})
}

func (h *RequestHandler) HandleSummary(c *fiber.Ctx) error {
	return c.JSON(h.engine.Summary(c.Params("session_id")))
}
