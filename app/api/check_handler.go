package api

import (
	"github.com/gofiber/fiber/v2"

	"docqa/app/agent"
	"docqa/rag"
	"docqa/types"
)

// CheckHandler reports readiness and the backend model catalog.
type CheckHandler struct {
	engine     *rag.Engine
	dispatcher *agent.Dispatcher
	local      *agent.LocalBackend
}

// NewCheckHandler builds the handler. local may be nil when no local model is
// configured.
func NewCheckHandler(engine *rag.Engine, dispatcher *agent.Dispatcher, local *agent.LocalBackend) *CheckHandler {
	return &CheckHandler{
		engine:     engine,
		dispatcher: dispatcher,
		local:      local,
	}
}

func (h *CheckHandler) HandleHealthy(c *fiber.Ctx) error {
	stats := h.engine.Stats()
	return c.JSON(types.HealthResponse{
		Status:               "healthy",
		EmbeddingModelLoaded: h.engine.Embedder() != nil,
		LocalLLMLoaded:       h.local != nil && h.local.Loaded(),
		TotalSessions:        stats.Sessions,
		TotalDocuments:       stats.Documents,
		ActiveConversations:  stats.Conversations,
	})
}

func (h *CheckHandler) HandleModels(c *fiber.Ctx) error {
	return c.JSON(h.dispatcher.Catalog())
}
