package api

import "github.com/gofiber/fiber/v2"

type Handlers struct {
	Documents *DocumentHandler
	Requests  *RequestHandler
	Check     *CheckHandler
}

func RegisterRoutes(r fiber.Router, h Handlers) {
	r.Post("/upload", h.Documents.HandleUpload)
	r.Get("/documents/:session_id", h.Documents.HandleList)
	r.Delete("/documents/:session_id/:doc_id", h.Documents.HandleDelete)

	r.Post("/ask", h.Requests.HandleAsk)
	r.Get("/conversation/:session_id", h.Requests.HandleConversation)
	r.Delete("/conversation/:session_id", h.Requests.HandleClearConversation)
	r.Get("/session/:session_id/summary", h.Requests.HandleSummary)

	r.Get("/models", h.Check.HandleModels)
	r.Get("/health", h.Check.HandleHealthy)
}
