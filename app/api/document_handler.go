package api

import (
	"errors"
	"log/slog"
	"strings"

	"github.com/gofiber/fiber/v2"

	"docqa/rag"
	"docqa/types"
)

type DocumentHandler struct {
	engine *rag.Engine
	logger *slog.Logger
}

func NewDocumentHandler(engine *rag.Engine) *DocumentHandler {
	return &DocumentHandler{
		engine: engine,
		logger: slog.Default(),
	}
}

// HandleUpload accepts a multipart "pdf" file and indexes it into the session
// named by the "session_id" form field.
func (h *DocumentHandler) HandleUpload(c *fiber.Ctx) error {
	fileHeader, err := c.FormFile("pdf")
	if err != nil {
		return ErrNoFile()
	}
	if fileHeader.Filename == "" {
		return ErrNoFilename()
	}
	sessionID := strings.TrimSpace(c.FormValue("session_id"))
	if sessionID == "" {
		sessionID = types.DefaultSessionID
	}

	file, err := fileHeader.Open()
	if err != nil {
		return err
	}
	defer file.Close()

	doc, err := h.engine.Upload(c.UserContext(), sessionID, fileHeader.Filename, file)
	if errors.Is(err, rag.ErrNoText) {
		return ErrNoText()
	}
	if err != nil {
		h.logger.Error("[UPLOAD] upload failed", "session_id", sessionID, "filename", fileHeader.Filename, "err", err)
		return NewError(fiber.StatusInternalServerError, err.Error())
	}

	return c.JSON(types.UploadResponse{
		Success:   true,
		DocID:     doc.ID,
		Filename:  doc.Filename,
		Chunks:    len(doc.Chunks),
		Metadata:  doc.Metadata,
		SessionID: doc.SessionID,
	})
}

func (h *DocumentHandler) HandleList(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{"documents": h.engine.Documents(c.Params("session_id"))})
}

func (h *DocumentHandler) HandleDelete(c *fiber.Ctx) error {
	sessionID, docID := c.Params("session_id"), c.Params("doc_id")
	if err := h.engine.RemoveDocument(c.UserContext(), sessionID, docID); err != nil {
		return NewError(fiber.StatusInternalServerError, err.Error())
	}
	return c.JSON(fiber.Map{"success": true})
}
