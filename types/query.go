package types

import (
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
)

const DefaultSessionID = "default"

var validate = validator.New()

type Validater interface {
	Validate() map[string]string
}

// AskParams is the body of POST /ask.
type AskParams struct {
	Question  string `json:"question" validate:"required"`
	SessionID string `json:"session_id" validate:"omitempty,max=256"`
	ModelType string `json:"model_type" validate:"omitempty,max=64"`
	APIKey    string `json:"api_key"`
	AIMLModel string `json:"aiml_model" validate:"omitempty,max=256"`
}

func Validate(v Validater) map[string]string {
	return v.Validate()
}

// Normalize trims the question and fills defaults for omitted fields.
func (params *AskParams) Normalize() {
	params.Question = strings.TrimSpace(params.Question)
	params.SessionID = strings.TrimSpace(params.SessionID)
	if params.SessionID == "" {
		params.SessionID = DefaultSessionID
	}
	if params.ModelType == "" {
		params.ModelType = "local"
	}
}

func (params *AskParams) Validate() map[string]string {
	if err := validate.Struct(params); err != nil {
		errs, ok := err.(validator.ValidationErrors)
		if !ok {
			return map[string]string{"request": err.Error()}
		}
		errors := make(map[string]string)
		for _, e := range errs {
			errors[e.Field()] = fmt.Sprintf("failed on '%s' tag", e.Tag())
		}
		return errors
	}
	return nil
}

type UploadResponse struct {
	Success   bool     `json:"success"`
	DocID     string   `json:"doc_id"`
	Filename  string   `json:"filename"`
	Chunks    int      `json:"chunks"`
	Metadata  Metadata `json:"metadata"`
	SessionID string   `json:"session_id"`
}

type DocumentInfo struct {
	DocID      string    `json:"doc_id"`
	Filename   string    `json:"filename"`
	Chunks     int       `json:"chunks"`
	Metadata   Metadata  `json:"metadata"`
	UploadTime time.Time `json:"upload_time"`
	SessionID  string    `json:"session_id"`
}

type AskResponse struct {
	Answer                  string   `json:"answer"`
	Sources                 []Source `json:"sources"`
	ModelUsed               string   `json:"model_used"`
	SessionID               string   `json:"session_id"`
	ConversationContextUsed bool     `json:"conversation_context_used"`
}

type Source struct {
	Text       string  `json:"text"`
	Score      float32 `json:"score"`
	DocName    string  `json:"doc_name"`
	DocID      string  `json:"doc_id"`
	ChunkIndex int     `json:"chunk_index"`
}

type SessionSummary struct {
	SessionID    string              `json:"session_id"`
	Documents    DocumentsSummary    `json:"documents"`
	Conversation ConversationSummary `json:"conversation"`
}

type DocumentsSummary struct {
	Count       int           `json:"count"`
	TotalChunks int           `json:"total_chunks"`
	Files       []FileSummary `json:"files"`
}

type FileSummary struct {
	Name   string `json:"name"`
	Chunks int    `json:"chunks"`
}

type ConversationSummary struct {
	TotalMessages      int        `json:"total_messages"`
	UserQuestions      int        `json:"user_questions"`
	AssistantResponses int        `json:"assistant_responses"`
	LastActivity       *time.Time `json:"last_activity"`
}

type HealthResponse struct {
	Status               string `json:"status"`
	EmbeddingModelLoaded bool   `json:"embedding_model_loaded"`
	LocalLLMLoaded       bool   `json:"local_llm_loaded"`
	TotalSessions        int    `json:"total_sessions"`
	TotalDocuments       int    `json:"total_documents"`
	ActiveConversations  int    `json:"active_conversations"`
}
