package httpapi

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/redworks/red/internal/domain/models"
	"github.com/redworks/red/internal/engine"
	"github.com/redworks/red/internal/memory"
	"github.com/redworks/red/internal/ports"
)

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok", "service": serviceName})
}

func (s *Server) handleInfo(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"service": serviceName, "version": s.version})
}

func (s *Server) handleListModels(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, modelList{
		Object: "list",
		Data:   []modelInfo{s.modelInfo()},
	})
}

func (s *Server) handleGetModel(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if id != s.model {
		writeError(w, http.StatusNotFound, fmt.Sprintf("Model %q not found", id), "model_not_found")
		return
	}
	writeJSON(w, http.StatusOK, s.modelInfo())
}

func (s *Server) modelInfo() modelInfo {
	return modelInfo{ID: s.model, Object: "model", Created: time.Now().Unix(), OwnedBy: "redworks"}
}

func (s *Server) handleChatCompletions(w http.ResponseWriter, r *http.Request) {
	var req chatCompletionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid JSON body", "invalid_request")
		return
	}
	if len(req.Messages) == 0 {
		writeError(w, http.StatusBadRequest, "messages must not be empty", "invalid_request")
		return
	}

	var systemMessage string
	query := ""
	for _, msg := range req.Messages {
		switch msg.Role {
		case "system":
			systemMessage = msg.Content
		case "user":
			query = msg.Content
		}
	}
	if strings.TrimSpace(query) == "" {
		writeError(w, http.StatusBadRequest, "last user message must not be empty", "invalid_request")
		return
	}

	// Correlation: explicit header wins; otherwise the first message's
	// content yields a stable id so client retries land in the same
	// conversation.
	conversationID := r.Header.Get("X-Conversation-Id")
	if conversationID == "" {
		conversationID = memory.DeriveConversationID(strings.TrimSpace(req.Messages[0].Content))
	}

	model := req.Model
	if model == "" {
		model = s.model
	}
	engineReq := engine.Request{Query: query, ConversationID: conversationID, SystemMessage: systemMessage}

	if req.Stream {
		s.streamCompletion(w, r, engineReq, model)
		return
	}

	result, err := s.engine.Respond(r.Context(), engineReq)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	w.Header().Set("X-Conversation-Id", result.ConversationID)
	writeJSON(w, http.StatusOK, chatCompletion{
		ID:      result.GenerationID,
		Object:  "chat.completion",
		Created: time.Now().Unix(),
		Model:   model,
		Choices: []completionChoice{{
			Index:        0,
			Message:      chatMessage{Role: "assistant", Content: result.Response},
			FinishReason: "stop",
		}},
	})
}

func writeEngineError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, ports.ErrEmptyContent):
		writeError(w, http.StatusBadRequest, err.Error(), "invalid_request")
	case errors.Is(err, ports.ErrGenerationInProgress):
		writeError(w, http.StatusInternalServerError, err.Error(), "generation_in_progress")
	default:
		writeError(w, http.StatusInternalServerError, err.Error(), "generation_error")
	}
}

func (s *Server) streamCompletion(w http.ResponseWriter, r *http.Request, engineReq engine.Request, model string) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming unsupported", "internal_error")
		return
	}

	turn, err := s.engine.RespondStream(r.Context(), engineReq)
	if err != nil {
		writeEngineError(w, err)
		return
	}

	events, err := s.pipeline.SubscribeToMessage(r.Context(), turn.MessageID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error(), "internal_error")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Conversation-Id", turn.ConversationID)
	w.Header().Set("X-Generation-Id", turn.GenerationID)
	w.WriteHeader(http.StatusOK)

	created := time.Now().Unix()
	frame := func(chunk chatCompletionChunk) {
		chunk.ID = turn.GenerationID
		chunk.Object = "chat.completion.chunk"
		chunk.Created = created
		chunk.Model = model
		data, err := json.Marshal(chunk)
		if err != nil {
			return
		}
		fmt.Fprintf(w, "data: %s\n\n", data)
		flusher.Flush()
	}
	done := func() {
		fmt.Fprint(w, "data: [DONE]\n\n")
		flusher.Flush()
	}

	frame(chatCompletionChunk{Choices: []chunkChoice{{Delta: chunkDelta{Role: "assistant"}}}})

	// The subscriber is attached and the role frame is out; let the
	// engine start emitting.
	if err := s.pipeline.MarkStreamReady(r.Context(), turn.MessageID); err != nil {
		s.slog.Warn("httpapi: ready handshake failed", "message", turn.MessageID, "error", err)
	}

	for event := range events {
		switch event.Type {
		case models.StreamEventInit:
			if event.ExistingContent != "" {
				frame(chatCompletionChunk{Choices: []chunkChoice{{Delta: chunkDelta{Content: event.ExistingContent}}}})
			}
		case models.StreamEventChunk:
			delta := chunkDelta{Content: event.Content}
			if event.Thinking {
				delta = chunkDelta{ReasoningContent: event.Content}
			}
			frame(chatCompletionChunk{Choices: []chunkChoice{{Delta: delta}}})
		case models.StreamEventComplete:
			stop := "stop"
			frame(chatCompletionChunk{Choices: []chunkChoice{{Delta: chunkDelta{}, FinishReason: &stop}}})
			done()
			return
		case models.StreamEventError:
			frame(chatCompletionChunk{Error: event.Error})
			done()
			return
		}
		// Status and tool events are internal; the OpenAI surface only
		// carries deltas.
	}
}

func (s *Server) handleGenerationLogs(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming unsupported", "internal_error")
		return
	}
	if s.logger == nil {
		writeError(w, http.StatusServiceUnavailable, "log streaming disabled", "logs_unavailable")
		return
	}

	generationID := chi.URLParam(r, "id")
	entries, err := s.logger.SubscribeToGeneration(r.Context(), generationID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error(), "internal_error")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.WriteHeader(http.StatusOK)

	for entry := range entries {
		data, err := json.Marshal(entry)
		if err != nil {
			continue
		}
		fmt.Fprintf(w, "data: %s\n\n", data)
		flusher.Flush()
	}
	fmt.Fprint(w, "data: [DONE]\n\n")
	flusher.Flush()
}
