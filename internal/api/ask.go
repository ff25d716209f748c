package api

import (
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"
	"golang.org/x/net/context"

	"github.com/satquery/satquery/internal/agent"
	"github.com/satquery/satquery/internal/kb"
	"github.com/satquery/satquery/internal/logging"
	"github.com/satquery/satquery/internal/usage"
	"github.com/satquery/satquery/internal/validation"
)

// AskRequest is the body of POST /v1/ask.
type AskRequest struct {
	Question string         `json:"question" binding:"required"`
	TopK     int            `json:"top_k,omitempty"`
	Stream   bool           `json:"stream,omitempty"`
	TTS      *AskTTSOptions `json:"tts,omitempty"`
}

// AskTTSOptions carries per-request speech synthesis preferences. Enabled is
// a pointer so an absent field inherits the configured default instead of
// forcing speech off.
type AskTTSOptions struct {
	Enabled *bool    `json:"enabled,omitempty"`
	Voice   string   `json:"voice,omitempty"`
	Volume  *float64 `json:"volume,omitempty"`
}

// AskResponse is the body of a non-streaming answer.
type AskResponse struct {
	ID       string          `json:"id"`
	Model    string          `json:"model"`
	Answer   string          `json:"answer"`
	Snippets []kb.Snippet    `json:"snippets,omitempty"`
	Usage    agent.Usage     `json:"usage"`
	TTS      *AskTTSPlayback `json:"tts,omitempty"`
}

// AskTTSPlayback echoes the effective speech settings back to the client.
type AskTTSPlayback struct {
	Voice  string  `json:"voice"`
	Volume float64 `json:"volume"`
}

// handleAsk answers a question, optionally augmented with knowledge base
// snippets, and optionally streamed as SSE.
func (s *Server) handleAsk(c *gin.Context) {
	var req AskRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error: ErrorDetail{
				Message: fmt.Sprintf("invalid request body: %v", err),
				Type:    "invalid_request_error",
				Code:    "invalid_request",
			},
		})
		return
	}

	cfg := s.currentConfig()
	requestID := logging.GetGinRequestID(c)
	requestedAt := time.Now()
	answerID := "ask-" + uuid.NewString()

	// Per-request playback volume is advisory. Out-of-range values are
	// dropped in favor of the configured default rather than failing the
	// whole question.
	ttsPlayback := s.resolveTTSPlayback(req.TTS)

	snippets := s.retrieveSnippets(c.Request.Context(), cfg.Upstream.Model, req.Question, req.TopK)

	payload := agent.BuildChatPayload(cfg.Upstream.Model, cfg.Upstream.SystemPrompt, req.Question, snippets, req.Stream)

	logFields := log.Fields{
		"request_id":      requestID,
		"model":           cfg.Upstream.Model,
		"question_tokens": agent.CountTokens(cfg.Upstream.Model, req.Question),
		"snippets":        len(snippets),
	}

	if req.Stream {
		s.streamAnswer(c, payload, answerID, snippets, ttsPlayback, logFields, requestedAt)
		return
	}

	completion, err := s.currentUpstream().Complete(c.Request.Context(), payload)
	if err != nil {
		status := statusFromError(err)
		log.WithFields(logFields).Errorf("ask failed: %v", err)
		s.publishUsage(c, completion, requestedAt, len(snippets), false, true)
		c.Data(status, "application/json", BuildErrorResponseBody(status, err.Error()))
		return
	}

	log.WithFields(logFields).Info("question answered")
	s.publishUsage(c, completion, requestedAt, len(snippets), false, false)

	c.JSON(http.StatusOK, AskResponse{
		ID:       answerID,
		Model:    completion.Model,
		Answer:   completion.Text,
		Snippets: snippets,
		Usage:    completion.Usage,
		TTS:      ttsPlayback,
	})
}

// resolveTTSPlayback merges per-request speech options with the configured
// defaults. Invalid request volumes are ignored.
func (s *Server) resolveTTSPlayback(opts *AskTTSOptions) *AskTTSPlayback {
	cfg := s.currentConfig()
	enabled := cfg.TTS.Enabled
	if opts != nil && opts.Enabled != nil {
		enabled = *opts.Enabled
	}
	if !enabled {
		return nil
	}

	volume := 1.0
	if validation.CheckVolume(cfg.TTS.DefaultVolume) && cfg.TTS.DefaultVolume != nil {
		volume = *cfg.TTS.DefaultVolume
	}
	if opts != nil && opts.Volume != nil {
		if validation.CheckVolume(opts.Volume) {
			volume = *opts.Volume
		} else {
			log.Debugf("ignoring out-of-range playback volume %v", *opts.Volume)
		}
	}

	voice := cfg.TTS.Voice
	if opts != nil && opts.Voice != "" {
		voice = opts.Voice
	}
	return &AskTTSPlayback{Voice: voice, Volume: volume}
}

// retrieveSnippets runs the knowledge base search and trims the results to
// the configured token budget. Retrieval failures degrade to an unaugmented
// answer.
func (s *Server) retrieveSnippets(ctx context.Context, model, question string, topK int) []kb.Snippet {
	cfg := s.currentConfig()
	if s.store == nil || !cfg.Knowledge.Enabled {
		return nil
	}
	if topK <= 0 {
		topK = cfg.Knowledge.TopK
	}

	snippets, err := s.store.Search(ctx, question, topK)
	if err != nil {
		log.Warnf("knowledge search failed, answering without references: %v", err)
		return nil
	}
	return agent.TrimSnippetsToBudget(model, snippets, cfg.Knowledge.SnippetTokenBudget)
}

// streamAnswer forwards upstream SSE chunks to the client as they arrive,
// then closes the stream with a final metadata event.
func (s *Server) streamAnswer(c *gin.Context, payload []byte, answerID string, snippets []kb.Snippet, ttsPlayback *AskTTSPlayback, logFields log.Fields, requestedAt time.Time) {
	flusher, ok := c.Writer.(http.Flusher)
	if !ok {
		c.JSON(http.StatusInternalServerError, ErrorResponse{
			Error: ErrorDetail{
				Message: "Streaming not supported",
				Type:    "server_error",
			},
		})
		return
	}

	headersSent := false
	setSSEHeaders := func() {
		c.Header("Content-Type", "text/event-stream")
		c.Header("Cache-Control", "no-cache")
		c.Header("Connection", "keep-alive")
		headersSent = true
	}

	completion, err := s.currentUpstream().CompleteStream(c.Request.Context(), payload, func(chunk agent.StreamChunk) {
		if !headersSent {
			setSSEHeaders()
		}
		_, _ = fmt.Fprintf(c.Writer, "data: %s\n\n", chunk.Raw)
		flusher.Flush()
	})
	if err != nil {
		log.WithFields(logFields).Errorf("ask stream failed: %v", err)
		s.publishUsage(c, completion, requestedAt, len(snippets), true, true)
		if !headersSent {
			status := statusFromError(err)
			c.Data(status, "application/json", BuildErrorResponseBody(status, err.Error()))
		}
		return
	}

	if !headersSent {
		setSSEHeaders()
	}

	log.WithFields(logFields).Info("question answered")
	s.publishUsage(c, completion, requestedAt, len(snippets), true, false)

	final := gin.H{
		"id":       answerID,
		"model":    completion.Model,
		"snippets": len(snippets),
		"usage":    completion.Usage,
	}
	if ttsPlayback != nil {
		final["tts"] = ttsPlayback
	}
	c.SSEvent("answer.metadata", final)
	_, _ = fmt.Fprintf(c.Writer, "data: [DONE]\n\n")
	flusher.Flush()
}

func (s *Server) publishUsage(c *gin.Context, completion *agent.Completion, requestedAt time.Time, snippets int, streamed, failed bool) {
	if s.usageMgr == nil {
		return
	}
	cfg := s.currentConfig()
	record := usage.Record{
		Model:       cfg.Upstream.Model,
		RequestID:   logging.GetGinRequestID(c),
		APIKey:      c.GetString(ginAPIKeyHashKey),
		RequestedAt: requestedAt,
		Failed:      failed,
		Streamed:    streamed,
		Snippets:    snippets,
	}
	if completion != nil {
		if completion.Model != "" {
			record.Model = completion.Model
		}
		record.Detail = usage.Detail{
			InputTokens:  completion.Usage.PromptTokens,
			OutputTokens: completion.Usage.CompletionTokens,
			TotalTokens:  completion.Usage.TotalTokens,
		}
	}
	s.usageMgr.Publish(context.Background(), record)
}
