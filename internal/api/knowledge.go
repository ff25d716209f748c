package api

import (
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	log "github.com/sirupsen/logrus"
)

// AddDocumentRequest is the body of POST /v1/knowledge/documents.
type AddDocumentRequest struct {
	Title   string `json:"title" binding:"required"`
	Source  string `json:"source,omitempty"`
	Content string `json:"content" binding:"required"`
}

func (s *Server) knowledgeUnavailable(c *gin.Context) bool {
	if s.store != nil && s.currentConfig().Knowledge.Enabled {
		return false
	}
	c.JSON(http.StatusNotFound, ErrorResponse{
		Error: ErrorDetail{
			Message: "knowledge base is not enabled",
			Type:    "invalid_request_error",
			Code:    "not_found",
		},
	})
	return true
}

// handleAddDocument ingests a document: chunk, embed, and index.
func (s *Server) handleAddDocument(c *gin.Context) {
	if s.knowledgeUnavailable(c) {
		return
	}

	var req AddDocumentRequest
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

	doc, err := s.store.AddDocument(c.Request.Context(), req.Title, req.Source, req.Content)
	if err != nil {
		status := statusFromError(err)
		log.Errorf("document ingest failed: %v", err)
		c.Data(status, "application/json", BuildErrorResponseBody(status, err.Error()))
		return
	}

	log.Infof("document ingested: %q (%d chunks)", doc.Title, doc.Chunks)
	c.JSON(http.StatusCreated, doc)
}

// handleListDocuments returns the indexed documents.
func (s *Server) handleListDocuments(c *gin.Context) {
	if s.knowledgeUnavailable(c) {
		return
	}

	docs, err := s.store.Documents(c.Request.Context())
	if err != nil {
		status := statusFromError(err)
		c.Data(status, "application/json", BuildErrorResponseBody(status, err.Error()))
		return
	}
	c.JSON(http.StatusOK, gin.H{"documents": docs})
}

// handleSearchKnowledge runs a similarity search without answering.
func (s *Server) handleSearchKnowledge(c *gin.Context) {
	if s.knowledgeUnavailable(c) {
		return
	}

	query := strings.TrimSpace(c.Query("q"))
	if query == "" {
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error: ErrorDetail{
				Message: "query parameter q is required",
				Type:    "invalid_request_error",
				Code:    "invalid_request",
			},
		})
		return
	}

	topK := s.currentConfig().Knowledge.TopK
	if raw := c.Query("top_k"); raw != "" {
		if parsed, err := strconv.Atoi(raw); err == nil && parsed > 0 {
			topK = parsed
		}
	}

	snippets, err := s.store.Search(c.Request.Context(), query, topK)
	if err != nil {
		status := statusFromError(err)
		c.Data(status, "application/json", BuildErrorResponseBody(status, err.Error()))
		return
	}
	c.JSON(http.StatusOK, gin.H{"snippets": snippets})
}
