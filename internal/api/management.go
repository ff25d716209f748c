package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/satquery/satquery/internal/util"
)

// handleManagementConfig returns the active configuration with secrets masked.
func (s *Server) handleManagementConfig(c *gin.Context) {
	cfg := s.currentConfig()

	maskedKeys := make([]string, 0, len(cfg.APIKeys))
	for _, key := range cfg.APIKeys {
		maskedKeys = append(maskedKeys, util.HideAPIKey(key))
	}

	c.JSON(http.StatusOK, gin.H{
		"port":            cfg.Port,
		"debug":           cfg.Debug,
		"logging-to-file": cfg.LoggingToFile,
		"request-log":     cfg.RequestLog,
		"api-keys":        maskedKeys,
		"upstream": gin.H{
			"base-url":        cfg.Upstream.BaseURL,
			"api-key":         util.HideAPIKey(cfg.UpstreamAPIKey()),
			"model":           cfg.Upstream.Model,
			"timeout-seconds": cfg.Upstream.TimeoutSeconds,
		},
		"knowledge": gin.H{
			"enabled":              cfg.Knowledge.Enabled,
			"db-path":              cfg.Knowledge.DBPath,
			"embedding-model":      cfg.Knowledge.EmbeddingModel,
			"top-k":                cfg.Knowledge.TopK,
			"snippet-token-budget": cfg.Knowledge.SnippetTokenBudget,
		},
		"tts": gin.H{
			"enabled":        cfg.TTS.Enabled,
			"voice":          cfg.TTS.Voice,
			"default-volume": cfg.TTS.DefaultVolume,
		},
	})
}

// handleManagementUsage returns aggregated usage statistics.
func (s *Server) handleManagementUsage(c *gin.Context) {
	if s.stats == nil {
		c.JSON(http.StatusOK, gin.H{"usage": nil})
		return
	}
	c.JSON(http.StatusOK, gin.H{"usage": s.stats.Snapshot()})
}
