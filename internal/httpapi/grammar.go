package httpapi

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/MimeLyc/lingotube/internal/grammar"
)

type analyzeRequest struct {
	Text    string `json:"text" binding:"required"`
	Context struct {
		OriginText  string `json:"originText" binding:"required"`
		Title       string `json:"title"`
		Description string `json:"description"`
		Previous    string `json:"previous"`
		Next        string `json:"next"`
	} `json:"context"`
}

func (s *Server) handleAnalyze(c *gin.Context) {
	var req analyzeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondFail(c, http.StatusBadRequest, msgBadRequest)
		return
	}

	result, err := s.grammar.Analyze(c.Request.Context(), grammar.Request{
		Text: req.Text,
		Context: grammar.Context{
			OriginText:  req.Context.OriginText,
			Title:       req.Context.Title,
			Description: req.Context.Description,
			Previous:    req.Context.Previous,
			Next:        req.Context.Next,
		},
		Identity: userID(c),
	})
	if err != nil {
		respondError(c, err)
		return
	}
	respondOK(c, http.StatusOK, result, "")
}
