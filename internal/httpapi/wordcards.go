package httpapi

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/MimeLyc/lingotube/internal/wordcard"
)

type saveCardRequest struct {
	Text      string             `json:"text"`
	Type      string             `json:"type"`
	Data      json.RawMessage    `json:"data"`
	VideoInfo wordcard.VideoClip `json:"videoInfo"`
}

type saveCardResponse struct {
	Card    *wordcard.Card   `json:"card"`
	Outcome wordcard.Outcome `json:"outcome"`
}

type errorBookRequest struct {
	InErrorBook *bool `json:"isInErrorBook" binding:"required"`
}

func (s *Server) handleSaveCard(c *gin.Context) {
	var req saveCardRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondFail(c, http.StatusBadRequest, msgBadRequest)
		return
	}

	card, outcome, err := s.cards.Save(c.Request.Context(), userID(c), wordcard.SaveRequest{
		Text: req.Text,
		Kind: req.Type,
		Data: req.Data,
		Clip: req.VideoInfo,
	})
	if err != nil {
		respondError(c, err)
		return
	}

	status := http.StatusOK
	if outcome == wordcard.OutcomeCreated {
		status = http.StatusCreated
	}
	respondOK(c, status, saveCardResponse{Card: card, Outcome: outcome}, outcome.Message())
}

func (s *Server) handleListCards(c *gin.Context) {
	limit, _ := strconv.Atoi(c.Query("limit"))
	errorBookOnly, _ := strconv.ParseBool(c.Query("errorBook"))

	cards, err := s.cards.List(c.Request.Context(), userID(c), wordcard.ListOptions{
		ErrorBookOnly: errorBookOnly,
		Limit:         limit,
	})
	if err != nil {
		respondError(c, err)
		return
	}
	respondOK(c, http.StatusOK, cards, "")
}

func (s *Server) handleSetErrorBook(c *gin.Context) {
	var req errorBookRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondFail(c, http.StatusBadRequest, msgBadRequest)
		return
	}
	if err := s.cards.SetErrorBook(c.Request.Context(), userID(c), c.Param("id"), *req.InErrorBook); err != nil {
		respondError(c, err)
		return
	}
	respondOK(c, http.StatusOK, gin.H{"id": c.Param("id"), "isInErrorBook": *req.InErrorBook}, "")
}
