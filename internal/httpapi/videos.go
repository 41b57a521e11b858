package httpapi

import (
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/text/language"

	"github.com/MimeLyc/lingotube/internal/apperr"
	"github.com/MimeLyc/lingotube/internal/pipeline"
	"github.com/MimeLyc/lingotube/internal/subtitle"
	"github.com/MimeLyc/lingotube/internal/video"
	"github.com/MimeLyc/lingotube/pkg/log"
)

type checkVideoRequest struct {
	URL string `json:"url" binding:"required,youtube_url"`
}

type processVideoRequest struct {
	VideoURL       string `json:"videoUrl" binding:"required,youtube_url"`
	TargetLanguage string `json:"targetLanguage"`
}

// videoProgress is one server-sent event on the progress stream.
type videoProgress struct {
	Status     video.Status `json:"status"`
	Translated int          `json:"translated"`
	Total      int          `json:"total"`
	Error      string       `json:"error,omitempty"`
}

func progressOf(rec *video.ProcessedVideo) videoProgress {
	total := len(rec.Data.Subtitles)
	return videoProgress{
		Status:     rec.Status,
		Translated: total - rec.Data.Untranslated(),
		Total:      total,
		Error:      rec.Error,
	}
}

func (s *Server) handleCheckVideo(c *gin.Context) {
	var req checkVideoRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondFail(c, http.StatusBadRequest, msgBadRequest)
		return
	}
	res, err := s.videos.CheckVideo(c.Request.Context(), userID(c), req.URL)
	if err != nil {
		respondError(c, err)
		return
	}
	respondOK(c, http.StatusOK, res, "视频检查通过")
}

func (s *Server) handleProcessVideo(c *gin.Context) {
	var req processVideoRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondFail(c, http.StatusBadRequest, msgBadRequest)
		return
	}

	target := language.Und
	if req.TargetLanguage != "" {
		tag, err := language.Parse(req.TargetLanguage)
		if err != nil {
			respondError(c, apperr.Wrap(err, apperr.KindValidation, "不支持的目标语言"))
			return
		}
		target = tag
	}

	data, err := s.videos.ProcessVideo(c.Request.Context(), pipeline.ProcessRequest{
		VideoURL:       req.VideoURL,
		TargetLanguage: target,
		OwnerID:        userID(c),
	})
	if err != nil {
		respondError(c, err)
		return
	}
	respondOK(c, http.StatusOK, data, "")
}

func (s *Server) handleListVideos(c *gin.Context) {
	limit, _ := strconv.Atoi(c.Query("limit"))
	recs, err := s.videos.ListVideos(c.Request.Context(), userID(c), limit)
	if err != nil {
		respondError(c, err)
		return
	}
	respondOK(c, http.StatusOK, recs, "")
}

func (s *Server) handleGetVideo(c *gin.Context) {
	rec, err := s.videos.GetVideoStatus(c.Request.Context(), userID(c), c.Param("videoId"))
	if err != nil {
		respondError(c, err)
		return
	}
	respondOK(c, http.StatusOK, rec, "")
}

func (s *Server) handleExportSRT(c *gin.Context) {
	mode, err := subtitle.ParseMode(c.Query("mode"))
	if err != nil {
		respondFail(c, http.StatusBadRequest, "不支持的字幕格式")
		return
	}
	rec, err := s.videos.GetVideoStatus(c.Request.Context(), userID(c), c.Param("videoId"))
	if err != nil {
		respondError(c, err)
		return
	}

	c.Header("Content-Type", "application/x-subrip; charset=utf-8")
	c.Header("Content-Disposition", fmt.Sprintf(`attachment; filename="%s.srt"`, rec.VideoID))
	c.Status(http.StatusOK)
	if err := subtitle.WriteSRT(c.Writer, rec.Data.Subtitles, mode); err != nil {
		log.Warn("Write srt for %s: %v", rec.VideoID, err)
	}
}

// handleVideoEvents streams progress snapshots until the record reaches a
// terminal status or the client disconnects.
func (s *Server) handleVideoEvents(c *gin.Context) {
	ctx := c.Request.Context()
	owner, videoID := userID(c), c.Param("videoId")

	rec, err := s.videos.GetVideoStatus(ctx, owner, videoID)
	if err != nil {
		respondError(c, err)
		return
	}

	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")

	send := func(rec *video.ProcessedVideo) bool {
		c.SSEvent("progress", progressOf(rec))
		c.Writer.Flush()
		return !rec.Status.Terminal()
	}
	if !send(rec) {
		return
	}

	ticker := time.NewTicker(s.streamInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			rec, err := s.videos.GetVideoStatus(ctx, owner, videoID)
			if err != nil {
				c.SSEvent("error", apperr.UserMessage(err, msgInternal))
				c.Writer.Flush()
				return
			}
			if !send(rec) {
				return
			}
		}
	}
}
