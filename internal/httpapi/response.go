package httpapi

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/MimeLyc/lingotube/internal/apperr"
	"github.com/MimeLyc/lingotube/internal/llm"
	"github.com/MimeLyc/lingotube/internal/quota"
	"github.com/MimeLyc/lingotube/pkg/log"
)

const (
	msgRateLimited = "请求过于频繁，请稍后再试"
	msgInternal    = "服务器内部错误，请稍后重试"
	msgBadRequest  = "参数不完整"
)

// envelope is the body of every JSON reply under /api.
type envelope struct {
	Success    bool   `json:"success"`
	Data       any    `json:"data,omitempty"`
	Message    string `json:"message,omitempty"`
	Error      string `json:"error,omitempty"`
	RetryAfter int    `json:"retryAfter,omitempty"`
}

func respondOK(c *gin.Context, status int, data any, message string) {
	c.JSON(status, envelope{Success: true, Data: data, Message: message})
}

func respondFail(c *gin.Context, status int, message string) {
	c.AbortWithStatusJSON(status, envelope{Success: false, Error: message})
}

func respondRateLimited(c *gin.Context, retryAfter int) {
	c.Header("Retry-After", strconv.Itoa(retryAfter))
	c.AbortWithStatusJSON(http.StatusTooManyRequests, envelope{
		Success:    false,
		Error:      msgRateLimited,
		RetryAfter: retryAfter,
	})
}

// respondError maps err onto a status code and a message safe to show.
func respondError(c *gin.Context, err error) {
	if secs, ok := retryAfterSeconds(err); ok {
		respondRateLimited(c, secs)
		return
	}

	var appErr *apperr.Error
	if errors.As(err, &appErr) {
		switch appErr.Kind {
		case apperr.KindBusiness, apperr.KindValidation:
			respondFail(c, http.StatusBadRequest, appErr.Message)
			return
		case apperr.KindNotFound:
			respondFail(c, http.StatusNotFound, appErr.Message)
			return
		}
	}

	log.Error("%s %s failed: %v", c.Request.Method, c.FullPath(), err)
	respondFail(c, http.StatusInternalServerError, msgInternal)
}

func retryAfterSeconds(err error) (int, bool) {
	var exceeded *quota.ExceededError
	if errors.As(err, &exceeded) {
		return exceeded.RetryAfterSeconds(), true
	}
	var provider *llm.RateLimitError
	if errors.As(err, &provider) {
		return provider.RetryAfterSeconds(), true
	}
	return 0, false
}
