package httpapi

import (
	"sync"

	"github.com/gin-gonic/gin/binding"
	"github.com/go-playground/validator/v10"

	"github.com/MimeLyc/lingotube/internal/media"
)

var registerOnce sync.Once

func registerValidators() {
	registerOnce.Do(func() {
		if v, ok := binding.Validator.Engine().(*validator.Validate); ok {
			_ = v.RegisterValidation("youtube_url", validateYouTubeURL)
		}
	})
}

func validateYouTubeURL(fl validator.FieldLevel) bool {
	return media.IsYouTubeURL(fl.Field().String())
}
