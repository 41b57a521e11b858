package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MimeLyc/lingotube/internal/apperr"
	"github.com/MimeLyc/lingotube/internal/auth"
	"github.com/MimeLyc/lingotube/internal/grammar"
	"github.com/MimeLyc/lingotube/internal/llm"
	"github.com/MimeLyc/lingotube/internal/persistence"
	"github.com/MimeLyc/lingotube/internal/pipeline"
	"github.com/MimeLyc/lingotube/internal/quota"
	"github.com/MimeLyc/lingotube/internal/video"
	"github.com/MimeLyc/lingotube/internal/wordcard"
)

const testURL = "https://www.youtube.com/watch?v=dQw4w9WgXcQ"

func init() {
	gin.SetMode(gin.TestMode)
}

type fakeVideos struct {
	mu       sync.Mutex
	lastReq  pipeline.ProcessRequest
	err      error
	statuses []*video.ProcessedVideo
	polls    int
}

func (f *fakeVideos) ProcessVideo(_ context.Context, req pipeline.ProcessRequest) (*video.Data, error) {
	f.mu.Lock()
	f.lastReq = req
	f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	return &video.Data{
		Meta:      video.Meta{VideoTitle: "Talk", VideoDuration: 120},
		Subtitles: []video.Subtitle{{ID: "subtitle_1", OriginText: "Hello", TranslatedText: "你好"}},
	}, nil
}

func (f *fakeVideos) GetVideoStatus(_ context.Context, ownerID, videoID string) (*video.ProcessedVideo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.statuses) == 0 {
		return nil, apperr.New(apperr.KindNotFound, "视频不存在")
	}
	rec := f.statuses[min(f.polls, len(f.statuses)-1)]
	f.polls++
	return rec, nil
}

func (f *fakeVideos) ListVideos(_ context.Context, ownerID string, limit int) ([]*video.ProcessedVideo, error) {
	return []*video.ProcessedVideo{{OwnerID: ownerID, VideoID: "dQw4w9WgXcQ", Status: video.StatusCompleted}}, nil
}

func (f *fakeVideos) CheckVideo(_ context.Context, ownerID, videoURL string) (*pipeline.CheckResult, error) {
	if f.err != nil {
		return nil, f.err
	}
	return &pipeline.CheckResult{VideoID: "dQw4w9WgXcQ", Title: "Talk", Duration: 120}, nil
}

type fakeAnalyzer struct {
	got grammar.Request
}

func (f *fakeAnalyzer) Analyze(_ context.Context, req grammar.Request) (*grammar.Result, error) {
	f.got = req
	return &grammar.Result{Text: req.Text, Analysis: &grammar.PhraseAnalysis{Translation: "放弃"}}, nil
}

type fakePinger struct{ err error }

func (f fakePinger) Ping(context.Context) error { return f.err }

type harness struct {
	t        *testing.T
	server   *Server
	videos   *fakeVideos
	analyzer *fakeAnalyzer
	token    string
}

func newHarness(t *testing.T, opts ...Option) *harness {
	t.Helper()
	store, err := persistence.NewSQLiteStore(filepath.Join(t.TempDir(), "api.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	tokens := auth.NewService("test-secret", time.Hour)
	token, err := tokens.Generate("u1")
	require.NoError(t, err)

	h := &harness{t: t, videos: &fakeVideos{}, analyzer: &fakeAnalyzer{}, token: token}
	h.server = NewServer(h.videos, h.analyzer, wordcard.NewService(store), tokens, opts...)
	return h
}

func (h *harness) do(method, path string, body any) *httptest.ResponseRecorder {
	h.t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(h.t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if h.token != "" {
		req.Header.Set("Authorization", "Bearer "+h.token)
	}
	rec := httptest.NewRecorder()
	h.server.Handler().ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	return out
}

func TestAuth_RejectsMissingAndInvalidTokens(t *testing.T) {
	h := newHarness(t)

	h.token = ""
	rec := h.do(http.MethodGet, "/api/videos", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "无访问权限，请提供 token", decode(t, rec)["error"])

	h.token = "not-a-jwt"
	rec = h.do(http.MethodGet, "/api/videos", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "无效的 token", decode(t, rec)["error"])
}

func TestProcessVideo_PassesOwnerAndLanguage(t *testing.T) {
	h := newHarness(t)

	rec := h.do(http.MethodPost, "/api/videos/process", map[string]string{
		"videoUrl":       testURL,
		"targetLanguage": "ja",
	})

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	body := decode(t, rec)
	assert.Equal(t, true, body["success"])
	assert.Equal(t, "u1", h.videos.lastReq.OwnerID)
	assert.Equal(t, "ja", h.videos.lastReq.TargetLanguage.String())

	data := body["data"].(map[string]any)
	subs := data["subtitles"].([]any)
	require.Len(t, subs, 1)
	assert.Equal(t, "你好", subs[0].(map[string]any)["translatedText"])
}

func TestProcessVideo_RejectsBadInput(t *testing.T) {
	h := newHarness(t)

	tests := []struct {
		name string
		body map[string]string
		want string
	}{
		{name: "missing url", body: map[string]string{}, want: msgBadRequest},
		{name: "not youtube", body: map[string]string{"videoUrl": "https://vimeo.com/1"}, want: msgBadRequest},
		{name: "bad language", body: map[string]string{"videoUrl": testURL, "targetLanguage": "!!"}, want: "不支持的目标语言"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := h.do(http.MethodPost, "/api/videos/process", tt.body)
			assert.Equal(t, http.StatusBadRequest, rec.Code)
			assert.Equal(t, tt.want, decode(t, rec)["error"])
		})
	}
}

func TestProcessVideo_MapsErrors(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantStatus int
		wantError  string
		retryAfter string
	}{
		{
			name:       "business",
			err:        apperr.New(apperr.KindBusiness, "视频超过10分钟"),
			wantStatus: http.StatusBadRequest,
			wantError:  "视频超过10分钟",
		},
		{
			name:       "quota",
			err:        &quota.ExceededError{Category: quota.CategoryOpenAI, Operation: quota.OpWhisper, RetryAfter: 30 * time.Second},
			wantStatus: http.StatusTooManyRequests,
			wantError:  msgRateLimited,
			retryAfter: "30",
		},
		{
			name:       "provider rate limit",
			err:        &llm.RateLimitError{RetryAfter: 1500 * time.Millisecond},
			wantStatus: http.StatusTooManyRequests,
			wantError:  msgRateLimited,
			retryAfter: "2",
		},
		{
			name:       "internal",
			err:        errors.New("disk full"),
			wantStatus: http.StatusInternalServerError,
			wantError:  msgInternal,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t)
			h.videos.err = tt.err

			rec := h.do(http.MethodPost, "/api/videos/process", map[string]string{"videoUrl": testURL})

			assert.Equal(t, tt.wantStatus, rec.Code)
			assert.Equal(t, tt.wantError, decode(t, rec)["error"])
			assert.Equal(t, tt.retryAfter, rec.Header().Get("Retry-After"))
		})
	}
}

func TestRateLimit_BlocksAfterBudget(t *testing.T) {
	limiter := quota.NewLimiter(quota.NewMemoryBackend(), quota.Policies{
		{Category: quota.CategoryAPI, Operation: quota.OpResource}: {
			PerIdentity: &quota.Budget{Capacity: 1, Window: time.Minute},
		},
		{Category: quota.CategoryAPI, Operation: quota.OpNormal}: {
			PerIdentity: &quota.Budget{Capacity: 10, Window: time.Minute},
		},
	})
	h := newHarness(t, WithLimiter(limiter))

	first := h.do(http.MethodPost, "/api/videos/check", map[string]string{"url": testURL})
	require.Equal(t, http.StatusOK, first.Code, first.Body.String())
	assert.Equal(t, "视频检查通过", decode(t, first)["message"])

	second := h.do(http.MethodPost, "/api/videos/check", map[string]string{"url": testURL})
	assert.Equal(t, http.StatusTooManyRequests, second.Code)
	assert.NotEmpty(t, second.Header().Get("Retry-After"))

	// other operations keep their own budget
	assert.Equal(t, http.StatusOK, h.do(http.MethodGet, "/api/videos", nil).Code)
}

func TestGetVideo_NotFound(t *testing.T) {
	h := newHarness(t)

	rec := h.do(http.MethodGet, "/api/videos/missing", nil)

	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "视频不存在", decode(t, rec)["error"])
}

func TestListVideos_ScopedToCaller(t *testing.T) {
	h := newHarness(t)

	rec := h.do(http.MethodGet, "/api/videos?limit=5", nil)

	require.Equal(t, http.StatusOK, rec.Code)
	items := decode(t, rec)["data"].([]any)
	require.Len(t, items, 1)
	assert.Equal(t, "u1", items[0].(map[string]any)["ownerId"])
}

func TestVideoEvents_StreamsUntilTerminal(t *testing.T) {
	h := newHarness(t, WithStreamInterval(5*time.Millisecond))
	subs := make([]video.Subtitle, 4)
	processing := &video.ProcessedVideo{Status: video.StatusProcessing, Data: video.Data{Subtitles: subs}}
	done := &video.ProcessedVideo{Status: video.StatusCompleted, Data: video.Data{Subtitles: []video.Subtitle{
		{TranslatedText: "a"}, {TranslatedText: "b"}, {TranslatedText: "c"}, {TranslatedText: "d"},
	}}}
	h.videos.statuses = []*video.ProcessedVideo{processing, processing, done}

	rec := h.do(http.MethodGet, "/api/videos/dQw4w9WgXcQ/events", nil)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "text/event-stream", rec.Header().Get("Content-Type"))
	body := rec.Body.String()
	assert.Equal(t, 3, strings.Count(body, "event:progress"))
	assert.Contains(t, body, `"status":"processing","translated":0,"total":4`)
	assert.Contains(t, body, `"status":"completed","translated":4,"total":4`)
}

func TestAnalyze_ForwardsContext(t *testing.T) {
	h := newHarness(t)

	rec := h.do(http.MethodPost, "/api/grammar/analyze", map[string]any{
		"text": "give up",
		"context": map[string]string{
			"originText": "Never give up on your dreams",
			"title":      "Motivation",
		},
	})

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "u1", h.analyzer.got.Identity)
	assert.Equal(t, "Motivation", h.analyzer.got.Context.Title)
	data := decode(t, rec)["data"].(map[string]any)
	assert.Equal(t, "phrase", strings.ToLower(data["type"].(string)))
	assert.Equal(t, "放弃", data["translation"])

	missing := h.do(http.MethodPost, "/api/grammar/analyze", map[string]any{"text": "give up"})
	assert.Equal(t, http.StatusBadRequest, missing.Code)
}

func TestWordCards_SaveListAndErrorBook(t *testing.T) {
	h := newHarness(t)
	save := func(start float64) *httptest.ResponseRecorder {
		return h.do(http.MethodPost, "/api/wordcards", map[string]any{
			"text": "Give Up",
			"type": "PHRASE",
			"data": map[string]string{"translation": "放弃"},
			"videoInfo": map[string]any{
				"videoId":   "dQw4w9WgXcQ",
				"text":      "never give up",
				"startTime": start,
				"endTime":   start + 2,
			},
		})
	}

	created := save(1)
	require.Equal(t, http.StatusCreated, created.Code, created.Body.String())
	assert.Equal(t, wordcard.OutcomeCreated.Message(), decode(t, created)["message"])

	added := save(10)
	assert.Equal(t, http.StatusOK, added.Code)
	assert.Equal(t, wordcard.OutcomeClipAdded.Message(), decode(t, added)["message"])

	again := save(10)
	assert.Equal(t, wordcard.OutcomeClipExists.Message(), decode(t, again)["message"])

	list := h.do(http.MethodGet, "/api/wordcards", nil)
	require.Equal(t, http.StatusOK, list.Code)
	cards := decode(t, list)["data"].([]any)
	require.Len(t, cards, 1)
	card := cards[0].(map[string]any)
	assert.Equal(t, "give up", card["text"])
	assert.Len(t, card["videoInfos"], 2)

	id := card["id"].(string)
	rec := h.do(http.MethodPatch, "/api/wordcards/"+id+"/error-book", map[string]bool{"isInErrorBook": true})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	errorBook := h.do(http.MethodGet, "/api/wordcards?errorBook=true", nil)
	assert.Len(t, decode(t, errorBook)["data"], 1)
}

func TestWordCards_Validation(t *testing.T) {
	h := newHarness(t)

	rec := h.do(http.MethodPost, "/api/wordcards", map[string]any{"text": "give up", "type": "PHRASE"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "缺少必要字段", decode(t, rec)["error"])

	rec = h.do(http.MethodPatch, "/api/wordcards/abc/error-book", map[string]any{})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, msgBadRequest, decode(t, rec)["error"])

	rec = h.do(http.MethodPatch, "/api/wordcards/abc/error-book", map[string]bool{"isInErrorBook": true})
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHealth(t *testing.T) {
	ok := newHarness(t, WithPinger(fakePinger{}))
	rec := ok.do(http.MethodGet, "/healthz", nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	down := newHarness(t, WithPinger(fakePinger{err: errors.New("database is locked")}))
	rec = down.do(http.MethodGet, "/healthz", nil)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestExportSRT(t *testing.T) {
	h := newHarness(t)
	h.videos.statuses = []*video.ProcessedVideo{{
		VideoID: "dQw4w9WgXcQ",
		Status:  video.StatusCompleted,
		Data: video.Data{Subtitles: []video.Subtitle{
			{Start: 1, End: 2, OriginText: "Hello", TranslatedText: "你好"},
		}},
	}}

	rec := h.do(http.MethodGet, "/api/videos/dQw4w9WgXcQ/subtitles.srt?mode=translated", nil)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Header().Get("Content-Disposition"), "dQw4w9WgXcQ.srt")
	assert.Equal(t, "1\n00:00:01,000 --> 00:00:02,000\n你好\n\n", rec.Body.String())

	bad := h.do(http.MethodGet, "/api/videos/dQw4w9WgXcQ/subtitles.srt?mode=ass", nil)
	assert.Equal(t, http.StatusBadRequest, bad.Code)
}
