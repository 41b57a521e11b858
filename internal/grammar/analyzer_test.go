package grammar

import (
	"context"
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/MimeLyc/lingotube/internal/apperr"
	"github.com/MimeLyc/lingotube/internal/llm"
	"github.com/MimeLyc/lingotube/internal/quota"
)

type mockCompleter struct {
	mock.Mock
}

func (m *mockCompleter) Complete(ctx context.Context, prompt string, opts *llm.ChatCompletionOptions) (string, error) {
	args := m.Called(ctx, prompt, opts)
	return args.String(0), args.Error(1)
}

func promptContaining(s string) any {
	return mock.MatchedBy(func(prompt string) bool { return strings.Contains(prompt, s) })
}

func baseRequest(text string) Request {
	return Request{
		Text:     text,
		Identity: "u1",
		Context: Context{
			OriginText: "I am going to recommend that you be expelled",
			Title:      "Scent of a Woman",
		},
	}
}

func TestAnalyze_DispatchesOnKind(t *testing.T) {
	tests := []struct {
		name   string
		kind   string
		marker string
		reply  string
		check  func(t *testing.T, a Analysis)
	}{
		{
			name:   "sentence",
			kind:   "SENTENCE",
			marker: "分析以下句子",
			reply:  `{"translation": "我打算建议开除你", "grammar": {"structure": "SVO", "points": ["虚拟语气"]}, "vocabulary": [], "alternatives": []}`,
			check: func(t *testing.T, a Analysis) {
				s, ok := a.(SentenceAnalysis)
				require.True(t, ok)
				assert.Equal(t, "SVO", s.Grammar.Structure)
				assert.Equal(t, []string{"虚拟语气"}, s.Grammar.Points)
			},
		},
		{
			name:   "phrase with fenced reply",
			kind:   "phrase",
			marker: "分析以下短语",
			reply:  "```json\n{\"translation\": \"打算\", \"type\": \"动词短语\", \"usage\": \"be going to do\"}\n```",
			check: func(t *testing.T, a Analysis) {
				p, ok := a.(PhraseAnalysis)
				require.True(t, ok)
				assert.Equal(t, "动词短语", p.PhraseType)
				assert.Equal(t, "打算", p.Translation)
			},
		},
		{
			name:   "word",
			kind:   "WORD.",
			marker: "分析以下单词",
			reply:  `{"phonetic": "/ˌrekəˈmend/", "forms": {"original": "recommend", "past": "recommended"}, "meanings": ["推荐"]}`,
			check: func(t *testing.T, a Analysis) {
				w, ok := a.(WordAnalysis)
				require.True(t, ok)
				assert.Equal(t, "recommended", w.Forms.Past)
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			completer := &mockCompleter{}
			completer.On("Complete", mock.Anything, promptContaining("只返回以下某一个值"), mock.Anything).Return(tt.kind, nil).Once()
			completer.On("Complete", mock.Anything, promptContaining(tt.marker), mock.Anything).Return(tt.reply, nil).Once()

			result, err := NewAnalyzer(completer, nil).Analyze(context.Background(), baseRequest("recommend"))
			require.NoError(t, err)
			assert.Equal(t, "recommend", result.Text)
			tt.check(t, result.Analysis)
			completer.AssertExpectations(t)
		})
	}
}

func TestAnalyze_UnknownKind(t *testing.T) {
	completer := &mockCompleter{}
	completer.On("Complete", mock.Anything, mock.Anything, mock.Anything).Return("PARAGRAPH", nil).Once()

	_, err := NewAnalyzer(completer, nil).Analyze(context.Background(), baseRequest("recommend"))
	require.Error(t, err)
	assert.True(t, apperr.IsKind(err, apperr.KindInternal))
}

func TestAnalyze_Validation(t *testing.T) {
	a := NewAnalyzer(&mockCompleter{}, nil)

	_, err := a.Analyze(context.Background(), Request{Context: Context{OriginText: "x"}})
	assert.True(t, apperr.IsKind(err, apperr.KindValidation))

	_, err = a.Analyze(context.Background(), Request{Text: "word"})
	assert.True(t, apperr.IsKind(err, apperr.KindValidation))
}

func TestAnalyze_QuotaBlocksBeforeProviderCall(t *testing.T) {
	limiter := quota.NewLimiter(quota.NewMemoryBackend(), quota.Policies{
		{Category: quota.CategoryOpenAI, Operation: quota.OpGPT}: {PerIdentity: &quota.Budget{Capacity: 0}},
	})
	completer := &mockCompleter{}

	_, err := NewAnalyzer(completer, limiter).Analyze(context.Background(), baseRequest("recommend"))

	var exceeded *quota.ExceededError
	require.ErrorAs(t, err, &exceeded)
	completer.AssertNotCalled(t, "Complete", mock.Anything, mock.Anything, mock.Anything)
}

func TestResult_MarshalJSONFlattens(t *testing.T) {
	r := Result{Text: "going to", Analysis: PhraseAnalysis{Translation: "打算", PhraseType: "动词短语"}}

	raw, err := json.Marshal(r)
	require.NoError(t, err)

	var got map[string]any
	require.NoError(t, json.Unmarshal(raw, &got))
	assert.Equal(t, "PHRASE", got["type"])
	assert.Equal(t, "going to", got["text"])
	assert.Equal(t, "打算", got["translation"])
	assert.Equal(t, "动词短语", got["phraseType"])
}

func TestParseKind(t *testing.T) {
	k, err := ParseKind(" word ")
	require.NoError(t, err)
	assert.Equal(t, KindWord, k)

	_, err = ParseKind("letter")
	assert.Error(t, err)
}
