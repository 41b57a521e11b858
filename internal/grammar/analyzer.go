package grammar

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/MimeLyc/lingotube/internal/apperr"
	"github.com/MimeLyc/lingotube/internal/llm"
	"github.com/MimeLyc/lingotube/internal/quota"
	"github.com/MimeLyc/lingotube/pkg/log"
	"github.com/MimeLyc/lingotube/pkg/retry"
)

const systemPrompt = "你是一个专业的英语语法分析助手。请严格按照要求的 JSON 格式返回分析结果，不要包含任何其他内容。"

// Completer sends one prompt to a chat model.
type Completer interface {
	Complete(ctx context.Context, prompt string, opts *llm.ChatCompletionOptions) (string, error)
}

type Limiter interface {
	TryConsume(ctx context.Context, category, operation, identity string) error
}

type handler func(ctx context.Context, req Request) (Analysis, error)

type Analyzer struct {
	llm      Completer
	limiter  Limiter
	policy   retry.Policy
	handlers map[Kind]handler
}

func NewAnalyzer(completer Completer, limiter Limiter) *Analyzer {
	a := &Analyzer{
		llm:     completer,
		limiter: limiter,
		policy:  retry.DefaultPolicy(llm.IsTransient),
	}
	a.handlers = map[Kind]handler{
		KindSentence: a.analyzeSentence,
		KindPhrase:   a.analyzePhrase,
		KindWord:     a.analyzeWord,
	}
	return a
}

// Analyze classifies req.Text and runs the handler for its kind.
func (a *Analyzer) Analyze(ctx context.Context, req Request) (*Result, error) {
	req.Text = strings.TrimSpace(req.Text)
	if req.Text == "" {
		return nil, apperr.New(apperr.KindValidation, "text is required")
	}
	if strings.TrimSpace(req.Context.OriginText) == "" {
		return nil, apperr.New(apperr.KindValidation, "context.originText is required")
	}

	kind, err := a.classify(ctx, req)
	if err != nil {
		return nil, err
	}
	log.Debug("Grammar kind for %q: %s", req.Text, kind)

	analysis, err := a.handlers[kind](ctx, req)
	if err != nil {
		return nil, err
	}
	return &Result{Text: req.Text, Analysis: analysis}, nil
}

func (a *Analyzer) classify(ctx context.Context, req Request) (Kind, error) {
	var prompt strings.Builder
	prompt.WriteString("判断下面的“内容”是完整的句子、短语（或不完整的句子）还是单个单词。\n\n")
	writeContext(&prompt, req, false)
	prompt.WriteString("\n只返回以下某一个值：SENTENCE, PHRASE, WORD\n")

	reply, err := a.complete(ctx, req.Identity, prompt.String(), false)
	if err != nil {
		return "", err
	}
	kind, err := ParseKind(strings.Trim(reply, " \n\t.\"'`"))
	if err != nil {
		return "", apperr.Wrap(err, apperr.KindInternal, "classify content")
	}
	return kind, nil
}

func (a *Analyzer) analyzeSentence(ctx context.Context, req Request) (Analysis, error) {
	var prompt strings.Builder
	prompt.WriteString("分析以下句子，提供中文翻译、语法结构、语法知识点、重点词汇和相似表达。\n\n")
	writeContext(&prompt, req, true)
	prompt.WriteString(`
按以下 JSON 格式返回：
{"translation": "", "grammar": {"structure": "", "points": [""]}, "vocabulary": [{"word": "", "explanation": "", "usage": ""}], "alternatives": [""]}
`)
	var out SentenceAnalysis
	if err := a.completeJSON(ctx, req.Identity, prompt.String(), &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (a *Analyzer) analyzePhrase(ctx context.Context, req Request) (Analysis, error) {
	var prompt strings.Builder
	prompt.WriteString("分析以下短语，提供中文翻译、短语类型、用法说明、例句和相似表达。\n\n")
	writeContext(&prompt, req, false)
	prompt.WriteString(`
按以下 JSON 格式返回：
{"translation": "", "phraseType": "动词短语/名词短语等", "usage": "", "examples": [""], "alternatives": [""]}
`)
	var out PhraseAnalysis
	if err := a.completeJSON(ctx, req.Identity, prompt.String(), &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (a *Analyzer) analyzeWord(ctx context.Context, req Request) (Analysis, error) {
	var prompt strings.Builder
	prompt.WriteString("分析以下单词，提供音标、词形、中文释义、常见搭配、例句、同义词/反义词和词源。\n\n")
	writeContext(&prompt, req, true)
	prompt.WriteString(`
按以下 JSON 格式返回：
{"phonetic": "", "forms": {"original": "", "past": "", "pastParticiple": "", "present": ""}, "meanings": [""], "collocations": [""], "examples": [""], "synonyms": [""], "antonyms": [""], "etymology": ""}
`)
	var out WordAnalysis
	if err := a.completeJSON(ctx, req.Identity, prompt.String(), &out); err != nil {
		return nil, err
	}
	return out, nil
}

func writeContext(b *strings.Builder, req Request, withPrevious bool) {
	b.WriteString(fmt.Sprintf("视频标题：%s\n", orNone(req.Context.Title)))
	b.WriteString(fmt.Sprintf("视频描述：%s\n", orNone(req.Context.Description)))
	b.WriteString(fmt.Sprintf("原句：%s\n", req.Context.OriginText))
	if withPrevious {
		b.WriteString(fmt.Sprintf("上文：%s\n", orNone(req.Context.Previous)))
	}
	b.WriteString(fmt.Sprintf("内容：%s\n", req.Text))
	b.WriteString(fmt.Sprintf("下文：%s\n", orNone(req.Context.Next)))
}

func orNone(s string) string {
	if strings.TrimSpace(s) == "" {
		return "无"
	}
	return s
}

func (a *Analyzer) completeJSON(ctx context.Context, identity, prompt string, out any) error {
	reply, err := a.complete(ctx, identity, prompt, true)
	if err != nil {
		return err
	}
	if err := json.Unmarshal([]byte(stripCodeFence(reply)), out); err != nil {
		return apperr.Wrap(err, apperr.KindInternal, "decode analysis").WithContext("reply", truncate(reply, 200))
	}
	return nil
}

func (a *Analyzer) complete(ctx context.Context, identity, prompt string, jsonMode bool) (string, error) {
	if a.limiter != nil {
		if err := a.limiter.TryConsume(ctx, quota.CategoryOpenAI, quota.OpGPT, identity); err != nil {
			return "", err
		}
	}

	opts := llm.NewChatCompletionOptions().WithSystemPrompt(systemPrompt)
	if jsonMode {
		opts = opts.WithJSONMode()
	}
	return retry.Do(ctx, a.policy, func(ctx context.Context) (string, error) {
		return a.llm.Complete(ctx, prompt, opts)
	})
}

// stripCodeFence removes a surrounding ``` or ```json fence.
func stripCodeFence(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		s = s[i+1:]
	}
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
