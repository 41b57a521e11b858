package wordcard

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MimeLyc/lingotube/internal/apperr"
	"github.com/MimeLyc/lingotube/internal/grammar"
)

type fakeRepo struct {
	mu    sync.Mutex
	cards map[string]*Card
	seq   int
}

func newFakeRepo() *fakeRepo {
	return &fakeRepo{cards: map[string]*Card{}}
}

func (r *fakeRepo) FindCard(_ context.Context, ownerID, text string, kind grammar.Kind) (*Card, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, c := range r.cards {
		if c.OwnerID == ownerID && c.Text == text && c.Kind == kind {
			cp := *c
			cp.Clips = append([]VideoClip(nil), c.Clips...)
			return &cp, nil
		}
	}
	return nil, ErrNotFound
}

func (r *fakeRepo) CreateCard(_ context.Context, c *Card) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.seq++
	c.ID = fmt.Sprintf("card-%d", r.seq)
	cp := *c
	r.cards[c.ID] = &cp
	return nil
}

func (r *fakeRepo) AddClip(_ context.Context, cardID string, clip VideoClip) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.cards[cardID]
	if !ok {
		return ErrNotFound
	}
	c.Clips = append(c.Clips, clip)
	return nil
}

func (r *fakeRepo) ListCards(_ context.Context, ownerID string, errorBookOnly bool, limit int) ([]*Card, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*Card
	for _, c := range r.cards {
		if c.OwnerID == ownerID && (!errorBookOnly || c.InErrorBook) {
			out = append(out, c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID > out[j].ID })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r *fakeRepo) SetErrorBook(_ context.Context, ownerID, cardID string, in bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.cards[cardID]
	if !ok || c.OwnerID != ownerID {
		return ErrNotFound
	}
	c.InErrorBook = in
	return nil
}

func saveReq(text string, clip VideoClip) SaveRequest {
	return SaveRequest{
		Text: text,
		Kind: "WORD",
		Data: json.RawMessage(`{"phonetic": "/test/"}`),
		Clip: clip,
	}
}

func TestSave_CreateThenAddClipThenExists(t *testing.T) {
	svc := NewService(newFakeRepo())
	ctx := context.Background()
	clipA := VideoClip{VideoID: "vid1", VideoTitle: "Talk", Text: "  Hello   World ", StartTime: 1, EndTime: 2}
	clipB := VideoClip{VideoID: "vid2", StartTime: 3, EndTime: 4}

	card, outcome, err := svc.Save(ctx, "u1", saveReq("  Recommend ", clipA))
	require.NoError(t, err)
	assert.Equal(t, OutcomeCreated, outcome)
	assert.Equal(t, "recommend", card.Text)
	assert.Equal(t, grammar.KindWord, card.Kind)
	assert.Equal(t, "hello world", card.Clips[0].Text)

	card, outcome, err = svc.Save(ctx, "u1", saveReq("RECOMMEND", clipB))
	require.NoError(t, err)
	assert.Equal(t, OutcomeClipAdded, outcome)
	assert.Len(t, card.Clips, 2)

	_, outcome, err = svc.Save(ctx, "u1", saveReq("recommend", clipA))
	require.NoError(t, err)
	assert.Equal(t, OutcomeClipExists, outcome)
	assert.Equal(t, "该视频片段已存在", outcome.Message())

	// another owner gets their own card
	_, outcome, err = svc.Save(ctx, "u2", saveReq("recommend", clipA))
	require.NoError(t, err)
	assert.Equal(t, OutcomeCreated, outcome)
}

func TestSave_Validation(t *testing.T) {
	svc := NewService(newFakeRepo())
	okClip := VideoClip{VideoID: "vid1", StartTime: 1, EndTime: 2}

	tests := []struct {
		name string
		req  SaveRequest
	}{
		{name: "empty text", req: saveReq("  ", okClip)},
		{name: "bad kind", req: SaveRequest{Text: "x", Kind: "LETTER", Data: json.RawMessage(`{}`), Clip: okClip}},
		{name: "missing data", req: SaveRequest{Text: "x", Kind: "WORD", Clip: okClip}},
		{name: "invalid json", req: SaveRequest{Text: "x", Kind: "WORD", Data: json.RawMessage(`{`), Clip: okClip}},
		{name: "array data", req: SaveRequest{Text: "x", Kind: "WORD", Data: json.RawMessage(`[1]`), Clip: okClip}},
		{name: "missing video", req: saveReq("x", VideoClip{StartTime: 1, EndTime: 2})},
		{name: "inverted span", req: saveReq("x", VideoClip{VideoID: "v", StartTime: 2, EndTime: 1})},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, _, err := svc.Save(context.Background(), "u1", tt.req)
			assert.True(t, apperr.IsKind(err, apperr.KindValidation), "got %v", err)
		})
	}
}

func TestErrorBookAndList(t *testing.T) {
	svc := NewService(newFakeRepo())
	ctx := context.Background()
	clip := VideoClip{VideoID: "vid1", StartTime: 1, EndTime: 2}

	a, _, err := svc.Save(ctx, "u1", saveReq("alpha", clip))
	require.NoError(t, err)
	_, _, err = svc.Save(ctx, "u1", saveReq("beta", clip))
	require.NoError(t, err)

	require.NoError(t, svc.SetErrorBook(ctx, "u1", a.ID, true))

	all, err := svc.List(ctx, "u1", ListOptions{})
	require.NoError(t, err)
	assert.Len(t, all, 2)

	book, err := svc.List(ctx, "u1", ListOptions{ErrorBookOnly: true})
	require.NoError(t, err)
	require.Len(t, book, 1)
	assert.Equal(t, "alpha", book[0].Text)

	err = svc.SetErrorBook(ctx, "u2", a.ID, true)
	assert.True(t, apperr.IsKind(err, apperr.KindNotFound))
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestNormalize(t *testing.T) {
	assert.Equal(t, "be going to", Normalize("  Be\tGOING \n to "))
	assert.Equal(t, "", Normalize("   "))
}
