package persistence

import (
	"context"
	"encoding/json"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MimeLyc/lingotube/internal/grammar"
	"github.com/MimeLyc/lingotube/internal/jobs"
	"github.com/MimeLyc/lingotube/internal/video"
	"github.com/MimeLyc/lingotube/internal/wordcard"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	store, err := NewSQLiteStore(filepath.Join(t.TempDir(), "lingotube.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func sampleVideo(owner, videoID string, n int) *video.ProcessedVideo {
	subs := make([]video.Subtitle, n)
	for i := range subs {
		subs[i] = video.Subtitle{
			ID:         "subtitle_" + string(rune('0'+i)),
			Start:      float64(i),
			End:        float64(i) + 0.9,
			OriginText: "line",
		}
	}
	return &video.ProcessedVideo{
		OwnerID: owner,
		VideoID: videoID,
		Status:  video.StatusProcessing,
		Data: video.Data{
			Meta:      video.Meta{VideoTitle: "Title", VideoDuration: 42},
			Subtitles: subs,
		},
	}
}

func TestSQLiteStore_MigrationsAreIdempotent(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "lingotube.db")
	store, err := NewSQLiteStore(path)
	require.NoError(t, err)
	require.NoError(t, store.Close())

	reopened, err := NewSQLiteStore(path)
	require.NoError(t, err)
	t.Cleanup(func() { _ = reopened.Close() })

	var count int
	require.NoError(t, reopened.db.QueryRow(`SELECT COUNT(*) FROM schema_migrations`).Scan(&count))
	assert.Equal(t, 1, count)
}

func TestSQLiteStore_VideoRoundTrip(t *testing.T) {
	t.Parallel()
	store := newTestStore(t)
	ctx := context.Background()

	v := sampleVideo("u1", "dQw4w9WgXcQ", 3)
	require.NoError(t, store.CreateVideo(ctx, v))
	require.NotEmpty(t, v.ID)

	got, err := store.FindVideo(ctx, "u1", "dQw4w9WgXcQ")
	require.NoError(t, err)
	assert.Equal(t, v.ID, got.ID)
	assert.Equal(t, video.StatusProcessing, got.Status)
	assert.Equal(t, "Title", got.Data.Meta.VideoTitle)
	assert.Len(t, got.Data.Subtitles, 3)

	byID, err := store.GetVideo(ctx, v.ID)
	require.NoError(t, err)
	assert.Equal(t, got.Data, byID.Data)

	_, err = store.FindVideo(ctx, "u2", "dQw4w9WgXcQ")
	assert.ErrorIs(t, err, video.ErrNotFound)
}

func TestSQLiteStore_CreateVideoRejectsDuplicate(t *testing.T) {
	t.Parallel()
	store := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.CreateVideo(ctx, sampleVideo("u1", "abcdefghijk", 1)))
	err := store.CreateVideo(ctx, sampleVideo("u1", "abcdefghijk", 1))
	assert.ErrorIs(t, err, video.ErrDuplicate)

	require.NoError(t, store.CreateVideo(ctx, sampleVideo("u2", "abcdefghijk", 1)))
}

func TestSQLiteStore_SetTranslationsTouchesOnlyTheRange(t *testing.T) {
	t.Parallel()
	store := newTestStore(t)
	ctx := context.Background()

	v := sampleVideo("u1", "abcdefghijk", 5)
	v.Data.Subtitles[0].TranslatedText = "第一"
	require.NoError(t, store.CreateVideo(ctx, v))

	require.NoError(t, store.SetTranslations(ctx, v.ID, 2, []string{"三", "四"}))

	got, err := store.GetVideo(ctx, v.ID)
	require.NoError(t, err)
	subs := got.Data.Subtitles
	assert.Equal(t, "第一", subs[0].TranslatedText)
	assert.Empty(t, subs[1].TranslatedText)
	assert.Equal(t, "三", subs[2].TranslatedText)
	assert.Equal(t, "四", subs[3].TranslatedText)
	assert.Empty(t, subs[4].TranslatedText)
	assert.Equal(t, "line", subs[3].OriginText)

	assert.Error(t, store.SetTranslations(ctx, v.ID, 4, []string{"五", "六"}))
	assert.ErrorIs(t, store.SetTranslations(ctx, "missing", 0, []string{"x"}), video.ErrNotFound)
}

func TestSQLiteStore_SetStatus(t *testing.T) {
	t.Parallel()
	store := newTestStore(t)
	ctx := context.Background()

	v := sampleVideo("u1", "abcdefghijk", 1)
	require.NoError(t, store.CreateVideo(ctx, v))
	require.NoError(t, store.SetStatus(ctx, v.ID, video.StatusError, "translation failed"))

	got, err := store.GetVideo(ctx, v.ID)
	require.NoError(t, err)
	assert.Equal(t, video.StatusError, got.Status)
	assert.Equal(t, "translation failed", got.Error)

	assert.ErrorIs(t, store.SetStatus(ctx, "missing", video.StatusCompleted, ""), video.ErrNotFound)
}

func TestSQLiteStore_ListVideosNewestFirst(t *testing.T) {
	t.Parallel()
	store := newTestStore(t)
	ctx := context.Background()

	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	for i, id := range []string{"aaaaaaaaaaa", "bbbbbbbbbbb", "ccccccccccc"} {
		v := sampleVideo("u1", id, 1)
		v.CreatedAt = base.Add(time.Duration(i) * time.Minute)
		require.NoError(t, store.CreateVideo(ctx, v))
	}
	require.NoError(t, store.CreateVideo(ctx, sampleVideo("u2", "ddddddddddd", 1)))

	got, err := store.ListVideos(ctx, "u1", 2)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "ccccccccccc", got[0].VideoID)
	assert.Equal(t, "bbbbbbbbbbb", got[1].VideoID)
}

func TestSQLiteStore_JobRoundTrip(t *testing.T) {
	t.Parallel()
	store := newTestStore(t)
	ctx := context.Background()

	now := time.Now().UTC()
	job := &jobs.Job{
		ID:        "job-1",
		Source:    jobs.SourcePipeline,
		DedupeKey: "video:rec-1",
		Payload: jobs.JobPayload{
			RecordID:       "rec-1",
			OwnerID:        "u1",
			VideoID:        "abcdefghijk",
			TargetLanguage: "zh-Hans",
			StartIndex:     10,
		},
		Status:    jobs.StatusPending,
		CreatedAt: now,
		UpdatedAt: now,
	}
	require.NoError(t, store.UpsertJob(ctx, job))

	job.Status = jobs.StatusFailed
	job.Error = "boom"
	require.NoError(t, store.UpsertJob(ctx, job))

	loaded, err := store.LoadJobs(ctx)
	require.NoError(t, err)
	require.Len(t, loaded, 1)
	assert.Equal(t, jobs.StatusFailed, loaded[0].Status)
	assert.Equal(t, "boom", loaded[0].Error)
	assert.Equal(t, job.Payload, loaded[0].Payload)

	require.NoError(t, store.DeleteJob(ctx, "job-1"))
	loaded, err = store.LoadJobs(ctx)
	require.NoError(t, err)
	assert.Empty(t, loaded)
}

func TestSQLiteStore_WordCards(t *testing.T) {
	t.Parallel()
	store := newTestStore(t)
	ctx := context.Background()

	card := &wordcard.Card{
		OwnerID: "u1",
		Text:    "run",
		Kind:    grammar.KindWord,
		Data:    json.RawMessage(`{"partOfSpeech":"verb"}`),
		Clips: []wordcard.VideoClip{
			{VideoID: "abcdefghijk", Text: "I run daily", StartTime: 1, EndTime: 2},
		},
	}
	require.NoError(t, store.CreateCard(ctx, card))
	assert.ErrorIs(t, store.CreateCard(ctx, &wordcard.Card{OwnerID: "u1", Text: "run", Kind: grammar.KindWord, Data: json.RawMessage(`{}`)}), wordcard.ErrDuplicate)

	require.NoError(t, store.AddClip(ctx, card.ID, wordcard.VideoClip{VideoID: "bbbbbbbbbbb", Text: "run away", StartTime: 5, EndTime: 6}))
	assert.ErrorIs(t, store.AddClip(ctx, "missing", wordcard.VideoClip{}), wordcard.ErrNotFound)

	got, err := store.FindCard(ctx, "u1", "run", grammar.KindWord)
	require.NoError(t, err)
	require.Len(t, got.Clips, 2)
	assert.Equal(t, "bbbbbbbbbbb", got.Clips[1].VideoID)
	assert.JSONEq(t, `{"partOfSpeech":"verb"}`, string(got.Data))

	_, err = store.FindCard(ctx, "u1", "run", grammar.KindPhrase)
	assert.ErrorIs(t, err, wordcard.ErrNotFound)

	require.NoError(t, store.SetErrorBook(ctx, "u1", card.ID, true))
	assert.ErrorIs(t, store.SetErrorBook(ctx, "u2", card.ID, true), wordcard.ErrNotFound)

	require.NoError(t, store.CreateCard(ctx, &wordcard.Card{OwnerID: "u1", Text: "give up", Kind: grammar.KindPhrase, Data: json.RawMessage(`{}`)}))

	all, err := store.ListCards(ctx, "u1", false, 10)
	require.NoError(t, err)
	assert.Len(t, all, 2)

	book, err := store.ListCards(ctx, "u1", true, 10)
	require.NoError(t, err)
	require.Len(t, book, 1)
	assert.Equal(t, "run", book[0].Text)
	assert.True(t, book[0].InErrorBook)
}

func TestMigrationVersion(t *testing.T) {
	assert.Equal(t, 1, migrationVersion("001_init.sql"))
	assert.Equal(t, 12, migrationVersion("012_add.sql"))
	assert.Equal(t, 0, migrationVersion("init.sql"))
}
