package persistence

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/MimeLyc/lingotube/internal/video"
)

const videoColumns = `id, owner_id, video_id, status, error, data_json, created_at, updated_at`

func (s *SQLiteStore) CreateVideo(ctx context.Context, v *video.ProcessedVideo) error {
	if v == nil {
		return fmt.Errorf("video is nil")
	}
	if v.ID == "" {
		v.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	if v.CreatedAt.IsZero() {
		v.CreatedAt = now
	}
	if v.UpdatedAt.IsZero() {
		v.UpdatedAt = v.CreatedAt
	}
	if v.Data.Subtitles == nil {
		v.Data.Subtitles = []video.Subtitle{}
	}
	payload, err := json.Marshal(v.Data)
	if err != nil {
		return err
	}

	_, err = s.db.ExecContext(
		ctx,
		`INSERT INTO videos (`+videoColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		v.ID,
		v.OwnerID,
		v.VideoID,
		string(v.Status),
		v.Error,
		string(payload),
		v.CreatedAt.UTC(),
		v.UpdatedAt.UTC(),
	)
	if isUniqueViolation(err) {
		return video.ErrDuplicate
	}
	return err
}

func (s *SQLiteStore) FindVideo(ctx context.Context, ownerID, videoID string) (*video.ProcessedVideo, error) {
	row := s.db.QueryRowContext(
		ctx,
		`SELECT `+videoColumns+` FROM videos WHERE owner_id = ? AND video_id = ?`,
		ownerID,
		videoID,
	)
	return scanVideo(row)
}

func (s *SQLiteStore) GetVideo(ctx context.Context, id string) (*video.ProcessedVideo, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+videoColumns+` FROM videos WHERE id = ?`, id)
	return scanVideo(row)
}

func (s *SQLiteStore) ListVideos(ctx context.Context, ownerID string, limit int) ([]*video.ProcessedVideo, error) {
	rows, err := s.db.QueryContext(
		ctx,
		`SELECT `+videoColumns+`
		 FROM videos
		 WHERE owner_id = ?
		 ORDER BY created_at DESC, rowid DESC
		 LIMIT ?`,
		ownerID,
		limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	ret := make([]*video.ProcessedVideo, 0)
	for rows.Next() {
		v, err := scanVideo(rows)
		if err != nil {
			return nil, err
		}
		ret = append(ret, v)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return ret, nil
}

// SetTranslations writes each translation into its own subtitle slot with
// json_set, so the rest of the document is never rewritten.
func (s *SQLiteStore) SetTranslations(ctx context.Context, id string, offset int, translations []string) error {
	if len(translations) == 0 {
		return nil
	}
	if offset < 0 {
		return fmt.Errorf("negative subtitle offset %d", offset)
	}

	var expr strings.Builder
	expr.WriteString("json_set(data_json")
	args := make([]any, 0, len(translations)*2+3)
	for i, text := range translations {
		expr.WriteString(", ?, ?")
		args = append(args, fmt.Sprintf("$.subtitles[%d].translatedText", offset+i), text)
	}
	expr.WriteString(")")
	args = append(args, time.Now().UTC(), id, offset+len(translations))

	res, err := s.db.ExecContext(
		ctx,
		`UPDATE videos SET data_json = `+expr.String()+`, updated_at = ?
		 WHERE id = ? AND json_array_length(data_json, '$.subtitles') >= ?`,
		args...,
	)
	if err != nil {
		return err
	}
	return s.checkVideoUpdated(ctx, res, id, "subtitle range out of bounds")
}

func (s *SQLiteStore) SetStatus(ctx context.Context, id string, status video.Status, message string) error {
	res, err := s.db.ExecContext(
		ctx,
		`UPDATE videos SET status = ?, error = ?, updated_at = ? WHERE id = ?`,
		string(status),
		message,
		time.Now().UTC(),
		id,
	)
	if err != nil {
		return err
	}
	return s.checkVideoUpdated(ctx, res, id, "")
}

func (s *SQLiteStore) checkVideoUpdated(ctx context.Context, res sql.Result, id, reason string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n > 0 {
		return nil
	}
	if _, err := s.GetVideo(ctx, id); err != nil {
		return err
	}
	return fmt.Errorf("update video %s: %s", id, reason)
}

type scanner interface {
	Scan(dest ...any) error
}

func scanVideo(row scanner) (*video.ProcessedVideo, error) {
	var v video.ProcessedVideo
	var status string
	var dataJSON string
	if err := row.Scan(
		&v.ID,
		&v.OwnerID,
		&v.VideoID,
		&status,
		&v.Error,
		&dataJSON,
		&v.CreatedAt,
		&v.UpdatedAt,
	); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, video.ErrNotFound
		}
		return nil, err
	}
	v.Status = video.Status(status)
	if err := json.Unmarshal([]byte(dataJSON), &v.Data); err != nil {
		return nil, fmt.Errorf("decode video %s: %w", v.ID, err)
	}
	return &v, nil
}
