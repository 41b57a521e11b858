package persistence

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/MimeLyc/lingotube/internal/grammar"
	"github.com/MimeLyc/lingotube/internal/wordcard"
)

const cardColumns = `id, owner_id, text, kind, data_json, clips_json, in_error_book, created_at, updated_at`

func (s *SQLiteStore) FindCard(ctx context.Context, ownerID, text string, kind grammar.Kind) (*wordcard.Card, error) {
	row := s.db.QueryRowContext(
		ctx,
		`SELECT `+cardColumns+` FROM word_cards WHERE owner_id = ? AND text = ? AND kind = ?`,
		ownerID,
		text,
		string(kind),
	)
	return scanCard(row)
}

func (s *SQLiteStore) CreateCard(ctx context.Context, c *wordcard.Card) error {
	if c == nil {
		return fmt.Errorf("card is nil")
	}
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	if c.CreatedAt.IsZero() {
		c.CreatedAt = time.Now().UTC()
	}
	if c.UpdatedAt.IsZero() {
		c.UpdatedAt = c.CreatedAt
	}
	clips := c.Clips
	if clips == nil {
		clips = []wordcard.VideoClip{}
	}
	clipsJSON, err := json.Marshal(clips)
	if err != nil {
		return err
	}

	_, err = s.db.ExecContext(
		ctx,
		`INSERT INTO word_cards (`+cardColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		c.ID,
		c.OwnerID,
		c.Text,
		string(c.Kind),
		string(c.Data),
		string(clipsJSON),
		boolToInt(c.InErrorBook),
		c.CreatedAt.UTC(),
		c.UpdatedAt.UTC(),
	)
	if isUniqueViolation(err) {
		return wordcard.ErrDuplicate
	}
	return err
}

func (s *SQLiteStore) AddClip(ctx context.Context, cardID string, clip wordcard.VideoClip) error {
	clipJSON, err := json.Marshal(clip)
	if err != nil {
		return err
	}
	res, err := s.db.ExecContext(
		ctx,
		`UPDATE word_cards SET clips_json = json_insert(clips_json, '$[#]', json(?)), updated_at = ? WHERE id = ?`,
		string(clipJSON),
		time.Now().UTC(),
		cardID,
	)
	if err != nil {
		return err
	}
	return rowsOrNotFound(res, wordcard.ErrNotFound)
}

func (s *SQLiteStore) ListCards(ctx context.Context, ownerID string, errorBookOnly bool, limit int) ([]*wordcard.Card, error) {
	query := `SELECT ` + cardColumns + ` FROM word_cards WHERE owner_id = ?`
	args := []any{ownerID}
	if errorBookOnly {
		query += ` AND in_error_book = 1`
	}
	query += ` ORDER BY created_at DESC, rowid DESC LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	ret := make([]*wordcard.Card, 0)
	for rows.Next() {
		c, err := scanCard(rows)
		if err != nil {
			return nil, err
		}
		ret = append(ret, c)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return ret, nil
}

func (s *SQLiteStore) SetErrorBook(ctx context.Context, ownerID, cardID string, inErrorBook bool) error {
	res, err := s.db.ExecContext(
		ctx,
		`UPDATE word_cards SET in_error_book = ?, updated_at = ? WHERE id = ? AND owner_id = ?`,
		boolToInt(inErrorBook),
		time.Now().UTC(),
		cardID,
		ownerID,
	)
	if err != nil {
		return err
	}
	return rowsOrNotFound(res, wordcard.ErrNotFound)
}

func rowsOrNotFound(res sql.Result, notFound error) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return notFound
	}
	return nil
}

func scanCard(row scanner) (*wordcard.Card, error) {
	var c wordcard.Card
	var kind string
	var dataJSON string
	var clipsJSON string
	var inErrorBook int
	if err := row.Scan(
		&c.ID,
		&c.OwnerID,
		&c.Text,
		&kind,
		&dataJSON,
		&clipsJSON,
		&inErrorBook,
		&c.CreatedAt,
		&c.UpdatedAt,
	); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, wordcard.ErrNotFound
		}
		return nil, err
	}
	c.Kind = grammar.Kind(kind)
	c.Data = json.RawMessage(dataJSON)
	c.InErrorBook = inErrorBook == 1
	if err := json.Unmarshal([]byte(clipsJSON), &c.Clips); err != nil {
		return nil, fmt.Errorf("decode card %s clips: %w", c.ID, err)
	}
	return &c, nil
}
