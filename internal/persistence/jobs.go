package persistence

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/MimeLyc/lingotube/internal/jobs"
)

func (s *SQLiteStore) LoadJobs(ctx context.Context) ([]*jobs.Job, error) {
	rows, err := s.db.QueryContext(
		ctx,
		`SELECT id, source, dedupe_key, payload_json, status, error, created_at, updated_at
		 FROM jobs
		 ORDER BY created_at ASC`,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	ret := make([]*jobs.Job, 0)
	for rows.Next() {
		var item jobs.Job
		var status string
		var payloadJSON string
		if err := rows.Scan(
			&item.ID,
			&item.Source,
			&item.DedupeKey,
			&payloadJSON,
			&status,
			&item.Error,
			&item.CreatedAt,
			&item.UpdatedAt,
		); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(payloadJSON), &item.Payload); err != nil {
			return nil, fmt.Errorf("decode job %s payload: %w", item.ID, err)
		}
		item.Status = jobs.Status(status)
		ret = append(ret, &item)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return ret, nil
}

func (s *SQLiteStore) DeleteJob(ctx context.Context, jobID string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM jobs WHERE id = ?`, jobID)
	return err
}

func (s *SQLiteStore) UpsertJob(ctx context.Context, job *jobs.Job) error {
	if job == nil {
		return fmt.Errorf("job is nil")
	}
	payload, err := json.Marshal(job.Payload)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(
		ctx,
		`INSERT INTO jobs (
			id, source, dedupe_key, payload_json, status, error, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			source=excluded.source,
			dedupe_key=excluded.dedupe_key,
			payload_json=excluded.payload_json,
			status=excluded.status,
			error=excluded.error,
			updated_at=excluded.updated_at`,
		job.ID,
		job.Source,
		job.DedupeKey,
		string(payload),
		string(job.Status),
		job.Error,
		job.CreatedAt.UTC(),
		job.UpdatedAt.UTC(),
	)
	return err
}
