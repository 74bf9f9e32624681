package catalog

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

type Repository interface {
	ReplaceVideos(ctx context.Context, videos []*Video) error
	ListVideos(ctx context.Context) ([]*Video, error)
	GetVideoByFilename(ctx context.Context, filename string) (*Video, error)
	UpdateVideoDuration(ctx context.Context, id string, durationS float64) error

	CreateJob(ctx context.Context, job *Job) error
	GetJob(ctx context.Context, id string) (*Job, error)
	ListJobs(ctx context.Context, limit int) ([]*Job, error)
	ListJobsBySession(ctx context.Context, sessionID string) ([]*Job, error)
	FinishJob(ctx context.Context, id, status, result, errorMsg string) error

	GetConfig(ctx context.Context, key string) (string, error)
	SetConfig(ctx context.Context, key, value string) error
}

type SQLiteRepository struct {
	db *sql.DB
}

func NewRepository(db *sql.DB) *SQLiteRepository {
	return &SQLiteRepository{db: db}
}

// ReplaceVideos swaps the whole upload set in one transaction.
func (r *SQLiteRepository) ReplaceVideos(ctx context.Context, videos []*Video) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, "DELETE FROM videos"); err != nil {
		return fmt.Errorf("clear videos: %w", err)
	}

	for _, v := range videos {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO videos (id, filename, path, size, duration_s, fingerprint, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?)
		`, v.ID, v.Filename, v.Path, v.Size, v.DurationS, v.Fingerprint, v.CreatedAt.Format(time.RFC3339))
		if err != nil {
			return fmt.Errorf("insert video %s: %w", v.Filename, err)
		}
	}

	return tx.Commit()
}

func (r *SQLiteRepository) ListVideos(ctx context.Context) ([]*Video, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, filename, path, size, duration_s, fingerprint, created_at
		FROM videos ORDER BY filename
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var videos []*Video
	for rows.Next() {
		v, err := scanVideo(rows)
		if err != nil {
			return nil, err
		}
		videos = append(videos, v)
	}
	return videos, rows.Err()
}

func (r *SQLiteRepository) GetVideoByFilename(ctx context.Context, filename string) (*Video, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT id, filename, path, size, duration_s, fingerprint, created_at
		FROM videos WHERE filename = ?
	`, filename)

	v, err := scanVideo(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return v, err
}

func (r *SQLiteRepository) UpdateVideoDuration(ctx context.Context, id string, durationS float64) error {
	_, err := r.db.ExecContext(ctx, "UPDATE videos SET duration_s = ? WHERE id = ?", durationS, id)
	return err
}

type scanner interface {
	Scan(dest ...any) error
}

func scanVideo(row scanner) (*Video, error) {
	var v Video
	var createdAt string
	if err := row.Scan(&v.ID, &v.Filename, &v.Path, &v.Size, &v.DurationS, &v.Fingerprint, &createdAt); err != nil {
		return nil, err
	}
	v.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
	return &v, nil
}

func (r *SQLiteRepository) CreateJob(ctx context.Context, j *Job) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO jobs (id, type, status, session_id, sequence, result, error, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, j.ID, j.Type, j.Status, nullString(j.SessionID), nullString(j.Sequence),
		nullString(j.Result), nullString(j.Error),
		j.CreatedAt.Format(time.RFC3339), j.UpdatedAt.Format(time.RFC3339))
	return err
}

const jobColumns = `id, type, status, session_id, sequence, result, error, created_at, updated_at`

func (r *SQLiteRepository) GetJob(ctx context.Context, id string) (*Job, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+jobColumns+` FROM jobs WHERE id = ?`, id)
	j, err := scanJob(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return j, err
}

func (r *SQLiteRepository) ListJobs(ctx context.Context, limit int) ([]*Job, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := r.db.QueryContext(ctx, `
		SELECT `+jobColumns+` FROM jobs ORDER BY created_at DESC, rowid DESC LIMIT ?
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanJobs(rows)
}

func (r *SQLiteRepository) ListJobsBySession(ctx context.Context, sessionID string) ([]*Job, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT `+jobColumns+` FROM jobs WHERE session_id = ? ORDER BY created_at ASC, rowid ASC
	`, sessionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanJobs(rows)
}

func scanJob(row scanner) (*Job, error) {
	var j Job
	var sessionID, sequence, result, errMsg sql.NullString
	var createdAt, updatedAt string

	err := row.Scan(&j.ID, &j.Type, &j.Status, &sessionID, &sequence, &result, &errMsg, &createdAt, &updatedAt)
	if err != nil {
		return nil, err
	}

	j.SessionID = sessionID.String
	j.Sequence = sequence.String
	j.Result = result.String
	j.Error = errMsg.String
	j.CreatedAt = parseTime(createdAt)
	j.UpdatedAt = parseTime(updatedAt)
	return &j, nil
}

func scanJobs(rows *sql.Rows) ([]*Job, error) {
	var jobs []*Job
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, j)
	}
	return jobs, rows.Err()
}

func (r *SQLiteRepository) FinishJob(ctx context.Context, id, status, result, errorMsg string) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE jobs SET status = ?, result = ?, error = ?, updated_at = ? WHERE id = ?
	`, status, nullString(result), nullString(errorMsg), time.Now().UTC().Format(time.RFC3339), id)
	return err
}

func (r *SQLiteRepository) GetConfig(ctx context.Context, key string) (string, error) {
	var value string
	err := r.db.QueryRowContext(ctx, "SELECT value FROM config WHERE key = ?", key).Scan(&value)
	if err == sql.ErrNoRows {
		return "", nil
	}
	return value, err
}

func (r *SQLiteRepository) SetConfig(ctx context.Context, key, value string) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO config (key, value) VALUES (?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value
	`, key, value)
	return err
}

// parseTime accepts RFC3339 and SQLite's datetime('now') format.
func parseTime(s string) time.Time {
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t
	}
	t, _ := time.Parse(time.DateTime, s)
	return t
}

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}
