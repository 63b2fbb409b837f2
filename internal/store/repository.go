package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/dustin/go-humanize"
)

var ErrEmptyImage = errors.New("image data is empty")

// ImageStore keeps image blobs for editing sessions.
type ImageStore interface {
	PutImage(ctx context.Context, sessionID, contentType, sourceURL string, data []byte) (*Image, error)
	GetImage(ctx context.Context, id string) (*Image, error)
	ListSessionImages(ctx context.Context, sessionID string) ([]*Image, error)
	DeleteImage(ctx context.Context, id string) error
	DeleteSessionImages(ctx context.Context, sessionID string) (int64, error)
	CountImages(ctx context.Context) (int, error)
}

// Repository is the full storage surface of the agent.
type Repository interface {
	ImageStore

	GetConfig(ctx context.Context, key string) (string, error)
	SetConfig(ctx context.Context, key, value string) error
}

type SQLiteRepository struct {
	db     *sql.DB
	logger *slog.Logger
}

func NewRepository(db *sql.DB, logger *slog.Logger) *SQLiteRepository {
	return &SQLiteRepository{db: db, logger: logger}
}

func (r *SQLiteRepository) PutImage(ctx context.Context, sessionID, contentType, sourceURL string, data []byte) (*Image, error) {
	if len(data) == 0 {
		return nil, ErrEmptyImage
	}

	img := &Image{
		ID:          NewID(),
		SessionID:   sessionID,
		ContentType: DetectImageType(contentType, data),
		SourceURL:   sourceURL,
		Size:        int64(len(data)),
		Data:        data,
		CreatedAt:   time.Now().UTC(),
	}

	_, err := r.db.ExecContext(ctx, `
		INSERT INTO images (id, session_id, content_type, source_url, size, data, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, img.ID, img.SessionID, img.ContentType, nullString(img.SourceURL), img.Size, img.Data, img.CreatedAt.Format(time.RFC3339))
	if err != nil {
		return nil, fmt.Errorf("insert image: %w", err)
	}

	if r.logger != nil {
		r.logger.Debug("image stored",
			"image_id", img.ID,
			"session_id", sessionID,
			"content_type", img.ContentType,
			"size", humanize.Bytes(uint64(img.Size)),
		)
	}
	return img, nil
}

func (r *SQLiteRepository) GetImage(ctx context.Context, id string) (*Image, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT id, session_id, content_type, source_url, size, data, created_at
		FROM images WHERE id = ?
	`, id)

	var img Image
	var sourceURL sql.NullString
	var createdAt string
	err := row.Scan(&img.ID, &img.SessionID, &img.ContentType, &sourceURL, &img.Size, &img.Data, &createdAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	img.SourceURL = sourceURL.String
	img.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
	return &img, nil
}

// ListSessionImages returns image metadata without the blobs.
func (r *SQLiteRepository) ListSessionImages(ctx context.Context, sessionID string) ([]*Image, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, session_id, content_type, source_url, size, created_at
		FROM images WHERE session_id = ? ORDER BY created_at, id
	`, sessionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var images []*Image
	for rows.Next() {
		var img Image
		var sourceURL sql.NullString
		var createdAt string
		if err := rows.Scan(&img.ID, &img.SessionID, &img.ContentType, &sourceURL, &img.Size, &createdAt); err != nil {
			return nil, err
		}
		img.SourceURL = sourceURL.String
		img.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
		images = append(images, &img)
	}
	return images, rows.Err()
}

// DeleteImage removes one image. Deleting a missing image is not an error.
func (r *SQLiteRepository) DeleteImage(ctx context.Context, id string) error {
	_, err := r.db.ExecContext(ctx, "DELETE FROM images WHERE id = ?", id)
	return err
}

func (r *SQLiteRepository) DeleteSessionImages(ctx context.Context, sessionID string) (int64, error) {
	res, err := r.db.ExecContext(ctx, "DELETE FROM images WHERE session_id = ?", sessionID)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func (r *SQLiteRepository) CountImages(ctx context.Context) (int, error) {
	var count int
	err := r.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM images").Scan(&count)
	return count, err
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

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
