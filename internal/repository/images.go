package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/pixelift/pixelift/internal/domain"
)

const imageColumns = `id, user_id, original_url, enhanced_url,
	original_key, enhanced_key, prompt_label, ai, size_bytes, likes, created_at`

func scanImage(scan func(dest ...interface{}) error) (domain.Image, error) {
	var img domain.Image
	err := scan(
		&img.ID,
		&img.UserID,
		&img.OriginalURL,
		&img.EnhancedURL,
		&img.OriginalKey,
		&img.EnhancedKey,
		&img.PromptLabel,
		&img.AI,
		&img.SizeBytes,
		&img.Likes,
		&img.CreatedAt,
	)
	return img, err
}

// CreateImage writes an enhancement record.
func (q *Queries) CreateImage(ctx context.Context, img domain.Image) error {
	_, err := q.db.ExecContext(ctx, `
		INSERT INTO images (id, user_id, original_url, enhanced_url,
			original_key, enhanced_key, prompt_label, ai, size_bytes, likes, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, 0, now())`,
		img.ID, img.UserID, img.OriginalURL, img.EnhancedURL,
		img.OriginalKey, img.EnhancedKey, img.PromptLabel, img.AI, img.SizeBytes)
	if err != nil {
		return fmt.Errorf("create image: %w", err)
	}
	return nil
}

// GetImage returns one image record. Returns sql.ErrNoRows when absent.
func (q *Queries) GetImage(ctx context.Context, id uuid.UUID) (domain.Image, error) {
	row := q.db.QueryRowContext(ctx,
		`SELECT `+imageColumns+` FROM images WHERE id = $1`, id)
	return scanImage(row.Scan)
}

// ListImagesByUser returns a user's images, newest first.
func (q *Queries) ListImagesByUser(ctx context.Context, userID string, limit int) ([]domain.Image, error) {
	rows, err := q.db.QueryContext(ctx,
		`SELECT `+imageColumns+` FROM images
		WHERE user_id = $1 ORDER BY created_at DESC LIMIT $2`,
		userID, limit)
	if err != nil {
		return nil, fmt.Errorf("list images: %w", err)
	}
	defer rows.Close()

	var images []domain.Image
	for rows.Next() {
		img, err := scanImage(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("list images: %w", err)
		}
		images = append(images, img)
	}
	return images, rows.Err()
}

// DeleteImage removes a record owned by the given user. Returns false if no
// matching row existed (wrong owner or already deleted).
func (q *Queries) DeleteImage(ctx context.Context, id uuid.UUID, userID string) (bool, error) {
	res, err := q.db.ExecContext(ctx,
		`DELETE FROM images WHERE id = $1 AND user_id = $2`, id, userID)
	if err != nil {
		return false, fmt.Errorf("delete image: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("delete image: %w", err)
	}
	return n == 1, nil
}

// DeleteImageByID removes a record regardless of owner. Only the retention
// sweep uses this.
func (q *Queries) DeleteImageByID(ctx context.Context, id uuid.UUID) error {
	_, err := q.db.ExecContext(ctx, `DELETE FROM images WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete image by id: %w", err)
	}
	return nil
}

// IncrementImageLikes bumps the like counter.
func (q *Queries) IncrementImageLikes(ctx context.Context, id uuid.UUID) (int, error) {
	var likes int
	err := q.db.QueryRowContext(ctx,
		`UPDATE images SET likes = likes + 1 WHERE id = $1 RETURNING likes`, id).Scan(&likes)
	if err == sql.ErrNoRows {
		return 0, err
	}
	if err != nil {
		return 0, fmt.Errorf("increment likes: %w", err)
	}
	return likes, nil
}

// ListImagesBefore returns image records created before the cutoff, oldest
// first, bounded so the sweep works in batches.
func (q *Queries) ListImagesBefore(ctx context.Context, cutoff time.Time, limit int) ([]domain.Image, error) {
	rows, err := q.db.QueryContext(ctx,
		`SELECT `+imageColumns+` FROM images
		WHERE created_at < $1 ORDER BY created_at ASC LIMIT $2`,
		cutoff, limit)
	if err != nil {
		return nil, fmt.Errorf("list expired images: %w", err)
	}
	defer rows.Close()

	var images []domain.Image
	for rows.Next() {
		img, err := scanImage(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("list expired images: %w", err)
		}
		images = append(images, img)
	}
	return images, rows.Err()
}

// SumImageBytes returns the total stored artifact size across all users.
func (q *Queries) SumImageBytes(ctx context.Context) (int64, error) {
	var total int64
	err := q.db.QueryRowContext(ctx,
		`SELECT COALESCE(SUM(size_bytes), 0) FROM images`).Scan(&total)
	if err != nil {
		return 0, fmt.Errorf("sum image bytes: %w", err)
	}
	return total, nil
}
