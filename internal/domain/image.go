// Package domain contains core business types and interfaces.
//
// This file defines the Image record: one row per successful enhancement,
// referencing the two stored artifacts. Records are exclusively owned by the
// creating user; the retention sweep is the only non-owner mutator.
package domain

import (
	"time"

	"github.com/google/uuid"
)

// RetentionAge is how long enhancement artifacts are kept before the
// retention sweep removes the record and both storage objects.
const RetentionAge = 24 * time.Hour

// Image is the record written after an enhancement completes. OriginalKey
// and EnhancedKey are the storage keys backing the two URLs; the sweep needs
// them to delete the objects.
type Image struct {
	ID          uuid.UUID
	UserID      string
	OriginalURL string
	EnhancedURL string
	OriginalKey string
	EnhancedKey string
	PromptLabel string
	AI          bool
	SizeBytes   int64
	Likes       int
	CreatedAt   time.Time
}

// Expired reports whether the image is past the retention window at the
// given time.
func (i *Image) Expired(now time.Time) bool {
	return now.Sub(i.CreatedAt) > RetentionAge
}
