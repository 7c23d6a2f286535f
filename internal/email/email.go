// Package email provides email sending functionality for Pixelift.
//
// This package defines an EmailService interface with an SMTP implementation
// (Mailhog for development, Postmark SMTP or similar for production).
package email

import (
	"context"
)

// =============================================================================
// Interface Definition
// =============================================================================

// EmailService defines the interface for sending operational emails.
//
// All methods are context-aware for timeout and cancellation support.
type EmailService interface {
	// SendStorageAlert notifies operations that recorded image storage has
	// crossed the configured threshold.
	// Parameters:
	// - to: Recipient email address
	// - usedBytes: Current total of recorded image bytes
	// - thresholdBytes: Configured alert threshold
	SendStorageAlert(ctx context.Context, to string, usedBytes, thresholdBytes int64) error
}

// =============================================================================
// Email Data Types
// =============================================================================

// Email represents a single email message.
type Email struct {
	To       string // Recipient email address
	Subject  string // Email subject line
	TextBody string // Plain text content
}

// =============================================================================
// Configuration Types
// =============================================================================

// SMTPConfig holds SMTP server configuration.
type SMTPConfig struct {
	Host     string // SMTP server hostname (e.g., "localhost" for Mailhog)
	Port     int    // SMTP server port (e.g., 1025 for Mailhog)
	Username string // SMTP authentication username (empty for Mailhog)
	Password string // SMTP authentication password (empty for Mailhog)
	From     string // Default sender email address
	FromName string // Default sender display name
}

// =============================================================================
// Common Constants
// =============================================================================

const (
	// DefaultFromEmail is the default sender email for operational emails.
	DefaultFromEmail = "ops@pixelift.app"

	// DefaultFromName is the default sender display name.
	DefaultFromName = "Pixelift"
)
