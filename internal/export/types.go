// Package export renders chat transcripts as Markdown, PDF and DOCX.
package export

import (
	"errors"
	"time"
)

type Format string

const (
	FormatMarkdown Format = "markdown"
	FormatPDF      Format = "pdf"
	FormatDOCX     Format = "docx"
)

// ParseFormat accepts the query values the dashboard sends. Empty means Markdown.
func ParseFormat(value string) (Format, error) {
	switch value {
	case "", "markdown", "md":
		return FormatMarkdown, nil
	case "pdf":
		return FormatPDF, nil
	case "docx", "word":
		return FormatDOCX, nil
	default:
		return "", ErrUnsupportedFormat
	}
}

// Transcript is a chat ready for export.
type Transcript struct {
	Title         string
	WorkspaceName string
	Author        string
	CreatedAt     time.Time
	ExportedAt    time.Time
	Messages      []TranscriptMessage
}

type TranscriptMessage struct {
	Role      string
	Content   string
	Model     string
	IsError   bool
	CreatedAt time.Time
}

type Result struct {
	Data     []byte
	Filename string
	MimeType string
}

var (
	ErrUnsupportedFormat = errors.New("export format not supported")
	// ErrPDFDependencyMissing indicates PDF export runtime dependencies are unavailable.
	ErrPDFDependencyMissing = errors.New("export pdf dependency missing")
	// ErrDOCXDependencyMissing indicates DOCX export runtime dependencies are unavailable.
	ErrDOCXDependencyMissing = errors.New("export docx dependency missing")
)
