package export

import (
	"context"
	"fmt"
)

type pdfRenderer func(ctx context.Context, html, title string) (*Result, error)
type docxRenderer func(ctx context.Context, html, title string) (*Result, error)

// Service renders transcripts. PDF and DOCX need chromium and pandoc at runtime.
type Service struct {
	pdf  pdfRenderer
	docx docxRenderer
}

func NewService() *Service {
	return &Service{pdf: renderPDF, docx: renderDOCX}
}

func (s *Service) Export(ctx context.Context, t Transcript, format Format) (*Result, error) {
	if format == FormatMarkdown {
		return &Result{
			Data:     RenderMarkdown(t),
			Filename: transcriptFilename(t.Title, "md"),
			MimeType: "text/markdown; charset=utf-8",
		}, nil
	}

	html, err := RenderTranscriptHTML(t)
	if err != nil {
		return nil, fmt.Errorf("render template: %w", err)
	}

	switch format {
	case FormatPDF:
		return s.pdf(ctx, html, t.Title)
	case FormatDOCX:
		return s.docx(ctx, html, t.Title)
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedFormat, format)
	}
}
