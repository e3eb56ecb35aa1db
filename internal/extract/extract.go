// Package extract turns uploaded files into plain text for prompts.
package extract

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"path"
	"strings"
	"unicode/utf8"

	"github.com/PuerkitoBio/goquery"
	"github.com/ledongthuc/pdf"
)

const TruncationMarker = "[... content truncated ...]"

var ErrUnsupported = errors.New("extract: unsupported file type")

type Kind string

const (
	KindText     Kind = "text"
	KindMarkdown Kind = "markdown"
	KindCSV      Kind = "csv"
	KindJSON     Kind = "json"
	KindHTML     Kind = "html"
	KindPDF      Kind = "pdf"
	KindBinary   Kind = "binary"
)

// Result is the extracted, possibly truncated, text of one file.
type Result struct {
	FileName  string
	Kind      Kind
	Content   string
	Truncated bool
}

func DetectKind(fileName, contentType string) Kind {
	switch strings.ToLower(path.Ext(fileName)) {
	case ".txt", ".log", ".text":
		return KindText
	case ".md", ".markdown":
		return KindMarkdown
	case ".csv":
		return KindCSV
	case ".json":
		return KindJSON
	case ".html", ".htm":
		return KindHTML
	case ".pdf":
		return KindPDF
	}

	mediaType := strings.ToLower(strings.TrimSpace(strings.Split(contentType, ";")[0]))
	switch {
	case mediaType == "application/pdf":
		return KindPDF
	case mediaType == "text/csv":
		return KindCSV
	case mediaType == "application/json":
		return KindJSON
	case mediaType == "text/html":
		return KindHTML
	case mediaType == "text/markdown":
		return KindMarkdown
	case strings.HasPrefix(mediaType, "text/"):
		return KindText
	default:
		return KindBinary
	}
}

// Text returns the full text of a file, or ErrUnsupported for binary content.
func Text(fileName, contentType string, data []byte) (string, Kind, error) {
	kind := DetectKind(fileName, contentType)
	var (
		text string
		err  error
	)
	switch kind {
	case KindText, KindMarkdown:
		text = decodeText(data)
	case KindCSV:
		text, err = csvText(data)
	case KindJSON:
		text = jsonText(data)
	case KindHTML:
		text, err = htmlText(data)
	case KindPDF:
		text, err = pdfText(data)
	default:
		return "", kind, ErrUnsupported
	}
	if err != nil {
		return "", kind, fmt.Errorf("extract %s: %w", kind, err)
	}
	return text, kind, nil
}

// Extract returns the file's text capped at maxChars runes. Binary files get a
// one-line description instead of content.
func Extract(fileName, contentType string, data []byte, maxChars int) (Result, error) {
	text, kind, err := Text(fileName, contentType, data)
	if errors.Is(err, ErrUnsupported) {
		return Result{FileName: fileName, Kind: kind, Content: Describe(fileName, contentType, len(data))}, nil
	}
	if err != nil {
		return Result{}, err
	}
	content, truncated := Truncate(text, maxChars)
	return Result{FileName: fileName, Kind: kind, Content: content, Truncated: truncated}, nil
}

func Describe(fileName, contentType string, size int) string {
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	return fmt.Sprintf("[Binary file %s (%s, %d bytes); content cannot be shown as text]", fileName, contentType, size)
}

// Truncate cuts text to limit runes and appends the truncation marker.
func Truncate(text string, limit int) (string, bool) {
	if limit <= 0 || utf8.RuneCountInString(text) <= limit {
		return text, false
	}
	runes := []rune(text)
	return strings.TrimRight(string(runes[:limit]), " \n") + "\n" + TruncationMarker, true
}

func decodeText(data []byte) string {
	data = bytes.TrimPrefix(data, []byte("\xef\xbb\xbf"))
	if utf8.Valid(data) {
		return string(data)
	}
	return strings.ToValidUTF8(string(data), "�")
}

func csvText(data []byte) (string, error) {
	reader := csv.NewReader(bytes.NewReader(bytes.TrimPrefix(data, []byte("\xef\xbb\xbf"))))
	reader.FieldsPerRecord = -1
	reader.LazyQuotes = true

	var b strings.Builder
	for {
		record, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return "", err
		}
		b.WriteString(strings.Join(record, " | "))
		b.WriteByte('\n')
	}
	return strings.TrimRight(b.String(), "\n"), nil
}

func jsonText(data []byte) string {
	var out bytes.Buffer
	if err := json.Indent(&out, bytes.TrimSpace(data), "", "  "); err != nil {
		return decodeText(data)
	}
	return out.String()
}

func htmlText(data []byte) (string, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(data))
	if err != nil {
		return "", err
	}
	doc.Find("script, style, noscript").Remove()

	var lines []string
	for _, line := range strings.Split(doc.Find("body").Text(), "\n") {
		if collapsed := strings.Join(strings.Fields(line), " "); collapsed != "" {
			lines = append(lines, collapsed)
		}
	}
	return strings.Join(lines, "\n"), nil
}

// pdfText recovers from panics raised by the parser on malformed documents.
func pdfText(data []byte) (text string, err error) {
	defer func() {
		if r := recover(); r != nil {
			text, err = "", fmt.Errorf("malformed pdf: %v", r)
		}
	}()

	reader, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return "", err
	}
	plain, err := reader.GetPlainText()
	if err != nil {
		return "", err
	}
	var buf bytes.Buffer
	if _, err := io.Copy(&buf, plain); err != nil {
		return "", err
	}
	return strings.TrimSpace(buf.String()), nil
}
