package export

import (
	"bytes"
	"embed"
	"html/template"
	"strings"
	"time"
)

//go:embed templates/*.html
var templateFS embed.FS

var chatTemplate = template.Must(template.New("chat.html").Funcs(template.FuncMap{
	"lower": strings.ToLower,
	"formatDate": func(t time.Time, layout string) string {
		if t.IsZero() {
			return ""
		}
		return t.Format(layout)
	},
}).ParseFS(templateFS, "templates/chat.html"))

// TemplateData holds data for transcript rendering.
type TemplateData struct {
	Title         string
	WorkspaceName string
	Author        string
	ExportedAt    time.Time
	Messages      []TemplateMessage
}

type TemplateMessage struct {
	Role        string
	Speaker     string
	IsError     bool
	CreatedAt   time.Time
	ContentHTML template.HTML
}

func speaker(role string) string {
	switch role {
	case "user":
		return "You"
	case "assistant":
		return "AIVA"
	default:
		return "System"
	}
}

func newTemplateData(t Transcript) TemplateData {
	data := TemplateData{
		Title:         t.Title,
		WorkspaceName: t.WorkspaceName,
		Author:        t.Author,
		ExportedAt:    t.ExportedAt,
		Messages:      make([]TemplateMessage, 0, len(t.Messages)),
	}
	for _, msg := range t.Messages {
		data.Messages = append(data.Messages, TemplateMessage{
			Role:      msg.Role,
			Speaker:   speaker(msg.Role),
			IsError:   msg.IsError,
			CreatedAt: msg.CreatedAt,
			// goldmark omits raw HTML, so the rendered body is safe to embed.
			ContentHTML: template.HTML(MarkdownToHTML(msg.Content)),
		})
	}
	return data
}

// RenderTranscriptHTML renders the transcript template.
func RenderTranscriptHTML(t Transcript) (string, error) {
	var buf bytes.Buffer
	if err := chatTemplate.Execute(&buf, newTemplateData(t)); err != nil {
		return "", err
	}
	return buf.String(), nil
}

// RenderMarkdown writes the transcript as a Markdown document.
func RenderMarkdown(t Transcript) []byte {
	var b strings.Builder
	b.WriteString("# " + t.Title + "\n\n")
	var meta []string
	if t.WorkspaceName != "" {
		meta = append(meta, "Workspace: "+t.WorkspaceName)
	}
	if !t.ExportedAt.IsZero() {
		meta = append(meta, "Exported: "+t.ExportedAt.Format(time.RFC3339))
	}
	if len(meta) > 0 {
		b.WriteString("_" + strings.Join(meta, " | ") + "_\n\n")
	}
	for _, msg := range t.Messages {
		b.WriteString("## " + speaker(msg.Role))
		if !msg.CreatedAt.IsZero() {
			b.WriteString(" (" + msg.CreatedAt.Format("2006-01-02 15:04") + ")")
		}
		b.WriteString("\n\n")
		b.WriteString(strings.TrimSpace(msg.Content))
		b.WriteString("\n\n")
	}
	return []byte(b.String())
}
