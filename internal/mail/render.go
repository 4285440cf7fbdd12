package mail

import (
	"bytes"
	"fmt"
	"html/template"
	"time"

	"github.com/yuin/goldmark"

	"github.com/johnnysoutodev/desafio-capsula-do-tempo-com-ia/internal/capsule"
)

// bodyTemplate wraps the rendered message in the delivery email layout.
var bodyTemplate = template.Must(template.New("body").Parse(`<!DOCTYPE html>
<html>
<body style="font-family: sans-serif; max-width: 600px; margin: 0 auto;">
  <h2>Ol&aacute;, {{.Name}}!</h2>
  <p>Sua c&aacute;psula do tempo chegou. Voc&ecirc; escreveu esta mensagem em {{.CreatedAt}}:</p>
  <blockquote style="border-left: 3px solid #ccc; padding-left: 1em; color: #333;">
    {{.Message}}
  </blockquote>
  {{if .HasAttachment}}<p>A imagem que voc&ecirc; guardou est&aacute; em anexo.</p>{{end}}
  <p style="color: #888; font-size: 0.85em;">C&aacute;psula {{.ID}}</p>
</body>
</html>
`))

// bodyData is the template data for the delivery email.
type bodyData struct {
	Name          string
	CreatedAt     string
	Message       template.HTML
	HasAttachment bool
	ID            string
}

// Subject builds the delivery email subject line.
func Subject(c *capsule.Capsule) string {
	return fmt.Sprintf("%s, sua cápsula do tempo chegou! 📬", c.Name)
}

// RenderBody renders the capsule's markdown message into the HTML email body.
func RenderBody(c *capsule.Capsule) (string, error) {
	var buf bytes.Buffer
	if err := bodyTemplate.Execute(&buf, bodyData{
		Name:          c.Name,
		CreatedAt:     formatTime(c.CreatedAt),
		Message:       renderMarkdown(c.Message),
		HasAttachment: c.AttachmentRef != nil,
		ID:            c.ID,
	}); err != nil {
		return "", err
	}
	return buf.String(), nil
}

// renderMarkdown converts markdown text to HTML using goldmark.
func renderMarkdown(md string) template.HTML {
	var buf bytes.Buffer
	if err := goldmark.Convert([]byte(md), &buf); err != nil {
		return template.HTML(template.HTMLEscapeString(md))
	}
	return template.HTML(buf.String())
}

// formatTime formats a Unix timestamp as "2006-01-02 15:04" UTC.
func formatTime(unix int64) string {
	return time.Unix(unix, 0).UTC().Format("2006-01-02 15:04")
}
