// Package email renders and delivers the weekly digest to subscribers.
// Templates are rendered client-side with Go's html/template and embedded
// template files; delivery goes through the external.EmailProvider.
package email

import (
	"bytes"
	"embed"
	"fmt"
	"html/template"
	texttemplate "text/template"

	"reviewpulse/internal/clock"
	"reviewpulse/internal/types"
)

//go:embed templates/*.html templates/*.txt
var templateFS embed.FS

// RenderedEmail holds the pre-rendered email content ready for transmission.
type RenderedEmail struct {
	Subject  string
	BodyHTML string
	BodyText string
}

// digestTemplateData is the struct passed into the digest templates.
type digestTemplateData struct {
	AppName        string
	WeekStart      string
	WeekEnd        string
	Title          string
	Overview       string
	Themes         []types.DigestTheme
	Quotes         []string
	Actions        []string
	UnsubscribeURL string
}

// Renderer performs client-side rendering of the digest email. Both the HTML
// and plain-text bodies are produced so mail clients without HTML support
// still get a readable digest.
type Renderer struct {
	htmlTmpl *template.Template
	textTmpl *texttemplate.Template
}

// NewRenderer parses the embedded templates and returns a Renderer.
// Returns an error if any template fails to parse.
func NewRenderer() (*Renderer, error) {
	htmlTmpl, err := template.ParseFS(templateFS, "templates/digest.html")
	if err != nil {
		return nil, fmt.Errorf("renderer: failed to parse digest.html: %w", err)
	}
	textTmpl, err := texttemplate.ParseFS(templateFS, "templates/digest.txt")
	if err != nil {
		return nil, fmt.Errorf("renderer: failed to parse digest.txt: %w", err)
	}
	return &Renderer{htmlTmpl: htmlTmpl, textTmpl: textTmpl}, nil
}

// RenderDigest renders the digest for one recipient. Dates are formatted in
// business time since the digest describes a business-calendar week.
func (r *Renderer) RenderDigest(appName string, window clock.Window, digest types.Digest, unsubscribeURL string) (*RenderedEmail, error) {
	data := digestTemplateData{
		AppName:        appName,
		WeekStart:      window.Start.Format("Jan 2, 2006"),
		WeekEnd:        window.WeekEndDate().Format("Jan 2, 2006"),
		Title:          digest.Title,
		Overview:       digest.Overview,
		Themes:         digest.Themes,
		Quotes:         digest.Quotes,
		Actions:        digest.Actions,
		UnsubscribeURL: unsubscribeURL,
	}

	var htmlBuf bytes.Buffer
	if err := r.htmlTmpl.Execute(&htmlBuf, data); err != nil {
		return nil, fmt.Errorf("renderer: failed to render digest.html: %w", err)
	}

	var textBuf bytes.Buffer
	if err := r.textTmpl.Execute(&textBuf, data); err != nil {
		return nil, fmt.Errorf("renderer: failed to render digest.txt: %w", err)
	}

	subject := fmt.Sprintf("Weekly Pulse: %s (%s)", appName, data.WeekStart)

	return &RenderedEmail{
		Subject:  subject,
		BodyHTML: htmlBuf.String(),
		BodyText: textBuf.String(),
	}, nil
}
