package mail

import (
	"bytes"
	"embed"
	"fmt"
	htmltemplate "html/template"
	"strings"
	texttemplate "text/template"
)

//go:embed templates/*.tmpl templates/layout.html
var templateFS embed.FS

// Rendered は組み立て済みのメール本文。
type Rendered struct {
	Subject string
	Text    string
	HTML    string
}

// Renderer はロケール別テンプレートから件名と本文を生成する。
type Renderer struct {
	text          map[string]*texttemplate.Template
	layout        *htmltemplate.Template
	defaultLocale string
}

// NewRenderer は埋め込みテンプレートを読み込んでRendererを生成する。
func NewRenderer(defaultLocale string) (*Renderer, error) {
	r := &Renderer{
		text:          make(map[string]*texttemplate.Template),
		defaultLocale: NegotiateLocale(defaultLocale, ""),
	}

	for _, tag := range supportedLocales {
		locale := baseOf(tag)
		tpl, err := texttemplate.ParseFS(templateFS, "templates/"+locale+".tmpl")
		if err != nil {
			return nil, fmt.Errorf("failed to parse %s templates: %w", locale, err)
		}
		r.text[locale] = tpl
	}

	layout, err := htmltemplate.ParseFS(templateFS, "templates/layout.html")
	if err != nil {
		return nil, fmt.Errorf("failed to parse html layout: %w", err)
	}
	r.layout = layout

	return r, nil
}

type templateData struct {
	Code             string
	ExpiresInMinutes int
}

type layoutData struct {
	Locale     string
	Subject    string
	Paragraphs []string
	Code       string
}

// Render はメッセージのロケールに応じた件名・テキスト本文・HTML本文を返す。
func (r *Renderer) Render(msg Message) (*Rendered, error) {
	locale := NegotiateLocale(msg.Locale, r.defaultLocale)
	tpl := r.text[locale]

	data := templateData{
		Code:             msg.Code,
		ExpiresInMinutes: int(msg.ExpiresIn.Minutes()),
	}

	subject, err := execute(tpl, string(msg.Kind)+".subject", data)
	if err != nil {
		return nil, err
	}
	body, err := execute(tpl, string(msg.Kind)+".body", data)
	if err != nil {
		return nil, err
	}

	var html bytes.Buffer
	if err := r.layout.Execute(&html, layoutData{
		Locale:     locale,
		Subject:    subject,
		Paragraphs: strings.Split(body, "\n\n"),
		Code:       msg.Code,
	}); err != nil {
		return nil, fmt.Errorf("failed to render html body: %w", err)
	}

	return &Rendered{Subject: subject, Text: body, HTML: html.String()}, nil
}

func execute(tpl *texttemplate.Template, name string, data templateData) (string, error) {
	if tpl.Lookup(name) == nil {
		return "", fmt.Errorf("unknown mail template: %s", name)
	}
	var buf bytes.Buffer
	if err := tpl.ExecuteTemplate(&buf, name, data); err != nil {
		return "", fmt.Errorf("failed to render %s: %w", name, err)
	}
	return strings.TrimSpace(buf.String()), nil
}
