package email

import (
	"bytes"
	"fmt"
	htmltemplate "html/template"
	texttemplate "text/template"
)

// Template names
const (
	TemplateVerifyEmail   = "verify_email"
	TemplatePasswordReset = "password_reset"
)

// TemplateData is passed to every template
type TemplateData struct {
	AppName    string
	Name       string
	Link       string
	Token      string
	TTLMinutes int
}

const htmlLayout = `<!DOCTYPE html>
<html lang="en">
<head><meta charset="UTF-8"><title>{{template "title" .}}</title></head>
<body style="margin:0;padding:0;font-family:-apple-system,BlinkMacSystemFont,'Segoe UI',Roboto,Helvetica,Arial,sans-serif;background-color:#f4f5f7;">
<table width="100%" cellpadding="0" cellspacing="0" style="background-color:#f4f5f7;padding:40px 0;">
<tr><td align="center">
<table width="480" cellpadding="0" cellspacing="0" style="background-color:#ffffff;border-radius:8px;">
  <tr><td style="padding:32px 40px 24px;text-align:center;"><h1 style="margin:0;font-size:24px;color:#1a1a2e;">{{template "title" .}}</h1></td></tr>
  <tr><td style="padding:0 40px;font-size:15px;color:#4a4a68;line-height:1.6;">{{template "body" .}}</td></tr>
  <tr><td style="padding:24px 40px;text-align:center;">
    <a href="{{.Link}}" style="display:inline-block;background-color:#6c63ff;color:#ffffff;border-radius:6px;padding:12px 28px;text-decoration:none;">{{template "action" .}}</a>
  </td></tr>
  <tr><td style="padding:0 40px 32px;font-size:13px;color:#8888a0;">This link expires in <strong>{{.TTLMinutes}} minutes</strong>.</td></tr>
  <tr><td style="padding:16px 40px;background-color:#f9f9fc;border-top:1px solid #eeeef2;font-size:12px;color:#aaaabc;text-align:center;">
    &copy; {{.AppName}}. This is an automated message, please do not reply.
  </td></tr>
</table>
</td></tr>
</table>
</body>
</html>`

var htmlBodies = map[string]string{
	TemplateVerifyEmail: `{{define "title"}}Verify your email{{end}}
{{define "body"}}Hi {{.Name}}, thanks for signing up for <strong>{{.AppName}}</strong>! Confirm your address to activate your account.{{end}}
{{define "action"}}Verify email{{end}}`,
	TemplatePasswordReset: `{{define "title"}}Reset your password{{end}}
{{define "body"}}Hi {{.Name}}, someone asked to reset the password for your <strong>{{.AppName}}</strong> account. If it wasn't you, ignore this email.{{end}}
{{define "action"}}Choose a new password{{end}}`,
}

var textBodies = map[string]string{
	TemplateVerifyEmail: `Verify your email

Hi {{.Name}}, thanks for signing up for {{.AppName}}! Open the link below to confirm your address:

{{.Link}}

This link expires in {{.TTLMinutes}} minutes. If you didn't create an account, you can safely ignore this email.

- {{.AppName}}`,
	TemplatePasswordReset: `Reset your password

Hi {{.Name}}, someone asked to reset the password for your {{.AppName}} account. Open the link below to choose a new one:

{{.Link}}

This link expires in {{.TTLMinutes}} minutes. If it wasn't you, ignore this email.

- {{.AppName}}`,
}

// Templates holds parsed HTML and text templates keyed by name
type Templates struct {
	html map[string]*htmltemplate.Template
	text map[string]*texttemplate.Template
}

// ParseTemplates parses the built-in templates
func ParseTemplates() (*Templates, error) {
	t := &Templates{
		html: make(map[string]*htmltemplate.Template, len(htmlBodies)),
		text: make(map[string]*texttemplate.Template, len(textBodies)),
	}
	for name, body := range htmlBodies {
		tpl, err := htmltemplate.New(name).Parse(htmlLayout)
		if err == nil {
			_, err = tpl.Parse(body)
		}
		if err != nil {
			return nil, fmt.Errorf("email: parse html template %s: %w", name, err)
		}
		t.html[name] = tpl
	}
	for name, body := range textBodies {
		tpl, err := texttemplate.New(name).Parse(body)
		if err != nil {
			return nil, fmt.Errorf("email: parse text template %s: %w", name, err)
		}
		t.text[name] = tpl
	}
	return t, nil
}

// Render produces the HTML and text bodies for a named template
func (t *Templates) Render(name string, data TemplateData) (htmlBody, textBody string, err error) {
	h, ok := t.html[name]
	if !ok {
		return "", "", fmt.Errorf("email: unknown template %q", name)
	}
	var hb, tb bytes.Buffer
	if err := h.Execute(&hb, data); err != nil {
		return "", "", fmt.Errorf("email: render %s: %w", name, err)
	}
	if err := t.text[name].Execute(&tb, data); err != nil {
		return "", "", fmt.Errorf("email: render %s: %w", name, err)
	}
	return hb.String(), tb.String(), nil
}
