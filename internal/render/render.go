// Package render builds the notification email for one submission.
package render

import (
	"bytes"
	"fmt"
	"html/template"
	"math"
	"strconv"
	"strings"
)

const subjectPrefix = "New submission on "

// Message is a rendered email.
type Message struct {
	Subject string
	HTML    string
}

// Options tweaks rendering.
type Options struct {
	// TestFooter appends the test-email footer below the table.
	TestFooter bool
	// Raw interpolates title, headers and values without HTML escaping.
	Raw bool
	// LogoAlt is the logo's alt text; empty means "PETE Logo".
	LogoAlt string
}

type row struct {
	Header any
	Value  any
}

type view struct {
	Title      any
	LogoURL    string
	LogoAlt    string
	Rows       []row
	TestFooter bool
}

const chromeOpen = `<div style="font-family: 'Segoe UI', 'Roboto', Arial, sans-serif; background: #f9f9f9; padding: 32px;">
  <div style="max-width: 600px; margin: auto; background: #fff; border-radius: 12px; box-shadow: 0 2px 8px rgba(0,0,0,0.07); padding: 32px;">
    <div style="text-align: center; margin-bottom: 24px;">
      <img src="{{.LogoURL}}" alt="{{.LogoAlt}}" style="height: 48px; margin-bottom: 12px;" />
    </div>
`

const chromeClose = `  </div>
</div>
`

var submissionTmpl = template.Must(template.New("submission").Funcs(template.FuncMap{
	"even": func(i int) bool { return i%2 == 0 },
}).Parse(chromeOpen + `    <h2 style="color: #2d7ff9; text-align: center; margin-bottom: 24px;">New submission on {{.Title}}</h2>
    <table style="width: 100%; border-collapse: collapse; font-size: 16px;">
      <thead>
        <tr>
          <th style="background: #2d7ff9; color: #fff; padding: 12px 8px; text-align: left; border-top-left-radius: 8px;">Field</th>
          <th style="background: #2d7ff9; color: #fff; padding: 12px 8px; text-align: left; border-top-right-radius: 8px;">Value</th>
        </tr>
      </thead>
      <tbody>
{{- range $i, $r := .Rows}}
        {{if even $i}}<tr style="background: #f4f8fd;">{{else}}<tr style="background: #fff;">{{end}}
          <td style="padding: 10px 8px; border-bottom: 1px solid #e3eaf2;"><b>{{$r.Header}}</b></td>
          <td style="padding: 10px 8px; border-bottom: 1px solid #e3eaf2;">{{$r.Value}}</td>
        </tr>
{{- end}}
      </tbody>
    </table>
{{- if .TestFooter}}
    <div style="margin-top: 32px; text-align: center; color: #888; font-size: 13px;">This is a test email sent from your form relay integration.</div>
{{- end}}
` + chromeClose))

var emptyTmpl = template.Must(template.New("empty").Parse(chromeOpen + `    <h2 style="color: #2d7ff9; text-align: center; margin-bottom: 24px;">Test Email: No Form Entries on {{.Title}}</h2>
    <p style='font-family:sans-serif;color:#555;'>No form entries found in the sheet.</p>
` + chromeClose))

// Subject returns the subject line used for every message about title.
func Subject(title string) string { return subjectPrefix + title }

// Render produces the submission email. Rows follow headers; a header with
// no corresponding value renders an empty cell and extra values are ignored.
func Render(title string, headers []string, values []any, logoURL string, opts Options) (Message, error) {
	v := view{
		Title:      text(title, opts.Raw),
		LogoURL:    logoURL,
		LogoAlt:    alt(opts.LogoAlt),
		Rows:       make([]row, len(headers)),
		TestFooter: opts.TestFooter,
	}
	for i, h := range headers {
		var cell any
		if i < len(values) {
			cell = values[i]
		}
		v.Rows[i] = row{Header: text(h, opts.Raw), Value: text(FormatCell(cell), opts.Raw)}
	}
	var buf bytes.Buffer
	if err := submissionTmpl.Execute(&buf, v); err != nil {
		return Message{}, fmt.Errorf("render submission: %w", err)
	}
	return Message{Subject: Subject(title), HTML: buf.String()}, nil
}

// RenderEmpty produces the test email sent when the sheet has no entries.
func RenderEmpty(title, logoURL string, opts Options) (Message, error) {
	v := view{Title: text(title, opts.Raw), LogoURL: logoURL, LogoAlt: alt(opts.LogoAlt)}
	var buf bytes.Buffer
	if err := emptyTmpl.Execute(&buf, v); err != nil {
		return Message{}, fmt.Errorf("render empty: %w", err)
	}
	return Message{Subject: Subject(title), HTML: buf.String()}, nil
}

// FormatCell turns a cell value into display text.
func FormatCell(v any) string {
	switch x := v.(type) {
	case nil:
		return ""
	case string:
		return x
	case float64:
		if x == math.Trunc(x) && !math.IsInf(x, 0) && math.Abs(x) < 1e15 {
			return strconv.FormatInt(int64(x), 10)
		}
		return strconv.FormatFloat(x, 'f', -1, 64)
	case float32:
		return FormatCell(float64(x))
	case bool:
		return strconv.FormatBool(x)
	default:
		return fmt.Sprint(x)
	}
}

func text(s string, raw bool) any {
	if raw {
		return template.HTML(s)
	}
	return s
}

func alt(s string) string {
	if s = strings.TrimSpace(s); s == "" {
		return "PETE Logo"
	}
	return s
}
