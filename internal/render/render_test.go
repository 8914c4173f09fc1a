package render

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	evenRow = `<tr style="background: #f4f8fd;">`
	oddRow  = `<tr style="background: #fff;">`
	logo    = "https://example.com/logo.png"
)

func TestRenderIntakeExample(t *testing.T) {
	msg, err := Render("Intake", []string{"Name", "Email"}, []any{"Ann", "a@x.io"}, logo, Options{})
	require.NoError(t, err)

	assert.Equal(t, "New submission on Intake", msg.Subject)
	assert.Contains(t, msg.HTML, `<h2 style="color: #2d7ff9; text-align: center; margin-bottom: 24px;">New submission on Intake</h2>`)
	assert.Contains(t, msg.HTML, `<img src="https://example.com/logo.png" alt="PETE Logo"`)
	assert.Equal(t, 1, strings.Count(msg.HTML, evenRow))
	assert.Equal(t, 1, strings.Count(msg.HTML, oddRow))
	assert.Contains(t, msg.HTML, "<b>Name</b>")
	assert.Contains(t, msg.HTML, ">Ann</td>")
	assert.Contains(t, msg.HTML, "<b>Email</b>")
	assert.Contains(t, msg.HTML, ">a@x.io</td>")
	assert.Less(t, strings.Index(msg.HTML, "<b>Name</b>"), strings.Index(msg.HTML, "<b>Email</b>"))
	assert.NotContains(t, msg.HTML, "This is a test email")
}

func TestRenderRowParity(t *testing.T) {
	headers := []string{"A", "B", "C", "D", "E"}
	msg, err := Render("F", headers, []any{1, 2, 3, 4, 5}, logo, Options{})
	require.NoError(t, err)

	assert.Equal(t, 3, strings.Count(msg.HTML, evenRow))
	assert.Equal(t, 2, strings.Count(msg.HTML, oddRow))

	first := strings.Index(msg.HTML, evenRow)
	second := strings.Index(msg.HTML, oddRow)
	assert.Less(t, first, second)
}

func TestRenderMissingValuesAreEmpty(t *testing.T) {
	msg, err := Render("F", []string{"Name", "Phone"}, []any{"Ann"}, logo, Options{})
	require.NoError(t, err)
	assert.Equal(t, 2, strings.Count(msg.HTML, "<b>"))
	assert.Contains(t, msg.HTML, `border-bottom: 1px solid #e3eaf2;"></td>`)
	assert.NotContains(t, msg.HTML, "undefined")
}

func TestRenderNoHeaders(t *testing.T) {
	msg, err := Render("F", nil, []any{"x"}, logo, Options{})
	require.NoError(t, err)
	assert.Equal(t, 0, strings.Count(msg.HTML, evenRow)+strings.Count(msg.HTML, oddRow))
	assert.NotContains(t, msg.HTML, ">x</td>")
}

func TestRenderEscapesByDefault(t *testing.T) {
	msg, err := Render("<Q&A>", []string{"<i>Name</i>"}, []any{"<script>alert(1)</script>"}, logo, Options{})
	require.NoError(t, err)

	assert.Equal(t, "New submission on <Q&A>", msg.Subject)
	assert.Contains(t, msg.HTML, "New submission on &lt;Q&amp;A&gt;")
	assert.Contains(t, msg.HTML, "<b>&lt;i&gt;Name&lt;/i&gt;</b>")
	assert.NotContains(t, msg.HTML, "<script>")
}

func TestRenderRaw(t *testing.T) {
	msg, err := Render("Q&A", []string{"<i>Name</i>"}, []any{"<u>Ann</u>"}, logo, Options{Raw: true})
	require.NoError(t, err)

	assert.Contains(t, msg.HTML, "New submission on Q&A</h2>")
	assert.Contains(t, msg.HTML, "<b><i>Name</i></b>")
	assert.Contains(t, msg.HTML, "><u>Ann</u></td>")
}

func TestRenderTestFooter(t *testing.T) {
	msg, err := Render("F", []string{"A"}, []any{"1"}, logo, Options{TestFooter: true, LogoAlt: "Acme"})
	require.NoError(t, err)
	assert.Contains(t, msg.HTML, "This is a test email sent from your form relay integration.")
	assert.Contains(t, msg.HTML, `alt="Acme"`)
	assert.Less(t, strings.Index(msg.HTML, "</table>"), strings.Index(msg.HTML, "This is a test email"))
}

func TestRenderEmpty(t *testing.T) {
	msg, err := RenderEmpty("Intake", logo, Options{})
	require.NoError(t, err)

	assert.Equal(t, "New submission on Intake", msg.Subject)
	assert.Contains(t, msg.HTML, "Test Email: No Form Entries on Intake</h2>")
	assert.Contains(t, msg.HTML, "<p style='font-family:sans-serif;color:#555;'>No form entries found in the sheet.</p>")
	assert.NotContains(t, msg.HTML, "<table")
	assert.Contains(t, msg.HTML, logo)
}

func TestFormatCell(t *testing.T) {
	cases := []struct {
		in   any
		want string
	}{
		{nil, ""},
		{"x", "x"},
		{float64(42), "42"},
		{float64(-3), "-3"},
		{1.5, "1.5"},
		{true, "true"},
		{7, "7"},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, FormatCell(tc.in), "%#v", tc.in)
	}
}
