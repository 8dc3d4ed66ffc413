package render

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/HendryAvila/docket/internal/doc"
)

func ref(t *testing.T, raw string) doc.Ref {
	t.Helper()
	r, err := doc.NewRemoteRef("c", raw)
	require.NoError(t, err)
	return r
}

func TestDefault_PassesTextThrough(t *testing.T) {
	in := "# Title\n\n  indented\n"
	out, err := Default{HTMLToText: true}.Render(context.Background(), ref(t, "https://example.com/a.md"), []byte(in))
	require.NoError(t, err)
	assert.Equal(t, in, out)
}

func TestDefault_HTMLToText(t *testing.T) {
	page := `<!doctype html><html><head><title>x</title><style>p{}</style></head>
<body><nav>menu</nav><h1>Guide</h1><p>Use   <code>go test</code> often.</p>
<ul><li>one</li><li>two</li></ul><script>alert(1)</script></body></html>`

	out, err := Default{HTMLToText: true}.Render(context.Background(), ref(t, "https://example.com/guide.html"), []byte(page))
	require.NoError(t, err)
	assert.Contains(t, out, "# Guide")
	assert.Contains(t, out, "`go test`")
	assert.Contains(t, out, "- one")
	assert.Contains(t, out, "- two")
	for _, absent := range []string{"alert", "menu", "p{}", "<"} {
		assert.NotContains(t, out, absent)
	}
}

func TestDefault_SniffsHTMLWithoutExtension(t *testing.T) {
	out, err := Default{HTMLToText: true}.Render(context.Background(), ref(t, "https://example.com/page"),
		[]byte("<html><body><p>Hello</p></body></html>"))
	require.NoError(t, err)
	assert.Equal(t, "Hello", out)
}

func TestDefault_HTMLKeptWhenDisabled(t *testing.T) {
	in := "<p>raw</p>"
	out, err := Default{}.Render(context.Background(), ref(t, "https://example.com/a.html"), []byte(in))
	require.NoError(t, err)
	assert.Equal(t, in, out)
}

func TestDefault_RejectsBinary(t *testing.T) {
	_, err := Default{}.Render(context.Background(), ref(t, "https://example.com/a.bin"), []byte{0xff, 0xfe, 0x00})
	require.Error(t, err)
	assert.True(t, strings.Contains(err.Error(), "UTF-8"))
}
