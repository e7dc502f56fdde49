package extract

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestHTML_StripsMarkupAndScripts(t *testing.T) {
	t.Parallel()

	page := []byte(`<html><head><title>Visa Info</title>
<style>.ad { color: red }</style></head>
<body>
<script>trackVisitor();</script>
<div class="banner-20240115">Ministry of Foreign Affairs</div>
<p>Requirements:   passport.</p>
<noscript>Enable JS</noscript>
</body></html>`)

	text, err := HTML(page)
	require.NoError(t, err)
	require.Contains(t, text, "Ministry of Foreign Affairs")
	require.Contains(t, text, "Requirements: passport.")
	require.NotContains(t, text, "trackVisitor")
	require.NotContains(t, text, "color: red")
	require.NotContains(t, text, "Enable JS")
	require.NotContains(t, text, "<")
}

func TestHTML_ClassChurnDoesNotChangeText(t *testing.T) {
	t.Parallel()

	a := []byte(`<body><div class="row-a1"><p>Processing time: 10 days.</p></div></body>`)
	b := []byte(`<body><div class="row-b2" data-slot="ad-7"><p>Processing   time:
	10 days.</p></div></body>`)

	textA, err := HTML(a)
	require.NoError(t, err)
	textB, err := HTML(b)
	require.NoError(t, err)
	require.Equal(t, textA, textB)
}

func TestHTML_PreservesParagraphBreaks(t *testing.T) {
	t.Parallel()

	page := []byte(`<body><p>First paragraph.</p><p>Second paragraph.</p><ul><li>One</li><li>Two</li></ul></body>`)
	text, err := HTML(page)
	require.NoError(t, err)
	require.Contains(t, text, "First paragraph.\n")
	require.Contains(t, text, "Second paragraph.\n")
	require.Contains(t, text, "One\n")
	require.NotContains(t, text, "One Two")
}

func TestPDF_RejectsMalformedInput(t *testing.T) {
	t.Parallel()

	_, err := PDF([]byte("not a pdf at all"))
	require.Error(t, err)
}

func TestNormalize(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name string
		in   string
		want string
	}{
		{"collapses spaces", "a   b\tc", "a b c"},
		{"trims lines", "  hello  \n  world ", "hello\nworld"},
		{"collapses blank runs", "a\n\n\n\nb", "a\n\nb"},
		{"windows newlines", "a\r\nb\rc", "a\nb\nc"},
		{"nbsp", "fee: 100", "fee: 100"},
		{"drops trailing blanks", "a\n\n", "a"},
		{"empty", "   \n \n", ""},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			require.Equal(t, tc.want, Normalize(tc.in))
		})
	}
}

func TestNormalize_Idempotent(t *testing.T) {
	t.Parallel()

	in := "Visa   fees\r\n\r\n\r\n  100 EUR  \n"
	once := Normalize(in)
	require.Equal(t, once, Normalize(once))
}
