package fetcher

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestThinContentDetector(t *testing.T) {
	t.Parallel()

	d := NewThinContentDetector(0)

	cases := []struct {
		name string
		body string
		text string
		want bool
	}{
		{"empty body", "", "", true},
		{"no extracted text", "<html><body></body></html>", "", true},
		{"spa root marker", `<div id="root"></div>`, "x", true},
		{"react marker", `<div data-reactroot></div>`, "x", true},
		{
			"big shell tiny text",
			strings.Repeat("<script>chunk()</script>", 200),
			"just a heading",
			true,
		},
		{
			"normal article",
			"<html><body><p>" + strings.Repeat("Visa policy text. ", 50) + "</p></body></html>",
			strings.Repeat("Visa policy text. ", 50),
			false,
		},
		{"small static page", "<p>Fee: 100 EUR</p>", "Fee: 100 EUR", false},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			got := d.ShouldPromote(RawResponse{StatusCode: 200, Body: []byte(tc.body)}, tc.text)
			require.Equal(t, tc.want, got)
		})
	}
}
