package wire

import (
	"strings"

	"golang.org/x/net/html"
)

// ReorderScripts moves every <script> block of content after the rest of
// the markup, keeping the blocks in their original order. Everything else
// is passed through byte for byte.
func ReorderScripts(content string) string {
	if !strings.Contains(strings.ToLower(content), "<script") {
		return content
	}
	z := html.NewTokenizer(strings.NewReader(content))
	var body, scripts strings.Builder
	inScript := false
	for {
		tt := z.Next()
		raw := string(z.Raw())
		if tt == html.ErrorToken {
			// an unfinished tag or comment at EOF is still returned by Raw
			if inScript {
				scripts.WriteString(raw)
			} else {
				body.WriteString(raw)
			}
			break
		}
		switch tt {
		case html.StartTagToken, html.SelfClosingTagToken:
			name, _ := z.TagName()
			if string(name) == "script" {
				scripts.WriteString(raw)
				inScript = tt == html.StartTagToken
				continue
			}
		case html.EndTagToken:
			name, _ := z.TagName()
			if string(name) == "script" && inScript {
				scripts.WriteString(raw)
				inScript = false
				continue
			}
		}
		if inScript {
			scripts.WriteString(raw)
		} else {
			body.WriteString(raw)
		}
	}
	return body.String() + scripts.String()
}
