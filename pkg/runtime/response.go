// SPDX-License-Identifier: Apache-2.0

package runtime

import (
	"html"
	"regexp"
	"strings"

	"github.com/jllopis/aion/pkg/core"
)

var tagPatterns = map[string]*regexp.Regexp{
	"thought":   regexp.MustCompile(`(?s)<thought>(.*?)</thought>`),
	"text":      regexp.MustCompile(`(?s)<text>(.*?)</text>`),
	"actions":   regexp.MustCompile(`(?s)<actions>(.*?)</actions>`),
	"providers": regexp.MustCompile(`(?s)<providers>(.*?)</providers>`),
}

// ParseResponse extracts thought, text, actions and providers from a model
// output in the tagged response format. Output without text or actions tags
// is a plain reply: the whole output becomes the text with a REPLY action.
// Tagged output with text but no actions also replies.
func ParseResponse(raw string) core.Response {
	resp := core.Response{Raw: raw}
	text, hasText := tag(raw, "text")
	actions, hasActions := tag(raw, "actions")
	if !hasText && !hasActions {
		resp.Text = strings.TrimSpace(raw)
		resp.Simple = true
		if resp.Text != "" {
			resp.Actions = []string{ActionReply}
		}
		return resp
	}

	resp.Text = text
	resp.Thought, _ = tag(raw, "thought")
	resp.Actions = splitList(actions)
	if providers, ok := tag(raw, "providers"); ok {
		resp.Providers = splitList(providers)
	}
	if len(resp.Actions) == 0 && resp.Text != "" {
		resp.Actions = []string{ActionReply}
	}
	return resp
}

func tag(raw, name string) (string, bool) {
	m := tagPatterns[name].FindStringSubmatch(raw)
	if m == nil {
		return "", false
	}
	return html.UnescapeString(strings.TrimSpace(m[1])), true
}

func splitList(s string) []string {
	var out []string
	for _, item := range strings.Split(s, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}
