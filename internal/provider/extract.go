package provider

import (
	"encoding/json"
	"regexp"
	"strings"
)

var (
	fenceRe        = regexp.MustCompile("```json\n|```")
	leadingJunkRe  = regexp.MustCompile(`(?s)^.*?([{\[])`)
	trailingJunkRe = regexp.MustCompile(`(?s)([}\]])[^}\]]*$`)
)

// ExtractJSON coerces model output into a JSON value. Code fences are
// stripped, then the whole text is parsed; failing that, the text is split
// on blank lines and each segment is parsed on its own, skipping a leading
// preamble that does not open a JSON value. The second return is false when
// nothing parseable was found.
func ExtractJSON(text string) (any, bool) {
	text = strings.TrimSpace(fenceRe.ReplaceAllString(text, ""))
	if text == "" {
		return nil, false
	}

	var v any
	if err := json.Unmarshal([]byte(text), &v); err == nil {
		return v, true
	}

	segments := strings.Split(text, "\n\n")
	if first := strings.TrimSpace(segments[0]); !strings.HasPrefix(first, "{") && !strings.HasPrefix(first, "[") {
		segments = segments[1:]
	}
	var out []any
	for _, seg := range segments {
		seg = strings.TrimSpace(seg)
		if seg == "" {
			continue
		}
		var sv any
		if err := json.Unmarshal([]byte(seg), &sv); err != nil {
			return nil, false
		}
		out = append(out, sv)
	}
	switch len(out) {
	case 0:
		return nil, false
	case 1:
		return out[0], true
	}
	return out, true
}

// ExtractLooseJSON drops everything before the first opening brace or
// bracket and after the last closing one, removes stray escapes and control
// whitespace, then parses. It returns nil when the text holds no JSON.
func ExtractLooseJSON(text string) any {
	text = leadingJunkRe.ReplaceAllString(text, "$1")
	text = trailingJunkRe.ReplaceAllString(text, "$1")
	text = strings.ReplaceAll(text, `\'`, "'")
	text = strings.NewReplacer("\n", "", "\t", "", "\r", "").Replace(text)

	var v any
	if err := json.Unmarshal([]byte(text), &v); err != nil {
		return nil
	}
	return v
}
