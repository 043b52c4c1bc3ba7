package intent

import (
	"encoding/json"
	"regexp"
	"strconv"
	"strings"
)

var scoreRe = regexp.MustCompile(`(\d+(\.\d+)?)`)

// ParseScore extracts a confidence score from free-text classifier output.
// Models wrap numbers in prose more often than not, so the first numeric
// token wins. A value outside [0, 1] means the model answered on some other
// scale; that is malformed output and scores zero rather than being clamped
// into a guaranteed intent match.
func ParseScore(raw string) float64 {
	match := scoreRe.FindString(strings.TrimSpace(raw))
	if match == "" {
		return 0
	}
	v, err := strconv.ParseFloat(match, 64)
	if err != nil {
		return 0
	}
	if v < 0 || v > 1 {
		return 0
	}
	return v
}

// TemplateVerdict is the structured verdict for "is this a reply to the
// pending template offer".
type TemplateVerdict struct {
	IsTemplateResponse bool    `json:"is_template_response"`
	ResponseType       string  `json:"response_type"`
	Confidence         float64 `json:"confidence"`
}

// ParseTemplateVerdict decodes the classifier's JSON verdict, tolerating
// markdown code fences. Unparseable output reads as "not a template reply".
func ParseTemplateVerdict(raw string) TemplateVerdict {
	s := strings.TrimSpace(raw)
	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(s, "```")
	s = strings.TrimSpace(s)

	var v TemplateVerdict
	if err := json.Unmarshal([]byte(s), &v); err != nil {
		return TemplateVerdict{}
	}
	return v
}
