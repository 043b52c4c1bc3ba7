package intent

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParseScore(t *testing.T) {
	cases := []struct {
		name string
		in   string
		want float64
	}{
		{"bare number", "0.85", 0.85},
		{"integer one", "1", 1},
		{"zero", "0", 0},
		{"wrapped in prose", "I'd say the confidence is 0.72 overall.", 0.72},
		{"leading whitespace", "  0.4", 0.4},
		{"above one is malformed", "7.5", 0},
		{"percentage scale is malformed", "95", 0},
		{"out of ten scale is malformed", "7/10", 0},
		{"malformed", "definitely a call", 0},
		{"empty", "", 0},
		{"number with trailing text", "0.9/1.0", 0.9},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.InDelta(t, tc.want, ParseScore(tc.in), 1e-9)
		})
	}
}

func TestParseTemplateVerdict(t *testing.T) {
	cases := []struct {
		name string
		in   string
		want TemplateVerdict
	}{
		{
			"plain json",
			`{"is_template_response": true, "response_type": "accept", "confidence": 0.92}`,
			TemplateVerdict{IsTemplateResponse: true, ResponseType: "accept", Confidence: 0.92},
		},
		{
			"fenced json",
			"```json\n{\"is_template_response\": true, \"response_type\": \"decline\", \"confidence\": 0.8}\n```",
			TemplateVerdict{IsTemplateResponse: true, ResponseType: "decline", Confidence: 0.8},
		},
		{"malformed", "yes they accepted", TemplateVerdict{}},
		{"empty", "", TemplateVerdict{}},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, ParseTemplateVerdict(tc.in))
		})
	}
}
