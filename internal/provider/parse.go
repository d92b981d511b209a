package provider

import (
	"encoding/json"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/sells-group/funnel-agent/internal/model"
)

// ErrNoJSON is returned by ExtractJSON when the text holds no JSON value.
var ErrNoJSON = eris.New("provider: no JSON object found in response")

// ExtractJSON locates the first complete JSON object or array in text.
// Markdown code fences and surrounding prose are ignored.
func ExtractJSON(text string) (json.RawMessage, error) {
	found := candidates(text)
	if len(found) == 0 {
		return nil, ErrNoJSON
	}
	return found[0], nil
}

// candidates returns every JSON value that decodes from a '{' or '[' in
// text, in order of their start offset. Nested values are included.
func candidates(text string) []json.RawMessage {
	text = stripFences(strings.TrimSpace(text))

	var found []json.RawMessage
	for i := 0; i < len(text); i++ {
		if text[i] != '{' && text[i] != '[' {
			continue
		}
		dec := json.NewDecoder(strings.NewReader(text[i:]))
		var raw json.RawMessage
		if err := dec.Decode(&raw); err == nil {
			found = append(found, raw)
		}
	}
	return found
}

func stripFences(text string) string {
	start := strings.Index(text, "```")
	if start < 0 {
		return text
	}
	body := text[start+3:]
	if nl := strings.IndexByte(body, '\n'); nl >= 0 {
		// drop the language tag line, e.g. ```json
		if !strings.ContainsAny(body[:nl], "{[") {
			body = body[nl+1:]
		}
	}
	if end := strings.Index(body, "```"); end >= 0 {
		body = body[:end]
	}
	return strings.TrimSpace(body)
}

// expectedKeys lists, per request kind, the keys of which a usable reply
// must carry at least one.
var expectedKeys = map[model.RequestKind][]string{
	model.KindFunnelAnalysis: {
		"overall_score",
		"conversion_prediction",
		"recommendations",
		"strengths",
		"issues",
	},
	model.KindStepOptimization: {
		"optimized_title",
		"optimized_content",
		"optimized_options",
		"expected_improvement",
	},
}

// ParseStructured returns the first JSON object in text that has the shape
// expected for kind. Arrays and objects without any expected field are
// skipped. When nothing matches the result is a KindMalformed failure.
func ParseStructured(text string, kind model.RequestKind) (json.RawMessage, *Failure) {
	found := candidates(text)
	if len(found) == 0 {
		return nil, NewFailure(KindMalformed, ErrNoJSON)
	}

	sawObject := false
	for _, raw := range found {
		var obj map[string]json.RawMessage
		if err := json.Unmarshal(raw, &obj); err != nil || obj == nil {
			continue
		}
		sawObject = true
		if hasExpectedKey(obj, kind) {
			return raw, nil
		}
	}

	if !sawObject {
		return nil, NewFailure(KindMalformed, eris.New("provider: response is not a JSON object"))
	}
	return nil, NewFailure(KindMalformed, eris.Errorf("provider: response has none of the %s fields", kind))
}

func hasExpectedKey(obj map[string]json.RawMessage, kind model.RequestKind) bool {
	keys, ok := expectedKeys[kind]
	if !ok {
		return true
	}
	for _, k := range keys {
		if _, present := obj[k]; present {
			return true
		}
	}
	return false
}
