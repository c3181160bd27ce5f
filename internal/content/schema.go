package content

import (
	"errors"
	"fmt"
	"strings"

	"github.com/tidwall/gjson"
)

var ErrMalformed = errors.New("malformed generated content")

// ParseGenerated validates a model reply against the rights/script/tips/
// warnings shape. Markdown code fences around the JSON are tolerated.
func ParseGenerated(raw string) (GeneratedContent, error) {
	body := stripCodeFence(raw)
	if body == "" {
		return GeneratedContent{}, fmt.Errorf("%w: empty reply", ErrMalformed)
	}
	if !gjson.Valid(body) {
		return GeneratedContent{}, fmt.Errorf("%w: invalid json", ErrMalformed)
	}

	doc := gjson.Parse(body)
	if !doc.IsObject() {
		return GeneratedContent{}, fmt.Errorf("%w: expected a json object", ErrMalformed)
	}

	rights, err := stringList(doc, "rights")
	if err != nil {
		return GeneratedContent{}, err
	}
	if len(rights) == 0 {
		return GeneratedContent{}, fmt.Errorf("%w: rights is empty", ErrMalformed)
	}
	tips, err := stringList(doc, "tips")
	if err != nil {
		return GeneratedContent{}, err
	}
	warnings, err := stringList(doc, "warnings")
	if err != nil {
		return GeneratedContent{}, err
	}

	script := doc.Get("script")
	if script.Type != gjson.String || strings.TrimSpace(script.String()) == "" {
		return GeneratedContent{}, fmt.Errorf("%w: script must be a non-empty string", ErrMalformed)
	}

	return GeneratedContent{
		Rights:   rights,
		Script:   strings.TrimSpace(script.String()),
		Tips:     tips,
		Warnings: warnings,
	}, nil
}

func stringList(doc gjson.Result, field string) ([]string, error) {
	value := doc.Get(field)
	if !value.Exists() {
		return nil, fmt.Errorf("%w: missing %s", ErrMalformed, field)
	}
	if !value.IsArray() {
		return nil, fmt.Errorf("%w: %s must be an array", ErrMalformed, field)
	}

	items := value.Array()
	out := make([]string, 0, len(items))
	for i, item := range items {
		if item.Type != gjson.String {
			return nil, fmt.Errorf("%w: %s[%d] is not a string", ErrMalformed, field, i)
		}
		text := strings.TrimSpace(item.String())
		if text == "" {
			return nil, fmt.Errorf("%w: %s[%d] is empty", ErrMalformed, field, i)
		}
		out = append(out, text)
	}
	return out, nil
}

func stripCodeFence(raw string) string {
	s := strings.TrimSpace(raw)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	if nl := strings.IndexByte(s, '\n'); nl >= 0 {
		s = s[nl+1:]
	} else {
		s = strings.TrimPrefix(s, "```")
	}
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}
