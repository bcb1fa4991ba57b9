package agent

import (
	"encoding/json"
	"regexp"
	"strings"
)

var fencedJSONRe = regexp.MustCompile("```(?:json)?\\s*([\\s\\S]*?)```")

// scrapeJSON extracts a JSON object from model output. It tries a direct
// parse, then the first fenced block, then the widest brace-delimited span.
func scrapeJSON(response string) (map[string]any, bool) {
	if obj, ok := tryUnmarshal(response); ok {
		return obj, true
	}

	if m := fencedJSONRe.FindStringSubmatch(response); m != nil {
		if obj, ok := tryUnmarshal(strings.TrimSpace(m[1])); ok {
			return obj, true
		}
	}

	start := strings.Index(response, "{")
	end := strings.LastIndex(response, "}")
	if start >= 0 && end > start {
		if obj, ok := tryUnmarshal(response[start : end+1]); ok {
			return obj, true
		}
	}

	return nil, false
}

func tryUnmarshal(s string) (map[string]any, bool) {
	var obj map[string]any
	if err := json.Unmarshal([]byte(s), &obj); err != nil {
		return nil, false
	}
	return obj, true
}

// jsonString reads a string field from a scraped object.
func jsonString(obj map[string]any, key string) string {
	s, _ := obj[key].(string)
	return s
}

// jsonInt reads a numeric field from a scraped object, tolerating the
// float64 representation encoding/json uses for all numbers.
func jsonInt(obj map[string]any, key string, def int) int {
	switch v := obj[key].(type) {
	case float64:
		return int(v)
	case int:
		return v
	}
	return def
}

// jsonSlice reads an array field from a scraped object.
func jsonSlice(obj map[string]any, key string) []any {
	s, _ := obj[key].([]any)
	return s
}

// jsonStrings reads an array field as strings, skipping non-string elements.
func jsonStrings(obj map[string]any, key string) []string {
	var out []string
	for _, v := range jsonSlice(obj, key) {
		if s, ok := v.(string); ok {
			out = append(out, s)
		}
	}
	return out
}
