package retrieval

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/samber/mo"
)

// ParseResult is the outcome of decoding a model response. When Fallback
// is set, Value holds the default that replaced the unusable response and
// Err says why.
type ParseResult[T any] struct {
	Value    T
	Fallback bool
	Err      error
}

// Parsed wraps a successfully decoded value.
func Parsed[T any](v T) ParseResult[T] {
	return ParseResult[T]{Value: v}
}

// FellBack wraps a default used in place of an unusable response.
func FellBack[T any](v T, err error) ParseResult[T] {
	return ParseResult[T]{Value: v, Fallback: true, Err: err}
}

var errNotObject = errors.New("response is not a JSON object")

// decodeJSON decodes raw as any JSON value.
func decodeJSON(raw string) (any, error) {
	if strings.TrimSpace(raw) == "" {
		return nil, errors.New("empty response")
	}
	var v any
	if err := json.Unmarshal([]byte(raw), &v); err != nil {
		return nil, err
	}
	return v, nil
}

// extractJSONObject returns the span from the first "{" to the last "}",
// or "" when there is none.
func extractJSONObject(raw string) string {
	start := strings.Index(raw, "{")
	end := strings.LastIndex(raw, "}")
	if start < 0 || end <= start {
		return ""
	}
	return raw[start : end+1]
}

// numberField reads a JSON number, or a string holding one.
func numberField(obj map[string]any, key string) mo.Option[float64] {
	switch v := obj[key].(type) {
	case float64:
		return mo.Some(v)
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
		if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
			return mo.None[float64]()
		}
		return mo.Some(f)
	default:
		return mo.None[float64]()
	}
}

// stringField reads a string that is non-blank after trimming.
func stringField(obj map[string]any, key string) mo.Option[string] {
	s, ok := obj[key].(string)
	if !ok {
		return mo.None[string]()
	}
	s = strings.TrimSpace(s)
	if s == "" {
		return mo.None[string]()
	}
	return mo.Some(s)
}

func asObject(v any) (map[string]any, error) {
	obj, ok := v.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("%w: %T", errNotObject, v)
	}
	return obj, nil
}
