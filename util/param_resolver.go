package util

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/oliveagle/jsonpath"
)

var tokenPattern = regexp.MustCompile("{(.*?)}")

// ResolveParams returns a copy of params with {$.path} placeholders replaced
// by values looked up in data. A string that is a single placeholder takes
// the looked up value as is, keeping its type. Top level keys listed in raw
// are copied untouched.
func ResolveParams(data map[string]any, params map[string]any, raw ...string) map[string]any {
	output := make(map[string]any, len(params))
	resolveParams(data, params, output)
	for _, k := range raw {
		if v, ok := params[k]; ok {
			output[k] = v
		}
	}
	return output
}

func resolveParams(data map[string]any, params map[string]any, output map[string]any) {
	for k, v := range params {
		output[k] = resolveValue(data, v)
	}
}

func resolveValue(data map[string]any, v any) any {
	switch val := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(val))
		resolveParams(data, val, out)
		return out
	case []any:
		return resolveList(data, val)
	case string:
		return resolveString(data, val)
	}
	return v
}

func resolveList(data map[string]any, list []any) []any {
	output := make([]any, 0, len(list))
	for _, v := range list {
		output = append(output, resolveValue(data, v))
	}
	return output
}

func resolveString(data map[string]any, s string) any {
	tokens := tokenPattern.FindAllString(s, -1)
	if len(tokens) == 0 {
		return s
	}
	if len(tokens) == 1 && tokens[0] == s {
		if path, ok := jsonPath(s); ok {
			value, err := jsonpath.JsonPathLookup(data, path)
			if err != nil {
				return nil
			}
			return value
		}
		return s
	}
	newStr := s
	for _, token := range tokens {
		path, ok := jsonPath(token)
		if !ok {
			continue
		}
		value, err := jsonpath.JsonPathLookup(data, path)
		if err != nil {
			value = ""
		}
		newStr = strings.ReplaceAll(newStr, token, fmt.Sprintf("%v", value))
	}
	return newStr
}

// jsonPath strips the braces of a {$.path} token.
func jsonPath(token string) (string, bool) {
	tmatch := strings.TrimSuffix(strings.TrimPrefix(token, "{"), "}")
	return tmatch, strings.HasPrefix(tmatch, "$")
}

// Merge copies src into dst, merging nested maps key by key.
func Merge(dst, src map[string]any) map[string]any {
	if dst == nil {
		dst = make(map[string]any, len(src))
	}
	for k, v := range src {
		sm, ok := v.(map[string]any)
		if !ok {
			dst[k] = v
			continue
		}
		dm, ok := dst[k].(map[string]any)
		if !ok {
			dm = make(map[string]any, len(sm))
		}
		dst[k] = Merge(dm, sm)
	}
	return dst
}
