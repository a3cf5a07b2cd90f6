package util

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/oliveagle/jsonpath"
)

var placeholderRe = regexp.MustCompile(`{(.*?)}`)

// ResolveParams substitutes {$.path} placeholders in param values with
// values looked up from the flow's variable bag via jsonpath.
func ResolveParams(vars map[string]any, params map[string]any) map[string]any {
	output := make(map[string]any)
	resolveParams(vars, params, output)
	return output
}

func resolveParams(vars map[string]any, params map[string]any, output map[string]any) {
	for k, v := range params {
		switch val := v.(type) {
		case map[string]any:
			out := make(map[string]any)
			output[k] = out
			resolveParams(vars, val, out)
		case string:
			output[k] = resolveString(vars, val)
		case []any:
			output[k] = resolveList(vars, val)
		default:
			output[k] = v
		}
	}
}

func resolveList(vars map[string]any, list []any) []any {
	var output []any
	for _, v := range list {
		switch val := v.(type) {
		case map[string]any:
			out := make(map[string]any)
			resolveParams(vars, val, out)
			output = append(output, out)
		case string:
			output = append(output, resolveString(vars, val))
		case []any:
			output = append(output, resolveList(vars, val))
		default:
			output = append(output, v)
		}
	}
	return output
}

func resolveString(vars map[string]any, s string) string {
	tokens := placeholderRe.FindAllString(s, -1)
	for _, token := range tokens {
		expr := strings.TrimSuffix(strings.TrimPrefix(token, "{"), "}")
		if !strings.HasPrefix(expr, "$") {
			continue
		}
		value, err := jsonpath.JsonPathLookup(vars, expr)
		if err != nil {
			continue
		}
		s = strings.ReplaceAll(s, token, fmt.Sprintf("%v", value))
	}
	return s
}
