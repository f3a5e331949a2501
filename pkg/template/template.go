// Package template resolves {{dotted.path}} placeholders in step configuration.
//
// Grammar: a placeholder is "{{" path "}}" where path is one or more segments of
// letters, digits, '_' or '-' joined by '.'. Numeric segments index into arrays.
// There are no expressions, filters or function calls.
package template

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

var placeholderPattern = regexp.MustCompile(`\{\{\s*([A-Za-z0-9_\-]+(?:\.[A-Za-z0-9_\-]+)*)\s*\}\}`)

// Resolve walks the template and substitutes placeholders using the data context.
//
// A string that is exactly one placeholder resolves to the referenced value with its
// type preserved. Placeholders embedded in longer strings are stringified. Unresolved
// placeholders are left verbatim.
func Resolve(template any, data map[string]any) any {
	switch value := template.(type) {
	case string:
		return resolveString(value, data)
	case map[string]any:
		resolved := make(map[string]any, len(value))
		for key, item := range value {
			resolved[key] = Resolve(item, data)
		}

		return resolved
	case []any:
		resolved := make([]any, len(value))
		for i, item := range value {
			resolved[i] = Resolve(item, data)
		}

		return resolved
	default:
		return template
	}
}

// ResolveMap is Resolve for the common map-shaped template.
func ResolveMap(template map[string]any, data map[string]any) map[string]any {
	if template == nil {
		return nil
	}

	resolved, _ := Resolve(template, data).(map[string]any)

	return resolved
}

// ResolveString resolves a string template and always returns text.
func ResolveString(input string, data map[string]any) string {
	return stringify(resolveString(input, data))
}

// Lookup follows a dotted path through nested maps and arrays.
func Lookup(data map[string]any, path string) (any, bool) {
	var current any = data

	for _, segment := range strings.Split(path, ".") {
		switch node := current.(type) {
		case map[string]any:
			next, ok := node[segment]
			if !ok {
				return nil, false
			}

			current = next
		case []any:
			index, err := strconv.Atoi(segment)
			if err != nil || index < 0 || index >= len(node) {
				return nil, false
			}

			current = node[index]
		default:
			return nil, false
		}
	}

	return current, true
}

// ParseMapping accepts a mapping given either as an object or as a JSON string.
func ParseMapping(mapping any) (map[string]any, error) {
	switch value := mapping.(type) {
	case nil:
		return map[string]any{}, nil
	case map[string]any:
		return value, nil
	case string:
		if strings.TrimSpace(value) == "" {
			return map[string]any{}, nil
		}

		parsed := make(map[string]any)

		err := json.Unmarshal([]byte(value), &parsed)
		if err != nil {
			return nil, fmt.Errorf("failed to parse mapping as JSON object: %w", err)
		}

		return parsed, nil
	default:
		return nil, fmt.Errorf("mapping must be an object or JSON string, got %T", mapping)
	}
}

func resolveString(input string, data map[string]any) any {
	matches := placeholderPattern.FindAllStringSubmatchIndex(input, -1)
	if len(matches) == 0 {
		return input
	}

	if len(matches) == 1 && matches[0][0] == 0 && matches[0][1] == len(input) {
		value, ok := Lookup(data, input[matches[0][2]:matches[0][3]])
		if !ok {
			return input
		}

		return value
	}

	return placeholderPattern.ReplaceAllStringFunc(input, func(placeholder string) string {
		path := placeholderPattern.FindStringSubmatch(placeholder)[1]

		value, ok := Lookup(data, path)
		if !ok {
			return placeholder
		}

		return stringify(value)
	})
}

func stringify(value any) string {
	switch v := value.(type) {
	case string:
		return v
	case nil:
		return ""
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(v)
	default:
		encoded, err := json.Marshal(v)
		if err != nil {
			return fmt.Sprint(v)
		}

		return string(encoded)
	}
}
