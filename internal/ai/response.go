package ai

import (
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strings"
)

// ErrNoNameArray is returned when a response holds no JSON array.
var ErrNoNameArray = errors.New("response contains no JSON array")

var firstArray = regexp.MustCompile(`(?s)\[.*?\]`)

// ParseNameArray extracts the first bracketed JSON array in a model response
// and returns its non-empty string items. Models often wrap the array in
// prose or markdown fences; everything outside the brackets is ignored.
func ParseNameArray(response string) ([]string, error) {
	if strings.TrimSpace(response) == "" {
		return nil, ErrNoNameArray
	}
	raw := firstArray.FindString(response)
	if raw == "" {
		return nil, ErrNoNameArray
	}

	var items []any
	if err := json.Unmarshal([]byte(raw), &items); err != nil {
		return nil, fmt.Errorf("failed to parse name array: %w", err)
	}

	names := make([]string, 0, len(items))
	for _, item := range items {
		name, ok := item.(string)
		if !ok {
			continue
		}
		if name = strings.TrimSpace(name); name != "" {
			names = append(names, name)
		}
	}
	return names, nil
}
