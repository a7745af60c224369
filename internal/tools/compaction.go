package tools

import "fmt"

// ListCompactor returns a Compactor that keeps the first maxItems of a slice
// result and notes how many were dropped. Non-slice results pass through.
func ListCompactor(maxItems int) Compactor {
	return func(result any) any {
		items, ok := result.([]any)
		if !ok || len(items) <= maxItems {
			return result
		}
		return map[string]any{
			"items":     items[:maxItems],
			"total":     len(items),
			"truncated": fmt.Sprintf("%d more items omitted", len(items)-maxItems),
		}
	}
}

// StringCompactor returns a Compactor that truncates long string results.
func StringCompactor(maxLen int) Compactor {
	return func(result any) any {
		s, ok := result.(string)
		if !ok || len(s) <= maxLen {
			return result
		}
		return s[:maxLen] + fmt.Sprintf("... (%d more bytes)", len(s)-maxLen)
	}
}
