package httpapi

import "strings"

// parseList tolerates both "[a,b]" and "a,b" shapes for a query parameter,
// trimming whitespace around each token — the stable external contract for
// the platforms and subjects query parameters.
func parseList(raw string) []string {
	raw = strings.TrimSpace(raw)
	raw = strings.TrimPrefix(raw, "[")
	raw = strings.TrimSuffix(raw, "]")
	if raw == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}
