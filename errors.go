// Copyright 2012 Apcera Inc. All rights reserved.

package nats

import "strings"

// authErrorMarkers lists the literal prefixes/substrings the server is
// known to emit for authentication failures. Kept as a slice instead of a
// two-branch if, per spec.md §9's open question ("a future server release
// may add more; keep the classifier abstract and data-driven").
var authErrorMarkers = []string{
	"user authentication",
	"authorization violation",
	"authentication expired",
}

// classifyAuthError reports whether text names an authentication failure.
func classifyAuthError(text string) bool {
	lower := strings.ToLower(text)
	for _, marker := range authErrorMarkers {
		if strings.HasPrefix(lower, marker) || strings.Contains(lower, marker) {
			return true
		}
	}
	return false
}
