package domain

import (
	"strings"

	"golang.org/x/text/cases"
)

// FoldHandle case-folds a handle for registry lookups and uniqueness
// comparisons. The folded form is the registry key at handles/{folded}.
func FoldHandle(handle string) string {
	return cases.Fold().String(strings.TrimSpace(handle))
}
