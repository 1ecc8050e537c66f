package talks

import (
	"regexp"
	"strings"

	"golang.org/x/text/cases"
)

var (
	leadingArticle = regexp.MustCompile(`^(a|an|the|der|die|das) `)
	nonAlnum       = regexp.MustCompile(`[^\p{L}\p{N}]+`)
)

// SortTitle returns the comparison key for title: case-folded, without a
// leading English or German article, with every run of characters that are
// neither letters nor digits collapsed into a single space.
func SortTitle(title string) string {
	s := cases.Fold().String(title)
	s = leadingArticle.ReplaceAllString(s, "")
	s = nonAlnum.ReplaceAllString(s, " ")
	return strings.TrimSpace(s)
}
