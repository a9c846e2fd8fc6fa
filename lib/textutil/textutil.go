package textutil

import (
	"regexp"
	"strings"

	"github.com/antzucaro/matchr"
)

var whitespaceRegex = regexp.MustCompile(`\s+`)

func NormalizeName(name string) string {
	name = strings.ToLower(name)
	name = strings.Trim(name, " \n\t")
	name = whitespaceRegex.ReplaceAllString(name, "")
	return name
}

func MatchName(name string, matchers []string) bool {
	name = NormalizeName(name)
	for _, m := range matchers {
		if strings.Contains(name, m) {
			return true
		}
	}
	return false
}

// FuzzyMatchName returns the Jaro-Winkler similarity of the closest matcher,
// names are normalized before comparison.
func FuzzyMatchName(name string, matchers []string) float64 {
	name = NormalizeName(name)
	if name == "" {
		return 0
	}
	best := 0.0
	for _, m := range matchers {
		score := matchr.JaroWinkler(name, m, false)
		if score > best {
			best = score
		}
	}
	return best
}
