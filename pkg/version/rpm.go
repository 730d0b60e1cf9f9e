// Package version orders bundle and prototype versions with RPM semantics.
package version

import (
	"sort"
	"strings"

	rpmversion "github.com/knqyf263/go-rpm-version"
)

// Compare compares two "[epoch:]version[-release]" strings the way rpm
// orders packages. It returns -1, 0 or 1.
func Compare(a, b string) int {
	return parse(a).Compare(parse(b))
}

func parse(s string) rpmversion.Version {
	return rpmversion.NewVersion(strings.TrimSpace(s))
}

// DenseRank assigns each distinct version a rank starting at 1, ordered by
// Compare. Versions that compare equal share a rank.
func DenseRank(versions []string) map[string]int {
	uniq := make([]string, 0, len(versions))
	seen := make(map[string]bool)
	for _, v := range versions {
		if !seen[v] {
			seen[v] = true
			uniq = append(uniq, v)
		}
	}
	sort.SliceStable(uniq, func(i, j int) bool { return Compare(uniq[i], uniq[j]) < 0 })

	ranks := make(map[string]int, len(uniq))
	rank := 1
	for i, v := range uniq {
		if i > 0 && Compare(uniq[i-1], v) != 0 {
			rank++
		}
		ranks[v] = rank
	}
	return ranks
}
