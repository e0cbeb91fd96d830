package common

import "strings"

// SplitList splits comma-separated values, trimming blanks and dropping empty items.
// Each input may itself hold several comma-separated values.
func SplitList(values ...string) []string {
	var out []string
	for _, v := range values {
		for _, item := range strings.Split(v, ",") {
			if item = strings.TrimSpace(item); item != "" {
				out = append(out, item)
			}
		}
	}
	return out
}
