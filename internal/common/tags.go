package common

import (
	"regexp"
	"strings"
)

// hashtagPattern matches "#word" where word is any run of letters, digits or underscores
var hashtagPattern = regexp.MustCompile(`#([\p{L}\p{N}_]+)`)

// ParseTags normalises a tag string such as "#cat #dog" into bare tag names.
// Strings without any "#word" fall back to whitespace splitting.
func ParseTags(raw string) []string {
	matches := hashtagPattern.FindAllStringSubmatch(raw, -1)
	if len(matches) > 0 {
		tags := make([]string, 0, len(matches))
		for _, m := range matches {
			tags = append(tags, m[1])
		}
		return tags
	}

	return NormalizeTags(strings.Fields(raw))
}

// NormalizeTags strips leading '#' characters and drops empty entries, keeping order.
func NormalizeTags(tags []string) []string {
	out := make([]string, 0, len(tags))
	for _, tag := range tags {
		tag = strings.TrimLeft(strings.TrimSpace(tag), "#")
		if tag == "" {
			continue
		}
		out = append(out, tag)
	}
	return out
}
