package feeds

import (
	"regexp"
	"strings"
)

// maxMentions is the most @-handles a post may carry before it is treated
// as a tag-storm.
const maxMentions = 5

var spamPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)\bairdrops?\b`),
	regexp.MustCompile(`(?i)\bfree\s+(mint|money|tokens?)\b`),
	regexp.MustCompile(`(?i)\b(pump|moon)\s*(it|ing)?\s*(now)?\b`),
	regexp.MustCompile(`(?i)claim\s+your\s+reward`),
	regexp.MustCompile(`(?i)\bdm\s+me\b`),
	regexp.MustCompile(`https?://\S+\s+https?://\S+\s+https?://`),
}

var mentionPattern = regexp.MustCompile(`@\w+`)

// IsSpam reports whether a post should be dropped without a reply.
func IsSpam(text string) bool {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return true
	}
	if len(mentionPattern.FindAllString(trimmed, -1)) > maxMentions {
		return true
	}
	for _, p := range spamPatterns {
		if p.MatchString(trimmed) {
			return true
		}
	}
	return false
}
