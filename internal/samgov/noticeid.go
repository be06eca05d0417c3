package samgov

import "regexp"

// Known detail-page URL shapes, tried in order. The generic 32-hex pattern
// is the last resort.
var noticeIDPatterns = []*regexp.Regexp{
	regexp.MustCompile(`/opp/([0-9a-f]{32})/view`),
	regexp.MustCompile(`[?&]noticeid=([0-9a-f]{32})`),
	regexp.MustCompile(`[?&]opportunity_id=([0-9a-f]{32})`),
	regexp.MustCompile(`\b([0-9a-f]{32})\b`),
}

// ExtractNoticeID pulls the stable external identifier out of a detail-page
// URL. Returns "" when no pattern matches.
func ExtractNoticeID(rawURL string) string {
	for _, re := range noticeIDPatterns {
		if m := re.FindStringSubmatch(rawURL); len(m) == 2 {
			return m[1]
		}
	}
	return ""
}
