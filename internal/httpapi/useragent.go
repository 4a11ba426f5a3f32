package httpapi

import "strings"

// platformPrefix derives the 3-letter platform tag appended to a display
// name (spec §4.6.1 step 5), mirroring the source's
// `request.user_agent.platform[:3]` with an `oth` fallback when the
// User-Agent doesn't identify a known platform.
func platformPrefix(userAgent string) string {
	ua := strings.ToLower(userAgent)
	switch {
	case strings.Contains(ua, "ipad"):
		return "ipa"
	case strings.Contains(ua, "iphone"):
		return "iph"
	case strings.Contains(ua, "android"):
		return "and"
	case strings.Contains(ua, "mac os") || strings.Contains(ua, "macintosh"):
		return "mac"
	case strings.Contains(ua, "windows"):
		return "win"
	case strings.Contains(ua, "linux"):
		return "lin"
	default:
		return "oth"
	}
}
