package sessionsec

import "strings"

// Fingerprint is a snapshot of client environment attributes captured at
// session creation and compared on each validation. None of the fields are
// secret; they only detect drift.
type Fingerprint struct {
	UserAgent        string `json:"user_agent"`
	ScreenResolution string `json:"screen_resolution"`
	Timezone         string `json:"timezone"`
	Language         string `json:"language"`
	Platform         string `json:"platform"`
}

// Matches applies the two-tier validation rule. UserAgent and Platform are
// critical: any mismatch fails immediately, since they only change when the
// session is presented from different software. ScreenResolution, Timezone,
// and Language drift benignly (zoom, travel, locale switches), so at least
// 2 of the 3 must still match. The second tier catches slow-drift attacks
// that keep the critical fields intact.
func (f Fingerprint) Matches(current Fingerprint) bool {
	if f.UserAgent != current.UserAgent || f.Platform != current.Platform {
		return false
	}

	matching := 0
	if f.ScreenResolution == current.ScreenResolution {
		matching++
	}
	if f.Timezone == current.Timezone {
		matching++
	}
	if f.Language == current.Language {
		matching++
	}
	return matching >= 2
}

// DriftCount counts differing non-critical fields, the unit of risk
// accumulation in DetectSuspiciousActivity.
func (f Fingerprint) DriftCount(current Fingerprint) int {
	drift := 0
	if f.ScreenResolution != current.ScreenResolution {
		drift++
	}
	if f.Timezone != current.Timezone {
		drift++
	}
	if f.Language != current.Language {
		drift++
	}
	return drift
}

// Initial risk contributions. The score is a heuristic prior, not a
// verdict; it only seeds later suspicious-activity accumulation.
const (
	riskBotUserAgent    = 50
	riskUnknownPlatform = 20
	riskUnknownLanguage = 10

	// riskPerDriftField is added for each differing non-critical field
	// during suspicious-activity detection.
	riskPerDriftField = 25
)

var botUserAgentFragments = []string{"bot", "crawler", "spider", "curl", "wget", "headless", "phantom"}

// InitialRiskScore computes the deterministic creation-time risk prior,
// capped at maxRiskScore.
func (f Fingerprint) InitialRiskScore(maxRiskScore int) int {
	score := 0

	ua := strings.ToLower(f.UserAgent)
	for _, fragment := range botUserAgentFragments {
		if strings.Contains(ua, fragment) {
			score += riskBotUserAgent
			break
		}
	}
	if f.Platform == "" {
		score += riskUnknownPlatform
	}
	if f.Language == "" {
		score += riskUnknownLanguage
	}

	if score > maxRiskScore {
		score = maxRiskScore
	}
	return score
}

// DeviceType is a coarse classification derived from the user agent.
type DeviceType string

const (
	DeviceDesktop DeviceType = "desktop"
	DeviceMobile  DeviceType = "mobile"
	DeviceTablet  DeviceType = "tablet"
	DeviceUnknown DeviceType = "unknown"
)

// DeviceTypeOf classifies the fingerprint's user agent.
func (f Fingerprint) DeviceTypeOf() DeviceType {
	ua := strings.ToLower(f.UserAgent)
	switch {
	case ua == "":
		return DeviceUnknown
	case strings.Contains(ua, "ipad") || strings.Contains(ua, "tablet"):
		return DeviceTablet
	case strings.Contains(ua, "mobile") || strings.Contains(ua, "android") || strings.Contains(ua, "iphone"):
		return DeviceMobile
	default:
		return DeviceDesktop
	}
}
