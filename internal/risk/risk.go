// Package risk scores trial-activation attempts with stateless heuristics.
// Indicators are advisory signals consumed by the guard; they never reject a
// request on their own.
package risk

import (
	"regexp"
	"strings"

	"trialguard/internal/fingerprint"
)

// Indicator identifies a single suspicion heuristic that fired
type Indicator string

const (
	IndicatorSuspiciousEmail  Indicator = "suspicious_email"
	IndicatorVPNDetected      Indicator = "vpn_detected"
	IndicatorAutomatedBrowser Indicator = "automated_browser"
	IndicatorSuspiciousScreen Indicator = "suspicious_screen"
)

// VerificationThreshold is the indicator count at which the caller should
// mark a request as requiring additional verification. Soft signal only.
const VerificationThreshold = 2

// disposableDomains are substrings of known throwaway email providers
var disposableDomains = []string{
	"mailinator",
	"guerrillamail",
	"10minutemail",
	"tempmail",
	"temp-mail",
	"throwaway",
	"yopmail",
	"trashmail",
	"getnada",
	"dispostable",
}

// tempKeywords are generic local-part keywords common in harvested accounts
var tempKeywords = []string{"temp", "test", "fake", "trial", "demo"}

// vpnPrefixes is a static denylist of hosting and VPN provider prefixes.
// A placeholder heuristic, not a geolocation database.
var vpnPrefixes = []string{
	"185.220.",
	"104.244.",
	"192.42.116.",
	"23.129.64.",
	"198.98.",
	"209.141.",
	"45.33.",
	"66.228.",
}

var (
	plusAliasPattern  = regexp.MustCompile(`^[^@]+\+[^@]*@`)
	shortAliasPattern = regexp.MustCompile(`^[a-z]{1,3}\d{2,}@`)
)

// Evaluate runs all heuristics over the request attributes and returns the
// indicators that fired. Pure function: no side effects, never blocks.
func Evaluate(email, ip string, fp *fingerprint.Descriptor) []Indicator {
	var indicators []Indicator

	if suspiciousEmail(email) {
		indicators = append(indicators, IndicatorSuspiciousEmail)
	}
	if vpnDetected(ip) {
		indicators = append(indicators, IndicatorVPNDetected)
	}
	if fp != nil {
		if automatedBrowser(fp) {
			indicators = append(indicators, IndicatorAutomatedBrowser)
		}
		if suspiciousScreen(fp.ScreenResolution) {
			indicators = append(indicators, IndicatorSuspiciousScreen)
		}
	}

	return indicators
}

// RequiresVerification reports whether the indicator count crosses the
// additional-verification threshold
func RequiresVerification(indicators []Indicator) bool {
	return len(indicators) >= VerificationThreshold
}

func suspiciousEmail(email string) bool {
	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" {
		return false
	}

	if plusAliasPattern.MatchString(email) {
		return true
	}
	if shortAliasPattern.MatchString(email) {
		return true
	}
	for _, domain := range disposableDomains {
		if strings.Contains(email, domain) {
			return true
		}
	}
	local := email
	if at := strings.Index(email, "@"); at >= 0 {
		local = email[:at]
	}
	for _, keyword := range tempKeywords {
		if strings.Contains(local, keyword) {
			return true
		}
	}
	return false
}

func vpnDetected(ip string) bool {
	for _, prefix := range vpnPrefixes {
		if strings.HasPrefix(ip, prefix) {
			return true
		}
	}
	return false
}

func automatedBrowser(fp *fingerprint.Descriptor) bool {
	if fp.Webdriver {
		return true
	}
	if fp.PluginCount != nil && *fp.PluginCount == 0 {
		return true
	}
	// A declared-but-empty language list is a headless tell; an absent one
	// is just a sparse descriptor.
	if fp.Languages != nil && len(fp.Languages) == 0 {
		return true
	}
	return false
}

func suspiciousScreen(res fingerprint.ScreenResolution) bool {
	if res.Width == 0 && res.Height == 0 {
		return false
	}
	return res.Width == res.Height || res.Width < 800 || res.Height < 600
}
