// Package fingerprint canonicalizes client-reported device descriptors into
// stable digests used as device identity keys by the abuse ledger.
package fingerprint

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
)

// ScreenResolution is the client-reported display size
type ScreenResolution struct {
	Width  int `json:"width" yaml:"width"`
	Height int `json:"height" yaml:"height"`
}

// Descriptor is the bundle of browser/device attributes reported by the
// client. PluginCount and FontCount are optional; a nil value defaults to 0
// before hashing. Webdriver and Languages only feed risk evaluation and are
// not part of the digest projection.
type Descriptor struct {
	UserAgent        string           `json:"user_agent"`
	ScreenResolution ScreenResolution `json:"screen_resolution"`
	Timezone         string           `json:"timezone"`
	Language         string           `json:"language"`
	Platform         string           `json:"platform"`
	PluginCount      *int             `json:"plugin_count,omitempty"`
	FontCount        *int             `json:"font_count,omitempty"`
	CanvasSignature  string           `json:"canvas_signature"`
	Webdriver        bool             `json:"webdriver,omitempty"`
	Languages        []string         `json:"languages,omitempty"`
}

// Hash computes a deterministic SHA-256 hex digest over a fixed, explicitly
// ordered projection of the descriptor fields. The projection is independent
// of client-side field ordering, so the same device always hashes to the
// same digest. A nil descriptor yields "" and all device-keyed checks are
// skipped for that request.
func Hash(d *Descriptor) string {
	if d == nil {
		return ""
	}

	factors := []string{
		d.UserAgent,
		fmt.Sprintf("%dx%d", d.ScreenResolution.Width, d.ScreenResolution.Height),
		d.Timezone,
		d.Language,
		d.Platform,
		fmt.Sprintf("%d", intOrZero(d.PluginCount)),
		fmt.Sprintf("%d", intOrZero(d.FontCount)),
		d.CanvasSignature,
	}

	sum := sha256.Sum256([]byte(strings.Join(factors, "|")))
	return hex.EncodeToString(sum[:])
}

func intOrZero(v *int) int {
	if v == nil {
		return 0
	}
	return *v
}
