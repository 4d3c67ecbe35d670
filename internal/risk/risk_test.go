package risk

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"trialguard/internal/fingerprint"
)

func intPtr(v int) *int { return &v }

func cleanDescriptor() *fingerprint.Descriptor {
	return &fingerprint.Descriptor{
		UserAgent:        "Mozilla/5.0",
		ScreenResolution: fingerprint.ScreenResolution{Width: 1920, Height: 1080},
		Timezone:         "Europe/Rome",
		Language:         "it",
		Platform:         "Win32",
		PluginCount:      intPtr(5),
		FontCount:        intPtr(20),
		CanvasSignature:  "xyz",
		Languages:        []string{"it", "en"},
	}
}

func TestEvaluateCleanRequest(t *testing.T) {
	indicators := Evaluate("alice@example.com", "93.184.216.34", cleanDescriptor())
	assert.Empty(t, indicators)
}

func TestSuspiciousEmailPatterns(t *testing.T) {
	tests := []struct {
		name       string
		email      string
		suspicious bool
	}{
		{"plus aliasing", "user+123@example.com", true},
		{"plus aliasing empty tag", "user+@example.com", true},
		{"short alias with digits", "ab12@example.com", true},
		{"disposable domain", "someone@mailinator.com", true},
		{"disposable substring", "x@my.tempmail.io", true},
		{"temp keyword", "tempuser@example.com", true},
		{"test keyword", "testaccount@example.com", true},
		{"fake keyword", "fakename@example.com", true},
		{"normal address", "alice@example.com", false},
		{"long alias with digits", "alexander99@example.com", false},
		{"empty email", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			indicators := Evaluate(tt.email, "93.184.216.34", nil)
			if tt.suspicious {
				assert.Contains(t, indicators, IndicatorSuspiciousEmail)
			} else {
				assert.NotContains(t, indicators, IndicatorSuspiciousEmail)
			}
		})
	}
}

func TestVPNDetection(t *testing.T) {
	indicators := Evaluate("alice@example.com", "185.220.101.5", nil)
	assert.Contains(t, indicators, IndicatorVPNDetected)

	indicators = Evaluate("alice@example.com", "93.184.216.34", nil)
	assert.NotContains(t, indicators, IndicatorVPNDetected)
}

func TestAutomatedBrowserSignals(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*fingerprint.Descriptor)
		fires  bool
	}{
		{"webdriver flag", func(d *fingerprint.Descriptor) { d.Webdriver = true }, true},
		{"zero plugins", func(d *fingerprint.Descriptor) { d.PluginCount = intPtr(0) }, true},
		{"empty language list", func(d *fingerprint.Descriptor) { d.Languages = []string{} }, true},
		{"absent plugin count", func(d *fingerprint.Descriptor) { d.PluginCount = nil }, false},
		{"absent language list", func(d *fingerprint.Descriptor) { d.Languages = nil }, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := cleanDescriptor()
			tt.mutate(d)
			indicators := Evaluate("alice@example.com", "93.184.216.34", d)
			if tt.fires {
				assert.Contains(t, indicators, IndicatorAutomatedBrowser)
			} else {
				assert.NotContains(t, indicators, IndicatorAutomatedBrowser)
			}
		})
	}
}

func TestSuspiciousScreen(t *testing.T) {
	tests := []struct {
		name   string
		width  int
		height int
		fires  bool
	}{
		{"square viewport", 1000, 1000, true},
		{"narrow width", 640, 900, true},
		{"short height", 1024, 500, true},
		{"standard desktop", 1920, 1080, false},
		{"unreported", 0, 0, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := cleanDescriptor()
			d.ScreenResolution = fingerprint.ScreenResolution{Width: tt.width, Height: tt.height}
			indicators := Evaluate("alice@example.com", "93.184.216.34", d)
			if tt.fires {
				assert.Contains(t, indicators, IndicatorSuspiciousScreen)
			} else {
				assert.NotContains(t, indicators, IndicatorSuspiciousScreen)
			}
		})
	}
}

func TestNoFingerprintSkipsDeviceChecks(t *testing.T) {
	indicators := Evaluate("alice@example.com", "93.184.216.34", nil)
	assert.NotContains(t, indicators, IndicatorAutomatedBrowser)
	assert.NotContains(t, indicators, IndicatorSuspiciousScreen)
}

func TestRequiresVerification(t *testing.T) {
	assert.False(t, RequiresVerification(nil))
	assert.False(t, RequiresVerification([]Indicator{IndicatorVPNDetected}))
	assert.True(t, RequiresVerification([]Indicator{IndicatorVPNDetected, IndicatorSuspiciousEmail}))

	// Multiple indicators at once: vpn prefix + plus alias + webdriver
	d := cleanDescriptor()
	d.Webdriver = true
	indicators := Evaluate("user+9@mailinator.com", "185.220.101.5", d)
	assert.True(t, RequiresVerification(indicators))
}
