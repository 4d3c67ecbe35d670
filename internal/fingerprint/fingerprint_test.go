package fingerprint

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func intPtr(v int) *int { return &v }

func TestHashDeterministic(t *testing.T) {
	d := &Descriptor{
		UserAgent:        "A",
		ScreenResolution: ScreenResolution{Width: 1920, Height: 1080},
		Timezone:         "Europe/Rome",
		Language:         "it",
		Platform:         "Win32",
		PluginCount:      intPtr(5),
		FontCount:        intPtr(20),
		CanvasSignature:  "xyz",
	}

	first := Hash(d)
	second := Hash(d)

	require.Equal(t, first, second)
	assert.Len(t, first, 64, "digest should be SHA-256 hex")
}

func TestHashNilDescriptor(t *testing.T) {
	assert.Equal(t, "", Hash(nil))
}

func TestHashMissingOptionalFieldsDefaultToZero(t *testing.T) {
	withNil := &Descriptor{
		UserAgent:        "A",
		ScreenResolution: ScreenResolution{Width: 1920, Height: 1080},
		Timezone:         "Europe/Rome",
		Language:         "it",
		Platform:         "Win32",
		CanvasSignature:  "xyz",
	}
	withZero := &Descriptor{
		UserAgent:        "A",
		ScreenResolution: ScreenResolution{Width: 1920, Height: 1080},
		Timezone:         "Europe/Rome",
		Language:         "it",
		Platform:         "Win32",
		PluginCount:      intPtr(0),
		FontCount:        intPtr(0),
		CanvasSignature:  "xyz",
	}

	assert.Equal(t, Hash(withZero), Hash(withNil))
}

func TestHashSensitiveToEachProjectedField(t *testing.T) {
	base := func() *Descriptor {
		return &Descriptor{
			UserAgent:        "A",
			ScreenResolution: ScreenResolution{Width: 1920, Height: 1080},
			Timezone:         "Europe/Rome",
			Language:         "it",
			Platform:         "Win32",
			PluginCount:      intPtr(5),
			FontCount:        intPtr(20),
			CanvasSignature:  "xyz",
		}
	}

	tests := []struct {
		name   string
		mutate func(*Descriptor)
	}{
		{"user agent", func(d *Descriptor) { d.UserAgent = "B" }},
		{"width", func(d *Descriptor) { d.ScreenResolution.Width = 1280 }},
		{"height", func(d *Descriptor) { d.ScreenResolution.Height = 720 }},
		{"timezone", func(d *Descriptor) { d.Timezone = "UTC" }},
		{"language", func(d *Descriptor) { d.Language = "en" }},
		{"platform", func(d *Descriptor) { d.Platform = "Linux" }},
		{"plugin count", func(d *Descriptor) { d.PluginCount = intPtr(6) }},
		{"font count", func(d *Descriptor) { d.FontCount = intPtr(21) }},
		{"canvas", func(d *Descriptor) { d.CanvasSignature = "abc" }},
	}

	reference := Hash(base())
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := base()
			tt.mutate(d)
			assert.NotEqual(t, reference, Hash(d))
		})
	}
}

func TestHashIgnoresRiskOnlyFields(t *testing.T) {
	// Webdriver and Languages feed risk evaluation, not device identity
	a := &Descriptor{UserAgent: "A", CanvasSignature: "xyz"}
	b := &Descriptor{UserAgent: "A", CanvasSignature: "xyz", Webdriver: true, Languages: []string{"en"}}

	assert.Equal(t, Hash(a), Hash(b))
}
