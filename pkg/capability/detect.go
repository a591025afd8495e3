package capability

import (
	"strings"

	"github.com/storyweave/storyweave/pkg/faults"
)

// Detect builds a capability record from the per-turn device hints. hints is
// the loosely typed device context supplied by the platform adapter;
// userAgent comes from the transport layer.
func Detect(hints map[string]any, userAgent string) (DeviceCapabilities, error) {
	platform := detectPlatform(hints, userAgent)

	var caps DeviceCapabilities
	switch platform {
	case PlatformAlexa:
		caps = detectAlexa(hints)
	case PlatformGoogle:
		caps = detectGoogle(hints)
	case PlatformApple:
		caps = detectApple(hints)
	case PlatformWeb:
		caps = detectWeb(hints)
	case PlatformMobile:
		caps = detectMobile(hints)
	default:
		caps = safeDefaults()
	}
	caps.Platform = platform

	if caps.AudioChannels == "" {
		caps.AudioChannels = AudioStereo
	}
	if caps.NetworkSpeed == "" {
		caps.NetworkSpeed = NetworkMedium
	}
	applyAccessibilityHints(&caps, hints)

	if err := validate(caps); err != nil {
		return DeviceCapabilities{}, err
	}
	return caps, nil
}

// detectPlatform applies the precedence: explicit field, Alexa-shaped
// context, then user-agent substrings.
func detectPlatform(hints map[string]any, userAgent string) Platform {
	if p, ok := hints["platform"].(string); ok && p != "" {
		switch Platform(strings.ToLower(p)) {
		case PlatformAlexa, PlatformGoogle, PlatformApple, PlatformWeb, PlatformMobile, PlatformIoT:
			return Platform(strings.ToLower(p))
		}
	}

	if _, ok := hints["System.device"]; ok {
		return PlatformAlexa
	}
	if ctxMap, ok := hints["context"].(map[string]any); ok {
		if _, ok := ctxMap["System"]; ok {
			return PlatformAlexa
		}
	}

	ua := strings.ToLower(userAgent)
	switch {
	case strings.Contains(ua, "alexa"):
		return PlatformAlexa
	case strings.Contains(ua, "google"):
		return PlatformGoogle
	case strings.Contains(ua, "iphone"), strings.Contains(ua, "ipad"), strings.Contains(ua, "macintosh"):
		return PlatformApple
	case strings.Contains(ua, "android"), strings.Contains(ua, "mobile"):
		return PlatformMobile
	case strings.Contains(ua, "mozilla"):
		return PlatformWeb
	}
	return PlatformUnknown
}

// supportedInterfaces extracts Alexa's interface map from either hint shape.
func supportedInterfaces(hints map[string]any) map[string]any {
	paths := []any{hints["System.device"], hints["context"]}
	for _, p := range paths {
		node, ok := p.(map[string]any)
		if !ok {
			continue
		}
		if sys, ok := node["System"].(map[string]any); ok {
			node = sys
		}
		if dev, ok := node["device"].(map[string]any); ok {
			node = dev
		}
		if ifaces, ok := node["supportedInterfaces"].(map[string]any); ok {
			return ifaces
		}
	}
	return nil
}

func detectAlexa(hints map[string]any) DeviceCapabilities {
	ifaces := supportedInterfaces(hints)
	_, display := ifaces["Display"]
	_, apl := ifaces["Alexa.Presentation.APL"]
	hasScreen := display || apl

	caps := DeviceCapabilities{
		HasScreen:           hasScreen,
		HasAudio:            true,
		HasTouch:            hasScreen,
		SupportsSSML:        true,
		SupportsSoundEffect: true,
		AudioChannels:       AudioMono,
		DeviceType:          DeviceSmartSpeaker,
	}
	if hasScreen {
		caps.DeviceType = DeviceSmartDisplay
		caps.ScreenSize = ScreenSmall
		caps.SupportsAnimation = true
	}
	return caps
}

func detectGoogle(hints map[string]any) DeviceCapabilities {
	hasScreen := false
	if caps, ok := hints["capabilities"].([]any); ok {
		for _, c := range caps {
			if s, ok := c.(string); ok && s == "SCREEN_OUTPUT" {
				hasScreen = true
			}
		}
	}
	caps := DeviceCapabilities{
		HasScreen:           hasScreen,
		HasAudio:            true,
		HasTouch:            hasScreen,
		SupportsSSML:        true,
		SupportsSoundEffect: true,
		AudioChannels:       AudioMono,
		DeviceType:          DeviceSmartSpeaker,
	}
	if hasScreen {
		caps.DeviceType = DeviceSmartDisplay
		caps.ScreenSize = ScreenSmall
		caps.SupportsAnimation = true
	}
	return caps
}

func detectApple(hints map[string]any) DeviceCapabilities {
	hasScreen := boolHint(hints, "hasScreen", true)
	return DeviceCapabilities{
		HasScreen:         hasScreen,
		HasAudio:          true,
		HasTouch:          hasScreen,
		SupportsSSML:      false,
		HasHaptics:        hasScreen,
		SupportsAR:        hasScreen,
		SupportsVideo:     hasScreen,
		SupportsAnimation: hasScreen,
		ScreenSize:        ScreenMedium,
		DeviceType:        DevicePhone,
	}
}

func detectWeb(hints map[string]any) DeviceCapabilities {
	caps := DeviceCapabilities{
		HasScreen:         true,
		HasAudio:          true,
		HasKeyboard:       true,
		SupportsVideo:     true,
		SupportsAnimation: true,
		ScreenSize:        ScreenMedium,
		DeviceType:        DeviceComputer,
	}
	if width, ok := numberHint(hints, "screenWidth"); ok {
		switch {
		case width < 768:
			caps.ScreenSize = ScreenSmall
			caps.DeviceType = DevicePhone
		case width < 1024:
			caps.ScreenSize = ScreenMedium
			caps.DeviceType = DeviceTablet
		case width < 1920:
			caps.ScreenSize = ScreenLarge
		default:
			caps.ScreenSize = ScreenExtraLarge
		}
	}
	return caps
}

func detectMobile(hints map[string]any) DeviceCapabilities {
	return DeviceCapabilities{
		HasScreen:         true,
		HasAudio:          true,
		HasTouch:          true,
		HasCamera:         true,
		HasHaptics:        true,
		SupportsVideo:     true,
		SupportsAnimation: true,
		ScreenSize:        ScreenSmall,
		DeviceType:        DevicePhone,
	}
}

// safeDefaults is the unknown-platform record: screen and keyboard on,
// medium everything.
func safeDefaults() DeviceCapabilities {
	return DeviceCapabilities{
		HasScreen:   true,
		HasAudio:    true,
		HasKeyboard: true,
		ScreenSize:  ScreenMedium,
		DeviceType:  DeviceUnknown,
	}
}

// applyAccessibilityHints copies explicit accessibility flags from the hints.
func applyAccessibilityHints(caps *DeviceCapabilities, hints map[string]any) {
	caps.ScreenReaderActive = boolHint(hints, "screenReaderActive", caps.ScreenReaderActive)
	caps.BrailleDisplayConnected = boolHint(hints, "brailleDisplayConnected", caps.BrailleDisplayConnected)
	caps.SwitchControlActive = boolHint(hints, "switchControlActive", caps.SwitchControlActive)
	caps.VoiceControlActive = boolHint(hints, "voiceControlActive", caps.VoiceControlActive)
}

// validate rejects impossible capability records: no output at all, or no
// input method of any kind.
func validate(caps DeviceCapabilities) error {
	if !caps.HasScreen && !caps.HasAudio {
		return faults.New(faults.KindInternal, "capability record has no output channel")
	}
	if !caps.HasInputMethod() {
		return faults.New(faults.KindInternal, "capability record has no input method")
	}
	return nil
}

// MergePreferences overlays the user's saved accessibility preferences onto
// the detected record. Preferences only ever enable support, never disable.
func MergePreferences(caps DeviceCapabilities, profile map[string]any) DeviceCapabilities {
	prefs, ok := profile["accessibility"].(map[string]any)
	if !ok {
		return caps
	}
	caps.VisuallyImpaired = boolHint(prefs, "visuallyImpaired", caps.VisuallyImpaired)
	caps.HearingImpaired = boolHint(prefs, "hearingImpaired", caps.HearingImpaired)
	caps.MotorImpaired = boolHint(prefs, "motorImpaired", caps.MotorImpaired)
	caps.CognitiveSupport = boolHint(prefs, "cognitiveSupport", caps.CognitiveSupport)
	caps.PrefersReducedMotion = boolHint(prefs, "reducedMotion", caps.PrefersReducedMotion)
	caps.PrefersHighContrast = boolHint(prefs, "highContrast", caps.PrefersHighContrast)
	caps.PrefersLargeText = boolHint(prefs, "largeText", caps.PrefersLargeText)
	caps.PrefersSimplifiedUI = boolHint(prefs, "simplifiedUI", caps.PrefersSimplifiedUI)
	return caps
}

func boolHint(hints map[string]any, key string, fallback bool) bool {
	if v, ok := hints[key].(bool); ok {
		return v
	}
	return fallback
}

func numberHint(hints map[string]any, key string) (float64, bool) {
	switch v := hints[key].(type) {
	case float64:
		return v, true
	case int:
		return float64(v), true
	}
	return 0, false
}
