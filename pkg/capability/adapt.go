package capability

// Response is the logical turn response before modality adaptation.
type Response struct {
	Text         string   `json:"text"`
	Speech       string   `json:"speech,omitempty"`
	Visuals      []Visual `json:"visuals,omitempty"`
	Choices      []Choice `json:"choices,omitempty"`
	SoundEffects []string `json:"sound_effects,omitempty"`
}

// Visual is one renderable element.
type Visual struct {
	Kind    string `json:"kind"` // image, animation, avatar
	URL     string `json:"url,omitempty"`
	AltText string `json:"alt_text,omitempty"`
}

// Choice is one option offered to the child.
type Choice struct {
	ID    string `json:"id"`
	Label string `json:"label"`
}

// AdaptedResponse is the device-shaped response. The adaptor is pure: it
// only transforms, never performs I/O.
type AdaptedResponse struct {
	Text   string `json:"text"`
	Speech string `json:"speech,omitempty"`
	SSML   string `json:"ssml,omitempty"`

	Visuals      []Visual `json:"visuals,omitempty"`
	AvatarMode   string   `json:"avatar_mode,omitempty"` // live, static, off
	Captions     bool     `json:"captions"`
	CaptionStyle string   `json:"caption_style,omitempty"`

	Choices           []Choice `json:"choices,omitempty"`
	VoiceNavigation   []string `json:"voice_navigation,omitempty"`
	LargeTargets      bool     `json:"large_targets,omitempty"`
	VoiceCommandHints bool     `json:"voice_command_hints,omitempty"`

	SoundEffects      []string `json:"sound_effects,omitempty"`
	AudioDescriptions []string `json:"audio_descriptions,omitempty"`
	HapticCues        bool     `json:"haptic_cues,omitempty"`

	SimplifiedLanguage bool   `json:"simplified_language,omitempty"`
	VisualComplexity   string `json:"visual_complexity,omitempty"` // full, reduced
	ScreenSize         string `json:"screen_size,omitempty"`
}

// AdaptResponse shapes a logical response to the device, by precedence:
// audio-first for screen-reader users, voice-only for screenless devices,
// full visual otherwise, then the accessibility overlays.
func AdaptResponse(base Response, caps DeviceCapabilities) AdaptedResponse {
	var out AdaptedResponse

	switch {
	case caps.ScreenReaderActive || caps.VisuallyImpaired:
		out = adaptAudioFirst(base, caps)
	case !caps.HasScreen:
		out = adaptVoiceOnly(base, caps)
	default:
		out = adaptVisual(base, caps)
	}

	applyOverlays(&out, caps)
	return out
}

// adaptAudioFirst keeps visuals but leads with audio: descriptions for every
// visual, alt text guaranteed, avatar pinned to static.
func adaptAudioFirst(base Response, caps DeviceCapabilities) AdaptedResponse {
	out := AdaptedResponse{
		Text:    base.Text,
		Speech:  speechOf(base),
		Choices: base.Choices,
	}
	for _, v := range base.Visuals {
		if v.AltText == "" {
			v.AltText = describeVisual(v)
		}
		out.Visuals = append(out.Visuals, v)
		out.AudioDescriptions = append(out.AudioDescriptions, v.AltText)
	}
	out.AvatarMode = "static"
	out.HapticCues = caps.HasHaptics
	return out
}

// adaptVoiceOnly strips visuals entirely and narrates the choices.
func adaptVoiceOnly(base Response, caps DeviceCapabilities) AdaptedResponse {
	out := AdaptedResponse{
		Text:    base.Text,
		Speech:  speechOf(base),
		Choices: base.Choices,
	}
	if caps.SupportsSSML {
		out.SSML = "<speak>" + speechOf(base) + "</speak>"
	}
	for _, choice := range base.Choices {
		out.VoiceNavigation = append(out.VoiceNavigation, "Say \""+choice.Label+"\"")
	}
	if caps.SupportsSoundEffect {
		out.SoundEffects = base.SoundEffects
	}
	out.AvatarMode = "off"
	return out
}

// adaptVisual renders the full visual experience scaled to the screen.
func adaptVisual(base Response, caps DeviceCapabilities) AdaptedResponse {
	out := AdaptedResponse{
		Text:         base.Text,
		Speech:       speechOf(base),
		Visuals:      base.Visuals,
		Choices:      base.Choices,
		SoundEffects: base.SoundEffects,
		ScreenSize:   string(caps.ScreenSize),
	}
	if caps.SupportsVideo && caps.SupportsAnimation && !caps.PrefersReducedMotion {
		out.AvatarMode = "live"
	} else {
		out.AvatarMode = "static"
	}
	out.VisualComplexity = "full"
	return out
}

// applyOverlays layers the accessibility adjustments on top of the base
// adaptation.
func applyOverlays(out *AdaptedResponse, caps DeviceCapabilities) {
	if caps.HearingImpaired {
		out.Captions = true
		out.CaptionStyle = "detailed"
		out.VisualComplexity = "full"
	}
	if caps.MotorImpaired || caps.SwitchControlActive {
		out.LargeTargets = true
		out.VoiceCommandHints = true
	}
	if caps.CognitiveSupport || caps.PrefersSimplifiedUI {
		if len(out.Choices) > 3 {
			out.Choices = out.Choices[:3]
		}
		out.SimplifiedLanguage = true
		out.VisualComplexity = "reduced"
	}
}

func speechOf(base Response) string {
	if base.Speech != "" {
		return base.Speech
	}
	return base.Text
}

func describeVisual(v Visual) string {
	switch v.Kind {
	case "animation":
		return "An animated scene from the story"
	case "avatar":
		return "Your story guide"
	default:
		return "A picture from the story"
	}
}
