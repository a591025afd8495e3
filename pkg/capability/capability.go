// Package capability detects what the requesting device can render and
// adapts logical responses to it.
package capability

// Platform is the originating ecosystem of a request.
type Platform string

const (
	PlatformAlexa   Platform = "alexa"
	PlatformGoogle  Platform = "google"
	PlatformApple   Platform = "apple"
	PlatformWeb     Platform = "web"
	PlatformMobile  Platform = "mobile"
	PlatformIoT     Platform = "iot"
	PlatformUnknown Platform = "unknown"
)

// DeviceType is the detected hardware class.
type DeviceType string

const (
	DeviceSmartSpeaker DeviceType = "smart-speaker"
	DeviceSmartDisplay DeviceType = "smart-display"
	DevicePhone        DeviceType = "phone"
	DeviceTablet       DeviceType = "tablet"
	DeviceComputer     DeviceType = "computer"
	DeviceWearable     DeviceType = "wearable"
	DeviceUnknown      DeviceType = "unknown"
)

// ScreenSize buckets the display estate.
type ScreenSize string

const (
	ScreenSmall      ScreenSize = "small"
	ScreenMedium     ScreenSize = "medium"
	ScreenLarge      ScreenSize = "large"
	ScreenExtraLarge ScreenSize = "extra-large"
)

// AudioChannels describes the audio output layout.
type AudioChannels string

const (
	AudioMono     AudioChannels = "mono"
	AudioStereo   AudioChannels = "stereo"
	AudioSurround AudioChannels = "surround"
)

// NetworkSpeed buckets the link quality.
type NetworkSpeed string

const (
	NetworkSlow   NetworkSpeed = "slow"
	NetworkMedium NetworkSpeed = "medium"
	NetworkFast   NetworkSpeed = "fast"
)

// DeviceCapabilities is the full capability record a turn is adapted
// against.
type DeviceCapabilities struct {
	HasScreen   bool `json:"has_screen"`
	HasAudio    bool `json:"has_audio"`
	HasTouch    bool `json:"has_touch"`
	HasKeyboard bool `json:"has_keyboard"`
	HasCamera   bool `json:"has_camera"`

	ScreenSize       ScreenSize `json:"screen_size,omitempty"`
	ScreenResolution string     `json:"screen_resolution,omitempty"`

	SupportsVideo     bool `json:"supports_video"`
	SupportsAnimation bool `json:"supports_animation"`

	AudioChannels       AudioChannels `json:"audio_channels"`
	SupportsSSML        bool          `json:"supports_ssml"`
	SupportsSoundEffect bool          `json:"supports_sound_effects"`

	VisuallyImpaired bool `json:"visually_impaired"`
	HearingImpaired  bool `json:"hearing_impaired"`
	MotorImpaired    bool `json:"motor_impaired"`
	CognitiveSupport bool `json:"cognitive_support"`

	ScreenReaderActive      bool `json:"screen_reader_active"`
	BrailleDisplayConnected bool `json:"braille_display_connected"`
	SwitchControlActive     bool `json:"switch_control_active"`
	VoiceControlActive      bool `json:"voice_control_active"`

	HasHaptics bool `json:"has_haptics"`
	SupportsAR bool `json:"supports_ar"`
	SupportsVR bool `json:"supports_vr"`
	Supports3D bool `json:"supports_3d"`

	Platform   Platform   `json:"platform"`
	DeviceType DeviceType `json:"device_type"`

	NetworkSpeed NetworkSpeed `json:"network_speed"`

	PrefersReducedMotion bool `json:"prefers_reduced_motion"`
	PrefersHighContrast  bool `json:"prefers_high_contrast"`
	PrefersLargeText     bool `json:"prefers_large_text"`
	PrefersSimplifiedUI  bool `json:"prefers_simplified_ui"`
}

// HasInputMethod reports whether any input path exists.
func (c DeviceCapabilities) HasInputMethod() bool {
	return c.HasTouch || c.HasKeyboard || c.HasAudio ||
		c.VoiceControlActive || c.SwitchControlActive
}
