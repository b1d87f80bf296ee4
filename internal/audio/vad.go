package audio

import (
	"time"
)

// VADEvent is the boundary reported by a single detector tick.
type VADEvent int

const (
	VADNone VADEvent = iota
	VADSpeechStart
	VADSpeechEnd
)

func (e VADEvent) String() string {
	switch e {
	case VADSpeechStart:
		return "speech_start"
	case VADSpeechEnd:
		return "speech_end"
	default:
		return "none"
	}
}

// VADConfig holds configuration for Voice Activity Detection
type VADConfig struct {
	Threshold float64       // RMS threshold on the [-1, 1] normalized scale
	Hangover  time.Duration // Continuous silence required before speech ends
}

// DefaultVADConfig returns a default VAD configuration
func DefaultVADConfig() *VADConfig {
	return &VADConfig{
		Threshold: 0.05,
		Hangover:  3000 * time.Millisecond,
	}
}

// Detector performs threshold + hangover voice activity detection over a
// stream of analysis windows. It is driven by the caller's tick and is not
// safe for concurrent use.
type Detector struct {
	config          VADConfig
	isSpeaking      bool
	silenceDeadline time.Time
	suppressed      bool
}

// NewDetector creates a new VAD detector
func NewDetector(config *VADConfig) *Detector {
	if config == nil {
		config = DefaultVADConfig()
	}
	return &Detector{config: *config}
}

// Process analyses one window at time now.
//
// An above-threshold window starts speech (or pushes the silence deadline out
// while already speaking). Speech ends on the first tick at or after the
// deadline; the end event fires once and the deadline is cleared.
func (d *Detector) Process(now time.Time, window []float32) VADEvent {
	aboveThreshold := !d.suppressed && CalculateRMS(window) > d.config.Threshold

	if aboveThreshold {
		d.silenceDeadline = now.Add(d.config.Hangover)
		if !d.isSpeaking {
			d.isSpeaking = true
			return VADSpeechStart
		}
		return VADNone
	}

	if d.isSpeaking && !now.Before(d.silenceDeadline) {
		d.isSpeaking = false
		d.silenceDeadline = time.Time{}
		return VADSpeechEnd
	}

	return VADNone
}

// SetSuppressed makes every window count as silence. Ticks keep running so
// a pending hangover still elapses.
func (d *Detector) SetSuppressed(suppressed bool) {
	d.suppressed = suppressed
}

// Suppressed reports whether input is currently ignored.
func (d *Detector) Suppressed() bool {
	return d.suppressed
}

// Reset resets the VAD detector state
func (d *Detector) Reset() {
	d.isSpeaking = false
	d.silenceDeadline = time.Time{}
}

// IsSpeaking returns whether speech is currently detected
func (d *Detector) IsSpeaking() bool {
	return d.isSpeaking
}

// SilenceDeadline returns the pending speech-end deadline, if any.
func (d *Detector) SilenceDeadline() (time.Time, bool) {
	return d.silenceDeadline, d.isSpeaking
}

// DetectSilence detects if normalized samples represent silence
func DetectSilence(samples []float32, threshold float64) bool {
	return CalculateRMS(samples) <= threshold
}
