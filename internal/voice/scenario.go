package voice

import (
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/lexiqai/voice-relay/internal/audio"
	"gopkg.in/yaml.v3"
)

// Scenario describes one scripted probe run against a relay
type Scenario struct {
	RelayURL  string `yaml:"relay_url"`
	InputWAV  string `yaml:"input_wav"`
	OutputWAV string `yaml:"output_wav"`

	// Tick is the analysis window length; each tick feeds one window.
	Tick          time.Duration `yaml:"tick"`
	ChunkInterval time.Duration `yaml:"chunk_interval"`

	VADThreshold float64       `yaml:"vad_threshold"`
	VADHangover  time.Duration `yaml:"vad_hangover"`

	// Realtime paces capture and playback at wall-clock speed.
	Realtime        bool          `yaml:"realtime"`
	TrailingSilence time.Duration `yaml:"trailing_silence"`
	MaxWait         time.Duration `yaml:"max_wait"`
}

// LoadScenario reads and validates a YAML scenario file
func LoadScenario(path string) (*Scenario, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("scenario: open %q: %w", path, err)
	}
	defer f.Close()

	sc, err := ParseScenario(f)
	if err != nil {
		return nil, fmt.Errorf("scenario: parse %q: %w", path, err)
	}
	return sc, nil
}

// ParseScenario decodes a scenario, applies defaults and validates it
func ParseScenario(r io.Reader) (*Scenario, error) {
	sc := &Scenario{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(sc); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("scenario: decode yaml: %w", err)
	}
	sc.setDefaults()
	if err := sc.Validate(); err != nil {
		return nil, err
	}
	return sc, nil
}

func (sc *Scenario) setDefaults() {
	vad := audio.DefaultVADConfig()
	if sc.RelayURL == "" {
		sc.RelayURL = "ws://localhost:8080/"
	}
	if sc.Tick == 0 {
		sc.Tick = 50 * time.Millisecond
	}
	if sc.ChunkInterval == 0 {
		sc.ChunkInterval = 250 * time.Millisecond
	}
	if sc.VADThreshold == 0 {
		sc.VADThreshold = vad.Threshold
	}
	if sc.VADHangover == 0 {
		sc.VADHangover = vad.Hangover
	}
	if sc.TrailingSilence == 0 {
		// Enough silence for the hangover to elapse.
		sc.TrailingSilence = sc.VADHangover + time.Second
	}
	if sc.MaxWait == 0 {
		sc.MaxWait = 60 * time.Second
	}
}

// Validate returns a joined error listing every invalid field
func (sc *Scenario) Validate() error {
	var errs []error
	if sc.InputWAV == "" {
		errs = append(errs, errors.New("input_wav is required"))
	}
	if sc.Tick < 0 {
		errs = append(errs, fmt.Errorf("tick %s must be positive", sc.Tick))
	}
	if sc.ChunkInterval < 0 {
		errs = append(errs, fmt.Errorf("chunk_interval %s must be positive", sc.ChunkInterval))
	}
	if sc.VADThreshold < 0 || sc.VADThreshold > 1 {
		errs = append(errs, fmt.Errorf("vad_threshold %.3f is out of range [0, 1]", sc.VADThreshold))
	}
	if sc.VADHangover < 0 {
		errs = append(errs, fmt.Errorf("vad_hangover %s must be positive", sc.VADHangover))
	}
	if sc.TrailingSilence < sc.VADHangover {
		errs = append(errs, fmt.Errorf("trailing_silence %s is shorter than vad_hangover %s", sc.TrailingSilence, sc.VADHangover))
	}
	if sc.MaxWait < 0 {
		errs = append(errs, fmt.Errorf("max_wait %s must be positive", sc.MaxWait))
	}
	return errors.Join(errs...)
}

// SessionConfig returns the session settings for a capture at rate
func (sc *Scenario) SessionConfig(rate int) SessionConfig {
	return SessionConfig{
		CaptureRate:   rate,
		ChunkInterval: sc.ChunkInterval,
		VAD: &audio.VADConfig{
			Threshold: sc.VADThreshold,
			Hangover:  sc.VADHangover,
		},
	}
}
