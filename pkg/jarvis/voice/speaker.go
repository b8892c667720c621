// Package voice provides the speech side channel of the assistant: a
// Speaker that vocalizes replies through a local TTS engine, the mutable
// voice settings it reads, and the wake-word Listener loop.
//
// Every Speak call is best-effort. Callers log failures and carry on.
package voice

import (
	"context"
	"fmt"
	"log/slog"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"
)

// Speaker vocalizes text.
type Speaker interface {
	Speak(ctx context.Context, text string) error
}

// Nop is a Speaker that does nothing.
type Nop struct{}

// Speak implements Speaker.
func (Nop) Speak(context.Context, string) error { return nil }

// SpeakBestEffort calls s.Speak when s is non-nil and logs failures. A
// panicking speaker is recovered and logged like an error.
func SpeakBestEffort(ctx context.Context, s Speaker, text string, logger *slog.Logger) {
	if s == nil || strings.TrimSpace(text) == "" {
		return
	}
	defer func() {
		if r := recover(); r != nil && logger != nil {
			logger.Error("speaker panicked", "panic", r)
		}
	}()
	if err := s.Speak(ctx, text); err != nil && logger != nil {
		logger.Debug("speak failed", "error", err)
	}
}

// Gender selects the voice variant.
type Gender string

const (
	Female Gender = "female"
	Male   Gender = "male"
)

// Settings are the adjustable speech parameters. Safe for concurrent use.
type Settings struct {
	mu        sync.RWMutex
	rate      int     // words per minute
	volume    float64 // 0..1
	gender    Gender
	listening bool
}

// Rate and volume bounds and steps.
const (
	DefaultRate   = 175
	MinRate       = 80
	MaxRate       = 400
	RateStep      = 25
	DefaultVolume = 0.8
	VolumeStep    = 0.1
)

// NewSettings returns settings with the given rate/volume/gender; zero
// values fall back to defaults. Listening starts enabled.
func NewSettings(rate int, volume float64, gender Gender) *Settings {
	if rate <= 0 {
		rate = DefaultRate
	}
	if volume <= 0 || volume > 1 {
		volume = DefaultVolume
	}
	if gender == "" {
		gender = Female
	}
	return &Settings{rate: rate, volume: volume, gender: gender, listening: true}
}

// Snapshot is a copy of the settings at one point in time.
type Snapshot struct {
	Rate      int     `json:"rate"`
	Volume    float64 `json:"volume"`
	Gender    Gender  `json:"gender"`
	Listening bool    `json:"listening"`
}

// Snapshot returns the current settings.
func (s *Settings) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return Snapshot{Rate: s.rate, Volume: s.volume, Gender: s.gender, Listening: s.listening}
}

// AdjustRate changes the rate by delta within bounds and returns the result.
func (s *Settings) AdjustRate(delta int) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rate = clampInt(s.rate+delta, MinRate, MaxRate)
	return s.rate
}

// AdjustVolume changes the volume by delta within [0.1, 1].
func (s *Settings) AdjustVolume(delta float64) float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	v := s.volume + delta
	if v < 0.1 {
		v = 0.1
	}
	if v > 1 {
		v = 1
	}
	// Avoid float drift accumulating across many steps.
	s.volume = float64(int(v*100+0.5)) / 100
	return s.volume
}

// SetGender switches the voice variant.
func (s *Settings) SetGender(g Gender) {
	s.mu.Lock()
	s.gender = g
	s.mu.Unlock()
}

// SetListening toggles the listener.
func (s *Settings) SetListening(on bool) {
	s.mu.Lock()
	s.listening = on
	s.mu.Unlock()
}

// Listening reports whether the listener accepts commands.
func (s *Settings) Listening() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.listening
}

func clampInt(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// CommandSpeaker drives a local TTS binary (espeak, espeak-ng or macOS say).
type CommandSpeaker struct {
	engine   string
	settings *Settings
	timeout  time.Duration
	logger   *slog.Logger

	// mu serializes utterances so replies don't talk over each other.
	mu sync.Mutex
}

// NewCommandSpeaker creates a speaker for the given engine binary.
func NewCommandSpeaker(engine string, settings *Settings, logger *slog.Logger) *CommandSpeaker {
	if logger == nil {
		logger = slog.Default()
	}
	if settings == nil {
		settings = NewSettings(0, 0, "")
	}
	if engine == "" {
		engine = "espeak"
	}
	return &CommandSpeaker{
		engine:   engine,
		settings: settings,
		timeout:  60 * time.Second,
		logger:   logger.With("component", "voice"),
	}
}

// Speak implements Speaker.
func (c *CommandSpeaker) Speak(ctx context.Context, text string) error {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	args := c.Args(text)
	cmd := exec.CommandContext(ctx, c.engine, args...)
	if out, err := cmd.CombinedOutput(); err != nil {
		return fmt.Errorf("%s: %w: %s", c.engine, err, strings.TrimSpace(string(out)))
	}
	return nil
}

// Args builds the engine command line for text using current settings.
func (c *CommandSpeaker) Args(text string) []string {
	snap := c.settings.Snapshot()
	switch filepath.Base(c.engine) {
	case "say":
		args := []string{"-r", strconv.Itoa(snap.Rate)}
		if snap.Gender == Male {
			args = append(args, "-v", "Alex")
		} else {
			args = append(args, "-v", "Samantha")
		}
		return append(args, text)
	default:
		// espeak amplitude is 0..200.
		voiceName := "en+f3"
		if snap.Gender == Male {
			voiceName = "en+m3"
		}
		return []string{
			"-s", strconv.Itoa(snap.Rate),
			"-a", strconv.Itoa(int(snap.Volume * 200)),
			"-v", voiceName,
			text,
		}
	}
}
