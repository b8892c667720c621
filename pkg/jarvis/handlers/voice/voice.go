// Package voice implements the voice domain: adjusting speech rate, volume
// and voice, toggling the listener, and speaking arbitrary text.
package voice

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"strings"

	"github.com/jholhewres/jarvis/pkg/jarvis/dispatch"
	jvoice "github.com/jholhewres/jarvis/pkg/jarvis/voice"
)

// ErrUnrecognized is returned for commands without a voice intent.
var ErrUnrecognized = errors.New("unrecognized voice command")

var (
	louderRe  = regexp.MustCompile(`(?i)\b(?:louder|volume\s+up|increase\s+(?:the\s+)?volume|raise\s+(?:your|the)\s+voice)\b`)
	softerRe  = regexp.MustCompile(`(?i)\b(?:softer|quieter|volume\s+down|decrease\s+(?:the\s+)?volume|lower\s+(?:your|the)\s+voice)\b`)
	fasterRe  = regexp.MustCompile(`(?i)\b(?:faster|speed\s+up)\b`)
	slowerRe  = regexp.MustCompile(`(?i)\b(?:slower|slow\s+down)\b`)
	maleRe    = regexp.MustCompile(`(?i)\b(?:male|man's|masculine)\s+voice\b|\bvoice\s+to\s+male\b`)
	femaleRe  = regexp.MustCompile(`(?i)\b(?:female|woman's|feminine)\s+voice\b|\bvoice\s+to\s+female\b`)
	stopRe    = regexp.MustCompile(`(?i)\bstop\s+listening\b`)
	startRe   = regexp.MustCompile(`(?i)\bstart\s+listening\b`)
	silenceRe = regexp.MustCompile(`(?i)\bstop\s+speaking\b`)
	sayRe     = regexp.MustCompile(`(?i)^(?:say|speak|repeat\s+after\s+me)[:,]?\s+(.+)$`)
	statusRe  = regexp.MustCompile(`(?i)\bvoice\s+(?:settings|status)\b`)
)

// Handler answers the voice domain.
type Handler struct {
	settings *jvoice.Settings
	speaker  jvoice.Speaker
	logger   *slog.Logger
}

// New creates a voice handler over settings. speaker may be nil.
func New(settings *jvoice.Settings, speaker jvoice.Speaker, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	if settings == nil {
		settings = jvoice.NewSettings(0, 0, "")
	}
	return &Handler{settings: settings, speaker: speaker, logger: logger.With("component", "voice-handler")}
}

// Operations implements dispatch.Operator.
func (h *Handler) Operations() []string {
	return []string{dispatch.OpProcessCommand}
}

// Handle implements dispatch.Handler.
func (h *Handler) Handle(ctx context.Context, command string) (string, error) {
	return h.ProcessCommand(ctx, command)
}

// ProcessCommand interprets command.
func (h *Handler) ProcessCommand(ctx context.Context, command string) (string, error) {
	text := strings.TrimSpace(command)

	switch {
	case sayRe.MatchString(text) && !louderRe.MatchString(text) && !softerRe.MatchString(text) &&
		!fasterRe.MatchString(text) && !slowerRe.MatchString(text):
		return h.say(ctx, sayRe.FindStringSubmatch(text)[1]), nil
	case louderRe.MatchString(text):
		v := h.settings.AdjustVolume(jvoice.VolumeStep)
		return fmt.Sprintf("Volume set to %d%%.", int(v*100+0.5)), nil
	case softerRe.MatchString(text):
		v := h.settings.AdjustVolume(-jvoice.VolumeStep)
		return fmt.Sprintf("Volume set to %d%%.", int(v*100+0.5)), nil
	case fasterRe.MatchString(text):
		return fmt.Sprintf("Speech rate set to %d words per minute.", h.settings.AdjustRate(jvoice.RateStep)), nil
	case slowerRe.MatchString(text):
		return fmt.Sprintf("Speech rate set to %d words per minute.", h.settings.AdjustRate(-jvoice.RateStep)), nil
	case femaleRe.MatchString(text):
		h.settings.SetGender(jvoice.Female)
		return "Switched to a female voice.", nil
	case maleRe.MatchString(text):
		h.settings.SetGender(jvoice.Male)
		return "Switched to a male voice.", nil
	case stopRe.MatchString(text):
		h.settings.SetListening(false)
		h.logger.Info("listening paused")
		return "I've stopped listening. Say 'start listening' to resume.", nil
	case startRe.MatchString(text):
		h.settings.SetListening(true)
		h.logger.Info("listening resumed")
		return "I'm listening again.", nil
	case silenceRe.MatchString(text):
		return "Okay, I'll stop speaking.", nil
	case statusRe.MatchString(text):
		s := h.settings.Snapshot()
		listening := "on"
		if !s.Listening {
			listening = "off"
		}
		return fmt.Sprintf("Voice: %s, rate %d words per minute, volume %d%%, listening %s.",
			s.Gender, s.Rate, int(s.Volume*100+0.5), listening), nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnrecognized, command)
}

func (h *Handler) say(ctx context.Context, text string) string {
	text = strings.TrimSpace(text)
	jvoice.SpeakBestEffort(ctx, h.speaker, text, h.logger)
	return text
}
