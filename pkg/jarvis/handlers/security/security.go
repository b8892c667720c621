// Package security implements the security domain: locking and unlocking
// the system behind a PIN, and toggling privacy mode.
package security

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"sync"
	"unicode"

	"golang.org/x/crypto/bcrypt"

	"github.com/jholhewres/jarvis/pkg/jarvis/dispatch"
	"github.com/jholhewres/jarvis/pkg/jarvis/memory"
	"github.com/jholhewres/jarvis/pkg/jarvis/secrets"
)

// PrefPrivacyMode is the preference key holding "on" or "off".
const PrefPrivacyMode = "privacy_mode"

// DefaultPINMinLength is the shortest accepted PIN.
const DefaultPINMinLength = 4

// pinMask replaces PINs in commands that are persisted.
const pinMask = "****"

var (
	// ErrUnrecognized is returned for commands without a security intent.
	ErrUnrecognized = errors.New("unrecognized security command")

	// ErrNoPIN is returned by VerifyPIN when no PIN has been set.
	ErrNoPIN = errors.New("no PIN has been set")
)

var (
	setPINRe    = regexp.MustCompile(`(?i)\b(?:set|change|update)\s+(?:my\s+|the\s+)?(?:pin|passcode|password)\s+(?:to\s+)?(\S+)$`)
	verifyPINRe = regexp.MustCompile(`(?i)\b(?:verify|check)\s+(?:my\s+|the\s+)?(?:pin|passcode|password)\s+(\S+)$`)
	unlockRe    = regexp.MustCompile(`(?i)\bunlock\b(?:\s+(?:the\s+|my\s+)?(?:system|computer|pc|screen|workstation))?(?:\s+(?:with|using))?(?:\s+(?:my\s+)?(?:pin|passcode|password))?(?:\s+(\d+)\b)?`)
	lockRe      = regexp.MustCompile(`(?i)\block\b(?:\s+(?:the\s+)?(?:system|computer|screen|workstation))?`)
	privacyOnRe = regexp.MustCompile(`(?i)\b(?:(?:enable|turn\s+on|activate|start)\s+privacy(?:\s+mode)?|privacy\s+mode\s+on)\b`)
	privacyOff  = regexp.MustCompile(`(?i)\b(?:(?:disable|turn\s+off|deactivate|stop)\s+privacy(?:\s+mode)?|privacy\s+mode\s+off)\b`)
	statusRe    = regexp.MustCompile(`(?i)\b(?:security|lock)\s+status\b|\bam\s+i\s+locked\b`)
)

// Locker performs the OS-level lock.
type Locker interface {
	ExecuteCommand(ctx context.Context, command string) (string, error)
}

// Config tunes the security handler.
type Config struct {
	PINMinLength int
	// BcryptCost defaults to bcrypt.DefaultCost.
	BcryptCost int
}

// Handler answers the security domain.
type Handler struct {
	cfg     Config
	secrets secrets.Store
	store   memory.Store
	locker  Locker
	logger  *slog.Logger

	mu     sync.Mutex
	locked bool
}

// New creates a security handler. secretStore holds the PIN hash; store
// holds the privacy preference. locker may be nil.
func New(cfg Config, secretStore secrets.Store, store memory.Store, locker Locker, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.PINMinLength <= 0 {
		cfg.PINMinLength = DefaultPINMinLength
	}
	if cfg.BcryptCost == 0 {
		cfg.BcryptCost = bcrypt.DefaultCost
	}
	return &Handler{
		cfg:     cfg,
		secrets: secretStore,
		store:   store,
		locker:  locker,
		logger:  logger.With("component", "security"),
	}
}

// Operations implements dispatch.Operator.
func (h *Handler) Operations() []string {
	return []string{dispatch.OpHandleSecurity}
}

// Handle implements dispatch.Handler.
func (h *Handler) Handle(ctx context.Context, command string) (string, error) {
	return h.HandleSecurity(ctx, command)
}

// HandleSecurity interprets command.
func (h *Handler) HandleSecurity(ctx context.Context, command string) (string, error) {
	text := strings.TrimSpace(command)

	switch {
	case setPINRe.MatchString(text):
		return h.setPIN(setPINRe.FindStringSubmatch(text)[1]), nil
	case verifyPINRe.MatchString(text):
		return h.verifyReply(verifyPINRe.FindStringSubmatch(text)[1]), nil
	case statusRe.MatchString(text):
		return h.status(ctx), nil
	case unlockRe.MatchString(text):
		return h.unlock(unlockRe.FindStringSubmatch(text)[1]), nil
	case lockRe.MatchString(text):
		return h.lock(ctx)
	case privacyOnRe.MatchString(text):
		return h.setPrivacy(ctx, true)
	case privacyOff.MatchString(text):
		return h.setPrivacy(ctx, false)
	}
	return "", fmt.Errorf("%w: %q", ErrUnrecognized, command)
}

// Redact masks every PIN that command carries for the set, verify or
// unlock intents, so the text can be logged and stored.
func (h *Handler) Redact(command string) string {
	text := strings.TrimSpace(command)
	for _, re := range []*regexp.Regexp{setPINRe, verifyPINRe, unlockRe} {
		text = maskGroups(re, text)
	}
	return text
}

func maskGroups(re *regexp.Regexp, s string) string {
	m := re.FindStringSubmatchIndex(s)
	if m == nil {
		return s
	}
	var b strings.Builder
	last := 0
	for i := 2; i+1 < len(m); i += 2 {
		if m[i] < 0 || m[i] == m[i+1] {
			continue
		}
		b.WriteString(s[last:m[i]])
		b.WriteString(pinMask)
		last = m[i+1]
	}
	b.WriteString(s[last:])
	return b.String()
}

// VerifyPIN checks pin against the stored hash.
func (h *Handler) VerifyPIN(pin string) (bool, error) {
	if h.secrets == nil {
		return false, ErrNoPIN
	}
	hash, err := h.secrets.Get(secrets.KeyPINHash)
	if errors.Is(err, secrets.ErrNotFound) {
		return false, ErrNoPIN
	}
	if err != nil {
		return false, fmt.Errorf("reading PIN hash: %w", err)
	}
	err = bcrypt.CompareHashAndPassword([]byte(hash), []byte(pin))
	if errors.Is(err, bcrypt.ErrMismatchedHashAndPassword) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// SetPIN validates and stores pin.
func (h *Handler) SetPIN(pin string) error {
	if err := h.validPIN(pin); err != nil {
		return err
	}
	if h.secrets == nil {
		return errors.New("no secret store configured")
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(pin), h.cfg.BcryptCost)
	if err != nil {
		return fmt.Errorf("hashing PIN: %w", err)
	}
	if err := h.secrets.Set(secrets.KeyPINHash, string(hash)); err != nil {
		return fmt.Errorf("storing PIN: %w", err)
	}
	h.logger.Info("PIN updated")
	return nil
}

// Locked reports whether the assistant considers the system locked.
func (h *Handler) Locked() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.locked
}

// PrivacyMode reports whether privacy mode is on.
func (h *Handler) PrivacyMode(ctx context.Context) bool {
	if h.store == nil {
		return false
	}
	v, err := h.store.GetPreference(ctx, PrefPrivacyMode)
	return err == nil && v == "on"
}

func (h *Handler) validPIN(pin string) error {
	if len(pin) < h.cfg.PINMinLength {
		return fmt.Errorf("a PIN must be at least %d digits", h.cfg.PINMinLength)
	}
	for _, r := range pin {
		if !unicode.IsDigit(r) {
			return errors.New("a PIN may only contain digits")
		}
	}
	return nil
}

func (h *Handler) setPIN(pin string) string {
	if err := h.SetPIN(pin); err != nil {
		h.logger.Warn("PIN rejected", "error", err)
		return "I couldn't set your PIN: " + err.Error() + "."
	}
	return "Your PIN has been set."
}

func (h *Handler) verifyReply(pin string) string {
	ok, err := h.VerifyPIN(pin)
	switch {
	case errors.Is(err, ErrNoPIN):
		return "No PIN has been set."
	case err != nil:
		h.logger.Error("PIN verification failed", "error", err)
		return "I couldn't verify your PIN right now."
	case ok:
		return "PIN verified."
	}
	return "Incorrect PIN."
}

func (h *Handler) lock(ctx context.Context) (string, error) {
	if h.locker != nil {
		if _, err := h.locker.ExecuteCommand(ctx, "lock the system"); err != nil {
			return "", err
		}
	}
	h.mu.Lock()
	h.locked = true
	h.mu.Unlock()
	h.logger.Info("system locked")
	return "System locked.", nil
}

func (h *Handler) unlock(pin string) string {
	if !h.Locked() {
		return "The system is not locked."
	}
	ok, err := h.VerifyPIN(pin)
	switch {
	case errors.Is(err, ErrNoPIN):
		// No PIN configured: unlocking is unconditional.
	case err != nil:
		h.logger.Error("PIN verification failed", "error", err)
		return "I couldn't verify your PIN right now."
	case pin == "":
		return "Please provide your PIN to unlock."
	case !ok:
		h.logger.Warn("unlock attempt with wrong PIN")
		return "Incorrect PIN."
	}

	h.mu.Lock()
	h.locked = false
	h.mu.Unlock()
	h.logger.Info("system unlocked")
	return "System unlocked."
}

func (h *Handler) setPrivacy(ctx context.Context, on bool) (string, error) {
	if h.store == nil {
		return "Privacy mode is not available.", nil
	}
	value, reply := "off", "Privacy mode disabled."
	if on {
		value, reply = "on", "Privacy mode enabled. I won't keep a log of our conversation."
	}
	if err := h.store.SetPreference(ctx, PrefPrivacyMode, value); err != nil {
		return "", fmt.Errorf("saving privacy mode: %w", err)
	}
	h.logger.Info("privacy mode changed", "on", on)
	return reply, nil
}

func (h *Handler) status(ctx context.Context) string {
	state := "unlocked"
	if h.Locked() {
		state = "locked"
	}
	privacy := "off"
	if h.PrivacyMode(ctx) {
		privacy = "on"
	}
	pin := "not set"
	if _, err := h.VerifyPIN(""); !errors.Is(err, ErrNoPIN) {
		pin = "set"
	}
	return fmt.Sprintf("The system is %s. Privacy mode is %s. A PIN is %s.", state, privacy, pin)
}
