// Package updater implements the updater domain: checking GitHub for a
// newer release, describing capabilities, and learning new intent patterns
// at runtime.
package updater

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"regexp"
	"sort"
	"strings"

	version "github.com/hashicorp/go-version"

	"github.com/jholhewres/jarvis/pkg/jarvis/bridge"
	"github.com/jholhewres/jarvis/pkg/jarvis/dispatch"
	"github.com/jholhewres/jarvis/pkg/jarvis/intent"
)

// DefaultReleaseURL is the GitHub API endpoint for the latest release.
const DefaultReleaseURL = "https://api.github.com/repos/jholhewres/jarvis/releases/latest"

// ErrUnrecognized is returned for commands without an updater intent.
var ErrUnrecognized = errors.New("unrecognized updater command")

var (
	checkRe   = regexp.MustCompile(`(?i)\b(?:check\s+for\s+updates?|any\s+updates?|update\s+(?:yourself|jarvis)|upgrade(?:\s+yourself)?|new\s+version|latest\s+version)\b`)
	versionRe = regexp.MustCompile(`(?i)\bwhat\s+version\b|\bversion\s+are\s+you\b|\byour\s+version\b`)
	capsRe    = regexp.MustCompile(`(?i)\b(?:capabilities|features|skills|what\s+can\s+you\s+(?:do|learn))\b`)
	learnRe   = regexp.MustCompile(`(?i)^(?:learn|add|teach\s+(?:you\s+)?)\s*(pattern|keyword)\s+(.+?)\s+for\s+(?:the\s+)?(\w+)(?:\s+domain)?$`)
)

// Result is the outcome of an update check.
type Result struct {
	Available      bool   `json:"available"`
	CurrentVersion string `json:"current_version"`
	LatestVersion  string `json:"latest_version"`
	ReleaseURL     string `json:"release_url,omitempty"`
	ReleaseNotes   string `json:"release_notes,omitempty"`
	PublishedAt    string `json:"published_at,omitempty"`
}

type githubRelease struct {
	TagName     string `json:"tag_name"`
	HTMLURL     string `json:"html_url"`
	Body        string `json:"body"`
	PublishedAt string `json:"published_at"`
}

// CapabilitiesFunc lists the patterns of every registered domain.
type CapabilitiesFunc func() map[intent.Domain][]string

// Config tunes the updater handler.
type Config struct {
	ReleaseURL     string
	CurrentVersion string
}

// Handler answers the updater domain.
type Handler struct {
	cfg          Config
	web          *bridge.Web
	classifier   *intent.Classifier
	capabilities CapabilitiesFunc
	logger       *slog.Logger
}

// New creates an updater handler. classifier and capabilities may be nil.
func New(cfg Config, web *bridge.Web, classifier *intent.Classifier, capabilities CapabilitiesFunc, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.ReleaseURL == "" {
		cfg.ReleaseURL = DefaultReleaseURL
	}
	if cfg.CurrentVersion == "" {
		cfg.CurrentVersion = "dev"
	}
	return &Handler{
		cfg:          cfg,
		web:          web,
		classifier:   classifier,
		capabilities: capabilities,
		logger:       logger.With("component", "updater"),
	}
}

// Operations implements dispatch.Operator.
func (h *Handler) Operations() []string {
	return []string{dispatch.OpProcessUpdateRequest}
}

// Handle implements dispatch.Handler.
func (h *Handler) Handle(ctx context.Context, command string) (string, error) {
	return h.ProcessUpdateRequest(ctx, command)
}

// ProcessUpdateRequest interprets command.
func (h *Handler) ProcessUpdateRequest(ctx context.Context, command string) (string, error) {
	text := strings.TrimSpace(command)

	switch {
	case learnRe.MatchString(text):
		m := learnRe.FindStringSubmatch(text)
		return h.learn(strings.ToLower(m[1]), strings.Trim(m[2], `"'`), m[3]), nil
	case versionRe.MatchString(text):
		return fmt.Sprintf("I'm running version %s.", h.cfg.CurrentVersion), nil
	case checkRe.MatchString(text):
		res, err := h.Check(ctx)
		if err != nil {
			h.logger.Warn("update check failed", "error", err)
			return fmt.Sprintf("I couldn't check for updates: %v", err), nil
		}
		return describe(res), nil
	case capsRe.MatchString(text):
		return h.describeCapabilities(), nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnrecognized, command)
}

// Check queries the release endpoint and compares the latest tag against
// the running version.
func (h *Handler) Check(ctx context.Context) (*Result, error) {
	if h.web == nil {
		return nil, errors.New("web access is not configured")
	}
	resp, err := h.web.Do(ctx, http.MethodGet, h.cfg.ReleaseURL, nil)
	if err != nil {
		return nil, err
	}

	var release githubRelease
	if err := json.Unmarshal([]byte(resp.Body), &release); err != nil {
		return nil, fmt.Errorf("decode release: %w", err)
	}
	if release.TagName == "" {
		return nil, errors.New("release has no tag")
	}

	return &Result{
		Available:      isNewer(release.TagName, h.cfg.CurrentVersion),
		CurrentVersion: h.cfg.CurrentVersion,
		LatestVersion:  release.TagName,
		ReleaseURL:     release.HTMLURL,
		ReleaseNotes:   truncate(release.Body, 500),
		PublishedAt:    release.PublishedAt,
	}, nil
}

// isNewer reports whether latest > current. Development builds and
// unparseable versions never report an update.
func isNewer(latest, current string) bool {
	if current == "dev" {
		return false
	}
	l, err := version.NewVersion(latest)
	if err != nil {
		return false
	}
	c, err := version.NewVersion(current)
	if err != nil {
		return false
	}
	return l.GreaterThan(c)
}

func describe(r *Result) string {
	if !r.Available {
		return fmt.Sprintf("You're up to date. I'm running version %s and the latest release is %s.", r.CurrentVersion, r.LatestVersion)
	}
	msg := fmt.Sprintf("Version %s is available. I'm running %s.", r.LatestVersion, r.CurrentVersion)
	if r.ReleaseURL != "" {
		msg += " Download it from " + r.ReleaseURL + "."
	}
	return msg
}

func (h *Handler) describeCapabilities() string {
	if h.capabilities == nil {
		return "I can't list my capabilities right now."
	}
	caps := h.capabilities()
	if len(caps) == 0 {
		return "I don't have any capabilities registered yet."
	}
	domains := make([]string, 0, len(caps))
	for d := range caps {
		domains = append(domains, string(d))
	}
	sort.Strings(domains)

	parts := make([]string, 0, len(domains))
	for _, d := range domains {
		patterns := caps[intent.Domain(d)]
		if len(patterns) > 3 {
			patterns = patterns[:3]
		}
		if len(patterns) == 0 {
			parts = append(parts, d)
			continue
		}
		parts = append(parts, fmt.Sprintf("%s (%s)", d, strings.Join(patterns, ", ")))
	}
	return "I can help with: " + strings.Join(parts, "; ") + "."
}

func (h *Handler) learn(kind, value, domainName string) string {
	if h.classifier == nil {
		return "Learning new patterns is not available."
	}
	domain, err := intent.ParseDomain(domainName)
	if err != nil {
		return fmt.Sprintf("I don't know the %s domain.", domainName)
	}

	if kind == "keyword" {
		err = h.classifier.AddKeyword(domain, value)
	} else {
		err = h.classifier.AddPattern(domain, value)
	}
	if err != nil {
		h.logger.Warn("learn rejected", "kind", kind, "domain", domain, "error", err)
		return fmt.Sprintf("I couldn't learn that %s: %v", kind, err)
	}
	h.logger.Info("learned", "kind", kind, "domain", domain, "value", value)
	return fmt.Sprintf("Learned new %s %q for %s.", kind, value, domain)
}

func truncate(s string, n int) string {
	s = strings.TrimSpace(s)
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
