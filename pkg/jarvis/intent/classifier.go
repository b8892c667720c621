package intent

import (
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"sync"
)

// MatchKind reports which pass produced a classification.
type MatchKind string

const (
	MatchVerb    MatchKind = "verb"
	MatchKeyword MatchKind = "keyword"
	MatchPattern MatchKind = "pattern"
	MatchDefault MatchKind = "default"
)

// Match is the explained result of a classification.
type Match struct {
	Domain Domain    `json:"domain"`
	Kind   MatchKind `json:"kind"`
	// Term is the keyword or the pattern source that matched.
	Term string `json:"term,omitempty"`
}

// imperativeVerbs start commands that skip classification and go straight
// to automation.
var imperativeVerbs = map[string]bool{
	"open": true, "launch": true, "start": true, "run": true,
	"create": true, "delete": true, "move": true, "send": true,
	"close": true, "shutdown": true, "restart": true, "lock": true,
	"sleep": true,
}

// IsImperative reports whether the utterance begins with a fast-path verb.
func IsImperative(utterance string) bool {
	fields := strings.Fields(strings.ToLower(utterance))
	if len(fields) == 0 {
		return false
	}
	return imperativeVerbs[fields[0]]
}

type compiledRule struct {
	domain   Domain
	verbs    map[string]bool
	keywords []string
	patterns []*regexp.Regexp
}

// Classifier maps utterances to domains. Safe for concurrent use; patterns
// may be appended or the whole table reloaded while classifying.
type Classifier struct {
	mu       sync.RWMutex
	rules    []compiledRule
	fallback Domain
	logger   *slog.Logger
}

// New compiles the rule table. An invalid pattern fails the whole table.
func New(rules []Rule, logger *slog.Logger) (*Classifier, error) {
	if logger == nil {
		logger = slog.Default()
	}
	compiled, err := compileRules(rules)
	if err != nil {
		return nil, err
	}
	c := &Classifier{
		rules:    compiled,
		fallback: Chat,
		logger:   logger.With("component", "intent"),
	}
	c.logger.Debug("classifier initialized", "domains", len(compiled))
	return c, nil
}

// MustDefault returns a classifier over DefaultRules. It panics only if the
// built-in table is broken.
func MustDefault(logger *slog.Logger) *Classifier {
	c, err := New(DefaultRules(), logger)
	if err != nil {
		panic(err)
	}
	return c
}

func compileRules(rules []Rule) ([]compiledRule, error) {
	out := make([]compiledRule, 0, len(rules))
	for _, r := range rules {
		cr := compiledRule{domain: r.Domain}
		for _, v := range r.Verbs {
			v = strings.ToLower(strings.TrimSpace(v))
			if v == "" {
				continue
			}
			if cr.verbs == nil {
				cr.verbs = make(map[string]bool)
			}
			cr.verbs[v] = true
		}
		for _, kw := range r.Keywords {
			kw = strings.ToLower(strings.TrimSpace(kw))
			if kw != "" {
				cr.keywords = append(cr.keywords, kw)
			}
		}
		for _, p := range r.Patterns {
			re, err := compilePattern(p)
			if err != nil {
				return nil, fmt.Errorf("domain %s: %w", r.Domain, err)
			}
			cr.patterns = append(cr.patterns, re)
		}
		out = append(out, cr)
	}
	return out, nil
}

func compilePattern(p string) (*regexp.Regexp, error) {
	if strings.TrimSpace(p) == "" {
		return nil, fmt.Errorf("empty pattern")
	}
	re, err := regexp.Compile("(?i)" + p)
	if err != nil {
		return nil, fmt.Errorf("invalid pattern %q: %w", p, err)
	}
	return re, nil
}

// Classify returns the domain for an utterance. Only domains in registered
// take part; a nil or empty registered slice means every configured domain.
// Unmatched input resolves to chat.
func (c *Classifier) Classify(utterance string, registered []Domain) Domain {
	return c.Explain(utterance, registered).Domain
}

// Explain is Classify plus which pass and term decided the result.
func (c *Classifier) Explain(utterance string, registered []Domain) Match {
	text := strings.ToLower(utterance)

	var allowed map[Domain]bool
	if len(registered) > 0 {
		allowed = make(map[Domain]bool, len(registered))
		for _, d := range registered {
			allowed[d] = true
		}
	}

	c.mu.RLock()
	defer c.mu.RUnlock()

	if fields := strings.Fields(text); len(fields) > 0 {
		for _, r := range c.rules {
			if r.verbs[fields[0]] && (allowed == nil || allowed[r.domain]) {
				return Match{Domain: r.domain, Kind: MatchVerb, Term: fields[0]}
			}
		}
	}

	for _, r := range c.rules {
		if allowed != nil && !allowed[r.domain] {
			continue
		}
		for _, kw := range r.keywords {
			if strings.Contains(text, kw) {
				return Match{Domain: r.domain, Kind: MatchKeyword, Term: kw}
			}
		}
	}

	for _, r := range c.rules {
		if allowed != nil && !allowed[r.domain] {
			continue
		}
		for _, re := range r.patterns {
			if re.MatchString(text) {
				return Match{Domain: r.domain, Kind: MatchPattern, Term: patternSource(re)}
			}
		}
	}

	return Match{Domain: c.fallback, Kind: MatchDefault}
}

// AddPattern compiles and appends a pattern to an existing domain.
func (c *Classifier) AddPattern(domain Domain, pattern string) error {
	re, err := compilePattern(pattern)
	if err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	for i := range c.rules {
		if c.rules[i].domain == domain {
			c.rules[i].patterns = append(c.rules[i].patterns, re)
			c.logger.Info("pattern added", "domain", domain, "pattern", pattern)
			return nil
		}
	}
	return fmt.Errorf("unknown domain %q", domain)
}

// AddKeyword appends a direct-mention keyword to an existing domain.
func (c *Classifier) AddKeyword(domain Domain, keyword string) error {
	kw := strings.ToLower(strings.TrimSpace(keyword))
	if kw == "" {
		return fmt.Errorf("empty keyword")
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	for i := range c.rules {
		if c.rules[i].domain == domain {
			c.rules[i].keywords = append(c.rules[i].keywords, kw)
			return nil
		}
	}
	return fmt.Errorf("unknown domain %q", domain)
}

// Reload swaps the rule table atomically. On error the old table is kept.
func (c *Classifier) Reload(rules []Rule) error {
	compiled, err := compileRules(rules)
	if err != nil {
		return err
	}
	c.mu.Lock()
	c.rules = compiled
	c.mu.Unlock()
	c.logger.Info("classifier rules reloaded", "domains", len(compiled))
	return nil
}

// Domains returns the configured domains in table order.
func (c *Classifier) Domains() []Domain {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]Domain, len(c.rules))
	for i, r := range c.rules {
		out[i] = r.domain
	}
	return out
}

// Capabilities lists a domain's patterns in readable form, e.g.
// "speak (louder|softer)" becomes "speak louder/softer".
func (c *Classifier) Capabilities(domain Domain) []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	for _, r := range c.rules {
		if r.domain != domain {
			continue
		}
		out := make([]string, 0, len(r.patterns))
		for _, re := range r.patterns {
			out = append(out, humanize(patternSource(re)))
		}
		return out
	}
	return nil
}

var capabilityReplacer = strings.NewReplacer("(", "", ")", "", "|", "/", "^", "", `\b`, "", ".*", " ")

func humanize(pattern string) string {
	return capabilityReplacer.Replace(pattern)
}

func patternSource(re *regexp.Regexp) string {
	return strings.TrimPrefix(re.String(), "(?i)")
}
