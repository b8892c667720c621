// Package intent classifies free-text utterances into capability domains.
//
// Classification is a two-pass heuristic over an ordered rule table: a
// direct keyword mention pass followed by a regex pattern pass. The first
// domain to match in table order wins; anything unmatched goes to chat.
package intent

import (
	"fmt"
	"sort"
	"strings"
)

// Domain is a capability category that owns one dispatch operation.
type Domain string

const (
	Voice      Domain = "voice"
	Chat       Domain = "chat"
	System     Domain = "system"
	Internet   Domain = "internet"
	Automation Domain = "automation"
	Security   Domain = "security"
	Updater    Domain = "updater"
)

// String implements fmt.Stringer.
func (d Domain) String() string { return string(d) }

// domainAliases maps legacy or shorthand names to canonical domains.
var domainAliases = map[string]Domain{
	"ai_chat":   Chat,
	"llm":       Chat,
	"os":        System,
	"web":       Internet,
	"scheduler": Automation,
	"update":    Updater,
}

// ParseDomain resolves a domain name (case-insensitive, aliases allowed).
func ParseDomain(name string) (Domain, error) {
	n := strings.ToLower(strings.TrimSpace(name))
	if n == "" {
		return "", fmt.Errorf("empty domain name")
	}
	if d, ok := domainAliases[n]; ok {
		return d, nil
	}
	return Domain(n), nil
}

// Rule is the static configuration of one domain: literal keywords checked
// by substring and regex patterns checked case-insensitively. Verbs claim
// an utterance by its first word before any keyword is considered.
type Rule struct {
	Domain   Domain   `yaml:"domain" json:"domain"`
	Verbs    []string `yaml:"verbs,omitempty" json:"verbs,omitempty"`
	Keywords []string `yaml:"keywords" json:"keywords"`
	Patterns []string `yaml:"patterns" json:"patterns"`
}

// DefaultRules returns the built-in rule table. Order matters: when several
// domains match the same utterance the earlier one wins.
func DefaultRules() []Rule {
	return []Rule{
		{
			Domain:   Voice,
			Keywords: []string{"voice", "speak", "listen", "speech"},
			Patterns: []string{
				`speak (louder|softer|faster|slower)`,
				`(stop|start) (speaking|listening)`,
				`change (your|the) voice`,
				`adjust (volume|speed|pitch)`,
			},
		},
		{
			Domain:   Chat,
			Keywords: []string{"chat", "talk", "conversation"},
			Patterns: []string{
				`(tell|ask|answer|explain|summarize|help)`,
				`what (is|are|was|were|do|does|did)`,
				`how (to|do|can|would|should)`,
				`why (is|are|do|does|did)`,
				`who (is|are|was|were)`,
				`when (is|are|was|were)`,
				`where (is|are|was|were)`,
			},
		},
		{
			Domain:   System,
			Keywords: []string{"system", "computer", "pc", "file", "folder"},
			Patterns: []string{
				`(open|close|launch|run|start|stop) (file|folder|app|application|program)`,
				`(shutdown|restart|lock|sleep) (computer|pc|system)`,
				`(show|hide|minimize|maximize) (window|app|application)`,
				`(adjust|change) (brightness|volume|settings)`,
			},
		},
		{
			Domain:   Internet,
			Keywords: []string{"internet", "web", "online", "search"},
			Patterns: []string{
				`search (for|about)`,
				`(check|get|show) (weather|news|email|calendar)`,
				`(play|find) (music|video|song)`,
				`(send|read) (email|message)`,
			},
		},
		{
			Domain:   Automation,
			Keywords: []string{"automate", "schedule", "timer", "alarm"},
			Patterns: []string{
				`(schedule|automate|create) (task|reminder|alarm)`,
				`(run|execute) (script|program|task)`,
				`(set|create|delete) (timer|alarm|reminder)`,
			},
		},
		{
			Domain:   Security,
			Verbs:    []string{"unlock"},
			Keywords: []string{"security", "password", "privacy", "passcode"},
			Patterns: []string{
				`(lock|unlock|secure) (system|computer|pc)`,
				`(change|update) (password|security settings)`,
				`(enable|disable) (privacy mode|security feature)`,
				`^unlock\b`,
				`\b(set|change|update|reset|verify|check)\b.*\b(pin|passcode)\b`,
			},
		},
		{
			Domain:   Updater,
			Keywords: []string{"update", "upgrade", "install"},
			Patterns: []string{
				`(update|upgrade) (yourself|system|feature)`,
				`(add|install|remove) (feature|module|capability)`,
				`(learn|improve) (new skill|ability)`,
			},
		},
	}
}

// MergeRules appends extra keywords and patterns (keyed by domain name) to
// base. Unknown domains are added at the end of the table, sorted by name
// so the result stays deterministic.
func MergeRules(base []Rule, keywords, patterns map[string][]string) ([]Rule, error) {
	out := make([]Rule, len(base))
	index := make(map[Domain]int, len(base))
	for i, r := range base {
		out[i] = Rule{
			Domain:   r.Domain,
			Verbs:    append([]string(nil), r.Verbs...),
			Keywords: append([]string(nil), r.Keywords...),
			Patterns: append([]string(nil), r.Patterns...),
		}
		index[r.Domain] = i
	}

	names := make([]string, 0, len(keywords)+len(patterns))
	seen := make(map[string]bool)
	for n := range keywords {
		if !seen[n] {
			seen[n] = true
			names = append(names, n)
		}
	}
	for n := range patterns {
		if !seen[n] {
			seen[n] = true
			names = append(names, n)
		}
	}
	sort.Strings(names)

	for _, name := range names {
		d, err := ParseDomain(name)
		if err != nil {
			return nil, err
		}
		i, ok := index[d]
		if !ok {
			out = append(out, Rule{Domain: d})
			i = len(out) - 1
			index[d] = i
		}
		out[i].Keywords = append(out[i].Keywords, keywords[name]...)
		out[i].Patterns = append(out[i].Patterns, patterns[name]...)
	}
	return out, nil
}
