package intent

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClassify(t *testing.T) {
	t.Parallel()

	c := MustDefault(nil)

	tests := []struct {
		input string
		want  Domain
		kind  MatchKind
	}{
		{"speak louder please", Voice, MatchKeyword},
		{"Change the voice", Voice, MatchKeyword},
		{"let's have a chat", Chat, MatchKeyword},
		{"what is the capital of France", Chat, MatchPattern},
		{"open the file manager", System, MatchKeyword},
		{"search the web for golang", Internet, MatchKeyword},
		{"get weather for tomorrow", Internet, MatchPattern},
		{"schedule a backup", Automation, MatchKeyword},
		{"set timer for 5 minutes", Automation, MatchKeyword},
		{"change my password", Security, MatchKeyword},
		{"unlock pc", Security, MatchVerb},
		{"unlock the computer with 4821", Security, MatchVerb},
		{"set my pin to 4821", Security, MatchPattern},
		{"verify my pin 4821", Security, MatchPattern},
		{"change the passcode", Security, MatchKeyword},
		{"open the computer unlock tool", System, MatchKeyword},
		{"upgrade yourself", Updater, MatchKeyword},
		{"learn new skill", Updater, MatchPattern},
		{"zzz qqq", Chat, MatchDefault},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			t.Parallel()
			m := c.Explain(tt.input, nil)
			assert.Equal(t, tt.want, m.Domain)
			assert.Equal(t, tt.kind, m.Kind)
		})
	}
}

func TestClassifyDeterministic(t *testing.T) {
	t.Parallel()

	c := MustDefault(nil)
	first := c.Classify("how to unlock the computer", nil)
	for i := 0; i < 50; i++ {
		require.Equal(t, first, c.Classify("how to unlock the computer", nil))
	}
}

func TestClassifyRespectsRegisteredDomains(t *testing.T) {
	t.Parallel()

	c := MustDefault(nil)

	// "speak" would hit voice, but voice is not registered.
	got := c.Explain("speak louder", []Domain{Chat, System})
	assert.Equal(t, Chat, got.Domain)
	assert.Equal(t, MatchDefault, got.Kind)

	got = c.Explain("please launch app", []Domain{System})
	assert.Equal(t, System, got.Domain)
	assert.Equal(t, MatchPattern, got.Kind)
}

func TestEnumerationOrderResolvesOverlap(t *testing.T) {
	t.Parallel()

	c := MustDefault(nil)
	// "explain" is a chat pattern and "schedule" an automation keyword; the
	// keyword pass runs first across all domains.
	assert.Equal(t, Automation, c.Classify("explain my schedule", nil))
	// Both are patterns here; chat is enumerated before automation.
	assert.Equal(t, Chat, c.Classify("help me create task lists", nil))
}

func TestAddPattern(t *testing.T) {
	t.Parallel()

	c := MustDefault(nil)
	require.Equal(t, Chat, c.Classify("brew coffee", nil))

	require.NoError(t, c.AddPattern(Automation, `brew (coffee|tea)`))
	assert.Equal(t, Automation, c.Classify("brew coffee", nil))

	assert.Error(t, c.AddPattern("nonexistent", `x`))
	assert.Error(t, c.AddPattern(Chat, `(`))
	assert.Error(t, c.AddPattern(Chat, "  "))
}

func TestAddKeyword(t *testing.T) {
	t.Parallel()

	c := MustDefault(nil)
	require.NoError(t, c.AddKeyword(Internet, "Browser"))
	assert.Equal(t, Internet, c.Classify("fire up the browser", nil))
	assert.Error(t, c.AddKeyword(Internet, ""))
}

func TestReloadKeepsOldTableOnError(t *testing.T) {
	t.Parallel()

	c := MustDefault(nil)
	err := c.Reload([]Rule{{Domain: Chat, Patterns: []string{"("}}})
	require.Error(t, err)
	assert.Len(t, c.Domains(), 7)

	require.NoError(t, c.Reload([]Rule{{Domain: System, Keywords: []string{"disk"}}}))
	assert.Equal(t, []Domain{System}, c.Domains())
	assert.Equal(t, System, c.Classify("check disk", nil))
}

func TestCapabilities(t *testing.T) {
	t.Parallel()

	c := MustDefault(nil)
	caps := c.Capabilities(Voice)
	require.NotEmpty(t, caps)
	assert.Equal(t, "speak louder/softer/faster/slower", caps[0])
	assert.Nil(t, c.Capabilities("missing"))

	assert.Contains(t, c.Capabilities(Security), "set/change/update/reset/verify/check pin/passcode")
}

func TestVerbsClaimUtteranceFirst(t *testing.T) {
	t.Parallel()

	c := MustDefault(nil)

	// "computer" is a system keyword, but the leading verb decides.
	m := c.Explain("Unlock the computer", nil)
	assert.Equal(t, Security, m.Domain)
	assert.Equal(t, MatchVerb, m.Kind)
	assert.Equal(t, "unlock", m.Term)

	// Verbs of unregistered domains are skipped.
	m = c.Explain("unlock the computer", []Domain{Chat, System})
	assert.Equal(t, System, m.Domain)
	assert.Equal(t, MatchKeyword, m.Kind)

	// Only the first word counts.
	assert.Equal(t, System, c.Classify("please unlock the computer", nil))

	rules, err := MergeRules([]Rule{{Domain: Internet, Verbs: []string{"Browse"}}}, nil, nil)
	require.NoError(t, err)
	custom, err := New(rules, nil)
	require.NoError(t, err)
	assert.Equal(t, Internet, custom.Classify("browse golang.org", nil))
}

func TestIsImperative(t *testing.T) {
	t.Parallel()

	tests := []struct {
		input string
		want  bool
	}{
		{"open calculator", true},
		{"  Shutdown now", true},
		{"please open calculator", false},
		{"opener", false},
		{"", false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, IsImperative(tt.input), tt.input)
	}
}

func TestMergeRules(t *testing.T) {
	t.Parallel()

	rules, err := MergeRules(DefaultRules(),
		map[string][]string{"ai_chat": {"gossip"}, "weather": {"forecast"}},
		map[string][]string{"system": {`defrag (disk|drive)`}},
	)
	require.NoError(t, err)
	require.Len(t, rules, 8)
	assert.Equal(t, Domain("weather"), rules[7].Domain)

	c, err := New(rules, nil)
	require.NoError(t, err)
	assert.Equal(t, Chat, c.Classify("some gossip", nil))
	assert.Equal(t, System, c.Classify("defrag drive", nil))
	assert.Equal(t, Domain("weather"), c.Classify("forecast tomorrow", nil))

	// The base table is not mutated.
	assert.NotContains(t, DefaultRules()[1].Keywords, "gossip")
}

func TestParseDomain(t *testing.T) {
	t.Parallel()

	d, err := ParseDomain(" AI_Chat ")
	require.NoError(t, err)
	assert.Equal(t, Chat, d)

	_, err = ParseDomain("")
	assert.Error(t, err)
}
