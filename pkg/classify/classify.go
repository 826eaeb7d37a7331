// Package classify maps inbound text to an intent and resolves channel
// labels to channel policies. Classification is rule-based and total on
// purpose: the admission and dispatch path must never stall or fail here —
// the worst case is the conservative unknown bucket.
package classify

import "strings"

// Intent is the inferred purpose of an inbound message.
type Intent string

const (
	IntentGreet      Intent = "greet"
	IntentStatus     Intent = "status"
	IntentExplain    Intent = "explain"
	IntentStrategy   Intent = "strategy"
	IntentReflective Intent = "reflective"
	IntentUnknown    Intent = "unknown"
)

// Channel is a named communication context with its own policy limits.
type Channel string

const (
	ChannelFeed    Channel = "feed"
	ChannelDM      Channel = "dm"
	ChannelBuild   Channel = "build"
	ChannelUnknown Channel = "unknown"
)

// Initiative describes how proactively the agent may speak on a channel.
type Initiative string

const (
	InitiativeLow    Initiative = "low"
	InitiativeMedium Initiative = "medium"
	InitiativeHigh   Initiative = "high"
)

// Policy holds the per-channel output limits, fixed at startup.
type Policy struct {
	Channel              Channel
	MaxSentences         int
	MaxChars             int
	AllowsFollowQuestion bool
	Initiative           Initiative
}

// policies is the closed channel policy table. Unknown deliberately gets
// the tightest limits so an unresolved label can never widen output.
var policies = map[Channel]Policy{
	ChannelFeed: {
		Channel:              ChannelFeed,
		MaxSentences:         3,
		MaxChars:             280,
		AllowsFollowQuestion: true,
		Initiative:           InitiativeMedium,
	},
	ChannelDM: {
		Channel:              ChannelDM,
		MaxSentences:         5,
		MaxChars:             600,
		AllowsFollowQuestion: true,
		Initiative:           InitiativeHigh,
	},
	ChannelBuild: {
		Channel:              ChannelBuild,
		MaxSentences:         2,
		MaxChars:             220,
		AllowsFollowQuestion: false,
		Initiative:           InitiativeMedium,
	},
	ChannelUnknown: {
		Channel:              ChannelUnknown,
		MaxSentences:         1,
		MaxChars:             140,
		AllowsFollowQuestion: false,
		Initiative:           InitiativeLow,
	},
}

// greetPatterns match short salutations. Checked by prefix against the
// trimmed lowercased message; only near-bare greetings qualify.
var greetPatterns = []string{
	"hello", "hi", "hey", "yo", "good morning", "good evening",
	"selam", "merhaba", "sup", "hiya",
}

var statusSignals = []string{
	"are you there", "are you online", "are you up", "still there",
	"you alive", "how are you", "whats up", "what's up", "status",
	"nasilsin", "orada misin",
}

var explainSignals = []string{
	"what is kozmos", "what is this place", "what is axy", "who are you",
	"what are you", "what do you do", "explain yourself", "kozmos nedir",
}

var strategySignals = []string{
	"plan", "architecture", "design", "roadmap", "milestone", "approach",
	"strategy", "build order", "priorit", "trade-off", "tradeoff",
	"refactor", "scale",
}

var reflectiveSignals = []string{
	"feel", "meaning", "wonder", "lonely", "dream", "think about",
	"why do we", "what if we", "miss ", "remember when",
}

// DetectIntent classifies a message. Rule families run in priority order
// against the lowercased trimmed text; the first match wins and no match
// is unknown.
func DetectIntent(message string) Intent {
	m := strings.TrimSpace(strings.ToLower(message))
	if m == "" {
		return IntentUnknown
	}

	// Greetings only count when the message is essentially the greeting —
	// "hello, can you review the plan" is not a greet.
	if len(m) <= 24 {
		for _, g := range greetPatterns {
			if m == g || strings.HasPrefix(m, g+" ") || strings.HasPrefix(m, g+"!") || strings.HasPrefix(m, g+",") {
				return IntentGreet
			}
		}
	}
	for _, s := range statusSignals {
		if strings.Contains(m, s) {
			return IntentStatus
		}
	}
	for _, s := range explainSignals {
		if strings.Contains(m, s) {
			return IntentExplain
		}
	}
	for _, s := range strategySignals {
		if strings.Contains(m, s) {
			return IntentStrategy
		}
	}
	for _, s := range reflectiveSignals {
		if strings.Contains(m, s) {
			return IntentReflective
		}
	}
	return IntentUnknown
}

// ResolveChannel maps a raw label to the closed channel enum. Matching is
// case-insensitive with whitespace collapsed; anything unmatched resolves
// to unknown, never an error.
func ResolveChannel(raw string) Channel {
	label := strings.Join(strings.Fields(strings.ToLower(raw)), " ")
	switch label {
	case "feed", "shared feed", "timeline":
		return ChannelFeed
	case "dm", "direct", "direct message":
		return ChannelDM
	case "build", "build chat", "build-chat":
		return ChannelBuild
	default:
		return ChannelUnknown
	}
}

// PolicyFor returns the policy for a channel. Every caller gets a usable
// policy: unresolved channels receive the unknown default.
func PolicyFor(ch Channel) Policy {
	if p, ok := policies[ch]; ok {
		return p
	}
	return policies[ChannelUnknown]
}

// Channels returns the closed set of known channels (unknown included).
func Channels() []Channel {
	return []Channel{ChannelFeed, ChannelDM, ChannelBuild, ChannelUnknown}
}
