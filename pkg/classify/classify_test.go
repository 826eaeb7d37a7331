package classify

import "testing"

func TestDetectIntent(t *testing.T) {
	cases := []struct {
		in   string
		want Intent
	}{
		{"hello", IntentGreet},
		{"Hey!", IntentGreet},
		{"selam", IntentGreet},
		{"are you there", IntentStatus},
		{"so... what's up over there", IntentStatus},
		{"what is kozmos", IntentExplain},
		{"Who are you exactly", IntentExplain},
		{"thoughts on the roadmap for the parser", IntentStrategy},
		{"should we refactor the feed poller", IntentStrategy},
		{"i wonder what this place will become", IntentReflective},
		{"asdkjasd", IntentUnknown},
		{"", IntentUnknown},
		// Greeting prefix on a long message is not a greet.
		{"hello, can you walk me through the deploy plan for tonight", IntentStrategy},
	}
	for _, c := range cases {
		if got := DetectIntent(c.in); got != c.want {
			t.Errorf("DetectIntent(%q) = %q, want %q", c.in, got, c.want)
		}
	}
}

func TestDetectIntentRuleOrder(t *testing.T) {
	// Status outranks strategy when both families match.
	if got := DetectIntent("status of the roadmap"); got != IntentStatus {
		t.Errorf("got %q, want %q", got, IntentStatus)
	}
}

func TestResolveChannel(t *testing.T) {
	cases := []struct {
		in   string
		want Channel
	}{
		{"  DM  ", ChannelDM},
		{"direct   message", ChannelDM},
		{"Feed", ChannelFeed},
		{"BUILD-CHAT", ChannelBuild},
		{"build chat", ChannelBuild},
		{"nonsense", ChannelUnknown},
		{"", ChannelUnknown},
	}
	for _, c := range cases {
		if got := ResolveChannel(c.in); got != c.want {
			t.Errorf("ResolveChannel(%q) = %q, want %q", c.in, got, c.want)
		}
	}
}

func TestPolicyFor(t *testing.T) {
	for _, ch := range Channels() {
		p := PolicyFor(ch)
		if p.MaxChars <= 0 || p.MaxSentences <= 0 {
			t.Errorf("policy for %q has zero limits: %+v", ch, p)
		}
	}

	def := PolicyFor(ChannelUnknown)
	if def.AllowsFollowQuestion {
		t.Error("unknown policy must not allow follow-up questions")
	}
	if def.Initiative != InitiativeLow {
		t.Errorf("unknown policy initiative = %q, want low", def.Initiative)
	}

	// Unresolved channels still get a usable policy.
	if got := PolicyFor(Channel("made-up")); got != def {
		t.Errorf("unresolved channel policy = %+v, want unknown default", got)
	}
}
