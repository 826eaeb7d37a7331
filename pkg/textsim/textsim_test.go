package textsim

import "testing"

func TestNormalize(t *testing.T) {
	cases := []struct{ in, want string }{
		{"Hello, World!", "hello world"},
		{"  MANY   spaces\t here ", "many spaces here"},
		{"café ~ 42", "caf 42"},
		{"", ""},
		{"!!!", ""},
	}
	for _, c := range cases {
		if got := Normalize(c.in); got != c.want {
			t.Errorf("Normalize(%q) = %q, want %q", c.in, got, c.want)
		}
	}
}

func TestNormalizeIdempotent(t *testing.T) {
	for _, s := range []string{"Hello, World!", "a  b   c", "", "Ne haber?", "x1 Y2 z3!"} {
		once := Normalize(s)
		if twice := Normalize(once); twice != once {
			t.Errorf("Normalize not idempotent for %q: %q != %q", s, once, twice)
		}
	}
}

func TestTokenSimilarity(t *testing.T) {
	if got := TokenSimilarity("the quick brown fox", "the quick brown fox"); got != 1.0 {
		t.Errorf("self similarity = %v, want 1.0", got)
	}
	if got := TokenSimilarity("", "anything"); got != 0 {
		t.Errorf("empty side similarity = %v, want 0", got)
	}
	if got := TokenSimilarity("!!!", "???"); got != 0 {
		t.Errorf("symbol-only similarity = %v, want 0", got)
	}
	got := TokenSimilarity("alpha beta gamma", "alpha beta delta")
	if got <= 0.4 || got >= 0.6 {
		t.Errorf("partial overlap similarity = %v, want 0.5", got)
	}
}

func TestIsNearDuplicate(t *testing.T) {
	recent := []string{"hello there friend"}

	if !IsNearDuplicate("hello there friend", recent, Options{}) {
		t.Error("exact match should be a near-duplicate")
	}
	if IsNearDuplicate("completely different sentence about rockets", recent, Options{}) {
		t.Error("unrelated sentence should not be a near-duplicate")
	}
	if IsNearDuplicate("", recent, Options{}) {
		t.Error("empty candidate must never be a duplicate")
	}

	// Containment tier, both directions.
	long := []string{"the build pipeline finished without any failures today"}
	if !IsNearDuplicate("build pipeline finished without any failures", long, Options{}) {
		t.Error("contained candidate should be a near-duplicate")
	}
	if !IsNearDuplicate("well, the build pipeline finished without any failures today, again", long, Options{}) {
		t.Error("containing candidate should be a near-duplicate")
	}

	// Short strings only match by equality, not containment.
	if IsNearDuplicate("ok", []string{"ok, the deploy to staging is rolling out now"}, Options{}) {
		t.Error("short candidate must not match by containment")
	}

	// Formulaic tier.
	opts := Options{FormulaicGuard: true}
	if !IsNearDuplicate("great question, the cache is warm", []string{"great question, ship it tomorrow"}, opts) {
		t.Error("shared formulaic phrase should trip the guard")
	}
	if IsNearDuplicate("great question, the cache is warm", []string{"great question, ship it tomorrow"}, Options{}) {
		t.Error("formulaic tier must be off without FormulaicGuard")
	}

	// Caller-supplied phrase.
	opts.FormulaicPhrases = []string{"per my last message"}
	if !IsNearDuplicate("per my last message, no", []string{"per my last message, yes"}, opts) {
		t.Error("caller formulaic phrase should trip the guard")
	}
}

func TestMaxDuplicateScore(t *testing.T) {
	if got := MaxDuplicateScore("anything", nil); got != 0 {
		t.Errorf("empty recent = %v, want 0", got)
	}
	got := MaxDuplicateScore("alpha beta gamma", []string{"delta epsilon", "alpha beta gamma"})
	if got != 1.0 {
		t.Errorf("best match score = %v, want 1.0", got)
	}
	// Rounded to 3 decimals: 1/3 overlap.
	got = MaxDuplicateScore("alpha beta", []string{"alpha gamma"})
	if got != 0.333 {
		t.Errorf("rounded score = %v, want 0.333", got)
	}
}

func TestLooksLikeQuestion(t *testing.T) {
	yes := []string{
		"what is kozmos",
		"Is the feed quiet today",
		"deploy it now?",
		"neden bu kadar sessiz",
		"coming along, right?",
	}
	for _, s := range yes {
		if !LooksLikeQuestion(s) {
			t.Errorf("LooksLikeQuestion(%q) = false, want true", s)
		}
	}
	no := []string{"", "ship it", "all systems nominal."}
	for _, s := range no {
		if LooksLikeQuestion(s) {
			t.Errorf("LooksLikeQuestion(%q) = true, want false", s)
		}
	}
}

func TestEnsureQuestionPunctuation(t *testing.T) {
	if got := EnsureQuestionPunctuation("what is kozmos"); got != "what is kozmos?" {
		t.Errorf("got %q", got)
	}
	// Idempotent.
	if got := EnsureQuestionPunctuation("what is kozmos?"); got != "what is kozmos?" {
		t.Errorf("got %q", got)
	}
	// Not a question: unchanged.
	if got := EnsureQuestionPunctuation("ship it"); got != "ship it" {
		t.Errorf("got %q", got)
	}
	// Already terminated: unchanged.
	if got := EnsureQuestionPunctuation("how odd."); got != "how odd." {
		t.Errorf("got %q", got)
	}
	if got := EnsureQuestionPunctuation(""); got != "" {
		t.Errorf("got %q", got)
	}
}
