package policy

import "testing"

func mustRule(t *testing.T, s string) *Rule {
	t.Helper()
	r, err := NewRule(s)
	if err != nil {
		t.Fatalf("NewRule(%q): %v", s, err)
	}
	return r
}

func TestPolicyRuleInvertExact(t *testing.T) {
	r := mustRule(t, "!overchan.lame")
	cases := map[string]bool{
		"overchan.awesome": true,
		"overchan.lamecat": true,
		"alt.bin.hax":      true,
		"overchan.lame":    false,
	}
	for ng, want := range cases {
		if got := r.Allows(ng); got != want {
			t.Errorf("Allows(%q) = %v, want %v", ng, got, want)
		}
	}
}

func TestPolicyRuleGlob(t *testing.T) {
	r := mustRule(t, "overchan.*")
	cases := map[string]bool{
		"overchan.awesome": true,
		"overchan.lame":    true,
		"overchan.lamecat": true,
		"alt.bin.hax":      false,
	}
	for ng, want := range cases {
		if got := r.Allows(ng); got != want {
			t.Errorf("Allows(%q) = %v, want %v", ng, got, want)
		}
	}
}

func TestPolicyRuleInvertGlob(t *testing.T) {
	r := mustRule(t, "!overchan.*")
	cases := map[string]bool{
		"overchan.awesome": false,
		"overchan.lame":    false,
		"overchan.lamecat": false,
		"alt.bin.hax":      true,
	}
	for ng, want := range cases {
		if got := r.Allows(ng); got != want {
			t.Errorf("Allows(%q) = %v, want %v", ng, got, want)
		}
	}
}

func TestInvalidRules(t *testing.T) {
	for _, s := range []string{"*", "!*", "!"} {
		if _, err := NewRule(s); err == nil {
			t.Errorf("expected error for rule %q", s)
		}
	}
}

func TestEmptyPolicyDeniesAll(t *testing.T) {
	p, err := New(nil)
	if err != nil {
		t.Fatal(err)
	}
	if p.AllowNewsgroup("overchan.test") {
		t.Error("empty policy should deny all groups")
	}
}

func TestFanoutFixture(t *testing.T) {
	p1, err := New([]string{"overchan.*"})
	if err != nil {
		t.Fatal(err)
	}
	p2, err := New([]string{"ctl"})
	if err != nil {
		t.Fatal(err)
	}
	groups := []string{"overchan.test"}
	if !p1.AllowAny(groups) {
		t.Error("p1 should allow overchan.test")
	}
	if p2.AllowAny(groups) {
		t.Error("p2 should not allow overchan.test")
	}
}
