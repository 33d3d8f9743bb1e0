package ignore

import "testing"

func TestSet_Match_LastMatchWins(t *testing.T) {
	// spec §8 S4: ["*", "!keep/**"] against {a, keep/b}.
	set, err := NewSet("", []string{"*", "!keep/**"})
	if err != nil {
		t.Fatalf("NewSet: %v", err)
	}

	if !set.Match("a") {
		t.Error(`"a" should be ignored (matches "*", no later override)`)
	}
	if set.Match("keep/b") {
		t.Error(`"keep/b" should NOT be ignored ("!keep/**" is the last match)`)
	}
}

func TestSet_Match_OrderReversalFlipsOutcome(t *testing.T) {
	// spec invariant #6: reversing rule order changes the verdict.
	forward, err := NewSet("", []string{"**/*.log", "!important.log"})
	if err != nil {
		t.Fatalf("NewSet: %v", err)
	}
	if forward.Match("important.log") {
		t.Error(`forward order: "important.log" should NOT be ignored`)
	}

	reversed, err := NewSet("", []string{"!important.log", "**/*.log"})
	if err != nil {
		t.Fatalf("NewSet: %v", err)
	}
	if !reversed.Match("important.log") {
		t.Error(`reversed order: "important.log" SHOULD be ignored`)
	}
}

func TestSet_Match_RootAnchored(t *testing.T) {
	set, err := NewSet("/repo", []string{"/build"})
	if err != nil {
		t.Fatalf("NewSet: %v", err)
	}

	if !set.Match("/repo/build") {
		t.Error(`"/repo/build" should match the root-anchored "/build"`)
	}
	if set.Match("/repo/sub/build") {
		t.Error(`"/repo/sub/build" should NOT match the root-anchored "/build"`)
	}
}

func TestSet_Match_NonAnchoredMatchesAnyDepth(t *testing.T) {
	set, err := NewSet("/repo", []string{"build"})
	if err != nil {
		t.Fatalf("NewSet: %v", err)
	}

	if !set.Match("/repo/build") {
		t.Error(`non-anchored "build" should match at the root`)
	}
	if !set.Match("/repo/sub/build") {
		t.Error(`non-anchored "build" should match at any depth`)
	}
}

func TestSet_Match_DoubleStarMatchesAcrossSeparators(t *testing.T) {
	set, err := NewSet("", []string{"**/*.tmp"})
	if err != nil {
		t.Fatalf("NewSet: %v", err)
	}

	for _, p := range []string{"a.tmp", "a/b.tmp", "a/b/c.tmp"} {
		if !set.Match(p) {
			t.Errorf("%q should match \"**/*.tmp\"", p)
		}
	}
	if set.Match("a.tmpx") {
		t.Error(`"a.tmpx" should not match "**/*.tmp"`)
	}
}

func TestSet_Match_EmptyRuleSetIgnoresNothing(t *testing.T) {
	set, err := NewSet("", nil)
	if err != nil {
		t.Fatalf("NewSet: %v", err)
	}
	if set.Match("anything/at/all") {
		t.Error("an empty rule set should never ignore a path")
	}
}

func TestNewSet_RejectsEmptyPattern(t *testing.T) {
	if _, err := NewSet("", []string{"!"}); err == nil {
		t.Error("expected an error for a pattern that is empty after stripping '!' ")
	}
}

func TestSet_Match_CommentsAndBlankLinesIgnored(t *testing.T) {
	set, err := NewSet("", []string{"# a comment", "", "  ", "*.log"})
	if err != nil {
		t.Fatalf("NewSet: %v", err)
	}
	if !set.Match("a.log") {
		t.Error(`"a.log" should match "*.log"`)
	}
}
