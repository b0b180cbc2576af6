package hierarchy

import (
	"errors"
	"testing"
	"time"
)

func mustParse(t *testing.T, raw string) Path {
	t.Helper()
	p, err := ParsePath(raw)
	if err != nil {
		t.Fatalf("ParsePath(%q): %v", raw, err)
	}
	return p
}

func testTree(t *testing.T) *Tree {
	t.Helper()
	now := time.Date(2026, 1, 10, 0, 0, 0, 0, time.UTC)
	nodes := []*Node{
		{ID: "au", Name: "Australia", Path: Path{"australia"}, IsActive: true, CreatedAt: now},
		{ID: "syd", ParentID: "au", Name: "Sydney", Path: Path{"australia", "sydney"}, IsActive: true, CreatedAt: now},
		{ID: "bondi", ParentID: "syd", Name: "Bondi", Path: Path{"australia", "sydney", "bondi"}, IsActive: true, CreatedAt: now},
		{ID: "manly", ParentID: "syd", Name: "Manly", Path: Path{"australia", "sydney", "manly"}, IsActive: true, CreatedAt: now},
		{ID: "mel", ParentID: "au", Name: "Melbourne", Path: Path{"australia", "melbourne"}, IsActive: true, CreatedAt: now},
	}
	tree, err := NewTree(nodes)
	if err != nil {
		t.Fatalf("NewTree: %v", err)
	}
	return tree
}

func TestParsePath(t *testing.T) {
	p := mustParse(t, "Australia.Sydney.Bondi")
	if p.String() != "australia.sydney.bondi" {
		t.Fatalf("unexpected canonical form: %s", p)
	}
	if p.Level() != 2 {
		t.Fatalf("expected level 2, got %d", p.Level())
	}
	if p.Last() != "bondi" {
		t.Fatalf("unexpected last segment: %s", p.Last())
	}
	if p.Parent().String() != "australia.sydney" {
		t.Fatalf("unexpected parent: %s", p.Parent())
	}

	for _, raw := range []string{"", ".", "a..b", "a b", "a.b!"} {
		if _, err := ParsePath(raw); !errors.Is(err, ErrInvalidPath) {
			t.Fatalf("ParsePath(%q): expected ErrInvalidPath, got %v", raw, err)
		}
	}
}

func TestPrefixPredicates(t *testing.T) {
	tree := testTree(t)
	bondi, _ := tree.Node("bondi")
	syd, _ := tree.Node("syd")
	au, _ := tree.Node("au")
	mel, _ := tree.Node("mel")

	if !IsDescendantOrEqual(bondi, syd) || !IsDescendantOrEqual(bondi, bondi) {
		t.Fatal("bondi should be descendant-or-equal of sydney and itself")
	}
	if !IsStrictDescendant(bondi, au) {
		t.Fatal("bondi should be a strict descendant of australia")
	}
	if IsStrictDescendant(bondi, bondi) {
		t.Fatal("a node is not its own strict descendant")
	}
	if IsDescendantOrEqual(syd, bondi) {
		t.Fatal("ancestors must never test as descendants")
	}
	if IsDescendantOrEqual(bondi, mel) {
		t.Fatal("siblings' subtrees must not overlap")
	}
}

func TestNewTreeRejectsBrokenInvariants(t *testing.T) {
	cases := map[string][]*Node{
		"duplicate path": {
			{ID: "a", Path: Path{"root"}, IsActive: true},
			{ID: "b", Path: Path{"root"}, IsActive: true},
		},
		"missing parent": {
			{ID: "a", ParentID: "ghost", Path: Path{"root", "child"}, IsActive: true},
		},
		"path not extending parent": {
			{ID: "a", Path: Path{"root"}, IsActive: true},
			{ID: "b", ParentID: "a", Path: Path{"other", "child"}, IsActive: true},
		},
		"deep root": {
			{ID: "a", Path: Path{"root", "child"}, IsActive: true},
		},
	}
	for name, nodes := range cases {
		if _, err := NewTree(nodes); !errors.Is(err, ErrInvalidInput) {
			t.Fatalf("%s: expected ErrInvalidInput, got %v", name, err)
		}
	}
}

func TestLineage(t *testing.T) {
	tree := testTree(t)
	bondi, _ := tree.Node("bondi")
	lineage, err := tree.Lineage(bondi)
	if err != nil {
		t.Fatalf("Lineage: %v", err)
	}
	want := []string{"au", "syd", "bondi"}
	if len(lineage) != len(want) {
		t.Fatalf("expected %d ancestors, got %d", len(want), len(lineage))
	}
	for i, id := range want {
		if lineage[i].ID != id {
			t.Fatalf("lineage[%d] = %s, want %s", i, lineage[i].ID, id)
		}
	}
}

func TestDescendantsIsLazyAndRestartable(t *testing.T) {
	tree := testTree(t)
	au, _ := tree.Node("au")

	var first []string
	for n := range tree.Descendants(au) {
		first = append(first, n.ID)
		if len(first) == 2 {
			break
		}
	}
	if len(first) != 2 {
		t.Fatalf("early break did not stop iteration: %v", first)
	}

	var all []string
	for n := range tree.Descendants(au) {
		all = append(all, n.ID)
	}
	if len(all) != 4 {
		t.Fatalf("expected 4 descendants after restart, got %v", all)
	}
}

func TestAddRejectsDuplicateSegment(t *testing.T) {
	tree := testTree(t)
	err := tree.Add(&Node{ID: "bondi2", ParentID: "syd", Name: "Bondi again", IsActive: true}, "bondi")
	if !errors.Is(err, ErrDuplicateSegment) {
		t.Fatalf("expected ErrDuplicateSegment, got %v", err)
	}
	if err := tree.Add(&Node{ID: "coogee", ParentID: "syd", Name: "Coogee", IsActive: true}, "coogee"); err != nil {
		t.Fatalf("Add: %v", err)
	}
	coogee, err := tree.Node("coogee")
	if err != nil {
		t.Fatalf("Node: %v", err)
	}
	if coogee.Path.String() != "australia.sydney.coogee" {
		t.Fatalf("unexpected path: %s", coogee.Path)
	}
}

func TestMoveRewritesSubtree(t *testing.T) {
	tree := testTree(t)
	now := time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC)

	if err := tree.Move("syd", "mel", now); err != nil {
		t.Fatalf("Move: %v", err)
	}
	for id, want := range map[string]string{
		"syd":   "australia.melbourne.sydney",
		"bondi": "australia.melbourne.sydney.bondi",
		"manly": "australia.melbourne.sydney.manly",
	} {
		n, err := tree.Node(id)
		if err != nil {
			t.Fatalf("Node(%s): %v", id, err)
		}
		if n.Path.String() != want {
			t.Fatalf("%s path = %s, want %s", id, n.Path, want)
		}
	}
	if _, err := tree.NodeByPath(mustParse(t, "australia.sydney")); !errors.Is(err, ErrNotFound) {
		t.Fatalf("old path still resolvable: %v", err)
	}
	moved, _ := tree.NodeByPath(mustParse(t, "australia.melbourne.sydney.bondi"))
	if moved.ID != "bondi" {
		t.Fatalf("path index not rewritten, got %s", moved.ID)
	}
}

func TestMoveIntoOwnSubtreeFails(t *testing.T) {
	tree := testTree(t)
	now := time.Now().UTC()

	if err := tree.Move("syd", "bondi", now); !errors.Is(err, ErrCycle) {
		t.Fatalf("expected ErrCycle, got %v", err)
	}
	if err := tree.Move("syd", "syd", now); !errors.Is(err, ErrCycle) {
		t.Fatalf("move under itself: expected ErrCycle, got %v", err)
	}

	// Tree must be untouched after the rejected move.
	syd, _ := tree.Node("syd")
	if syd.Path.String() != "australia.sydney" {
		t.Fatalf("tree mutated by failed move: %s", syd.Path)
	}
	bondi, _ := tree.NodeByPath(mustParse(t, "australia.sydney.bondi"))
	if bondi.ID != "bondi" {
		t.Fatal("descendant index mutated by failed move")
	}
}

func TestMoveDuplicateSegmentUnderNewParent(t *testing.T) {
	tree := testTree(t)
	now := time.Now().UTC()
	if err := tree.Add(&Node{ID: "mel-syd", ParentID: "mel", Name: "Sydney Rd", IsActive: true}, "sydney"); err != nil {
		t.Fatalf("Add: %v", err)
	}
	if err := tree.Move("syd", "mel", now); !errors.Is(err, ErrDuplicateSegment) {
		t.Fatalf("expected ErrDuplicateSegment, got %v", err)
	}
}
