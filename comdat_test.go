package elink

import "testing"

func newTestFile(name string, priority int) *InputFile {
	return &InputFile{
		Name:         name,
		IsAlive:      true,
		Priority:     priority,
		ComdatClaims: make(map[string][]int),
	}
}

func TestResolveComdatsLowestPriorityWins(t *testing.T) {
	ctx := NewContext(DefaultConfig())

	winner := newTestFile("a.o", 0)
	loser := newTestFile("b.o", 1)
	winner.Sections = []*InputSection{{Name: ".text._Z3foov", IsAlive: true}}
	loser.Sections = []*InputSection{{Name: ".text._Z3foov", IsAlive: true}}
	winner.ComdatClaims["_Z3foov"] = []int{0}
	loser.ComdatClaims["_Z3foov"] = []int{0}

	// Claim in the order a loser-first arrival would see, to confirm the
	// winner is chosen by priority rather than arrival order.
	ctx.Files = []*InputFile{loser, winner}

	if err := ResolveComdats(ctx); err != nil {
		t.Fatalf("ResolveComdats: %v", err)
	}

	if !winner.Sections[0].IsAlive {
		t.Fatalf("lowest-priority claimant's member section was killed")
	}
	if loser.Sections[0].IsAlive {
		t.Fatalf("losing claimant's member section was not killed")
	}
}

func TestResolveComdatsSingleClaimantSurvives(t *testing.T) {
	ctx := NewContext(DefaultConfig())
	f := newTestFile("a.o", 0)
	f.Sections = []*InputSection{{Name: ".text._Z3barv", IsAlive: true}}
	f.ComdatClaims["_Z3barv"] = []int{0}
	ctx.Files = []*InputFile{f}

	if err := ResolveComdats(ctx); err != nil {
		t.Fatalf("ResolveComdats: %v", err)
	}
	if !f.Sections[0].IsAlive {
		t.Fatalf("sole claimant's section was killed")
	}
}
