package elink

import "sync"

// ComdatGroup is one comdat signature's global arbitration record
// (spec.md 4.5): every file claiming the same signature competes for a
// single owner, and every other claim's member sections die.
type ComdatGroup struct {
	mu    sync.Mutex
	Owner *InputFile
	owned bool
}

func newComdatGroup() *ComdatGroup { return &ComdatGroup{} }

// claim runs the group's compare-and-swap: the lowest-priority file among
// all claimants wins ownership, matching spec.md 4.5's "owner =
// min(owner, this file's priority)".
func (g *ComdatGroup) claim(f *InputFile) *InputFile {
	g.mu.Lock()
	defer g.mu.Unlock()
	if !g.owned || f.Priority < g.Owner.Priority {
		g.Owner = f
		g.owned = true
	}
	return g.Owner
}

// ResolveComdats implements spec.md 4.5 in full: every file's comdat
// claims compete through the Context's shared Comdats interner, and every
// file that does not end up owning a given signature has its claimed
// member InputSections killed.
func ResolveComdats(ctx *Context) error {
	for _, f := range ctx.Files {
		if !f.IsAlive {
			continue
		}
		for sig := range f.ComdatClaims {
			group := ctx.Comdats.Intern(sig, newComdatGroup)
			group.claim(f)
		}
	}

	return ctx.Pool.ForFiles(len(ctx.Files), func(i int) error {
		f := ctx.Files[i]
		if !f.IsAlive {
			return nil
		}
		for sig, members := range f.ComdatClaims {
			group, ok := ctx.Comdats.Lookup(sig)
			if !ok || group.Owner == f {
				continue
			}
			for _, idx := range members {
				if idx >= 0 && idx < len(f.Sections) && f.Sections[idx] != nil {
					f.Sections[idx].Kill()
				}
			}
		}
		return nil
	})
}
