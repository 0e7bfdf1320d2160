package trigger

import "handy/internal/surface"

// Keystroke is one physical trigger keypress awaiting its expansion
// attempt.
type Keystroke struct {
	Seq       uint64
	Target    surface.Element
	attempted bool
}

// Gate enforces that one physical keystroke causes at most one expansion
// attempt. A genuine trigger keydown opens a pending keystroke; the input
// event that follows consumes its attempt if it reaches the adapters; the
// deferred follow-up runs only when nothing did. Gate is not safe for
// concurrent use.
type Gate struct {
	seq     uint64
	pending *Keystroke
}

// KeyDown records a keydown and returns the keystroke a follow-up should
// be scheduled for, or nil. Synthetic keydowns are ignored; a genuine
// non-trigger key drops the pending keystroke.
func (g *Gate) KeyDown(ev surface.Event) *Keystroke {
	if ev.Synthetic {
		return nil
	}
	if !IsTriggerKey(ev.Key) {
		g.pending = nil
		return nil
	}
	g.seq++
	g.pending = &Keystroke{Seq: g.seq, Target: ev.Target}
	return g.pending
}

// Attempted marks the pending keystroke, if any, as having made its
// attempt. Inputs without a pending keystroke (paste, IME commit) are not
// tracked.
func (g *Gate) Attempted() {
	if g.pending != nil {
		g.pending.attempted = true
	}
}

// FollowUp reports whether the deferred check for ks should run, and if so
// consumes the attempt. Superseded keystrokes do not run.
func (g *Gate) FollowUp(ks *Keystroke) bool {
	if ks == nil || g.pending != ks || ks.attempted {
		return false
	}
	ks.attempted = true
	g.pending = nil
	return true
}

// Pending returns the open keystroke, or nil.
func (g *Gate) Pending() *Keystroke { return g.pending }

// Reset drops any pending keystroke.
func (g *Gate) Reset() { g.pending = nil }
