package arm7

import "github.com/fpgaprobe/hostrt/probeerr"

// Kind identifies a breakpoint's instruction-set and enforcement
// mechanism, per spec.md §3's breakpoint set.
type Kind int

const (
	HardARM Kind = iota
	HardThumb
	SoftARM
	SoftThumb
)

func (k Kind) isHard() bool  { return k == HardARM || k == HardThumb }
func (k Kind) isThumb() bool { return k == HardThumb || k == SoftThumb }

// bkptARM is the `BKPT #0` encoding used as the software-breakpoint trap
// pattern on instruction fetch; bkptThumb is Thumb's `bkpt #0`.
const (
	bkptARM   uint32 = 0xe1200070
	bkptThumb uint32 = 0xbe00
)

// breakpoint records one installed trap: its address and, for software
// breakpoints, the original code word replaced by the trap instruction.
type breakpoint struct {
	addr        uint32
	kind        Kind
	savedCode   uint32
	haveSaved   bool
}

// Breakpoints is a mapping from (address, kind) to an optional saved code
// word, with the watchpoint-unit budget enforced per spec.md §4.3: each
// HARD breakpoint takes one unit (at most 2), all SOFT_ARM breakpoints
// share one unit and all SOFT_THUMB breakpoints share another, bounded
// to ≤2 units in total.
type Breakpoints struct {
	set map[[2]uint64]*breakpoint // key: (addr, kind)
}

// NewBreakpoints returns an empty breakpoint set.
func NewBreakpoints() *Breakpoints {
	return &Breakpoints{set: make(map[[2]uint64]*breakpoint)}
}

func key(addr uint32, kind Kind) [2]uint64 { return [2]uint64{uint64(addr), uint64(kind)} }

// checkPolicy returns an error if adding a breakpoint of kind would
// exceed the ≤2 watchpoint-unit budget.
func (b *Breakpoints) checkPolicy(addr uint32, kind Kind) error {
	hard := 0
	soft := map[Kind]bool{}
	for k, bp := range b.set {
		if k == key(addr, kind) {
			continue // replacing an existing entry at the same (addr, kind) is free
		}
		if bp.kind.isHard() {
			hard++
		} else {
			soft[bp.kind] = true
		}
	}
	if kind.isHard() {
		hard++
	} else {
		soft[kind] = true
	}
	if hard > 2 {
		return probeerr.Wrap(probeerr.KindProgrammerPolicy, "arm7", "set_breakpoint", "more than 2 hardware breakpoints requested", nil)
	}
	units := hard
	for range soft {
		units++
	}
	if units > 2 {
		return probeerr.Wrap(probeerr.KindProgrammerPolicy, "arm7", "set_breakpoint", "breakpoint set exceeds the 2 watchpoint-unit budget", nil)
	}
	return nil
}

// Add records a breakpoint after a successful policy check. savedCode is
// ignored for HARD breakpoints.
func (b *Breakpoints) Add(addr uint32, kind Kind, savedCode uint32, haveSaved bool) error {
	if err := b.checkPolicy(addr, kind); err != nil {
		return err
	}
	b.set[key(addr, kind)] = &breakpoint{addr: addr, kind: kind, savedCode: savedCode, haveSaved: haveSaved}
	return nil
}

// Remove drops a breakpoint, returning its saved code word if it was a
// software breakpoint (so the caller can restore target memory).
func (b *Breakpoints) Remove(addr uint32, kind Kind) (savedCode uint32, haveSaved bool, ok bool) {
	k := key(addr, kind)
	bp, ok := b.set[k]
	if !ok {
		return 0, false, false
	}
	delete(b.set, k)
	return bp.savedCode, bp.haveSaved, true
}

// softwareTrapPattern returns the BKPT data pattern installed at a
// software breakpoint's address for the given ISA.
func softwareTrapPattern(kind Kind) uint32 {
	if kind.isThumb() {
		return bkptThumb
	}
	return bkptARM
}

// hardKinds returns the addresses of every installed hardware breakpoint,
// in an arbitrary but stable-for-a-given-set order driven by map
// iteration; callers needing unit assignment stability should not rely on
// ordering across calls.
func (b *Breakpoints) hardKinds() []*breakpoint {
	var out []*breakpoint
	for _, bp := range b.set {
		if bp.kind.isHard() {
			out = append(out, bp)
		}
	}
	return out
}
