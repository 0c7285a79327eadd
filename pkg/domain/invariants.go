package domain

import "fmt"

// CheckProductState verifies the structural invariants of a single product
// record: a role field is set iff the product reached that field's stage, a
// timestamp is set iff its stage was entered, and entered stages carry
// non-decreasing timestamps.
func CheckProductState(state ProductState) error {
	p, ts := state.Product, state.Timestamps
	if !p.Stage.Valid() {
		return fmt.Errorf("product %d has invalid stage %d", p.ID, uint8(p.Stage))
	}
	for _, kind := range RoleKinds() {
		reached := p.Stage >= kind.Stage()
		bound := p.RoleID(kind) != 0
		if reached != bound {
			return fmt.Errorf("product %d at %s has %s role bound=%t", p.ID, p.Stage, kind, bound)
		}
	}
	var prev Stage
	for i, s := range Stages() {
		entered := p.Stage >= s
		stamped := !ts.At(s).IsZero()
		if entered != stamped {
			return fmt.Errorf("product %d at %s has %s timestamp set=%t", p.ID, p.Stage, s, stamped)
		}
		if !entered {
			continue
		}
		if i > 0 && ts.At(s).Before(ts.At(prev)) {
			return fmt.Errorf("product %d entered %s before %s", p.ID, s, prev)
		}
		prev = s
	}
	return nil
}
