package domain

// Counters is the per-collection allocation cursor. The value stored for a
// collection is the last ID handed out, so the next ID is always value+1 and
// IDs are dense from 1.
type Counters map[EntityType]uint64

// NewCounters returns a zeroed allocator for every ledger collection.
func NewCounters() Counters {
	c := Counters{EntityProduct: 0}
	for _, kind := range RoleKinds() {
		c[kind.Entity()] = 0
	}
	return c
}

// Next allocates and returns the next ID for entity.
func (c Counters) Next(entity EntityType) uint64 {
	c[entity]++
	return c[entity]
}

// Current returns the last ID allocated for entity (zero when none).
func (c Counters) Current(entity EntityType) uint64 {
	return c[entity]
}

// Contains reports whether id has been allocated for entity.
func (c Counters) Contains(entity EntityType, id uint64) bool {
	return id >= 1 && id <= c[entity]
}

// Clone copies the allocator.
func (c Counters) Clone() Counters {
	out := make(Counters, len(c))
	for k, v := range c {
		out[k] = v
	}
	return out
}

// Counts projects the allocator onto the public count view.
func (c Counters) Counts() Counts {
	return Counts{
		Products:      c[EntityProduct],
		Suppliers:     c[EntitySupplier],
		Manufacturers: c[EntityManufacturer],
		Distributors:  c[EntityDistributor],
		Retailers:     c[EntityRetailer],
	}
}
