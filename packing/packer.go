// Package packing assigns module units to slots of fixed-capacity engraving arrays.
//
// Units of one request are packed contiguously in selection order and may spill
// over an array boundary. Every unit remembers the array it was first packed
// into (OriginalArraySequence); later redistribution only moves the current
// array/slot.
package packing

import (
	"errors"
	"fmt"
	"sort"
)

// DefaultCapacity is the number of module slots on one engraving array.
const DefaultCapacity = 8

var (
	ErrInvalidCapacity  = errors.New("array capacity must be positive")
	ErrInvalidStartSlot = errors.New("start slot outside the usable slots of the first array")
	ErrNoUsableSlots    = errors.New("every slot of the array is marked faulty")
	ErrInvalidQuantity  = errors.New("quantity must not be negative")
	ErrNothingToPack    = errors.New("no units to pack")
)

// Request is one selected line of module supply.
type Request struct {
	Design   string
	Revision string
	SKU      string
	OrderRef string
	LEDText  string
	Quantity int
}

// Options controls slot assignment.
type Options struct {
	// Capacity is the number of slots per array; DefaultCapacity when zero.
	Capacity int
	// StartSlot is the first slot used on the first array; 1 when zero.
	StartSlot int
	// FaultySlots are skipped on every array.
	FaultySlots []int
	// ArrayFaultySlots are skipped only on the array they are keyed by, in
	// addition to FaultySlots.
	ArrayFaultySlots map[int][]int
	// FirstArray is the sequence number of the first array filled; 1 when zero.
	FirstArray int
	// SealedArrays never receive units, e.g. arrays already engraved.
	SealedArrays []int
	// MinimizeTransitions regroups whole requests by design before packing.
	MinimizeTransitions bool
}

func (o Options) withDefaults() Options {
	if o.Capacity == 0 {
		o.Capacity = DefaultCapacity
	}
	if o.StartSlot == 0 {
		o.StartSlot = 1
	}
	if o.FirstArray == 0 {
		o.FirstArray = 1
	}
	return o
}

// Unit is one physical module with its slot assignment.
type Unit struct {
	// RowID identifies a persisted module row; zero while planning.
	RowID        uint
	RequestIndex int
	Design       string
	Revision     string
	SKU          string
	OrderRef     string
	LEDText      string

	ArraySequence         int
	SlotPosition          int
	OriginalArraySequence int
}

// Summary describes a packing for operator preview.
type Summary struct {
	Arrays      int   `json:"arrays"`
	Transitions int   `json:"transitions"`
	SlotCounts  []int `json:"slot_counts"`
}

// Plan is the result of Pack.
type Plan struct {
	Units []Unit
	Summary
}

// cursor walks usable (array, slot) pairs in engraving order.
type cursor struct {
	capacity   int
	faulty     map[int]bool
	arrayFault map[int]map[int]bool
	sealed     map[int]bool
	array      int
	slot       int
}

func newCursor(o Options) (*cursor, error) {
	if o.Capacity <= 0 {
		return nil, ErrInvalidCapacity
	}
	faulty := make(map[int]bool, len(o.FaultySlots))
	for _, s := range o.FaultySlots {
		if s < 1 || s > o.Capacity {
			return nil, fmt.Errorf("faulty slot %d not in [1, %d]", s, o.Capacity)
		}
		faulty[s] = true
	}
	if len(faulty) == o.Capacity {
		return nil, ErrNoUsableSlots
	}
	if o.StartSlot < 1 || o.StartSlot > o.Capacity {
		return nil, fmt.Errorf("start slot %d: %w", o.StartSlot, ErrInvalidStartSlot)
	}
	usable := false
	for s := o.StartSlot; s <= o.Capacity; s++ {
		if !faulty[s] {
			usable = true
			break
		}
	}
	if !usable {
		return nil, fmt.Errorf("start slot %d: %w", o.StartSlot, ErrInvalidStartSlot)
	}
	if o.FirstArray < 1 {
		return nil, fmt.Errorf("first array %d must be positive", o.FirstArray)
	}
	arrayFault := make(map[int]map[int]bool, len(o.ArrayFaultySlots))
	for array, slots := range o.ArrayFaultySlots {
		if array < 1 {
			return nil, fmt.Errorf("faulty slots keyed by array %d, which must be positive", array)
		}
		set := make(map[int]bool, len(slots))
		for _, s := range slots {
			if s < 1 || s > o.Capacity {
				return nil, fmt.Errorf("faulty slot %d of array %d not in [1, %d]", s, array, o.Capacity)
			}
			set[s] = true
		}
		arrayFault[array] = set
	}
	sealed := make(map[int]bool, len(o.SealedArrays))
	for _, a := range o.SealedArrays {
		sealed[a] = true
	}
	array := o.FirstArray
	for sealed[array] {
		array++
	}
	return &cursor{
		capacity:   o.Capacity,
		faulty:     faulty,
		arrayFault: arrayFault,
		sealed:     sealed,
		array:      array,
		slot:       o.StartSlot - 1,
	}, nil
}

// usable reports whether slot of array can hold a unit. An array whose
// slots are all faulty is passed over.
func (c *cursor) usable(array, slot int) bool {
	return !c.faulty[slot] && !c.arrayFault[array][slot]
}

func (c *cursor) next() (array, slot int) {
	for {
		c.slot++
		if c.slot > c.capacity {
			c.array++
			for c.sealed[c.array] {
				c.array++
			}
			c.slot = 1
		}
		if c.usable(c.array, c.slot) {
			return c.array, c.slot
		}
	}
}

// Pack assigns every requested unit to an (array, slot) pair.
func Pack(requests []Request, opts Options) (*Plan, error) {
	opts = opts.withDefaults()
	cur, err := newCursor(opts)
	if err != nil {
		return nil, err
	}

	order := make([]int, len(requests))
	for i := range requests {
		if requests[i].Quantity < 0 {
			return nil, fmt.Errorf("request %d (%s): %w", i, requests[i].SKU, ErrInvalidQuantity)
		}
		order[i] = i
	}
	if opts.MinimizeTransitions {
		order = groupByDesign(requests)
	}

	var units []Unit
	for _, idx := range order {
		req := requests[idx]
		for k := 0; k < req.Quantity; k++ {
			array, slot := cur.next()
			units = append(units, Unit{
				RequestIndex:          idx,
				Design:                req.Design,
				Revision:              req.Revision,
				SKU:                   req.SKU,
				OrderRef:              req.OrderRef,
				LEDText:               req.LEDText,
				ArraySequence:         array,
				SlotPosition:          slot,
				OriginalArraySequence: array,
			})
		}
	}
	if len(units) == 0 {
		return nil, ErrNothingToPack
	}

	return &Plan{Units: units, Summary: Summarize(units)}, nil
}

// groupByDesign returns request indexes with requests of the same design made
// adjacent, designs ordered by first appearance and requests kept in selection
// order within a design.
func groupByDesign(requests []Request) []int {
	rank := make(map[string]int)
	for _, r := range requests {
		if _, ok := rank[r.Design]; !ok {
			rank[r.Design] = len(rank)
		}
	}
	order := make([]int, len(requests))
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(a, b int) bool {
		return rank[requests[order[a]].Design] < rank[requests[order[b]].Design]
	})
	return order
}

// Redistribute reassigns the current array and slot of units, keeping their
// physical order, under new options. OriginalArraySequence is never modified.
func Redistribute(units []Unit, opts Options) ([]Unit, error) {
	opts = opts.withDefaults()
	cur, err := newCursor(opts)
	if err != nil {
		return nil, err
	}

	out := make([]Unit, len(units))
	copy(out, units)
	sortPhysical(out)
	for i := range out {
		out[i].ArraySequence, out[i].SlotPosition = cur.next()
	}
	return out, nil
}

func sortPhysical(units []Unit) {
	sort.SliceStable(units, func(a, b int) bool {
		if units[a].ArraySequence != units[b].ArraySequence {
			return units[a].ArraySequence < units[b].ArraySequence
		}
		return units[a].SlotPosition < units[b].SlotPosition
	})
}

// Summarize counts arrays, per-array occupied slots and design transitions.
// A transition is an occupied slot whose design differs from the previous
// occupied slot of the same array.
func Summarize(units []Unit) Summary {
	if len(units) == 0 {
		return Summary{SlotCounts: []int{}}
	}
	sorted := make([]Unit, len(units))
	copy(sorted, units)
	sortPhysical(sorted)

	first := sorted[0].ArraySequence
	last := sorted[len(sorted)-1].ArraySequence
	s := Summary{
		Arrays:     last - first + 1,
		SlotCounts: make([]int, last-first+1),
	}
	for i, u := range sorted {
		s.SlotCounts[u.ArraySequence-first]++
		if i > 0 && sorted[i-1].ArraySequence == u.ArraySequence && sorted[i-1].Design != u.Design {
			s.Transitions++
		}
	}
	return s
}

// Group is the set of units first packed into the same array.
type Group struct {
	OriginalArraySequence int
	Units                 []Unit
}

// GroupByOriginal groups units by their original array, ordered by that
// sequence and by current position inside each group.
func GroupByOriginal(units []Unit) []Group {
	sorted := make([]Unit, len(units))
	copy(sorted, units)
	sortPhysical(sorted)

	index := make(map[int]int)
	var groups []Group
	for _, u := range sorted {
		i, ok := index[u.OriginalArraySequence]
		if !ok {
			i = len(groups)
			index[u.OriginalArraySequence] = i
			groups = append(groups, Group{OriginalArraySequence: u.OriginalArraySequence})
		}
		groups[i].Units = append(groups[i].Units, u)
	}
	sort.SliceStable(groups, func(a, b int) bool {
		return groups[a].OriginalArraySequence < groups[b].OriginalArraySequence
	})
	return groups
}
