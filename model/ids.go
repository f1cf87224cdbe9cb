// Copyright © 2024-2025 Trailmark Labs.
// Use is governed by a BSD-style license found in the LICENSE file.

package model

// ids.go defines the arena-style entity identifiers used by every
// entity kind in the project. Each identifier packs an index (used as
// the map/slice key for the entity's storage) and an edition (bumped on
// dispose) so that a reference captured before a deletion can be told
// apart from a newly created entity that reused the same index -- the
// same scheme the teacher engine uses for its own entities, generalized
// here to five independent id spaces (one per entity kind) instead of one.
// See http://bitsquid.blogspot.ca/2014/08/building-data-oriented-entity-system.html

const (
	idBits     = 20                   // index bits: max 1048575 live entities per kind.
	edBits     = 12                   // edition bits: max 4096 recycles per index.
	maxIndex   = (1 << idBits) - 1    // mask and max active entities.
	maxEdition = (1 << edBits) - 1    // mask and max dispose/reuse cycles.
	maxFree    = 1 << (edBits - 1)    // start recycling once this many ids are free.
)

type rawID uint32

func makeRawID(index uint32, edition uint16) rawID {
	return rawID(index | uint32(edition)<<idBits)
}

func (id rawID) index() uint32    { return uint32(id) & maxIndex }
func (id rawID) edition() uint16  { return uint16((uint32(id) >> idBits) & maxEdition) }

// idPool allocates and recycles one kind's identifiers.
type idPool struct {
	editions []uint16 // per-index edition, grows as entities are allocated.
	free     []uint32 // indices ready for reuse once len(free) > maxFree.
}

// create returns a fresh id, allocating a new index unless there is a
// large enough backlog of disposed indices to recycle from.
func (p *idPool) create() rawID {
	var index uint32
	if len(p.free) > maxFree {
		index = p.free[0]
		p.free = p.free[1:]
	} else {
		p.editions = append(p.editions, 0)
		index = uint32(len(p.editions) - 1)
		if index > maxIndex {
			if len(p.free) == 0 {
				panic("model: entity identifiers exhausted")
			}
			index = p.free[0]
			p.free = p.free[1:]
		}
	}
	return makeRawID(index, p.editions[index])
}

// valid reports whether id was created by this pool and has not since
// been disposed (and possibly reallocated under the same index).
func (p *idPool) valid(id rawID) bool {
	i := id.index()
	if i >= uint32(len(p.editions)) {
		return false
	}
	return p.editions[i] == id.edition()
}

// dispose invalidates id and queues its index for reuse.
func (p *idPool) dispose(id rawID) {
	i := id.index()
	if i >= uint32(len(p.editions)) {
		return
	}
	p.editions[i]++
	p.free = append(p.free, i)
}

// Typed identifiers. Each entity kind gets its own type so that a
// WorldPointID can never be passed where a ViewpointID is expected.

type WorldPointID rawID
type LineID rawID
type ViewpointID rawID
type ImagePointID rawID
type ConstraintID rawID
