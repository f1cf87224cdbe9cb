// Copyright © 2024-2025 Trailmark Labs.
// Use is governed by a BSD-style license found in the LICENSE file.

package recon3d

// The core holds plain owned fields; hosts that want change
// notification subscribe a handler here and receive the entity/field
// deltas each mutating call produced (spec.md §9's "Reactive/observable
// fields" redesign: a thin event-bus adapter at the host boundary, no
// transparent reactivity inside the core).

// FieldTag names which field of an entity changed.
type FieldTag string

const (
	FieldOptimizedXYZ FieldTag = "optimizedXyz"
	FieldPose         FieldTag = "pose"
	FieldFocalLength  FieldTag = "focalLength"
)

// Change is one entity-field delta.
type Change struct {
	EntityKind string
	EntityID   uint32
	Field      FieldTag
}

// Bus fans change sets out to subscribed handlers. It is synchronous
// and single-threaded like the rest of the core (spec.md §5); handlers
// run on the mutating call's own stack, after the mutation completes.
type Bus struct {
	handlers []func([]Change)
}

// Subscribe registers a handler for future change sets.
func (b *Bus) Subscribe(handler func([]Change)) {
	b.handlers = append(b.handlers, handler)
}

func (b *Bus) publish(changes []Change) {
	if len(changes) == 0 {
		return
	}
	for _, h := range b.handlers {
		h(changes)
	}
}
