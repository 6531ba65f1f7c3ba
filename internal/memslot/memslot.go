// Package memslot is the narrow external collaborator contract for the
// guest-memory slot translator (spec.md §1): the core never validates
// guest addresses itself, it only consumes already-validated host
// pointers tagged with a group id used solely for resource-release
// callbacks back to the device.
package memslot

import "unsafe"

// GroupID tags a validated pointer with the memory-slot group it came
// from, so the device can be told to release the right resources when
// the core is done with a buffer.
type GroupID uint32

// Translator validates a guest address + size against the currently
// attached memory slots and returns a host-mapped pointer. Implemented
// outside this core; a test double lives in mock_test.go.
type Translator interface {
	Validate(group GroupID, guestAddr uint64, size uint32) (unsafe.Pointer, error)
	// Release tells the device a previously-validated buffer is no
	// longer referenced by the core, identified by its group tag.
	Release(group GroupID, guestAddr uint64)
}
