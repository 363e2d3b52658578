// Package tls implements the per-thread local storage slots the scheduler
// swaps on every context switch.
package tls

import (
	"errors"
	"fmt"
)

// NumSlots is the number of slots in every Block.
const NumSlots = 8

// DestructorIterations bounds how many passes RunDestructors makes when
// destructors store new values.
const DestructorIterations = 4

// BlockSize is the amount of backing storage a thread's TLS block occupies
// in its TLS region.
const BlockSize = NumSlots * 8

var (
	// ErrNoSlots is returned when every key is in use.
	ErrNoSlots = errors.New("tls: no free slots")
	// ErrBadKey is returned for keys that are out of range or not allocated.
	ErrBadKey = errors.New("tls: invalid key")
)

// Key indexes a slot in every thread's Block.
type Key int

// Block is one thread's set of slots.
type Block struct {
	slots [NumSlots]any
}

// Get returns the value in slot k, or nil.
func (b *Block) Get(k Key) any {
	if b == nil || k < 0 || int(k) >= NumSlots {
		return nil
	}
	return b.slots[k]
}

// Set stores v in slot k.
func (b *Block) Set(k Key, v any) error {
	if k < 0 || int(k) >= NumSlots {
		return fmt.Errorf("set slot %d: %w", k, ErrBadKey)
	}
	b.slots[k] = v
	return nil
}

// Keys allocates slot indices shared by all threads of one scheduler.
type Keys struct {
	used  [NumSlots]bool
	dtors [NumSlots]func(any)
}

// Create allocates a key. dtor, if non-nil, runs at thread exit for threads
// whose slot holds a non-nil value.
func (ks *Keys) Create(dtor func(any)) (Key, error) {
	for i := range ks.used {
		if !ks.used[i] {
			ks.used[i] = true
			ks.dtors[i] = dtor
			return Key(i), nil
		}
	}
	return -1, ErrNoSlots
}

// Delete releases a key. Values still stored under it are not destroyed.
func (ks *Keys) Delete(k Key) error {
	if k < 0 || int(k) >= NumSlots || !ks.used[k] {
		return fmt.Errorf("delete key %d: %w", k, ErrBadKey)
	}
	ks.used[k] = false
	ks.dtors[k] = nil
	return nil
}

// RunDestructors clears b, calling each key's destructor with the old value.
// Destructors may store new values; those are destroyed on the next pass,
// up to DestructorIterations passes.
func (ks *Keys) RunDestructors(b *Block) {
	for pass := 0; pass < DestructorIterations; pass++ {
		again := false
		for i := range b.slots {
			v := b.slots[i]
			if v == nil {
				continue
			}
			b.slots[i] = nil
			if ks.used[i] && ks.dtors[i] != nil {
				ks.dtors[i](v)
				again = true
			}
		}
		if !again {
			return
		}
	}
}
