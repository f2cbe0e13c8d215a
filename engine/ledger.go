package engine

import "fmt"

// Kind identifies a type of native object.
type Kind int

const (
	KindEngine Kind = iota
	KindFile
	KindDir
	KindInfo
	numKinds
)

func (k Kind) String() string {
	switch k {
	case KindEngine:
		return "engine"
	case KindFile:
		return "file"
	case KindDir:
		return "dir"
	case KindInfo:
		return "info"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// Ledger counts native objects an engine has handed out and not yet had back.
// Engines use it to catch double releases; tests use it to prove that nothing
// leaks. The zero value is ready to use.
type Ledger struct {
	live      [numKinds]int
	allocated [numKinds]int
}

// Acquire records the allocation of an object.
func (l *Ledger) Acquire(kind Kind) {
	l.live[kind]++
	l.allocated[kind]++
}

// Release records that an object was freed. Releasing more objects than were
// acquired is a programming error and panics.
func (l *Ledger) Release(kind Kind) {
	if l.live[kind] == 0 {
		panic(fmt.Sprintf("engine: %s object released more times than it was allocated", kind))
	}
	l.live[kind]--
}

// Live returns how many objects of `kind` are currently allocated.
func (l *Ledger) Live(kind Kind) int {
	return l.live[kind]
}

// LiveTotal returns how many objects of any kind are currently allocated.
func (l *Ledger) LiveTotal() int {
	total := 0
	for _, n := range l.live {
		total += n
	}
	return total
}

// Allocated returns how many objects of `kind` have ever been allocated.
func (l *Ledger) Allocated(kind Kind) int {
	return l.allocated[kind]
}

// Accountant is implemented by drivers that keep a [Ledger].
type Accountant interface {
	Ledger() *Ledger
}
