package frametree

import (
	"sync"
)

// NodeID identifies one node of the tree, and therefore one distinct
// stack-from-the-root. Root is the empty stack.
type NodeID uint64

const Root NodeID = 0

type (
	nodeKey struct {
		frame  uint64
		parent NodeID
	}

	// Tree interns ordered sequences of frame IDs into a shared prefix
	// tree. Each distinct (frame, parent) pair maps to exactly one node,
	// so two stacks sharing a prefix share the prefix's nodes and a whole
	// stack is represented by the single ID of its deepest node.
	//
	// The tree only ever grows; nothing is removed for the lifetime of
	// the process.
	Tree struct {
		mu    sync.RWMutex
		index map[nodeKey]NodeID
		next  NodeID
	}
)

func New() *Tree {
	return &Tree{
		index: make(map[nodeKey]NodeID),
		next:  Root + 1,
	}
}

// Intern resolves the node ID for the frame sequence rooted at parent,
// creating any missing nodes. Frames are ordered outermost first.
// Re-interning a sequence always yields the same ID and does not grow
// the tree. Safe for concurrent use.
func (t *Tree) Intern(frames []uint64, parent NodeID) NodeID {
	id := parent
	for _, f := range frames {
		id = t.child(id, f)
	}
	return id
}

func (t *Tree) child(parent NodeID, frame uint64) NodeID {
	key := nodeKey{frame: frame, parent: parent}
	t.mu.RLock()
	id, ok := t.index[key]
	t.mu.RUnlock()
	if ok {
		return id
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	// Another goroutine may have inserted the same node between the read
	// and write locks.
	if id, ok := t.index[key]; ok {
		return id
	}
	id = t.next
	t.next++
	t.index[key] = id
	return id
}

// Size returns the number of nodes, excluding the root.
func (t *Tree) Size() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.index)
}
