package parsetree

import (
	"sync"
)

// DefaultRetain is how many recent trees are kept per uri.
const DefaultRetain = 4

// Retainer keeps the most recent trees of each uri for incremental reparse.
// Retained trees are never handed out directly; Base returns clones.
type Retainer struct {
	mu    sync.Mutex
	keep  int
	trees map[string][]*Tree
}

// NewRetainer creates a Retainer keeping up to keep trees per uri.
func NewRetainer(keep int) *Retainer {
	if keep <= 0 {
		keep = DefaultRetain
	}
	return &Retainer{
		keep:  keep,
		trees: make(map[string][]*Tree),
	}
}

// Put takes ownership of t, closing the oldest tree of its uri when full.
func (r *Retainer) Put(t *Tree) {
	r.mu.Lock()
	defer r.mu.Unlock()

	list := r.trees[t.URI]
	for _, existing := range list {
		if existing.Version == t.Version {
			// Same key built twice; keep the first.
			if existing != t {
				t.Close()
			}
			return
		}
	}

	list = append(list, t)
	for len(list) > r.keep {
		list[0].Close()
		list = list[1:]
	}
	r.trees[t.URI] = list
}

// Base returns a clone of the retained tree for (uri, version), or nil.
// The caller must Close the clone.
func (r *Retainer) Base(uri string, version int) *Tree {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, t := range r.trees[uri] {
		if t.Version == version {
			return t.clone()
		}
	}
	return nil
}

// Latest returns a clone of the newest retained tree for uri, or nil.
// The caller must Close the clone.
func (r *Retainer) Latest(uri string) *Tree {
	r.mu.Lock()
	defer r.mu.Unlock()

	list := r.trees[uri]
	if len(list) == 0 {
		return nil
	}
	newest := list[0]
	for _, t := range list[1:] {
		if t.Version > newest.Version {
			newest = t
		}
	}
	return newest.clone()
}

// Drop closes and forgets every tree of uri.
func (r *Retainer) Drop(uri string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, t := range r.trees[uri] {
		t.Close()
	}
	delete(r.trees, uri)
}

// Close releases every retained tree.
func (r *Retainer) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()

	for uri, list := range r.trees {
		for _, t := range list {
			t.Close()
		}
		delete(r.trees, uri)
	}
}
