package hash

import (
	"fmt"
	"math/big"
	"sort"
)

// Ring is a consistent-hash ring: each node contributes Weight virtual
// keys hash("{key}-{i}") for i in [0, Weight), and a lookup walks to the
// first virtual key clockwise of the target's hash, wrapping to the
// first entry past the end.
type Ring struct {
	base

	lookup     map[string]*Node // virtual key (string form) -> owning node
	sortedKeys []*big.Int
}

// NewRing constructs an empty ring. A nil hashFn uses DefaultFunc.
func NewRing(name string, hashFn Func) *Ring {
	return &Ring{base: newBase(name, hashFn), lookup: make(map[string]*Node)}
}

func (r *Ring) AddNode(n *Node) {
	if r.addNode(n) {
		r.rehash()
	}
}

func (r *Ring) AddNodes(nodes []*Node) {
	changed := false
	for _, n := range nodes {
		if r.addNode(n) {
			changed = true
		}
	}
	if changed {
		r.rehash()
	}
}

func (r *Ring) RemoveNode(key string) {
	if r.removeNode(key) {
		r.rehash()
	}
}

func (r *Ring) EnableNode(key string) {
	if r.enableNode(key) {
		r.rehash()
	}
}

func (r *Ring) DisableNode(key string) {
	if r.disableNode(key) {
		r.rehash()
	}
}

func (r *Ring) Reset() {
	r.reset()
	r.lookup = make(map[string]*Node)
	r.sortedKeys = nil
}

// rehash recomputes the virtual-key ring from scratch on every membership
// mutation rather than updating incrementally; node membership changes
// are rare relative to GetNode calls.
func (r *Ring) rehash() {
	r.lookup = make(map[string]*Node)
	r.sortedKeys = nil

	if len(r.nodes) == 0 {
		return
	}

	seen := make(map[string]bool)
	for _, n := range r.nodes {
		for i := 0; i < n.Weight; i++ {
			vk := r.hashFn(fmt.Sprintf("%s-%d", n.Key, i))
			s := vk.String()
			if seen[s] {
				// Virtual-key collision: first writer wins.
				continue
			}
			seen[s] = true
			r.lookup[s] = n
			r.sortedKeys = append(r.sortedKeys, vk)
		}
	}
	sort.Slice(r.sortedKeys, func(i, j int) bool { return r.sortedKeys[i].Cmp(r.sortedKeys[j]) < 0 })
}

// GetNode returns the node owning key: hash key, then binary-search for
// the first virtual key >= that hash, wrapping around to index 0 past
// the end of the ring.
func (r *Ring) GetNode(key string) *Node {
	if len(r.sortedKeys) == 0 {
		return nil
	}

	target := r.hashFn(key)
	idx := sort.Search(len(r.sortedKeys), func(i int) bool {
		return r.sortedKeys[i].Cmp(target) >= 0
	})
	if idx == len(r.sortedKeys) {
		idx = 0
	}
	return r.lookup[r.sortedKeys[idx].String()]
}

// Filter returns an independent Ring scoped to the given node keys.
func (r *Ring) Filter(keys map[string]bool) Manager {
	out := NewRing(r.name, r.hashFn)
	for k, n := range r.objects {
		if keys[k] {
			out.objects[k] = n
		}
	}
	for _, n := range r.nodes {
		if keys[n.Key] {
			out.nodes = append(out.nodes, n)
		}
	}
	out.rehash()
	return out
}

// Clone returns a deep-enough copy that mutating the clone's membership
// never affects the original; node values themselves are shared.
func (r *Ring) Clone() Manager {
	out := NewRing(r.name, r.hashFn)
	for k, n := range r.objects {
		out.objects[k] = n
	}
	out.nodes = append([]*Node(nil), r.nodes...)
	for k, n := range r.lookup {
		out.lookup[k] = n
	}
	out.sortedKeys = append([]*big.Int(nil), r.sortedKeys...)
	return out
}
