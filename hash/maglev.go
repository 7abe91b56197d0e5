package hash

import (
	"fmt"
	"math/big"
	"sort"
)

// primes feeds the lookup-table sizing: Maglev's table size is always
// prime, chosen as the smallest entry >= the requested size (capping at
// 997 when the request exceeds the table).
var primes = []int64{
	2, 3, 5, 7, 11, 13, 17, 19, 23, 29, 31, 37, 41, 43, 47, 53, 59, 61, 67, 71,
	73, 79, 83, 89, 97, 101, 103, 107, 109, 113, 127, 131, 137, 139, 149, 151,
	157, 163, 167, 173, 179, 181, 191, 193, 197, 199, 211, 223, 227, 229, 233,
	239, 241, 251, 257, 263, 269, 271, 277, 281, 283, 293, 307, 311, 313, 317,
	331, 337, 347, 349, 353, 359, 367, 373, 379, 383, 389, 397, 401, 409, 419,
	421, 431, 433, 439, 443, 449, 457, 461, 463, 467, 479, 487, 491, 499, 503,
	509, 521, 523, 541, 547, 557, 563, 569, 571, 577, 587, 593, 599, 601, 607,
	613, 617, 619, 631, 641, 643, 647, 653, 659, 661, 673, 677, 683, 691, 701,
	709, 719, 727, 733, 739, 743, 751, 757, 761, 769, 773, 787, 797, 809, 811,
	821, 823, 827, 829, 839, 853, 857, 859, 863, 877, 881, 883, 887, 907, 911,
	919, 929, 937, 941, 947, 953, 967, 971, 977, 983, 991, 997,
}

// DefaultVirtualEntryCount sets how many table slots each node targets;
// the table size is the smallest prime >= nodes * this count.
const DefaultVirtualEntryCount = 16

// Maglev is Google's Maglev consistent-hash: every node fills a fixed-size
// permutation table via an (offset, skip) pair, and the table is built by
// round-robin preference so table entries spread near-evenly across
// nodes with at most O(1/entry_count) churn when a node is added or
// removed.
type Maglev struct {
	base
	virtualEntryCount int
	table             []int // index -> index into base.nodes at build time
}

// NewMaglev constructs an empty Maglev manager with the default virtual
// entry count. A nil hashFn uses DefaultFunc.
func NewMaglev(name string, hashFn Func) *Maglev {
	return &Maglev{base: newBase(name, hashFn), virtualEntryCount: DefaultVirtualEntryCount}
}

// NewMaglevSized is NewMaglev with an explicit virtual entry count per
// node (larger values trade rehash cost for smoother load balance).
func NewMaglevSized(name string, hashFn Func, virtualEntryCount int) *Maglev {
	m := NewMaglev(name, hashFn)
	m.virtualEntryCount = virtualEntryCount
	return m
}

func (m *Maglev) AddNode(n *Node) {
	if m.addNode(n) {
		m.rehash()
	}
}

func (m *Maglev) AddNodes(nodes []*Node) {
	changed := false
	for _, n := range nodes {
		if m.addNode(n) {
			changed = true
		}
	}
	if changed {
		m.rehash()
	}
}

func (m *Maglev) RemoveNode(key string) {
	if m.removeNode(key) {
		m.rehash()
	}
}

func (m *Maglev) EnableNode(key string) {
	if m.enableNode(key) {
		m.rehash()
	}
}

func (m *Maglev) DisableNode(key string) {
	if m.disableNode(key) {
		m.rehash()
	}
}

func (m *Maglev) Reset() {
	m.reset()
	m.table = nil
}

func entryCountFor(n int) int64 {
	target := int64(n)
	idx := sort.Search(len(primes), func(i int) bool { return primes[i] >= target })
	if idx == len(primes) {
		idx = len(primes) - 1
	}
	return primes[idx]
}

func modBig(h *big.Int, m int64) int64 {
	return new(big.Int).Mod(h, big.NewInt(m)).Int64()
}

// rehash rebuilds the lookup table from scratch: one (offset, skip)
// permutation per node, filled round-robin until every slot is taken.
func (m *Maglev) rehash() {
	m.table = nil
	if len(m.nodes) == 0 {
		return
	}

	entryCount := entryCountFor(len(m.nodes) * m.virtualEntryCount)

	permutation := make([][]int64, len(m.nodes))
	for i, n := range m.nodes {
		offset := modBig(m.hashFn(fmt.Sprintf("cat%s", n.Key)), entryCount)
		skip := modBig(m.hashFn(fmt.Sprintf("lee%s", n.Key)), entryCount-1) + 1

		perm := make([]int64, entryCount)
		for j := int64(0); j < entryCount; j++ {
			perm[j] = (offset + j*skip) % entryCount
		}
		permutation[i] = perm
	}

	next := make([]int64, len(m.nodes))
	entries := make([]int, entryCount)
	for i := range entries {
		entries[i] = -1
	}

	filled := int64(0)
	for {
		for i := range m.nodes {
			c := permutation[i][next[i]]
			for entries[c] != -1 {
				next[i]++
				c = permutation[i][next[i]]
			}
			entries[c] = i
			next[i]++
			filled++
			if filled == entryCount {
				m.table = entries
				return
			}
		}
	}
}

// GetNode hashes key (with the same "cat" prefix the offset computation
// uses) and returns the node owning that table slot.
func (m *Maglev) GetNode(key string) *Node {
	if len(m.table) == 0 {
		return nil
	}
	idx := modBig(m.hashFn(fmt.Sprintf("cat%s", key)), int64(len(m.table)))
	return m.nodes[m.table[idx]]
}

// Filter returns an independent Maglev scoped to the given node keys.
func (m *Maglev) Filter(keys map[string]bool) Manager {
	out := NewMaglevSized(m.name, m.hashFn, m.virtualEntryCount)
	for k, n := range m.objects {
		if keys[k] {
			out.objects[k] = n
		}
	}
	for _, n := range m.nodes {
		if keys[n.Key] {
			out.nodes = append(out.nodes, n)
		}
	}
	out.rehash()
	return out
}

// Clone returns a copy whose table and membership can be mutated
// independently of the original.
func (m *Maglev) Clone() Manager {
	out := NewMaglevSized(m.name, m.hashFn, m.virtualEntryCount)
	for k, n := range m.objects {
		out.objects[k] = n
	}
	out.nodes = append([]*Node(nil), m.nodes...)
	out.table = append([]int(nil), m.table...)
	return out
}
