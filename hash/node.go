// Package hash implements the consistent-hashing placement layer used to
// direct keys to backend nodes: a ring (virtual-key) hash and a Maglev
// hash, both built against a common Manager interface so callers can
// swap algorithms without touching call sites.
package hash

import (
	"crypto/md5" //nolint:gosec // MD5 used only as a deterministic placement hash, not for security
	"math/big"
)

// Func maps a string key to a placement hash. The default is MD5 reduced
// to a big integer; callers may supply another Func to a Manager
// constructor for a cheaper or differently-distributed hash. Two
// processes using the same Func and node set compute identical
// placements.
type Func func(key string) *big.Int

// DefaultFunc is MD5(key) interpreted as a big-endian integer.
func DefaultFunc(key string) *big.Int {
	sum := md5.Sum([]byte(key)) //nolint:gosec
	return new(big.Int).SetBytes(sum[:])
}

// Node is one placement target: a stable key, a ring weight (more
// virtual keys = more traffic share), and an enabled flag a caller can
// flip without fully removing the node from the manager.
type Node struct {
	Key     string
	Weight  int
	Enabled bool

	hashedKey *big.Int
}

// DefaultWeight is the virtual-key count a node contributes unless a
// caller sets an explicit weight.
const DefaultWeight = 16

// NewNode builds an enabled node with DefaultWeight, hashed with fn.
func NewNode(key string, fn Func) *Node {
	return &Node{Key: key, Weight: DefaultWeight, Enabled: true, hashedKey: fn(key)}
}

// NewNodeWeighted builds a node with an explicit weight.
func NewNodeWeighted(key string, weight int, fn Func) *Node {
	return &Node{Key: key, Weight: weight, Enabled: true, hashedKey: fn(key)}
}
