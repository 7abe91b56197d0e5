package hash

// Manager is the interface both Ring and Maglev satisfy:
// add/remove/enable/disable a node, get the node owning a key, and
// clone/filter for scoped or defensive copies.
type Manager interface {
	Name() string
	AddNode(n *Node)
	AddNodes(nodes []*Node)
	RemoveNode(key string)
	EnableNode(key string)
	DisableNode(key string)
	Reset()
	GetNode(key string) *Node
	Nodes() []*Node
	Filter(keys map[string]bool) Manager
	Clone() Manager
}

// base holds the bookkeeping every Manager implementation shares:
// registered nodes by key, the enabled subset in insertion order, and
// the hash function. rehash is implemented per algorithm.
type base struct {
	name    string
	hashFn  Func
	objects map[string]*Node
	nodes   []*Node
}

func newBase(name string, hashFn Func) base {
	if hashFn == nil {
		hashFn = DefaultFunc
	}
	return base{name: name, hashFn: hashFn, objects: make(map[string]*Node)}
}

func (b *base) Name() string { return b.name }

func (b *base) Nodes() []*Node {
	out := make([]*Node, len(b.nodes))
	copy(out, b.nodes)
	return out
}

func (b *base) addNode(n *Node) bool {
	if _, exists := b.objects[n.Key]; exists {
		return false
	}
	b.objects[n.Key] = n
	if n.Enabled {
		b.nodes = append(b.nodes, n)
	}
	return true
}

func (b *base) removeNode(key string) bool {
	n, ok := b.objects[key]
	if !ok {
		return false
	}
	delete(b.objects, key)
	b.removeFromEnabled(n)
	return true
}

func (b *base) removeFromEnabled(n *Node) {
	for i, existing := range b.nodes {
		if existing == n {
			b.nodes = append(b.nodes[:i], b.nodes[i+1:]...)
			return
		}
	}
}

func (b *base) enableNode(key string) (changed bool) {
	n, ok := b.objects[key]
	if !ok || n.Enabled {
		return false
	}
	n.Enabled = true
	b.nodes = append(b.nodes, n)
	return true
}

func (b *base) disableNode(key string) (changed bool) {
	n, ok := b.objects[key]
	if !ok || !n.Enabled {
		return false
	}
	n.Enabled = false
	b.removeFromEnabled(n)
	return true
}

func (b *base) reset() {
	b.objects = make(map[string]*Node)
	b.nodes = nil
}
