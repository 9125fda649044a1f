package canon

// UnionFind is a disjoint-set forest over string handles with path
// compression. The root of a set is its representative.
type UnionFind struct {
	parent map[string]string
	// prefer reports whether a should become root over b. When it returns
	// false for both orders, the root of the first Union argument is kept.
	prefer func(a, b string) bool
}

// NewUnionFind returns an empty forest. prefer may be nil.
func NewUnionFind(prefer func(a, b string) bool) *UnionFind {
	return &UnionFind{
		parent: make(map[string]string),
		prefer: prefer,
	}
}

// Add inserts x as a singleton set. Adding an existing handle is a no-op.
func (u *UnionFind) Add(x string) {
	if _, ok := u.parent[x]; !ok {
		u.parent[x] = x
	}
}

// Has reports whether x was added.
func (u *UnionFind) Has(x string) bool {
	_, ok := u.parent[x]
	return ok
}

// Find returns the root of x, adding x first when unknown.
func (u *UnionFind) Find(x string) string {
	u.Add(x)
	root := x
	for u.parent[root] != root {
		root = u.parent[root]
	}
	for x != root {
		next := u.parent[x]
		u.parent[x] = root
		x = next
	}
	return root
}

// Connected reports whether a and b share a root.
func (u *UnionFind) Connected(a, b string) bool {
	return u.Find(a) == u.Find(b)
}

// Union joins the sets of a and b and returns the surviving root and
// whether the sets were distinct.
func (u *UnionFind) Union(a, b string) (string, bool) {
	ra, rb := u.Find(a), u.Find(b)
	if ra == rb {
		return ra, false
	}
	if u.prefer != nil && u.prefer(rb, ra) {
		u.parent[ra] = rb
		return rb, true
	}
	u.parent[rb] = ra
	return ra, true
}

// Groups returns every set keyed by its root.
func (u *UnionFind) Groups() map[string][]string {
	groups := make(map[string][]string)
	for x := range u.parent {
		root := u.Find(x)
		groups[root] = append(groups[root], x)
	}
	return groups
}

// Len returns the number of handles.
func (u *UnionFind) Len() int {
	return len(u.parent)
}
