// Package unionfind resolves chains of "merged into" links between cluster
// indices to a current representative.
//
// Merges are monotonic: nothing ever splits a group, so Count never grows.
// Unite is deliberately unbalanced (root(p) always joins root(q)) so that
// the survivor of a merge stays its own representative; path halving in
// Find keeps chains short in practice.
package unionfind

// UnionFind tracks N original indices and the groups they have merged into.
type UnionFind struct {
	id    []int
	count int
}

// New returns a UnionFind over indices 0..n-1, each its own representative.
func New(n int) *UnionFind {
	id := make([]int, n)
	for i := range id {
		id[i] = i
	}
	return &UnionFind{id: id, count: n}
}

// Find returns the representative of p. Every visited node is relinked to
// its grandparent on the way up.
func (u *UnionFind) Find(p int) int {
	for u.id[p] != p {
		u.id[p] = u.id[u.id[p]]
		p = u.id[p]
	}
	return p
}

// Unite merges the groups of p and q, making root(q) the representative of
// the result. It returns false, leaving Count unchanged, when p and q are
// already connected.
func (u *UnionFind) Unite(p, q int) bool {
	rp, rq := u.Find(p), u.Find(q)
	if rp == rq {
		return false
	}
	u.id[rp] = rq
	u.count--
	return true
}

// Connected reports whether p and q share a representative.
func (u *UnionFind) Connected(p, q int) bool {
	return u.Find(p) == u.Find(q)
}

// Count returns the number of live groups.
func (u *UnionFind) Count() int { return u.count }

// Len returns the number of original indices.
func (u *UnionFind) Len() int { return len(u.id) }
