// Package dedupe groups leads that likely describe the same contact.
package dedupe

import (
	"math"
	"sort"
	"strings"
	"unicode"
)

const (
	ReasonEmail     = "email"
	ReasonPhone     = "phone"
	ReasonEmbedding = "embedding"
)

// DefaultThreshold is the cosine similarity above which two embeddings
// count as duplicates.
const DefaultThreshold = 0.92

type Candidate struct {
	ID        string
	Email     string
	Phone     string
	Embedding []float32
}

type Group struct {
	LeadIDs    []string `json:"lead_ids"`
	Similarity float64  `json:"similarity"`
	Reason     string   `json:"reason"`
}

// Find links candidates that share an email, share a phone number, or
// whose embeddings are at least threshold similar, then returns the
// connected groups of two or more, largest first.
func Find(candidates []Candidate, threshold float64) []Group {
	if threshold <= 0 || threshold > 1 {
		threshold = DefaultThreshold
	}
	n := len(candidates)
	uf := newUnionFind(n)
	reasons := make([]map[string]bool, n)
	best := make([]float64, n)
	for i := range reasons {
		reasons[i] = map[string]bool{}
	}
	link := func(a, b int, reason string, sim float64) {
		uf.union(a, b)
		reasons[a][reason] = true
		reasons[b][reason] = true
		best[a] = math.Max(best[a], sim)
		best[b] = math.Max(best[b], sim)
	}

	byEmail := map[string]int{}
	byPhone := map[string]int{}
	for i, c := range candidates {
		if email := normalizeEmail(c.Email); email != "" {
			if j, ok := byEmail[email]; ok {
				link(i, j, ReasonEmail, 1)
			} else {
				byEmail[email] = i
			}
		}
		if phone := normalizePhone(c.Phone); phone != "" {
			if j, ok := byPhone[phone]; ok {
				link(i, j, ReasonPhone, 1)
			} else {
				byPhone[phone] = i
			}
		}
	}

	for i := 0; i < n; i++ {
		if len(candidates[i].Embedding) == 0 {
			continue
		}
		for j := i + 1; j < n; j++ {
			sim := Cosine(candidates[i].Embedding, candidates[j].Embedding)
			if sim >= threshold {
				link(i, j, ReasonEmbedding, sim)
			}
		}
	}

	members := map[int][]int{}
	for i := 0; i < n; i++ {
		root := uf.find(i)
		members[root] = append(members[root], i)
	}

	groups := []Group{}
	for _, idx := range members {
		if len(idx) < 2 {
			continue
		}
		g := Group{}
		why := map[string]bool{}
		for _, i := range idx {
			g.LeadIDs = append(g.LeadIDs, candidates[i].ID)
			g.Similarity = math.Max(g.Similarity, best[i])
			for r := range reasons[i] {
				why[r] = true
			}
		}
		sort.Strings(g.LeadIDs)
		g.Similarity = math.Round(g.Similarity*1000) / 1000
		g.Reason = joinReasons(why)
		groups = append(groups, g)
	}
	sort.Slice(groups, func(a, b int) bool {
		if len(groups[a].LeadIDs) != len(groups[b].LeadIDs) {
			return len(groups[a].LeadIDs) > len(groups[b].LeadIDs)
		}
		return groups[a].LeadIDs[0] < groups[b].LeadIDs[0]
	})
	return groups
}

// Cosine returns the cosine similarity of a and b, or 0 when either is
// empty, zero, or the lengths differ.
func Cosine(a, b []float32) float64 {
	if len(a) == 0 || len(a) != len(b) {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		x, y := float64(a[i]), float64(b[i])
		dot += x * y
		na += x * x
		nb += y * y
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}

func joinReasons(set map[string]bool) string {
	out := []string{}
	for _, r := range []string{ReasonEmail, ReasonPhone, ReasonEmbedding} {
		if set[r] {
			out = append(out, r)
		}
	}
	return strings.Join(out, "+")
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// normalizePhone keeps digits; numbers shorter than 6 digits are ignored.
func normalizePhone(phone string) string {
	var b strings.Builder
	for _, r := range phone {
		if unicode.IsDigit(r) {
			b.WriteRune(r)
		}
	}
	if b.Len() < 6 {
		return ""
	}
	return b.String()
}

type unionFind struct {
	parent []int
	rank   []int
}

func newUnionFind(n int) *unionFind {
	uf := &unionFind{parent: make([]int, n), rank: make([]int, n)}
	for i := range uf.parent {
		uf.parent[i] = i
	}
	return uf
}

func (u *unionFind) find(x int) int {
	for u.parent[x] != x {
		u.parent[x] = u.parent[u.parent[x]]
		x = u.parent[x]
	}
	return x
}

func (u *unionFind) union(a, b int) {
	ra, rb := u.find(a), u.find(b)
	if ra == rb {
		return
	}
	switch {
	case u.rank[ra] < u.rank[rb]:
		u.parent[ra] = rb
	case u.rank[ra] > u.rank[rb]:
		u.parent[rb] = ra
	default:
		u.parent[rb] = ra
		u.rank[ra]++
	}
}
