package memory

import (
	"encoding/binary"
	"encoding/json"
	"fmt"

	"golang.org/x/crypto/blake2b"
)

const (
	mergeThreshold = 0.8

	// Content longer than this is compared by shingle fingerprint instead of
	// edit distance.
	largeContentSize = 512
	shingleSize      = 5
)

// canonical renders content the way it is compared and searched.
// encoding/json sorts map keys, which keeps the form stable.
func canonical(v any) string {
	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprint(v)
	}
	return string(b)
}

// similarity returns a score in [0,1] for two canonical strings.
func similarity(a, b string) float64 {
	la, lb := len(a), len(b)
	longest := max(la, lb)
	if longest == 0 {
		return 1
	}
	if longest > largeContentSize {
		return shingleSimilarity(a, b)
	}
	// The length difference bounds the edit distance from below.
	if bound := 1 - float64(abs(la-lb))/float64(longest); bound <= mergeThreshold {
		return bound
	}
	ra, rb := []rune(a), []rune(b)
	longest = max(len(ra), len(rb))
	return 1 - float64(levenshtein(ra, rb))/float64(longest)
}

func levenshtein(a, b []rune) int {
	if len(a) < len(b) {
		a, b = b, a
	}
	prev := make([]int, len(b)+1)
	cur := make([]int, len(b)+1)
	for j := range prev {
		prev[j] = j
	}
	for i := 1; i <= len(a); i++ {
		cur[0] = i
		for j := 1; j <= len(b); j++ {
			cost := 1
			if a[i-1] == b[j-1] {
				cost = 0
			}
			cur[j] = min(prev[j]+1, cur[j-1]+1, prev[j-1]+cost)
		}
		prev, cur = cur, prev
	}
	return prev[len(b)]
}

// shingleSimilarity is the Jaccard index of the hashed k-shingle sets.
func shingleSimilarity(a, b string) float64 {
	sa, sb := shingles(a), shingles(b)
	if len(sa) == 0 && len(sb) == 0 {
		return 1
	}
	inter := 0
	for h := range sa {
		if _, ok := sb[h]; ok {
			inter++
		}
	}
	union := len(sa) + len(sb) - inter
	return float64(inter) / float64(union)
}

func shingles(s string) map[uint64]struct{} {
	out := make(map[uint64]struct{})
	if len(s) <= shingleSize {
		out[fingerprint(s)] = struct{}{}
		return out
	}
	for i := 0; i+shingleSize <= len(s); i++ {
		out[fingerprint(s[i:i+shingleSize])] = struct{}{}
	}
	return out
}

func fingerprint(s string) uint64 {
	sum := blake2b.Sum256([]byte(s))
	return binary.LittleEndian.Uint64(sum[:8])
}

func abs(n int) int {
	if n < 0 {
		return -n
	}
	return n
}
