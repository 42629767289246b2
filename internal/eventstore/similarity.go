package eventstore

// similarityRatio returns a measure of two strings' similarity in [0, 1],
// computed as 2*M/T where T is the total number of characters in both
// strings and M is the number of matched characters across the longest
// matching blocks. This mirrors difflib's SequenceMatcher ratio, which the
// fuzzy-duplicate check is calibrated against.
func similarityRatio(a, b string) float64 {
	ar, br := []rune(a), []rune(b)
	total := len(ar) + len(br)
	if total == 0 {
		return 1.0
	}

	matched := matchingBlockSize(ar, br, 0, len(ar), 0, len(br))
	return 2.0 * float64(matched) / float64(total)
}

// matchingBlockSize sums the sizes of matching blocks by recursively taking
// the longest match and descending into the regions on either side of it.
func matchingBlockSize(a, b []rune, alo, ahi, blo, bhi int) int {
	i, j, size := longestMatch(a, b, alo, ahi, blo, bhi)
	if size == 0 {
		return 0
	}

	matched := size
	matched += matchingBlockSize(a, b, alo, i, blo, j)
	matched += matchingBlockSize(a, b, i+size, ahi, j+size, bhi)
	return matched
}

// longestMatch finds the longest matching block of a[alo:ahi] in b[blo:bhi].
// Earliest match in a wins ties, then earliest in b.
func longestMatch(a, b []rune, alo, ahi, blo, bhi int) (besti, bestj, bestsize int) {
	b2j := make(map[rune][]int, bhi-blo)
	for j := blo; j < bhi; j++ {
		b2j[b[j]] = append(b2j[b[j]], j)
	}

	besti, bestj = alo, blo

	// j2len[j] is the length of the match ending at a[i-1], b[j-1].
	j2len := make(map[int]int)
	for i := alo; i < ahi; i++ {
		newj2len := make(map[int]int)
		for _, j := range b2j[a[i]] {
			k := j2len[j-1] + 1
			newj2len[j] = k
			if k > bestsize {
				besti, bestj, bestsize = i-k+1, j-k+1, k
			}
		}
		j2len = newj2len
	}

	return besti, bestj, bestsize
}
