package types

// SortSpec describes the single active sort for a document: the column to
// order by and the direction.
type SortSpec struct {
	Column    string `toml:"column"`
	Ascending bool   `toml:"ascending"`
}

// DisplayMapping is a bidirectional permutation between storage order and
// display order. The two slices are always inverses of each other and each
// is a permutation of 0..len-1.
type DisplayMapping struct {
	DisplayToStorage []int
	StorageToDisplay []int
}

// IdentityMapping returns the mapping in which display order equals
// storage order for n rows.
func IdentityMapping(n int) DisplayMapping {
	d := make([]int, n)
	s := make([]int, n)
	for i := 0; i < n; i++ {
		d[i] = i
		s[i] = i
	}
	return DisplayMapping{DisplayToStorage: d, StorageToDisplay: s}
}

// Len returns the number of rows the mapping covers.
func (m DisplayMapping) Len() int {
	return len(m.DisplayToStorage)
}
