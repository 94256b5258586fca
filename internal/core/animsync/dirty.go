package animsync

import "math/bits"

// DirtyMask is a fixed-capacity bitset with one bit per parameter slot.
// Indexes outside the capacity are ignored by Set and report false.
type DirtyMask struct {
	words []uint64
	n     int
}

func NewDirtyMask(n int) DirtyMask {
	if n < 0 {
		n = 0
	}
	return DirtyMask{words: make([]uint64, (n+63)/64), n: n}
}

func (m *DirtyMask) Len() int { return m.n }

func (m *DirtyMask) Set(i int) {
	if i < 0 || i >= m.n {
		return
	}
	m.words[i/64] |= 1 << (uint(i) % 64)
}

func (m *DirtyMask) Clear(i int) {
	if i < 0 || i >= m.n {
		return
	}
	m.words[i/64] &^= 1 << (uint(i) % 64)
}

func (m *DirtyMask) IsSet(i int) bool {
	if i < 0 || i >= m.n {
		return false
	}
	return m.words[i/64]&(1<<(uint(i)%64)) != 0
}

func (m *DirtyMask) ClearAll() {
	clear(m.words)
}

func (m *DirtyMask) Any() bool {
	for _, w := range m.words {
		if w != 0 {
			return true
		}
	}
	return false
}

func (m *DirtyMask) Count() int {
	c := 0
	for _, w := range m.words {
		c += bits.OnesCount64(w)
	}
	return c
}

// Words returns a copy of the backing words, low bits first.
func (m *DirtyMask) Words() []uint64 {
	out := make([]uint64, len(m.words))
	copy(out, m.words)
	return out
}
