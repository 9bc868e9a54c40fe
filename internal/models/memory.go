// internal/models/memory.go
package models

// MemoryStore 场景的分层记忆
//
// Tiers[0] holds one summary per raw window, Tiers[1] one summary per
// full Tiers[0], and so on. MainMemory is the permanent record that the
// last tier merges into.
type MemoryStore struct {
	RawCounter   int        `json:"raw_counter"`
	WindowCursor int        `json:"window_cursor"`
	Tiers        [][]string `json:"tiers"`
	MainMemory   string     `json:"main_memory"`
}

// Tier returns the entries of tier i, or nil when the tier does not exist yet.
func (m *MemoryStore) Tier(i int) []string {
	if i < 0 || i >= len(m.Tiers) {
		return nil
	}
	return m.Tiers[i]
}

// EnsureTiers grows Tiers to n levels.
func (m *MemoryStore) EnsureTiers(n int) {
	for len(m.Tiers) < n {
		m.Tiers = append(m.Tiers, nil)
	}
}

// Empty reports whether no summary has been produced yet.
func (m *MemoryStore) Empty() bool {
	if m.MainMemory != "" {
		return false
	}
	for _, tier := range m.Tiers {
		if len(tier) > 0 {
			return false
		}
	}
	return true
}

// Clone 深拷贝，避免与会话共享切片
func (m MemoryStore) Clone() MemoryStore {
	out := m
	if m.Tiers != nil {
		out.Tiers = make([][]string, len(m.Tiers))
		for i, tier := range m.Tiers {
			if tier != nil {
				out.Tiers[i] = append([]string(nil), tier...)
			}
		}
	}
	return out
}

// ReplaceSummaries copies tier contents, main memory and the window
// cursor from next while keeping the receiver's raw counter, which may
// have advanced while next was being computed.
func (m *MemoryStore) ReplaceSummaries(next MemoryStore) {
	n := next.Clone()
	m.WindowCursor = n.WindowCursor
	m.Tiers = n.Tiers
	m.MainMemory = n.MainMemory
}
