// internal/memory/policy.go
package memory

import (
	"fmt"

	apperrors "github.com/Corphon/SceneChronicle/internal/errors"
	"github.com/Corphon/SceneChronicle/internal/models"
)

// 默认参数
const (
	DefaultWindow    = 20
	DefaultTierBound = 10
)

// Policy describes the compression hierarchy: how many raw messages form
// one tier-1 window and how many entries each tier holds before it is
// condensed into the next one. The last tier merges into main memory.
type Policy struct {
	Window int
	Bounds []int
}

// DefaultPolicy is the three-level scheme: base memories, core memories,
// main memory.
func DefaultPolicy() Policy {
	return Policy{Window: DefaultWindow, Bounds: []int{DefaultTierBound, DefaultTierBound}}
}

// TwoTierPolicy keeps a single intermediate tier that merges straight
// into main memory.
func TwoTierPolicy() Policy {
	return Policy{Window: DefaultWindow, Bounds: []int{DefaultTierBound}}
}

// Validate 检查策略参数
func (p Policy) Validate() error {
	if p.Window <= 0 {
		return apperrors.NewValidationError(fmt.Sprintf("memory window must be positive, got %d", p.Window), nil)
	}
	if len(p.Bounds) == 0 {
		return apperrors.NewValidationError("at least one memory tier is required", nil)
	}
	for i, b := range p.Bounds {
		if b < 1 {
			return apperrors.NewValidationError(fmt.Sprintf("tier %d bound must be at least 1, got %d", i+1, b), nil)
		}
	}
	return nil
}

// Pending returns how many full raw windows are waiting to be summarized.
func (p Policy) Pending(rawCounter, cursor int) int {
	if rawCounter <= cursor {
		return 0
	}
	return (rawCounter - cursor) / p.Window
}

// CheckMemory validates a manually edited store against the tier layout.
// Every tier must stay below its bound, and tiers past the last bound
// must be empty since nothing would ever condense them.
func (p Policy) CheckMemory(mem models.MemoryStore) error {
	for i, entries := range mem.Tiers {
		if i >= len(p.Bounds) {
			if len(entries) > 0 {
				return apperrors.NewValidationError(
					fmt.Sprintf("memory has %d tiers, policy allows %d", len(mem.Tiers), len(p.Bounds)), nil)
			}
			continue
		}
		if len(entries) >= p.Bounds[i] {
			return apperrors.NewValidationError(
				fmt.Sprintf("tier %d holds %d entries, must stay below %d", i+1, len(entries), p.Bounds[i]), nil)
		}
	}
	return nil
}
