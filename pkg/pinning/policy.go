package pinning

import (
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/zhangyunhao116/skipmap"
)

// HierarchyCategory places a pinned block in the table's metadata
// hierarchy.
type HierarchyCategory int

const (
	CategoryTopLevel HierarchyCategory = iota
	CategoryPartition
	CategoryOther
)

func (c HierarchyCategory) String() string {
	switch c {
	case CategoryTopLevel:
		return "top-level"
	case CategoryPartition:
		return "partition"
	default:
		return "other"
	}
}

// EntryRole is the kind of block being pinned.
type EntryRole int

const (
	RoleIndexBlock EntryRole = iota
	RoleFilterBlock
	RoleOtherBlock
)

// TablePinningInfo describes the table a pin request belongs to.
type TablePinningInfo struct {
	Level               int
	IsLastLevelWithData bool
	OwnerID             uuid.UUID
	FileSize            uint64
	// MaxFileSizeForL0MetaPin bounds which L0 files qualify for the
	// flushed-and-similar tier.
	MaxFileSizeForL0MetaPin uint64
}

// NewTablePinningInfo sanitizes the level / last-level combination:
// level 0 can never be the last level with data.
func NewTablePinningInfo(level int, isLastLevelWithData bool, owner uuid.UUID,
	fileSize, maxFileSizeForL0MetaPin uint64) TablePinningInfo {
	if isLastLevelWithData && level <= 0 {
		isLastLevelWithData = false
	}
	return TablePinningInfo{
		Level:                   level,
		IsLastLevelWithData:     isLastLevelWithData,
		OwnerID:                 owner,
		FileSize:                fileSize,
		MaxFileSizeForL0MetaPin: maxFileSizeForL0MetaPin,
	}
}

// PinnedEntry records an admitted pin.
type PinnedEntry struct {
	Level               int
	IsLastLevelWithData bool
	Category            HierarchyCategory
	OwnerID             uuid.UUID
	Role                EntryRole
	Size                uint64
}

// Policy admits cache entries for pinning under a budget.
type Policy interface {
	// MayPin reports whether an entry could be admitted, without
	// recording anything.
	MayPin(info TablePinningInfo, category HierarchyCategory, role EntryRole, size uint64) bool
	// PinData admits and records an entry; the returned entry must be
	// handed back through UnPinData.
	PinData(info TablePinningInfo, category HierarchyCategory, role EntryRole, size uint64) (*PinnedEntry, bool)
	// UnPinData releases a previously admitted entry.
	UnPinData(e *PinnedEntry)
	// Usage returns the bytes currently pinned.
	Usage() uint64
}

// checker is the tier-specific admission decision a recording policy
// wraps.
type checker interface {
	CheckPin(info TablePinningInfo, category HierarchyCategory, role EntryRole, size, usage uint64) bool
}

// recordingPolicy tracks total and per-owner pinned bytes around a
// checker. Admission races are resolved with a compare-and-swap so the
// budget is never silently overshot.
type recordingPolicy struct {
	impl     checker
	usage    atomic.Uint64
	pinned   atomic.Uint64
	perOwner *skipmap.StringMap[*atomic.Uint64]
}

func newRecordingPolicy(impl checker) *recordingPolicy {
	return &recordingPolicy{
		impl:     impl,
		perOwner: skipmap.NewString[*atomic.Uint64](),
	}
}

func (r *recordingPolicy) MayPin(info TablePinningInfo, category HierarchyCategory, role EntryRole, size uint64) bool {
	return r.impl.CheckPin(info, category, role, size, r.usage.Load())
}

func (r *recordingPolicy) PinData(info TablePinningInfo, category HierarchyCategory, role EntryRole, size uint64) (*PinnedEntry, bool) {
	for {
		cur := r.usage.Load()
		if !r.impl.CheckPin(info, category, role, size, cur) {
			return nil, false
		}
		if r.usage.CompareAndSwap(cur, cur+size) {
			break
		}
	}
	r.pinned.Add(1)
	counter, _ := r.perOwner.LoadOrStore(info.OwnerID.String(), &atomic.Uint64{})
	counter.Add(size)
	return &PinnedEntry{
		Level:               info.Level,
		IsLastLevelWithData: info.IsLastLevelWithData,
		Category:            category,
		OwnerID:             info.OwnerID,
		Role:                role,
		Size:                size,
	}, true
}

func (r *recordingPolicy) UnPinData(e *PinnedEntry) {
	r.usage.Add(^(e.Size - 1))
	r.pinned.Add(^uint64(0))
	if counter, ok := r.perOwner.Load(e.OwnerID.String()); ok {
		counter.Add(^(e.Size - 1))
	}
}

func (r *recordingPolicy) Usage() uint64 { return r.usage.Load() }

// OwnerUsage returns the bytes pinned on behalf of one owner.
func (r *recordingPolicy) OwnerUsage(owner uuid.UUID) uint64 {
	if counter, ok := r.perOwner.Load(owner.String()); ok {
		return counter.Load()
	}
	return 0
}
