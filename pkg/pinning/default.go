package pinning

// Tier is one pinning tier of the default policy. The back-reference a
// fallback tier makes is modeled as an enumeration, never as recursion
// on policies.
type Tier int

const (
	// TierFallback defers to the configured secondary tier.
	TierFallback Tier = iota
	// TierNone pins nothing.
	TierNone
	// TierFlushedAndSimilar admits only L0 files at or below the
	// L0 meta-pin size limit.
	TierFlushedAndSimilar
	// TierAll pins everything.
	TierAll
)

// MetadataCacheOptions selects a tier per hierarchy category.
type MetadataCacheOptions struct {
	TopLevelIndexPinning Tier `yaml:"top_level_index_pinning"`
	PartitionPinning     Tier `yaml:"partition_pinning"`
	UnpartitionedPinning Tier `yaml:"unpartitioned_pinning"`
}

// DefaultPolicy layers the three tiers over the category options, with
// two legacy booleans supplying the fallback tiers.
type DefaultPolicy struct {
	*recordingPolicy
	cacheOptions              MetadataCacheOptions
	pinTopLevelIndexAndFilter bool
	pinL0IndexAndFilter       bool
}

func NewDefaultPolicy(mdco MetadataCacheOptions, pinTop, pinL0 bool) *DefaultPolicy {
	p := &DefaultPolicy{
		cacheOptions:              mdco,
		pinTopLevelIndexAndFilter: pinTop,
		pinL0IndexAndFilter:       pinL0,
	}
	p.recordingPolicy = newRecordingPolicy(p)
	return p
}

func (p *DefaultPolicy) CheckPin(info TablePinningInfo, category HierarchyCategory, _ EntryRole, _, _ uint64) bool {
	if info.Level < 0 {
		return false
	}
	switch category {
	case CategoryTopLevel:
		fallback := TierNone
		if p.pinTopLevelIndexAndFilter {
			fallback = TierAll
		}
		return p.isPinned(info, p.cacheOptions.TopLevelIndexPinning, fallback)
	case CategoryPartition:
		fallback := TierNone
		if p.pinL0IndexAndFilter {
			fallback = TierFlushedAndSimilar
		}
		return p.isPinned(info, p.cacheOptions.PartitionPinning, fallback)
	default:
		fallback := TierNone
		if p.pinL0IndexAndFilter {
			fallback = TierFlushedAndSimilar
		}
		return p.isPinned(info, p.cacheOptions.UnpartitionedPinning, fallback)
	}
}

func (p *DefaultPolicy) isPinned(info TablePinningInfo, tier, fallbackTier Tier) bool {
	switch tier {
	case TierFallback:
		// fallback-to-fallback would recurse forever; the second
		// resolution always bottoms out at none
		return p.isPinned(info, fallbackTier, TierNone)
	case TierNone:
		return false
	case TierFlushedAndSimilar:
		return info.Level == 0 && info.FileSize <= info.MaxFileSizeForL0MetaPin
	case TierAll:
		return true
	default:
		return false
	}
}
