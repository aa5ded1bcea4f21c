package compaction

import (
	"bytes"
	"log/slog"
	"sync"
)

// Hyper-level geometry. Hyper-level 0 is just level 0; hyper-level k
// (k >= 1) spans a fixed window of physical levels, wide enough to hold
// the widest merge plus slack for rearrangement.
const (
	minLevelsToMerge   = 4
	maxLevelsToMerge   = 8
	levelsInHyperLevel = 20
	maxHyperLevels     = 8
)

// FirstLevelInHyper returns the shallowest physical level of a
// hyper-level.
func FirstLevelInHyper(h int) int {
	if h == 0 {
		return 0
	}
	return (h-1)*levelsInHyperLevel + 1
}

// LastLevelInHyper returns the deepest physical level of a hyper-level.
func LastLevelInHyper(h int) int {
	if h == 0 {
		return 0
	}
	return h * levelsInHyperLevel
}

// HyperLevelNum returns the hyper-level a physical level belongs to.
func HyperLevelNum(level int) int {
	if level == 0 {
		return 0
	}
	return (level-1)/levelsInHyperLevel + 1
}

// Options configures a Picker. NumLevels must leave room for the
// hyper-level windows plus the last-level sink.
type Options struct {
	NumLevels       int
	WriteBufferSize uint64
	// SpaceAmpPercent is the allowed size amplification, between 110
	// and 200.
	SpaceAmpPercent int
	// MinMergeWidth is the requested merge width, clamped to
	// [minLevelsToMerge, maxLevelsToMerge].
	MinMergeWidth                  int
	Level0FileNumCompactionTrigger int
	MaxOpenFiles                   int
	// TablePrefixSize bounds the shared-prefix check of small-file
	// coalescing; zero disables the check.
	TablePrefixSize int

	Logger *slog.Logger
}

// subCompaction is the cursor a partial range sweep leaves behind so
// the next tick resumes where this one stopped.
type subCompaction struct {
	outputLevel int
	lastKey     []byte
}

func (s *subCompaction) empty() bool {
	return s.outputLevel == 0 && len(s.lastKey) == 0
}

func (s *subCompaction) setEmpty() {
	s.outputLevel = 0
	s.lastKey = nil
}

// Picker organizes the on-disk sorted runs into hyper-levels and
// selects compactions that bound read and space amplification. One
// mutex serializes picking so cursor updates stay consistent.
type Picker struct {
	mu   sync.Mutex
	opts Options
	log  *slog.Logger
	ucmp func(a, b []byte) int

	numLevels         int
	curNumHyperLevels int
	maxNumHyperLevels int
	level0Trigger     int
	spaceAmpFactor    float64
	multiplier        [maxHyperLevels + 1]int
	sizeToCompact     [maxHyperLevels + 1]uint64
	prevSubCompaction [maxHyperLevels + 1]subCompaction
	inProgress        map[*Compaction]struct{}
}

func NewPicker(opts Options) *Picker {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.MaxOpenFiles <= 0 {
		opts.MaxOpenFiles = 10000
	}
	p := &Picker{
		opts:       opts,
		log:        opts.Logger,
		ucmp:       bytes.Compare,
		numLevels:  opts.NumLevels,
		inProgress: make(map[*Compaction]struct{}),
	}
	for h := 0; h <= maxHyperLevels; h++ {
		p.multiplier[h] = minLevelsToMerge
	}
	return p
}

func (p *Picker) lastLevel() int { return p.numLevels - 1 }

// RegisterCompaction records a compaction as running; PickCompaction
// registers its own picks.
func (p *Picker) RegisterCompaction(c *Compaction) {
	p.mu.Lock()
	p.inProgress[c] = struct{}{}
	p.mu.Unlock()
}

// UnregisterCompaction removes a finished or aborted compaction from
// the running set.
func (p *Picker) UnregisterCompaction(c *Compaction) {
	p.mu.Lock()
	delete(p.inProgress, c)
	p.mu.Unlock()
}

// hyperLevelDesc aggregates the running compactions of one hyper-level.
type hyperLevelDesc struct {
	nCompactions int
	hasRearrange bool
}

// runningDesc is the snapshot derived from the compactions currently in
// progress.
type runningDesc struct {
	perHyper         []hyperLevelDesc
	rearrangeRunning bool
	manualRunning    bool
}

// buildCompactionDescriptors is called with p.mu held.
func (p *Picker) buildCompactionDescriptors() runningDesc {
	desc := runningDesc{perHyper: make([]hyperLevelDesc, p.curNumHyperLevels+2)}
	for c := range p.inProgress {
		if c.Reason == ReasonManual {
			desc.manualRunning = true
		}
		startLevel := c.StartLevel()
		h := HyperLevelNum(startLevel)
		if startLevel >= p.lastLevel() || h > p.curNumHyperLevels+1 {
			h = p.curNumHyperLevels
		}
		desc.perHyper[h].nCompactions++
		if startLevel != 0 && c.Reason == ReasonRearrange {
			desc.perHyper[h].hasRearrange = true
			desc.rearrangeRunning = true
		}
	}
	return desc
}

// initPicker sizes the hyper-levels on first use.
func (p *Picker) initPicker(v *VersionStorageInfo) {
	spaceAmp := p.opts.SpaceAmpPercent
	if spaceAmp < 110 {
		spaceAmp = 110
	} else if spaceAmp > 200 {
		spaceAmp = 200
	}
	p.spaceAmpFactor = 100.0 / float64(spaceAmp-100)

	p.maxNumHyperLevels = HyperLevelNum(v.NumLevels() - 2)
	if p.maxNumHyperLevels < 1 {
		p.maxNumHyperLevels = 1
	}

	lastNonEmpty := 0
	for level := 0; level < v.NumLevels(); level++ {
		if len(v.LevelFiles(level)) > 0 {
			lastNonEmpty = level
		}
	}
	if lastNonEmpty == 0 {
		p.curNumHyperLevels = 1
	} else {
		// assume the data is in the last level
		p.curNumHyperLevels = HyperLevelNum(lastNonEmpty - 1)
		if p.curNumHyperLevels < 1 {
			p.curNumHyperLevels = 1
		}
	}

	requiredMult := p.opts.MinMergeWidth
	if requiredMult < minLevelsToMerge {
		requiredMult = minLevelsToMerge
	} else if requiredMult > maxLevelsToMerge {
		requiredMult = maxLevelsToMerge
	}

	size := p.opts.WriteBufferSize
	for h := 0; h <= maxHyperLevels; h++ {
		p.multiplier[h] = requiredMult
		size *= uint64(p.multiplier[h])
		p.sizeToCompact[h] = size
	}

	p.level0Trigger = p.multiplier[0]
	if t := p.opts.Level0FileNumCompactionTrigger; t > 0 && t < p.level0Trigger {
		p.level0Trigger = t
	}
}

// calcHyperLevelSize sums the level byte sizes inside one hyper-level.
func (p *Picker) calcHyperLevelSize(h int, v *VersionStorageInfo) uint64 {
	var total uint64
	for level := FirstLevelInHyper(h); level <= LastLevelInHyper(h); level++ {
		total += v.NumLevelBytes(level)
	}
	return total
}

// levelNeedsRearrange reports whether a non-empty level is followed by
// an empty one inside the hyper-level, starting the scan at firstLevel.
func (p *Picker) levelNeedsRearrange(h int, v *VersionStorageInfo, firstLevel int) bool {
	if h == 0 {
		return false
	}
	foundNonEmpty := false
	for level := firstLevel; level <= LastLevelInHyper(h); level++ {
		isEmpty := len(v.LevelFiles(level)) == 0
		if !foundNonEmpty {
			foundNonEmpty = !isEmpty
		} else if isEmpty {
			return true
		}
	}
	return false
}

// mayRunRearrange: rearrange touches whole levels, so it requires that
// no rearrange runs anywhere and the hyper-level is quiet.
func (p *Picker) mayRunRearrange(h int, running runningDesc) bool {
	return h > 0 && !running.rearrangeRunning && running.perHyper[h].nCompactions == 0
}

func (p *Picker) mayRunCompaction(h int, running runningDesc) bool {
	return running.perHyper[h].nCompactions == 0 &&
		(h == p.curNumHyperLevels || !running.perHyper[h+1].hasRearrange)
}

func (p *Picker) mayStartLevelCompaction(h int, running runningDesc, v *VersionStorageInfo) bool {
	if running.perHyper[h].nCompactions > 0 {
		return false
	}
	// check that there is a free target
	if h != p.curNumHyperLevels &&
		p.prevSubCompaction[h].empty() &&
		len(v.LevelFiles(LastLevelInHyper(h)+1)) > 0 {
		return false
	}
	return true
}

func (p *Picker) needToRunLevelCompaction(h int, v *VersionStorageInfo) bool {
	if h == 0 {
		return len(v.LevelFiles(0)) >= p.level0Trigger
	}

	lastInHyper := LastLevelInHyper(h)
	if len(v.LevelFiles(lastInHyper)) == 0 {
		return false
	}

	forceCompactLevel := lastInHyper - p.multiplier[h] - 6
	maxSize := p.sizeToCompact[h]
	if h == p.curNumHyperLevels {
		// take 10% extra
		maxSize = uint64(float64(v.NumLevelBytes(p.lastLevel())) / (p.spaceAmpFactor * 1.1))
	}
	return len(v.LevelFiles(forceCompactLevel)) > 0 ||
		p.calcHyperLevelSize(h, v) > maxSize
}

// NeedsCompaction reports whether a pick would find work. A manual
// compaction in progress forces false.
func (p *Picker) NeedsCompaction(v *VersionStorageInfo) bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.curNumHyperLevels == 0 {
		return true // init
	}

	running := p.buildCompactionDescriptors()
	if running.manualRunning {
		return false
	}

	for h := 0; h <= p.curNumHyperLevels; h++ {
		rearrangeNeeded := p.levelNeedsRearrange(h, v, FirstLevelInHyper(h))
		if p.mayRunRearrange(h, running) && rearrangeNeeded {
			return true
		}
		if !rearrangeNeeded &&
			p.mayStartLevelCompaction(h, running, v) &&
			p.needToRunLevelCompaction(h, v) {
			return true
		}
	}

	return len(v.LevelFiles(p.lastLevel())) > p.opts.MaxOpenFiles/2
}

// PickCompaction selects the next compaction or returns nil when
// nothing is eligible. Every returned compaction is already registered
// as running.
func (p *Picker) PickCompaction(cfName string, v *VersionStorageInfo) *Compaction {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.curNumHyperLevels == 0 {
		p.initPicker(v)
		p.log.Info("hybrid: init",
			"cf", cfName,
			"cur_hyper_levels", p.curNumHyperLevels,
			"max_hyper_levels", p.maxNumHyperLevels,
			"db_size", uint64(float64(p.sizeToCompact[p.curNumHyperLevels])*p.spaceAmpFactor))
	}

	running := p.buildCompactionDescriptors()
	if running.manualRunning {
		return nil
	}

	// rearrange first
	for h := 1; h <= p.curNumHyperLevels; h++ {
		if running.perHyper[h-1].nCompactions == 0 && len(p.prevSubCompaction[h-1].lastKey) == 0 {
			p.prevSubCompaction[h-1].setEmpty()
		}

		startLevel := FirstLevelInHyper(h)
		if p.mayRunRearrange(h, running) &&
			p.levelNeedsRearrange(h, v, FirstLevelInHyper(h)) {
			if running.perHyper[h-1].nCompactions == 0 {
				p.prevSubCompaction[h-1].setEmpty()
			} else {
				startLevel = p.prevSubCompaction[h-1].outputLevel + 1
			}
			if p.levelNeedsRearrange(h, v, startLevel) {
				if c := p.rearrangeLevel(h, v); c != nil {
					p.log.Info("hybrid: rearranging",
						"cf", cfName, "hyper_level", h,
						"start_level", c.StartLevel(), "output_level", c.OutputLevel)
					p.inProgress[c] = struct{}{}
					return c
				}
				p.log.Info("hybrid: build rearrange failed", "cf", cfName, "hyper_level", h)
			}
		}
	}

	// check db size to see if we need to move to an upper hyper-level
	if p.mayRunCompaction(p.curNumHyperLevels, running) && !running.rearrangeRunning {
		if c := p.checkDBSize(cfName, v); c != nil {
			p.log.Info("hybrid: compacting into grown last level",
				"cf", cfName, "output_level", c.OutputLevel)
			p.inProgress[c] = struct{}{}
			return c
		}
		if p.curNumHyperLevels > 1 && p.mayRunCompaction(p.curNumHyperLevels-1, running) {
			lastLevelInPrevHyper := LastLevelInHyper(p.curNumHyperLevels - 1)
			dbSize := v.NumLevelBytes(p.lastLevel())
			levelSize := v.NumLevelBytes(lastLevelInPrevHyper)
			if float64(levelSize*uint64(p.multiplier[p.curNumHyperLevels]))*p.spaceAmpFactor > float64(dbSize) {
				if c := p.moveSSTToLastLevel(v); c != nil {
					p.log.Info("hybrid: moving large sst",
						"cf", cfName,
						"level_size_mb", levelSize/1024/1024,
						"db_size_mb", dbSize/1024/1024,
						"from", lastLevelInPrevHyper, "to", c.OutputLevel)
					p.inProgress[c] = struct{}{}
					return c
				}
			}
		}
	}

	// normal compaction starts with L0
	if p.mayStartLevelCompaction(0, running, v) &&
		len(v.LevelFiles(0)) >= p.level0Trigger {
		if c := p.pickLevel0Compaction(v, p.level0Trigger); c != nil {
			p.log.Info("hybrid: compacting L0",
				"cf", cfName, "output_level", c.OutputLevel)
			p.inProgress[c] = struct{}{}
			return c
		}
	}

	for h := 1; h <= p.curNumHyperLevels; h++ {
		if p.mayStartLevelCompaction(h, running, v) && p.needToRunLevelCompaction(h, v) {
			if c := p.pickLevelCompaction(h, v); c != nil {
				p.log.Info("hybrid: compacting hyper level",
					"cf", cfName, "hyper_level", h,
					"start_level", c.StartLevel(), "output_level", c.OutputLevel)
				p.inProgress[c] = struct{}{}
				return c
			}
			p.log.Info("hybrid: build compact failed", "cf", cfName, "hyper_level", h)
		}
	}

	if p.mayStartLevelCompaction(p.curNumHyperLevels, running, v) &&
		len(v.LevelFiles(p.lastLevel())) > p.opts.MaxOpenFiles/2 {
		minFileSize := v.NumLevelBytes(p.lastLevel()) / 1024
		if minFileSize > 1<<28 {
			minFileSize = 1 << 28
		}
		if c := p.pickReduceNumFiles(v, minFileSize); c != nil {
			p.log.Info("hybrid: compacting last level to reduce file count",
				"cf", cfName, "output_level", c.OutputLevel)
			p.inProgress[c] = struct{}{}
			return c
		}
	}

	p.log.Debug("hybrid: nothing to do", "cf", cfName)
	return nil
}

// rearrangeLevel keeps files in the highest-numbered empty level of the
// hyper-level: it picks the deepest empty level and produces a
// trivial-move compaction carrying every non-empty level above it down.
func (p *Picker) rearrangeLevel(h int, v *VersionStorageInfo) *Compaction {
	firstLevelInHyper := FirstLevelInHyper(h)
	lastLevelInHyper := LastLevelInHyper(h)
	if !p.prevSubCompaction[h-1].empty() {
		firstLevelInHyper = p.prevSubCompaction[h-1].outputLevel + 1
		if firstLevelInHyper >= lastLevelInHyper {
			return nil
		}
	}

	for outputLevel := lastLevelInHyper; outputLevel >= firstLevelInHyper; outputLevel-- {
		if len(v.LevelFiles(outputLevel)) > 0 {
			continue
		}
		var inputs []InputFiles
		for inputLevel := firstLevelInHyper; inputLevel < outputLevel; inputLevel++ {
			if files := v.LevelFiles(inputLevel); len(files) > 0 {
				inputs = append(inputs, InputFiles{Level: inputLevel, Files: files})
			}
		}
		if len(inputs) == 0 {
			return nil
		}
		return &Compaction{
			Inputs:            inputs,
			OutputLevel:       outputLevel,
			Reason:            ReasonRearrange,
			TrivialMove:       true,
			MaxSubcompactions: 1,
			MaxOutputFileSize: noSizeLimit,
		}
	}
	return nil
}

// checkDBSize promotes the LSM to one more hyper-level when the last
// level outgrew the current shape, rewriting the last level in place
// (input and output are both the sink).
func (p *Picker) checkDBSize(cfName string, v *VersionStorageInfo) *Compaction {
	lastNonEmpty := p.lastLevel()
	actualDBSize := v.NumLevelBytes(lastNonEmpty)
	if actualDBSize == 0 {
		return nil
	}

	spaceAmp := p.spaceAmpFactor
	if spaceAmp < 1.3 {
		spaceAmp = 1.3
	}
	if float64(actualDBSize) <= float64(p.sizeToCompact[p.curNumHyperLevels])*spaceAmp {
		return nil
	}

	lastHyperLevelSize := p.calcHyperLevelSize(p.curNumHyperLevels, v)
	firstLevel := FirstLevelInHyper(p.curNumHyperLevels)

	if float64(actualDBSize) > float64(p.sizeToCompact[p.curNumHyperLevels])*spaceAmp*1.2 ||
		(float64(lastHyperLevelSize)*spaceAmp < float64(actualDBSize) &&
			len(v.LevelFiles(firstLevel+3)) > 0) ||
		len(v.LevelFiles(firstLevel+1)) > 0 {
		p.curNumHyperLevels++
		p.log.Info("hybrid: increasing supported db size",
			"cf", cfName,
			"db_size_mb", actualDBSize/1024/1024,
			"last_hyper_size_mb", lastHyperLevelSize/1024/1024,
			"cur_hyper_levels", p.curNumHyperLevels)

		p.prevSubCompaction[p.curNumHyperLevels-1].setEmpty()
		return &Compaction{
			Inputs:            []InputFiles{{Level: lastNonEmpty, Files: v.LevelFiles(lastNonEmpty)}},
			OutputLevel:       p.lastLevel(),
			Reason:            ReasonRearrange,
			MaxSubcompactions: 1,
			MaxOutputFileSize: noSizeLimit,
		}
	}
	return nil
}

// moveSSTToLastLevel trivially relocates the pre-last hyper-level's
// deepest level into the first empty level below it, when that level
// grew disproportionately large compared to the tail.
func (p *Picker) moveSSTToLastLevel(v *VersionStorageInfo) *Compaction {
	lastLevelInPrevHyper := LastLevelInHyper(p.curNumHyperLevels - 1)
	for level := lastLevelInPrevHyper + 1; level < p.lastLevel(); level++ {
		if len(v.LevelFiles(level)) > 0 {
			continue
		}
		return &Compaction{
			Inputs: []InputFiles{{
				Level: lastLevelInPrevHyper,
				Files: v.LevelFiles(lastLevelInPrevHyper),
			}},
			OutputLevel:       level,
			Reason:            ReasonRearrange,
			TrivialMove:       true,
			MaxSubcompactions: 1,
			MaxOutputFileSize: noSizeLimit,
		}
	}
	return nil
}

// pickLevel0Compaction merges the newest L0 files into the deepest
// empty level of hyper-level 1.
func (p *Picker) pickLevel0Compaction(v *VersionStorageInfo, mergeWidth int) *Compaction {
	l0Files := v.LevelFiles(0)
	if len(l0Files) < mergeWidth {
		return nil
	}

	// L1 must have room
	firstLevelInHyper := FirstLevelInHyper(1)
	if len(v.LevelFiles(firstLevelInHyper)) > 0 {
		return nil
	}
	lastLevelInHyper := LastLevelInHyper(1)
	// walk down from the first level while the next level is empty: the
	// deepest level with every level above it (in the hyper-level) empty
	outputLevel := firstLevelInHyper
	for i := firstLevelInHyper + 1; i <= lastLevelInHyper; i++ {
		if len(v.LevelFiles(i)) > 0 {
			break
		}
		outputLevel = i
	}

	maxWidth := p.multiplier[0] * 3 / 2
	inputs := InputFiles{Level: 0}
	if len(l0Files) < maxWidth {
		inputs.Files = l0Files
	} else {
		// newest files sit at the tail of the flush-ordered list
		inputs.Files = l0Files[len(l0Files)-maxWidth:]
	}

	var grandparents []*FileMetadata
	if p.curNumHyperLevels <= 2 {
		grandparents = v.LevelFiles(p.lastLevel())
	}

	maxSubcompactions := 1
	if len(l0Files) > maxWidth {
		maxSubcompactions = 2
	}

	p.prevSubCompaction[0].outputLevel = outputLevel
	return &Compaction{
		Inputs:            []InputFiles{inputs},
		OutputLevel:       outputLevel,
		Reason:            ReasonL0Files,
		MaxSubcompactions: maxSubcompactions,
		MaxOutputFileSize: noSizeLimit,
		Grandparents:      grandparents,
	}
}

// buildGrandparents spaces grandparent boundaries roughly every
// desiredSize bytes of last-level data.
func buildGrandparents(lastLevelFiles []*FileMetadata, desiredSize uint64) []*FileMetadata {
	var grandparents []*FileMetadata
	var accSize uint64
	minSize := desiredSize * 3 / 5
	for _, f := range lastLevelFiles {
		accSize += f.Size
		if accSize > minSize {
			grandparents = append(grandparents, f)
			accSize = 0
		}
	}
	return grandparents
}

// pickLevelCompaction compacts the deepest level of a hyper-level into
// the next hyper-level (or deeper into the last level for the tail).
func (p *Picker) pickLevelCompaction(h int, v *VersionStorageInfo) *Compaction {
	lastLevelInHyper := LastLevelInHyper(h)
	outputLevel := lastLevelInHyper + 1
	nSubCompactions := 1
	var compactionOutputFileSize uint64 = 1 << 30

	var grandparents []*FileMetadata
	if h != p.curNumHyperLevels {
		// find output level
		nextLevelEnd := LastLevelInHyper(h + 1)
		for outputLevel < nextLevelEnd && len(v.LevelFiles(outputLevel+1)) == 0 {
			outputLevel++
		}
		if !p.prevSubCompaction[h].empty() {
			files := v.LevelFiles(lastLevelInHyper)
			if len(files) > 0 {
				k := files[len(files)-1].Largest
				if p.ucmp(k, p.prevSubCompaction[h].lastKey) > 0 {
					outputLevel = p.prevSubCompaction[h].outputLevel
				}
			}
		}

		grandparents = v.LevelFiles(p.lastLevel())
		// rush the compaction to prevent a stall
		if len(v.LevelFiles(FirstLevelInHyper(h)+4)) > 0 {
			nSubCompactions++
		}
	} else {
		// the tail hyper-level compacts into the sink
		outputLevel = p.lastLevel()
		lastHyperLevelSize := p.spaceAmpFactor * float64(p.calcHyperLevelSize(h, v))
		dbSize := v.NumLevelBytes(p.lastLevel())
		if floor := p.opts.WriteBufferSize * 8; dbSize < floor {
			dbSize = floor
		}
		if compactionOutputFileSize > dbSize/8 {
			compactionOutputFileSize = dbSize / 8
		}
		if lastHyperLevelSize > float64(dbSize) {
			nSubCompactions += int(lastHyperLevelSize*10/float64(dbSize)) - 10
			if nSubCompactions > 4 {
				nSubCompactions = 4
			} else if nSubCompactions < 1 {
				nSubCompactions = 1
			}
		}
		if len(v.LevelFiles(FirstLevelInHyper(h)+4)) > 0 {
			nSubCompactions++
		}
	}

	inputs, ok := p.selectNBuffers(nSubCompactions*4, outputLevel, h, v)
	if !ok {
		return nil
	}

	trivial := false
	if len(inputs) == 1 {
		// inputs do not intersect the output, so the files can move
		grandparents = nil
		compactionOutputFileSize = noSizeLimit
		trivial = true
	} else if h == p.curNumHyperLevels {
		grandparents = buildGrandparents(inputs[len(inputs)-1].Files, compactionOutputFileSize)
	}

	return &Compaction{
		Inputs:            inputs,
		OutputLevel:       outputLevel,
		Reason:            ReasonLevelSize,
		TrivialMove:       trivial,
		MaxSubcompactions: nSubCompactions,
		MaxOutputFileSize: compactionOutputFileSize,
		Grandparents:      grandparents,
	}
}

// pickReduceNumFiles coalesces the longest run of adjacent small files
// on the last level, bounded to 200 files and 1 GiB.
func (p *Picker) pickReduceNumFiles(v *VersionStorageInfo, minFileSize uint64) *Compaction {
	lastLevel := p.lastLevel()
	fl := v.LevelFiles(lastLevel)

	maxSeq, maxSeqPlace := 0, 0
	for firstFile := 0; firstFile < len(fl); {
		f := fl[firstFile]
		if f.Size >= minFileSize {
			firstFile++
			continue
		}
		totalSize := f.Size
		i := firstFile + 1
		for ; i < len(fl); i++ {
			nf := fl[i]
			if nf.Size > minFileSize || !p.sharesPrefix(nf.Smallest, f.Largest) {
				break
			}
			totalSize += nf.Size
			if totalSize > 1<<30 {
				break
			}
		}
		if i-firstFile > maxSeq {
			maxSeq = i - firstFile
			maxSeqPlace = firstFile
		}
		firstFile = i
	}
	if maxSeq <= 1 {
		return nil
	}
	if maxSeq > 200 {
		maxSeq = 200
	}

	return &Compaction{
		Inputs: []InputFiles{{
			Level: lastLevel,
			Files: fl[maxSeqPlace : maxSeqPlace+maxSeq],
		}},
		OutputLevel:       lastLevel,
		Reason:            ReasonReduceNumFiles,
		MaxSubcompactions: 1,
		MaxOutputFileSize: noSizeLimit,
	}
}

func (p *Picker) sharesPrefix(a, b []byte) bool {
	n := p.opts.TablePrefixSize
	if n == 0 {
		return true
	}
	if len(a) < n || len(b) < n {
		return false
	}
	return bytes.Equal(a[:n], b[:n])
}
