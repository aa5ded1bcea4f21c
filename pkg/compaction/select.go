package compaction

// locateFile returns the index of the first file at or after start
// whose largest key reaches key. An empty key means start itself.
func (p *Picker) locateFile(files []*FileMetadata, key []byte, start int) int {
	i := start
	if len(key) > 0 {
		for ; i < len(files); i++ {
			if p.ucmp(files[i].Largest, key) >= 0 {
				break
			}
		}
	}
	return i
}

// selection carries the open bounds and covered key range of an
// in-progress buffer selection. Empty bounds mean unbounded.
type selection struct {
	smallestKey []byte
	largestKey  []byte
	lowerBound  []byte
	upperBound  []byte
	// lastFileSelected turns false once a file had to be left out, so
	// the sweep remembers where to resume.
	lastFileSelected bool
}

// selectNBuffersFromFirstLevel greedily picks adjacent files from the
// deepest level of the hyper-level, respecting the write-amplification
// guard against the target (last) level.
func (p *Picker) selectNBuffersFromFirstLevel(
	levelFiles, targetLevelFiles []*FileMetadata,
	maxNBuffers int,
	sel *selection,
) []*FileMetadata {
	if len(levelFiles) == 0 {
		return nil
	}
	levelIter := 0
	sel.smallestKey = levelFiles[0].Smallest
	sel.largestKey = levelFiles[0].Largest

	targetBegin := p.locateFile(targetLevelFiles, sel.smallestKey, 0)
	if targetBegin == len(targetLevelFiles) ||
		p.ucmp(sel.largestKey, targetLevelFiles[targetBegin].Smallest) < 0 {
		// no intersection with the target level, so insist on zero
		// intersection to keep the write amplification minimal and
		// allow parallelism
		if targetBegin != len(targetLevelFiles) {
			sel.upperBound = targetLevelFiles[targetBegin].Smallest
			if targetBegin > 0 {
				sel.lowerBound = targetLevelFiles[targetBegin-1].Largest
			}
		} else if len(targetLevelFiles) > 0 {
			sel.lowerBound = targetLevelFiles[len(targetLevelFiles)-1].Largest
		}
	} else if targetBegin > 0 {
		sel.lowerBound = targetLevelFiles[targetBegin-1].Largest
	}

	var currentTargetSize uint64
	currentLevelSize := levelFiles[levelIter].Size

	// first target file that does not intersect the seed file
	targetEnd := targetBegin
	for ; targetEnd < len(targetLevelFiles); targetEnd++ {
		if p.ucmp(targetLevelFiles[targetEnd].Smallest, levelFiles[levelIter].Largest) > 0 {
			break
		}
		currentTargetSize += targetLevelFiles[targetEnd].Size
	}

	outFiles := []*FileMetadata{levelFiles[levelIter]}
	levelIter++

	expand := true
	for levelIter < len(levelFiles) && expand {
		switch {
		case len(sel.upperBound) > 0 &&
			p.ucmp(sel.upperBound, levelFiles[levelIter].Largest) < 0:
			// would expand over the upper bound
			expand = false

		case targetEnd == len(targetLevelFiles) ||
			p.ucmp(targetLevelFiles[targetEnd].Smallest, levelFiles[levelIter].Largest) > 0:
			// "free" file; still check the compaction size and the
			// write amplification
			if len(outFiles) > maxNBuffers && currentLevelSize < 1<<26 &&
				currentTargetSize/currentLevelSize > 2 {
				expand = false
			}

		default:
			// the target file starts inside the current file; expand
			// only while the compaction stays small enough and the
			// file is not completely excluded
			newSize := currentTargetSize + targetLevelFiles[targetEnd].Size
			if len(outFiles) >= maxNBuffers || newSize > 1<<30 ||
				p.ucmp(targetLevelFiles[targetEnd].Largest, levelFiles[levelIter].Smallest) < 0 {
				expand = false
			} else {
				currentTargetSize = newSize
				targetEnd++
			}
		}
		if expand {
			currentLevelSize += levelFiles[levelIter].Size
			outFiles = append(outFiles, levelFiles[levelIter])
			levelIter++
		}
	}
	sel.largestKey = outFiles[len(outFiles)-1].Largest

	if targetEnd < len(targetLevelFiles) {
		sel.upperBound = targetLevelFiles[targetEnd].Smallest
	}
	if levelIter < len(levelFiles) {
		sel.lastFileSelected = false
		if len(sel.upperBound) == 0 ||
			p.ucmp(sel.upperBound, levelFiles[levelIter].Smallest) > 0 {
			sel.upperBound = levelFiles[levelIter].Smallest
		}
	}
	return outFiles
}

// expandSelection collects the files of a higher level that fall inside
// [smallestKey, largestKey] and strictly between the open bounds,
// tightening the bounds as it goes.
func (p *Picker) expandSelection(levelFiles []*FileMetadata, sel *selection) []*FileMetadata {
	if len(levelFiles) == 0 {
		return nil
	}

	// find the first file holding data past the lower bound
	f := p.locateFile(levelFiles, sel.smallestKey, 0)
	if len(sel.lowerBound) > 0 {
		for f < len(levelFiles) &&
			p.ucmp(sel.lowerBound, levelFiles[f].Smallest) >= 0 {
			f++
		}
	}

	if f == len(levelFiles) {
		last := levelFiles[len(levelFiles)-1]
		if len(sel.lowerBound) == 0 || p.ucmp(last.Largest, sel.lowerBound) > 0 {
			sel.lowerBound = last.Largest
		}
		return nil
	}

	if f > 0 {
		prev := levelFiles[f-1]
		if len(sel.lowerBound) == 0 || p.ucmp(prev.Largest, sel.lowerBound) > 0 {
			sel.lowerBound = prev.Largest
		}
	}

	// take all the files in [smallest, largest] whose largest key stays
	// under the upper bound
	var outFiles []*FileMetadata
	for ; f < len(levelFiles); f++ {
		if (len(sel.largestKey) != 0 &&
			p.ucmp(levelFiles[f].Smallest, sel.largestKey) > 0) ||
			(len(sel.upperBound) != 0 &&
				p.ucmp(levelFiles[f].Largest, sel.upperBound) >= 0) {
			break
		}
		outFiles = append(outFiles, levelFiles[f])
	}

	if f < len(levelFiles) {
		if len(sel.upperBound) == 0 ||
			p.ucmp(levelFiles[f].Smallest, sel.upperBound) < 0 {
			sel.upperBound = levelFiles[f].Smallest
		}
		if len(sel.upperBound) == 0 ||
			p.ucmp(levelFiles[f].Largest, sel.upperBound) > 0 {
			sel.lastFileSelected = false
		}
	}
	return outFiles
}

// selectNBuffers assembles the input levels of a hyper-level
// compaction: a greedy pick on the deepest level, an expansion through
// the levels above it, and the overlapping slice of the output level.
// The sub-compaction cursor is updated so the next tick resumes where
// this one stopped.
func (p *Picker) selectNBuffers(nBuffers, outputLevel, h int, v *VersionStorageInfo) ([]InputFiles, bool) {
	lowestLevel := LastLevelInHyper(h)
	if len(v.LevelFiles(lowestLevel)) == 0 {
		return nil, false
	}

	upperLevel := FirstLevelInHyper(h) + 3
	if !p.prevSubCompaction[h-1].empty() &&
		upperLevel <= p.prevSubCompaction[h-1].outputLevel {
		upperLevel = p.prevSubCompaction[h-1].outputLevel + 1
		if upperLevel > lowestLevel {
			return nil, false
		}
	}

	count := 0
	for s := lowestLevel; s >= upperLevel; s-- {
		if len(v.LevelFiles(s)) > 0 {
			count++
		}
	}

	inputs := make([]InputFiles, count+1)
	count--

	sel := selection{lastFileSelected: true}
	inputs[count].Level = lowestLevel
	inputs[count].Files = p.selectNBuffersFromFirstLevel(
		v.LevelFiles(lowestLevel), v.LevelFiles(p.lastLevel()), nBuffers, &sel)

	if prevPlace := p.prevSubCompaction[h].lastKey; len(prevPlace) > 0 {
		if p.ucmp(prevPlace, sel.smallestKey) < 0 &&
			(len(sel.lowerBound) == 0 || p.ucmp(prevPlace, sel.lowerBound) > 0) {
			sel.lowerBound = prevPlace
		}
	}

	for level := lowestLevel - 1; level >= upperLevel; level-- {
		if len(v.LevelFiles(level)) == 0 {
			continue
		}
		count--
		inputs[count].Level = level
		inputs[count].Files = p.expandSelection(v.LevelFiles(level), &sel)
		if fl := inputs[count].Files; len(fl) > 0 {
			if p.ucmp(fl[0].Smallest, sel.smallestKey) < 0 {
				sel.smallestKey = fl[0].Smallest
			}
			if p.ucmp(fl[len(fl)-1].Largest, sel.largestKey) > 0 {
				sel.largestKey = fl[len(fl)-1].Largest
			}
		}
	}

	count = len(inputs) - 1
	inputs[count].Level = outputLevel
	fl := v.LevelFiles(outputLevel)
	for i := p.locateFile(fl, sel.smallestKey, 0); i < len(fl); i++ {
		if p.ucmp(fl[i].Smallest, sel.largestKey) > 0 {
			break
		}
		inputs[count].Files = append(inputs[count].Files, fl[i])
	}

	// trivial move? only one source level with data and an empty output
	// range: drop the target layer from the inputs
	if inputs[count].empty() {
		trivialMove := true
		for inp := 0; inp+2 < count+1; inp++ {
			if !inputs[inp].empty() {
				trivialMove = false
				break
			}
		}
		if trivialMove {
			inputs[0] = inputs[count-1]
			inputs = inputs[:1]
		}
	}

	p.prevSubCompaction[h].outputLevel = outputLevel
	if !sel.lastFileSelected {
		p.prevSubCompaction[h].lastKey = append([]byte(nil), sel.upperBound...)
	} else {
		p.prevSubCompaction[h].lastKey = nil
	}

	return inputs, true
}
