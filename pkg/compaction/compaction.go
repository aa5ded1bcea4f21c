package compaction

import "math"

// Reason records why a compaction was picked.
type Reason int

const (
	ReasonUnknown Reason = iota
	// ReasonL0Files: level 0 reached its file-count trigger.
	ReasonL0Files
	// ReasonLevelSize: a hyper-level outgrew its compaction size.
	ReasonLevelSize
	// ReasonRearrange: trivial file movement keeping the hyper-level
	// shape; also tags the last-level rewrite of a hyper-level
	// promotion, which is not a trivial move.
	ReasonRearrange
	// ReasonReduceNumFiles: small-file coalescing on the last level.
	ReasonReduceNumFiles
	// ReasonManual: requested by the user through the engine.
	ReasonManual
)

func (r Reason) String() string {
	switch r {
	case ReasonL0Files:
		return "l0-files"
	case ReasonLevelSize:
		return "level-size"
	case ReasonRearrange:
		return "rearrange"
	case ReasonReduceNumFiles:
		return "reduce-num-files"
	case ReasonManual:
		return "manual"
	default:
		return "unknown"
	}
}

// InputFiles is one source (or target) level of a compaction.
type InputFiles struct {
	Level int
	Files []*FileMetadata
}

func (in InputFiles) empty() bool { return len(in.Files) == 0 }

// noSizeLimit disables the output file size cap.
const noSizeLimit = math.MaxUint64

// Compaction describes one unit of work for the engine's compaction
// worker pool. A trivial move relocates the input files to the output
// level instead of rewriting them.
type Compaction struct {
	Inputs            []InputFiles
	OutputLevel       int
	Reason            Reason
	TrivialMove       bool
	MaxSubcompactions int
	MaxOutputFileSize uint64
	Grandparents      []*FileMetadata
}

// StartLevel returns the shallowest input level.
func (c *Compaction) StartLevel() int { return c.Inputs[0].Level }
