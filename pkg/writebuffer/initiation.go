package writebuffer

import "github.com/google/uuid"

// InitiateFlushRequestFunc is the initiator callback contract. The
// client returns true when it accepted the request and will eventually
// call FlushStarted/FlushEnded, false when it declined this turn.
type InitiateFlushRequestFunc func(minSizeToFlush uint64) bool

// RegisterFlushInitiator adds a flush initiator under an opaque owner
// id issued by the engine. Initiators are tried in registration order
// by a rotating cursor.
func (m *Manager) RegisterFlushInitiator(owner uuid.UUID, cb InitiateFlushRequestFunc) {
	m.initiatorsMu.Lock()
	m.initiators = append(m.initiators, initiatorInfo{owner: owner, cb: cb})
	m.initiatorsMu.Unlock()
}

// DeregisterFlushInitiator removes the initiator registered under
// owner and clamps the rotating cursor.
func (m *Manager) DeregisterFlushInitiator(owner uuid.UUID) {
	m.initiatorsMu.Lock()
	for i, info := range m.initiators {
		if info.owner == owner {
			m.initiators = append(m.initiators[:i], m.initiators[i+1:]...)
			break
		}
	}
	n := len(m.initiators)
	m.initiatorsMu.Unlock()

	m.flushesMu.Lock()
	if n == 0 {
		m.nextCandidateIdx = 0
	} else if m.nextCandidateIdx >= n {
		m.nextCandidateIdx = 0
	}
	m.flushesMu.Unlock()
}

// FlushStarted records that a flush began; wbmInitiated marks it as one
// the manager asked for rather than an externally initiated one.
func (m *Manager) FlushStarted(wbmInitiated bool) {
	if !m.initiateFlushes {
		return
	}
	m.flushesMu.Lock()
	m.numRunningFlushes++
	m.recalcFlushInitiationSize()
	running := m.numRunningFlushes
	m.flushesMu.Unlock()
	m.log.Debug("flush started", "wbm_initiated", wbmInitiated, "running", running)
	m.reevaluateNeedForMoreFlushes(m.MemoryUsage())
}

// FlushEnded mirrors FlushStarted and triggers reevaluation.
func (m *Manager) FlushEnded(wbmInitiated bool) {
	if !m.initiateFlushes {
		return
	}
	m.flushesMu.Lock()
	if m.numRunningFlushes > 0 {
		m.numRunningFlushes--
	}
	m.recalcFlushInitiationSize()
	running := m.numRunningFlushes
	m.flushesMu.Unlock()
	m.log.Debug("flush ended", "wbm_initiated", wbmInitiated, "running", running)
	m.reevaluateNeedForMoreFlushes(m.MemoryUsage())
}

// initFlushInitiationVars recomputes the initiation thresholds for a
// new quota and starts the initiation thread on first use.
func (m *Manager) initFlushInitiationVars(quota uint64) {
	m.flushesMu.Lock()
	m.flushInitiationStartSize = quota * startFlushPercentThreshold / 100
	m.additionalFlushStepSize =
		quota * startFlushPercentThreshold / 100 / uint64(m.maxParallelFlushes)
	m.minFlushSize = m.additionalFlushStepSize / 2
	m.recalcFlushInitiationSize()
	m.flushesMu.Unlock()

	m.threadStart.Do(func() {
		go m.initiateFlushesThread()
	})
}

// recalcFlushInitiationSize derives the next initiation threshold from
// the flushes already running or pending. Callers hold flushesMu.
func (m *Manager) recalcFlushInitiationSize() {
	m.additionalFlushInitiationSize.Store(
		m.flushInitiationStartSize +
			m.additionalFlushStepSize*uint64(m.numRunningFlushes+m.numFlushesToInitiate))
}

// shouldInitiateAnotherFlushMemOnly checks the memory side of the
// initiation decision. The step/2 fraction is a tunable; freeing of
// memory can lag a finished flush while another thread holds the
// version, so the bytes being freed are discounted here.
func (m *Manager) shouldInitiateAnotherFlushMemOnly(curUsed uint64) bool {
	return curUsed-m.beingFreed.Load() >= m.additionalFlushStepSize/2 &&
		curUsed >= m.additionalFlushInitiationSize.Load()
}

// shouldInitiateAnotherFlush adds the parallelism cap. Callers hold
// flushesMu.
func (m *Manager) shouldInitiateAnotherFlush(curUsed uint64) bool {
	return m.numRunningFlushes+m.numFlushesToInitiate < m.maxParallelFlushes &&
		m.shouldInitiateAnotherFlushMemOnly(curUsed)
}

func (m *Manager) reevaluateNeedForMoreFlushes(curUsed uint64) {
	m.flushesMu.Lock()
	if m.shouldInitiateAnotherFlush(curUsed) {
		m.numFlushesToInitiate++
		m.recalcFlushInitiationSize()
		m.wakeupFlushInitiationThread()
	} else if m.numFlushesToInitiate > 0 {
		// a request left over from a fully declined cycle gets retried
		m.wakeupFlushInitiationThread()
	}
	m.flushesMu.Unlock()
}

// wakeupFlushInitiationThread is called with flushesMu held.
func (m *Manager) wakeupFlushInitiationThread() {
	m.newFlushesWakeup = true
	m.flushesCond.Signal()
}

// initiateFlushesThread is the single cooperative initiation thread.
// When woken it drains the pending initiation count by calling
// initiator callbacks round robin; after a full cycle of declines the
// pending count remains and the thread sleeps again.
func (m *Manager) initiateFlushesThread() {
	m.flushesMu.Lock()
	for {
		for !m.newFlushesWakeup {
			m.flushesCond.Wait()
		}
		m.newFlushesWakeup = false
		if m.terminateThread {
			break
		}
		for m.numFlushesToInitiate > 0 {
			if !m.initiateAdditionalFlush() {
				break
			}
		}
	}
	m.flushesMu.Unlock()
	close(m.threadDone)
}

// initiateAdditionalFlush tries one round-robin cycle over the
// registered initiators. Called with flushesMu held; the lock is
// released around the callbacks. Returns true when a candidate
// accepted.
func (m *Manager) initiateAdditionalFlush() bool {
	m.initiatorsMu.Lock()
	initiators := append([]initiatorInfo(nil), m.initiators...)
	m.initiatorsMu.Unlock()
	if len(initiators) == 0 {
		return false
	}

	start := m.nextCandidateIdx % len(initiators)
	minSize := m.minFlushSize
	m.flushesMu.Unlock()

	accepted := -1
	for i := 0; i < len(initiators); i++ {
		idx := (start + i) % len(initiators)
		if initiators[idx].cb(minSize) {
			accepted = idx
			break
		}
	}

	m.flushesMu.Lock()
	if accepted < 0 {
		return false
	}
	m.nextCandidateIdx = (accepted + 1) % len(initiators)
	if m.numFlushesToInitiate > 0 {
		m.numFlushesToInitiate--
	}
	m.recalcFlushInitiationSize()
	m.log.Debug("write buffer flush initiated",
		"initiator", initiators[accepted].owner,
		"pending", m.numFlushesToInitiate,
		"running", m.numRunningFlushes)
	return true
}

// Close terminates the initiation thread. Safe to call on a manager
// that never started one.
func (m *Manager) Close() {
	if !m.initiateFlushes {
		return
	}
	// Claim the start slot so a thread that never ran cannot start
	// later; if it never ran, threadDone is closed here.
	m.threadStart.Do(func() { close(m.threadDone) })
	m.flushesMu.Lock()
	m.terminateThread = true
	m.wakeupFlushInitiationThread()
	m.flushesMu.Unlock()
	<-m.threadDone
}
