package timer

import (
	"time"

	"github.com/copperhead-labs/reactorcore/bus"
)

// addNode inserts n into the appropriate root or cascade-level slot
// based on its distance from the current jiffy, exactly as
// original_source/src/timer.c's add_node (same bit arithmetic, same
// level-selection loop, same "i==3 is the last level" fallthrough).
func (w *Wheel) addNode(n *node) {
	idx := int32(n.expire) - int32(w.jiffies)
	switch {
	case idx < 0: // already timed out by the time it was linked
		w.root[w.jiffies&srMask].push(n)
	case idx < srSize:
		w.root[n.expire&srMask].push(n)
	default:
		i := 0
		for ; i < 3; i++ {
			if idx < 1<<uint((i+1)*slBits+srBits) {
				slot := (n.expire >> uint(i*slBits+srBits)) & slMask
				w.level[i][slot].push(n)
				return
			}
		}
		// i == 3, the last level: no further bound check, matching
		// the original's unconditional fallthrough.
		slot := (n.expire >> uint(i*slBits+srBits)) & slMask
		w.level[i][slot].push(n)
	}
}

// expireTimer fires and unlinks every node in the current root slot,
// appending each to the local batch (head/tail) for a single deferred
// pool return, mirroring original_source/src/timer.c's expire_timer.
func (w *Wheel) expireTimer(batchHead, batchTail **node) {
	idx := w.jiffies & srMask
	slot := &w.root[idx]
	n := slot.takeAll()
	for n != nil {
		next := n.next
		n.prev = nil
		n.next = nil
		n.inList = nil
		w.fireExpired(n)
		w.appendBatch(batchHead, batchTail, n)
		n = next
	}
}

// fireExpired emits the timer-expire message and updates counters for
// one fired node, matching original_source/src/timer.c's timeout().
func (w *Wheel) fireExpired(n *node) {
	w.pending.Add(^uint64(0)) // -1
	w.fired.Add(1)
	sess := n.session()
	w.queue.Push(w.registry.Tag(&bus.TimerExpire{Session: sess}))
}

// appendBatch threads n onto the local free batch via node.next, to be
// handed to the pool in one locked call after the whole tick finishes.
func (w *Wheel) appendBatch(head, tail **node, n *node) {
	n.version.Add(1)
	n.state = nodeFreed
	n.next = nil
	if *head == nil {
		*head = n
	} else {
		(*tail).next = n
	}
	*tail = n
}

// cascadeTimer pulls one bucket from the given level back down for
// re-insertion, matching original_source/src/timer.c's cascade_timer,
// and returns the bucket index so the caller can decide whether to
// keep cascading (idx==0 means the level itself rolled over too).
func (w *Wheel) cascadeTimer(level int) uint32 {
	idx := (w.jiffies >> uint(level*slBits+srBits)) & slMask
	slot := &w.level[level][idx]
	n := slot.takeAll()
	for n != nil {
		next := n.next
		n.prev = nil
		n.next = nil
		n.inList = nil
		w.addNode(n)
		n = next
	}
	return idx
}

// updateOneTick advances jiffies by exactly one unit, firing and
// cascading as original_source/src/timer.c's update_timer does.
func (w *Wheel) updateOneTick(batchHead, batchTail **node) {
	w.expireTimer(batchHead, batchTail)
	w.jiffies++
	idx := w.jiffies & srMask
	if idx == 0 {
		for i := 0; i < 4; i++ {
			if w.cascadeTimer(i) != 0 {
				break
			}
		}
	}
	w.expireTimer(batchHead, batchTail)
}

// processCommands drains the command buffer and applies every add/
// cancel/exit record, matching original_source/src/timer.c's
// process_cmd. Returns false iff an exit command was seen.
func (w *Wheel) processCommands(batchHead, batchTail **node) bool {
	for _, cmd := range w.cmdbuf.Flip() {
		switch cmd.op {
		case opAfter:
			n := cmd.afterNode
			n.state = nodeTicking
			w.addNode(n)
		case opCancel:
			n := cmd.cancelNode
			if n.version.Load() != cmd.cancelVersion {
				continue
			}
			unlink(n)
			w.appendBatch(batchHead, batchTail, n)
			w.pending.Add(^uint64(0))
			w.cancelled.Add(1)
		case opExit:
			return false
		}
	}
	return true
}

// Tick advances the wheel by whatever whole resolution units have
// elapsed since the last call (spec.md §4.3: "computes elapsed real
// time each tick so missed ticks ... are replayed in a batch"), and
// returns the duration to sleep before calling Tick again. The second
// return value is false once an exit command has been processed, at
// which point the caller should stop ticking.
func (w *Wheel) Tick(now time.Time) (sleepFor time.Duration, ok bool) {
	if w.epoch.IsZero() {
		w.epoch = now
	}
	elapsed := now.Sub(w.epoch)
	elapsedMS := uint64(elapsed / time.Millisecond)
	resMS := uint64(w.resolution / time.Millisecond)
	lastTick := w.tickTimeMS.Load()

	if elapsedMS < lastTick+resMS {
		return time.Duration(lastTick+resMS-elapsedMS) * time.Millisecond, true
	}

	delta := elapsedMS - lastTick
	if delta > uint64(DelayWarning/time.Millisecond) {
		w.logger.Warn("timer update delta too big", "from_ms", lastTick, "to_ms", elapsedMS)
	}
	ticks := delta / resMS
	tickStep := ticks * resMS
	w.tickTimeMS.Add(tickStep)
	w.monotonicMS.Add(tickStep)

	var batchHead, batchTail *node
	if !w.processCommands(&batchHead, &batchTail) {
		return 0, false
	}
	for i := uint64(0); i < ticks; i++ {
		w.updateOneTick(&batchHead, &batchTail)
	}
	if batchHead != nil {
		w.pool.freeBatch(batchHead, batchTail)
	}
	return time.Duration(resMS-delta%resMS) * time.Millisecond, true
}

// Run drives Tick in a loop until stop is closed or an exit command is
// processed, sleeping between calls for the duration Tick
// recommends. Intended to be launched as the dedicated Timer goroutine
// (spec.md §2).
func (w *Wheel) Run(stop <-chan struct{}) {
	timer := time.NewTimer(w.resolution)
	defer timer.Stop()
	for {
		select {
		case <-stop:
			return
		case now := <-timer.C:
			wait, ok := w.Tick(now)
			if !ok {
				return
			}
			timer.Reset(wait)
		}
	}
}
