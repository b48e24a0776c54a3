package stm

// Watermark tracks a set of in-flight [begin, done) intervals keyed by
// timestamp and reports the highest timestamp below which every interval
// has closed. Adapted from the teacher's pkg/txn/d_watermark.go
// CommitWaiter: same actor-over-a-channel design (a single goroutine owns
// the heap, so Begin/Done/WaitFor are safe to call from any goroutine), but
// repurposed from "is this commit visible to new readers yet" to "have all
// transactions pinned at or below this epoch finished" for RCU reclamation.
type Watermark struct {
	eventCh chan markEvent
	stopCh  chan struct{}
	mh      *markerHeap
}

type markEvent struct {
	ts     uint64
	done   bool
	waitCh chan struct{}
}

// NewWatermark starts the watermark's background goroutine.
func NewWatermark() *Watermark {
	w := &Watermark{
		eventCh: make(chan markEvent),
		stopCh:  make(chan struct{}),
		mh:      newMarkerHeap(),
	}
	go w.run()
	return w
}

// Begin records that a transaction pinned at ts has started.
func (w *Watermark) Begin(ts uint64) {
	w.eventCh <- markEvent{ts: ts, done: false}
}

// Done records that the transaction pinned at ts has finished (committed,
// aborted, or discarded).
func (w *Watermark) Done(ts uint64) {
	w.eventCh <- markEvent{ts: ts, done: true}
}

// DoneTill returns the current high-water mark: every transaction begun at
// or before this timestamp has finished.
func (w *Watermark) DoneTill() uint64 {
	return w.mh.globalDoneTill()
}

// WaitFor blocks the calling goroutine until DoneTill() >= ts.
func (w *Watermark) WaitFor(ts uint64) {
	if w.DoneTill() >= ts {
		return
	}
	waitCh := make(chan struct{})
	w.eventCh <- markEvent{ts: ts, waitCh: waitCh}
	<-waitCh
}

// Stop terminates the watermark's background goroutine, closing any
// waiters still pending.
func (w *Watermark) Stop() {
	w.stopCh <- struct{}{}
}

func (w *Watermark) run() {
	for {
		select {
		case ev := <-w.eventCh:
			if ev.waitCh != nil {
				w.processWait(ev)
			} else {
				w.processMark(ev)
			}
		case <-w.stopCh:
			w.processClose()
			return
		}
	}
}

func (w *Watermark) processMark(ev markEvent) {
	if ev.done {
		w.mh.addDone(ev.ts)
	} else {
		w.mh.addBegin(ev.ts)
	}
	global := w.mh.recalc()
	w.mh.closeWaitersUntil(global)
}

func (w *Watermark) processWait(ev markEvent) {
	if w.mh.globalDoneTill() >= ev.ts {
		close(ev.waitCh)
		return
	}
	w.mh.addWaiter(ev.ts, ev.waitCh)
}

func (w *Watermark) processClose() {
	close(w.eventCh)
	close(w.stopCh)
	for ts, chans := range w.mh.waiters {
		for _, ch := range chans {
			close(ch)
		}
		delete(w.mh.waiters, ts)
	}
}
