package worker

// MaxEvictedItems bounds how many of the oldest tree items one OOM
// pass will render-then-free (spec.md §4.9).
const MaxEvictedItems = 64

// MaxFlushResourceCalls bounds how many times OnFlushResources is
// invoked per OOM pass, so a caller whose own flush does nothing can't
// spin the worker forever (spec.md §4.9).
const MaxFlushResourceCalls = 2

// OOMReport summarizes one HandleOOM pass for logging.
type OOMReport struct {
	GLZBytesFreed int
	ItemsEvicted  int
	FlushCalls    int
}

// HandleOOM runs the worker's memory-pressure recovery sequence
// (spec.md §4.9): force-free the GLZ dictionary's window regardless of
// its normal budget, render-then-free up to MaxEvictedItems of the
// oldest items across every surface's tree, then give external callers
// up to MaxFlushResourceCalls chances to drop anything of their own.
func (l *Loop) HandleOOM() OOMReport {
	var report OOMReport

	if l.Dict != nil {
		report.GLZBytesFreed = l.Dict.ForceFree(0)
	}

	remaining := MaxEvictedItems
	for id, tr := range l.Trees {
		if remaining <= 0 {
			break
		}
		c, ok := l.Canvases[id]
		if !ok || c == nil {
			continue
		}
		n := tr.EvictOldest(c, remaining)
		report.ItemsEvicted += n
		remaining -= n
	}

	for i := 0; i < MaxFlushResourceCalls; i++ {
		if l.OnFlushResources == nil {
			break
		}
		l.OnFlushResources()
		report.FlushCalls++
	}

	return report
}
