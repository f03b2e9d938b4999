package vcp

import "sync"

// volumeWriter saves group volumes off the service goroutine.
//
// Pending values are coalesced per group so a burst of changes costs one
// write per group. Whatever is pending when the service exits is written
// before the writer returns.
type volumeWriter struct {
	store   VolumeStore
	onError func(group int32, err error)

	mu      sync.Mutex
	pending map[int32]int
	wake    chan struct{}
}

func newVolumeWriter(store VolumeStore, onError func(int32, error)) *volumeWriter {
	return &volumeWriter{
		store:   store,
		onError: onError,
		pending: make(map[int32]int),
		wake:    make(chan struct{}, 1),
	}
}

// save records the latest volume for group. Never blocks on the store.
func (w *volumeWriter) save(group int32, volume int) {
	w.mu.Lock()
	w.pending[group] = volume
	w.mu.Unlock()

	select {
	case w.wake <- struct{}{}:
	default:
	}
}

// run writes pending values until stop is closed, then flushes once more.
func (w *volumeWriter) run(stop <-chan struct{}, wg *sync.WaitGroup) {
	defer wg.Done()

	for {
		select {
		case <-w.wake:
			w.flush()
		case <-stop:
			w.flush()
			return
		}
	}
}

func (w *volumeWriter) flush() {
	w.mu.Lock()
	batch := w.pending
	w.pending = make(map[int32]int, len(batch))
	w.mu.Unlock()

	for group, volume := range batch {
		if err := w.store.SaveGroupVolume(group, volume); err != nil && w.onError != nil {
			w.onError(group, err)
		}
	}
}
