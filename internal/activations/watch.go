package activations

import (
	"errors"
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"
)

var ErrWatchUnsupported = errors.New("ledger storage does not support watching")

// BlobWatcher reports external writes to a file-backed blob. The ledger
// file is shared mutable state across every process on the machine, so
// a consumer holding derived state needs a cue to re-read it.
type BlobWatcher struct {
	watcher   *fsnotify.Watcher
	done      chan struct{}
	closeOnce sync.Once
	closeErr  error
}

// Watch invokes onChange whenever the named blob's backing file is
// created, written or replaced. Writes go through a temp file and
// rename, so rename events count as changes too.
func (s *FileBlobStore) Watch(name string, onChange func()) (*BlobWatcher, error) {
	if s == nil || name == "" || onChange == nil {
		return nil, ErrInvalidInput
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	// Watch the directory, not the file: the rename during an atomic
	// write replaces the inode the file watch would be pinned to.
	if err := watcher.Add(s.dir); err != nil {
		_ = watcher.Close()
		return nil, err
	}
	target := filepath.Base(s.Path(name))
	w := &BlobWatcher{watcher: watcher, done: make(chan struct{})}
	go w.run(target, onChange)
	return w, nil
}

func (w *BlobWatcher) run(target string, onChange func()) {
	for {
		select {
		case <-w.done:
			return
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if filepath.Base(event.Name) != target {
				continue
			}
			if event.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Rename) == 0 {
				continue
			}
			onChange()
		case _, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
		}
	}
}

func (w *BlobWatcher) Close() error {
	w.closeOnce.Do(func() {
		close(w.done)
		w.closeErr = w.watcher.Close()
	})
	return w.closeErr
}

// LedgerWatcher bundles the watchers for both activation blobs.
type LedgerWatcher struct {
	watchers []*BlobWatcher
}

// Watch invokes onChange whenever an external writer updates either
// activation set. Only file-backed ledger storage supports watching.
func (l *Ledger) Watch(onChange func()) (*LedgerWatcher, error) {
	fileStore, ok := l.store.(*FileBlobStore)
	if !ok {
		return nil, ErrWatchUnsupported
	}
	watcher := &LedgerWatcher{}
	for _, name := range []string{l.blobName(feeActivationsBlob), l.blobName(serviceActivationsBlob)} {
		w, err := fileStore.Watch(name, onChange)
		if err != nil {
			_ = watcher.Close()
			return nil, err
		}
		watcher.watchers = append(watcher.watchers, w)
	}
	return watcher, nil
}

func (w *LedgerWatcher) Close() error {
	var firstErr error
	for _, watcher := range w.watchers {
		if err := watcher.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
