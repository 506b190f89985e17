package index

import (
	"bufio"
	"context"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v5"

	"github.com/xregistry/xrbridge/internal/logger"
)

// CorpusLoader fetches the full list of known package names for one
// ecosystem. Loaders are ecosystem-specific (replicate listing for npm,
// simple index for PyPI, bounded coordinate sweep for Maven).
type CorpusLoader func(ctx context.Context) ([]string, error)

// snapshot is an immutable, sorted name list. Rebuilds swap a fresh
// snapshot atomically; readers never see a partial index.
type snapshot struct {
	names []string
}

// NameIndex answers name predicates over the ecosystem corpus. Construction
// is asynchronous: serving degrades to upstream search until Ready.
type NameIndex struct {
	snap   atomic.Pointer[snapshot]
	ready  chan struct{}
	loader CorpusLoader

	// snapshotPath persists the ordered name list across restarts.
	snapshotPath string
}

// NewNameIndex creates an index that will load its corpus via loader.
// snapshotDir may be empty to disable persistence.
func NewNameIndex(loader CorpusLoader, snapshotDir string) *NameIndex {
	idx := &NameIndex{
		ready:  make(chan struct{}),
		loader: loader,
	}
	if snapshotDir != "" {
		idx.snapshotPath = filepath.Join(snapshotDir, "names.snapshot")
	}
	return idx
}

// Start launches the background build. It returns immediately.
func (idx *NameIndex) Start(ctx context.Context) {
	go idx.build(ctx)
}

func (idx *NameIndex) build(ctx context.Context) {
	if names := idx.readSnapshot(); len(names) > 0 {
		idx.install(names)
		logger.Infof("name index restored from snapshot: %d names", len(names))
		return
	}

	op := func() ([]string, error) {
		return idx.loader(ctx)
	}
	names, err := backoff.Retry(ctx, op,
		backoff.WithBackOff(backoff.NewExponentialBackOff()),
		backoff.WithMaxElapsedTime(10*time.Minute))
	if err != nil {
		logger.Errorf("name index load failed, serving via upstream search: %v", err)
		return
	}

	// Persist before publishing, so the snapshot exists once Ready is true.
	ordered := append([]string(nil), names...)
	sort.Strings(ordered)
	idx.writeSnapshot(ordered)
	idx.install(names)
	logger.Infof("name index built: %d names", len(idx.snap.Load().names))
}

// install sorts, dedupes, and atomically publishes the corpus.
func (idx *NameIndex) install(names []string) {
	sorted := make([]string, len(names))
	copy(sorted, names)
	sort.Strings(sorted)
	deduped := sorted[:0]
	for i, n := range sorted {
		if n == "" || (i > 0 && n == sorted[i-1]) {
			continue
		}
		deduped = append(deduped, n)
	}
	idx.snap.Store(&snapshot{names: deduped})
	select {
	case <-idx.ready:
	default:
		close(idx.ready)
	}
}

// Ready reports whether the index has been built.
func (idx *NameIndex) Ready() bool {
	select {
	case <-idx.ready:
		return true
	default:
		return false
	}
}

// WaitReady blocks until the index is built or ctx expires. Sorted listings
// call it with a bounded deadline.
func (idx *NameIndex) WaitReady(ctx context.Context) error {
	select {
	case <-idx.ready:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Len returns the corpus size, or 0 before the index is ready.
func (idx *NameIndex) Len() int {
	if s := idx.snap.Load(); s != nil {
		return len(s.names)
	}
	return 0
}

// Names returns the full sorted corpus. The slice is shared and must not be
// mutated.
func (idx *NameIndex) Names() []string {
	if s := idx.snap.Load(); s != nil {
		return s.names
	}
	return nil
}

// Candidates evaluates the name predicates and returns matches ordered for
// step-two fetching: literal-prefix matches first, then alphabetical.
func (idx *NameIndex) Candidates(preds []Predicate) []string {
	s := idx.snap.Load()
	if s == nil {
		return nil
	}

	names := s.names
	prefix := sharedLiteralPrefix(preds)

	// A non-empty literal prefix narrows the scan to its sorted range.
	if prefix != "" && allPositiveAnchored(preds) {
		lo := sort.SearchStrings(names, prefix)
		hi := sort.SearchStrings(names, prefix+"\xff")
		names = names[lo:hi]
	}

	var prefixed, rest []string
	for _, name := range names {
		ok := true
		for i := range preds {
			if !preds[i].Match(name) {
				ok = false
				break
			}
		}
		if !ok {
			continue
		}
		if prefix != "" && strings.HasPrefix(name, prefix) {
			prefixed = append(prefixed, name)
		} else {
			rest = append(rest, name)
		}
	}
	return append(prefixed, rest...)
}

// sharedLiteralPrefix returns the literal prefix of the first positive
// equality predicate, which drives both range narrowing and fetch order.
func sharedLiteralPrefix(preds []Predicate) string {
	for i := range preds {
		if preds[i].Op == OpEquals {
			if p := LiteralPrefix(preds[i].Value); p != "" {
				return strings.ToLower(p)
			}
		}
	}
	return ""
}

// allPositiveAnchored reports whether every predicate is a positive match
// anchored at the start, making the prefix range scan exhaustive.
func allPositiveAnchored(preds []Predicate) bool {
	for i := range preds {
		if preds[i].Op != OpEquals {
			return false
		}
		if strings.HasPrefix(preds[i].Value, "*") || strings.HasPrefix(preds[i].Value, "?") {
			return false
		}
	}
	return true
}

func (idx *NameIndex) readSnapshot() []string {
	if idx.snapshotPath == "" {
		return nil
	}
	f, err := os.Open(idx.snapshotPath)
	if err != nil {
		return nil
	}
	defer func() {
		_ = f.Close()
	}()

	var names []string
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for sc.Scan() {
		if line := strings.TrimSpace(sc.Text()); line != "" {
			names = append(names, line)
		}
	}
	if sc.Err() != nil {
		logger.Warnf("name snapshot read failed: %v", sc.Err())
		return nil
	}
	return names
}

func (idx *NameIndex) writeSnapshot(names []string) {
	if idx.snapshotPath == "" {
		return
	}
	dir := filepath.Dir(idx.snapshotPath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		logger.Warnf("name snapshot dir create failed: %v", err)
		return
	}
	tmp, err := os.CreateTemp(dir, ".snapshot-*")
	if err != nil {
		logger.Warnf("name snapshot write failed: %v", err)
		return
	}
	w := bufio.NewWriter(tmp)
	for _, n := range names {
		_, _ = w.WriteString(n)
		_ = w.WriteByte('\n')
	}
	if err := w.Flush(); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmp.Name())
		return
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmp.Name())
		return
	}
	if err := os.Rename(tmp.Name(), idx.snapshotPath); err != nil {
		logger.Warnf("name snapshot rename failed: %v", err)
	}
}
