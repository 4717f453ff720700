package grove

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
	"runtime"
	"strings"
	"sync/atomic"
	"time"

	"github.com/lni/dragonboat/v4/logger"
	"github.com/willowdb/willow/lib/pagestore"
	"github.com/willowdb/willow/lib/pagestore/engines/grove/internal"
)

// --------------------------------------------------------------------------
// Constants
// --------------------------------------------------------------------------

// Constants for store behavior and file format
const (
	magicNum             = "GROVEDB\x00"    // File format identifier
	groveVersion         = 1                // Checkpoint format version
	defaultSweepInterval = 1 * time.Second  // Default interval between sweep runs
)

var lg = logger.GetLogger("grove")

// --------------------------------------------------------------------------
// Core grove store structure
// --------------------------------------------------------------------------

// groveImpl implements an in-memory multi-version page store with sharded data
type groveImpl struct {
	numShards int               // Number of shards
	seed      uint64            // Seed for shard distribution
	shards    []*internal.Shard // Array of shards
	latest    atomic.Uint64     // Newest applied commit sequence number
	horizon   atomic.Uint64     // Oldest sequence number any reader may ask for

	// background version sweep
	sweepInterval time.Duration
	sweepRunning  atomic.Bool
	stopSweep     chan struct{}
}

// StoreOptions configures the groveImpl behavior during initialization
type StoreOptions struct {
	NumShards     int           // Number of shards (0 = auto)
	SweepInterval time.Duration // Time between sweep runs (0 = use default)
}

// DefaultOptions returns the default groveImpl options
func DefaultOptions() *StoreOptions {
	return &StoreOptions{
		NumShards:     runtime.NumCPU(),
		SweepInterval: defaultSweepInterval,
	}
}

// --------------------------------------------------------------------------
// Initialization and Setup
// --------------------------------------------------------------------------

// New creates a new grove store instance with the specified options (optional)
//
// Thread-safety: This function is not thread-safe and should only be called once
// during initialization.
func New(opts *StoreOptions) pagestore.IStore {

	if opts == nil {
		opts = DefaultOptions()
	}
	if opts.NumShards <= 0 {
		opts.NumShards = runtime.NumCPU()
	}
	if opts.SweepInterval <= 0 {
		opts.SweepInterval = defaultSweepInterval
	}

	shards := make([]*internal.Shard, opts.NumShards)
	for i := 0; i < opts.NumShards; i++ {
		shards[i] = internal.NewShard()
	}

	s := &groveImpl{
		numShards:     opts.NumShards,
		seed:          internal.GenerateSeed(),
		shards:        shards,
		sweepInterval: opts.SweepInterval,
		stopSweep:     make(chan struct{}),
	}

	s.startSweep()

	return s
}

// --------------------------------------------------------------------------
// IStore Interface Methods - Read Operations
// --------------------------------------------------------------------------

// Get retrieves the page for a key as of the given commit sequence number.
// The returned page holds copies of the stored data and is safe to modify.
//
// Thread-safety: This method is thread-safe and can be called concurrently.
func (s *groveImpl) Get(key string, at uint64) (pagestore.Page, bool, error) {
	shard := internal.GetShard(key, s.seed, s.shards)

	chain, ok := shard.Data.Load(key)
	if !ok {
		return pagestore.Page{}, false, nil
	}

	v, ok := chain.At(at)
	if !ok || v.Deleted {
		return pagestore.Page{}, false, nil
	}

	return copyPage(v), true, nil
}

// Range iterates all keys with the given prefix as of the given commit
// sequence number.
//
// Thread-safety: This method is thread-safe and can be called concurrently.
// Keys committed during the iteration may or may not be visited, but the
// pages passed to fn always reflect the state as of the requested sequence.
func (s *groveImpl) Range(prefix string, at uint64, fn func(key string, page pagestore.Page) bool) error {
	for _, shard := range s.shards {
		stop := false
		shard.Data.Range(func(key string, chain internal.Chain) bool {
			if !strings.HasPrefix(key, prefix) {
				return true
			}

			v, ok := chain.At(at)
			if !ok || v.Deleted {
				return true
			}

			if !fn(key, copyPage(v)) {
				stop = true
				return false
			}
			return true
		})
		if stop {
			break
		}
	}
	return nil
}

// --------------------------------------------------------------------------
// IStore Interface Methods - Write Operations
// --------------------------------------------------------------------------

// Apply atomically commits a batch as sequence number seq.
//
// Thread-safety: Callers must serialize Apply calls (single writer). Readers
// may run concurrently: a version with sequence seq only becomes visible to
// readers that ask for seq or newer, and no such reader exists until Apply
// has returned and the caller has published the new sequence.
func (s *groveImpl) Apply(batch *pagestore.Batch, seq uint64) error {
	latest := s.latest.Load()
	if seq != latest+1 {
		return pagestore.WrapError("apply",
			fmt.Errorf("out-of-order commit %d (latest %d)", seq, latest))
	}

	horizon := s.horizon.Load()

	for key, page := range batch.Puts {
		shard := internal.GetShard(key, s.seed, s.shards)
		v := internal.Version{Seq: seq, Value: copyBytes(page.Value), Meta: copyBytes(page.Meta)}

		shard.Data.Compute(key, func(chain internal.Chain, _ bool) (internal.Chain, bool) {
			return chain.Append(v, horizon), false
		})
	}

	for _, key := range batch.Deletes {
		shard := internal.GetShard(key, s.seed, s.shards)

		shard.Data.Compute(key, func(chain internal.Chain, loaded bool) (internal.Chain, bool) {
			if !loaded {
				return chain, true // nothing to tombstone, don't create an entry
			}
			return chain.Append(internal.Version{Seq: seq, Deleted: true}, horizon), false
		})
	}

	s.latest.Store(seq)
	return nil
}

// --------------------------------------------------------------------------
// Sequence Management
// --------------------------------------------------------------------------

// LatestCommit returns the sequence number of the newest applied batch.
func (s *groveImpl) LatestCommit() uint64 {
	return s.latest.Load()
}

// SetRetainHorizon advances the oldest sequence number any reader may ask for.
//
// Thread-safety: This method is thread-safe and can be called concurrently.
// It uses atomic operations to ensure that the horizon only increases.
func (s *groveImpl) SetRetainHorizon(seq uint64) {
	for {
		cur := s.horizon.Load()
		if seq <= cur {
			return
		}
		if s.horizon.CompareAndSwap(cur, seq) {
			return
		}
	}
}

// --------------------------------------------------------------------------
// Version Sweep
// --------------------------------------------------------------------------

// startSweep starts the background version sweep.
// If the sweep is already running, this function does nothing.
func (s *groveImpl) startSweep() {
	if s.sweepRunning.CompareAndSwap(false, true) {
		go s.sweep()
	}
}

// stopSweepLoop stops the background version sweep.
// The sweep can't be started again after it has been stopped.
func (s *groveImpl) stopSweepLoop() {
	if s.sweepRunning.CompareAndSwap(true, false) {
		close(s.stopSweep)
	}
}

// sweep periodically drops versions no retained reader can see.
// Most pruning happens inline during Apply; the sweep reclaims chains of
// keys that are no longer written to, including fully tombstoned ones.
func (s *groveImpl) sweep() {
	ticker := time.NewTicker(s.sweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stopSweep:
			return
		case <-ticker.C:
		}

		horizon := s.horizon.Load()
		if horizon == 0 {
			continue
		}

		pruned := 0
		for _, shard := range s.shards {
			shard.Data.Range(func(key string, _ internal.Chain) bool {
				shard.Data.Compute(key, func(chain internal.Chain, loaded bool) (internal.Chain, bool) {
					if !loaded {
						return chain, true
					}

					next, changed := chain.Prune(horizon)
					if !changed {
						return chain, false
					}

					pruned++
					if next.Empty() {
						return next, true // delete the whole entry
					}
					return next, false
				})
				return true
			})
		}

		if pruned > 0 {
			lg.Debugf("sweep pruned %d chains below horizon %d", pruned, horizon)
		}
	}
}

// --------------------------------------------------------------------------
// Persistence Operations
// --------------------------------------------------------------------------

// Save persists a checkpoint of the newest committed state to the writer.
// Only the newest live version of each key is written; history is a runtime
// concern and is rebuilt as new commits arrive after a Load.
//
// Thread-safety: This method allows concurrent reads. The caller must ensure
// no Apply runs while a checkpoint is taken.
func (s *groveImpl) Save(w io.Writer) error {
	bw := bufio.NewWriterSize(w, 1024*1024) // 1 MB buffer

	latest := s.latest.Load()

	type entryToSave struct {
		key string
		v   internal.Version
	}
	var entries []entryToSave

	for _, shard := range s.shards {
		shard.Data.Range(func(key string, chain internal.Chain) bool {
			v, ok := chain.At(latest)
			if !ok || v.Deleted {
				return true
			}
			entries = append(entries, entryToSave{key: key, v: v})
			return true
		})
	}

	// Write file header
	if _, err := bw.WriteString(magicNum); err != nil {
		return err
	}
	if err := binary.Write(bw, binary.LittleEndian, uint8(groveVersion)); err != nil {
		return err
	}
	if err := binary.Write(bw, binary.LittleEndian, latest); err != nil {
		return err
	}
	if err := binary.Write(bw, binary.LittleEndian, uint64(len(entries))); err != nil {
		return err
	}

	// Write entries
	for _, e := range entries {
		if err := writeBlob(bw, []byte(e.key)); err != nil {
			return err
		}
		if err := binary.Write(bw, binary.LittleEndian, e.v.Seq); err != nil {
			return err
		}
		if err := writeBlob(bw, e.v.Value); err != nil {
			return err
		}
		if err := writeBlob(bw, e.v.Meta); err != nil {
			return err
		}
	}

	if err := bw.Flush(); err != nil {
		return err
	}

	lg.Infof("checkpoint written: %d keys at commit %d", len(entries), latest)
	return nil
}

// Load restores a previously saved checkpoint from the reader.
//
// Thread-safety: This method is not thread-safe and must only be called
// before the store is otherwise in use.
func (s *groveImpl) Load(r io.Reader) error {
	br := bufio.NewReaderSize(r, 1024*1024) // 1 MB buffer

	// Read and verify magic number
	magicBytes := make([]byte, len(magicNum))
	if _, err := io.ReadFull(br, magicBytes); err != nil {
		return err
	}
	if string(magicBytes) != magicNum {
		return fmt.Errorf("invalid file format: magic number mismatch")
	}

	// Read and verify version
	var version uint8
	if err := binary.Read(br, binary.LittleEndian, &version); err != nil {
		return err
	}
	if int(version) != groveVersion {
		return fmt.Errorf("unsupported checkpoint version: %d (expected %d)", version, groveVersion)
	}

	var latest uint64
	if err := binary.Read(br, binary.LittleEndian, &latest); err != nil {
		return err
	}

	var count uint64
	if err := binary.Read(br, binary.LittleEndian, &count); err != nil {
		return err
	}

	// Recreate empty shards
	shards := make([]*internal.Shard, s.numShards)
	for i := 0; i < s.numShards; i++ {
		shards[i] = internal.NewShard()
	}
	s.shards = shards

	for i := uint64(0); i < count; i++ {
		key, err := readBlob(br)
		if err != nil {
			return err
		}

		var seq uint64
		if err := binary.Read(br, binary.LittleEndian, &seq); err != nil {
			return err
		}

		value, err := readBlob(br)
		if err != nil {
			return err
		}
		meta, err := readBlob(br)
		if err != nil {
			return err
		}

		shard := internal.GetShard(string(key), s.seed, s.shards)
		shard.Data.Store(string(key), internal.Chain{Versions: []internal.Version{{
			Seq:   seq,
			Value: value,
			Meta:  meta,
		}}})
	}

	s.latest.Store(latest)
	s.horizon.Store(0)

	lg.Infof("checkpoint loaded: %d keys at commit %d", count, latest)
	return nil
}

// Close stops the background sweep
func (s *groveImpl) Close() error {
	s.stopSweepLoop()
	return nil
}

// --------------------------------------------------------------------------
// Helpers
// --------------------------------------------------------------------------

func copyPage(v internal.Version) pagestore.Page {
	return pagestore.Page{Value: copyBytes(v.Value), Meta: copyBytes(v.Meta)}
}

// copyBytes returns a copy of b, preserving nil
func copyBytes(b []byte) []byte {
	if b == nil {
		return nil
	}
	out := make([]byte, len(b))
	copy(out, b)
	return out
}

// writeBlob writes a length-prefixed byte slice
func writeBlob(w io.Writer, b []byte) error {
	if err := binary.Write(w, binary.LittleEndian, uint32(len(b))); err != nil {
		return err
	}
	_, err := w.Write(b)
	return err
}

// readBlob reads a length-prefixed byte slice
func readBlob(r io.Reader) ([]byte, error) {
	var n uint32
	if err := binary.Read(r, binary.LittleEndian, &n); err != nil {
		return nil, err
	}
	b := make([]byte, n)
	if _, err := io.ReadFull(r, b); err != nil {
		return nil, err
	}
	return b, nil
}
