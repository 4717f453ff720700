package grove

import (
	"testing"
	"time"

	"github.com/willowdb/willow/lib/pagestore"
	pstesting "github.com/willowdb/willow/lib/pagestore/testing"
)

func Test(t *testing.T) {
	pstesting.RunStoreTests(t, "Grove", func() pagestore.IStore {
		return New(nil)
	})
}

// TestSweepReclaimsTombstonedKeys tests that chains whose only surviving
// version is a tombstone below the horizon disappear entirely.
func TestSweepReclaimsTombstonedKeys(t *testing.T) {
	s := New(&StoreOptions{NumShards: 2, SweepInterval: 5 * time.Millisecond})
	defer s.Close()

	batch := pagestore.NewBatch()
	batch.Put("gone", pagestore.Page{Value: []byte("v")})
	if err := s.Apply(batch, 1); err != nil {
		t.Fatal(err)
	}

	batch = pagestore.NewBatch()
	batch.Delete("gone")
	if err := s.Apply(batch, 2); err != nil {
		t.Fatal(err)
	}

	s.SetRetainHorizon(2)

	chains := func() int {
		count := 0
		for _, shard := range s.(*groveImpl).shards {
			count += shard.Data.Size()
		}
		return count
	}

	// wait for the sweep to reclaim the chain itself, not just hide the key
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if chains() == 0 {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}

	t.Errorf("expected tombstoned chain to be reclaimed, %d chains left", chains())
}
