package jobs

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestStoreCreateRejectsDuplicateID(t *testing.T) {
	t.Parallel()

	store := NewStore()
	require.NoError(t, store.Create(&Job{ID: "a", Kind: KindCrawlAnalysis, Status: StatusPending}))
	require.ErrorIs(t, store.Create(&Job{ID: "a"}), ErrJobExists)
}

func TestStoreGetReturnsSnapshot(t *testing.T) {
	t.Parallel()

	store := NewStore()
	require.NoError(t, store.Create(&Job{ID: "a", Status: StatusPending}))
	store.Update("a", func(j *Job) {
		j.Pages = append(j.Pages, PageResult{URL: "https://x.test/", Status: PageAnalyzed})
	})

	snap, ok := store.Get("a")
	require.True(t, ok)
	snap.Pages[0].URL = "mutated"

	again, _ := store.Get("a")
	require.Equal(t, "https://x.test/", again.Pages[0].URL)
}

func TestStoreListNewestFirst(t *testing.T) {
	t.Parallel()

	store := NewStore()
	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	require.NoError(t, store.Create(&Job{ID: "old", Created: base}))
	require.NoError(t, store.Create(&Job{ID: "new", Created: base.Add(time.Minute)}))
	require.NoError(t, store.Create(&Job{ID: "mid", Created: base.Add(30 * time.Second)}))

	list := store.List()
	require.Len(t, list, 3)
	require.Equal(t, "new", list[0].ID)
	require.Equal(t, "mid", list[1].ID)
	require.Equal(t, "old", list[2].ID)
}

func TestStoreUpdateMissingJob(t *testing.T) {
	t.Parallel()

	store := NewStore()
	require.False(t, store.Update("ghost", func(*Job) {}))
}

// A reader polling during concurrent updates must always observe a
// self-consistent record: once the summary is set, the status must be a
// state at or after summarizing.
func TestStoreConcurrentReadersSeeConsistentRecords(t *testing.T) {
	t.Parallel()

	store := NewStore()
	require.NoError(t, store.Create(&Job{ID: "a", Kind: KindCrawlAnalysis, Status: StatusPending}))

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; i < 1000; i++ {
			store.Update("a", func(j *Job) {
				j.Pages = append(j.Pages, PageResult{URL: "https://x.test/", Status: PageAnalyzed})
			})
		}
		store.Update("a", func(j *Job) {
			// Summary and terminal status land in one critical section.
			j.Summary = "done"
			j.Status = StatusCompleted
		})
	}()

	for i := 0; i < 1000; i++ {
		snap, ok := store.Get("a")
		require.True(t, ok)
		if snap.Summary != "" {
			require.Equal(t, StatusCompleted, snap.Status,
				"observed summary on a non-terminal record")
		}
	}
	wg.Wait()

	final, _ := store.Get("a")
	require.Equal(t, StatusCompleted, final.Status)
	require.Equal(t, "done", final.Summary)
}
