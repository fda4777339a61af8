package queue

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTemp(t *testing.T) (*Queue, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "queue.db")
	q, err := Open(path)
	require.NoError(t, err)
	t.Cleanup(func() { _ = q.Close() })
	return q, path
}

func seg(start time.Time, app string) Segment {
	return Segment{StartedAt: start, EndedAt: start.Add(time.Minute), AppName: app}
}

func TestActivitiesDequeueInInsertionOrder(t *testing.T) {
	q, _ := openTemp(t)
	ctx := context.Background()
	base := time.Date(2025, time.March, 3, 10, 0, 0, 0, time.UTC)
	title := "main.go"

	for i, app := range []string{"a", "b", "c"} {
		s := seg(base.Add(time.Duration(i)*time.Minute), app)
		if app == "b" {
			s.WindowTitle = &title
			s.Idle = true
		}
		_, err := q.EnqueueActivity(ctx, s)
		require.NoError(t, err)
	}

	got, err := q.DequeueActivities(ctx, 2)
	require.NoError(t, err)
	require.Len(t, got, 2)
	require.Equal(t, "a", got[0].AppName)
	require.Equal(t, "b", got[1].AppName)
	require.True(t, got[1].Idle)
	require.Equal(t, &title, got[1].WindowTitle)
	require.Nil(t, got[0].URL)
	require.True(t, base.Equal(got[0].StartedAt))
	require.Less(t, got[0].ID, got[1].ID)

	again, err := q.DequeueActivities(ctx, 10)
	require.NoError(t, err)
	require.Len(t, again, 3, "dequeue must not remove rows")
}

func TestDeleteActivitiesRemovesOnlyGivenIDs(t *testing.T) {
	q, _ := openTemp(t)
	ctx := context.Background()
	base := time.Date(2025, time.March, 3, 10, 0, 0, 0, time.UTC)

	for i := 0; i < 5; i++ {
		_, err := q.EnqueueActivity(ctx, seg(base.Add(time.Duration(i)*time.Minute), "app"))
		require.NoError(t, err)
	}
	batch, err := q.DequeueActivities(ctx, 3)
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := q.EnqueueActivity(ctx, seg(base.Add(time.Hour+time.Duration(i)*time.Minute), "late"))
			assert.NoError(t, err)
		}(i)
	}

	ids := make([]int64, 0, len(batch))
	for _, s := range batch {
		ids = append(ids, s.ID)
	}
	require.NoError(t, q.DeleteActivities(ctx, ids))
	wg.Wait()

	rest, err := q.DequeueActivities(ctx, 100)
	require.NoError(t, err)
	require.Len(t, rest, 2+4)
	for _, s := range rest {
		require.NotContains(t, ids, s.ID)
	}
}

func TestQueueSurvivesReopen(t *testing.T) {
	q, path := openTemp(t)
	ctx := context.Background()
	_, err := q.EnqueueActivity(ctx, seg(time.Now(), "editor"))
	require.NoError(t, err)
	_, err = q.EnqueueScreenshot(ctx, Screenshot{FilePath: "/tmp/1.jpg", TakenAt: time.Now()})
	require.NoError(t, err)
	require.NoError(t, q.Close())

	reopened, err := Open(path)
	require.NoError(t, err)
	defer reopened.Close()

	stats, err := reopened.Stats(ctx)
	require.NoError(t, err)
	require.Equal(t, Stats{Activities: 1, Screenshots: 1}, stats)
}

func TestScreenshotAttemptsOnlyGrow(t *testing.T) {
	q, _ := openTemp(t)
	ctx := context.Background()
	device := "dev-1"
	taken := time.Date(2025, time.March, 3, 10, 0, 0, 0, time.UTC)

	id, err := q.EnqueueScreenshot(ctx, Screenshot{FilePath: "/tmp/a.jpg", TakenAt: taken, DeviceID: &device})
	require.NoError(t, err)

	at := taken.Add(time.Minute)
	require.NoError(t, q.IncrementAttempt(ctx, id, "upload failed", at))
	require.NoError(t, q.IncrementAttempt(ctx, id, "confirm failed", at.Add(time.Minute)))

	pending, err := q.PendingScreenshots(ctx, 10)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	require.Equal(t, 2, pending[0].Attempts)
	require.Equal(t, "confirm failed", *pending[0].LastError)
	require.Equal(t, device, *pending[0].DeviceID)
	require.True(t, at.Add(time.Minute).Equal(*pending[0].LastAttemptAt))
	require.True(t, taken.Equal(pending[0].TakenAt))

	require.NoError(t, q.DeleteScreenshots(ctx, []int64{id}))
	pending, err = q.PendingScreenshots(ctx, 10)
	require.NoError(t, err)
	require.Empty(t, pending)
}

func TestScreenshotsAfterPagesByID(t *testing.T) {
	q, _ := openTemp(t)
	ctx := context.Background()
	taken := time.Date(2025, time.March, 3, 10, 0, 0, 0, time.UTC)

	var ids []int64
	for i := 0; i < 3; i++ {
		id, err := q.EnqueueScreenshot(ctx, Screenshot{FilePath: "/tmp/shot.jpg", TakenAt: taken.Add(time.Duration(i) * time.Minute)})
		require.NoError(t, err)
		ids = append(ids, id)
	}

	page, err := q.ScreenshotsAfter(ctx, ids[0], 10)
	require.NoError(t, err)
	require.Len(t, page, 2)
	require.Equal(t, ids[1], page[0].ID)
	require.Equal(t, ids[2], page[1].ID)

	page, err = q.ScreenshotsAfter(ctx, ids[2], 10)
	require.NoError(t, err)
	require.Empty(t, page)
}
