package systems

import (
	"sync"
	"testing"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spaghettifunk/anima-rt/engine/core"
	"github.com/spaghettifunk/anima-rt/engine/renderer/metadata"
)

func TestNewJobSystemNeedsWorkers(t *testing.T) {
	_, err := NewJobSystem("none", 0)
	assert.ErrorIs(t, err, ErrNoWorkers)
}

func TestSingleWorkerRunsJobsInOrder(t *testing.T) {
	js, err := NewJobSystem("ordered", 1)
	require.NoError(t, err)

	var mu sync.Mutex
	var order []int
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		require.NoError(t, js.Submit(metadata.JobTask{
			Name: "append",
			OnStart: func() error {
				mu.Lock()
				order = append(order, i)
				mu.Unlock()
				return nil
			},
			OnComplete: wg.Done,
		}))
	}
	wg.Wait()
	require.NoError(t, js.Shutdown())

	require.Len(t, order, 50)
	for i, v := range order {
		assert.Equal(t, i, v)
	}
}

func TestFailingJobKeepsWorkersUnlessFatal(t *testing.T) {
	js, err := NewJobSystem("errors", 1)
	require.NoError(t, err)

	failed := make(chan error, 1)
	require.NoError(t, js.Submit(metadata.JobTask{
		Name:      "fails",
		OnStart:   func() error { return core.Newf("transient") },
		OnFailure: func(err error) { failed <- err },
	}))
	assert.EqualError(t, <-failed, "transient")
	assert.False(t, js.Stopped())
	require.NoError(t, js.Shutdown())
}

func TestFatalJobStopsTheSystem(t *testing.T) {
	js, err := NewJobSystem("fatal", 1)
	require.NoError(t, err)

	release := make(chan struct{})
	errs := make(chan error, 2)
	require.NoError(t, js.Submit(metadata.JobTask{
		Name: "asserts",
		OnStart: func() error {
			<-release
			return core.Wrap(core.Assertf("broken invariant"), "preparing mesh")
		},
		OnFailure: func(err error) { errs <- err },
	}))
	ran := false
	require.NoError(t, js.Submit(metadata.JobTask{
		Name:      "queued behind",
		OnStart:   func() error { ran = true; return nil },
		OnFailure: func(err error) { errs <- err },
	}))
	close(release)

	assert.True(t, core.IsFatal(<-errs))
	assert.ErrorIs(t, <-errs, core.ErrWorkerStopped)
	assert.False(t, ran)
	assert.True(t, js.Stopped())

	err = js.Submit(metadata.JobTask{Name: "late", OnStart: func() error { return nil }})
	assert.True(t, errors.Is(err, core.ErrWorkerStopped))
	require.NoError(t, js.Shutdown())
}

func TestSubmitWithoutOnStartIsFatal(t *testing.T) {
	js, err := NewJobSystem("empty", 1)
	require.NoError(t, err)
	err = js.Submit(metadata.JobTask{Name: "nothing"})
	require.Error(t, err)
	assert.True(t, core.IsFatal(err))
	require.NoError(t, js.Shutdown())
}

func TestSubmitAfterShutdown(t *testing.T) {
	js, err := NewJobSystem("closed", 2)
	require.NoError(t, err)
	require.NoError(t, js.Shutdown())
	err = js.Submit(metadata.JobTask{Name: "late", OnStart: func() error { return nil }})
	assert.ErrorIs(t, err, core.ErrWorkerStopped)
	assert.Zero(t, js.Pending())
}
