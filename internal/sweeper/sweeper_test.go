package sweeper

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/mworkman/handypay/internal/job"
)

type fakeJobs struct {
	due       []*job.Job
	completed []string
	failWith  map[string]error
	listErr   error
}

func (f *fakeJobs) ListConfirmationDue(ctx context.Context, before time.Time, limit int) ([]*job.Job, error) {
	if f.listErr != nil {
		return nil, f.listErr
	}
	out := make([]*job.Job, 0, limit)
	for _, j := range f.due {
		if len(out) == limit {
			break
		}
		out = append(out, j)
	}
	return out, nil
}

func (f *fakeJobs) AutoComplete(ctx context.Context, jobID string) (*job.Job, error) {
	if err, ok := f.failWith[jobID]; ok {
		return nil, err
	}
	f.completed = append(f.completed, jobID)
	for i, j := range f.due {
		if j.ID == jobID {
			f.due = append(f.due[:i], f.due[i+1:]...)
			break
		}
	}
	return &job.Job{ID: jobID, Status: job.StatusCompleted}, nil
}

func dueJob(id string) *job.Job {
	past := time.Now().Add(-time.Hour)
	return &job.Job{ID: id, Status: job.StatusPendingConfirmation, ConfirmBy: &past}
}

func newTestSweeper(jobs Jobs) *Sweeper {
	return New(jobs, "@hourly", slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func TestSweepReleasesDueJobs(t *testing.T) {
	jobs := &fakeJobs{due: []*job.Job{dueJob("job_1"), dueJob("job_2")}}
	s := newTestSweeper(jobs)

	released := s.Sweep(context.Background())
	assert.Equal(t, 2, released)
	assert.ElementsMatch(t, []string{"job_1", "job_2"}, jobs.completed)
}

func TestSweepNothingDue(t *testing.T) {
	jobs := &fakeJobs{}
	s := newTestSweeper(jobs)
	assert.Equal(t, 0, s.Sweep(context.Background()))
}

func TestSweepSkipsAlreadyAdvancedJobs(t *testing.T) {
	jobs := &fakeJobs{
		due: []*job.Job{dueJob("job_1"), dueJob("job_2")},
		failWith: map[string]error{
			// Customer confirmed between listing and sweeping.
			"job_1": fmt.Errorf("transition: %w", job.ErrInvalidStateTransition),
		},
	}
	s := newTestSweeper(jobs)

	released := s.Sweep(context.Background())
	assert.Equal(t, 1, released)
	assert.Equal(t, []string{"job_2"}, jobs.completed)
}

func TestSweepContinuesPastFailures(t *testing.T) {
	jobs := &fakeJobs{
		due: []*job.Job{dueJob("job_1"), dueJob("job_2"), dueJob("job_3")},
		failWith: map[string]error{
			"job_2": errors.New("release engine unavailable"),
		},
	}
	s := newTestSweeper(jobs)

	released := s.Sweep(context.Background())
	assert.Equal(t, 2, released)
	assert.ElementsMatch(t, []string{"job_1", "job_3"}, jobs.completed)
}

func TestSweepDrainsMultipleBatches(t *testing.T) {
	jobs := &fakeJobs{}
	for i := 0; i < batchSize+25; i++ {
		jobs.due = append(jobs.due, dueJob(fmt.Sprintf("job_%d", i)))
	}
	s := newTestSweeper(jobs)

	released := s.Sweep(context.Background())
	assert.Equal(t, batchSize+25, released)
	assert.Empty(t, jobs.due)
}

func TestSweepStopsWhenStuck(t *testing.T) {
	jobs := &fakeJobs{failWith: map[string]error{}}
	for i := 0; i < batchSize; i++ {
		id := fmt.Sprintf("job_%d", i)
		jobs.due = append(jobs.due, dueJob(id))
		jobs.failWith[id] = errors.New("persistent failure")
	}
	s := newTestSweeper(jobs)

	done := make(chan int)
	go func() { done <- s.Sweep(context.Background()) }()

	select {
	case released := <-done:
		assert.Equal(t, 0, released)
	case <-time.After(5 * time.Second):
		t.Fatal("sweep did not terminate on a stuck batch")
	}
}

func TestStartAndStop(t *testing.T) {
	jobs := &fakeJobs{}
	s := newTestSweeper(jobs)

	assert.NoError(t, s.Start())

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	s.Stop(ctx)
}

func TestStartRejectsBadSchedule(t *testing.T) {
	s := New(&fakeJobs{}, "not a schedule", slog.New(slog.NewTextHandler(io.Discard, nil)))
	assert.Error(t, s.Start())
}
