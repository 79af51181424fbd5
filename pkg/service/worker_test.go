package service

import (
	"context"
	"errors"
	"testing"
	"time"

	qt "github.com/frankban/quicktest"

	"github.com/decksense/presentation-backend/pkg/datamodel"
)

func TestWorker(t *testing.T) {
	c := qt.New(t)
	ctx := context.Background()

	t.Run("consumes a queued job to completion", func(t *testing.T) {
		f := newProcessorFixture(2, 5)
		queue := &fakeQueue{}
		c.Assert(queue.Push(ctx, newTestJob(t, "job-queued")), qt.IsNil)

		worker := NewWorker(queue, f.processor)
		worker.Start(ctx)

		waitForState(c, f.tasks, "job-queued", datamodel.TaskStateCompleted)
		worker.Stop()
	})

	t.Run("stop waits for the in-flight job", func(t *testing.T) {
		f := newProcessorFixture(1, 5)
		f.analyzer.started = make(chan struct{}, 1)
		f.analyzer.release = make(chan struct{})
		queue := &fakeQueue{}
		c.Assert(queue.Push(ctx, newTestJob(t, "job-inflight")), qt.IsNil)

		worker := NewWorker(queue, f.processor)
		worker.Start(ctx)

		// Hold the job mid-analysis, then stop the worker.
		<-f.analyzer.started
		stopped := make(chan struct{})
		go func() {
			worker.Stop()
			close(stopped)
		}()

		select {
		case <-stopped:
			c.Fatal("Stop returned while a job was still in flight")
		case <-time.After(50 * time.Millisecond):
		}

		close(f.analyzer.release)
		select {
		case <-stopped:
		case <-time.After(5 * time.Second):
			c.Fatal("Stop did not return after the job finished")
		}

		c.Assert(f.tasks.state("job-inflight"), qt.Equals, datamodel.TaskStateCompleted)
	})

	t.Run("pop errors pause the loop but don't kill it", func(t *testing.T) {
		f := newProcessorFixture(1, 5)
		queue := &fakeQueue{popErrs: []error{errors.New("connection refused")}}
		c.Assert(queue.Push(ctx, newTestJob(t, "job-after-error")), qt.IsNil)

		worker := NewWorker(queue, f.processor)
		worker.Start(ctx)

		waitForState(c, f.tasks, "job-after-error", datamodel.TaskStateCompleted)
		worker.Stop()
	})

	t.Run("a failing job doesn't stop the loop", func(t *testing.T) {
		f := newProcessorFixture(1, 5)
		f.extractor.err = errors.New("corrupt file")
		queue := &fakeQueue{}
		c.Assert(queue.Push(ctx, newTestJob(t, "job-bad")), qt.IsNil)
		c.Assert(queue.Push(ctx, newTestJob(t, "job-bad-2")), qt.IsNil)

		worker := NewWorker(queue, f.processor)
		worker.Start(ctx)

		waitForState(c, f.tasks, "job-bad", datamodel.TaskStateFailed)
		waitForState(c, f.tasks, "job-bad-2", datamodel.TaskStateFailed)
		worker.Stop()
	})
}

// waitForState polls the task store until the job reaches the wanted state.
func waitForState(c *qt.C, tasks *fakeTaskStore, jobID string, want datamodel.TaskState) {
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if tasks.state(jobID) == want {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	c.Fatalf("job %s never reached state %q (last: %q)", jobID, want, tasks.state(jobID))
}
