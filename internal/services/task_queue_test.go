package services

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/hibiken/asynq"
	"github.com/huangang/auditreport/internal/config"
)

// recordingQueue is a TaskQueue that keeps every enqueued task.
type recordingQueue struct {
	mu    sync.Mutex
	tasks []*ReportTask
	err   error
}

func (q *recordingQueue) Enqueue(task *ReportTask) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.err != nil {
		return q.err
	}
	q.tasks = append(q.tasks, task)
	return nil
}

func (q *recordingQueue) IsAsync() bool { return false }

func (q *recordingQueue) Close() error { return nil }

func (q *recordingQueue) Tasks() []*ReportTask {
	q.mu.Lock()
	defer q.mu.Unlock()
	return append([]*ReportTask(nil), q.tasks...)
}

func TestTaskTypeReportVersion_Constant(t *testing.T) {
	if TaskTypeReportVersion != "report:create_version" {
		t.Errorf("TaskTypeReportVersion = %q, expected %q", TaskTypeReportVersion, "report:create_version")
	}
}

func TestNewTaskQueue_RedisDisabled(t *testing.T) {
	q := NewTaskQueue(&config.RedisConfig{Enabled: false})
	if q.IsAsync() {
		t.Error("queue should be sync when Redis is disabled")
	}
	if _, ok := q.(*SyncQueue); !ok {
		t.Errorf("expected *SyncQueue, got %T", q)
	}
}

func TestSyncQueue_IsAsync(t *testing.T) {
	if NewSyncQueue().IsAsync() {
		t.Error("SyncQueue.IsAsync() should return false")
	}
}

func TestSyncQueue_EnqueueWithoutProcessor(t *testing.T) {
	q := NewSyncQueue()
	if err := q.Enqueue(&ReportTask{InspectionID: "insp-1"}); err != nil {
		t.Errorf("Enqueue without processor should not return error, got %v", err)
	}
	if err := q.Close(); err != nil {
		t.Errorf("Close() returned error: %v", err)
	}
}

func TestSyncQueue_ProcessesTasks(t *testing.T) {
	q := NewSyncQueue()

	var mu sync.Mutex
	var seen []string
	q.SetProcessor(func(ctx context.Context, task *ReportTask) error {
		mu.Lock()
		defer mu.Unlock()
		seen = append(seen, task.InspectionID+"/"+task.Reason)
		return nil
	})

	tasks := []*ReportTask{
		{InspectionID: "insp-1", Reason: ReportReasonCompleted},
		{InspectionID: "insp-2", Reason: ReportReasonRegenerate},
	}
	for _, task := range tasks {
		if err := q.Enqueue(task); err != nil {
			t.Fatalf("Enqueue: %v", err)
		}
	}
	q.Wait()

	if len(seen) != 2 {
		t.Fatalf("expected 2 processed tasks, got %d (%v)", len(seen), seen)
	}
	want := map[string]bool{"insp-1/completed": true, "insp-2/regenerate": true}
	for _, s := range seen {
		if !want[s] {
			t.Errorf("unexpected processed task %q", s)
		}
	}
}

func TestSyncQueue_ProcessorErrorIsNotReturned(t *testing.T) {
	q := NewSyncQueue()
	q.SetProcessor(func(ctx context.Context, task *ReportTask) error {
		return errors.New("boom")
	})
	if err := q.Enqueue(&ReportTask{InspectionID: "insp-1"}); err != nil {
		t.Errorf("Enqueue should not surface processor errors, got %v", err)
	}
	q.Wait()
}

func TestDispatchReportTask(t *testing.T) {
	var got *ReportTask
	processor := func(ctx context.Context, task *ReportTask) error {
		got = task
		return nil
	}

	task, err := newReportTask(&ReportTask{InspectionID: "insp-9", Reason: ReportReasonRegenerate, RequestedBy: "auditor-1"})
	if err != nil {
		t.Fatalf("newReportTask: %v", err)
	}
	if task.Type() != TaskTypeReportVersion {
		t.Errorf("task type = %q, want %q", task.Type(), TaskTypeReportVersion)
	}
	if err := dispatchReportTask(context.Background(), task, processor); err != nil {
		t.Fatalf("dispatchReportTask: %v", err)
	}
	if got == nil || got.InspectionID != "insp-9" || got.Reason != ReportReasonRegenerate || got.RequestedBy != "auditor-1" {
		t.Errorf("processor received %+v", got)
	}
}

func TestDispatchReportTask_MalformedPayloadSkipsRetry(t *testing.T) {
	called := false
	processor := func(ctx context.Context, task *ReportTask) error {
		called = true
		return nil
	}

	err := dispatchReportTask(context.Background(), asynq.NewTask(TaskTypeReportVersion, []byte("{not json")), processor)
	if err == nil {
		t.Fatal("expected an error for a malformed payload")
	}
	if !errors.Is(err, asynq.SkipRetry) {
		t.Errorf("error should wrap asynq.SkipRetry, got %v", err)
	}
	if called {
		t.Error("processor should not run for a malformed payload")
	}
}

func TestDispatchReportTask_ProcessorError(t *testing.T) {
	boom := errors.New("boom")
	task, _ := newReportTask(&ReportTask{InspectionID: "insp-1"})
	err := dispatchReportTask(context.Background(), task, func(ctx context.Context, task *ReportTask) error {
		return boom
	})
	if !errors.Is(err, boom) {
		t.Errorf("expected processor error to propagate, got %v", err)
	}
}

func TestNewWorker_RedisDisabled(t *testing.T) {
	if w := NewWorker(&config.RedisConfig{Enabled: false}); w != nil {
		t.Error("NewWorker should return nil when Redis is disabled")
	}
}
