package flick

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// TaskStatus is the lifecycle state of a TransferTask.
type TaskStatus int

const (
	// TaskQueued means the task is waiting for a worker slot.
	TaskQueued TaskStatus = iota
	// TaskRunning means a worker is executing the task.
	TaskRunning
	// TaskSucceeded means the transfer completed.
	TaskSucceeded
	// TaskFailed means the backend reported an error. Failed tasks are
	// never retried automatically; callers may re-enqueue via Retry.
	TaskFailed
	// TaskCancelled means a cancellation request was observed before or
	// during execution.
	TaskCancelled
)

// Terminal reports whether the status is final.
func (s TaskStatus) Terminal() bool {
	return s == TaskSucceeded || s == TaskFailed || s == TaskCancelled
}

func (s TaskStatus) String() string {
	switch s {
	case TaskQueued:
		return "queued"
	case TaskRunning:
		return "running"
	case TaskSucceeded:
		return "succeeded"
	case TaskFailed:
		return "failed"
	case TaskCancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

// ProgressEvent is one progress or status sample for a task. Events for a
// single task are delivered in non-decreasing BytesDone order and end with
// exactly one terminal-status event.
type ProgressEvent struct {
	TaskID     string
	BytesDone  int64
	BytesTotal int64 // BytesUnknown when the backend cannot determine it
	Status     TaskStatus
	Err        error // set when Status is TaskFailed
}

// TransferTask is a snapshot of one queued transfer. Snapshots are values;
// the queue is the only writer of live task state.
type TransferTask struct {
	ID         string
	Direction  Direction
	LocalPath  string
	RemotePath string
	BytesDone  int64
	BytesTotal int64
	Status     TaskStatus
	Err        error
	EnqueuedAt time.Time
	StartedAt  time.Time
	FinishedAt time.Time
}

type taskState struct {
	TransferTask
	conn            *Connection
	cancel          context.CancelFunc
	cancelRequested bool
	subs            []chan ProgressEvent
}

// TransferQueue holds pending, active and completed transfer tasks. Tasks
// dispatch FIFO up to the concurrency limit; tasks bound to a busy
// Connection are skipped over (never starved) so one saturated connection
// cannot block transfers on another. Completed tasks are retained until
// ClearCompleted so the presentation layer can acknowledge them.
type TransferQueue struct {
	mu      sync.Mutex
	limit   int
	tasks   map[string]*taskState
	order   []string
	running int
	busy    map[*Connection]int
	kick    chan struct{}
	done    chan struct{}
	closed  bool
	wg      sync.WaitGroup
	log     *zap.Logger
}

// NewTransferQueue creates a queue running at most limit concurrent
// transfers (minimum 1; the default of one at a time protects a single
// session's channel capacity). A nil logger disables diagnostics.
func NewTransferQueue(limit int, logger *zap.Logger) *TransferQueue {
	if limit < 1 {
		limit = 1
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	q := &TransferQueue{
		limit: limit,
		tasks: make(map[string]*taskState),
		busy:  make(map[*Connection]int),
		kick:  make(chan struct{}, 1),
		done:  make(chan struct{}),
		log:   logger,
	}

	go q.dispatchLoop()

	return q
}

// Enqueue adds a transfer task bound to conn and returns its ID. The task
// starts in TaskQueued; failures (including a missing source) surface
// through the task's terminal status, not through Enqueue.
func (q *TransferQueue) Enqueue(conn *Connection, direction Direction, localPath, remotePath string) (string, error) {
	if conn == nil {
		return "", fmt.Errorf("enqueue requires a connection")
	}

	total := BytesUnknown
	if direction == Upload {
		if info, err := os.Stat(localPath); err == nil && !info.IsDir() {
			total = info.Size()
		}
	}

	ts := &taskState{
		TransferTask: TransferTask{
			ID:         uuid.NewString(),
			Direction:  direction,
			LocalPath:  localPath,
			RemotePath: normalizeRemotePath(remotePath),
			BytesTotal: total,
			Status:     TaskQueued,
			EnqueuedAt: time.Now(),
		},
		conn: conn,
	}

	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return "", fmt.Errorf("transfer queue is closed")
	}
	q.tasks[ts.ID] = ts
	q.order = append(q.order, ts.ID)
	q.mu.Unlock()

	q.log.Debug("task enqueued",
		zap.String("task", ts.ID),
		zap.Stringer("direction", direction),
		zap.String("local", localPath),
		zap.String("remote", remotePath))

	q.wake()
	return ts.ID, nil
}

// EnqueueDir expands a directory into one task per file and enqueues them
// all. For uploads the local tree is walked; for downloads the remote tree
// is listed recursively. Remote directories are created eagerly so empty
// directories survive the transfer.
func (q *TransferQueue) EnqueueDir(ctx context.Context, conn *Connection, direction Direction, localDir, remoteDir string) ([]string, error) {
	remoteDir = normalizeRemotePath(remoteDir)

	var ids []string
	if direction == Upload {
		if err := conn.Mkdir(ctx, remoteDir); err != nil {
			return nil, err
		}
		err := filepath.WalkDir(localDir, func(path string, d fs.DirEntry, err error) error {
			if err != nil {
				return err
			}
			rel, err := filepath.Rel(localDir, path)
			if err != nil {
				return err
			}
			remote := joinRemote(remoteDir, filepath.ToSlash(rel))
			if d.IsDir() {
				if rel == "." {
					return nil
				}
				return conn.Mkdir(ctx, remote)
			}
			id, err := q.Enqueue(conn, Upload, path, remote)
			if err != nil {
				return err
			}
			ids = append(ids, id)
			return nil
		})
		if err != nil {
			return ids, fmt.Errorf("failed to walk %s: %w", localDir, err)
		}
		return ids, nil
	}

	if err := os.MkdirAll(localDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create local directory: %w", err)
	}
	entries, _, err := conn.List(ctx, remoteDir)
	if err != nil {
		return nil, err
	}
	for _, entry := range entries {
		remoteChild := joinRemote(remoteDir, entry.Name)
		localChild := filepath.Join(localDir, entry.Name)
		if entry.IsDir {
			childIDs, err := q.EnqueueDir(ctx, conn, Download, localChild, remoteChild)
			ids = append(ids, childIDs...)
			if err != nil {
				return ids, err
			}
			continue
		}
		id, err := q.Enqueue(conn, Download, localChild, remoteChild)
		if err != nil {
			return ids, err
		}
		ids = append(ids, id)
	}
	return ids, nil
}

// Subscribe returns the task's progress event stream. The stream is finite:
// it terminates after the task's single terminal event. Subscribing to an
// already-finished task yields only the final status.
func (q *TransferQueue) Subscribe(taskID string) (<-chan ProgressEvent, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	ts, ok := q.tasks[taskID]
	if !ok {
		return nil, fmt.Errorf("unknown task %s", taskID)
	}

	ch := make(chan ProgressEvent, 64)
	if ts.Status.Terminal() {
		ch <- q.eventLocked(ts)
		close(ch)
		return ch, nil
	}

	ts.subs = append(ts.subs, ch)
	return ch, nil
}

// Cancel requests cancellation of a task. Best-effort and asynchronous: a
// queued task is cancelled immediately; a running task is interrupted at
// its next progress boundary (the backend closes its channel or kills its
// subprocess). Cancelling a finished task is a no-op.
func (q *TransferQueue) Cancel(taskID string) {
	q.mu.Lock()

	ts, ok := q.tasks[taskID]
	if !ok || ts.Status.Terminal() {
		q.mu.Unlock()
		return
	}

	ts.cancelRequested = true
	switch ts.Status {
	case TaskQueued:
		q.finishLocked(ts, fmt.Errorf("%w: cancelled while queued", ErrCancelled))
		q.mu.Unlock()
	case TaskRunning:
		cancel := ts.cancel
		q.mu.Unlock()
		if cancel != nil {
			cancel()
		}
	default:
		q.mu.Unlock()
	}
}

// Retry re-enqueues a failed task as a fresh attempt and returns the new
// task ID. The engine never retries on its own: a partially written
// destination must be re-validated by a new transfer, not resumed blindly.
func (q *TransferQueue) Retry(taskID string) (string, bool) {
	q.mu.Lock()
	ts, ok := q.tasks[taskID]
	if !ok || ts.Status != TaskFailed {
		q.mu.Unlock()
		return "", false
	}
	conn, direction, local, remote := ts.conn, ts.Direction, ts.LocalPath, ts.RemotePath
	q.mu.Unlock()

	id, err := q.Enqueue(conn, direction, local, remote)
	if err != nil {
		return "", false
	}
	return id, true
}

// Task returns a snapshot of one task.
func (q *TransferQueue) Task(taskID string) (TransferTask, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	ts, ok := q.tasks[taskID]
	if !ok {
		return TransferTask{}, false
	}
	return ts.TransferTask, true
}

// Snapshot returns snapshots of all retained tasks in enqueue order.
func (q *TransferQueue) Snapshot() []TransferTask {
	q.mu.Lock()
	defer q.mu.Unlock()

	out := make([]TransferTask, 0, len(q.order))
	for _, id := range q.order {
		if ts, ok := q.tasks[id]; ok {
			out = append(out, ts.TransferTask)
		}
	}
	return out
}

// ClearCompleted drops tasks that reached a terminal status.
func (q *TransferQueue) ClearCompleted() {
	q.mu.Lock()
	defer q.mu.Unlock()

	kept := q.order[:0]
	for _, id := range q.order {
		ts, ok := q.tasks[id]
		if !ok {
			continue
		}
		if ts.Status.Terminal() {
			delete(q.tasks, id)
			continue
		}
		kept = append(kept, id)
	}
	q.order = kept
}

// Close stops the dispatcher, cancels running tasks and waits for their
// terminal events to be delivered. Queued tasks are cancelled.
func (q *TransferQueue) Close() {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return
	}
	q.closed = true

	var cancels []context.CancelFunc
	for _, id := range q.order {
		ts, ok := q.tasks[id]
		if !ok {
			continue
		}
		switch ts.Status {
		case TaskQueued:
			ts.cancelRequested = true
			q.finishLocked(ts, fmt.Errorf("%w: queue closed", ErrCancelled))
		case TaskRunning:
			ts.cancelRequested = true
			if ts.cancel != nil {
				cancels = append(cancels, ts.cancel)
			}
		}
	}
	q.mu.Unlock()

	for _, cancel := range cancels {
		cancel()
	}
	close(q.done)
	q.wg.Wait()
}

func (q *TransferQueue) wake() {
	select {
	case q.kick <- struct{}{}:
	default:
	}
}

func (q *TransferQueue) dispatchLoop() {
	for {
		select {
		case <-q.done:
			return
		case <-q.kick:
			q.dispatch()
		}
	}
}

// dispatch promotes queued tasks to running, FIFO, skipping ahead only past
// tasks whose connection is already saturated.
func (q *TransferQueue) dispatch() {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return
	}

	for _, id := range q.order {
		if q.running >= q.limit {
			break
		}
		ts, ok := q.tasks[id]
		if !ok || ts.Status != TaskQueued {
			continue
		}
		// Conservative per-connection serialization: native mode cannot
		// multiplex, and library mode is not verified to be safe for
		// concurrent channel use.
		if q.busy[ts.conn] > 0 {
			continue
		}

		ctx, cancel := context.WithCancel(context.Background())
		ts.Status = TaskRunning
		ts.StartedAt = time.Now()
		ts.cancel = cancel
		q.busy[ts.conn]++
		q.running++
		q.emitLocked(ts)

		q.wg.Add(1)
		go q.runTask(ctx, ts)
	}
}

func (q *TransferQueue) runTask(ctx context.Context, ts *taskState) {
	defer q.wg.Done()

	progress := func(done, total int64) {
		q.updateProgress(ts.ID, done, total)
	}

	var err error
	switch ts.Direction {
	case Upload:
		err = ts.conn.transport.Upload(ctx, ts.LocalPath, ts.RemotePath, progress)
	case Download:
		err = ts.conn.transport.Download(ctx, ts.RemotePath, ts.LocalPath, progress)
	}

	q.mu.Lock()
	q.busy[ts.conn]--
	if q.busy[ts.conn] <= 0 {
		delete(q.busy, ts.conn)
	}
	q.running--
	q.finishLocked(ts, err)
	q.mu.Unlock()

	q.wake()
}

func (q *TransferQueue) updateProgress(taskID string, done, total int64) {
	q.mu.Lock()
	defer q.mu.Unlock()

	ts, ok := q.tasks[taskID]
	if !ok || ts.Status != TaskRunning {
		return
	}
	if total > 0 && ts.BytesTotal <= 0 {
		ts.BytesTotal = total
	}
	if done <= ts.BytesDone {
		return
	}
	ts.BytesDone = done
	q.emitLocked(ts)
}

// finishLocked moves a task to its terminal status, emits the single
// terminal event and closes all subscriber channels. Callers hold q.mu.
func (q *TransferQueue) finishLocked(ts *taskState, err error) {
	if ts.Status.Terminal() {
		return
	}

	switch {
	case err == nil:
		ts.Status = TaskSucceeded
		if ts.BytesTotal > 0 {
			ts.BytesDone = ts.BytesTotal
		}
	case errors.Is(err, ErrCancelled) || (ts.cancelRequested && errors.Is(err, context.Canceled)):
		ts.Status = TaskCancelled
		ts.Err = ErrCancelled
	default:
		ts.Status = TaskFailed
		ts.Err = err
	}
	ts.FinishedAt = time.Now()
	if ts.cancel != nil {
		ts.cancel()
		ts.cancel = nil
	}

	q.log.Info("task finished",
		zap.String("task", ts.ID),
		zap.Stringer("status", ts.Status),
		zap.Int64("bytes", ts.BytesDone),
		zap.Error(ts.Err))

	q.emitLocked(ts)
	for _, ch := range ts.subs {
		close(ch)
	}
	ts.subs = nil
}

func (q *TransferQueue) eventLocked(ts *taskState) ProgressEvent {
	return ProgressEvent{
		TaskID:     ts.ID,
		BytesDone:  ts.BytesDone,
		BytesTotal: ts.BytesTotal,
		Status:     ts.Status,
		Err:        ts.Err,
	}
}

// emitLocked fans an event out to subscribers without ever blocking a
// worker: when a subscriber's buffer is full the oldest event is dropped.
// Terminal events always land because a slot is freed first.
func (q *TransferQueue) emitLocked(ts *taskState) {
	ev := q.eventLocked(ts)
	for _, ch := range ts.subs {
		select {
		case ch <- ev:
		default:
			select {
			case <-ch:
			default:
			}
			select {
			case ch <- ev:
			default:
			}
		}
	}
}
