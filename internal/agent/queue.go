// internal/agent/queue.go
package agent

import (
	"container/heap"

	"github.com/xkilldash9x/focusfix/api/schemas"
)

type queued struct {
	task schemas.TaskDescriptor
	seq  int64
}

// taskHeap orders by descending priority, then ascending sequence.
type taskHeap []queued

func (h taskHeap) Len() int { return len(h) }
func (h taskHeap) Less(i, j int) bool {
	if h[i].task.Priority != h[j].task.Priority {
		return h[i].task.Priority > h[j].task.Priority
	}
	return h[i].seq < h[j].seq
}
func (h taskHeap) Swap(i, j int)       { h[i], h[j] = h[j], h[i] }
func (h *taskHeap) Push(x interface{}) { *h = append(*h, x.(queued)) }
func (h *taskHeap) Pop() interface{} {
	old := *h
	n := len(old)
	item := old[n-1]
	*h = old[:n-1]
	return item
}

// TaskQueue is a priority queue that is FIFO within a priority. It is owned
// by one loop and not safe for concurrent use.
type TaskQueue struct {
	h     taskHeap
	back  int64
	front int64
}

// NewTaskQueue creates an empty queue.
func NewTaskQueue() *TaskQueue {
	return &TaskQueue{}
}

// Push appends task behind every queued task of the same priority.
func (q *TaskQueue) Push(task schemas.TaskDescriptor) {
	q.back++
	heap.Push(&q.h, queued{task: task, seq: q.back})
}

// PushChildren queues the subtasks of a decomposed task ahead of every queued
// task of equal priority, keeping their order. A composite therefore runs to
// completion before its siblings start.
func (q *TaskQueue) PushChildren(children []schemas.TaskDescriptor) {
	if len(children) == 0 {
		return
	}
	q.front -= int64(len(children))
	for i, c := range children {
		heap.Push(&q.h, queued{task: c, seq: q.front + int64(i)})
	}
}

// Pop removes the next task; ok is false when the queue is empty.
func (q *TaskQueue) Pop() (schemas.TaskDescriptor, bool) {
	if len(q.h) == 0 {
		return schemas.TaskDescriptor{}, false
	}
	return heap.Pop(&q.h).(queued).task, true
}

// Len is the number of queued tasks.
func (q *TaskQueue) Len() int { return len(q.h) }
