// internal/agent/queue_test.go
package agent

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/xkilldash9x/focusfix/api/schemas"
)

func drain(q *TaskQueue) []string {
	var ids []string
	for {
		task, ok := q.Pop()
		if !ok {
			return ids
		}
		ids = append(ids, task.ID)
	}
}

func task(id string, priority int) schemas.TaskDescriptor {
	return schemas.TaskDescriptor{ID: id, Type: schemas.TaskFocusTrapSweep, Priority: priority}
}

func TestTaskQueueOrdersByPriorityThenFIFO(t *testing.T) {
	q := NewTaskQueue()
	q.Push(task("low-1", 1))
	q.Push(task("high-1", 8))
	q.Push(task("low-2", 1))
	q.Push(task("high-2", 8))
	q.Push(task("mid", 5))

	assert.Equal(t, 5, q.Len())
	assert.Equal(t, []string{"high-1", "high-2", "mid", "low-1", "low-2"}, drain(q))
	assert.Zero(t, q.Len())
}

func TestTaskQueueChildrenRunBeforeSiblings(t *testing.T) {
	q := NewTaskQueue()
	q.PushChildren([]schemas.TaskDescriptor{task("r.1", 5), task("r.2", 5), task("r.3", 5)})

	first, _ := q.Pop()
	assert.Equal(t, "r.1", first.ID)

	// r.1 decomposes; its children go ahead of r.2 but keep their order.
	q.PushChildren([]schemas.TaskDescriptor{task("r.1.1", 5), task("r.1.2", 5)})
	q.Push(task("late", 5))
	q.Push(task("urgent", 9))

	assert.Equal(t, []string{"urgent", "r.1.1", "r.1.2", "r.2", "r.3", "late"}, drain(q))
}

func TestTaskQueueEmpty(t *testing.T) {
	q := NewTaskQueue()
	q.PushChildren(nil)
	_, ok := q.Pop()
	assert.False(t, ok)
}
