package schedule

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAfter_Runs(t *testing.T) {
	s := New()
	var fired atomic.Int32

	s.After(10*time.Millisecond, func() { fired.Add(1) })
	assert.Equal(t, 1, s.Pending())

	assert.Eventually(t, func() bool { return fired.Load() == 1 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, 0, s.Pending())
}

func TestCancel_PreventsRun(t *testing.T) {
	s := New()
	var fired atomic.Int32

	task := s.After(20*time.Millisecond, func() { fired.Add(1) })
	require.True(t, task.Cancel())
	assert.False(t, task.Cancel())

	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, int32(0), fired.Load())

	var nilTask *Task
	assert.False(t, nilTask.Cancel())
}

func TestStop_CancelsAllAndRejectsNew(t *testing.T) {
	s := New()
	var fired atomic.Int32

	for i := 0; i < 3; i++ {
		s.After(20*time.Millisecond, func() { fired.Add(1) })
	}
	s.Stop()
	s.Stop()

	assert.Nil(t, s.After(time.Millisecond, func() { fired.Add(1) }))
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, int32(0), fired.Load())
	assert.Equal(t, 0, s.Pending())
}
