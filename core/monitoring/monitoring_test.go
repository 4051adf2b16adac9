package monitoring

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

type countingMonitor struct {
	captured int
	flushed  int
}

func (c *countingMonitor) CaptureException(error, map[string]string) { c.captured++ }
func (c *countingMonitor) Recover()                                  {}
func (c *countingMonitor) Flush(time.Duration)                       { c.flushed++ }

func TestGlobalMonitor(t *testing.T) {
	m := &countingMonitor{}
	Init(m)
	defer Init(NopMonitor{})

	Init(nil)
	assert.Same(t, m, Current())

	CaptureException(nil, nil)
	CaptureException(errors.New("boom"), map[string]string{"module": "test"})
	Flush(time.Millisecond)
	assert.Equal(t, 1, m.captured)
	assert.Equal(t, 1, m.flushed)
}
