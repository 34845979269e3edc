package request

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestGuardPanicsOnDoubleCompletion(t *testing.T) {
	g := Guard(NoOp)
	g.OnSuccess()
	assert.Panics(t, func() { g.OnSuccess() })
}

func TestGuardPanicsOnSuccessThenFailure(t *testing.T) {
	g := Guard(NoOp)
	g.OnSuccess()
	assert.Panics(t, func() { g.OnFailure(errors.New("boom")) })
}

func TestWrappingRunsHooksBeforeDelegating(t *testing.T) {
	var order []string
	w := &Wrapping{
		Target: &recordingCompleter{log: &order},
		Before: func() { order = append(order, "before") },
		OnOK:   func() { order = append(order, "onOK") },
	}
	w.OnSuccess()
	assert.Equal(t, []string{"before", "onOK", "target"}, order)
}

type recordingCompleter struct{ log *[]string }

func (r *recordingCompleter) OnSuccess()      { *r.log = append(*r.log, "target") }
func (r *recordingCompleter) OnFailure(error) { *r.log = append(*r.log, "target-err") }

func TestFutureBlocksUntilCompletion(t *testing.T) {
	f := NewFuture()
	go f.OnSuccess()
	<-f.Done()
	assert.NoError(t, f.Err())
}

func TestFutureCarriesFailure(t *testing.T) {
	f := NewFuture()
	f.OnFailure(errors.New("nope"))
	<-f.Done()
	assert.EqualError(t, f.Err(), "nope")
}

func TestPendingByNameRejectsDuplicate(t *testing.T) {
	p := NewPendingByName()
	first := &fakeCompleter{}
	second := &fakeCompleter{}

	assert.NoError(t, p.Start("sub1", first))
	err := p.Start("sub1", second)
	assert.Error(t, err)
	assert.True(t, second.failed)
	assert.False(t, first.failed)
	assert.Equal(t, 1, p.Len())

	p.Finish("sub1", nil)
	assert.Equal(t, 0, p.Len())
	assert.True(t, first.succeeded)
}

type fakeCompleter struct {
	succeeded bool
	failed    bool
}

func (f *fakeCompleter) OnSuccess()      { f.succeeded = true }
func (f *fakeCompleter) OnFailure(error) { f.failed = true }
