package strategy

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubStrategy struct {
	id       string
	built    bool
	opens    int
	closes   int
	failOpen bool
}

func (s *stubStrategy) ID() string { return s.id }
func (s *stubStrategy) Build(ctx Context) error {
	s.built = true
	return nil
}
func (s *stubStrategy) OnOpen(ctx Context) error {
	s.opens++
	if s.failOpen {
		return assert.AnError
	}
	return nil
}
func (s *stubStrategy) OnClose(ctx Context) error {
	s.closes++
	return nil
}

func TestRegister_RejectsEmptyAndDuplicateIDs(t *testing.T) {
	r := NewRegistry()
	require.Error(t, r.Register(&stubStrategy{id: ""}))
	require.NoError(t, r.Register(&stubStrategy{id: "s1"}))
	require.Error(t, r.Register(&stubStrategy{id: "s1"}))
}

func TestRegister_RejectedAfterFreeze(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register(&stubStrategy{id: "s1"}))
	r.Freeze()
	err := r.Register(&stubStrategy{id: "s2"})
	require.Error(t, err)
}

func TestBuildAndDispatch_RunsInRegistrationOrder(t *testing.T) {
	r := NewRegistry()
	var order []string
	a := &stubStrategy{id: "a"}
	b := &stubStrategy{id: "b"}
	require.NoError(t, r.Register(a))
	require.NoError(t, r.Register(b))

	ctxFor := func(s Strategy) Context {
		order = append(order, s.ID())
		return Context{}
	}
	require.NoError(t, r.Build(ctxFor))
	assert.True(t, a.built)
	assert.True(t, b.built)

	require.NoError(t, r.DispatchOpen(func(s Strategy) Context { return Context{} }))
	require.NoError(t, r.DispatchClose(func(s Strategy) Context { return Context{} }))
	assert.Equal(t, 1, a.opens)
	assert.Equal(t, 1, b.closes)
	assert.Equal(t, []string{"a", "b"}, order)
}

func TestDispatchOpen_StopsAtFirstError(t *testing.T) {
	r := NewRegistry()
	a := &stubStrategy{id: "a", failOpen: true}
	b := &stubStrategy{id: "b"}
	require.NoError(t, r.Register(a))
	require.NoError(t, r.Register(b))

	err := r.DispatchOpen(func(s Strategy) Context { return Context{} })
	require.Error(t, err)
	assert.Equal(t, 1, a.opens)
	assert.Equal(t, 0, b.opens, "dispatch stops before reaching b")
}
