package chaos

import (
	"testing"
	"time"

	"alats/pkg/exception"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/yanun0323/errors"
)

func TestEngineValidate(t *testing.T) {
	_, err := NewEngine(Config{ErrorRate: 1.5})
	assert.True(t, errors.Is(err, exception.ErrInvalidArgument))

	_, err = NewEngine(Config{MaxDelay: -time.Second})
	assert.True(t, errors.Is(err, exception.ErrInvalidArgument))
}

func TestEngineScriptTakesPrecedence(t *testing.T) {
	e, err := NewEngine(Config{Seed: 7})
	require.NoError(t, err)

	e.Script(Fault{Fail: true}, Fault{LoseAck: true})
	assert.Equal(t, Fault{Fail: true}, e.Next())
	assert.Equal(t, Fault{LoseAck: true}, e.Next())
	assert.Equal(t, Fault{}, e.Next())
}

func TestEngineRates(t *testing.T) {
	e, err := NewEngine(Config{Seed: 1, ErrorRate: 1, MaxDelay: time.Millisecond})
	require.NoError(t, err)
	for i := 0; i < 50; i++ {
		f := e.Next()
		assert.True(t, f.Fail)
		assert.False(t, f.LoseAck)
		assert.LessOrEqual(t, f.Delay, time.Millisecond)
	}
}

func TestNilEngine(t *testing.T) {
	var e *Engine
	assert.Equal(t, Fault{}, e.Next())
	e.Script(Fault{Fail: true})
}
