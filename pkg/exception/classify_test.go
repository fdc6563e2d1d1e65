package exception

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/yanun0323/errors"
)

func TestIsRetryable(t *testing.T) {
	testCases := []struct {
		desc string
		err  error
		want bool
	}{
		{desc: "nil", err: nil, want: false},
		{desc: "transient", err: Transient(nil, "timeout"), want: true},
		{desc: "wrapped transient", err: errors.Wrap(Transient(nil, "rate limit"), "place order"), want: true},
		{desc: "deadline", err: context.DeadlineExceeded, want: true},
		{desc: "permanent", err: Permanent(nil, "insufficient balance"), want: false},
		{desc: "other", err: ErrInvalidArgument, want: false},
	}
	for _, tc := range testCases {
		t.Run(tc.desc, func(t *testing.T) {
			assert.Equal(t, tc.want, IsRetryable(tc.err))
		})
	}
}

func TestIsFatal(t *testing.T) {
	assert.True(t, IsFatal(errors.Wrap(ErrConfig, "missing assets")))
	assert.True(t, IsFatal(ErrPersistenceFatal))
	assert.False(t, IsFatal(ErrPersistence))
	assert.False(t, IsFatal(ErrStaleData))
}

func TestClassifiedKeepsCause(t *testing.T) {
	err := Permanent(ErrUnknownAsset, "market data")
	assert.True(t, errors.Is(err, ErrPermanentExchange))
	assert.True(t, errors.Is(err, ErrUnknownAsset))
	assert.False(t, IsRetryable(err))

	err = Transient(context.DeadlineExceeded, "place order")
	assert.True(t, errors.Is(err, ErrTransientExchange))
	assert.True(t, IsRetryable(err))
}
