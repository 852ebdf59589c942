package apperr

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestKindOf_WrappedChain(t *testing.T) {
	base := Validation("transcript is empty")
	wrapped := fmt.Errorf("submit: %w", base)

	assert.Equal(t, KindValidation, KindOf(wrapped))
	assert.True(t, Is(wrapped, KindValidation))
	assert.Equal(t, "transcript is empty", Message(wrapped))
}

func TestKindOf_Unclassified(t *testing.T) {
	assert.Equal(t, Kind(""), KindOf(nil))
	assert.Equal(t, KindTimeout, KindOf(fmt.Errorf("wait: %w", context.DeadlineExceeded)))
	assert.Equal(t, KindInfrastructure, KindOf(errors.New("connection refused")))
}

func TestRetryable(t *testing.T) {
	cases := []struct {
		err  error
		want bool
	}{
		{Validation("bad"), false},
		{QuotaExceeded("done"), false},
		{NotFound("gone"), false},
		{Timeout("slow"), true},
		{Infrastructure(errors.New("down"), "redis"), true},
		{New(KindAnalyzer, "quorum"), false},
	}
	for _, tc := range cases {
		if got := Retryable(tc.err); got != tc.want {
			t.Errorf("Retryable(%v) = %v, want %v", tc.err, got, tc.want)
		}
	}
}

func TestErrorString(t *testing.T) {
	err := Infrastructure(errors.New("dial tcp"), "usage store unreachable")
	assert.Equal(t, "infrastructure: usage store unreachable: dial tcp", err.Error())
	assert.Equal(t, "retry later", Guidance(KindOf(err)))
}
