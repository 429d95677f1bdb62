package llm

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestKindOf(t *testing.T) {
	err := &ProviderError{Vendor: VendorOpenAI, Kind: ErrRateLimit, Message: "slow down"}
	assert.Equal(t, ErrRateLimit, KindOf(err))
	assert.Equal(t, ErrRateLimit, KindOf(fmt.Errorf("wrapped: %w", err)))
	assert.Equal(t, ErrUnknown, KindOf(errors.New("plain")))
}

func TestIsCanceled(t *testing.T) {
	assert.True(t, IsCanceled(context.Canceled))
	assert.True(t, IsCanceled(fmt.Errorf("call: %w", context.DeadlineExceeded)))
	assert.False(t, IsCanceled(errors.New("server exploded")))
	assert.False(t, IsCanceled(&ProviderError{Kind: ErrTimeout, Message: "call timed out"}))
}

func TestTripsBreaker(t *testing.T) {
	assert.True(t, TripsBreaker(ErrServer))
	assert.True(t, TripsBreaker(ErrTimeout))
	assert.True(t, TripsBreaker(ErrRateLimit))
	assert.True(t, TripsBreaker(ErrAuth))
	assert.False(t, TripsBreaker(ErrSafetyBlock))
	assert.False(t, TripsBreaker(ErrCircuitOpen))
}

func TestClassifyStatus(t *testing.T) {
	assert.Equal(t, ErrAuth, classifyStatus(401))
	assert.Equal(t, ErrAuth, classifyStatus(403))
	assert.Equal(t, ErrRateLimit, classifyStatus(429))
	assert.Equal(t, ErrTimeout, classifyStatus(408))
	assert.Equal(t, ErrServer, classifyStatus(503))
	assert.Equal(t, ErrUnknown, classifyStatus(404))
}

func TestClassifyMessage(t *testing.T) {
	assert.Equal(t, ErrAuth, classifyMessage(errors.New("401 Unauthorized")))
	assert.Equal(t, ErrRateLimit, classifyMessage(errors.New("rate limit reached")))
	assert.Equal(t, ErrServer, classifyMessage(errors.New("model overloaded")))
	assert.Equal(t, ErrTimeout, classifyMessage(errors.New("i/o timeout")))
	assert.Equal(t, ErrUnknown, classifyMessage(errors.New("weird")))
}

func TestWrapVendorErrPreservesCancellation(t *testing.T) {
	assert.Equal(t, context.Canceled, wrapVendorErr(VendorAnthropic, context.Canceled))

	wrapped := wrapVendorErr(VendorAnthropic, errors.New("429 too many requests"))
	var pe *ProviderError
	assert.ErrorAs(t, wrapped, &pe)
	assert.Equal(t, VendorAnthropic, pe.Vendor)
	assert.Equal(t, ErrRateLimit, pe.Kind)
}
