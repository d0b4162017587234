package domain

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestRetryPolicy_Delay_Exponential(t *testing.T) {
	p := RetryPolicy{BaseDelay: time.Second, MaxDelay: 10 * time.Second, Multiplier: 2}
	assert.Equal(t, 1*time.Second, p.Delay(1))
	assert.Equal(t, 2*time.Second, p.Delay(2))
	assert.Equal(t, 4*time.Second, p.Delay(3))
	assert.Equal(t, 8*time.Second, p.Delay(4))
	assert.Equal(t, 10*time.Second, p.Delay(5))
	assert.Equal(t, 10*time.Second, p.Delay(9))
}

func TestRetryPolicy_Delay_JitterStaysInBand(t *testing.T) {
	p := RetryPolicy{BaseDelay: time.Second, MaxDelay: time.Minute, Multiplier: 2, Jitter: 0.5}
	for i := 0; i < 50; i++ {
		d := p.Delay(1)
		assert.GreaterOrEqual(t, d, 500*time.Millisecond)
		assert.LessOrEqual(t, d, 1501*time.Millisecond)
	}
}

func TestBatches(t *testing.T) {
	assert.Equal(t, []int{100, 100, 50}, Batches(250, 100))
	assert.Equal(t, []int{7}, Batches(7, 0))
	assert.Equal(t, []int{7}, Batches(7, 10))
	assert.Nil(t, Batches(0, 100))
}

func TestCountersRates_ZeroDenominator(t *testing.T) {
	assert.Equal(t, Rates{}, Counters{}.Rates())
	r := Counters{Sent: 4, Delivered: 2, Opened: 1}.Rates()
	assert.InDelta(t, 0.5, r.DeliveryRate, 1e-9)
	assert.InDelta(t, 0.5, r.OpenRate, 1e-9)
	assert.Equal(t, 0.0, r.ClickRate)
}

func TestStatus_Advances(t *testing.T) {
	assert.True(t, StatusSent.Advances(StatusDelivered))
	assert.True(t, StatusDelivered.Advances(StatusRead))
	assert.False(t, StatusRead.Advances(StatusDelivered))
	assert.False(t, StatusFailed.Advances(StatusDelivered))
}

func TestSchedule_StartInstant_TimeOfDayInZone(t *testing.T) {
	start := time.Date(2026, 3, 10, 2, 0, 0, 0, time.UTC)
	s := Schedule{StartAt: &start, Timezone: "America/Bogota", TimeOfDay: "09:30"}
	got, err := s.StartInstant()
	assert.NoError(t, err)
	// 2026-03-10 02:00 UTC is still 2026-03-09 in Bogota (UTC-5).
	assert.Equal(t, time.Date(2026, 3, 9, 14, 30, 0, 0, time.UTC), got.UTC())
}

func TestIsRetryable(t *testing.T) {
	assert.True(t, IsRetryable(Retryable(ChannelSMS, "timeout", assert.AnError)))
	assert.False(t, IsRetryable(Permanent(ChannelSMS, "invalid_number", assert.AnError)))
	assert.True(t, IsRetryable(assert.AnError))
	assert.False(t, IsRetryable(nil))
}
