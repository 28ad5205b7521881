package infra

import "time"

const (
	baseReconnectDelay = time.Second
	maxReconnectDelay  = 30 * time.Second
)

// CalculateBackoff returns the reconnect delay for the given retry count:
// one second doubling per retry, capped at thirty seconds.
func CalculateBackoff(retryCount int) time.Duration {
	if retryCount <= 0 {
		return baseReconnectDelay
	}
	delay := baseReconnectDelay << uint(retryCount)
	if delay > maxReconnectDelay || delay <= 0 {
		return maxReconnectDelay
	}
	return delay
}
