package booking

import "time"

// RetryDelay returns the reservation-retry interval for a job that was first
// scheduled elapsed ago. The cadence stretches as the job ages: a provider
// outage measured in minutes retries quickly, one measured in days does not
// hammer anyone.
func RetryDelay(elapsed time.Duration) time.Duration {
	switch {
	case elapsed < 3*time.Hour:
		return 5 * time.Minute
	case elapsed < 9*time.Hour:
		return 30 * time.Minute
	case elapsed < 24*time.Hour:
		return time.Hour
	default:
		return 24 * time.Hour
	}
}
