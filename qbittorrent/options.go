package qbittorrent

import "time"

// Option configures a Client.
type Option func(*clientOptions)

// clientOptions holds configuration options for the Client.
type clientOptions struct {
	maxRetries int
	retryDelay time.Duration
}

func defaultClientOptions() clientOptions {
	return clientOptions{
		maxRetries: 5,
		retryDelay: 2 * time.Second,
	}
}

// WithMaxRetries sets the maximum number of login retry attempts.
func WithMaxRetries(retries int) Option {
	return func(o *clientOptions) {
		if retries > 0 {
			o.maxRetries = retries
		}
	}
}

// WithRetryDelay sets the base delay between login retry attempts.
func WithRetryDelay(delay time.Duration) Option {
	return func(o *clientOptions) {
		o.retryDelay = delay
	}
}
