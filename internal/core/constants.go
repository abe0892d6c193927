/*
Package core runs tag extraction over many sources at once: a sharded worker
scheduler and the batch scanner that feeds it.
*/
package core

/*
tagex — fast tool in Go for extracting tags from unstructured text
Copyright (C) 2025  Pepijn van der Stap <rxtls@vanderstap.info>

This program is free software: you can redistribute it and/or modify
it under the terms of the GNU Affero General Public License as published by
the Free Software Foundation, either version 3 of the License, or
(at your option) any later version.

This program is distributed in the hope that it will be useful,
but WITHOUT ANY WARRANTY; without even the implied warranty of
MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
GNU Affero General Public License for more details.

You should have received a copy of the GNU Affero General Public License
along with this program.  If not, see <https://www.gnu.org/licenses/>.
*/

import (
	"math"
	"math/rand/v2"
	"time"
)

const (
	// MaxWorkers caps the worker pool regardless of configuration.
	MaxWorkers = 2048

	// WorkerQueueCapacity is the per-worker queue size when none is configured.
	WorkerQueueCapacity = 64

	// DefaultMaxAttempts bounds how often a retryable work item is run.
	DefaultMaxAttempts = 3

	// ReportSuffix is appended to sanitized source names in the output directory.
	ReportSuffix = ".tags"

	// Retry backoff parameters, shared by queue-full resubmission and
	// retryable work item failures.
	RetryBaseDelay         = 125 * time.Millisecond
	RetryMaxDelay          = 30 * time.Second
	RetryBackoffMultiplier = 1.5
	RetryJitterFactor      = 0.2
)

// backoff returns the delay before retry number attempt (1-based).
func backoff(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	d := float64(RetryBaseDelay) * math.Pow(RetryBackoffMultiplier, float64(attempt-1))
	if d > float64(RetryMaxDelay) {
		d = float64(RetryMaxDelay)
	}
	// +/- RetryJitterFactor
	d *= 1 + RetryJitterFactor*(2*rand.Float64()-1)
	return time.Duration(d)
}
