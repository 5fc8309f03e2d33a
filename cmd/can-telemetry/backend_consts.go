package main

import "time"

const (
	txQueueSize       = 64   // queued command frames per backend
	serialReadBufSize = 1024 // per read() buffer for the SLCAN adapter
	// largeBufferReclaimThreshold is the capacity above which the SLCAN line
	// accumulator is reallocated once drained, so a burst of line noise does
	// not pin a large backing array for the life of the process.
	largeBufferReclaimThreshold = 16 * 1024
	rxBackoffMin                = 20 * time.Millisecond
	rxBackoffMax                = 500 * time.Millisecond
	// socketReadTimeout bounds raw socket reads so the RX loop sees shutdown.
	socketReadTimeout = 200 * time.Millisecond
)

// nextBackoff doubles d up to rxBackoffMax.
func nextBackoff(d time.Duration) time.Duration {
	d *= 2
	if d > rxBackoffMax {
		d = rxBackoffMax
	}
	return d
}
