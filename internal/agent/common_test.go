// internal/agent/common_test.go
package agent

import (
	"sync"
	"time"
)

// waitTimeout reports whether wg drains within d.
func waitTimeout(wg *sync.WaitGroup, d time.Duration) bool {
	drained := make(chan struct{})
	go func() {
		wg.Wait()
		close(drained)
	}()
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-drained:
		return true
	case <-timer.C:
		return false
	}
}
