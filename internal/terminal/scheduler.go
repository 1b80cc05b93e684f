package terminal

import (
	"sync"
	"time"
)

// Scheduler runs fn every d until the returned stop function is called. Stop
// must not block on fn.
type Scheduler interface {
	Every(d time.Duration, fn func()) (stop func())
}

// TickerScheduler is the wall-clock Scheduler.
type TickerScheduler struct{}

// Every implements Scheduler.
func (TickerScheduler) Every(d time.Duration, fn func()) func() {
	ticker := time.NewTicker(d)
	quit := make(chan struct{})
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-quit:
				return
			case <-ticker.C:
				fn()
			}
		}
	}()
	var once sync.Once
	return func() { once.Do(func() { close(quit) }) }
}
