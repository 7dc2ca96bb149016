package bot

import (
	"context"
	"fmt"
	"runtime"
	"time"
)

// Thresholds are sized from what one link costs: a handler goroutine, one per
// platform and the transport goroutines behind each platform connection, plus
// the in-memory chunk buffers (8 MiB YouTube, 5 MiB TikTok and X).
const (
	platformCount     = 5
	baseGoroutines    = 16
	goroutinesPerLink = 1 + platformCount*3
	baseHeapBytes     = 64 * 1024 * 1024
	heapPerLinkBytes  = 32 * 1024 * 1024

	linksWarn = 10
	linksCrit = 25

	goroutineWarnThreshold = baseGoroutines + linksWarn*goroutinesPerLink
	goroutineCritThreshold = baseGoroutines + linksCrit*goroutinesPerLink
	memWarnThresholdBytes  = baseHeapBytes + linksWarn*heapPerLinkBytes
	memCritThresholdBytes  = baseHeapBytes + linksCrit*heapPerLinkBytes

	memCheckInterval = 30 * time.Second
	warnEvery        = 10 * time.Minute
)

type resourceStats struct {
	HeapAlloc  uint64
	Sys        uint64
	Goroutines int
}

func readRuntimeStats() resourceStats {
	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)
	return resourceStats{HeapAlloc: ms.HeapAlloc, Sys: ms.Sys, Goroutines: runtime.NumGoroutine()}
}

// runMemoryWatcher alerts the channel on heap or goroutine growth and stops the bot
// through cancelFunc when a critical threshold is crossed.
func (b *TelegramBot) runMemoryWatcher(ctx context.Context) {
	ticker := time.NewTicker(memCheckInterval)
	defer ticker.Stop()

	var lastWarnAt time.Time

	b.log.Infof("memwatch: started (warn=%dMB, crit=%dMB, goroutines warn=%d crit=%d)",
		memWarnThresholdBytes/(1024*1024),
		memCritThresholdBytes/(1024*1024),
		goroutineWarnThreshold,
		goroutineCritThreshold,
	)

	for {
		select {
		case <-ctx.Done():
			b.log.Infof("memwatch: stopped")
			return
		case <-ticker.C:
			b.checkMemory(&lastWarnAt)
		}
	}
}

func (b *TelegramBot) checkMemory(lastWarnAt *time.Time) {
	st := b.readStats()
	heapMB := st.HeapAlloc / (1024 * 1024)
	sysMB := st.Sys / (1024 * 1024)
	links := b.inFlight.Load()

	if st.Goroutines >= goroutineCritThreshold {
		msg := fmt.Sprintf(
			"Goroutine leak, shutting down.\nGoroutines: %d (limit %d)\nLinks in flight: %d\nHeap: %d MB / Sys: %d MB",
			st.Goroutines, goroutineCritThreshold, links, heapMB, sysMB,
		)
		b.log.Errorf("memwatch: CRITICAL goroutine leak, goroutines=%d links=%d", st.Goroutines, links)
		b.sendMemAlert(msg, true)
		return
	}

	if st.HeapAlloc >= memCritThresholdBytes {
		msg := fmt.Sprintf(
			"Memory leak, shutting down.\nHeap: %d MB (limit %d MB)\nSys: %d MB\nGoroutines: %d\nLinks in flight: %d",
			heapMB, memCritThresholdBytes/(1024*1024), sysMB, st.Goroutines, links,
		)
		b.log.Errorf("memwatch: CRITICAL heap leak, heap=%dMB goroutines=%d links=%d", heapMB, st.Goroutines, links)
		b.sendMemAlert(msg, true)
		return
	}

	warnNeeded := st.HeapAlloc > memWarnThresholdBytes || st.Goroutines >= goroutineWarnThreshold
	if warnNeeded && time.Since(*lastWarnAt) > warnEvery {
		msg := fmt.Sprintf(
			"High resource usage.\nHeap: %d MB (warn at %d MB)\nSys: %d MB\nGoroutines: %d (warn at %d)\nLinks in flight: %d",
			heapMB, memWarnThresholdBytes/(1024*1024), sysMB,
			st.Goroutines, goroutineWarnThreshold, links,
		)
		b.log.Warnf("memwatch: WARNING heap=%dMB goroutines=%d links=%d", heapMB, st.Goroutines, links)
		b.sendMemAlert(msg, false)
		runtime.GC()
		*lastWarnAt = time.Now()
	}
}

func (b *TelegramBot) sendMemAlert(msg string, emergency bool) {
	b.replyText(b.cfg.ChannelID, msg)
	if emergency && b.cancelFunc != nil {
		b.log.Errorf("memwatch: calling cancelFunc to initiate emergency shutdown")
		b.cancelFunc()
	}
}
