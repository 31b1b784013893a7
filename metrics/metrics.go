// Package metrics provides the named meters, counters and timers the shell
// reports. Collection is off unless the binary is started with --metrics.
package metrics

import (
	"net/http"
	"os"
	"runtime"
	"strings"
	"time"

	"github.com/Aurorachain/dappshell/common/mclock"
	"github.com/Aurorachain/dappshell/log"
	"github.com/rcrowley/go-metrics"
	"github.com/rcrowley/go-metrics/exp"
)

const MetricsEnabledFlag = "metrics"

var Enabled = false

func init() {
	for _, arg := range os.Args {
		if flag := strings.TrimLeft(arg, "-"); flag == MetricsEnabledFlag {
			log.Info("Enabling metrics collection")
			Enabled = true
		}
	}
}

func NewCounter(name string) metrics.Counter {
	if !Enabled {
		return new(metrics.NilCounter)
	}
	return metrics.GetOrRegisterCounter(name, metrics.DefaultRegistry)
}

func NewMeter(name string) metrics.Meter {
	if !Enabled {
		return new(metrics.NilMeter)
	}
	return metrics.GetOrRegisterMeter(name, metrics.DefaultRegistry)
}

func NewTimer(name string) metrics.Timer {
	if !Enabled {
		return new(metrics.NilTimer)
	}
	return metrics.GetOrRegisterTimer(name, metrics.DefaultRegistry)
}

// Measure records the time elapsed since start on t.
func Measure(t metrics.Timer, start mclock.AbsTime) {
	t.Update(mclock.Since(start))
}

// Handler serves the default registry in expvar format.
func Handler() http.Handler {
	return exp.ExpHandler(metrics.DefaultRegistry)
}

// CollectProcessMetrics periodically samples memory statistics until quit
// is closed.
func CollectProcessMetrics(refresh time.Duration, quit <-chan struct{}) {
	if !Enabled {
		return
	}
	memstats := make([]*runtime.MemStats, 2)
	for i := 0; i < len(memstats); i++ {
		memstats[i] = new(runtime.MemStats)
	}
	memAllocs := metrics.GetOrRegisterMeter("system/memory/allocs", metrics.DefaultRegistry)
	memFrees := metrics.GetOrRegisterMeter("system/memory/frees", metrics.DefaultRegistry)
	memInuse := metrics.GetOrRegisterMeter("system/memory/inuse", metrics.DefaultRegistry)
	memPauses := metrics.GetOrRegisterMeter("system/memory/pauses", metrics.DefaultRegistry)
	goroutines := metrics.GetOrRegisterGauge("system/goroutines", metrics.DefaultRegistry)

	runtime.ReadMemStats(memstats[0])
	for i := 1; ; i++ {
		select {
		case <-quit:
			return
		case <-time.After(refresh):
		}
		runtime.ReadMemStats(memstats[i%2])
		memAllocs.Mark(int64(memstats[i%2].Mallocs - memstats[(i-1)%2].Mallocs))
		memFrees.Mark(int64(memstats[i%2].Frees - memstats[(i-1)%2].Frees))
		memInuse.Mark(int64(memstats[i%2].Alloc - memstats[(i-1)%2].Alloc))
		memPauses.Mark(int64(memstats[i%2].PauseTotalNs - memstats[(i-1)%2].PauseTotalNs))
		goroutines.Update(int64(runtime.NumGoroutine()))
	}
}
