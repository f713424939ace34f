package metrics

import (
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegisterIdempotentAndCountersWork(t *testing.T) {
	regOK.Store(false)
	reg := prometheus.NewRegistry()
	require.NoError(t, Register(reg))
	require.NoError(t, Register(reg))

	IncLaunch("broker")
	IncLaunch("broker")
	IncSpawnFailure("badcmd", "not_found")
	IncReadinessFailure("receiver")
	ObserveReadinessWait("broker", 3.0)
	IncExit("broker", 0)
	IncTermination("receiver", true)

	assert.Equal(t, 2.0, testutil.ToFloat64(launches.WithLabelValues("broker")))
	assert.Equal(t, 1.0, testutil.ToFloat64(spawnFailures.WithLabelValues("badcmd", "not_found")))
	assert.Equal(t, 1.0, testutil.ToFloat64(readinessFailures.WithLabelValues("receiver")))
	assert.Equal(t, 1.0, testutil.ToFloat64(exits.WithLabelValues("broker", "0")))
	assert.Equal(t, 0.0, testutil.ToFloat64(processUp.WithLabelValues("broker")))
	assert.Equal(t, 1.0, testutil.ToFloat64(terminationFailures.WithLabelValues("receiver")))

	mfs, err := reg.Gather()
	require.NoError(t, err)
	names := map[string]bool{}
	for _, mf := range mfs {
		names[mf.GetName()] = true
	}
	for _, n := range []string{
		"pipelaunch_process_launches_total",
		"pipelaunch_process_spawn_failures_total",
		"pipelaunch_process_readiness_wait_seconds",
		"pipelaunch_process_exits_total",
		"pipelaunch_process_up",
	} {
		assert.True(t, names[n], "missing metric %s", n)
	}
}

func TestHelpersNoopBeforeRegister(t *testing.T) {
	prev := regOK.Load()
	regOK.Store(false)
	defer regOK.Store(prev)

	before := testutil.ToFloat64(launches.WithLabelValues("unregistered"))
	IncLaunch("unregistered")
	assert.Equal(t, before, testutil.ToFloat64(launches.WithLabelValues("unregistered")))
}

func TestHandlerForServesMetrics(t *testing.T) {
	regOK.Store(false)
	reg := prometheus.NewRegistry()
	require.NoError(t, Register(reg))
	IncLaunch("x")

	srv := httptest.NewServer(HandlerFor(reg))
	defer srv.Close()

	resp, err := http.Get(srv.URL)
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	b, _ := io.ReadAll(resp.Body)
	assert.Contains(t, string(b), "pipelaunch_process_launches_total")
}

func TestConcurrentIncrements(t *testing.T) {
	regOK.Store(false)
	reg := prometheus.NewRegistry()
	require.NoError(t, Register(reg))
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			IncLaunch("c")
			IncExit("c", 1)
			IncTermination("c", false)
		}()
	}
	wg.Wait()
	_, err := reg.Gather()
	assert.NoError(t, err)
}
