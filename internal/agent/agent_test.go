package agent

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/netip"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"netwatch-agent/internal/config"
	"netwatch-agent/internal/model"
	"netwatch-agent/internal/state"
	"netwatch-agent/internal/system"
	"netwatch-agent/internal/worker"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testConfig() config.Config {
	return config.Config{
		NodeID:             "node-test",
		Hostname:           "node-test",
		AgentVersion:       config.HardcodedVersion,
		PollInterval:       20 * time.Millisecond,
		HelperScript:       "helper.py",
		WorkerScript:       "worker.py",
		ResolveRetries:     0,
		ResolveRetryDelay:  time.Millisecond,
		WorkerDrainTimeout: time.Second,
		HTTPListenAddr:     "127.0.0.1:0",
		SubscriberBuffer:   1,
		QueryTimeout:       time.Second,
		HealthInterval:     time.Hour,
		ShutdownTimeout:    2 * time.Second,
		WSWriteTimeout:     time.Second,
		WSPingInterval:     time.Minute,
		LogLevel:           "info",
	}
}

type staticAccessor struct{}

func (staticAccessor) Interfaces(context.Context) ([]system.InterfaceInfo, error) {
	return []system.InterfaceInfo{
		{Name: "eth0", Addrs: []netip.Addr{netip.MustParseAddr("192.168.1.10")}},
		{Name: "wlan0", Addrs: []netip.Addr{netip.MustParseAddr("192.168.1.20")}},
	}, nil
}

func (staticAccessor) Sockets(context.Context) ([]system.Socket, error) { return nil, nil }

func (staticAccessor) Counters(context.Context) ([]system.TrafficCounters, error) {
	return []system.TrafficCounters{
		{Name: "eth0", BytesRecv: 10, BytesSent: 10},
		{Name: "wlan0", BytesRecv: 10},
	}, nil
}

func (staticAccessor) ProcessCPU(context.Context, []int32) (map[int32]float64, error) {
	return nil, nil
}

type staticHelper struct{ out string }

func (h staticHelper) Output(context.Context, string) ([]byte, error) { return []byte(h.out), nil }

type pipeProcess struct {
	stdout  *io.PipeReader
	stdoutW *io.PipeWriter
	stderr  *io.PipeReader
	stderrW *io.PipeWriter
	once    sync.Once
	killed  chan struct{}
}

func newPipeProcess() *pipeProcess {
	or, ow := io.Pipe()
	er, ew := io.Pipe()
	return &pipeProcess{stdout: or, stdoutW: ow, stderr: er, stderrW: ew, killed: make(chan struct{})}
}

func (p *pipeProcess) PID() int          { return 4242 }
func (p *pipeProcess) Stdout() io.Reader { return p.stdout }
func (p *pipeProcess) Stderr() io.Reader { return p.stderr }

func (p *pipeProcess) Kill() error {
	p.once.Do(func() {
		_ = p.stdoutW.Close()
		_ = p.stderrW.Close()
		close(p.killed)
	})
	return nil
}

func (p *pipeProcess) Wait() error {
	<-p.killed
	return nil
}

func (p *pipeProcess) emit(line string) error {
	_, err := p.stdoutW.Write([]byte(line + "\n"))
	return err
}

type pipeLauncher struct {
	mu    sync.Mutex
	procs map[string]*pipeProcess
}

func (l *pipeLauncher) Launch(iface string) (worker.Process, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	p := newPipeProcess()
	l.procs[iface] = p
	return p, nil
}

func (l *pipeLauncher) get(iface string) *pipeProcess {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.procs[iface]
}

func getNetworks(url string) (int, []model.InterfaceRecord, error) {
	resp, err := http.Get(url + "/api/networks")
	if err != nil {
		return 0, nil, err
	}
	defer resp.Body.Close()
	var out []model.InterfaceRecord
	if resp.StatusCode == http.StatusOK {
		if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
			return resp.StatusCode, nil, err
		}
	}
	return resp.StatusCode, out, nil
}

func TestAgent_WorkerEventMarksInterfaceAnomalous(t *testing.T) {
	launcher := &pipeLauncher{procs: map[string]*pipeProcess{}}
	a, err := NewWithDeps(testConfig(), discardLogger(), Deps{
		Accessor: staticAccessor{},
		Helper:   staticHelper{out: `[{"name":"eth0","ipv4":"192.168.1.10"}]`},
		Launcher: launcher,
	})
	require.NoError(t, err)
	assert.Nil(t, a.sink, "no upstream configured")

	srv := httptest.NewServer(a.routes())
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	runErr := make(chan error, 1)
	go func() { runErr <- a.run(ctx) }()

	require.Eventually(t, func() bool {
		return launcher.get("eth0") != nil && a.store.Len() == 2
	}, 2*time.Second, 10*time.Millisecond)
	assert.Nil(t, launcher.get("wlan0"), "wlan0 has no resolved name")

	proc := launcher.get("eth0")
	require.NoError(t, proc.emit(`"{\"interface\":\"eth0\",\"anomaly\":true,\"label\":\"port_scan\"}"`))

	require.Eventually(t, func() bool {
		status, records, err := getNetworks(srv.URL)
		return err == nil && status == http.StatusOK && len(records) == 2 && records[0].Anomaly.IsAnomalous
	}, 2*time.Second, 20*time.Millisecond)

	_, records, err := getNetworks(srv.URL)
	require.NoError(t, err)
	assert.Equal(t, "eth0", records[0].Name)
	assert.Equal(t, "PORT_SCAN", records[0].Anomaly.Label)
	assert.Equal(t, "wlan0", records[1].Name)
	assert.False(t, records[1].Anomaly.IsAnomalous)

	cancel()
	require.NoError(t, <-runErr)

	a.shutdown(context.Background())
	select {
	case <-proc.killed:
	default:
		t.Fatal("worker was not terminated on shutdown")
	}
	assert.Zero(t, a.supervisor.Count())
}

type lockedStore struct{}

func (lockedStore) Query(ctx context.Context) ([]model.InterfaceRecord, error) {
	<-ctx.Done()
	return nil, errors.Join(state.ErrStateUnavailable, ctx.Err())
}

func TestNetworks_UnavailableStoreIs503(t *testing.T) {
	cfg := testConfig()
	cfg.QueryTimeout = 20 * time.Millisecond
	a, err := NewWithDeps(cfg, discardLogger(), Deps{
		Accessor: staticAccessor{},
		Helper:   staticHelper{out: "[]"},
		Launcher: &pipeLauncher{procs: map[string]*pipeProcess{}},
	})
	require.NoError(t, err)
	a.query = lockedStore{}

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/api/networks", nil)
	a.routes().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestHealthz_ReportsRuntimeState(t *testing.T) {
	a, err := NewWithDeps(testConfig(), discardLogger(), Deps{
		Accessor: staticAccessor{},
		Helper:   staticHelper{out: "[]"},
		Launcher: &pipeLauncher{procs: map[string]*pipeProcess{}},
	})
	require.NoError(t, err)
	a.scheduler.RunCycle(context.Background())

	rec := httptest.NewRecorder()
	a.routes().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "ok", body["status"])
	assert.EqualValues(t, 0, body["workers_running"])
	assert.EqualValues(t, 2, body["interfaces"])
	assert.EqualValues(t, 2, body["last_cycle_interfaces"])
	assert.Contains(t, body, "last_cycle_at")
}

func TestVersionEndpoint(t *testing.T) {
	a, err := NewWithDeps(testConfig(), discardLogger(), Deps{
		Accessor: staticAccessor{},
		Helper:   staticHelper{out: "[]"},
		Launcher: &pipeLauncher{procs: map[string]*pipeProcess{}},
	})
	require.NoError(t, err)

	rec := httptest.NewRecorder()
	a.routes().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/version", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"upstream_mode":"disabled"`)
	assert.Contains(t, rec.Body.String(), `"node_id":"node-test"`)
}
