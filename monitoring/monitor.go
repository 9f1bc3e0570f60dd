// Package monitoring turns a running simulation into a web server that can
// be inspected and controlled from a browser.
package monitoring

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net"
	"net/http"
	"os"
	"runtime/pprof"
	"slices"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/pprof/profile"
	"github.com/gorilla/mux"
	"github.com/pkg/browser"
	"github.com/shirou/gopsutil/process"
	"github.com/syifan/goseth"

	"github.com/sarchlab/chipsim/datarecording"
	"github.com/sarchlab/chipsim/monitoring/web"
	"github.com/sarchlab/chipsim/sim/id"
	"github.com/sarchlab/chipsim/sim/memory"
	"github.com/sarchlab/chipsim/sim/modeling"
	"github.com/sarchlab/chipsim/sim/simulation"
	"github.com/sarchlab/chipsim/sim/timing"
	"github.com/sarchlab/chipsim/snapshotstore"
)

// ErrBusy is reported when the scheduler does not get to a request in time,
// for example because it is paused in the middle of a run.
var ErrBusy = errors.New("monitoring: scheduler is busy")

// Monitor can turn a simulation into a server and allows external monitoring
// and controlling of the simulation.
type Monitor struct {
	sim         *simulation.Simulation
	usage       *timing.UsageTracer
	snapshots   *snapshotstore.Store
	trace       datarecording.DataReader
	portNumber  int
	openBrowser bool
	waitLimit   time.Duration

	server   *http.Server
	listener net.Listener

	progressBarsLock sync.Mutex
	progressBars     []*ProgressBar
}

// NewMonitor creates a new Monitor.
func NewMonitor() *Monitor {
	return &Monitor{waitLimit: 5 * time.Second}
}

// WithPortNumber sets the port number of the monitor.
func (m *Monitor) WithPortNumber(portNumber int) *Monitor {
	if portNumber != 0 && portNumber < 1000 {
		fmt.Fprintf(os.Stderr,
			"Port number %d is assigned to the monitoring server, "+
				"which is not allowed. Using a random port instead.\n", portNumber)
		portNumber = 0
	}

	m.portNumber = portNumber

	return m
}

// WithBrowser makes StartServer open the monitor page in a browser.
func (m *Monitor) WithBrowser(open bool) *Monitor {
	m.openBrowser = open
	return m
}

// WithWaitLimit sets how long a request waits for the scheduler.
func (m *Monitor) WithWaitLimit(d time.Duration) *Monitor {
	m.waitLimit = d
	return m
}

// RegisterSimulation sets the simulation to monitor. It must be called
// before the simulation runs.
func (m *Monitor) RegisterSimulation(s *simulation.Simulation) {
	m.sim = s
	m.usage = timing.NewUsageTracer()
	s.Scheduler().AcceptHook(m.usage)
}

// RegisterSnapshotStore enables the snapshot endpoints.
func (m *Monitor) RegisterSnapshotStore(s *snapshotstore.Store) {
	m.snapshots = s
}

// RegisterTraceReader enables the trace endpoints.
func (m *Monitor) RegisterTraceReader(r datarecording.DataReader) {
	datarecording.MapTraceTables(r)
	m.trace = r
}

// CreateProgressBar creates a new progress bar.
func (m *Monitor) CreateProgressBar(name string, total uint64) *ProgressBar {
	bar := &ProgressBar{
		ID:        id.NewUniqueIDGenerator().Generate(),
		Name:      name,
		StartTime: time.Now(),
		Total:     total,
	}

	m.progressBarsLock.Lock()
	defer m.progressBarsLock.Unlock()

	m.progressBars = append(m.progressBars, bar)

	return bar
}

// CompleteProgressBar removes a bar to be shown on the webpage.
func (m *Monitor) CompleteProgressBar(pb *ProgressBar) {
	m.progressBarsLock.Lock()
	defer m.progressBarsLock.Unlock()

	newBars := make([]*ProgressBar, 0, len(m.progressBars))
	for _, b := range m.progressBars {
		if b != pb {
			newBars = append(newBars, b)
		}
	}

	m.progressBars = newBars
}

// Router returns the HTTP routes of the monitor.
func (m *Monitor) Router() *mux.Router {
	r := mux.NewRouter()

	api := r.PathPrefix("/api").Subrouter()
	api.HandleFunc("/pause", m.pause).Methods(http.MethodPost)
	api.HandleFunc("/continue", m.continueRun).Methods(http.MethodPost)
	api.HandleFunc("/now", m.now)
	api.HandleFunc("/list_components", m.listComponents)
	api.HandleFunc("/component/{name}", m.listComponentDetails)
	api.HandleFunc("/field/{json}", m.listFieldValue)
	api.HandleFunc("/space/{path}", m.listSpace)
	api.HandleFunc("/slots", m.listSlots)
	api.HandleFunc("/timers", m.listTimers)
	api.HandleFunc("/utilization", m.listUtilization)
	api.HandleFunc("/progress", m.listProgressBars)
	api.HandleFunc("/resource", m.listResources)
	api.HandleFunc("/profile", m.collectProfile)
	api.HandleFunc("/snapshots", m.listSnapshots).Methods(http.MethodGet)
	api.HandleFunc("/snapshots/{label}", m.saveSnapshot).
		Methods(http.MethodPost)
	api.HandleFunc("/snapshots/{label}/restore", m.restoreSnapshot).
		Methods(http.MethodPost)
	api.HandleFunc("/trace", m.listTraceTables)
	api.HandleFunc("/trace/{table}", m.queryTrace)

	r.PathPrefix("/").Handler(http.FileServer(web.GetAssets()))

	return r
}

// StartServer starts the monitor as a web server and returns its address.
func (m *Monitor) StartServer() (string, error) {
	listener, err := net.Listen("tcp", ":"+strconv.Itoa(m.portNumber))
	if err != nil {
		return "", err
	}

	m.listener = listener
	m.server = &http.Server{
		Handler:           m.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	url := fmt.Sprintf("http://localhost:%d",
		listener.Addr().(*net.TCPAddr).Port)
	fmt.Fprintf(os.Stderr, "Monitoring simulation with %s\n", url)

	go func() {
		err := m.server.Serve(listener)
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Printf("monitoring server stopped: %v", err)
		}
	}()

	if m.openBrowser {
		if err := browser.OpenURL(url); err != nil {
			log.Printf("cannot open browser: %v", err)
		}
	}

	return url, nil
}

// StopServer shuts the server down.
func (m *Monitor) StopServer(ctx context.Context) error {
	if m.server == nil {
		return nil
	}

	return m.server.Shutdown(ctx)
}

// onScheduler runs fn on the scheduler goroutine, at the next timeslice
// boundary if a run is in progress, and waits for it. Once the request has
// given up, fn is dropped so it never runs behind the client's back.
func (m *Monitor) onScheduler(ctx context.Context, fn func()) error {
	const (
		pending int32 = iota
		claimed
		abandoned
	)

	var status atomic.Int32

	done := make(chan struct{})

	m.sim.Scheduler().Do(func() {
		if !status.CompareAndSwap(pending, claimed) {
			return
		}

		defer close(done)
		fn()
	})

	timer := time.NewTimer(m.waitLimit)
	defer timer.Stop()

	var err error

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		err = ctx.Err()
	case <-timer.C:
		err = ErrBusy
	}

	if status.CompareAndSwap(pending, abandoned) {
		return err
	}

	<-done

	return nil
}

func (m *Monitor) pause(w http.ResponseWriter, _ *http.Request) {
	m.sim.Scheduler().Pause()
	w.WriteHeader(http.StatusOK)
}

func (m *Monitor) continueRun(w http.ResponseWriter, _ *http.Request) {
	m.sim.Scheduler().Continue()
	w.WriteHeader(http.StatusOK)
}

type nowRsp struct {
	Now     string  `json:"now"`
	Seconds float64 `json:"seconds"`
	Phase   string  `json:"phase"`
	Paused  bool    `json:"paused"`
}

func (m *Monitor) now(w http.ResponseWriter, r *http.Request) {
	var rsp nowRsp

	err := m.onScheduler(r.Context(), func() {
		now := m.sim.Now()
		rsp.Now = now.String()
		rsp.Seconds = now.Seconds()
		rsp.Phase = m.sim.Phase().String()
	})
	if err != nil {
		writeError(w, err)
		return
	}

	rsp.Paused = m.sim.Scheduler().IsPaused()

	writeJSON(w, rsp)
}

func (m *Monitor) listComponents(w http.ResponseWriter, r *http.Request) {
	var names []string

	err := m.onScheduler(r.Context(), func() {
		for _, c := range m.sim.Components() {
			names = append(names, c.Name())
		}
	})
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, names)
}

func (m *Monitor) listComponentDetails(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["name"]
	buf := new(bytes.Buffer)

	var serr error

	err := m.onScheduler(r.Context(), func() {
		var c modeling.Component

		c, serr = m.sim.Lookup(name)
		if serr != nil {
			return
		}

		serializer := goseth.NewSerializer()
		serializer.SetRoot(c)
		serializer.SetMaxDepth(1)
		serr = serializer.Serialize(buf)
	})
	if err == nil {
		err = serr
	}

	if err != nil {
		writeError(w, err)
		return
	}

	writeBytes(w, buf.Bytes())
}

type fieldReq struct {
	CompName  string `json:"comp_name,omitempty"`
	FieldName string `json:"field_name,omitempty"`
}

func (m *Monitor) listFieldValue(w http.ResponseWriter, r *http.Request) {
	req := fieldReq{}

	err := json.Unmarshal([]byte(mux.Vars(r)["json"]), &req)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	buf := new(bytes.Buffer)

	var serr error

	err = m.onScheduler(r.Context(), func() {
		var c modeling.Component

		c, serr = m.sim.Lookup(req.CompName)
		if serr != nil {
			return
		}

		serializer := goseth.NewSerializer()
		serializer.SetRoot(c)
		serializer.SetMaxDepth(1)

		serr = serializer.SetEntryPoint(strings.Split(req.FieldName, "."))
		if serr != nil {
			return
		}

		serr = serializer.Serialize(buf)
	})
	if err == nil {
		err = serr
	}

	if err != nil {
		writeError(w, err)
		return
	}

	writeBytes(w, buf.Bytes())
}

type spaceRsp struct {
	Name     string `json:"name"`
	Compiled bool   `json:"compiled"`
	Ranges   any    `json:"ranges"`
	Pages    any    `json:"pages,omitempty"`
}

func (m *Monitor) listSpace(w http.ResponseWriter, r *http.Request) {
	path := mux.Vars(r)["path"]

	var (
		rsp  spaceRsp
		serr error
	)

	err := m.onScheduler(r.Context(), func() {
		space, err := m.sim.LookupSpace(path)
		if err != nil {
			serr = err
			return
		}

		rsp.Name = space.FullName()
		rsp.Compiled = space.IsCompiled()
		rsp.Ranges = space.Ranges()

		if space.IsCompiled() {
			rsp.Pages = map[string]any{
				"read":  space.PageKinds(memory.AccessRead),
				"write": space.PageKinds(memory.AccessWrite),
			}
		}
	})
	if err == nil {
		err = serr
	}

	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, rsp)
}

type slotRsp struct {
	Name      string  `json:"name"`
	ClockHz   float64 `json:"clock_hz"`
	LocalTime string  `json:"local_time"`
	Cycles    uint64  `json:"cycles"`
	State     string  `json:"state"`
	Suspended string  `json:"suspended"`
}

func (m *Monitor) listSlots(w http.ResponseWriter, r *http.Request) {
	var slots []slotRsp

	err := m.onScheduler(r.Context(), func() {
		for _, s := range m.sim.Scheduler().Slots() {
			slots = append(slots, slotRsp{
				Name:      s.Name(),
				ClockHz:   s.Clock().Hz(),
				LocalTime: s.LocalTime().String(),
				Cycles:    s.Cycles(),
				State:     s.State().String(),
				Suspended: s.SuspendReasons().String(),
			})
		}
	})
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, slots)
}

func (m *Monitor) listTimers(w http.ResponseWriter, r *http.Request) {
	var timers any

	err := m.onScheduler(r.Context(), func() {
		timers = m.sim.Scheduler().PendingTimers()
	})
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, timers)
}

type utilizationRsp struct {
	Executables []execUsageRsp      `json:"executables"`
	Timers      []timing.TimerUsage `json:"timers"`
}

type execUsageRsp struct {
	timing.ExecUsage
	Ratio float64 `json:"ratio"`
}

func (m *Monitor) listUtilization(w http.ResponseWriter, _ *http.Request) {
	rsp := utilizationRsp{
		Executables: []execUsageRsp{},
		Timers:      m.usage.Timers(),
	}

	for _, u := range m.usage.Executables() {
		rsp.Executables = append(rsp.Executables,
			execUsageRsp{ExecUsage: u, Ratio: u.Ratio()})
	}

	writeJSON(w, rsp)
}

func (m *Monitor) listProgressBars(w http.ResponseWriter, _ *http.Request) {
	m.progressBarsLock.Lock()
	defer m.progressBarsLock.Unlock()

	bars := make([]progressView, len(m.progressBars))
	for i, b := range m.progressBars {
		bars[i] = b.view()
	}

	writeJSON(w, bars)
}

type resourceRsp struct {
	CPUPercent float64 `json:"cpu_percent"`
	MemorySize uint64  `json:"memory_size"`
}

func (m *Monitor) listResources(w http.ResponseWriter, _ *http.Request) {
	proc, err := process.NewProcess(int32(os.Getpid()))
	if err != nil {
		writeError(w, err)
		return
	}

	cpuPercent, err := proc.CPUPercent()
	if err != nil {
		writeError(w, err)
		return
	}

	memInfo, err := proc.MemoryInfo()
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, resourceRsp{
		CPUPercent: cpuPercent,
		MemorySize: memInfo.RSS,
	})
}

func (m *Monitor) collectProfile(w http.ResponseWriter, _ *http.Request) {
	buf := bytes.NewBuffer(nil)

	if err := pprof.StartCPUProfile(buf); err != nil {
		writeError(w, err)
		return
	}

	time.Sleep(time.Second)

	pprof.StopCPUProfile()

	prof, err := profile.ParseData(buf.Bytes())
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, prof)
}

func (m *Monitor) listSnapshots(w http.ResponseWriter, r *http.Request) {
	if m.snapshots == nil {
		http.Error(w, "no snapshot store", http.StatusNotFound)
		return
	}

	infos, err := m.snapshots.List(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, infos)
}

func (m *Monitor) saveSnapshot(w http.ResponseWriter, r *http.Request) {
	m.withSnapshot(w, r, m.snapshots.Save)
}

func (m *Monitor) restoreSnapshot(w http.ResponseWriter, r *http.Request) {
	m.withSnapshot(w, r, m.snapshots.Load)
}

func (m *Monitor) withSnapshot(
	w http.ResponseWriter,
	r *http.Request,
	op func(context.Context, string, snapshotstore.Machine) (
		snapshotstore.Info, error),
) {
	if m.snapshots == nil {
		http.Error(w, "no snapshot store", http.StatusNotFound)
		return
	}

	label := mux.Vars(r)["label"]

	var (
		info snapshotstore.Info
		serr error
	)

	err := m.onScheduler(r.Context(), func() {
		info, serr = op(context.Background(), label, m.sim)
	})
	if err == nil {
		err = serr
	}

	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, info)
}

func (m *Monitor) listTraceTables(w http.ResponseWriter, _ *http.Request) {
	if m.trace == nil {
		http.Error(w, "no trace", http.StatusNotFound)
		return
	}

	writeJSON(w, m.trace.ListTables())
}

type traceRsp struct {
	Total   int   `json:"total"`
	Entries []any `json:"entries"`
}

func (m *Monitor) queryTrace(w http.ResponseWriter, r *http.Request) {
	if m.trace == nil {
		http.Error(w, "no trace", http.StatusNotFound)
		return
	}

	table := mux.Vars(r)["table"]

	if !slices.Contains(m.trace.ListTables(), table) {
		http.Error(w, "unknown table "+table, http.StatusNotFound)
		return
	}

	limit, offset, err := pageParams(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	entries, total, err := m.trace.Query(r.Context(), table,
		datarecording.QueryParams{Limit: limit, Offset: offset})
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, traceRsp{Total: total, Entries: entries})
}

func pageParams(r *http.Request) (limit, offset int, err error) {
	q := r.URL.Query()

	if s := q.Get("limit"); s != "" {
		limit, err = strconv.Atoi(s)
		if err != nil || limit < 0 {
			return 0, 0, fmt.Errorf("invalid limit %q", s)
		}
	}

	if s := q.Get("offset"); s != "" {
		offset, err = strconv.Atoi(s)
		if err != nil || offset < 0 {
			return 0, 0, fmt.Errorf("invalid offset %q", s)
		}
	}

	return limit, offset, nil
}

func writeJSON(w http.ResponseWriter, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		writeError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	writeBytes(w, data)
}

func writeBytes(w http.ResponseWriter, data []byte) {
	if _, err := w.Write(data); err != nil {
		log.Printf("monitoring: writing response: %v", err)
	}
}

func writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError

	switch {
	case errors.Is(err, ErrBusy):
		status = http.StatusServiceUnavailable
	case errors.Is(err, simulation.ErrUnknownComponent),
		errors.Is(err, modeling.ErrNotFound),
		errors.Is(err, snapshotstore.ErrNotFound):
		status = http.StatusNotFound
	}

	http.Error(w, err.Error(), status)
}
