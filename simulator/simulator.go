// Package simulator estimates page-load time by replaying a dependency graph
// of network requests and CPU tasks under constrained bandwidth, connection,
// and CPU assumptions.
package simulator

import (
	"math"
	"reflect"

	"github.com/openperf/loadsim"
	"github.com/openperf/loadsim/connmodel"
	"github.com/openperf/loadsim/timemodel"
	"gitlab.com/akita/akita/v3/sim"
)

// A playNextEvent triggers the simulator to start whatever nodes are ready.
type playNextEvent struct {
	time    sim.VTimeInSec
	handler *Simulator
}

// Time returns the time of the event.
func (e playNextEvent) Time() sim.VTimeInSec {
	return e.time
}

// Handler returns the handler of the event.
func (e playNextEvent) Handler() sim.Handler {
	return e.handler
}

// IsSecondary always returns false.
func (e playNextEvent) IsSecondary() bool {
	return false
}

// A nodeCompletionEvent is scheduled when an in-flight node is likely to
// complete. An event whose time no longer matches the node's current schedule
// is stale and ignored; completion estimates move whenever the set of
// in-flight requests changes. The event carries its time in milliseconds as
// well, so the handler works with the exact value the estimate produced
// rather than one that round-tripped through the engine clock.
type nodeCompletionEvent struct {
	time    sim.VTimeInSec
	timeMs  float64
	handler *Simulator
	node    *loadsim.Node
}

// Time returns the time of the event.
func (e nodeCompletionEvent) Time() sim.VTimeInSec {
	return e.time
}

// Handler returns the handler of the event.
func (e nodeCompletionEvent) Handler() sim.Handler {
	return e.handler
}

// IsSecondary always returns false.
func (e nodeCompletionEvent) IsSecondary() bool {
	return false
}

// noSchedule marks a node that has no pending completion event.
const noSchedule = -1.0

// A nodeState carries the per-run scheduling state of one graph node.
type nodeState struct {
	pendingDeps int
	started     bool
	completed   bool

	// etaMs is the current estimated completion time in milliseconds.
	etaMs float64

	// scheduleAtMs is the time of the pending completion event in
	// milliseconds, or noSchedule.
	scheduleAtMs float64

	// Download progress of a network node. wallElapsedMs counts simulation
	// wall time since the fetch started; simElapsedMs counts the time the
	// connection model has accounted for. The model works in whole round
	// trips, so simElapsedMs may run ahead of wall time; the difference is
	// the overshoot credited against later progress updates.
	conn            *connmodel.TCPConnection
	bytesDownloaded int
	wallElapsedMs   float64
	simElapsedMs    float64
	lastUpdateMs    float64
	lastWindow      float64
}

func (st *nodeState) overshootMs() float64 {
	return st.simElapsedMs - st.wallElapsedMs
}

// A Simulator replays a load dependency graph and reports the total time for
// every node to resolve. It owns its connection pool for the duration of one
// run; independent runs must use independent Simulators.
type Simulator struct {
	sim.HookableBase
	sim.EventScheduler
	sim.TimeTeller

	params        Params
	timeEstimator timemodel.TimeEstimator

	pool          *connmodel.Pool
	nodes         []*loadsim.Node
	states        map[*loadsim.Node]*nodeState
	readyNetwork  []*loadsim.Node
	readyCPU      []*loadsim.Node
	inFlight      []*loadsim.Node
	runningThread map[int]*loadsim.Node

	maxConcurrent int

	// currentMs is the simulation clock in milliseconds. It advances from
	// the exact millisecond values carried by events, so download
	// arithmetic never suffers from the ms-to-seconds round trip of the
	// engine clock.
	currentMs   float64
	totalTimeMs float64
}

// NewSimulator creates a new Simulator. A nil timeEstimator selects a
// ScaledTimeEstimator driven by the params' CPU slowdown multiplier.
func NewSimulator(
	tt sim.TimeTeller,
	es sim.EventScheduler,
	params Params,
	timeEstimator timemodel.TimeEstimator,
) *Simulator {
	params = params.withDefaults()

	if timeEstimator == nil {
		timeEstimator = &timemodel.ScaledTimeEstimator{
			Multiplier: params.CPUSlowdownMultiplier,
		}
	}

	return &Simulator{
		TimeTeller:     tt,
		EventScheduler: es,
		params:         params,
		timeEstimator:  timeEstimator,
	}
}

// SetGraph discovers and validates the dependency graph reachable from root
// and prepares the per-run state. It fails with a GraphError on cycles or
// asymmetric edges and a ParamError on invalid parameters or node attributes.
func (s *Simulator) SetGraph(root *loadsim.Node) error {
	if err := s.params.validate(); err != nil {
		return err
	}

	nodes, err := loadsim.DiscoverGraph(root)
	if err != nil {
		return err
	}

	if err := validateNodes(nodes); err != nil {
		return err
	}

	s.nodes = nodes
	s.states = make(map[*loadsim.Node]*nodeState, len(nodes))
	s.readyNetwork = nil
	s.readyCPU = nil
	s.inFlight = nil
	s.runningThread = make(map[int]*loadsim.Node)
	s.pool = connmodel.NewPool(s.params.RTTMs, s.params.throughputBps())
	s.totalTimeMs = 0

	s.maxConcurrent = maxConcurrentRequests
	if !math.IsInf(s.params.throughputBps(), 1) {
		saturated := connmodel.MaximumSaturatedConnections(
			s.params.RTTMs, s.params.throughputBps())
		if saturated < s.maxConcurrent {
			s.maxConcurrent = saturated
		}
		if s.maxConcurrent < 1 {
			s.maxConcurrent = 1
		}
	}

	for _, node := range nodes {
		s.states[node] = &nodeState{
			pendingDeps:  len(node.Dependencies()),
			scheduleAtMs: noSchedule,
		}
	}

	for _, node := range nodes {
		if s.states[node].pendingDeps == 0 {
			s.enqueueReady(node)
		}
	}

	return nil
}

func validateNodes(nodes []*loadsim.Node) error {
	for _, node := range nodes {
		switch node.Kind {
		case loadsim.NetworkNode:
			if node.Request.TransferSize < 0 {
				return &loadsim.ParamError{Reason: "network node has a negative transfer size"}
			}
		case loadsim.CPUNode:
			if node.Task.DurationMs < 0 {
				return &loadsim.ParamError{Reason: "CPU node has a negative duration"}
			}
		default:
			return &loadsim.ParamError{Reason: "node has an unknown kind"}
		}
	}

	return nil
}

// KickStart starts the simulation. It schedules the first playNextEvent; the
// caller should still run the engine to drain the event queue.
func (s *Simulator) KickStart() {
	if len(s.nodes) == 0 {
		panic("graph is not set")
	}

	s.currentMs = float64(s.CurrentTime()) * 1000
	s.Schedule(playNextEvent{
		time:    s.CurrentTime(),
		handler: s,
	})
}

// TotalTimeMs returns the completion time in milliseconds of whichever node
// finished last, once the engine has drained.
func (s *Simulator) TotalTimeMs() float64 {
	return s.totalTimeMs
}

// Handle function of a Simulator handles events.
func (s *Simulator) Handle(e sim.Event) error {
	switch e := e.(type) {
	case playNextEvent:
		return s.playNext()
	case nodeCompletionEvent:
		return s.handleNodeCompletion(e)
	default:
		panic("Simulator cannot handle this event type " +
			reflect.TypeOf(e).String())
	}
}

func (s *Simulator) handleNodeCompletion(e nodeCompletionEvent) error {
	st := s.states[e.node]
	if st == nil || st.completed || st.scheduleAtMs != e.timeMs {
		return nil
	}

	s.currentMs = e.timeMs
	s.updateDownloadProgress(e.timeMs)
	s.completeNode(e.node, e.timeMs)

	return s.playNext()
}

// playNext performs the next round of scheduling: admit ready nodes, split
// the available bandwidth across the in-flight set, and schedule the earliest
// estimated completion.
func (s *Simulator) playNext() error {
	if err := s.startReadyNodes(); err != nil {
		return err
	}

	s.refreshNetworkEstimates()
	s.scheduleNextCompletion()

	return nil
}

func (s *Simulator) startReadyNodes() error {
	now := s.currentMs
	s.startReadyNetworkNodes(now)

	return s.startReadyCPUNodes(now)
}

// startReadyNetworkNodes admits ready requests in discovery order. A request
// waits while its connection serves another request or while the concurrency
// cap is reached.
func (s *Simulator) startReadyNetworkNodes(now float64) {
	var waiting []*loadsim.Node

	for _, node := range s.readyNetwork {
		if len(s.inFlight) >= s.maxConcurrent {
			waiting = append(waiting, node)
			continue
		}

		req := node.Request
		latency := s.params.FallbackTTFBMs
		if req.TTFBMs >= 0 {
			latency = req.TTFBMs
		}

		conn, ok := s.pool.Acquire(req.ConnectionID, req.Secure(), latency)
		if !ok {
			waiting = append(waiting, node)
			continue
		}

		st := s.states[node]
		st.started = true
		st.conn = conn
		st.lastUpdateMs = now
		st.lastWindow = conn.CongestionWindow()
		s.inFlight = append(s.inFlight, node)
	}

	s.readyNetwork = waiting
}

// startReadyCPUNodes admits ready tasks FIFO; tasks sharing a thread never
// overlap.
func (s *Simulator) startReadyCPUNodes(now float64) error {
	var waiting []*loadsim.Node

	for _, node := range s.readyCPU {
		tid := node.Task.ThreadID
		if s.runningThread[tid] != nil {
			waiting = append(waiting, node)
			continue
		}

		output, err := s.timeEstimator.Estimate(timemodel.TimeEstimatorInput{
			ThreadID:         tid,
			RecordedTimeInMs: node.Task.DurationMs,
		})
		if err != nil {
			return err
		}

		st := s.states[node]
		st.started = true
		st.etaMs = now + output.TimeInMs
		s.runningThread[tid] = node
	}

	s.readyCPU = waiting

	return nil
}

// updateDownloadProgress credits every in-flight request with the bytes it
// downloaded since the last update, under the bandwidth share it held during
// that period.
func (s *Simulator) updateDownloadProgress(now float64) {
	for _, node := range s.inFlight {
		st := s.states[node]
		dt := now - st.lastUpdateMs
		st.lastUpdateMs = now
		if dt <= 0 {
			continue
		}

		budget := dt - st.overshootMs()
		st.wallElapsedMs += dt
		if budget <= 0 {
			continue
		}

		remaining := node.Request.TransferSize - st.bytesDownloaded
		if remaining < 0 {
			remaining = 0
		}

		calc := st.conn.SimulateDownloadUntil(remaining, st.simElapsedMs, budget)
		st.bytesDownloaded += calc.BytesDownloaded
		st.simElapsedMs += calc.TimeElapsed
		st.lastWindow = calc.CongestionWindow

		// Persist the window so the next slice resumes slow start where
		// this one left off instead of from the initial window.
		st.conn.SetCongestionWindow(calc.CongestionWindow)
	}
}

// refreshNetworkEstimates reapportions the total throughput evenly across the
// in-flight requests and recomputes each one's estimated completion time.
func (s *Simulator) refreshNetworkEstimates() {
	if len(s.inFlight) == 0 {
		return
	}

	now := s.currentMs
	share := s.params.throughputBps() / float64(len(s.inFlight))

	for _, node := range s.inFlight {
		st := s.states[node]
		st.conn.SetThroughput(share)

		remaining := node.Request.TransferSize - st.bytesDownloaded
		if remaining < 0 {
			remaining = 0
		}

		calc := st.conn.SimulateDownloadUntil(remaining, st.simElapsedMs, math.Inf(1))
		st.etaMs = now + calc.TimeElapsed + st.overshootMs()
		st.scheduleAtMs = noSchedule
	}
}

// scheduleNextCompletion schedules a completion event for the in-flight node
// with the earliest estimate. Ties keep the first node in discovery order.
func (s *Simulator) scheduleNextCompletion() {
	bestEta := math.Inf(1)
	var best *loadsim.Node

	for _, node := range s.nodes {
		st := s.states[node]
		if !st.started || st.completed {
			continue
		}

		if st.etaMs < bestEta {
			bestEta = st.etaMs
			best = node
		}
	}

	if best == nil {
		return
	}

	st := s.states[best]
	st.scheduleAtMs = bestEta
	s.Schedule(nodeCompletionEvent{
		time:    msToVTime(bestEta),
		timeMs:  bestEta,
		handler: s,
		node:    best,
	})
}

func (s *Simulator) completeNode(node *loadsim.Node, now float64) {
	st := s.states[node]
	st.completed = true
	st.scheduleAtMs = noSchedule

	if now > s.totalTimeMs {
		s.totalTimeMs = now
	}

	switch node.Kind {
	case loadsim.NetworkNode:
		st.conn.SetCongestionWindow(st.lastWindow)
		st.conn.SetWarmed(true)
		s.pool.Release(node.Request.ConnectionID)
		s.inFlight = removeNode(s.inFlight, node)
	case loadsim.CPUNode:
		delete(s.runningThread, node.Task.ThreadID)
	}

	for _, dependent := range node.Dependents() {
		dst := s.states[dependent]
		dst.pendingDeps--
		if dst.pendingDeps == 0 {
			s.enqueueReady(dependent)
		}
	}
}

func (s *Simulator) enqueueReady(node *loadsim.Node) {
	switch node.Kind {
	case loadsim.NetworkNode:
		s.readyNetwork = append(s.readyNetwork, node)
	case loadsim.CPUNode:
		s.readyCPU = append(s.readyCPU, node)
	}
}

func msToVTime(ms float64) sim.VTimeInSec {
	return sim.VTimeInSec(ms / 1000)
}

func removeNode(nodes []*loadsim.Node, target *loadsim.Node) []*loadsim.Node {
	for i, node := range nodes {
		if node == target {
			return append(nodes[:i], nodes[i+1:]...)
		}
	}

	panic("cannot find the node in flight")
}
