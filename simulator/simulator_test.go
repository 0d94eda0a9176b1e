package simulator

import (
	"errors"
	"math"

	gomock "github.com/golang/mock/gomock"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/openperf/loadsim"
	"github.com/openperf/loadsim/timemodel"
	"gitlab.com/akita/akita/v3/sim"
)

func newRequestNode(id, connectionID string, size int) *loadsim.Node {
	return loadsim.NewNetworkNode(loadsim.Request{
		RequestID:    id,
		URL:          "http://example.com/" + id,
		ConnectionID: connectionID,
		Scheme:       "http",
		TransferSize: size,
		TTFBMs:       -1,
	})
}

var _ = Describe("Simulator", func() {
	var (
		mockCtrl *gomock.Controller
		tt       *MockTimeTeller
		es       *MockEventScheduler
		te       *MockTimeEstimator
		s        *Simulator
	)

	BeforeEach(func() {
		mockCtrl = gomock.NewController(GinkgoT())
		tt = NewMockTimeTeller(mockCtrl)
		es = NewMockEventScheduler(mockCtrl)
		te = NewMockTimeEstimator(mockCtrl)

		s = NewSimulator(tt, es, Params{
			FallbackTTFBMs: 100,
			RTTMs:          100,
			ThroughputKbps: math.Inf(1),
		}, te)
	})

	AfterEach(func() {
		mockCtrl.Finish()
	})

	It("should schedule the first event on kick start", func() {
		root := newRequestNode("1", "1", 1000)
		Expect(s.SetGraph(root)).To(Succeed())

		tt.EXPECT().CurrentTime().Return(sim.VTimeInSec(0)).AnyTimes()
		es.EXPECT().Schedule(playNextEvent{time: 0, handler: s})

		s.KickStart()
	})

	It("should start a ready request and schedule its completion", func() {
		root := newRequestNode("1", "1", 1000)
		Expect(s.SetGraph(root)).To(Succeed())

		es.EXPECT().Schedule(nodeCompletionEvent{
			time:    0.3,
			timeMs:  300,
			handler: s,
			node:    root,
		})

		Expect(s.playNext()).To(Succeed())
	})

	It("should start a ready CPU task using the time estimator", func() {
		root := loadsim.NewCPUNode(loadsim.Task{ThreadID: 1, DurationMs: 200})
		Expect(s.SetGraph(root)).To(Succeed())

		te.EXPECT().
			Estimate(timemodel.TimeEstimatorInput{
				ThreadID:         1,
				RecordedTimeInMs: 200,
			}).
			Return(timemodel.TimeEstimatorOutput{TimeInMs: 800}, nil)
		es.EXPECT().Schedule(nodeCompletionEvent{
			time:    0.8,
			timeMs:  800,
			handler: s,
			node:    root,
		})

		Expect(s.playNext()).To(Succeed())
	})

	It("should ignore a completion event that no longer matches the schedule", func() {
		root := newRequestNode("1", "1", 1000)
		Expect(s.SetGraph(root)).To(Succeed())

		es.EXPECT().Schedule(gomock.Any())
		Expect(s.playNext()).To(Succeed())

		Expect(s.Handle(nodeCompletionEvent{
			time:    0.25,
			timeMs:  250,
			handler: s,
			node:    root,
		})).To(Succeed())

		Expect(s.TotalTimeMs()).To(BeNumerically("~", 0, 1e-9))
	})

	It("should complete a node when its scheduled event fires", func() {
		root := newRequestNode("1", "1", 1000)
		Expect(s.SetGraph(root)).To(Succeed())

		es.EXPECT().Schedule(gomock.Any())
		Expect(s.playNext()).To(Succeed())

		Expect(s.Handle(nodeCompletionEvent{
			time:    0.3,
			timeMs:  300,
			handler: s,
			node:    root,
		})).To(Succeed())

		Expect(s.TotalTimeMs()).To(BeNumerically("~", 300, 1e-9))
	})

	It("should reject params without a fallback TTFB", func() {
		s = NewSimulator(tt, es, Params{}, te)

		err := s.SetGraph(newRequestNode("1", "1", 1000))

		Expect(errors.Is(err, loadsim.ErrParam)).To(BeTrue())
	})

	It("should reject NaN params", func() {
		for _, params := range []Params{
			{FallbackTTFBMs: math.NaN()},
			{FallbackTTFBMs: 100, RTTMs: math.NaN()},
			{FallbackTTFBMs: 100, ThroughputKbps: math.NaN()},
			{FallbackTTFBMs: 100, CPUSlowdownMultiplier: math.NaN()},
		} {
			s = NewSimulator(tt, es, params, te)

			err := s.SetGraph(newRequestNode("1", "1", 1000))

			Expect(errors.Is(err, loadsim.ErrParam)).To(BeTrue())
		}
	})

	It("should reject a negative transfer size", func() {
		err := s.SetGraph(newRequestNode("1", "1", -1))

		Expect(errors.Is(err, loadsim.ErrParam)).To(BeTrue())
	})

	It("should reject a graph with a dependency cycle", func() {
		a := newRequestNode("1", "1", 1000)
		b := newRequestNode("2", "2", 1000)
		a.AddDependency(b)
		b.AddDependency(a)

		err := s.SetGraph(a)

		Expect(errors.Is(err, loadsim.ErrGraph)).To(BeTrue())
	})
})

var _ = Describe("Estimate", func() {
	var params Params

	BeforeEach(func() {
		params = Params{FallbackTTFBMs: 500}
	})

	It("should estimate a single request", func() {
		root := newRequestNode("1", "1", 1000)

		totalTimeMs, err := Estimate(root, params)

		Expect(err).ToNot(HaveOccurred())
		Expect(totalTimeMs).To(BeNumerically("~", 800, 1e-6))
	})

	It("should pay an extra round trip for a TLS request", func() {
		root := loadsim.NewNetworkNode(loadsim.Request{
			RequestID:    "1",
			ConnectionID: "1",
			Scheme:       "https",
			TransferSize: 1000,
			TTFBMs:       -1,
		})

		totalTimeMs, err := Estimate(root, params)

		Expect(err).ToNot(HaveOccurred())
		Expect(totalTimeMs).To(BeNumerically("~", 950, 1e-6))
	})

	It("should serialize a chain of dependent requests", func() {
		root := newRequestNode("1", "1", 1000)
		previous := root
		for _, id := range []string{"2", "3", "4"} {
			node := newRequestNode(id, id, 1000)
			node.AddDependency(previous)
			previous = node
		}

		totalTimeMs, err := Estimate(root, params)

		Expect(err).ToNot(HaveOccurred())
		Expect(totalTimeMs).To(BeNumerically("~", 3200, 1e-6))
	})

	It("should fetch faster over a reused warm connection", func() {
		root := newRequestNode("1", "1", 1000)
		second := newRequestNode("2", "1", 1000)
		second.AddDependency(root)

		totalTimeMs, err := Estimate(root, params)

		Expect(err).ToNot(HaveOccurred())
		Expect(totalTimeMs).To(BeNumerically("~", 1450, 1e-6))
	})

	It("should split bandwidth across concurrent requests", func() {
		root := newRequestNode("1", "1", 1000)
		for _, id := range []string{"2", "3", "4"} {
			newRequestNode(id, id, 1000).AddDependency(root)
		}
		big := newRequestNode("5", "5", 15000)
		big.AddDependency(root)

		totalTimeMs, err := Estimate(root, params)

		Expect(err).ToNot(HaveOccurred())
		Expect(totalTimeMs).To(BeNumerically("~", 1750, 1e-6))
	})

	It("should serialize CPU tasks that share a thread", func() {
		root := newRequestNode("1", "1", 1000)
		first := loadsim.NewCPUNode(loadsim.Task{ThreadID: 1, DurationMs: 200})
		second := loadsim.NewCPUNode(loadsim.Task{ThreadID: 1, DurationMs: 100})
		first.AddDependency(root)
		second.AddDependency(root)

		totalTimeMs, err := Estimate(root, params)

		Expect(err).ToNot(HaveOccurred())
		Expect(totalTimeMs).To(BeNumerically("~", 1100, 1e-6))
	})

	It("should run CPU tasks on different threads concurrently", func() {
		root := newRequestNode("1", "1", 1000)
		first := loadsim.NewCPUNode(loadsim.Task{ThreadID: 1, DurationMs: 200})
		second := loadsim.NewCPUNode(loadsim.Task{ThreadID: 2, DurationMs: 100})
		first.AddDependency(root)
		second.AddDependency(root)

		totalTimeMs, err := Estimate(root, params)

		Expect(err).ToNot(HaveOccurred())
		Expect(totalTimeMs).To(BeNumerically("~", 1000, 1e-6))
	})

	It("should scale CPU tasks by the slowdown multiplier", func() {
		root := loadsim.NewCPUNode(loadsim.Task{ThreadID: 1, DurationMs: 100})
		params.CPUSlowdownMultiplier = 4

		totalTimeMs, err := Estimate(root, params)

		Expect(err).ToNot(HaveOccurred())
		Expect(totalTimeMs).To(BeNumerically("~", 400, 1e-6))
	})

	It("should keep window growth across slices when unrelated nodes complete", func() {
		params = Params{
			FallbackTTFBMs: 500,
			RTTMs:          100,
			ThroughputKbps: math.Inf(1),
		}

		root := loadsim.NewCPUNode(loadsim.Task{ThreadID: 99, DurationMs: 0})
		download := newRequestNode("1", "1", 1000000)
		download.AddDependency(root)

		// TTFB 700ms, then six doubling round trips of 100ms each.
		alone, err := Estimate(root, params)
		Expect(err).ToNot(HaveOccurred())
		Expect(alone).To(BeNumerically("~", 1300, 1e-6))

		previous := root
		for i := 0; i < 12; i++ {
			task := loadsim.NewCPUNode(loadsim.Task{ThreadID: 1, DurationMs: 100})
			task.AddDependency(previous)
			previous = task
		}

		interrupted, err := Estimate(root, params)
		Expect(err).ToNot(HaveOccurred())
		Expect(interrupted).To(BeNumerically("~", alone, 1e-6))
	})

	It("should produce identical results across runs", func() {
		root := newRequestNode("1", "1", 1000)
		for _, id := range []string{"2", "3", "4"} {
			newRequestNode(id, id, 1000).AddDependency(root)
		}
		big := newRequestNode("5", "5", 15000)
		big.AddDependency(root)

		first, err := Estimate(root, params)
		Expect(err).ToNot(HaveOccurred())

		second, err := Estimate(root, params)
		Expect(err).ToNot(HaveOccurred())

		Expect(second).To(Equal(first))
	})

	It("should never estimate a larger download as faster", func() {
		small, err := Estimate(newRequestNode("1", "1", 1000), params)
		Expect(err).ToNot(HaveOccurred())

		large, err := Estimate(newRequestNode("1", "1", 1000000), params)
		Expect(err).ToNot(HaveOccurred())

		Expect(large).To(BeNumerically(">=", small))
	})

	It("should surface graph errors", func() {
		a := newRequestNode("1", "1", 1000)
		b := newRequestNode("2", "2", 1000)
		a.AddDependency(b)
		b.AddDependency(a)

		_, err := Estimate(a, params)

		Expect(errors.Is(err, loadsim.ErrGraph)).To(BeTrue())
	})

	It("should surface param errors", func() {
		_, err := Estimate(newRequestNode("1", "1", 1000), Params{})

		Expect(errors.Is(err, loadsim.ErrParam)).To(BeTrue())
	})
})
