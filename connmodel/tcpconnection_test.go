package connmodel

import (
	"math"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

var _ = Describe("TCPConnection", func() {
	var conn *TCPConnection

	Context("when the connection is cold and bandwidth is unconstrained", func() {
		BeforeEach(func() {
			conn = NewTCPConnection(100, math.Inf(1), 0, false)
		})

		It("should spend two round trips on the handshake and the first window", func() {
			result := conn.SimulateDownloadUntil(7300, 0, math.Inf(1))

			Expect(result.TimeElapsed).To(BeNumerically("~", 200, 1e-9))
			Expect(result.RoundTrips).To(Equal(2))
			Expect(result.BytesDownloaded).To(Equal(7300))
			Expect(result.CongestionWindow).To(BeNumerically("~", 10, 1e-9))
		})

		It("should double the window once the first window is exhausted", func() {
			result := conn.SimulateDownloadUntil(14601, 0, math.Inf(1))

			Expect(result.TimeElapsed).To(BeNumerically("~", 300, 1e-9))
			Expect(result.RoundTrips).To(Equal(3))
			Expect(result.BytesDownloaded).To(Equal(14601))
			Expect(result.CongestionWindow).To(BeNumerically("~", 20, 1e-9))
		})

		It("should stop growing once the time limit is reached", func() {
			result := conn.SimulateDownloadUntil(100000, 0, 250)

			Expect(result.TimeElapsed).To(BeNumerically("~", 300, 1e-9))
			Expect(result.RoundTrips).To(Equal(3))
			Expect(result.BytesDownloaded).To(Equal(43800))
		})
	})

	Context("when the connection uses TLS", func() {
		BeforeEach(func() {
			conn = NewTCPConnection(100, math.Inf(1), 0, true)
		})

		It("should pay an extra round trip for the TLS handshake", func() {
			result := conn.SimulateDownloadUntil(7300, 0, math.Inf(1))

			Expect(result.TimeElapsed).To(BeNumerically("~", 300, 1e-9))
			Expect(result.RoundTrips).To(Equal(3))
		})
	})

	Context("when the connection is warmed", func() {
		BeforeEach(func() {
			conn = NewTCPConnection(100, math.Inf(1), 0, false)
			conn.SetWarmed(true)
		})

		It("should only pay request and response latency", func() {
			result := conn.SimulateDownloadUntil(7300, 0, math.Inf(1))

			Expect(result.TimeElapsed).To(BeNumerically("~", 100, 1e-9))
			Expect(result.RoundTrips).To(Equal(1))
		})

		It("should continue a download without repaying the time to first byte", func() {
			result := conn.SimulateDownloadUntil(14600, 100, math.Inf(1))

			Expect(result.TimeElapsed).To(BeNumerically("~", 100, 1e-9))
			Expect(result.RoundTrips).To(Equal(1))
			Expect(result.BytesDownloaded).To(Equal(14600))
		})
	})

	Context("when bandwidth is constrained", func() {
		BeforeEach(func() {
			conn = NewTCPConnection(150, 1638400, 0, false)
		})

		It("should cap the congestion window at the bandwidth-delay product", func() {
			conn.SetCongestionWindow(100)

			result := conn.SimulateDownloadUntil(1000000, 0, math.Inf(1))

			Expect(result.CongestionWindow).To(BeNumerically("~", 21, 1e-9))
		})
	})

	Context("when the server latency is set", func() {
		BeforeEach(func() {
			conn = NewTCPConnection(150, math.Inf(1), 500, false)
		})

		It("should include the server latency in the time to first byte", func() {
			result := conn.SimulateDownloadUntil(1000, 0, math.Inf(1))

			Expect(result.TimeElapsed).To(BeNumerically("~", 800, 1e-9))
		})
	})

	It("should floor the congestion window at one segment", func() {
		conn = NewTCPConnection(100, math.Inf(1), 0, false)
		conn.SetCongestionWindow(0)

		Expect(conn.CongestionWindow()).To(BeNumerically("~", 1, 1e-9))
	})
})

var _ = Describe("MaximumSaturatedConnections", func() {
	It("should report how many congested connections the link sustains", func() {
		Expect(MaximumSaturatedConnections(150, 1638400)).To(Equal(21))
	})

	It("should report zero on a link slower than one window per round trip", func() {
		Expect(MaximumSaturatedConnections(100, 10000)).To(Equal(0))
	})
})
