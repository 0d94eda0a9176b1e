// Package connmodel provides a performance model for the TCP connections
// that a simulated page load downloads its resources over.
package connmodel

import (
	"math"
)

// TCPSegmentSize is the standard TCP maximum segment size in bytes.
const TCPSegmentSize = 1460

// InitialCongestionWindow is the starting congestion window in segments,
// matching modern OS TCP defaults.
const InitialCongestionWindow = 10

// A TCPConnection models the throughput and latency behavior of one TCP
// connection, including handshake overhead and congestion window growth.
// Times are in milliseconds, sizes in bytes, and throughput in bits per
// second. A throughput of +Inf means unconstrained bandwidth; the congestion
// window cap derived from it is then unbounded as well.
type TCPConnection struct {
	rtt              float64
	throughput       float64
	serverLatency    float64
	ssl              bool
	warmed           bool
	congestionWindow float64
}

// NewTCPConnection creates a cold connection with the given round-trip time
// (ms), throughput (bits/s), server response latency (ms), and TLS flag.
func NewTCPConnection(
	rttMs float64,
	throughputBps float64,
	serverLatencyMs float64,
	ssl bool,
) *TCPConnection {
	return &TCPConnection{
		rtt:              rttMs,
		throughput:       throughputBps,
		serverLatency:    serverLatencyMs,
		ssl:              ssl,
		congestionWindow: InitialCongestionWindow,
	}
}

// MaximumSaturatedConnections returns how many concurrent maximally congested
// TCP connections the available throughput can sustain.
func MaximumSaturatedConnections(rttMs, availableThroughputBps float64) int {
	roundTripsPerSecond := 1000 / rttMs
	bitsPerRoundTrip := float64(TCPSegmentSize * 8)

	return int(math.Floor(availableThroughputBps / (roundTripsPerSecond * bitsPerRoundTrip)))
}

// Warmed reports whether the handshake cost has already been paid.
func (c *TCPConnection) Warmed() bool {
	return c.warmed
}

// CongestionWindow returns the current congestion window in segments.
func (c *TCPConnection) CongestionWindow() float64 {
	return c.congestionWindow
}

// SetThroughput updates the throughput (bits/s) available to the connection.
// The simulator calls this whenever the set of in-flight requests changes.
func (c *TCPConnection) SetThroughput(throughputBps float64) {
	c.throughput = throughputBps
}

// SetServerLatency updates the server response latency (ms) for the next
// request served over the connection.
func (c *TCPConnection) SetServerLatency(serverLatencyMs float64) {
	c.serverLatency = serverLatencyMs
}

// SetCongestionWindow carries the congestion window from a completed download
// into the next request on the same connection.
func (c *TCPConnection) SetCongestionWindow(window float64) {
	c.congestionWindow = math.Max(window, 1)
}

// SetWarmed marks whether the connection handshake has been paid.
func (c *TCPConnection) SetWarmed(warmed bool) {
	c.warmed = warmed
}

// maximumCongestionWindow derives the window cap in segments from the
// bandwidth-delay product. An unconstrained throughput yields +Inf, which
// removes the cap.
func (c *TCPConnection) maximumCongestionWindow() float64 {
	bytesPerSecond := c.throughput / 8
	secondsPerRoundTrip := c.rtt / 1000
	bytesPerRoundTrip := bytesPerSecond * secondsPerRoundTrip

	return math.Floor(bytesPerRoundTrip / TCPSegmentSize)
}

// A DownloadResult reports the outcome of one simulated download.
type DownloadResult struct {
	TimeElapsed      float64
	RoundTrips       int
	BytesDownloaded  int
	CongestionWindow float64
}

// SimulateDownloadUntil computes how long downloading bytesToDownload takes
// on the connection, starting timeAlreadyElapsedMs into the request and
// stopping early once maximumTimeToElapseMs of additional time has passed
// (pass math.Inf(1) for no limit).
//
// A cold handshake costs three one-way trips (SYN, SYN-ACK, ACK plus the
// request), plus one full round trip for TLS under the False Start
// assumption; a warmed connection pays a single one-way trip. Time to first
// byte adds the server latency and the one-way trip of the response headers.
// The download then follows TCP slow start, doubling the congestion window
// each round trip up to the bandwidth-delay-product cap.
//
// The method mutates nothing; callers persist window and warm state through
// the setters when a download completes.
func (c *TCPConnection) SimulateDownloadUntil(
	bytesToDownload int,
	timeAlreadyElapsedMs float64,
	maximumTimeToElapseMs float64,
) DownloadResult {
	twoWayLatency := c.rtt
	oneWayLatency := twoWayLatency / 2
	maximumWindow := c.maximumCongestionWindow()

	handshakeAndRequest := oneWayLatency
	if !c.warmed {
		handshakeAndRequest = 3 * oneWayLatency
		if c.ssl {
			handshakeAndRequest += twoWayLatency
		}
	}

	timeToFirstByte := handshakeAndRequest + c.serverLatency + oneWayLatency
	timeElapsedForTTFB := math.Max(timeToFirstByte-timeAlreadyElapsedMs, 0)
	maximumDownloadTime := maximumTimeToElapseMs - timeElapsedForTTFB

	roundTrips := int(math.Ceil(timeElapsedForTTFB / twoWayLatency))
	window := math.Min(c.congestionWindow, maximumWindow)

	bytesDownloaded := 0.0
	if timeElapsedForTTFB > 0 {
		// The first window of data arrives together with the first byte.
		bytesDownloaded = window * TCPSegmentSize
	}

	downloadTimeElapsed := 0.0
	for bytesDownloaded < float64(bytesToDownload) &&
		downloadTimeElapsed < maximumDownloadTime {
		roundTrips++
		downloadTimeElapsed += twoWayLatency
		window = math.Max(math.Min(maximumWindow, window*2), 1)
		bytesDownloaded += window * TCPSegmentSize
	}

	clamped := math.Max(math.Min(bytesDownloaded, float64(bytesToDownload)), 0)

	return DownloadResult{
		TimeElapsed:      timeElapsedForTTFB + downloadTimeElapsed,
		RoundTrips:       roundTrips,
		BytesDownloaded:  int(clamped),
		CongestionWindow: window,
	}
}
