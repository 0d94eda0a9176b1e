package loadsim

import (
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

// Trace represents a recorded page load as a dependency graph of nodes.
type Trace []*Node

// Root returns the first trace node that has no dependencies, which for a
// page-load trace is the document request.
func (t Trace) Root() (*Node, error) {
	for _, node := range t {
		if len(node.Dependencies()) == 0 {
			return node, nil
		}
	}

	return nil, &GraphError{Reason: "trace has no dependency-free node"}
}

// A TraceLoader loads a recorded page-load trace from a set of files.
type TraceLoader struct {
	// The directory where the trace files are located.
	Dir string
}

// Load loads a trace from requests.csv, tasks.csv, and deps.csv. Nodes keep
// the file order, so repeated loads of the same trace produce the same
// simulation results.
func (l *TraceLoader) Load() (Trace, error) {
	nodesByID := make(map[string]*Node)

	trace, err := l.readRequests(nodesByID)
	if err != nil {
		return nil, err
	}

	tasks, err := l.readTasks(nodesByID)
	if err != nil {
		return nil, err
	}
	trace = append(trace, tasks...)

	err = l.readDeps(nodesByID)
	if err != nil {
		return nil, err
	}

	return trace, nil
}

func (l *TraceLoader) readRecords(name string) ([][]string, error) {
	path := filepath.Join(l.Dir, name)
	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, err
	}

	f, err := os.Open(absPath)
	if err != nil {
		return nil, err
	}
	defer func() {
		closeErr := f.Close()
		if closeErr != nil {
			panic(closeErr)
		}
	}()

	reader := csv.NewReader(f)
	reader.Comma = ','
	reader.TrimLeadingSpace = true

	return reader.ReadAll()
}

// readRequests reads the network request nodes from a CSV file.
func (l *TraceLoader) readRequests(nodesByID map[string]*Node) (Trace, error) {
	records, err := l.readRecords("requests.csv")
	if err != nil {
		return nil, err
	}

	trace := make(Trace, 0, len(records))

	for i, record := range records {
		if i == 0 {
			continue
		}

		node, err := l.parseRequest(record)
		if err != nil {
			return nil, err
		}

		id := node.Request.RequestID
		if _, ok := nodesByID[id]; ok {
			return nil, fmt.Errorf("duplicated node id %s", id)
		}

		nodesByID[id] = node
		trace = append(trace, node)
	}

	return trace, nil
}

func (l *TraceLoader) parseRequest(record []string) (*Node, error) {
	if len(record) < 6 {
		return nil, fmt.Errorf("requests.csv record needs 6 fields, got %d", len(record))
	}

	transferSize, err := strconv.Atoi(record[4])
	if err != nil {
		return nil, err
	}

	ttfb := -1.0
	if strings.TrimSpace(record[5]) != "" {
		ttfb, err = strconv.ParseFloat(record[5], 64)
		if err != nil {
			return nil, err
		}
	}

	return NewNetworkNode(Request{
		RequestID:    record[0],
		URL:          record[1],
		ConnectionID: record[2],
		Scheme:       record[3],
		TransferSize: transferSize,
		TTFBMs:       ttfb,
	}), nil
}

// readTasks reads the CPU task nodes from a CSV file.
func (l *TraceLoader) readTasks(nodesByID map[string]*Node) (Trace, error) {
	records, err := l.readRecords("tasks.csv")
	if err != nil {
		return nil, err
	}

	trace := make(Trace, 0, len(records))

	for i, record := range records {
		if i == 0 {
			continue
		}

		id, node, err := l.parseTask(record)
		if err != nil {
			return nil, err
		}

		if _, ok := nodesByID[id]; ok {
			return nil, fmt.Errorf("duplicated node id %s", id)
		}

		nodesByID[id] = node
		trace = append(trace, node)
	}

	return trace, nil
}

func (l *TraceLoader) parseTask(record []string) (string, *Node, error) {
	if len(record) < 4 {
		return "", nil, fmt.Errorf("tasks.csv record needs 4 fields, got %d", len(record))
	}

	threadID, err := strconv.Atoi(record[1])
	if err != nil {
		return "", nil, err
	}

	startTS, err := strconv.ParseFloat(record[2], 64)
	if err != nil {
		return "", nil, err
	}

	duration, err := strconv.ParseFloat(record[3], 64)
	if err != nil {
		return "", nil, err
	}

	node := NewCPUNode(Task{
		ThreadID:   threadID,
		StartTS:    startTS,
		DurationMs: duration,
	})

	return record[0], node, nil
}

// readDeps reads the dependency edges from a CSV file and wires the nodes.
func (l *TraceLoader) readDeps(nodesByID map[string]*Node) error {
	records, err := l.readRecords("deps.csv")
	if err != nil {
		return err
	}

	for i, record := range records {
		if i == 0 {
			continue
		}

		if len(record) < 2 {
			return fmt.Errorf("deps.csv record needs 2 fields, got %d", len(record))
		}

		dep, ok := nodesByID[record[0]]
		if !ok {
			return &GraphError{Reason: fmt.Sprintf("node %s not found", record[0])}
		}

		dependent, ok := nodesByID[record[1]]
		if !ok {
			return &GraphError{Reason: fmt.Sprintf("node %s not found", record[1])}
		}

		dependent.AddDependency(dep)
	}

	return nil
}
