// Package trace writes Chrome trace event files, viewable in
// chrome://tracing or https://ui.perfetto.dev.
package trace

import (
	"encoding/json"
	"io"
	"os"
	"sync"
	"time"

	"github.com/distr1/whey"
	"github.com/sirupsen/logrus"
)

// https://docs.google.com/document/d/1CvAClvFfyA5R-PhYUmn5OOQtYMH4h6I0nSsKchNAySU/edit

var start = time.Now()

var (
	sinkMu sync.Mutex
	sink   io.Writer = io.Discard
	closer io.Closer
)

// Sink writes all following events into w, in the JSON Array Format.
func Sink(w io.Writer) {
	sinkMu.Lock()
	defer sinkMu.Unlock()
	sink = w
	w.Write([]byte{'['})
	// The closing ] is optional, so it is only written by Close.
}

// Create truncates path and sinks all following events into it.
func Create(path string) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	Sink(f)
	sinkMu.Lock()
	closer = f
	sinkMu.Unlock()
	return nil
}

// Close terminates the event array and closes the file opened by Create.
func Close() error {
	sinkMu.Lock()
	defer sinkMu.Unlock()
	if closer == nil {
		return nil
	}
	// An empty object absorbs the trailing comma of the last event.
	sink.Write([]byte("{}]\n"))
	err := closer.Close()
	sink, closer = io.Discard, nil
	return err
}

type PendingEvent struct {
	Name           string            `json:"name"` // name of the event, as displayed in Trace Viewer
	Categories     string            `json:"cat"`  // event categories (comma-separated)
	Type           string            `json:"ph"`   // event type (single character)
	ClockTimestamp uint64            `json:"ts"`   // tracing clock timestamp (microsecond granularity)
	Duration       uint64            `json:"dur"`
	Pid            uint64            `json:"pid"`
	Tid            uint64            `json:"tid"`
	Args           map[string]string `json:"args,omitempty"`

	start time.Time
}

// Done completes the event and writes it to the sink.
func (pe *PendingEvent) Done() {
	pe.Duration = uint64(time.Since(pe.start) / time.Microsecond)
	b, err := json.Marshal(pe)
	if err != nil {
		panic(err)
	}
	sinkMu.Lock()
	defer sinkMu.Unlock()
	if _, err := sink.Write(append(b, ',')); err != nil {
		logrus.Warnf("[trace] %v", err)
	}
}

// Event starts a complete ("X") event for stage of item.
func Event(stage whey.Stage, item whey.WorkItem) *PendingEvent {
	return &PendingEvent{
		Name:           string(stage) + " " + item.Name,
		Categories:     string(stage),
		Type:           "X",
		ClockTimestamp: uint64(time.Since(start) / time.Microsecond),
		Args: map[string]string{
			"version": item.Version,
			"variant": string(item.Variant),
		},
		start: time.Now(),
	}
}
