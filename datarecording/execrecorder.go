package datarecording

import (
	"os"
	"strings"
	"time"
)

// ExecTable is the table that describes the program run that produced a
// recording.
const ExecTable = "exec_info"

// ExecInfo is one property of a program run.
type ExecInfo struct {
	Property string
	Value    string
}

// ExecRecorder records when and how the program ran.
type ExecRecorder struct {
	recorder DataRecorder
	entries  []ExecInfo
}

// NewExecRecorder creates the exec_info table in the recorder.
func NewExecRecorder(recorder DataRecorder) *ExecRecorder {
	recorder.CreateTable(ExecTable, ExecInfo{})

	return &ExecRecorder{recorder: recorder}
}

// Start logs the start of the run.
func (e *ExecRecorder) Start() {
	e.Add("Start Time", time.Now().Format(time.RFC3339Nano))
	e.Add("Command", strings.Join(os.Args, " "))

	if cwd, err := os.Getwd(); err == nil {
		e.Add("Working Directory", cwd)
	}
}

// Add records a property of the run.
func (e *ExecRecorder) Add(property, value string) {
	e.entries = append(e.entries, ExecInfo{property, value})
}

// End writes the properties along with the end time.
func (e *ExecRecorder) End() {
	e.Add("End Time", time.Now().Format(time.RFC3339Nano))

	for _, entry := range e.entries {
		e.recorder.InsertData(ExecTable, entry)
	}

	e.entries = nil

	e.recorder.Flush()
}
