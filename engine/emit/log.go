package emit

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/flowcraft/flowengine/engine"
)

// LogSink writes each event to an io.Writer as structured log output, in
// text or JSONL form.
//
// Example text output:
//
//	[node_start] executionId=exec-001 index=3 payload={"nodeId":"a"}
//
// Example JSON output:
//
//	{"executionId":"exec-001","index":3,"kind":"node_start","payload":{"nodeId":"a"}}
type LogSink struct {
	writer   io.Writer
	jsonMode bool
}

// NewLogSink returns a Sink writing to writer (os.Stdout if nil) in text or
// JSON-lines mode.
func NewLogSink(writer io.Writer, jsonMode bool) *LogSink {
	if writer == nil {
		writer = os.Stdout
	}
	return &LogSink{writer: writer, jsonMode: jsonMode}
}

// Observe writes one event.
func (l *LogSink) Observe(e *engine.EventRecord) {
	if l.jsonMode {
		l.observeJSON(e)
		return
	}
	l.observeText(e)
}

func (l *LogSink) observeJSON(e *engine.EventRecord) {
	data, err := json.Marshal(struct {
		ExecutionID string                 `json:"executionId"`
		Index       int64                  `json:"index"`
		Kind        string                 `json:"kind"`
		Payload     map[string]interface{} `json:"payload"`
	}{e.ExecutionID, e.Index, string(e.Kind), e.Payload})
	if err != nil {
		_, _ = fmt.Fprintf(l.writer, "{\"error\":\"failed to marshal event: %v\"}\n", err)
		return
	}
	_, _ = fmt.Fprintf(l.writer, "%s\n", data)
}

func (l *LogSink) observeText(e *engine.EventRecord) {
	_, _ = fmt.Fprintf(l.writer, "[%s] executionId=%s index=%d", e.Kind, e.ExecutionID, e.Index)
	if len(e.Payload) > 0 {
		if payloadJSON, err := json.Marshal(e.Payload); err == nil {
			_, _ = fmt.Fprintf(l.writer, " payload=%s", payloadJSON)
		}
	}
	_, _ = fmt.Fprint(l.writer, "\n")
}

var _ Sink = (*LogSink)(nil)
