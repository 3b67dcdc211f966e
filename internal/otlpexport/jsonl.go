package otlpexport

import (
	"bufio"
	"fmt"
	"io"

	tracepb "go.opentelemetry.io/proto/otlp/trace/v1"
	"google.golang.org/protobuf/encoding/protojson"
)

// maxLineSize bounds one TracesData line when reading.
const maxLineSize = 16 * 1024 * 1024

// WriteJSONL writes each ResourceSpans as one TracesData line, the format of
// the OpenTelemetry collector file exporter.
func WriteJSONL(w io.Writer, spans ...*tracepb.ResourceSpans) error {
	for _, rs := range spans {
		data, err := protojson.Marshal(&tracepb.TracesData{ResourceSpans: []*tracepb.ResourceSpans{rs}})
		if err != nil {
			return fmt.Errorf("marshal traces: %w", err)
		}
		data = append(data, '\n')
		if _, err := w.Write(data); err != nil {
			return fmt.Errorf("write traces: %w", err)
		}
	}
	return nil
}

// ReadJSONL reads TracesData lines and returns every ResourceSpans found.
func ReadJSONL(r io.Reader) ([]*tracepb.ResourceSpans, error) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), maxLineSize)

	var all []*tracepb.ResourceSpans
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var data tracepb.TracesData
		if err := protojson.Unmarshal(line, &data); err != nil {
			return nil, fmt.Errorf("line %d: parse trace JSON: %w", lineNo, err)
		}
		all = append(all, data.ResourceSpans...)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read traces: %w", err)
	}
	return all, nil
}
