package transport

import (
	"bufio"
	"encoding/json"
	"io"
	"iter"
	"strings"
)

// rawFrame is one decoded "event:"/"data:" SSE frame before its data buffer
// is parsed as JSON.
type rawFrame struct {
	event string
	data  string
}

// readRawSSE implements the standard event-stream line grammar: "event:"
// sets the current event name, "data:" lines append (newline-joined) to a
// buffer, a blank line ends and flushes one frame, and lines starting with
// ":" are comments and ignored. The trailing unterminated frame, if any, is
// flushed at end of stream.
func readRawSSE(r io.Reader) iter.Seq2[rawFrame, error] {
	return func(yield func(rawFrame, error) bool) {
		scanner := bufio.NewScanner(r)
		scanner.Buffer(make([]byte, 0, 64*1024), 8*1024*1024)

		var event string
		var data []string

		flush := func() bool {
			if len(data) == 0 && event == "" {
				return true
			}
			frame := rawFrame{event: event, data: strings.Join(data, "\n")}
			event = ""
			data = nil
			return yield(frame, nil)
		}

		for scanner.Scan() {
			line := scanner.Text()
			switch {
			case line == "":
				if !flush() {
					return
				}
			case strings.HasPrefix(line, ":"):
				// comment, ignored
			case strings.HasPrefix(line, "event:"):
				event = strings.TrimSpace(strings.TrimPrefix(line, "event:"))
			case strings.HasPrefix(line, "data:"):
				data = append(data, strings.TrimPrefix(strings.TrimPrefix(line, "data:"), " "))
			default:
				// unrecognized field, ignored per the event-stream grammar
			}
		}
		if err := scanner.Err(); err != nil {
			yield(rawFrame{}, err)
			return
		}
		flush()
	}
}

// decodedFrame is one SSE frame after JSON-decoding its data buffer, falling
// back to the raw string when it isn't valid JSON (some servers emit
// non-JSON frames like "[DONE]").
type decodedFrame struct {
	event string
	data  any
}

func decodeSSE(frames iter.Seq2[rawFrame, error]) iter.Seq2[decodedFrame, error] {
	return func(yield func(decodedFrame, error) bool) {
		for frame, err := range frames {
			if err != nil {
				yield(decodedFrame{}, err)
				return
			}
			var parsed any
			if jerr := json.Unmarshal([]byte(frame.data), &parsed); jerr != nil {
				parsed = frame.data
			}
			if !yield(decodedFrame{event: frame.event, data: parsed}, nil) {
				return
			}
		}
	}
}

// eventPayloads adapts a decoded-frame sequence to the map[string]any
// payload sequence the stream translator consumes, skipping any frame whose
// data did not decode to a JSON object (e.g. a trailing "[DONE]" marker).
func eventPayloads(frames iter.Seq2[decodedFrame, error]) iter.Seq2[map[string]any, error] {
	return func(yield func(map[string]any, error) bool) {
		for frame, err := range frames {
			if err != nil {
				yield(nil, err)
				return
			}
			m, ok := frame.data.(map[string]any)
			if !ok {
				continue
			}
			if !yield(m, nil) {
				return
			}
		}
	}
}

// findCompletedResponse scans a fully-buffered SSE body for the
// response.completed frame and returns its inner "response" object - the
// completed-frame extraction used when a non-streaming caller's backend
// always answers over SSE.
func findCompletedResponse(r io.Reader) (map[string]any, error) {
	for frame, err := range decodeSSE(readRawSSE(r)) {
		if err != nil {
			return nil, err
		}
		m, ok := frame.data.(map[string]any)
		if !ok {
			continue
		}
		if m["type"] != "response.completed" {
			continue
		}
		if response, ok := m["response"].(map[string]any); ok {
			return response, nil
		}
		return m, nil
	}
	return nil, &Error{Op: "find_completed_response", Err: io.ErrUnexpectedEOF}
}
