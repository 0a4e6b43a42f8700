/*************************************************************************
 * Copyright 2025 Monlight Systems. All rights reserved.
 * Contact: <legal@monlight.io>
 *
 * This software may be modified and distributed under the terms of the
 * BSD 2-clause license. See the LICENSE file for details.
 **************************************************************************/

package httpd

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/goccy/go-json"
)

var (
	ErrStreamingUnsupported = errors.New("response writer does not support streaming")
)

// SSEEvent is one server-sent event frame. Data is marshaled to JSON when it
// is not already a byte slice.
type SSEEvent struct {
	Event string
	ID    string
	Data  interface{}
}

// SetSSEHeaders stamps the response for an event stream, including the
// nginx buffering override.
func SetSSEHeaders(w http.ResponseWriter) {
	w.Header().Set(`Content-Type`, `text/event-stream`)
	w.Header().Set(`Cache-Control`, `no-cache`)
	w.Header().Set(`Connection`, `keep-alive`)
	w.Header().Set(`X-Accel-Buffering`, `no`)
}

// Flusher asserts the streaming capability of the response writer.
func Flusher(w http.ResponseWriter) (http.Flusher, error) {
	if f, ok := w.(http.Flusher); ok {
		return f, nil
	}
	return nil, ErrStreamingUnsupported
}

// WriteSSEEvent writes one frame and flushes it out. A write failure means
// the client went away and the stream should be torn down.
func WriteSSEEvent(w http.ResponseWriter, f http.Flusher, ev SSEEvent) error {
	if ev.Event == `` {
		ev.Event = `message`
	}
	var data []byte
	switch v := ev.Data.(type) {
	case nil:
	case []byte:
		data = v
	case string:
		data = []byte(v)
	default:
		var err error
		if data, err = json.Marshal(v); err != nil {
			return err
		}
	}
	if ev.ID != `` {
		if _, err := fmt.Fprintf(w, "id: %s\n", ev.ID); err != nil {
			return err
		}
	}
	if _, err := fmt.Fprintf(w, "event: %s\n", ev.Event); err != nil {
		return err
	}
	if _, err := fmt.Fprintf(w, "data: %s\n\n", data); err != nil {
		return err
	}
	if f != nil {
		f.Flush()
	}
	return nil
}
