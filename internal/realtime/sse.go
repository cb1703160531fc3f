package realtime

import (
	"encoding/json"
	"fmt"
	"io"
)

// WriteSSE writes a single server-sent event frame.
func WriteSSE(w io.Writer, event string, data any) error {
	jsonData, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("realtime: marshal %s event: %w", event, err)
	}
	_, err = fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event, jsonData)
	return err
}
