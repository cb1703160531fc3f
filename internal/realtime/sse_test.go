package realtime

import (
	"bytes"
	"testing"
)

func TestWriteSSE(t *testing.T) {
	var buf bytes.Buffer
	if err := WriteSSE(&buf, "unread", map[string]int{"count": 3}); err != nil {
		t.Fatal(err)
	}
	want := "event: unread\ndata: {\"count\":3}\n\n"
	if buf.String() != want {
		t.Errorf("frame = %q, want %q", buf.String(), want)
	}
}

func TestWriteSSE_MarshalError(t *testing.T) {
	var buf bytes.Buffer
	if err := WriteSSE(&buf, "bad", make(chan int)); err == nil {
		t.Fatal("expected marshal error")
	}
	if buf.Len() != 0 {
		t.Errorf("partial frame written: %q", buf.String())
	}
}
