package realtime

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

func TestConn_SendDeliversFrames(t *testing.T) {
	upgrader := websocket.Upgrader{}
	srvConn := make(chan *Conn, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ws, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		c := NewConn("u1", ws)
		srvConn <- c
		c.ReadLoop()
	}))
	defer srv.Close()

	client, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer client.Close()

	conn := <-srvConn
	if conn.UserID != "u1" || conn.ID == "" {
		t.Errorf("conn = %+v", conn)
	}
	if err := conn.Send("unread", map[string]int{"count": 2}); err != nil {
		t.Fatalf("Send: %v", err)
	}

	_ = client.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := client.ReadMessage()
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	var frame struct {
		Event string         `json:"event"`
		Data  map[string]int `json:"data"`
	}
	if err := json.Unmarshal(data, &frame); err != nil {
		t.Fatal(err)
	}
	if frame.Event != "unread" || frame.Data["count"] != 2 {
		t.Errorf("frame = %+v", frame)
	}

	conn.Close(websocket.CloseNormalClosure, "bye")
	select {
	case <-conn.Done():
	case <-time.After(time.Second):
		t.Fatal("Done not closed")
	}
	if err := conn.Send("unread", nil); err != ErrConnClosed {
		t.Errorf("Send after close = %v, want ErrConnClosed", err)
	}
}
