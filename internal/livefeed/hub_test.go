package livefeed

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/chaz8081/gostt-capture/internal/audio"
)

var mono16k = audio.Format{SampleRate: 16000, Channels: 1, BitDepth: 16}

func dial(t *testing.T, srv *httptest.Server, query string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + query
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("Dial(%s): %v", url, err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func waitClients(t *testing.T, h *Hub, n int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for h.Clients() != n {
		if time.Now().After(deadline) {
			t.Fatalf("hub has %d clients, want %d", h.Clients(), n)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func readFormat(t *testing.T, conn *websocket.Conn) formatMessage {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	mt, data, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("ReadMessage: %v", err)
	}
	if mt != websocket.TextMessage {
		t.Fatalf("message type = %d, want text", mt)
	}
	var msg formatMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		t.Fatalf("decode format message %q: %v", data, err)
	}
	return msg
}

func readBinary(t *testing.T, conn *websocket.Conn) []byte {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	mt, data, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("ReadMessage: %v", err)
	}
	if mt != websocket.BinaryMessage {
		t.Fatalf("message type = %d, want binary", mt)
	}
	return data
}

func TestHubDeliversSubscribedStream(t *testing.T) {
	h := NewHub(0)
	defer h.Close()
	srv := httptest.NewServer(h)
	defer srv.Close()

	conn := dial(t, srv, "?stream=mic")
	waitClients(t, h, 1)

	mixed := []byte{9, 9}
	mic := []byte{1, 2, 3, 4}
	h.Publish(KindMixed, mixed, mono16k)
	h.Publish(KindMicrophone, mic, mono16k)

	msg := readFormat(t, conn)
	if msg.Type != "format" || msg.Stream != KindMicrophone || msg.Format != mono16k {
		t.Errorf("format message = %+v", msg)
	}
	if got := readBinary(t, conn); !bytes.Equal(got, mic) {
		t.Errorf("chunk = %v, want %v", got, mic)
	}
}

func TestHubResendsFormatOnChange(t *testing.T) {
	h := NewHub(0)
	defer h.Close()
	srv := httptest.NewServer(h)
	defer srv.Close()

	conn := dial(t, srv, "")
	waitClients(t, h, 1)

	sink := h.Sink(KindMixed)
	sink([]byte{1, 0}, mono16k)
	sink([]byte{2, 0}, mono16k)
	mono8k := audio.Format{SampleRate: 8000, Channels: 1, BitDepth: 16}
	sink([]byte{3, 0}, mono8k)

	if msg := readFormat(t, conn); msg.Format != mono16k || msg.Stream != KindMixed {
		t.Errorf("first format = %+v", msg)
	}
	readBinary(t, conn)
	readBinary(t, conn)
	if msg := readFormat(t, conn); msg.Format != mono8k {
		t.Errorf("second format = %+v, want %v", msg.Format, mono8k)
	}
	if got := readBinary(t, conn); !bytes.Equal(got, []byte{3, 0}) {
		t.Errorf("chunk = %v", got)
	}
}

func TestHubRejectsUnknownStream(t *testing.T) {
	h := NewHub(0)
	defer h.Close()
	srv := httptest.NewServer(h)
	defer srv.Close()

	resp, err := http.Get(srv.URL + "?stream=bogus")
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", resp.StatusCode)
	}
}

func TestHubDropsForSlowClient(t *testing.T) {
	h := NewHub(1)

	// A client nobody drains: its buffer holds one frame.
	c := &client{kind: KindMixed, send: make(chan frame, 1), done: make(chan struct{})}
	h.add(c)

	for i := 0; i < 5; i++ {
		h.Publish(KindMixed, []byte{byte(i)}, mono16k)
	}
	if got := h.Dropped(); got != 4 {
		t.Errorf("Dropped = %d, want 4", got)
	}
}

func TestHubCloseDisconnectsClients(t *testing.T) {
	h := NewHub(0)
	srv := httptest.NewServer(h)
	defer srv.Close()

	conn := dial(t, srv, "?stream=system")
	waitClients(t, h, 1)

	h.Close()
	if h.Clients() != 0 {
		t.Errorf("Clients = %d after Close", h.Clients())
	}
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	if _, _, err := conn.ReadMessage(); err == nil {
		t.Error("read succeeded on a closed feed")
	}
}

func TestParseKind(t *testing.T) {
	tests := []struct {
		in      string
		want    Kind
		wantErr bool
	}{
		{"", KindMixed, false},
		{"mixed", KindMixed, false},
		{"mic", KindMicrophone, false},
		{"system", KindSystem, false},
		{"speaker", "", true},
	}
	for _, tt := range tests {
		got, err := ParseKind(tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("ParseKind(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
		}
		if got != tt.want {
			t.Errorf("ParseKind(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
