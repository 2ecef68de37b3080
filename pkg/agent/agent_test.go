package agent

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

func TestDecode(t *testing.T) {
	tests := []struct {
		name    string
		msgType int
		data    string
		want    Event
	}{
		{"welcome", websocket.TextMessage, `{"type":"Welcome","request_id":"r1"}`, Welcome{RequestID: "r1"}},
		{"settings applied", websocket.TextMessage, `{"type":"SettingsApplied"}`, SettingsApplied{}},
		{"user started speaking", websocket.TextMessage, `{"type":"UserStartedSpeaking"}`, UserStartedSpeaking{}},
		{"thinking", websocket.TextMessage, `{"type":"AgentThinking","content":"hmm"}`, AgentThinking{Content: "hmm"}},
		{"started speaking", websocket.TextMessage, `{"type":"AgentStartedSpeaking","total_latency":1.5}`, AgentStartedSpeaking{TotalLatency: 1.5}},
		{"audio done", websocket.TextMessage, `{"type":"AgentAudioDone"}`, AgentAudioDone{}},
		{"conversation text", websocket.TextMessage, `{"type":"ConversationText","role":"user","content":"hello"}`, ConversationText{Role: "user", Content: "hello"}},
		{"warning", websocket.TextMessage, `{"type":"Warning","description":"slow","code":"W1"}`, Warning{Description: "slow", Code: "W1"}},
		{"error", websocket.TextMessage, `{"type":"Error","description":"bad","code":"E1"}`, ErrorEvent{Description: "bad", Code: "E1"}},
		{"audio", websocket.BinaryMessage, "\x7f\xff\x00", Audio{Data: []byte("\x7f\xff\x00")}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Decode(tt.msgType, []byte(tt.data))
			if err != nil {
				t.Fatalf("Decode: %v", err)
			}
			if got.EventType() != tt.want.EventType() {
				t.Errorf("type = %s, want %s", got.EventType(), tt.want.EventType())
			}
			gotJSON, _ := json.Marshal(got)
			wantJSON, _ := json.Marshal(tt.want)
			if string(gotJSON) != string(wantJSON) {
				t.Errorf("Decode = %s, want %s", gotJSON, wantJSON)
			}
		})
	}
}

func TestDecodeUnknownAndMalformed(t *testing.T) {
	ev, err := Decode(websocket.TextMessage, []byte(`{"type":"FunctionCallRequest","x":1}`))
	if err != nil {
		t.Fatalf("unknown types must not fail: %v", err)
	}
	u, ok := ev.(Unknown)
	if !ok || u.Type != "FunctionCallRequest" || !strings.Contains(string(u.Raw), `"x":1`) {
		t.Errorf("ev = %#v", ev)
	}

	for _, bad := range []string{`not json`, `{"content":"no type"}`, `{"type":"ConversationText","role":5}`} {
		if _, err := Decode(websocket.TextMessage, []byte(bad)); !errors.Is(err, ErrMalformedEvent) {
			t.Errorf("Decode(%q) err = %v, want ErrMalformedEvent", bad, err)
		}
	}
}

func TestProfileSettings(t *testing.T) {
	s := DefaultProfile().Settings("https://calls.example.com/v1/chat/completions", "sec", "aura-2-orion-en")

	data, err := json.Marshal(s)
	if err != nil {
		t.Fatal(err)
	}
	var m map[string]any
	json.Unmarshal(data, &m)

	if m["type"] != "Settings" {
		t.Errorf("type = %v", m["type"])
	}
	audio := m["audio"].(map[string]any)
	in := audio["input"].(map[string]any)
	out := audio["output"].(map[string]any)
	if in["encoding"] != "mulaw" || in["sample_rate"] != float64(8000) {
		t.Errorf("input = %v", in)
	}
	if _, ok := in["container"]; ok {
		t.Error("input should not carry a container")
	}
	if out["container"] != "none" {
		t.Errorf("output = %v", out)
	}

	think := m["agent"].(map[string]any)["think"].(map[string]any)
	endpoint := think["endpoint"].(map[string]any)
	if endpoint["url"] != "https://calls.example.com/v1/chat/completions" {
		t.Errorf("endpoint = %v", endpoint)
	}
	if endpoint["headers"].(map[string]any)["authorization"] != "Bearer sec" {
		t.Errorf("endpoint headers = %v", endpoint["headers"])
	}
	if s.Agent.Speak.Provider.Model != "aura-2-orion-en" {
		t.Errorf("speak model = %q", s.Agent.Speak.Provider.Model)
	}
	if s.Agent.Listen.Provider.Model != "flux-general-en" {
		t.Errorf("listen model = %q", s.Agent.Listen.Provider.Model)
	}
}

// fakeAgent is a websocket server standing in for the agent service.
type fakeAgent struct {
	server   *httptest.Server
	auth     chan string
	settings chan []byte
	audio    chan []byte
	script   func(ws *websocket.Conn)
}

func newFakeAgent(t *testing.T, script func(ws *websocket.Conn)) *fakeAgent {
	t.Helper()
	fa := &fakeAgent{
		auth:     make(chan string, 1),
		settings: make(chan []byte, 1),
		audio:    make(chan []byte, 16),
		script:   script,
	}
	upgrader := websocket.Upgrader{}
	fa.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fa.auth <- r.Header.Get("Authorization")
		ws, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer ws.Close()

		_, first, err := ws.ReadMessage()
		if err != nil {
			return
		}
		fa.settings <- first

		go func() {
			for {
				mt, data, err := ws.ReadMessage()
				if err != nil {
					return
				}
				if mt == websocket.BinaryMessage {
					fa.audio <- data
				}
			}
		}()

		if fa.script != nil {
			fa.script(ws)
		}
		time.Sleep(time.Second)
	}))
	t.Cleanup(fa.server.Close)
	return fa
}

func (fa *fakeAgent) url() string {
	return "ws" + strings.TrimPrefix(fa.server.URL, "http")
}

func TestDialSendsSettingsAndExchanges(t *testing.T) {
	fa := newFakeAgent(t, func(ws *websocket.Conn) {
		ws.WriteMessage(websocket.TextMessage, []byte(`{"type":"Welcome","request_id":"abc"}`))
		ws.WriteMessage(websocket.TextMessage, []byte(`garbage`))
		ws.WriteMessage(websocket.BinaryMessage, []byte{1, 2, 3})
		ws.WriteMessage(websocket.TextMessage, []byte(`{"type":"UserStartedSpeaking"}`))
	})

	cfg := DefaultConfig()
	cfg.URL = fa.url()
	cfg.APIKey = "dg-key"

	settings := DefaultProfile().Settings("https://x/v1/chat/completions", "", "aura-2-thalia-en")
	c, err := Dial(context.Background(), cfg, settings)
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer c.Close()

	if got := <-fa.auth; got != "Token dg-key" {
		t.Errorf("Authorization = %q", got)
	}

	var sent Settings
	if err := json.Unmarshal(<-fa.settings, &sent); err != nil {
		t.Fatal(err)
	}
	if sent.Type != "Settings" || sent.Agent.Speak.Provider.Model != "aura-2-thalia-en" {
		t.Errorf("settings = %+v", sent)
	}

	ev, err := c.ReadEvent()
	if err != nil {
		t.Fatal(err)
	}
	if w, ok := ev.(Welcome); !ok || w.RequestID != "abc" {
		t.Errorf("first event = %#v", ev)
	}

	if _, err := c.ReadEvent(); !errors.Is(err, ErrMalformedEvent) {
		t.Errorf("garbage err = %v, want ErrMalformedEvent", err)
	}

	ev, err = c.ReadEvent()
	if err != nil {
		t.Fatalf("connection should survive a malformed event: %v", err)
	}
	if a, ok := ev.(Audio); !ok || len(a.Data) != 3 {
		t.Errorf("audio event = %#v", ev)
	}

	ev, err = c.ReadEvent()
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := ev.(UserStartedSpeaking); !ok {
		t.Errorf("event = %#v", ev)
	}

	if err := c.SendAudio([]byte("chunk")); err != nil {
		t.Fatalf("SendAudio: %v", err)
	}
	select {
	case got := <-fa.audio:
		if string(got) != "chunk" {
			t.Errorf("agent received %q", got)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("agent never received audio")
	}

	st := c.Stats()
	if st.AudioFramesSent != 1 || st.AudioBytesSent != 5 || st.AudioReceived != 1 || st.EventsReceived != 4 {
		t.Errorf("Stats = %+v", st)
	}
}

func TestDialRejected(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "bad key", http.StatusUnauthorized)
	}))
	defer srv.Close()

	cfg := DefaultConfig()
	cfg.URL = "ws" + strings.TrimPrefix(srv.URL, "http")
	cfg.APIKey = "wrong"

	_, err := Dial(context.Background(), cfg, Settings{})
	var ce *ConnectionError
	if !errors.As(err, &ce) || ce.StatusCode != http.StatusUnauthorized {
		t.Fatalf("err = %v, want ConnectionError with 401", err)
	}
	if !IsAuthError(err) {
		t.Error("IsAuthError should be true")
	}
}

func TestDialRequiresKey(t *testing.T) {
	if _, err := Dial(context.Background(), DefaultConfig(), Settings{}); !errors.Is(err, ErrMissingAPIKey) {
		t.Errorf("err = %v, want ErrMissingAPIKey", err)
	}
}

func TestCloseUnblocksRead(t *testing.T) {
	fa := newFakeAgent(t, func(ws *websocket.Conn) {
		time.Sleep(time.Second)
	})
	cfg := DefaultConfig()
	cfg.URL = fa.url()
	cfg.APIKey = "k"

	c, err := Dial(context.Background(), cfg, Settings{Type: "Settings"})
	if err != nil {
		t.Fatal(err)
	}

	errc := make(chan error, 1)
	go func() {
		_, err := c.ReadEvent()
		errc <- err
	}()

	time.Sleep(50 * time.Millisecond)
	if err := c.Close(); err != nil {
		t.Errorf("Close: %v", err)
	}
	c.Close()

	select {
	case err := <-errc:
		if !errors.Is(err, ErrClosed) {
			t.Errorf("ReadEvent after Close = %v, want ErrClosed", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("ReadEvent did not return after Close")
	}

	if err := c.SendAudio([]byte{0}); !errors.Is(err, ErrClosed) {
		t.Errorf("SendAudio after Close = %v", err)
	}
}
