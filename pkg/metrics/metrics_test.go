package metrics

import (
	"errors"
	"io"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/teslashibe/go-callbridge/pkg/bridge"
	"github.com/teslashibe/go-callbridge/pkg/callstate"
)

var (
	_ bridge.Observer = (*Metrics)(nil)
)

func TestCallMetrics(t *testing.T) {
	m := New("test")
	info := bridge.CallInfo{ID: "c1"}

	m.CallStarted(info)
	m.CallStarted(info)
	if got := testutil.ToFloat64(m.CallsActive); got != 2 {
		t.Errorf("calls_active = %v", got)
	}

	m.Transition(info, callstate.Step{From: callstate.Listening, To: callstate.Thinking, Signal: callstate.EndOfTurn}, time.Second)
	m.Transition(info, callstate.Step{From: callstate.Thinking, To: callstate.Speaking, Signal: callstate.AgentAudio}, 800*time.Millisecond)
	m.Transition(info, callstate.Step{From: callstate.Speaking, To: callstate.Listening, Signal: callstate.StartOfTurn, BargeIn: true}, time.Second)

	if got := testutil.ToFloat64(m.BargeIns); got != 1 {
		t.Errorf("barge_ins = %v", got)
	}
	if got := testutil.ToFloat64(m.Transitions.WithLabelValues("thinking", "speaking")); got != 1 {
		t.Errorf("thinking->speaking = %v", got)
	}
	if got := testutil.CollectAndCount(m.ResponseDelay); got != 1 {
		t.Errorf("response_delay series = %d", got)
	}

	m.AudioRelayed(bridge.Inbound, 3200)
	m.AudioRelayed(bridge.Inbound, 3200)
	if got := testutil.ToFloat64(m.AudioBytes.WithLabelValues("inbound")); got != 6400 {
		t.Errorf("inbound bytes = %v", got)
	}

	m.CallEnded(info, nil, time.Minute)
	m.CallEnded(info, errors.Join(errors.New("x"), bridge.ErrTurnTimeout), time.Minute)
	if got := testutil.ToFloat64(m.CallsActive); got != 0 {
		t.Errorf("calls_active = %v", got)
	}
	if got := testutil.ToFloat64(m.CallsTotal.WithLabelValues("completed")); got != 1 {
		t.Errorf("completed = %v", got)
	}
	if got := testutil.ToFloat64(m.CallsTotal.WithLabelValues("turn_timeout")); got != 1 {
		t.Errorf("turn_timeout = %v", got)
	}
}

func TestProxyMetrics(t *testing.T) {
	m := New("")
	m.ObserveProxyRequest("ok", true, 2*time.Second)
	m.ObserveProxyRequest("unauthorized", false, time.Millisecond)

	if got := testutil.ToFloat64(m.ProxyRequests.WithLabelValues("ok", "true")); got != 1 {
		t.Errorf("ok/stream = %v", got)
	}
	if got := testutil.ToFloat64(m.ProxyRequests.WithLabelValues("unauthorized", "false")); got != 1 {
		t.Errorf("unauthorized = %v", got)
	}
}

func TestHandler(t *testing.T) {
	m := New("callbridge")
	m.CallStarted(bridge.CallInfo{})

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))

	body, _ := io.ReadAll(rec.Body)
	if !strings.Contains(string(body), "callbridge_calls_active 1") {
		t.Errorf("metrics output missing calls_active:\n%s", body)
	}
	if !strings.Contains(string(body), "go_goroutines") {
		t.Error("metrics output missing runtime collectors")
	}
}
