package bridge

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/gofiber/contrib/websocket"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/teslashibe/go-callbridge/pkg/agent"
	"github.com/teslashibe/go-callbridge/pkg/callstate"
	"github.com/teslashibe/go-callbridge/pkg/twilio"
)

// Session is one bridged call.
type Session struct {
	id     string
	b      *Bridge
	conn   Conn
	host   string
	logger *slog.Logger
	obs    Observer

	machine    *callstate.Machine
	stateSince time.Time

	agent AgentConn
	out   *outbox

	settingsApplied bool

	mu   sync.RWMutex
	info CallInfo

	hangup     chan struct{}
	hangupOnce sync.Once
}

func newSession(b *Bridge, conn Conn, host string) *Session {
	id := uuid.NewString()
	s := &Session{
		id:     id,
		b:      b,
		conn:   conn,
		host:   host,
		logger: b.logger.With("call_id", id),
		obs:    b.cfg.Observer,
		out:    newOutbox(),
		hangup: make(chan struct{}),
		info:   CallInfo{ID: id},
	}
	s.machine = callstate.New(s.onStep)
	return s
}

// ID returns the session identifier.
func (s *Session) ID() string { return s.id }

// Info returns the call's identifiers.
func (s *Session) Info() CallInfo {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.info
}

// State returns the call's turn state.
func (s *Session) State() callstate.State {
	return s.machine.State()
}

// Hangup ends the call. It is safe to call more than once.
func (s *Session) Hangup() {
	s.hangupOnce.Do(func() { close(s.hangup) })
}

// Run bridges the call until it ends. A stop message from the stream is a
// clean end and returns nil.
func (s *Session) Run(ctx context.Context) error {
	defer s.conn.Close()

	start, err := s.awaitStart(ctx)
	if err != nil {
		if errors.Is(err, errStopped) {
			s.logger.Info("stream stopped before start")
			return nil
		}
		return err
	}

	voice := s.b.voice()
	s.mu.Lock()
	s.info.StreamSID = start.StreamSID
	s.info.CallSID = start.CallSID
	s.info.Voice = voice
	s.info.StartedAt = time.Now()
	info := s.info
	s.mu.Unlock()
	s.logger = s.logger.With("stream_sid", info.StreamSID, "call_sid", info.CallSID)

	base := s.b.callbackBase(s.host)
	settings := s.b.cfg.Profile.Settings(base+CompletionsPath, s.b.cfg.Secret, voice)
	s.logger.Info("stream started", "callback", base+CompletionsPath, "voice", voice)

	ag, err := s.b.cfg.Dial(ctx, settings)
	if err != nil {
		return fmt.Errorf("bridge: open agent session: %w", err)
	}
	s.agent = ag

	if s.b.cfg.SessionKey != "" {
		s.b.registry.started(s.b.cfg.SessionKey)
	}
	s.obs.CallStarted(info)
	s.stateSince = time.Now()
	s.machine.Fire(callstate.CallStart)

	err = s.run(ctx)

	s.machine.Fire(callstate.Terminate)
	elapsed := time.Since(info.StartedAt)
	s.obs.CallEnded(info, err, elapsed)

	switch {
	case err == nil:
		s.logger.Info("call ended", "duration", elapsed.Round(time.Millisecond))
	case errors.Is(err, ErrHangup):
		s.logger.Info("call hung up", "duration", elapsed.Round(time.Millisecond))
	default:
		s.logger.Warn("call failed", "error", err, "duration", elapsed.Round(time.Millisecond))
	}
	return err
}

// awaitStart reads until the stream's start message. The connection is
// closed if ctx ends or the call is hung up first.
func (s *Session) awaitStart(ctx context.Context) (*twilio.Start, error) {
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
		case <-s.hangup:
		case <-done:
			return
		}
		s.conn.Close()
	}()

	for {
		msg, err := s.next()
		if err != nil {
			select {
			case <-s.hangup:
				return nil, ErrHangup
			default:
			}
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			return nil, err
		}

		switch msg.Event {
		case twilio.EventConnected:
			s.logger.Debug("media stream connected", "protocol", msg.Protocol)
		case twilio.EventStart:
			return msg.Start, nil
		case twilio.EventStop:
			return nil, errStopped
		default:
			s.logger.Debug("ignoring message before start", "event", msg.Event)
		}
	}
}

// next returns the next well-formed telephony message. Malformed messages
// are logged and skipped.
func (s *Session) next() (twilio.Message, error) {
	for {
		_, data, err := s.conn.ReadMessage()
		if err != nil {
			return twilio.Message{}, fmt.Errorf("%w: %v", ErrTelephonyClosed, err)
		}
		msg, err := twilio.Decode(data)
		if err != nil {
			s.logger.Warn("skipping media message", "error", err)
			continue
		}
		return msg, nil
	}
}

func (s *Session) run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)

	audio := make(chan []byte, 64)
	events := make(chan agent.Event, 64)

	g.Go(func() error { return s.readTelephony(gctx, audio) })
	g.Go(func() error { return s.flushAudio(gctx, audio) })
	g.Go(func() error { return s.readAgent(gctx, events) })
	g.Go(func() error { return s.eventLoop(gctx, events) })
	g.Go(func() error { return s.writeTelephony(gctx) })
	g.Go(func() error {
		<-gctx.Done()
		s.agent.Close()
		s.conn.Close()
		return nil
	})

	if s.b.cfg.Prewarm != nil && s.b.cfg.SessionKey != "" {
		g.Go(func() error {
			if err := s.b.cfg.Prewarm(gctx, s.b.cfg.SessionKey); err != nil && gctx.Err() == nil {
				s.logger.Warn("prewarm failed", "error", err)
			}
			return nil
		})
	}

	err := g.Wait()
	if errors.Is(err, errStopped) {
		return nil
	}
	return err
}

func (s *Session) readTelephony(ctx context.Context, audio chan<- []byte) error {
	for {
		msg, err := s.next()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}

		switch msg.Event {
		case twilio.EventMedia:
			data, err := msg.Audio()
			if err != nil {
				s.logger.Warn("skipping media frame", "error", err)
				continue
			}
			if len(data) == 0 {
				continue
			}
			select {
			case audio <- data:
			case <-ctx.Done():
				return nil
			}
		case twilio.EventStop:
			s.logger.Info("stream stopped")
			return errStopped
		case twilio.EventMark:
			if msg.Mark != nil {
				s.logger.Debug("mark", "name", msg.Mark.Name)
			}
		case twilio.EventDTMF:
			if msg.DTMF != nil {
				s.logger.Info("dtmf", "digit", msg.DTMF.Digit)
			}
		default:
			s.logger.Debug("ignoring media message", "event", msg.Event)
		}
	}
}

// flushAudio owns the accumulation buffer. Arrivals are appended as they
// come; the ticker releases full chunks at a steady cadence. Residue below
// one chunk is dropped when the call ends.
func (s *Session) flushAudio(ctx context.Context, audio <-chan []byte) error {
	buf := NewAudioBuffer(s.b.cfg.ChunkBytes)
	ticker := time.NewTicker(s.b.cfg.FlushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			if n := buf.Reset(); n > 0 {
				s.logger.Debug("dropped partial chunk", "bytes", n)
			}
			return nil
		case data := <-audio:
			buf.Write(data)
		case <-ticker.C:
			for chunk := buf.Next(); chunk != nil; chunk = buf.Next() {
				if err := s.agent.SendAudio(chunk); err != nil {
					if ctx.Err() != nil {
						return nil
					}
					return fmt.Errorf("bridge: send audio: %w", err)
				}
				s.obs.AudioRelayed(Inbound, len(chunk))
			}
		}
	}
}

func (s *Session) readAgent(ctx context.Context, events chan<- agent.Event) error {
	for {
		ev, err := s.agent.ReadEvent()
		if err != nil {
			if errors.Is(err, agent.ErrMalformedEvent) {
				s.logger.Warn("skipping agent event", "error", err)
				continue
			}
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
		select {
		case events <- ev:
		case <-ctx.Done():
			return nil
		}
	}
}

// eventLoop is the only goroutine that changes turn state after the call
// starts.
func (s *Session) eventLoop(ctx context.Context, events <-chan agent.Event) error {
	var (
		warn, hard   *time.Timer
		warnC, hardC <-chan time.Time
	)
	stopTimers := func() {
		if warn != nil {
			warn.Stop()
			warn, warnC = nil, nil
		}
		if hard != nil {
			hard.Stop()
			hard, hardC = nil, nil
		}
	}
	defer stopTimers()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-s.hangup:
			return ErrHangup
		case <-warnC:
			warnC = nil
			s.logger.Warn("no agent audio yet", "waited", s.b.cfg.FirstAudioWarn)
		case <-hardC:
			return ErrTurnTimeout
		case ev := <-events:
			if err := s.handleEvent(ev); err != nil {
				return err
			}

			thinking := s.machine.State() == callstate.Thinking
			switch {
			case thinking && hard == nil && warn == nil:
				if d := s.b.cfg.FirstAudioWarn; d > 0 {
					warn = time.NewTimer(d)
					warnC = warn.C
				}
				if d := s.b.cfg.TurnTimeout; d > 0 {
					hard = time.NewTimer(d)
					hardC = hard.C
				}
			case !thinking:
				stopTimers()
			}
		}
	}
}

func (s *Session) handleEvent(ev agent.Event) error {
	switch e := ev.(type) {
	case agent.Audio:
		if !s.machine.Accepts(callstate.AgentAudio) {
			s.logger.Debug("dropping agent audio", "state", s.machine.State(), "bytes", len(e.Data))
			return nil
		}
		s.fire(callstate.AgentAudio)
		s.out.push(twilio.MediaMessage(s.streamSID(), e.Data))
		s.obs.AudioRelayed(Outbound, len(e.Data))

	case agent.UserStartedSpeaking:
		if s.machine.State() == callstate.Speaking {
			dropped := s.out.clear(twilio.ClearMessage(s.streamSID()))
			s.logger.Info("barge-in", "discarded", dropped)
		}
		s.fire(callstate.StartOfTurn)

	case agent.AgentThinking:
		s.logger.Debug("agent thinking", "content", e.Content)
		s.fire(callstate.EndOfTurn)

	case agent.AgentStartedSpeaking:
		s.logger.Debug("agent started speaking", "latency", e.TotalLatency)
		if s.machine.Accepts(callstate.EndOfTurn) {
			s.fire(callstate.EndOfTurn)
		}

	case agent.AgentAudioDone:
		s.fire(callstate.TurnComplete)

	case agent.ConversationText:
		s.logger.Info("transcript", "role", e.Role, "content", e.Content)
		s.obs.Transcript(s.Info(), e.Role, e.Content)

	case agent.Welcome:
		s.logger.Info("agent connected", "request_id", e.RequestID)

	case agent.SettingsApplied:
		s.settingsApplied = true
		s.logger.Info("agent settings applied")

	case agent.Warning:
		s.logger.Warn("agent warning", "code", e.Code, "description", e.Description)

	case agent.ErrorEvent:
		if !s.settingsApplied {
			return fmt.Errorf("%w: %w", ErrSettingsRejected, e)
		}
		s.logger.Error("agent error", "code", e.Code, "description", e.Description)

	case agent.Unknown:
		s.logger.Debug("unknown agent event", "type", e.Type)

	default:
		s.logger.Debug("unhandled agent event", "type", ev.EventType())
	}
	return nil
}

// fire applies sig. Signals the current state does not accept are expected
// (a caller speaking while the agent is still thinking, say) and ignored.
func (s *Session) fire(sig callstate.Signal) {
	if _, err := s.machine.Fire(sig); err != nil {
		s.logger.Debug("ignoring signal", "error", err)
	}
}

func (s *Session) onStep(step callstate.Step) {
	if !step.Changed() {
		return
	}
	now := time.Now()
	inState := now.Sub(s.stateSince)
	s.stateSince = now

	s.logger.Debug("state", "from", step.From, "to", step.To, "signal", step.Signal, "barge_in", step.BargeIn)
	s.obs.Transition(s.Info(), step, inState)
}

// writeTelephony is the only goroutine that writes to the media stream.
func (s *Session) writeTelephony(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-s.out.ready:
		}

		for {
			msg, ok := s.out.pop()
			if !ok {
				break
			}
			data, err := json.Marshal(msg)
			if err != nil {
				return err
			}
			if err := s.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				if ctx.Err() != nil {
					return nil
				}
				return fmt.Errorf("%w: write: %v", ErrTelephonyClosed, err)
			}
		}
	}
}

func (s *Session) streamSID() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.info.StreamSID
}
