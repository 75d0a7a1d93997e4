package chat

import (
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/Tyrowin/matchlink/internal/realtime"
)

// Keystrokes turns input activity into typing start/stop transitions. A
// burst of input emits true once; emit(false) follows after idle without
// input, on clearing the input, or on Sent.
type Keystrokes struct {
	idle time.Duration
	emit func(isTyping bool)

	mu     sync.Mutex
	typing bool
	timer  *time.Timer
	seq    uint64
}

// NewKeystrokes returns a tracker that reports transitions to emit.
func NewKeystrokes(idle time.Duration, emit func(isTyping bool)) *Keystrokes {
	return &Keystrokes{idle: idle, emit: emit}
}

// Input reports the current content of the input.
func (k *Keystrokes) Input(text string) {
	if strings.TrimSpace(text) == "" {
		k.stop()
		return
	}
	k.touch()
}

// Focus reports the input gaining focus.
func (k *Keystrokes) Focus(text string) {
	if strings.TrimSpace(text) != "" {
		k.touch()
	}
}

// Blur reports the input losing focus.
func (k *Keystrokes) Blur(text string) {
	if strings.TrimSpace(text) == "" {
		k.stop()
	}
}

// Sent reports that the input was sent and cleared.
func (k *Keystrokes) Sent() {
	k.stop()
}

// Typing reports whether a burst is in progress.
func (k *Keystrokes) Typing() bool {
	k.mu.Lock()
	defer k.mu.Unlock()
	return k.typing
}

// Stop cancels the idle timer without emitting.
func (k *Keystrokes) Stop() {
	k.mu.Lock()
	defer k.mu.Unlock()
	k.cancelLocked()
	k.typing = false
}

func (k *Keystrokes) cancelLocked() {
	k.seq++
	if k.timer != nil {
		k.timer.Stop()
		k.timer = nil
	}
}

func (k *Keystrokes) touch() {
	k.mu.Lock()
	start := !k.typing
	k.typing = true
	k.cancelLocked()
	seq := k.seq
	k.timer = time.AfterFunc(k.idle, func() { k.expire(seq) })
	k.mu.Unlock()

	if start {
		k.emit(true)
	}
}

func (k *Keystrokes) expire(seq uint64) {
	k.mu.Lock()
	if seq != k.seq || !k.typing {
		k.mu.Unlock()
		return
	}
	k.typing = false
	k.timer = nil
	k.mu.Unlock()

	k.emit(false)
}

func (k *Keystrokes) stop() {
	k.mu.Lock()
	k.cancelLocked()
	was := k.typing
	k.typing = false
	k.mu.Unlock()

	if was {
		k.emit(false)
	}
}

// Sender is the outbound side of a typing socket.
type Sender interface {
	Send(eventType realtime.EventType, data any) error
}

// Emitter sends typing indicators and guarantees a trailing stop: every
// true is followed by a false after the backup delay unless another
// indicator is sent first.
type Emitter struct {
	sender       Sender
	connectionID string
	userID       string
	backup       time.Duration
	logger       zerolog.Logger

	mu    sync.Mutex
	timer *time.Timer
	seq   uint64
}

// NewEmitter returns an emitter for one conversation.
func NewEmitter(sender Sender, connectionID, userID string, backup time.Duration) *Emitter {
	return &Emitter{
		sender:       sender,
		connectionID: connectionID,
		userID:       userID,
		backup:       backup,
		logger:       log.With().Str("component", "typing").Str("connection_id", connectionID).Logger(),
	}
}

// Emit cancels a pending backup stop, sends the indicator, and for true
// arms a new backup stop.
func (e *Emitter) Emit(isTyping bool) error {
	e.mu.Lock()
	e.cancelLocked()
	seq := e.seq
	e.mu.Unlock()

	err := e.send(isTyping)

	if isTyping {
		e.mu.Lock()
		if seq == e.seq {
			e.timer = time.AfterFunc(e.backup, func() { e.backupStop(seq) })
		}
		e.mu.Unlock()
	}
	return err
}

// Stop cancels a pending backup stop.
func (e *Emitter) Stop() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.cancelLocked()
}

func (e *Emitter) cancelLocked() {
	e.seq++
	if e.timer != nil {
		e.timer.Stop()
		e.timer = nil
	}
}

func (e *Emitter) backupStop(seq uint64) {
	e.mu.Lock()
	if seq != e.seq {
		e.mu.Unlock()
		return
	}
	e.timer = nil
	e.mu.Unlock()

	if err := e.send(false); err != nil {
		e.logger.Debug().Err(err).Msg("backup typing stop")
	}
}

func (e *Emitter) send(isTyping bool) error {
	return e.sender.Send(realtime.EventMessageTyping, realtime.TypingEvent{
		ConnectionID: e.connectionID,
		UserID:       e.userID,
		IsTyping:     isTyping,
		UpdatedAt:    time.Now().UTC(),
	})
}

// PeerTyping tracks whether the other party is typing. Indicators clear
// themselves after the timeout if no stop arrives.
type PeerTyping struct {
	connectionID string
	userID       string
	timeout      time.Duration

	mu        sync.Mutex
	typing    bool
	timer     *time.Timer
	seq       uint64
	observers []func(bool)
}

// NewPeerTyping returns a tracker for connectionID as seen by userID.
func NewPeerTyping(connectionID, userID string, timeout time.Duration) *PeerTyping {
	return &PeerTyping{connectionID: connectionID, userID: userID, timeout: timeout}
}

// Typing reports whether the peer is typing.
func (p *PeerTyping) Typing() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.typing
}

// OnChange registers fn for typing transitions.
func (p *PeerTyping) OnChange(fn func(typing bool)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.observers = append(p.observers[:len(p.observers):len(p.observers)], fn)
}

// Handle applies an inbound typing event.
func (p *PeerTyping) Handle(ev realtime.TypingEvent) {
	if ev.ConnectionID != p.connectionID || ev.UserID == "" || ev.UserID == p.userID {
		return
	}

	p.mu.Lock()
	p.cancelLocked()
	if ev.IsTyping {
		seq := p.seq
		p.timer = time.AfterFunc(p.timeout, func() { p.expire(seq) })
	}
	notify := p.setLocked(ev.IsTyping)
	p.mu.Unlock()
	notify()
}

// Stop cancels the auto-clear timer and clears the indicator.
func (p *PeerTyping) Stop() {
	p.mu.Lock()
	p.cancelLocked()
	notify := p.setLocked(false)
	p.mu.Unlock()
	notify()
}

// Bind registers the typing listener on a typing socket.
func (p *PeerTyping) Bind(sock *realtime.Socket) (unbind func()) {
	id := realtime.Subscribe(sock.Dispatcher(), realtime.EventMessageTyping, p.Handle)
	return func() { sock.Off(realtime.EventMessageTyping, id) }
}

func (p *PeerTyping) cancelLocked() {
	p.seq++
	if p.timer != nil {
		p.timer.Stop()
		p.timer = nil
	}
}

func (p *PeerTyping) expire(seq uint64) {
	p.mu.Lock()
	if seq != p.seq {
		p.mu.Unlock()
		return
	}
	p.timer = nil
	notify := p.setLocked(false)
	p.mu.Unlock()
	notify()
}

func (p *PeerTyping) setLocked(typing bool) func() {
	if p.typing == typing {
		return func() {}
	}
	p.typing = typing
	observers := p.observers
	return func() {
		for _, fn := range observers {
			fn(typing)
		}
	}
}
