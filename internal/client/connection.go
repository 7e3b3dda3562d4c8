package client

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/yourusername/gqlsync/internal/logging"
	"github.com/yourusername/gqlsync/internal/models"
)

// MaxDecodeFaults is the number of consecutive malformed envelopes tolerated
// before the socket is dropped
const MaxDecodeFaults = 5

// State is the protocol connection state
type State int32

const (
	Disconnected State = iota
	Connecting
	AwaitingAck
	Valid
	Closing
)

func (s State) String() string {
	switch s {
	case Disconnected:
		return "disconnected"
	case Connecting:
		return "connecting"
	case AwaitingAck:
		return "awaiting_ack"
	case Valid:
		return "valid"
	case Closing:
		return "closing"
	}
	return fmt.Sprintf("state(%d)", int32(s))
}

// Settings configures a Connection
type Settings struct {
	URL              string
	PingTimeout      time.Duration
	AutoReconnect    bool
	ReconnectDelay   time.Duration
	HandshakeTimeout time.Duration
	WriteTimeout     time.Duration
	Header           http.Header
	InitPayload      map[string]interface{}
	// Dialer overrides the default websocket dialer
	Dialer *websocket.Dialer
}

// DefaultSettings returns settings with the default timers for url
func DefaultSettings(url string) *Settings {
	return &Settings{
		URL:              url,
		PingTimeout:      5 * time.Second,
		AutoReconnect:    true,
		ReconnectDelay:   3 * time.Second,
		HandshakeTimeout: 5 * time.Second,
		WriteTimeout:     5 * time.Second,
	}
}

// withDefaults fills zero timers from DefaultSettings
func (s *Settings) withDefaults() *Settings {
	d := DefaultSettings(s.URL)
	out := *s
	if out.PingTimeout <= 0 {
		out.PingTimeout = d.PingTimeout
	}
	if out.ReconnectDelay <= 0 {
		out.ReconnectDelay = d.ReconnectDelay
	}
	if out.HandshakeTimeout <= 0 {
		out.HandshakeTimeout = d.HandshakeTimeout
	}
	if out.WriteTimeout <= 0 {
		out.WriteTimeout = d.WriteTimeout
	}
	return &out
}

type eventKind int

const (
	eventDialed eventKind = iota
	eventMessage
	eventClosed
)

type socketEvent struct {
	gen  uint64
	kind eventKind
	ws   *websocket.Conn
	data []byte
	err  error
}

// Connection is the protocol state machine for one logical connection.
//
// All socket reads, timer fires and caller commands are processed one at a
// time by a single event loop goroutine. The registry, the pending queue and
// the socket are only touched from that goroutine; public methods hand their
// work into the loop.
type Connection struct {
	settings *Settings
	dialer   *websocket.Dialer
	registry *Registry
	init     *models.Envelope
	initErr  error

	ctx    context.Context
	cancel context.CancelFunc
	cmds   chan func()
	events chan socketEvent
	timers chan timerFire
	done   chan struct{}

	// loop-owned
	ws           *websocket.Conn
	gen          uint64
	pending      []Handler
	pongTimer    *loopTimer
	reconnect    *loopTimer
	pongReceived bool
	pongWaiters  []chan time.Time
	decodeFaults int

	state     atomic.Int32
	open      atomic.Bool
	initCount atomic.Int64
	lastPong  atomic.Int64

	watchMu   sync.Mutex
	watchers  map[int]func(State)
	nextWatch int
}

// NewConnection creates a connection and starts its event loop. The socket
// is not dialed until Open is called.
func NewConnection(settings *Settings) *Connection {
	settings = settings.withDefaults()
	ctx, cancel := context.WithCancel(context.Background())
	dialer := settings.Dialer
	if dialer == nil {
		dialer = &websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: settings.HandshakeTimeout,
		}
	}
	dialer.Subprotocols = []string{models.Subprotocol}

	c := &Connection{
		settings: settings,
		dialer:   dialer,
		registry: NewRegistry(),
		ctx:      ctx,
		cancel:   cancel,
		cmds:     make(chan func()),
		events:   make(chan socketEvent),
		timers:   make(chan timerFire),
		done:     make(chan struct{}),
		watchers: make(map[int]func(State)),
	}
	c.init, c.initErr = models.NewConnectionInit(settings.InitPayload)
	c.pongTimer = newLoopTimer(pongTimer, c.timers, ctx.Done())
	c.reconnect = newLoopTimer(reconnectTimer, c.timers, ctx.Done())

	go c.run()
	return c
}

// Open starts connecting if the connection is disconnected. It fails
// without dialing if the init payload cannot be encoded.
func (c *Connection) Open() error {
	if c.initErr != nil {
		return c.initErr
	}
	return c.do(c.connect)
}

// Close drops the socket. With AutoReconnect the reconnect timer is armed;
// without it the connection stays disconnected.
func (c *Connection) Close() error {
	return c.do(func() {
		if c.ws != nil {
			deadline := time.Now().Add(c.settings.WriteTimeout)
			c.ws.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), deadline)
		}
		c.disconnected("local close")
	})
}

// Reconnect drops the socket if open and connects again immediately
func (c *Connection) Reconnect() error {
	if c.initErr != nil {
		return c.initErr
	}
	return c.do(func() {
		if c.State() != Disconnected {
			c.closeSocket()
			c.pongTimer.Stop()
			c.dropPongWaiters()
			c.pending = c.registry.Handlers()
			c.setState(Disconnected)
		}
		c.connect()
	})
}

// Shutdown tears the connection down for good. Handlers stay registered but
// receive nothing further.
func (c *Connection) Shutdown() {
	select {
	case <-c.done:
		return
	default:
	}
	c.setState(Closing)
	c.cancel()
	<-c.done
}

// Execute registers a handler and sends its subscribe envelope, or queues it
// until the connection is valid. Queued operations are flushed in issuance
// order after the ack.
func (c *Connection) Execute(h Handler) error {
	var err error
	if derr := c.do(func() {
		if err = c.registry.Register(h); err != nil {
			return
		}
		logging.Debug().Str("id", h.ID()).Msg("handler registered")
		if c.State() != Valid {
			c.pending = append(c.pending, h)
			return
		}
		c.subscribe(h)
	}); derr != nil {
		return derr
	}
	return err
}

// Complete removes a handler locally right away and sends a best-effort
// complete envelope to the server if the subscribe already went out
func (c *Connection) Complete(h Handler) error {
	return c.do(func() {
		id := h.ID()
		if !c.registry.Remove(id) {
			return
		}
		for i, p := range c.pending {
			if p.ID() == id {
				c.pending = append(c.pending[:i], c.pending[i+1:]...)
				logging.Debug().Str("id", id).Msg("queued handler cancelled")
				return
			}
		}
		if c.State() == Valid {
			if err := c.send(models.NewComplete(id)); err != nil {
				c.disconnected("write failed")
			}
		}
		logging.Debug().Str("id", id).Msg("handler completed locally")
	})
}

// HasHandler returns true if id has a live registry entry
func (c *Connection) HasHandler(id string) bool {
	var ok bool
	if err := c.do(func() { ok = c.registry.Has(id) }); err != nil {
		return false
	}
	return ok
}

// Ping sends a ping outside the keepalive schedule and waits for the next
// pong, returning the round trip
func (c *Connection) Ping(ctx context.Context) (time.Duration, error) {
	pong := make(chan time.Time, 1)
	start := time.Now()
	var err error
	if derr := c.do(func() {
		if c.State() != Valid {
			err = ErrNotConnected
			return
		}
		if err = c.send(models.NewPing()); err != nil {
			c.disconnected("write failed")
			return
		}
		c.pongWaiters = append(c.pongWaiters, pong)
	}); derr != nil {
		return 0, derr
	}
	if err != nil {
		return 0, err
	}

	select {
	case at, ok := <-pong:
		if !ok {
			return 0, ErrNotConnected
		}
		return at.Sub(start), nil
	case <-ctx.Done():
		return 0, fmt.Errorf("ping cancelled or timed out: %w", ctx.Err())
	case <-c.done:
		return 0, ErrShutdown
	}
}

// State returns the current protocol state
func (c *Connection) State() State {
	return State(c.state.Load())
}

// IsOpen reports whether the socket is open, regardless of the handshake
func (c *Connection) IsOpen() bool {
	return c.open.Load()
}

// IsProtocolValid reports whether the init/ack handshake has completed
func (c *Connection) IsProtocolValid() bool {
	return c.State() == Valid
}

// ReconnectPending reports whether the reconnect timer is armed
func (c *Connection) ReconnectPending() bool {
	return c.reconnect.Active()
}

// InitCount returns the number of connection_init envelopes sent
func (c *Connection) InitCount() int64 {
	return c.initCount.Load()
}

// LastPong returns the time of the last pong, or the zero time
func (c *Connection) LastPong() time.Time {
	ns := c.lastPong.Load()
	if ns == 0 {
		return time.Time{}
	}
	return time.Unix(0, ns)
}

// Watch registers a callback for state transitions. Callbacks run on the
// goroutine making the transition.
func (c *Connection) Watch(fn func(State)) (cancel func()) {
	c.watchMu.Lock()
	defer c.watchMu.Unlock()

	id := c.nextWatch
	c.nextWatch++
	c.watchers[id] = fn
	return func() {
		c.watchMu.Lock()
		defer c.watchMu.Unlock()
		delete(c.watchers, id)
	}
}

// WaitState blocks until the connection reaches want or ctx ends
func (c *Connection) WaitState(ctx context.Context, want State) error {
	reached := make(chan struct{}, 1)
	cancel := c.Watch(func(s State) {
		if s == want {
			select {
			case reached <- struct{}{}:
			default:
			}
		}
	})
	defer cancel()

	if c.State() == want {
		return nil
	}
	select {
	case <-reached:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("waiting for %s: %w", want, ctx.Err())
	case <-c.done:
		return ErrShutdown
	}
}

// do hands fn into the event loop and waits for it to run
func (c *Connection) do(fn func()) error {
	ran := make(chan struct{})
	select {
	case c.cmds <- func() {
		defer close(ran)
		fn()
	}:
	case <-c.done:
		return ErrShutdown
	}
	select {
	case <-ran:
		return nil
	case <-c.done:
		return ErrShutdown
	}
}

// post delivers a socket event to the loop
func (c *Connection) post(ev socketEvent) bool {
	select {
	case c.events <- ev:
		return true
	case <-c.ctx.Done():
		if ev.ws != nil && ev.kind == eventDialed {
			ev.ws.Close()
		}
		return false
	}
}

func (c *Connection) run() {
	defer close(c.done)
	defer c.teardown()

	for {
		select {
		case <-c.ctx.Done():
			return
		case fn := <-c.cmds:
			fn()
		case ev := <-c.events:
			c.handleSocketEvent(ev)
		case f := <-c.timers:
			c.handleTimer(f)
		}
	}
}

func (c *Connection) teardown() {
	c.closeSocket()
	c.pongTimer.Stop()
	c.reconnect.Stop()
	c.pending = nil
	c.setState(Disconnected)
	logging.Debug().Str("url", c.settings.URL).Msg("connection shut down")
}

func (c *Connection) setState(s State) {
	prev := State(c.state.Swap(int32(s)))
	if prev == s {
		return
	}
	logging.Debug().Str("from", prev.String()).Str("to", s.String()).Msg("connection state")

	c.watchMu.Lock()
	fns := make([]func(State), 0, len(c.watchers))
	for _, fn := range c.watchers {
		fns = append(fns, fn)
	}
	c.watchMu.Unlock()

	for _, fn := range fns {
		fn(s)
	}
}

func (c *Connection) connect() {
	if c.State() != Disconnected {
		return
	}
	c.reconnect.Stop()
	c.setState(Connecting)
	c.gen++
	gen := c.gen

	go func() {
		ctx, cancel := context.WithTimeout(c.ctx, c.settings.HandshakeTimeout)
		defer cancel()

		ws, _, err := c.dialer.DialContext(ctx, c.settings.URL, c.settings.Header)
		c.post(socketEvent{gen: gen, kind: eventDialed, ws: ws, err: err})
	}()
}

func (c *Connection) read(gen uint64, ws *websocket.Conn) {
	for {
		_, data, err := ws.ReadMessage()
		if err != nil {
			c.post(socketEvent{gen: gen, kind: eventClosed, err: err})
			return
		}
		if !c.post(socketEvent{gen: gen, kind: eventMessage, data: data}) {
			return
		}
	}
}

func (c *Connection) handleSocketEvent(ev socketEvent) {
	if ev.gen != c.gen {
		// socket from an earlier attempt
		if ev.kind == eventDialed && ev.ws != nil {
			ev.ws.Close()
		}
		return
	}

	switch ev.kind {
	case eventDialed:
		if ev.err != nil {
			logging.Info().Err(ev.err).Str("url", c.settings.URL).Msg("dial failed")
			c.disconnected("dial failed")
			return
		}
		c.ws = ev.ws
		c.open.Store(true)
		c.decodeFaults = 0
		c.setState(AwaitingAck)
		go c.read(ev.gen, ev.ws)

		c.initCount.Add(1)
		if err := c.send(c.init); err != nil {
			c.disconnected("write failed")
		}
	case eventMessage:
		c.handleMessage(ev.data)
	case eventClosed:
		logging.Info().Err(ev.err).Str("url", c.settings.URL).Msg("socket closed")
		c.disconnected("socket closed")
	}
}

func (c *Connection) handleMessage(data []byte) {
	env, err := models.Decode(data)
	if err != nil {
		c.decodeFaults++
		logging.Warn().Err(err).Int("faults", c.decodeFaults).Msg("dropping malformed envelope")
		if c.decodeFaults > MaxDecodeFaults {
			c.disconnected("repeated decode faults")
		}
		return
	}
	c.decodeFaults = 0
	logging.Debug().Str("type", string(env.Type)).Str("id", env.ID).Msg("envelope received")

	switch env.Type {
	case models.TypeConnectionAck:
		if c.State() != AwaitingAck {
			return
		}
		c.setState(Valid)
		c.flush()
		c.startKeepalive()
	case models.TypePing:
		if err := c.send(models.NewPong()); err != nil {
			c.disconnected("write failed")
		}
	case models.TypePong:
		now := time.Now()
		c.pongReceived = true
		c.lastPong.Store(now.UnixNano())
		for _, w := range c.pongWaiters {
			w <- now
		}
		c.pongWaiters = nil
		if c.State() == Valid {
			c.pongTimer.Arm(c.settings.PingTimeout)
		}
	case models.TypeNext, models.TypeError, models.TypeComplete:
		handled, err := c.registry.Dispatch(env)
		if err != nil {
			logging.Error().Err(err).Str("id", env.ID).Str("type", string(env.Type)).Msg("handler rejected envelope")
		}
		if !handled {
			logging.Debug().Str("id", env.ID).Str("type", string(env.Type)).Msg("dropping envelope for unknown operation")
		}
	default:
		logging.Warn().Str("type", string(env.Type)).Msg("unexpected envelope from server")
	}
}

func (c *Connection) handleTimer(f timerFire) {
	switch f.kind {
	case pongTimer:
		if !c.pongTimer.accept(f) {
			return
		}
		if !c.pongReceived {
			logging.Info().Dur("timeout", c.settings.PingTimeout).Msg("pong timeout")
			c.disconnected("pong timeout")
			return
		}
		c.ping()
	case reconnectTimer:
		if !c.reconnect.accept(f) {
			return
		}
		logging.Debug().Str("url", c.settings.URL).Msg("reconnecting")
		c.connect()
	}
}

func (c *Connection) startKeepalive() {
	if c.State() != Valid {
		return
	}
	c.ping()
}

func (c *Connection) ping() {
	c.pongReceived = false
	if err := c.send(models.NewPing()); err != nil {
		c.disconnected("write failed")
		return
	}
	c.pongTimer.Arm(c.settings.PingTimeout)
}

// flush sends every queued subscribe in issuance order. A failed write
// stops the flush; disconnected has already requeued every live handler.
func (c *Connection) flush() {
	pending := c.pending
	c.pending = nil
	for _, h := range pending {
		if !c.subscribe(h) {
			return
		}
	}
}

// subscribe sends the subscribe envelope of h if it is still registered.
// It returns false if the write failed.
func (c *Connection) subscribe(h Handler) bool {
	env, ok := c.registry.Subscribe(h.ID())
	if !ok {
		return true
	}
	if err := c.send(env); err != nil {
		c.disconnected("write failed")
		return false
	}
	return true
}

func (c *Connection) send(env *models.Envelope) error {
	if c.ws == nil {
		return ErrNotConnected
	}
	data, err := models.Encode(env)
	if err != nil {
		return err
	}
	c.ws.SetWriteDeadline(time.Now().Add(c.settings.WriteTimeout))
	if err := c.ws.WriteMessage(websocket.TextMessage, data); err != nil {
		logging.Info().Err(err).Str("type", string(env.Type)).Msg("write failed")
		return err
	}
	logging.Debug().Str("type", string(env.Type)).Str("id", env.ID).Msg("envelope sent")
	return nil
}

func (c *Connection) closeSocket() {
	if c.ws != nil {
		c.ws.Close()
		c.ws = nil
	}
	// invalidate events from the old socket
	c.gen++
	c.open.Store(false)
}

// disconnected handles every transport fault and local close. Live handlers
// are queued for resubscription and the reconnect timer is armed once.
func (c *Connection) disconnected(reason string) {
	if c.State() == Disconnected && c.ws == nil {
		return
	}
	c.closeSocket()
	c.pongTimer.Stop()
	c.dropPongWaiters()
	c.pending = c.registry.Handlers()
	c.setState(Disconnected)

	if c.settings.AutoReconnect && !errors.Is(c.ctx.Err(), context.Canceled) {
		c.reconnect.Arm(c.settings.ReconnectDelay)
		logging.Debug().Str("reason", reason).Dur("delay", c.settings.ReconnectDelay).Msg("reconnect armed")
		return
	}
	logging.Info().Str("reason", reason).Msg("disconnected")
}

// dropPongWaiters fails every Ping still waiting on the dropped socket
func (c *Connection) dropPongWaiters() {
	for _, w := range c.pongWaiters {
		close(w)
	}
	c.pongWaiters = nil
}
