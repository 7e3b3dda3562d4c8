package client

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/go-playground/assert/v2"

	"github.com/yourusername/gqlsync/internal/models"
)

func openValid(t *testing.T, fs *fakeServer, settings *Settings) *Connection {
	conn := NewConnection(settings)
	t.Cleanup(conn.Shutdown)

	assert.Equal(t, conn.Open(), nil)
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := conn.WaitState(ctx, Valid); err != nil {
		t.Fatalf("WaitState(Valid) = %v", err)
	}
	return conn
}

// === Handshake ===

func TestConnectionHandshake(t *testing.T) {
	fs := newFakeServer(t)
	conn := NewConnection(fs.settings())
	defer conn.Shutdown()

	assert.Equal(t, conn.State(), Disconnected)
	assert.Equal(t, conn.IsOpen(), false)

	assert.Equal(t, conn.Open(), nil)
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	assert.Equal(t, conn.WaitState(ctx, Valid), nil)

	assert.Equal(t, conn.IsOpen(), true)
	assert.Equal(t, conn.IsProtocolValid(), true)
	assert.Equal(t, conn.InitCount(), int64(1))
	assert.Equal(t, fs.inits.Load(), int32(1))
	assert.Equal(t, conn.ReconnectPending(), false)
}

func TestConnectionOpenWithoutAck(t *testing.T) {
	fs := newFakeServer(t)
	fs.ack.Store(false)

	conn := NewConnection(fs.settings())
	defer conn.Shutdown()
	assert.Equal(t, conn.Open(), nil)

	ok := waitFor(2*time.Second, func() bool { return conn.State() == AwaitingAck })
	assert.Equal(t, ok, true)
	assert.Equal(t, conn.IsOpen(), true)
	assert.Equal(t, conn.IsProtocolValid(), false)
}

func TestConnectionDialFailure(t *testing.T) {
	settings := DefaultSettings("ws://127.0.0.1:1/graphql")
	settings.AutoReconnect = false
	settings.HandshakeTimeout = 500 * time.Millisecond

	conn := NewConnection(settings)
	defer conn.Shutdown()
	assert.Equal(t, conn.Open(), nil)

	ok := waitFor(2*time.Second, func() bool { return conn.State() == Disconnected })
	assert.Equal(t, ok, true)
	assert.Equal(t, conn.IsOpen(), false)
	assert.Equal(t, conn.InitCount(), int64(0))
	assert.Equal(t, conn.ReconnectPending(), false)
}

// === Keepalive ===

func TestConnectionPingPong(t *testing.T) {
	fs := newFakeServer(t)
	conn := openValid(t, fs, fs.settings())

	ok := waitFor(2*time.Second, func() bool { return !conn.LastPong().IsZero() })
	assert.Equal(t, ok, true)
	assert.Equal(t, len(fs.receivedOf(models.TypePing)) >= 1, true)
}

func TestConnectionPongTimeout(t *testing.T) {
	fs := newFakeServer(t)
	fs.pong.Store(false)

	settings := fs.settings()
	settings.AutoReconnect = false
	settings.PingTimeout = 300 * time.Millisecond
	conn := openValid(t, fs, settings)

	start := time.Now()
	ok := waitFor(2*time.Second, func() bool { return conn.State() == Disconnected })
	assert.Equal(t, ok, true)
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Errorf("pong timeout took %v, want about %v", elapsed, settings.PingTimeout)
	}

	time.Sleep(500 * time.Millisecond)
	assert.Equal(t, conn.State(), Disconnected)
	assert.Equal(t, conn.ReconnectPending(), false)
	assert.Equal(t, conn.InitCount(), int64(1))
	assert.Equal(t, fs.inits.Load(), int32(1))
}

// === Reconnect ===

func TestConnectionCloseWithoutReconnect(t *testing.T) {
	fs := newFakeServer(t)
	settings := fs.settings()
	settings.AutoReconnect = false
	conn := openValid(t, fs, settings)

	assert.Equal(t, conn.Close(), nil)
	assert.Equal(t, conn.State(), Disconnected)
	assert.Equal(t, conn.IsOpen(), false)
	assert.Equal(t, conn.ReconnectPending(), false)

	time.Sleep(300 * time.Millisecond)
	assert.Equal(t, conn.State(), Disconnected)
	assert.Equal(t, conn.InitCount(), int64(1))
}

func TestConnectionReconnectCycle(t *testing.T) {
	fs := newFakeServer(t)
	conn := openValid(t, fs, fs.settings())

	assert.Equal(t, conn.Close(), nil)
	assert.Equal(t, conn.ReconnectPending(), true)

	ok := waitFor(3*time.Second, func() bool { return conn.IsProtocolValid() })
	assert.Equal(t, ok, true)
	assert.Equal(t, conn.ReconnectPending(), false)
	assert.Equal(t, conn.InitCount(), int64(2))

	// a stale timer must not produce another init
	time.Sleep(300 * time.Millisecond)
	assert.Equal(t, conn.InitCount(), int64(2))
	assert.Equal(t, fs.inits.Load(), int32(2))
}

func TestConnectionRemoteDrop(t *testing.T) {
	fs := newFakeServer(t)
	conn := openValid(t, fs, fs.settings())

	fs.dropAll()

	ok := waitFor(3*time.Second, func() bool {
		return conn.IsProtocolValid() && conn.InitCount() == 2
	})
	assert.Equal(t, ok, true)
	assert.Equal(t, conn.ReconnectPending(), false)
}

func TestConnectionForcedReconnect(t *testing.T) {
	fs := newFakeServer(t)
	settings := fs.settings()
	settings.AutoReconnect = false
	conn := openValid(t, fs, settings)

	assert.Equal(t, conn.Reconnect(), nil)
	ok := waitFor(3*time.Second, func() bool {
		return conn.IsProtocolValid() && conn.InitCount() == 2
	})
	assert.Equal(t, ok, true)
}

// === Operations ===

func TestConnectionExecuteDispatch(t *testing.T) {
	fs := newFakeServer(t)
	conn := openValid(t, fs, fs.settings())

	h := newRecordingHandler("subscription Counter { count }")
	assert.Equal(t, conn.Execute(h), nil)

	ok := waitFor(2*time.Second, h.isCompleted)
	assert.Equal(t, ok, true)
	assert.Equal(t, h.dataCount(), 10)
	assert.Equal(t, conn.HasHandler(h.ID()), false)

	subs := fs.receivedOf(models.TypeSubscribe)
	assert.Equal(t, len(subs), 1)
	payload, err := subs[0].Subscribe()
	assert.Equal(t, err, nil)
	assert.Equal(t, payload.OperationName, "Counter")
}

func TestConnectionQueuesUntilAck(t *testing.T) {
	fs := newFakeServer(t)
	fs.setOnSubscribe(nil)

	conn := NewConnection(fs.settings())
	defer conn.Shutdown()

	h1 := newRecordingHandler("subscription First { count }")
	h2 := newRecordingHandler("subscription Second { count }")
	assert.Equal(t, conn.Execute(h1), nil)
	assert.Equal(t, conn.Execute(h2), nil)
	assert.Equal(t, conn.HasHandler(h1.ID()), true)
	assert.Equal(t, len(fs.receivedOf(models.TypeSubscribe)), 0)

	assert.Equal(t, conn.Open(), nil)
	ok := waitFor(2*time.Second, func() bool { return len(fs.receivedOf(models.TypeSubscribe)) == 2 })
	assert.Equal(t, ok, true)

	types := fs.receivedTypes()
	assert.Equal(t, types[0], models.TypeConnectionInit)

	subs := fs.receivedOf(models.TypeSubscribe)
	assert.Equal(t, subs[0].ID, h1.ID())
	assert.Equal(t, subs[1].ID, h2.ID())
}

func TestConnectionErrorEnvelope(t *testing.T) {
	fs := newFakeServer(t)
	fs.setOnSubscribe(func(sc *serverConn, id string, _ models.OperationPayload) {
		sc.sendError(id, models.ErrorList{{Message: "Test Gql Error"}})
	})
	conn := openValid(t, fs, fs.settings())

	h := newRecordingHandler("query Fails { nope }")
	assert.Equal(t, conn.Execute(h), nil)

	ok := waitFor(2*time.Second, func() bool { return len(h.errorList()) > 0 })
	assert.Equal(t, ok, true)
	assert.Equal(t, h.errorList()[0].Message, "Test Gql Error")
	assert.Equal(t, conn.HasHandler(h.ID()), false)
	// operation errors never affect the connection
	assert.Equal(t, conn.IsProtocolValid(), true)
}

func TestConnectionDuplicateID(t *testing.T) {
	fs := newFakeServer(t)
	fs.setOnSubscribe(nil)
	conn := openValid(t, fs, fs.settings())

	h := newRecordingHandler("subscription Counter { count }")
	assert.Equal(t, conn.Execute(h), nil)

	err := conn.Execute(h)
	assert.Equal(t, errors.Is(err, ErrDuplicateID), true)
}

func TestConnectionCompleteDropsLateEnvelopes(t *testing.T) {
	fs := newFakeServer(t)
	fs.setOnSubscribe(nil)
	conn := openValid(t, fs, fs.settings())

	h := newRecordingHandler("subscription Counter { count }")
	assert.Equal(t, conn.Execute(h), nil)
	ok := waitFor(2*time.Second, func() bool { return len(fs.receivedOf(models.TypeSubscribe)) == 1 })
	assert.Equal(t, ok, true)

	assert.Equal(t, conn.Complete(h), nil)
	assert.Equal(t, conn.HasHandler(h.ID()), false)

	ok = waitFor(2*time.Second, func() bool { return len(fs.receivedOf(models.TypeComplete)) == 1 })
	assert.Equal(t, ok, true)
	assert.Equal(t, fs.receivedOf(models.TypeComplete)[0].ID, h.ID())

	sc := fs.lastConn()
	sc.sendNext(h.ID(), []byte(`{"count":1}`))
	sc.send(models.NewComplete(h.ID()))

	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, h.dataCount(), 0)
	assert.Equal(t, h.isCompleted(), false)
	assert.Equal(t, conn.IsProtocolValid(), true)
}

func TestConnectionCompleteQueued(t *testing.T) {
	fs := newFakeServer(t)
	conn := NewConnection(fs.settings())
	defer conn.Shutdown()

	h := newRecordingHandler("subscription Counter { count }")
	assert.Equal(t, conn.Execute(h), nil)
	assert.Equal(t, conn.Complete(h), nil)

	conn.Open()
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	assert.Equal(t, conn.WaitState(ctx, Valid), nil)

	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, len(fs.receivedOf(models.TypeSubscribe)), 0)
	assert.Equal(t, len(fs.receivedOf(models.TypeComplete)), 0)
}

func TestConnectionResubscribeAfterReconnect(t *testing.T) {
	fs := newFakeServer(t)
	fs.setOnSubscribe(nil)
	conn := openValid(t, fs, fs.settings())

	h := newRecordingHandler("subscription Counter { count }")
	assert.Equal(t, conn.Execute(h), nil)
	ok := waitFor(2*time.Second, func() bool { return len(fs.receivedOf(models.TypeSubscribe)) == 1 })
	assert.Equal(t, ok, true)

	fs.dropAll()

	ok = waitFor(3*time.Second, func() bool { return len(fs.receivedOf(models.TypeSubscribe)) == 2 })
	assert.Equal(t, ok, true)
	subs := fs.receivedOf(models.TypeSubscribe)
	assert.Equal(t, subs[1].ID, h.ID())
	assert.Equal(t, conn.HasHandler(h.ID()), true)
	assert.Equal(t, conn.InitCount(), int64(2))
}

func TestConnectionFlushWriteFailure(t *testing.T) {
	settings := DefaultSettings("ws://127.0.0.1:1/graphql")
	settings.AutoReconnect = false
	conn := NewConnection(settings)
	defer conn.Shutdown()

	hs := []*recordingHandler{
		newRecordingHandler("subscription A { a }"),
		newRecordingHandler("subscription B { b }"),
		newRecordingHandler("subscription C { c }"),
	}
	var pending []string
	err := conn.do(func() {
		for _, h := range hs {
			if err := conn.registry.Register(h); err != nil {
				t.Errorf("Register() error = %v", err)
			}
			conn.pending = append(conn.pending, h)
		}
		// acked, but the socket is already gone, so the first write fails
		conn.setState(Valid)
		conn.flush()
		for _, h := range conn.pending {
			pending = append(pending, h.ID())
		}
	})
	assert.Equal(t, err, nil)
	assert.Equal(t, pending, []string{hs[0].ID(), hs[1].ID(), hs[2].ID()})
	assert.Equal(t, conn.State(), Disconnected)
}

func TestConnectionCompleteAndPingWriteFailure(t *testing.T) {
	settings := DefaultSettings("ws://127.0.0.1:1/graphql")
	settings.AutoReconnect = false
	conn := NewConnection(settings)
	defer conn.Shutdown()

	kept := newRecordingHandler("subscription A { a }")
	gone := newRecordingHandler("subscription B { b }")
	// registered and subscribed, then the socket went away unnoticed
	err := conn.do(func() {
		conn.registry.Register(kept)
		conn.registry.Register(gone)
		conn.setState(Valid)
	})
	assert.Equal(t, err, nil)

	assert.Equal(t, conn.Complete(gone), nil)
	assert.Equal(t, conn.State(), Disconnected)
	assert.Equal(t, conn.HasHandler(gone.ID()), false)
	var pending []string
	conn.do(func() {
		for _, h := range conn.pending {
			pending = append(pending, h.ID())
		}
		conn.setState(Valid)
	})
	assert.Equal(t, pending, []string{kept.ID()})

	_, err = conn.Ping(context.Background())
	assert.Equal(t, errors.Is(err, ErrNotConnected), true)
	assert.Equal(t, conn.State(), Disconnected)
}

func TestConnectionDropAfterAckSubscribesOnce(t *testing.T) {
	fs := newFakeServer(t)
	fs.setOnSubscribe(nil)
	fs.dropAfterAck.Store(2)

	conn := NewConnection(fs.settings())
	defer conn.Shutdown()

	hs := []*recordingHandler{
		newRecordingHandler("subscription A { a }"),
		newRecordingHandler("subscription B { b }"),
		newRecordingHandler("subscription C { c }"),
	}
	for _, h := range hs {
		assert.Equal(t, conn.Execute(h), nil)
	}
	assert.Equal(t, conn.Open(), nil)

	ok := waitFor(5*time.Second, func() bool {
		if fs.connCount() < 3 {
			return false
		}
		return len(fs.receivedOn(fs.lastConn(), models.TypeSubscribe)) >= len(hs)
	})
	assert.Equal(t, ok, true)
	assert.Equal(t, conn.IsProtocolValid(), true)

	// let any duplicate land before counting
	time.Sleep(100 * time.Millisecond)
	subs := fs.receivedOn(fs.lastConn(), models.TypeSubscribe)
	assert.Equal(t, len(subs), len(hs))
	for i, h := range hs {
		assert.Equal(t, subs[i].ID, h.ID())
	}
	assert.Equal(t, conn.InitCount(), int64(3))
}

func TestConnectionExecuteUnencodable(t *testing.T) {
	fs := newFakeServer(t)
	conn := openValid(t, fs, fs.settings())

	h := newRecordingHandler("query Q($cb: String) { a }")
	h.payload.Variables = models.NewVariables().Set("cb", func() {})
	assert.NotEqual(t, conn.Execute(h), nil)
	assert.Equal(t, conn.HasHandler(h.ID()), false)
	assert.Equal(t, conn.IsProtocolValid(), true)

	settings := fs.settings()
	settings.InitPayload = map[string]interface{}{"ch": make(chan int)}
	bad := NewConnection(settings)
	defer bad.Shutdown()
	assert.NotEqual(t, bad.Open(), nil)
	assert.Equal(t, bad.State(), Disconnected)
}

func TestConnectionPing(t *testing.T) {
	fs := newFakeServer(t)
	settings := fs.settings()
	settings.AutoReconnect = false
	conn := openValid(t, fs, settings)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	rtt, err := conn.Ping(ctx)
	assert.Equal(t, err, nil)
	assert.Equal(t, rtt > 0, true)

	fs.pong.Store(false)
	short, cancelShort := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancelShort()
	_, err = conn.Ping(short)
	assert.Equal(t, errors.Is(err, context.DeadlineExceeded), true)

	// a waiting ping fails as soon as the socket drops
	result := make(chan error, 1)
	go func() {
		_, err := conn.Ping(ctx)
		result <- err
	}()
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, conn.Close(), nil)
	select {
	case err := <-result:
		assert.Equal(t, errors.Is(err, ErrNotConnected), true)
	case <-time.After(time.Second):
		t.Fatal("Ping() still waiting after the socket dropped")
	}

	_, err = conn.Ping(ctx)
	assert.Equal(t, errors.Is(err, ErrNotConnected), true)
}

func TestConnectionDecodeFaults(t *testing.T) {
	fs := newFakeServer(t)
	settings := fs.settings()
	settings.AutoReconnect = false
	conn := openValid(t, fs, settings)

	// a pong resets the fault count, so let the first one land
	ok := waitFor(2*time.Second, func() bool { return !conn.LastPong().IsZero() })
	assert.Equal(t, ok, true)

	sc := fs.lastConn()
	for i := 0; i < MaxDecodeFaults; i++ {
		sc.sendRaw(`{"type":"bogus"}`)
	}
	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, conn.IsProtocolValid(), true)

	sc.sendRaw(`not json`)
	ok = waitFor(2*time.Second, func() bool { return conn.State() == Disconnected })
	assert.Equal(t, ok, true)
}

func TestConnectionShutdown(t *testing.T) {
	fs := newFakeServer(t)
	conn := openValid(t, fs, fs.settings())

	conn.Shutdown()
	assert.Equal(t, conn.IsOpen(), false)
	assert.Equal(t, conn.ReconnectPending(), false)

	h := newRecordingHandler("subscription Counter { count }")
	assert.Equal(t, errors.Is(conn.Execute(h), ErrShutdown), true)
	assert.Equal(t, errors.Is(conn.Open(), ErrShutdown), true)

	// idempotent
	conn.Shutdown()
}

func TestConnectionWatch(t *testing.T) {
	fs := newFakeServer(t)
	conn := NewConnection(fs.settings())
	defer conn.Shutdown()

	seen := make(chan State, 16)
	cancel := conn.Watch(func(s State) {
		select {
		case seen <- s:
		default:
		}
	})
	defer cancel()

	conn.Open()
	want := []State{Connecting, AwaitingAck, Valid}
	for _, w := range want {
		select {
		case s := <-seen:
			assert.Equal(t, s, w)
		case <-time.After(2 * time.Second):
			t.Fatalf("timed out waiting for %s", w)
		}
	}
}

// === Timers ===

func TestLoopTimerStopIsInert(t *testing.T) {
	fire := make(chan timerFire, 1)
	done := make(chan struct{})
	defer close(done)

	lt := newLoopTimer(pongTimer, fire, done)
	lt.Arm(10 * time.Millisecond)
	assert.Equal(t, lt.Active(), true)
	lt.Stop()
	assert.Equal(t, lt.Active(), false)

	select {
	case f := <-fire:
		assert.Equal(t, lt.accept(f), false)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestLoopTimerRearmRejectsStaleFire(t *testing.T) {
	fire := make(chan timerFire, 2)
	done := make(chan struct{})
	defer close(done)

	lt := newLoopTimer(reconnectTimer, fire, done)
	lt.Arm(time.Millisecond)
	stale := <-fire

	lt.Arm(time.Hour)
	assert.Equal(t, lt.accept(stale), false)
	assert.Equal(t, lt.Active(), true)
	lt.Stop()
}

func TestLoopTimerAcceptOnce(t *testing.T) {
	fire := make(chan timerFire, 1)
	done := make(chan struct{})
	defer close(done)

	lt := newLoopTimer(pongTimer, fire, done)
	lt.Arm(time.Millisecond)
	f := <-fire

	assert.Equal(t, lt.accept(f), true)
	assert.Equal(t, lt.Active(), false)
	assert.Equal(t, lt.accept(f), false)
}
