package client

import (
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/yourusername/gqlsync/internal/models"
)

// serverConn is one server side socket of the fake server
type serverConn struct {
	mu sync.Mutex
	ws *websocket.Conn

	// guarded by fakeServer.mu
	received []*models.Envelope
}

func (sc *serverConn) send(env *models.Envelope) error {
	data, err := models.Encode(env)
	if err != nil {
		return err
	}
	sc.mu.Lock()
	defer sc.mu.Unlock()
	return sc.ws.WriteMessage(websocket.TextMessage, data)
}

func (sc *serverConn) sendNext(id string, data []byte) error {
	env, err := models.NewNext(id, models.NextPayload{Data: data})
	if err != nil {
		return err
	}
	return sc.send(env)
}

func (sc *serverConn) sendError(id string, errs models.ErrorList) error {
	env, err := models.NewError(id, errs)
	if err != nil {
		return err
	}
	return sc.send(env)
}

func (sc *serverConn) sendRaw(data string) error {
	sc.mu.Lock()
	defer sc.mu.Unlock()
	return sc.ws.WriteMessage(websocket.TextMessage, []byte(data))
}

// fakeServer speaks graphql-transport-ws with switches for the handshake
// and keepalive, and a scripted subscribe handler
type fakeServer struct {
	srv      *httptest.Server
	upgrader websocket.Upgrader

	ack  atomic.Bool
	pong atomic.Bool
	// dropAfterAck closes that many sockets right after their ack
	dropAfterAck atomic.Int32

	inits atomic.Int32

	mu          sync.Mutex
	conns       []*serverConn
	received    []*models.Envelope
	onSubscribe func(sc *serverConn, id string, payload models.OperationPayload)
}

func newFakeServer(t *testing.T) *fakeServer {
	fs := &fakeServer{
		upgrader: websocket.Upgrader{Subprotocols: []string{models.Subprotocol}},
	}
	fs.ack.Store(true)
	fs.pong.Store(true)
	fs.onSubscribe = countToNine

	fs.srv = httptest.NewServer(http.HandlerFunc(fs.serve))
	t.Cleanup(func() {
		fs.dropAll()
		fs.srv.Close()
	})
	return fs
}

// countToNine streams count 0..9 and completes
func countToNine(sc *serverConn, id string, _ models.OperationPayload) {
	for i := 0; i < 10; i++ {
		sc.sendNext(id, []byte(`{"count":`+strconv.Itoa(i)+`}`))
	}
	sc.send(models.NewComplete(id))
}

func (fs *fakeServer) url() string {
	return "ws" + strings.TrimPrefix(fs.srv.URL, "http")
}

func (fs *fakeServer) settings() *Settings {
	s := DefaultSettings(fs.url())
	s.PingTimeout = time.Second
	s.ReconnectDelay = 100 * time.Millisecond
	s.HandshakeTimeout = time.Second
	s.WriteTimeout = time.Second
	return s
}

func (fs *fakeServer) serve(w http.ResponseWriter, r *http.Request) {
	ws, err := fs.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	sc := &serverConn{ws: ws}
	fs.mu.Lock()
	fs.conns = append(fs.conns, sc)
	fs.mu.Unlock()

	for {
		_, data, err := ws.ReadMessage()
		if err != nil {
			return
		}
		env, err := models.Decode(data)
		if err != nil {
			continue
		}
		fs.mu.Lock()
		fs.received = append(fs.received, env)
		sc.received = append(sc.received, env)
		onSubscribe := fs.onSubscribe
		fs.mu.Unlock()

		switch env.Type {
		case models.TypeConnectionInit:
			fs.inits.Add(1)
			if fs.ack.Load() {
				sc.send(models.NewConnectionAck())
				if fs.dropAfterAck.Add(-1) >= 0 {
					ws.Close()
					return
				}
			}
		case models.TypePing:
			if fs.pong.Load() {
				sc.send(models.NewPong())
			}
		case models.TypeSubscribe:
			payload, _ := env.Subscribe()
			if onSubscribe != nil {
				onSubscribe(sc, env.ID, payload)
			}
		}
	}
}

func (fs *fakeServer) setOnSubscribe(fn func(sc *serverConn, id string, payload models.OperationPayload)) {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	fs.onSubscribe = fn
}

// dropAll closes every server side socket
func (fs *fakeServer) dropAll() {
	fs.mu.Lock()
	conns := fs.conns
	fs.conns = nil
	fs.mu.Unlock()
	for _, sc := range conns {
		sc.ws.Close()
	}
}

func (fs *fakeServer) lastConn() *serverConn {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	if len(fs.conns) == 0 {
		return nil
	}
	return fs.conns[len(fs.conns)-1]
}

// receivedOf returns the envelopes of type typ in arrival order
func (fs *fakeServer) receivedOf(typ models.MessageType) []*models.Envelope {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	var out []*models.Envelope
	for _, env := range fs.received {
		if env.Type == typ {
			out = append(out, env)
		}
	}
	return out
}

// receivedOn returns the envelopes of type typ that arrived on sc
func (fs *fakeServer) receivedOn(sc *serverConn, typ models.MessageType) []*models.Envelope {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	var out []*models.Envelope
	for _, env := range sc.received {
		if env.Type == typ {
			out = append(out, env)
		}
	}
	return out
}

func (fs *fakeServer) connCount() int {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	return len(fs.conns)
}

func (fs *fakeServer) receivedTypes() []models.MessageType {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	out := make([]models.MessageType, 0, len(fs.received))
	for _, env := range fs.received {
		if env.Type != models.TypePing {
			out = append(out, env.Type)
		}
	}
	return out
}

// waitFor polls cond until it holds or timeout passes
func waitFor(timeout time.Duration, cond func() bool) bool {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return true
		}
		time.Sleep(5 * time.Millisecond)
	}
	return cond()
}
