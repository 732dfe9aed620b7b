package trans

import (
	"context"
	"sync"

	"github.com/findy-network/findy-didcomm/agent/utils"
	"github.com/golang/glog"
	"github.com/lainio/err2"
	"github.com/lainio/err2/try"
	"golang.org/x/net/websocket"
)

// WebSocket is the outbound WebSocket transport. It keeps one connection per
// endpoint and reads the messages the other end sends back to it.
type WebSocket struct {
	in Inbound

	lk    sync.Mutex
	conns map[string]*wsSession
}

func NewWebSocket() *WebSocket {
	return &WebSocket{conns: make(map[string]*wsSession)}
}

func (w *WebSocket) Schemes() []string {
	return []string{"ws", "wss"}
}

func (w *WebSocket) Start(in Inbound) {
	w.in = in
}

func (w *WebSocket) Send(ctx context.Context, endpoint string, packed []byte) (err error) {
	defer err2.Handle(&err, "ws send to %s", endpoint)

	s := try.To1(w.conn(endpoint))
	if err := s.Send(ctx, packed); err != nil {
		w.drop(endpoint, s)
		return err
	}
	return nil
}

func (w *WebSocket) conn(endpoint string) (s *wsSession, err error) {
	w.lk.Lock()
	defer w.lk.Unlock()

	if s, ok := w.conns[endpoint]; ok && !s.Closed() {
		return s, nil
	}
	// Our server doesn't check the origin but it must be a valid URL.
	origin := "http://localhost/"
	ws, err := websocket.Dial(endpoint, "", origin)
	if err != nil {
		return nil, err
	}
	s = newWsSession(ws)
	w.conns[endpoint] = s
	go w.listen(endpoint, s)
	return s, nil
}

func (w *WebSocket) listen(endpoint string, s *wsSession) {
	defer w.drop(endpoint, s)

	for {
		var data []byte
		if err := websocket.Message.Receive(s.ws, &data); err != nil {
			glog.V(3).Infoln("websocket is closed:", endpoint, err)
			return
		}
		if w.in != nil {
			w.in(context.Background(), data, s)
		}
	}
}

func (w *WebSocket) drop(endpoint string, s *wsSession) {
	w.lk.Lock()
	if w.conns[endpoint] == s {
		delete(w.conns, endpoint)
	}
	w.lk.Unlock()
	_ = s.Close()
}

func (w *WebSocket) Stop() error {
	w.lk.Lock()
	conns := w.conns
	w.conns = make(map[string]*wsSession)
	w.lk.Unlock()

	for _, s := range conns {
		_ = s.Close()
	}
	return nil
}

type wsSession struct {
	id string
	ws *websocket.Conn

	lk     sync.Mutex
	closed bool
}

func newWsSession(ws *websocket.Conn) *wsSession {
	return &wsSession{id: utils.UUID(), ws: ws}
}

func (s *wsSession) ID() string {
	return s.id
}

func (s *wsSession) Send(_ context.Context, packed []byte) error {
	s.lk.Lock()
	defer s.lk.Unlock()

	return websocket.Message.Send(s.ws, packed)
}

func (s *wsSession) Closed() bool {
	s.lk.Lock()
	defer s.lk.Unlock()

	return s.closed
}

func (s *wsSession) Close() error {
	s.lk.Lock()
	defer s.lk.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true
	return s.ws.Close()
}
