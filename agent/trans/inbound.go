package trans

import (
	"context"
	"io"
	"net/http"
	"sync"

	"github.com/findy-network/findy-didcomm/agent/utils"
	"github.com/golang/glog"
	"github.com/lainio/err2"
	"golang.org/x/net/websocket"
)

// maxMessageSize limits the inbound HTTP body.
const maxMessageSize = 10 << 20

// HTTPHandler is the inbound HTTP endpoint. The message is received
// synchronously and a message return routed to the request's session is
// written to the response.
func HTTPHandler(in Inbound) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer err2.Catch(err2.Err(func(err error) {
			glog.Errorln("http inbound:", err)
			http.Error(w, "bad request", http.StatusBadRequest)
		}))

		if r.Method != http.MethodPost {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		data, err := io.ReadAll(io.LimitReader(r.Body, maxMessageSize))
		if err != nil {
			http.Error(w, "cannot read body", http.StatusBadRequest)
			return
		}
		s := newHTTPSession()
		in(r.Context(), data, s)
		reply := s.reply()

		if len(reply) == 0 {
			w.WriteHeader(http.StatusOK)
			return
		}
		w.Header().Set("Content-Type", MediaType)
		if _, err := w.Write(reply); err != nil {
			glog.Warningln("http reply write:", err)
		}
	})
}

// WebSocketHandler is the inbound WebSocket endpoint. Every message read is
// received with the connection as its session.
func WebSocketHandler(in Inbound) http.Handler {
	return websocket.Handler(func(ws *websocket.Conn) {
		s := newWsSession(ws)
		defer s.Close()

		glog.V(2).Infoln("incoming WebSocket connection from", ws.Request().RemoteAddr)
		for {
			var data []byte
			if err := websocket.Message.Receive(ws, &data); err != nil {
				glog.V(3).Infoln("websocket is closed:", err)
				return
			}
			in(context.Background(), data, s)
		}
	})
}

// httpSession holds the one message which is sent in the HTTP response.
type httpSession struct {
	id string

	lk     sync.Mutex
	msg    []byte
	closed bool
}

func newHTTPSession() *httpSession {
	return &httpSession{id: utils.UUID()}
}

func (s *httpSession) ID() string {
	return s.id
}

func (s *httpSession) Send(_ context.Context, packed []byte) error {
	s.lk.Lock()
	defer s.lk.Unlock()

	if s.closed || s.msg != nil {
		return ErrSessionClosed
	}
	s.msg = packed
	return nil
}

func (s *httpSession) reply() []byte {
	s.lk.Lock()
	defer s.lk.Unlock()

	s.closed = true
	return s.msg
}

func (s *httpSession) Closed() bool {
	s.lk.Lock()
	defer s.lk.Unlock()

	return s.closed || s.msg != nil
}

func (s *httpSession) Close() error {
	s.lk.Lock()
	defer s.lk.Unlock()

	s.closed = true
	return nil
}
