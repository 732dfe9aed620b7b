package server

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"sync"
	"testing"

	"github.com/findy-network/findy-didcomm/agent/trans"
	"github.com/findy-network/findy-didcomm/agent/utils"
	"github.com/lainio/err2/assert"
	"github.com/lainio/err2/try"
)

type recorder struct {
	lk   sync.Mutex
	msgs [][]byte
}

func (r *recorder) inbound(ctx context.Context, packed []byte, session trans.Session) {
	r.lk.Lock()
	r.msgs = append(r.msgs, packed)
	r.lk.Unlock()
	if bytes.Equal(packed, []byte("ping")) {
		_ = session.Send(ctx, []byte("pong"))
	}
}

func (r *recorder) received() [][]byte {
	r.lk.Lock()
	defer r.lk.Unlock()
	return r.msgs
}

func TestServer_HTTP(t *testing.T) {
	assert.PushTester(t)
	defer assert.PopTester()

	rec := new(recorder)
	srv := StartTestHTTPServer(rec.inbound)
	defer srv.Close()

	resp := try.To1(http.Post(TestEndpoint(srv), trans.MediaType, bytes.NewReader([]byte("hello"))))
	_ = resp.Body.Close()
	assert.Equal(resp.StatusCode, http.StatusOK)

	resp = try.To1(http.Post(TestEndpoint(srv), trans.MediaType, bytes.NewReader([]byte("ping"))))
	body := try.To1(io.ReadAll(resp.Body))
	_ = resp.Body.Close()
	assert.Equal(string(body), "pong")
	assert.Equal(resp.Header.Get("Content-Type"), trans.MediaType)

	resp = try.To1(http.Get(TestEndpoint(srv)))
	_ = resp.Body.Close()
	assert.Equal(resp.StatusCode, http.StatusMethodNotAllowed)

	assert.SLen(rec.received(), 2)
}

func TestServer_Version(t *testing.T) {
	assert.PushTester(t)
	defer assert.PopTester()

	srv := StartTestHTTPServer(new(recorder).inbound)
	defer srv.Close()

	resp := try.To1(http.Get(srv.URL + "/version"))
	body := try.To1(io.ReadAll(resp.Body))
	_ = resp.Body.Close()
	assert.Equal(string(body), utils.Version)
}

func TestBuildHostAddr(t *testing.T) {
	defer utils.Settings.SetHostAddr("")

	tests := []struct {
		name   string
		host   string
		scheme string
		port   uint
		want   string
	}{
		{"default port", "localhost", "http", 80, "http://localhost"},
		{"tls port", "example.com", "https", 443, "https://example.com"},
		{"own port", "localhost", "http", 8080, "http://localhost:8080"},
		{"scheme in host", "http://localhost", "https", 8443, "https://localhost:8443"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.PushTester(t)
			defer assert.PopTester()

			utils.Settings.SetHostAddr(tt.host)
			BuildHostAddr(tt.scheme, tt.port)
			assert.Equal(utils.Settings.HostAddr(), tt.want)
		})
	}
}

func TestEndpoints(t *testing.T) {
	assert.PushTester(t)
	defer assert.PopTester()
	defer utils.Settings.SetHostAddr("")

	utils.Settings.SetHostAddr("")
	assert.SLen(Endpoints(), 0)

	utils.Settings.SetHostAddr("https://example.com")
	assert.DeepEqual(Endpoints(), []string{
		"https://example.com/" + DefaultServiceName,
		"wss://example.com/" + DefaultWsServiceName,
	})
}
