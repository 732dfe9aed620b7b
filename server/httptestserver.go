package server

import (
	"net/http/httptest"

	"github.com/findy-network/findy-didcomm/agent/trans"
	"github.com/findy-network/findy-didcomm/agent/utils"
)

// StartTestHTTPServer starts the inbound endpoints on a local test server
// and sets its URL to the host address of the settings.
func StartTestHTTPServer(in trans.Inbound) *httptest.Server {
	srv := httptest.NewServer(NewMux(in))
	utils.Settings.SetHostAddr(srv.URL)
	return srv
}

// TestEndpoint returns the HTTP endpoint of the test server.
func TestEndpoint(srv *httptest.Server) string {
	return srv.URL + "/" + serviceName()
}

// TestWsEndpoint returns the WebSocket endpoint of the test server.
func TestWsEndpoint(srv *httptest.Server) string {
	return "ws" + srv.URL[len("http"):] + "/" + wsServiceName()
}
