/*
Package server is the inbound HTTP server of the agent. The DIDComm
messages are posted to the service path and the WebSocket connections are
opened to the WebSocket path. Both hand the packed messages to the agent's
inbound.
*/
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/findy-network/findy-didcomm/agent/trans"
	"github.com/findy-network/findy-didcomm/agent/utils"
	"github.com/golang/glog"
)

const (
	DefaultServiceName   = "didcomm"
	DefaultWsServiceName = "ws"

	shutdownTimeout = 5 * time.Second
)

// NewMux returns the handlers of the inbound endpoints and the version.
func NewMux(in trans.Inbound) *http.ServeMux {
	mux := http.NewServeMux()
	mux.Handle(pattern(serviceName()), trans.HTTPHandler(in))
	mux.Handle(pattern(wsServiceName()), trans.WebSocketHandler(in))

	mux.HandleFunc("/version", func(w http.ResponseWriter, r *http.Request) {
		glog.V(5).Infoln("/version requested")
		_, _ = w.Write([]byte(utils.Version))
	})
	return mux
}

// StartHTTPServer serves the inbound endpoints until the context is done.
// The server port is the port to listen. The host address of the endpoints
// is set by BuildHostAddr.
func StartHTTPServer(ctx context.Context, in trans.Inbound, serverPort uint) error {
	server := &http.Server{
		Addr:              fmt.Sprintf(":%v", serverPort),
		Handler:           NewMux(in),
		ReadHeaderTimeout: utils.Settings.Timeout(),
	}
	go func() {
		<-ctx.Done()
		sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := server.Shutdown(sctx); err != nil {
			glog.Warningln("server shutdown:", err)
		}
	}()

	glog.V(1).Infof("HTTP server on port: %v, endpoints: %v", serverPort, Endpoints())
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// BuildHostAddr sets the host address the world sees to the settings. The
// host port is the port on the Internet, which may differ from the server
// port.
func BuildHostAddr(scheme string, hostPort uint) {
	host := utils.Settings.HostAddr()
	if i := strings.Index(host, "://"); i >= 0 {
		host = host[i+3:]
	}
	if hostPort != 80 && hostPort != 443 {
		host = fmt.Sprintf("%s:%v", host, hostPort)
	}
	utils.Settings.SetHostAddr(fmt.Sprintf("%s://%s", scheme, host))
}

// Endpoints returns the HTTP and WebSocket endpoints of the host address.
func Endpoints() []string {
	host := utils.Settings.HostAddr()
	if host == "" {
		return nil
	}
	ws := "ws" + strings.TrimPrefix(host, "http")
	return []string{
		host + "/" + serviceName(),
		ws + "/" + wsServiceName(),
	}
}

func pattern(name string) string {
	return "/" + name
}

func serviceName() string {
	if n := utils.Settings.ServiceName(); n != "" {
		return n
	}
	return DefaultServiceName
}

func wsServiceName() string {
	if n := utils.Settings.WsServiceName(); n != "" {
		return n
	}
	return DefaultWsServiceName
}
