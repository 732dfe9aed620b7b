package utils

import (
	"sync"
	"time"

	"github.com/golang/glog"
)

const (
	// HTTPReqTimeout is the default timeout for outbound HTTP and WS sends.
	HTTPReqTimeout = 1 * time.Minute

	// EventTimeout is the default time to wait for a protocol to converge,
	// e.g. mediation grant, keylist update or handshake reuse.
	EventTimeout = 20 * time.Second

	// PickupInterval is the default interval of the mediator pickup timer.
	PickupInterval = 5 * time.Second
)

var Settings = &Hub{}

type Hub struct {
	sync.RWMutex

	hostAddr       string        // host name of the server seen from internet
	serviceName    string        // URL path of the inbound DIDComm endpoint
	wsServiceName  string        // web socket service name
	versionInfo    string        // version number etc. in free format
	timeout        time.Duration // timeout for http requests and connections
	eventTimeout   time.Duration // timeout for protocol convergence waits
	pickupInterval time.Duration // mediator polling interval

	localTestMode bool // tells if are running unit tests
}

func (h *Hub) LocalTestMode() bool {
	h.RLock()
	defer h.RUnlock()
	return h.localTestMode
}

func (h *Hub) SetLocalTestMode(localTestMode bool) {
	h.Lock()
	defer h.Unlock()
	h.localTestMode = localTestMode
}

// SetTimeout sets the default timeout for HTTP and WS requests.
func (h *Hub) SetTimeout(to time.Duration) {
	h.Lock()
	defer h.Unlock()
	h.timeout = to
}

func (h *Hub) Timeout() time.Duration {
	h.RLock()
	defer h.RUnlock()
	if h.timeout == 0 {
		return HTTPReqTimeout
	}
	return h.timeout
}

// SetEventTimeout sets the default timeout used when waiting protocol events.
func (h *Hub) SetEventTimeout(to time.Duration) {
	h.Lock()
	defer h.Unlock()
	h.eventTimeout = to
}

func (h *Hub) EventTimeout() time.Duration {
	h.RLock()
	defer h.RUnlock()
	if h.eventTimeout == 0 {
		return EventTimeout
	}
	return h.eventTimeout
}

func (h *Hub) SetPickupInterval(interval time.Duration) {
	h.Lock()
	defer h.Unlock()
	h.pickupInterval = interval
}

func (h *Hub) PickupInterval() time.Duration {
	h.RLock()
	defer h.RUnlock()
	if h.pickupInterval == 0 {
		return PickupInterval
	}
	return h.pickupInterval
}

// SetServiceName sets the service name of this agent. Service name is used
// in the URLs and endpoint addresses.
func (h *Hub) SetServiceName(n string) {
	h.Lock()
	defer h.Unlock()
	h.serviceName = n
}

func (h *Hub) ServiceName() string {
	h.RLock()
	defer h.RUnlock()
	if h.serviceName == "" && glog.V(3) {
		glog.Info("warning service name is empty")
	}
	return h.serviceName
}

// SetWsName sets web socket service name. It's in the different URL than HTTP.
func (h *Hub) SetWsName(n string) {
	h.Lock()
	defer h.Unlock()
	h.wsServiceName = n
}

func (h *Hub) WsServiceName() string {
	h.RLock()
	defer h.RUnlock()
	return h.wsServiceName
}

// SetVersionInfo sets current version info of this agent.
func (h *Hub) SetVersionInfo(info string) {
	h.Lock()
	defer h.Unlock()
	h.versionInfo = info
}

func (h *Hub) VersionInfo() string {
	h.RLock()
	defer h.RUnlock()
	return h.versionInfo
}

// SetHostAddr sets current host name of this agent. The host name is used in
// the endpoints we advertise in our DID documents.
func (h *Hub) SetHostAddr(ipName string) {
	h.Lock()
	defer h.Unlock()
	h.hostAddr = ipName
}

func (h *Hub) HostAddr() string {
	h.RLock()
	defer h.RUnlock()
	return h.hostAddr
}
