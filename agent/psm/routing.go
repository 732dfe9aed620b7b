package psm

import "context"

// Routing is the own key and the endpoints a new connection advertises.
// With mediation the endpoint is the mediator's and the routing keys are
// its keys.
type Routing struct {
	DID         string
	Verkey      string
	Endpoints   []string
	RoutingKeys []string
	MediatorID  string
}

// RoutingProvider allocates the routing for new connections and
// invitations.
type RoutingProvider interface {
	GetRouting(ctx context.Context) (*Routing, error)
}
