/*
Package mediation is the coordinate-mediation and message pickup service.
Recipient is the mediation client of the agent: it requests the mediation
from one mediator, keeps the mediator's keylist up to date for the new keys
and picks up the queued messages with a timer. Recipient is the routing
provider of the other services. Mediator is the other role: it grants the
mediations, forwards the messages to the recipients and queues them when
the recipient can't be reached.
*/
package mediation

import (
	"errors"
	"time"

	"github.com/findy-network/findy-didcomm/agent/psm"
	"github.com/findy-network/findy-didcomm/agent/storage"
)

var (
	ErrDenied  = errors.New("mediation denied")
	ErrTimeout = errors.New("mediator didn't answer in time")
)

// PickupStrategy is the way the recipient gets its queued messages.
type PickupStrategy string

const (
	// PickupBatch polls with batch-pickup messages.
	PickupBatch PickupStrategy = "batch"

	// PickupImplicit sends trust pings with return route and the mediator
	// returns the queued messages to the same session.
	PickupImplicit PickupStrategy = "implicit"

	// PickupNone is for the recipients which have an endpoint of their own.
	PickupNone PickupStrategy = "none"
)

type Config struct {
	// MediatorInvitationURL is the out-of-band invitation of the mediator.
	// Empty means no mediation.
	MediatorInvitationURL string

	// Endpoints of the agent itself. Without them the mediator is the only
	// way to reach the agent.
	Endpoints []string

	PickupStrategy PickupStrategy
	PickupInterval time.Duration
	BatchSize      int
}

func defaultMediation(repo *storage.Repository[*psm.Mediation]) (*psm.Mediation, error) {
	return repo.FindSingleByQuery(storage.TagQuery(
		"role", string(psm.RoleRecipient),
		"default", "true"))
}
