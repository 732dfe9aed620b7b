package mediation

import (
	"context"
	"sort"

	"github.com/findy-network/findy-didcomm/agent/bus"
	"github.com/findy-network/findy-didcomm/agent/comm"
	"github.com/findy-network/findy-didcomm/agent/psm"
	"github.com/findy-network/findy-didcomm/agent/storage"
	"github.com/findy-network/findy-didcomm/agent/trans"
	"github.com/findy-network/findy-didcomm/std/common"
	"github.com/findy-network/findy-didcomm/std/did"
	"github.com/findy-network/findy-didcomm/std/mediate"
	"github.com/findy-network/findy-didcomm/std/pickup"
	"github.com/golang/glog"
	"github.com/lainio/err2"
	"github.com/lainio/err2/try"
)

// Mediator grants every mediation request. The routing key of a mediation
// is our key of its connection.
type Mediator struct {
	endpoint string
	repos    *psm.Repos
	bus      *bus.Bus
	sender   *comm.Sender
	inbound  trans.Inbound
}

// NewMediator creates the mediator which advertises the endpoint. The
// forward messages to our own keys are passed to the inbound.
func NewMediator(
	endpoint string,
	repos *psm.Repos,
	b *bus.Bus,
	sender *comm.Sender,
	inbound trans.Inbound,
) *Mediator {
	return &Mediator{
		endpoint: endpoint,
		repos:    repos,
		bus:      b,
		sender:   sender,
		inbound:  inbound,
	}
}

// Start makes the mediator the message queue of the sender.
func (m *Mediator) Start() {
	m.sender.SetQueue(m)
}

func (m *Mediator) Processor() comm.ProtProc {
	return comm.ProtProc{
		Handlers: map[string]comm.HandlerFunc{
			mediate.RequestType:       m.handleRequest,
			mediate.KeylistUpdateType: m.handleKeylistUpdate,
			mediate.KeylistQueryType:  m.handleKeylistQuery,
			common.ForwardType:        m.handleForward,
			pickup.BatchPickupType:    m.handleBatchPickup,
			pickup.StatusRequestType:  m.handleStatusRequest,
		},
	}
}

func (m *Mediator) handleRequest(_ context.Context, mc *comm.MessageContext) (_ *comm.OutboundMessage, err error) {
	defer err2.Handle(&err, "mediate request")

	conn := try.To1(mc.AssertReadyConnection())
	var req mediate.Request
	try.To(mc.Decode(&req))

	med := try.To1(m.byConnection(conn.ID))
	if med == nil {
		med = psm.NewMediation()
		med.State = psm.MediationRequested
		med.Role = psm.RoleMediator
		med.ConnectionID = conn.ID
		med.ThreadID = req.ID
		try.To(psm.SaveMediation(m.repos.Mediations, m.bus, med))
	}
	if med.State != psm.MediationGranted {
		med.Endpoint = m.endpoint
		med.RoutingKeys = []string{conn.Verkey}
		try.To(psm.UpdateMediation(m.repos.Mediations, m.bus, med, psm.MediationGranted))
	}
	glog.V(1).Infoln("mediation", med.ID, "granted to connection", conn.ID)
	return comm.NewOutbound(mediate.NewGrant(req.ID, med.Endpoint, med.RoutingKeys), conn), nil
}

func (m *Mediator) handleKeylistUpdate(_ context.Context, mc *comm.MessageContext) (_ *comm.OutboundMessage, err error) {
	defer err2.Handle(&err, "keylist update")

	conn := try.To1(mc.AssertReadyConnection())
	var u mediate.KeylistUpdate
	try.To(mc.Decode(&u))
	med := try.To1(m.grantedFor(conn.ID))

	updated := make([]mediate.Updated, 0, len(u.Updates))
	for _, upd := range u.Updates {
		key := did.NormalizeKey(upd.RecipientKey)
		result := mediate.ResultSuccess
		switch {
		case key == "":
			result = mediate.ResultClientError
		case upd.Action == mediate.ActionAdd:
			if !med.AddKey(key) {
				result = mediate.ResultNoChange
			}
		case upd.Action == mediate.ActionRemove:
			if !med.RemoveKey(key) {
				result = mediate.ResultNoChange
			}
		default:
			result = mediate.ResultClientError
		}
		updated = append(updated, mediate.Updated{
			RecipientKey: upd.RecipientKey,
			Action:       upd.Action,
			Result:       result,
		})
	}
	try.To(m.repos.Mediations.Update(med))
	return comm.NewOutbound(mediate.NewKeylistUpdateResponse(u.ID, updated), conn), nil
}

func (m *Mediator) handleKeylistQuery(_ context.Context, mc *comm.MessageContext) (_ *comm.OutboundMessage, err error) {
	defer err2.Handle(&err, "keylist query")

	conn := try.To1(mc.AssertReadyConnection())
	var q mediate.KeylistQuery
	try.To(mc.Decode(&q))
	med := try.To1(m.grantedFor(conn.ID))
	return comm.NewOutbound(mediate.NewKeylist(q.ID, med.RecipientKeys), conn), nil
}

// handleForward passes the message on to the recipient of the key. The
// messages to keys which no mediation has are ours.
func (m *Mediator) handleForward(ctx context.Context, mc *comm.MessageContext) (_ *comm.OutboundMessage, err error) {
	defer err2.Handle(&err, "forward")

	var fwd common.Forward
	try.To(mc.Decode(&fwd))
	to := did.NormalizeKey(fwd.To)

	med := try.To1(m.repos.Mediations.FindSingleByQuery(storage.TagQuery(
		psm.RecipientKeyTag(to), "1",
		"role", string(psm.RoleMediator))))
	if med == nil {
		glog.V(3).Infoln("forward to own key", to)
		m.inbound(ctx, fwd.Msg, nil)
		return nil, nil
	}
	conn := try.To1(m.repos.Connections.GetByID(med.ConnectionID))
	glog.V(3).Infoln("forwarding to", to, "of mediation", med.ID)
	try.To(m.sender.SendPacked(ctx, to, fwd.Msg, conn))
	return nil, nil
}

func (m *Mediator) handleBatchPickup(ctx context.Context, mc *comm.MessageContext) (_ *comm.OutboundMessage, err error) {
	defer err2.Handle(&err, "batch pickup")

	conn := try.To1(mc.AssertReadyConnection())
	var p pickup.BatchPickup
	try.To(mc.Decode(&p))

	queued := try.To1(m.Dequeue(ctx, conn, p.BatchSize))
	msgs := make([]pickup.BatchMessage, 0, len(queued))
	for _, q := range queued {
		msgs = append(msgs, pickup.BatchMessage{ID: q.ID, Message: q.Message})
	}
	glog.V(3).Infoln("batch of", len(msgs), "to connection", conn.ID)
	return comm.NewOutbound(pickup.NewBatch(p.ID, msgs), conn), nil
}

func (m *Mediator) handleStatusRequest(_ context.Context, mc *comm.MessageContext) (_ *comm.OutboundMessage, err error) {
	defer err2.Handle(&err, "status request")

	conn := try.To1(mc.AssertReadyConnection())
	var req pickup.StatusRequest
	try.To(mc.Decode(&req))

	queued := try.To1(m.queued(conn))
	return comm.NewOutbound(pickup.NewStatus(req.ID, len(queued)), conn), nil
}

// Enqueue holds the message until the recipient picks it up.
func (m *Mediator) Enqueue(_ context.Context, recipientKey string, packed []byte) (err error) {
	defer err2.Handle(&err, "enqueue")

	q := psm.NewQueuedMessage()
	q.RecipientKey = recipientKey
	q.Message = packed
	try.To(m.repos.Queue.Save(q))
	glog.V(3).Infoln("queued", q.ID, "for", recipientKey)
	return nil
}

// Dequeue takes the oldest messages of the recipient. The messages are
// removed from the queue.
func (m *Mediator) Dequeue(_ context.Context, conn *psm.Connection, max int) (msgs []*psm.QueuedMessage, err error) {
	defer err2.Handle(&err, "dequeue")

	msgs = try.To1(m.queued(conn))
	if max > 0 && len(msgs) > max {
		msgs = msgs[:max]
	}
	for _, q := range msgs {
		try.To(m.repos.Queue.Delete(q))
	}
	return msgs, nil
}

// queued returns the messages to the keylist of the connection's mediation
// and to the connection itself, the oldest first.
func (m *Mediator) queued(conn *psm.Connection) (msgs []*psm.QueuedMessage, err error) {
	defer err2.Handle(&err)

	keys := make([]string, 0, 4)
	if k := conn.TheirKey(); k != "" {
		keys = append(keys, k)
	}
	if med := try.To1(m.byConnection(conn.ID)); med != nil {
		keys = append(keys, med.RecipientKeys...)
	}
	if len(keys) == 0 {
		return nil, nil
	}
	var q storage.Query
	for _, k := range keys {
		q.Or = append(q.Or, storage.TagQuery("recipientKey", k))
	}
	msgs = try.To1(m.repos.Queue.FindByQuery(q))
	sort.SliceStable(msgs, func(i, j int) bool {
		return msgs[i].CreatedAt.Before(msgs[j].CreatedAt)
	})
	return msgs, nil
}

func (m *Mediator) byConnection(connID string) (*psm.Mediation, error) {
	return m.repos.Mediations.FindSingleByQuery(storage.TagQuery(
		"connectionId", connID, "role", string(psm.RoleMediator)))
}

func (m *Mediator) grantedFor(connID string) (med *psm.Mediation, err error) {
	defer err2.Handle(&err)

	med = try.To1(m.repos.Mediations.GetSingleByQuery(storage.TagQuery(
		"connectionId", connID, "role", string(psm.RoleMediator))))
	try.To(med.AssertState(psm.MediationGranted))
	return med, nil
}
