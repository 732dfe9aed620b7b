package psm

import (
	"github.com/findy-network/findy-didcomm/agent/bus"
	"github.com/findy-network/findy-didcomm/agent/storage"
	"github.com/golang/glog"
	"github.com/lainio/err2"
	"github.com/lainio/err2/try"
)

// The functions here persist the record's new state and then publish the
// state change event. A new record is saved and published with an empty
// previous state.

func SaveConnection(repo *storage.Repository[*Connection], b *bus.Bus, c *Connection) (err error) {
	defer err2.Handle(&err, "save connection")

	try.To(repo.Save(c))
	b.Publish(ConnectionStateChanged{Connection: *c})
	return nil
}

// UpdateConnection moves the connection to the next state. Backward
// transitions are protocol state errors.
func UpdateConnection(repo *storage.Repository[*Connection], b *bus.Bus, c *Connection, next ConnectionState) (err error) {
	defer err2.Handle(&err, "update connection %s", c.ID)

	if !c.CanTransition(next) {
		return c.AssertState(next)
	}
	prev := c.State
	c.State = next
	try.To(repo.Update(c))
	glog.V(3).Infof("connection %s: %s -> %s", c.ID, prev, next)
	b.Publish(ConnectionStateChanged{Connection: *c, PreviousState: prev})
	return nil
}

func SaveOutOfBand(repo *storage.Repository[*OutOfBand], b *bus.Bus, o *OutOfBand) (err error) {
	defer err2.Handle(&err, "save out-of-band")

	try.To(repo.Save(o))
	b.Publish(OutOfBandStateChanged{OutOfBand: *o})
	return nil
}

func UpdateOutOfBand(repo *storage.Repository[*OutOfBand], b *bus.Bus, o *OutOfBand, next OutOfBandState) (err error) {
	defer err2.Handle(&err, "update out-of-band %s", o.ID)

	prev := o.State
	o.State = next
	try.To(repo.Update(o))
	glog.V(3).Infof("out-of-band %s: %s -> %s", o.ID, prev, next)
	b.Publish(OutOfBandStateChanged{OutOfBand: *o, PreviousState: prev})
	return nil
}

func SaveMediation(repo *storage.Repository[*Mediation], b *bus.Bus, m *Mediation) (err error) {
	defer err2.Handle(&err, "save mediation")

	try.To(repo.Save(m))
	b.Publish(MediationStateChanged{Mediation: *m})
	return nil
}

func UpdateMediation(repo *storage.Repository[*Mediation], b *bus.Bus, m *Mediation, next MediationState) (err error) {
	defer err2.Handle(&err, "update mediation %s", m.ID)

	prev := m.State
	m.State = next
	try.To(repo.Update(m))
	glog.V(3).Infof("mediation %s: %s -> %s", m.ID, prev, next)
	b.Publish(MediationStateChanged{Mediation: *m, PreviousState: prev})
	return nil
}

func SaveCredentialExchange(repo *storage.Repository[*CredentialExchange], b *bus.Bus, c *CredentialExchange) (err error) {
	defer err2.Handle(&err, "save credential exchange")

	try.To(repo.Save(c))
	b.Publish(CredentialStateChanged{CredentialExchange: *c})
	return nil
}

func UpdateCredentialExchange(repo *storage.Repository[*CredentialExchange], b *bus.Bus, c *CredentialExchange, next CredentialState) (err error) {
	defer err2.Handle(&err, "update credential exchange %s", c.ID)

	prev := c.State
	c.State = next
	try.To(repo.Update(c))
	glog.V(3).Infof("credential exchange %s: %s -> %s", c.ID, prev, next)
	b.Publish(CredentialStateChanged{CredentialExchange: *c, PreviousState: prev})
	return nil
}

func SaveProofExchange(repo *storage.Repository[*ProofExchange], b *bus.Bus, p *ProofExchange) (err error) {
	defer err2.Handle(&err, "save proof exchange")

	try.To(repo.Save(p))
	b.Publish(ProofStateChanged{ProofExchange: *p})
	return nil
}

func UpdateProofExchange(repo *storage.Repository[*ProofExchange], b *bus.Bus, p *ProofExchange, next ProofState) (err error) {
	defer err2.Handle(&err, "update proof exchange %s", p.ID)

	prev := p.State
	p.State = next
	try.To(repo.Update(p))
	glog.V(3).Infof("proof exchange %s: %s -> %s", p.ID, prev, next)
	b.Publish(ProofStateChanged{ProofExchange: *p, PreviousState: prev})
	return nil
}
