package presentproof

import (
	"context"
	"fmt"
	"sync"

	"github.com/findy-network/findy-didcomm/agent/vc"
	"github.com/sourcegraph/conc/pool"
)

// ledgerRef is a credential's reference to the ledger objects. Timestamp
// selects the revocation status list when RevRegID is set.
type ledgerRef struct {
	SchemaID  string
	CredDefID string
	RevRegID  string
	Timestamp int64
}

// ledgerObjects are the ledger objects of a proof keyed by their IDs. The
// status lists are by the revocation registry ID and the timestamp, since
// the credentials of a proof may refer to the same registry at different
// times.
type ledgerObjects struct {
	lk          sync.Mutex
	schemas     map[string]*vc.Schema
	credDefs    map[string]*vc.CredentialDefinition
	revRegDefs  map[string]*vc.RevocationRegistryDefinition
	statusLists vc.StatusLists
}

// fetchLedgerObjects gets the referred ledger objects concurrently. The
// revocation registry definitions are needed only by the verifier.
func (s *Service) fetchLedgerObjects(ctx context.Context, refs []ledgerRef, revRegDefs bool) (*ledgerObjects, error) {
	o := &ledgerObjects{
		schemas:     make(map[string]*vc.Schema),
		credDefs:    make(map[string]*vc.CredentialDefinition),
		revRegDefs:  make(map[string]*vc.RevocationRegistryDefinition),
		statusLists: make(vc.StatusLists),
	}
	p := pool.New().WithContext(ctx).WithCancelOnError()
	seen := make(map[string]bool)
	once := func(kind, id string) bool {
		if id == "" || seen[kind+id] {
			return false
		}
		seen[kind+id] = true
		return true
	}

	for _, ref := range refs {
		ref := ref
		if once("schema", ref.SchemaID) {
			p.Go(func(ctx context.Context) error {
				sc, err := s.ledger.GetSchema(ctx, ref.SchemaID)
				if err != nil {
					return err
				}
				o.lk.Lock()
				o.schemas[ref.SchemaID] = sc
				o.lk.Unlock()
				return nil
			})
		}
		if once("credDef", ref.CredDefID) {
			p.Go(func(ctx context.Context) error {
				cd, err := s.ledger.GetCredentialDefinition(ctx, ref.CredDefID)
				if err != nil {
					return err
				}
				o.lk.Lock()
				o.credDefs[ref.CredDefID] = cd
				o.lk.Unlock()
				return nil
			})
		}
		if revRegDefs && once("revRegDef", ref.RevRegID) {
			p.Go(func(ctx context.Context) error {
				r, err := s.ledger.GetRevocationRegistryDefinition(ctx, ref.RevRegID)
				if err != nil {
					return err
				}
				o.lk.Lock()
				o.revRegDefs[ref.RevRegID] = r
				o.lk.Unlock()
				return nil
			})
		}
		if ref.RevRegID != "" && ref.Timestamp != 0 &&
			once("statusList", fmt.Sprintf("%s@%d", ref.RevRegID, ref.Timestamp)) {
			p.Go(func(ctx context.Context) error {
				l, err := s.ledger.GetRevocationStatusList(ctx, ref.RevRegID, ref.Timestamp)
				if err != nil {
					return err
				}
				o.lk.Lock()
				o.statusLists.Add(ref.RevRegID, ref.Timestamp, l)
				o.lk.Unlock()
				return nil
			})
		}
	}
	if err := p.Wait(); err != nil {
		return nil, err
	}
	return o, nil
}
