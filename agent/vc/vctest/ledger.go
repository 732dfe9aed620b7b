/*
Package vctest has in-memory implementations of the credential Engine and the
Ledger for tests and the local demo mode. They don't do any real
cryptography: credentials are plain JSON and proofs reveal what they prove.
*/
package vctest

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/findy-network/findy-didcomm/agent/vc"
)

// Ledger is an in-memory vc.Ledger. Status lists keep their history.
type Ledger struct {
	lk         sync.Mutex
	schemas    map[string]*vc.Schema
	credDefs   map[string]*vc.CredentialDefinition
	revRegDefs map[string]*vc.RevocationRegistryDefinition
	statuses   map[string][]*vc.RevocationStatusList
}

func NewLedger() *Ledger {
	return &Ledger{
		schemas:    make(map[string]*vc.Schema),
		credDefs:   make(map[string]*vc.CredentialDefinition),
		revRegDefs: make(map[string]*vc.RevocationRegistryDefinition),
		statuses:   make(map[string][]*vc.RevocationStatusList),
	}
}

func (l *Ledger) RegisterSchema(_ context.Context, s *vc.Schema) (string, error) {
	l.lk.Lock()
	defer l.lk.Unlock()

	if s.ID == "" {
		s.ID = fmt.Sprintf("%s:2:%s:%s", s.IssuerID, s.Name, s.Version)
	}
	cp := *s
	l.schemas[s.ID] = &cp
	return s.ID, nil
}

func (l *Ledger) GetSchema(_ context.Context, id string) (*vc.Schema, error) {
	l.lk.Lock()
	defer l.lk.Unlock()

	s, ok := l.schemas[id]
	if !ok {
		return nil, fmt.Errorf("schema %s not found", id)
	}
	cp := *s
	return &cp, nil
}

func (l *Ledger) RegisterCredentialDefinition(_ context.Context, cd *vc.CredentialDefinition) (string, error) {
	l.lk.Lock()
	defer l.lk.Unlock()

	if cd.ID == "" {
		cd.ID = fmt.Sprintf("%s:3:CL:%s:%s", cd.IssuerID, cd.SchemaID, cd.Tag)
	}
	cp := *cd
	l.credDefs[cd.ID] = &cp
	return cd.ID, nil
}

func (l *Ledger) GetCredentialDefinition(_ context.Context, id string) (*vc.CredentialDefinition, error) {
	l.lk.Lock()
	defer l.lk.Unlock()

	cd, ok := l.credDefs[id]
	if !ok {
		return nil, fmt.Errorf("credential definition %s not found", id)
	}
	cp := *cd
	return &cp, nil
}

func (l *Ledger) RegisterRevocationRegistryDefinition(_ context.Context, r *vc.RevocationRegistryDefinition) (string, error) {
	l.lk.Lock()
	defer l.lk.Unlock()

	if r.ID == "" {
		r.ID = fmt.Sprintf("%s:4:%s:CL_ACCUM:%s", r.IssuerID, r.CredDefID, r.Tag)
	}
	cp := *r
	l.revRegDefs[r.ID] = &cp
	l.statuses[r.ID] = append(l.statuses[r.ID], &vc.RevocationStatusList{
		RevRegDefID: r.ID,
		Timestamp:   time.Now().Unix(),
	})
	return r.ID, nil
}

func (l *Ledger) GetRevocationRegistryDefinition(_ context.Context, id string) (*vc.RevocationRegistryDefinition, error) {
	l.lk.Lock()
	defer l.lk.Unlock()

	r, ok := l.revRegDefs[id]
	if !ok {
		return nil, fmt.Errorf("revocation registry %s not found", id)
	}
	cp := *r
	return &cp, nil
}

func (l *Ledger) GetRevocationStatusList(_ context.Context, revRegDefID string, timestamp int64) (*vc.RevocationStatusList, error) {
	l.lk.Lock()
	defer l.lk.Unlock()

	var found *vc.RevocationStatusList
	for _, s := range l.statuses[revRegDefID] {
		if s.Timestamp <= timestamp {
			found = s
		}
	}
	if found == nil {
		return nil, fmt.Errorf("no status list of %s at %d", revRegDefID, timestamp)
	}
	cp := *found
	cp.Revoked = append([]int(nil), found.Revoked...)
	return &cp, nil
}

func (l *Ledger) RegisterRevocationStatusList(_ context.Context, s *vc.RevocationStatusList) error {
	l.lk.Lock()
	defer l.lk.Unlock()

	if _, ok := l.revRegDefs[s.RevRegDefID]; !ok {
		return fmt.Errorf("revocation registry %s not found", s.RevRegDefID)
	}
	cp := *s
	cp.Revoked = append([]int(nil), s.Revoked...)
	sort.Ints(cp.Revoked)
	if cp.Timestamp == 0 {
		cp.Timestamp = time.Now().Unix()
	}
	l.statuses[s.RevRegDefID] = append(l.statuses[s.RevRegDefID], &cp)
	return nil
}
