package sec

import (
	"errors"
	"fmt"

	"github.com/findy-network/findy-didcomm/agent/storage"
	"github.com/hyperledger/aries-framework-go/pkg/kms"
	"github.com/hyperledger/aries-framework-go/pkg/kms/localkms"
	"github.com/hyperledger/aries-framework-go/pkg/secretlock"
	"github.com/hyperledger/aries-framework-go/pkg/secretlock/noop"
	"github.com/lainio/err2"
	"github.com/lainio/err2/try"
)

const primaryKeyURI = "local-lock://findy-didcomm/wallet/"

// keysetRecord is one tink keyset of the local KMS.
type keysetRecord struct {
	storage.BaseRecord
	Keyset []byte `json:"keyset"`
}

func (k *keysetRecord) RecordType() string {
	return "KeysetRecord"
}

func (k *keysetRecord) TagValues() map[string]string {
	return nil
}

// kmsStore keeps the keysets of the KMS in the agent storage.
type kmsStore struct {
	keysets *storage.Repository[*keysetRecord]
}

func (s *kmsStore) Put(keysetID string, key []byte) error {
	return s.keysets.Save(&keysetRecord{
		BaseRecord: storage.BaseRecord{ID: keysetID},
		Keyset:     key,
	})
}

func (s *kmsStore) Get(keysetID string) (key []byte, err error) {
	defer err2.Handle(&err, "kms store get")

	rec := try.To1(s.keysets.FindByID(keysetID))
	if rec == nil {
		return nil, fmt.Errorf("keyset %s: %w", keysetID, kms.ErrKeyNotFound)
	}
	return rec.Keyset, nil
}

func (s *kmsStore) Delete(keysetID string) error {
	err := s.keysets.DeleteByID(keysetID)
	if errors.Is(err, storage.ErrNotFound) {
		return nil
	}
	return err
}

type kmsProvider struct {
	store kms.Store
	lock  secretlock.Service
}

func (p *kmsProvider) StorageProvider() kms.Store {
	return p.store
}

func (p *kmsProvider) SecretLock() secretlock.Service {
	return p.lock
}

// has tells if the keyset is stored.
func (s *kmsStore) has(keysetID string) (bool, error) {
	rec, err := s.keysets.FindByID(keysetID)
	return rec != nil, err
}

func newKMS(store storage.Store) (ks *kmsStore, km kms.KeyManager, err error) {
	defer err2.Handle(&err, "new kms")

	ks = &kmsStore{keysets: storage.NewRepository(store,
		func() *keysetRecord { return new(keysetRecord) })}
	p := &kmsProvider{store: ks, lock: &noop.NoLock{}}
	return ks, try.To1(localkms.New(primaryKeyURI, p)), nil
}
