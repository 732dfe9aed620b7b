package psm

import "github.com/findy-network/findy-didcomm/agent/storage"

// Repos has the repositories of all the records of the agent. They share one
// store.
type Repos struct {
	Connections          *storage.Repository[*Connection]
	OutOfBands           *storage.Repository[*OutOfBand]
	Mediations           *storage.Repository[*Mediation]
	CredentialExchanges  *storage.Repository[*CredentialExchange]
	Credentials          *storage.Repository[*Credential]
	RevocationRegistries *storage.Repository[*RevocationRegistry]
	ProofExchanges       *storage.Repository[*ProofExchange]
	Messages             DIDCommMessageRepository
	Queue                *storage.Repository[*QueuedMessage]
	BasicMessages        *storage.Repository[*BasicMessage]
}

func NewRepos(store storage.Store) *Repos {
	return &Repos{
		Connections:          storage.NewRepository(store, NewConnection),
		OutOfBands:           storage.NewRepository(store, NewOutOfBand),
		Mediations:           storage.NewRepository(store, NewMediation),
		CredentialExchanges:  storage.NewRepository(store, NewCredentialExchange),
		Credentials:          storage.NewRepository(store, NewCredential),
		RevocationRegistries: storage.NewRepository(store, NewRevocationRegistry),
		ProofExchanges:       storage.NewRepository(store, NewProofExchange),
		Messages: DIDCommMessageRepository{
			Repository: storage.NewRepository(store, NewDIDCommMessage),
		},
		Queue:         storage.NewRepository(store, NewQueuedMessage),
		BasicMessages: storage.NewRepository(store, NewBasicMessage),
	}
}
