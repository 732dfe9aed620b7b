package connection

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/url"

	"github.com/findy-network/findy-didcomm/agent/didcomm"
	"github.com/findy-network/findy-didcomm/agent/utils"
	"github.com/lainio/err2"
	"github.com/lainio/err2/try"
)

const (
	// QueryParam is the invitation URL's query parameter of the base64url
	// encoded invitation.
	QueryParam = "c_i"
	// DirectMessageParam is used by some agents for the same purpose.
	DirectMessageParam = "d_m"
)

// ErrNoInvitation is returned when the URL doesn't have invitation.
var ErrNoInvitation = errors.New("url has no connection invitation")

// Validate checks that the invitation has either a DID or inline keys with
// an endpoint, but not both.
func (i *Invitation) Validate() error {
	hasDID := i.DID != ""
	hasKeys := len(i.RecipientKeys) > 0 || i.ServiceEndpoint != ""
	switch {
	case hasDID && hasKeys:
		return errors.New("invitation has both DID and inline keys")
	case !hasDID && !hasKeys:
		return errors.New("invitation has neither DID nor inline keys")
	case hasKeys && (len(i.RecipientKeys) == 0 || i.ServiceEndpoint == ""):
		return errors.New("inline invitation must have recipient keys and endpoint")
	}
	return nil
}

// ToURL returns the invitation as URL where it is base64url encoded in c_i
// query parameter.
func (i *Invitation) ToURL(domain string, legacy bool) (s string, err error) {
	defer err2.Handle(&err, "invitation to url")

	data := try.To1(didcomm.Marshal(i, legacy))
	u := try.To1(url.Parse(domain))
	q := u.Query()
	q.Set(QueryParam, utils.EncodeB64(data))
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// FromURL parses the invitation from the c_i or d_m query parameter.
func FromURL(s string) (inv *Invitation, err error) {
	defer err2.Handle(&err, "invitation from url")

	u := try.To1(url.Parse(s))
	q := u.Query()
	encoded := q.Get(QueryParam)
	if encoded == "" {
		encoded = q.Get(DirectMessageParam)
	}
	if encoded == "" {
		return nil, ErrNoInvitation
	}
	data := try.To1(utils.DecodeB64(encoded))
	inv = new(Invitation)
	try.To(json.Unmarshal(data, inv))
	inv.Type = didcomm.FromLegacy(inv.Type)
	if inv.Type != InvitationType {
		return nil, fmt.Errorf("wrong invitation type: %s", inv.Type)
	}
	return inv, nil
}
