package outofband

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/findy-network/findy-didcomm/agent/didcomm"
	"github.com/findy-network/findy-didcomm/agent/utils"
	"github.com/findy-network/findy-didcomm/std/connection"
	"github.com/lainio/err2"
	"github.com/lainio/err2/try"
)

// QueryParam of the base64url encoded invitation.
const QueryParam = "oob"

// ErrNoInvitation is returned when the URL has no invitation parameter.
var ErrNoInvitation = errors.New("url has no invitation")

// ToURL returns the invitation as URL with oob query parameter.
func (i *Invitation) ToURL(domain string, legacy bool) (s string, err error) {
	defer err2.Handle(&err, "oob invitation to url")

	data := try.To1(didcomm.Marshal(i, legacy))
	u := try.To1(url.Parse(domain))
	q := u.Query()
	q.Set(QueryParam, utils.EncodeB64(data))
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// HasInvitation tells if the URL carries an oob, c_i or d_m parameter.
func HasInvitation(s string) bool {
	u, err := url.Parse(s)
	if err != nil {
		return false
	}
	q := u.Query()
	return q.Has(QueryParam) || q.Has(connection.QueryParam) ||
		q.Has(connection.DirectMessageParam)
}

// ParseURL parses the invitation from the URL. A legacy connection
// invitation is returned in the second value and the first is nil then.
func ParseURL(s string) (inv *Invitation, legacy *connection.Invitation, err error) {
	defer err2.Handle(&err, "parse invitation url")

	u := try.To1(url.Parse(s))
	if encoded := u.Query().Get(QueryParam); encoded != "" {
		inv, err = Decode(try.To1(utils.DecodeB64(encoded)))
		return inv, nil, err
	}
	legacy, err = connection.FromURL(s)
	if errors.Is(err, connection.ErrNoInvitation) {
		return nil, nil, ErrNoInvitation
	}
	return nil, legacy, err
}

// Decode decodes and validates the JSON invitation. Both 1.0 and 1.1
// versions are accepted.
func Decode(data []byte) (inv *Invitation, err error) {
	defer err2.Handle(&err, "decode oob invitation")

	inv = new(Invitation)
	try.To(json.Unmarshal(data, inv))
	inv.Type = didcomm.FromLegacy(inv.Type)
	if !strings.HasSuffix(inv.Type, "/invitation") ||
		!(strings.HasPrefix(inv.Type, Protocol) ||
			strings.HasPrefix(inv.Type, Protocol10)) {
		return nil, fmt.Errorf("wrong invitation type: %s", inv.Type)
	}
	try.To(inv.Validate())
	return inv, nil
}

// FromLegacy converts the legacy connection invitation to out-of-band
// invitation with the connections/1.0 handshake protocol.
func FromLegacy(legacy *connection.Invitation) (inv *Invitation, err error) {
	defer err2.Handle(&err, "oob from legacy invitation")

	try.To(legacy.Validate())
	inv = &Invitation{
		Header:             didcomm.Header{ID: legacy.ID, Type: InvitationType},
		Label:              legacy.Label,
		ImageURL:           legacy.ImageURL,
		HandshakeProtocols: []string{connection.Protocol},
	}
	if legacy.DID != "" {
		inv.Services = []Service{{DID: legacy.DID}}
		return inv, nil
	}
	inv.Services = []Service{{Inline: &InlineService{
		ID:              "#inline",
		Type:            ServiceType,
		RecipientKeys:   legacy.RecipientKeys,
		RoutingKeys:     legacy.RoutingKeys,
		ServiceEndpoint: legacy.ServiceEndpoint,
	}}}
	return inv, nil
}
