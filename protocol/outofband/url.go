package outofband

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime"
	"net/http"

	"github.com/findy-network/findy-didcomm/agent/didcomm"
	"github.com/findy-network/findy-didcomm/agent/utils"
	stdcon "github.com/findy-network/findy-didcomm/std/connection"
	"github.com/findy-network/findy-didcomm/std/outofband"
	"github.com/lainio/err2"
	"github.com/lainio/err2/try"
)

const maxInvitationSize = 1 << 20

// shortURLClient doesn't follow the redirects. The Location header is the
// invitation URL.
var shortURLClient = &http.Client{
	CheckRedirect: func(*http.Request, []*http.Request) error {
		return http.ErrUseLastResponse
	},
}

// ParseInvitationURL returns the out-of-band invitation of the URL. The
// legacy connection invitations are converted to out-of-band invitations
// with the connections handshake. URLs without invitation parameter are
// short URLs which are resolved with GET.
func ParseInvitationURL(ctx context.Context, s string) (inv *outofband.Invitation, err error) {
	defer err2.Handle(&err, "parse invitation url")

	if outofband.HasInvitation(s) {
		return fromURL(s)
	}
	return resolveShortURL(ctx, s)
}

func fromURL(s string) (*outofband.Invitation, error) {
	inv, legacy, err := outofband.ParseURL(s)
	if err != nil {
		return nil, err
	}
	if legacy != nil {
		return outofband.FromLegacy(legacy)
	}
	return inv, nil
}

func resolveShortURL(ctx context.Context, s string) (inv *outofband.Invitation, err error) {
	defer err2.Handle(&err, "resolve short url %s", s)

	ctx, cancel := context.WithTimeout(ctx, utils.Settings.Timeout())
	defer cancel()

	req := try.To1(http.NewRequestWithContext(ctx, http.MethodGet, s, nil))
	req.Header.Set("Accept", "application/json")
	resp := try.To1(shortURLClient.Do(req))
	defer resp.Body.Close()

	if resp.StatusCode >= 300 && resp.StatusCode < 400 {
		loc := resp.Header.Get("Location")
		if !outofband.HasInvitation(loc) {
			return nil, fmt.Errorf("redirect without invitation: %q", loc)
		}
		return fromURL(loc)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("status: %s", resp.Status)
	}
	mt, _, _ := mime.ParseMediaType(resp.Header.Get("Content-Type"))
	if mt != "application/json" {
		return nil, fmt.Errorf("content type %q", mt)
	}
	data := try.To1(io.ReadAll(io.LimitReader(resp.Body, maxInvitationSize)))
	return decodeInvitation(data)
}

// decodeInvitation decodes out-of-band or legacy connection invitation.
func decodeInvitation(data []byte) (inv *outofband.Invitation, err error) {
	defer err2.Handle(&err)

	hdr := try.To1(didcomm.PeekHeader(data))
	if hdr.Type != stdcon.InvitationType {
		return outofband.Decode(data)
	}
	legacy := new(stdcon.Invitation)
	try.To(json.Unmarshal(data, legacy))
	return outofband.FromLegacy(legacy)
}
