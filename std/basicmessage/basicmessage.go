// Package basicmessage is the basicmessage/1.0 protocol (RFC 0095).
package basicmessage

import (
	"errors"
	"strings"
	"time"

	"github.com/findy-network/findy-didcomm/agent/didcomm"
	"github.com/lainio/err2"
	"github.com/lainio/err2/try"
)

const (
	Protocol    = didcomm.AriesPrefix + "/basicmessage/1.0"
	MessageType = Protocol + "/message"
)

// ISO8601 is the sent_time format most agents use. RFC 3339 is accepted
// too.
const ISO8601 = "2006-01-02 15:04:05.999999Z"

type Message struct {
	didcomm.Header
	Content  string   `json:"content"`
	SentTime SentTime `json:"sent_time"`
}

func NewMessage(content string) *Message {
	return &Message{
		Header:   didcomm.NewHeader(MessageType),
		Content:  content,
		SentTime: SentTime{Time: time.Now().UTC()},
	}
}

// SentTime is the time of the message in the ISO 8601 format.
type SentTime struct {
	time.Time
}

func parseTime(s string) (t time.Time, err error) {
	for _, layout := range []string{ISO8601, time.RFC3339} {
		if t, err = time.Parse(layout, s); err == nil {
			return t, nil
		}
	}
	return t, err
}

func (st *SentTime) UnmarshalJSON(b []byte) (err error) {
	defer err2.Handle(&err, "sent_time")

	t := try.To1(parseTime(strings.Trim(string(b), `"`)))
	*st = SentTime{Time: t}
	return nil
}

func (st SentTime) MarshalJSON() ([]byte, error) {
	t := st.Time
	if y := t.Year(); y < 0 || y >= 10000 {
		return nil, errors.New("sent_time: year outside of range [0,9999]")
	}
	b := make([]byte, 0, len(ISO8601)+2)
	b = append(b, '"')
	b = t.AppendFormat(b, ISO8601)
	b = append(b, '"')
	return b, nil
}
