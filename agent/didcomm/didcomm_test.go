package didcomm

import (
	"encoding/json"
	"testing"

	"github.com/lainio/err2/assert"
)

type testMsg struct {
	Header
	Comment string `json:"comment,omitempty"`
}

func TestLegacyRewrite(t *testing.T) {
	tests := []struct {
		name   string
		in     string
		legacy string
		aries  string
	}{
		{"aries", "https://didcomm.org/connections/1.0/request",
			"did:sov:BzCbsNYhMrjHiqZDTUASHg;spec/connections/1.0/request",
			"https://didcomm.org/connections/1.0/request"},
		{"legacy", "did:sov:BzCbsNYhMrjHiqZDTUASHg;spec/trust_ping/1.0/ping",
			"did:sov:BzCbsNYhMrjHiqZDTUASHg;spec/trust_ping/1.0/ping",
			"https://didcomm.org/trust_ping/1.0/ping"},
		{"other", "https://example.org/x/1.0/y",
			"https://example.org/x/1.0/y", "https://example.org/x/1.0/y"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.PushTester(t)
			defer assert.PopTester()

			assert.Equal(ToLegacy(tt.in), tt.legacy)
			assert.Equal(FromLegacy(tt.in), tt.aries)
		})
	}
}

func TestParseType(t *testing.T) {
	assert.PushTester(t)
	defer assert.PopTester()

	mt, err := ParseType("did:sov:BzCbsNYhMrjHiqZDTUASHg;spec/issue-credential/1.0/offer-credential")
	assert.NoError(err)
	assert.Equal(mt.DocURI, AriesPrefix)
	assert.Equal(mt.Protocol, "issue-credential")
	assert.Equal(mt.Version, "1.0")
	assert.Equal(mt.Name, "offer-credential")
	assert.Equal(mt.ProtocolURI(), "https://didcomm.org/issue-credential/1.0")

	_, err = ParseType("nothing")
	assert.Error(err)
}

func TestMarshal_LegacyDoesNotMutate(t *testing.T) {
	assert.PushTester(t)
	defer assert.PopTester()

	m := &testMsg{Header: NewHeader("https://didcomm.org/basicmessage/1.0/message"),
		Comment: "hi"}
	data, err := Marshal(m, true)
	assert.NoError(err)
	assert.Equal(m.Type, "https://didcomm.org/basicmessage/1.0/message")

	var fields map[string]any
	assert.NoError(json.Unmarshal(data, &fields))
	assert.Equal(fields["@type"].(string),
		"did:sov:BzCbsNYhMrjHiqZDTUASHg;spec/basicmessage/1.0/message")
	assert.Equal(fields["comment"].(string), "hi")

	var back testMsg
	assert.NoError(Decode(data, &back))
	assert.Equal(back.Type, m.Type)
	assert.Equal(back.ID, m.ID)
}

func TestHeader_Thread(t *testing.T) {
	assert.PushTester(t)
	defer assert.PopTester()

	h := NewHeader("https://didcomm.org/trust_ping/1.0/ping")
	assert.Equal(h.ThreadID(), h.ID)
	assert.Equal(h.ParentThreadID(), "")

	h.SetThread("", "parent")
	assert.Equal(h.ThreadID(), h.ID)
	assert.Equal(h.ParentThreadID(), "parent")

	h.SetThread("thread", "")
	assert.Equal(h.ThreadID(), "thread")

	h.SetReturnRoute("all")
	assert.Equal(h.ReturnRoute(), "all")

	ph, err := PeekHeader([]byte(`{"@id":"1","@type":"did:sov:BzCbsNYhMrjHiqZDTUASHg;spec/trust_ping/1.0/ping"}`))
	assert.NoError(err)
	assert.Equal(ph.Type, "https://didcomm.org/trust_ping/1.0/ping")

	_, err = PeekHeader([]byte(`{"@id":"1"}`))
	assert.Error(err)
}
