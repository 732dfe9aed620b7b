package cmd

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/findy-network/findy-didcomm/agent/psm"
	"github.com/findy-network/findy-didcomm/agent/utils"
	"github.com/findy-network/findy-didcomm/protocol/connection"
	"github.com/findy-network/findy-didcomm/protocol/mediation"
	"github.com/lainio/err2/assert"
	"github.com/lainio/err2/try"
	"github.com/spf13/viper"
)

var dir string

func TestMain(m *testing.M) {
	setUp()
	code := m.Run()
	tearDown()
	os.Exit(code)
}

func setUp() {
	dir = try.To1(os.MkdirTemp("", "cmd-test"))
}

func tearDown() {
	_ = os.RemoveAll(dir)
}

func TestGetEnvName(t *testing.T) {
	assert.PushTester(t)
	defer assert.PopTester()

	assert.Equal(getEnvName("", "config"), "FDID_CONFIG")
	assert.Equal(getEnvName("serve", "INVITATION"), "FDID_SERVE_INVITATION")
	assert.Equal(flagInfo("label", "", "LABEL"), "label, FDID_LABEL")
}

func TestURLBase(t *testing.T) {
	assert.PushTester(t)
	defer assert.PopTester()

	assert.Equal(urlBase(nil), "https://didcomm.org/oob")
	assert.Equal(urlBase([]string{"http://localhost:8080"}), "http://localhost:8080")
}

func TestBindEnvs(t *testing.T) {
	assert.PushTester(t)
	defer assert.PopTester()

	t.Setenv("FDID_TEST_VALUE", "from env")
	try.To(BindEnvs(map[string]string{"test-value": "VALUE"}, "test"))
	assert.Equal(viper.GetString("test-value"), "from env")
}

func TestParseAutoAccept(t *testing.T) {
	tests := []struct {
		in   string
		want psm.AutoAccept
		ok   bool
	}{
		{"always", psm.AutoAcceptAlways, true},
		{"contentApproved", psm.AutoAcceptContentApproved, true},
		{"never", psm.AutoAcceptNever, true},
		{"sometimes", "", false},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.in, func(t *testing.T) {
			assert.PushTester(t)
			defer assert.PopTester()

			got, err := parseAutoAccept(tt.in)
			assert.Equal(err == nil, tt.ok)
			assert.Equal(got, tt.want)
		})
	}
}

func testFlags() AgentFlags {
	return AgentFlags{
		Label:                 "tester",
		StoragePath:           filepath.Join(dir, "tester.bolt"),
		HostAddr:              "agent.example.com",
		HostPort:              443,
		ServerPort:            8080,
		ServiceName:           "didcomm",
		WsName:                "ws",
		PickupStrategy:        string(mediation.PickupBatch),
		PickupInterval:        time.Second,
		AutoAcceptConnections: true,
		AutoAcceptCredentials: "always",
		AutoAcceptProofs:      "contentApproved",
		Handshake:             "connections",
		Timeout:               time.Second,
	}
}

func TestAgentFlags_Config(t *testing.T) {
	assert.PushTester(t)
	defer assert.PopTester()

	defer utils.Settings.SetEventTimeout(utils.Settings.EventTimeout())
	defer utils.Settings.SetHostAddr(utils.Settings.HostAddr())

	cfg := try.To1(testFlags().config())
	assert.Equal(cfg.Label, "tester")
	assert.Equal(cfg.AutoAcceptCredentials, psm.AutoAcceptAlways)
	assert.Equal(cfg.AutoAcceptProofs, psm.AutoAcceptContentApproved)
	assert.Equal(cfg.PreferredHandshake, connection.ProtocolConnections)
	assert.DeepEqual(cfg.Endpoints, []string{
		"http://agent.example.com/didcomm",
		"ws://agent.example.com/ws",
	})
	assert.Equal(utils.Settings.EventTimeout(), time.Second)
}

func TestAgentFlags_ConfigMediated(t *testing.T) {
	assert.PushTester(t)
	defer assert.PopTester()

	defer utils.Settings.SetEventTimeout(utils.Settings.EventTimeout())

	f := testFlags()
	f.MediatorURL = "https://mediator.example.com/didcomm?oob=abc"
	cfg := try.To1(f.config())
	assert.SLen(cfg.Endpoints, 0)
	assert.Equal(cfg.MediatorInvitationURL, f.MediatorURL)
}

func TestAgentFlags_ConfigErrors(t *testing.T) {
	tests := []struct {
		name  string
		patch func(f *AgentFlags)
	}{
		{"pickup", func(f *AgentFlags) { f.PickupStrategy = "push" }},
		{"credentials", func(f *AgentFlags) { f.AutoAcceptCredentials = "yes" }},
		{"proofs", func(f *AgentFlags) { f.AutoAcceptProofs = "" }},
		{"handshake", func(f *AgentFlags) { f.Handshake = "hello" }},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			assert.PushTester(t)
			defer assert.PopTester()

			f := testFlags()
			tt.patch(&f)
			_, err := f.config()
			assert.That(err != nil)
		})
	}
}

func TestPrintStructure(t *testing.T) {
	assert.PushTester(t)
	defer assert.PopTester()

	var buf bytes.Buffer
	printStructure(&buf, invitationCmd, "", 0, true)
	out := buf.String()
	assert.That(strings.HasPrefix(out, "└── invitation\n"))
	assert.That(strings.Contains(out, "├── create\n"))
	assert.That(strings.Contains(out, "└── receive\n"))
}

func TestVersion(t *testing.T) {
	assert.PushTester(t)
	defer assert.PopTester()

	assert.NoError(versionCmd.RunE(versionCmd, nil))
}
