package main

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/finvix/dbna-phase4/pkg/as4"
	"github.com/finvix/dbna-phase4/pkg/message"
	"github.com/finvix/dbna-phase4/pkg/mime"
	"github.com/finvix/dbna-phase4/pkg/security"
)

// partner answers every post with a fixed entity and keeps the requests
type partner struct {
	*httptest.Server

	mu          sync.Mutex
	requests    [][]byte
	contentType []string

	status       int
	body         []byte
	responseType string
}

func newPartner(t *testing.T, status int, body []byte, contentType string) *partner {
	t.Helper()
	p := &partner{status: status, body: body, responseType: contentType}
	p.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		data, _ := io.ReadAll(r.Body)
		p.mu.Lock()
		p.requests = append(p.requests, data)
		p.contentType = append(p.contentType, r.Header.Get("Content-Type"))
		p.mu.Unlock()

		if p.responseType != "" {
			w.Header().Set("Content-Type", p.responseType)
		}
		w.WriteHeader(p.status)
		_, _ = w.Write(p.body)
	}))
	t.Cleanup(p.Close)
	return p
}

// lastRequest parses the last request the partner received
func (p *partner) lastRequest(t *testing.T) *message.Envelope {
	t.Helper()
	p.mu.Lock()
	defer p.mu.Unlock()
	require.NotEmpty(t, p.requests)

	n := len(p.requests) - 1
	entity, err := mime.Parse(bytes.NewReader(p.requests[n]), p.contentType[n])
	require.NoError(t, err)
	env, err := message.Parse(entity.Envelope)
	require.NoError(t, err)
	return env
}

func writeConfig(t *testing.T, endpoint, extra string) string {
	t.Helper()
	content := "exchange:\n  endpoint: " + endpoint + "\n  mpc: urn:dbna:mpc:test\n" +
		"  fallbackPmode: inbound\n" +
		"logging:\n  level: error\n" +
		"pmodes:\n  - id: inbound\n    legs: [{}, {}]\n" + extra
	path := filepath.Join(t.TempDir(), "as4.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestRun_Usage(t *testing.T) {
	var stdout, stderr bytes.Buffer

	assert.ErrorIs(t, run(context.Background(), nil, &stdout, &stderr), errUsage)
	assert.Contains(t, stderr.String(), "Usage:")

	assert.ErrorIs(t, run(context.Background(), []string{"push"}, &stdout, &stderr), errUsage)

	require.NoError(t, run(context.Background(), []string{"help"}, &stdout, &stderr))
	assert.Contains(t, stdout.String(), "as4client pull")
}

func TestRun_MissingConfig(t *testing.T) {
	var stdout, stderr bytes.Buffer
	err := run(context.Background(), []string{"pull", "--config", filepath.Join(t.TempDir(), "absent.yaml")}, &stdout, &stderr)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "reading config file")
}

func TestPull_WritesPayloads(t *testing.T) {
	invoice := []byte("<Invoice><ID>7</ID></Invoice>")
	built, err := as4.NewBuilder(as4.NewExchangeConfig()).Build(context.Background(), "pulled@test", &as4.UserMessage{
		From:    as4.Party{ID: "partner", Type: partyTypeUnregistered},
		To:      as4.Party{ID: "us", Type: partyTypeUnregistered},
		Service: "urn:dbna:invoice",
		Action:  "Submit",
		Attachments: []security.Attachment{
			{ContentID: "invoice-7@partner.example", ContentType: "application/xml", Data: invoice},
		},
	}, nil)
	require.NoError(t, err)

	server := newPartner(t, http.StatusOK, built.Body, built.ContentType)
	outDir := filepath.Join(t.TempDir(), "inbox")

	var stdout, stderr bytes.Buffer
	err = run(context.Background(), []string{"pull", "-c", writeConfig(t, server.URL, ""), "-o", outDir}, &stdout, &stderr)
	require.NoError(t, err, stderr.String())

	sm := server.lastRequest(t).Header.Messaging.FirstSignalMessage()
	require.NotNil(t, sm)
	require.NotNil(t, sm.PullRequest)
	assert.Equal(t, "urn:dbna:mpc:test", sm.PullRequest.MPC)

	assert.Contains(t, stdout.String(), "received user-message pulled@test: done")
	data, err := os.ReadFile(filepath.Join(outDir, "invoice-7"))
	require.NoError(t, err)
	assert.Equal(t, invoice, data)
}

func TestPull_EmptyResponse(t *testing.T) {
	server := newPartner(t, http.StatusOK, nil, "")

	var stdout, stderr bytes.Buffer
	err := run(context.Background(), []string{"pull", "-c", writeConfig(t, server.URL, ""), "--mpc", "urn:dbna:mpc:other"}, &stdout, &stderr)
	require.NoError(t, err)
	assert.Contains(t, stdout.String(), "no message available")

	sm := server.lastRequest(t).Header.Messaging.FirstSignalMessage()
	assert.Equal(t, "urn:dbna:mpc:other", sm.PullRequest.MPC)
}

func TestPull_RejectedResponse(t *testing.T) {
	built, err := as4.NewBuilder(as4.NewExchangeConfig()).Build(context.Background(), "pulled@test", &as4.UserMessage{
		From:    as4.Party{ID: "partner"},
		To:      as4.Party{ID: "us"},
		Service: "urn:dbna:invoice",
		Action:  "Submit",
	}, nil)
	require.NoError(t, err)
	server := newPartner(t, http.StatusOK, built.Body, built.ContentType)

	// without a fallback no processing mode applies
	path := writeConfig(t, server.URL, "")
	content, err := os.ReadFile(path)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(path, []byte(strings.Replace(string(content), "  fallbackPmode: inbound\n", "", 1)), 0o600))

	var stdout, stderr bytes.Buffer
	err = run(context.Background(), []string{"pull", "-c", path}, &stdout, &stderr)
	assert.ErrorIs(t, err, errRejected)
	assert.Contains(t, err.Error(), "EBMS:0010")
	assert.Contains(t, stdout.String(), "rejected:")
}

func TestSend_PushesAttachments(t *testing.T) {
	server := newPartner(t, http.StatusAccepted, nil, "")

	dir := t.TempDir()
	invoicePath := filepath.Join(dir, "invoice.xml")
	require.NoError(t, os.WriteFile(invoicePath, []byte("<Invoice/>"), 0o600))
	scanPath := filepath.Join(dir, "scan.bin")
	require.NoError(t, os.WriteFile(scanPath, []byte{0x01, 0x02}, 0o600))

	extra := "  - id: outbound\n    service: urn:dbna:invoice\n    action: Submit\n    agreement: urn:dbna:agreement\n"
	path := writeConfig(t, server.URL, extra)
	content, err := os.ReadFile(path)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(path, []byte(strings.Replace(string(content), "exchange:\n", "exchange:\n  pmode: outbound\n", 1)), 0o600))

	var stdout, stderr bytes.Buffer
	err = run(context.Background(), []string{"send", "-c", path,
		"--from", "us", "--to", "partner",
		"--attach", invoicePath,
		"--attach", scanPath + ";image/png",
		"--property", "originalSender=urn:dbna:us",
	}, &stdout, &stderr)
	require.NoError(t, err, stderr.String())
	assert.Contains(t, stdout.String(), "HTTP 202")

	um := server.lastRequest(t).Header.Messaging.FirstUserMessage()
	require.NotNil(t, um)
	assert.Equal(t, "urn:dbna:invoice", um.CollaborationInfo.Service.Value)
	assert.Equal(t, "Submit", um.CollaborationInfo.Action)
	require.NotNil(t, um.CollaborationInfo.AgreementRef)
	assert.Equal(t, "urn:dbna:agreement", um.CollaborationInfo.AgreementRef.Value)
	require.NotNil(t, um.PayloadInfo)
	assert.Len(t, um.PayloadInfo.PartInfo, 2)
	require.NotNil(t, um.MessageProperties)
	assert.Equal(t, "originalSender", um.MessageProperties.Property[0].Name)
}

func TestSend_RequiresServiceAndAction(t *testing.T) {
	server := newPartner(t, http.StatusAccepted, nil, "")

	var stdout, stderr bytes.Buffer
	err := run(context.Background(), []string{"send", "-c", writeConfig(t, server.URL, "")}, &stdout, &stderr)
	assert.ErrorIs(t, err, errUsage)
}

func TestSend_InvalidProperty(t *testing.T) {
	server := newPartner(t, http.StatusAccepted, nil, "")

	var stdout, stderr bytes.Buffer
	err := run(context.Background(), []string{"send", "-c", writeConfig(t, server.URL, ""),
		"--service", "urn:s", "--action", "a", "--property", "novalue"}, &stdout, &stderr)
	assert.ErrorIs(t, err, errUsage)
}

func TestFileAttachment(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "data.unknownext")
	require.NoError(t, os.WriteFile(path, []byte("x"), 0o600))

	att, err := fileAttachment(path)
	require.NoError(t, err)
	assert.Equal(t, "application/octet-stream", att.ContentType)
	assert.Equal(t, path, att.Path)
	assert.NotEmpty(t, att.ContentID)

	att, err = fileAttachment(path + ";text/csv")
	require.NoError(t, err)
	assert.Equal(t, "text/csv", att.ContentType)

	_, err = fileAttachment(filepath.Join(dir, "absent"))
	assert.Error(t, err)
}

func TestPayloadFileName(t *testing.T) {
	tests := map[string]string{
		"invoice-7@partner.example": "invoice-7",
		"<scan@x>":                  "scan",
		"../../etc/passwd@x":        ".._.._etc_passwd",
		"@x":                        "_x",
		"..":                        "payload",
		"":                          "payload",
	}
	for in, want := range tests {
		assert.Equal(t, want, payloadFileName(in), in)
	}
}

func TestPull_RequiresPullBinding(t *testing.T) {
	server := newPartner(t, http.StatusOK, nil, "")

	path := writeConfig(t, server.URL, "  - id: outbound\n    service: urn:dbna:invoice\n    action: Submit\n")
	content, err := os.ReadFile(path)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(path, []byte(strings.Replace(string(content), "exchange:\n", "exchange:\n  pmode: outbound\n", 1)), 0o600))

	var stdout, stderr bytes.Buffer
	err = run(context.Background(), []string{"pull", "-c", path}, &stdout, &stderr)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "has no pull leg")

	server.mu.Lock()
	defer server.mu.Unlock()
	assert.Empty(t, server.requests)
}
