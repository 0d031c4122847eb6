package msh

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/finvix/dbna-phase4/internal/storage"
	"github.com/finvix/dbna-phase4/pkg/as4"
	"github.com/finvix/dbna-phase4/pkg/mime"
	"github.com/finvix/dbna-phase4/pkg/pmode"
	"github.com/finvix/dbna-phase4/pkg/resource"
	"github.com/finvix/dbna-phase4/pkg/security"
)

func newTestHandler(t *testing.T, selector PModeSelector, processor *SecurityProcessor) (*Handler, *storage.MemoryJournal) {
	t.Helper()

	journal := storage.NewMemoryJournal()
	h, err := NewHandler(HandlerConfig{
		Selector:  selector,
		Processor: processor,
		Journal:   journal,
		Logger:    discardLogger(),
	})
	require.NoError(t, err)
	return h, journal
}

func TestNewHandler_RequiresSelector(t *testing.T) {
	_, err := NewHandler(HandlerConfig{})
	assert.ErrorIs(t, err, ErrInvalidInbound)
}

func TestHandler_ReceiveCompressedUserMessage(t *testing.T) {
	payload := testUserMessage()
	payload.Compress = true
	payload.Body = []byte(`<inv:Summary xmlns:inv="urn:test:invoice">42</inv:Summary>`)
	built := build(t, as4.NewExchangeConfig(), "user-gz@test", payload, nil)

	h, journal := newTestHandler(t, StaticSelector{PMode: openPMode()}, nil)
	lifecycle := resource.NewLifecycle(resource.WithTempDir(t.TempDir()), resource.WithLogger(discardLogger()))
	defer lifecycle.Release()

	received, err := h.Receive(context.Background(), built.Body, built.ContentType, lifecycle)
	require.NoError(t, err)
	require.True(t, received.Outcome.Success())

	require.Len(t, received.Payloads, 2)
	for i, att := range received.Payloads {
		data, err := att.Bytes()
		require.NoError(t, err)
		assert.Equal(t, payload.Attachments[i].Data, data)
		assert.Equal(t, payload.Attachments[i].ContentType, att.ContentType)
	}
	// only the compressed part needed a temp file
	assert.Len(t, lifecycle.Files(), 1)

	record, err := journal.GetExchange(context.Background(), storage.DirectionInbound, "user-gz@test")
	require.NoError(t, err)
	assert.Equal(t, storage.StatusAccepted, record.Status)
	assert.Equal(t, "user-message", record.Kind)
	assert.Equal(t, "done", record.Stage)
	assert.Equal(t, "open", record.PModeID)
	assert.Equal(t, 1, record.LegNumber)
	assert.Equal(t, 2, record.Attachments)
}

func TestHandler_ReceiveSignedAndEncrypted(t *testing.T) {
	sender := newTestParty(t, "sender.example.com")
	receiver := newTestParty(t, "receiver.example.com")

	senderLifecycle := resource.NewLifecycle(resource.WithTempDir(t.TempDir()), resource.WithLogger(discardLogger()))
	defer senderLifecycle.Release()
	payload := testUserMessage()
	payload.Compress = true
	built := build(t, senderConfig(sender, receiver), "user-sealed@test", payload, senderLifecycle)

	manager := pmode.NewPModeManager()
	manager.AddPMode(securedPMode())
	h, journal := newTestHandler(t, &ManagerSelector{Manager: manager},
		newProcessor(receiver.trusting(sender)))

	lifecycle := resource.NewLifecycle(resource.WithTempDir(t.TempDir()), resource.WithLogger(discardLogger()))
	defer lifecycle.Release()

	received, err := h.Receive(context.Background(), built.Body, built.ContentType, lifecycle)
	require.NoError(t, err)
	require.True(t, received.Outcome.Success())
	assert.True(t, received.Outcome.State.SignatureVerified())
	assert.True(t, received.Outcome.State.Decrypted())

	require.Len(t, received.Payloads, 2)
	for i, att := range received.Payloads {
		data, err := att.Bytes()
		require.NoError(t, err)
		assert.Equal(t, payload.Attachments[i].Data, data)
	}

	record, err := journal.GetExchange(context.Background(), storage.DirectionInbound, "user-sealed@test")
	require.NoError(t, err)
	assert.True(t, record.SignatureVerified)
	assert.True(t, record.Decrypted)
	assert.Contains(t, record.CertificateSubject, "sender.example.com")
}

func TestHandler_ReceiveWithoutPModeIsRejected(t *testing.T) {
	built := build(t, as4.NewExchangeConfig(), "pull-none@test", &as4.PullRequest{MPC: "default"}, nil)

	h, journal := newTestHandler(t, StaticSelector{}, nil)
	received, err := h.Receive(context.Background(), built.Body, built.ContentType, nil)
	require.NoError(t, err)

	assert.Equal(t, StageFailed, received.Outcome.Stage)
	assert.Nil(t, received.Payloads)

	record, err := journal.GetExchange(context.Background(), storage.DirectionInbound, "pull-none@test")
	require.NoError(t, err)
	assert.Equal(t, storage.StatusRejected, record.Status)
	assert.Equal(t, "pull-request", record.Kind)
	assert.Equal(t, []string{"EBMS:0010"}, record.ErrorCodes)
	assert.NotEmpty(t, record.LastError)
}

func TestHandler_ReceiveCorruptCompressedPayload(t *testing.T) {
	payload := testUserMessage()
	payload.Compress = true
	built := build(t, as4.NewExchangeConfig(), "user-corrupt@test", payload, nil)
	built.Attachments[0].Data = []byte("not gzip")

	h, _ := newTestHandler(t, StaticSelector{PMode: openPMode()}, nil)
	lifecycle := resource.NewLifecycle(resource.WithTempDir(t.TempDir()), resource.WithLogger(discardLogger()))
	defer lifecycle.Release()

	// rebuild the transport entity around the corrupted part
	body, contentType := serialize(t, built)
	received, err := h.Receive(context.Background(), body, contentType, lifecycle)
	require.NoError(t, err)

	assert.Equal(t, StageFailed, received.Outcome.Stage)
	assert.Equal(t, []string{"EBMS:0303"}, received.Outcome.Codes())
	assert.Nil(t, received.Payloads)
}

func TestHandler_ReceiveInvalidEntity(t *testing.T) {
	h, _ := newTestHandler(t, StaticSelector{PMode: openPMode()}, nil)

	_, err := h.Receive(context.Background(), []byte("garbage"), "text/plain", nil)
	assert.ErrorIs(t, err, ErrInvalidInbound)
}

func TestHandler_ReceiveAttachmentContentIDWrapper(t *testing.T) {
	payload := testUserMessage()
	payload.Compress = true
	payload.Attachments = []security.Attachment{
		{ContentID: "abc", ContentType: "application/xml", Data: []byte("<Invoice><ID>42</ID></Invoice>")},
	}
	built := build(t, as4.NewExchangeConfig(), "user-wrapped@test", payload, nil)
	require.Contains(t, string(built.Envelope), `href="cid:abc"`)

	data, err := built.Attachments[0].Bytes()
	require.NoError(t, err)
	entity := mime.NewMessage(built.Envelope, []mime.Payload{
		mime.CreatePayloadWithID(data, built.Attachments[0].ContentType, "attachment=abc"),
	})
	entity.Type = mime.ContentTypeSOAPXML
	body, contentType, err := entity.Serialize()
	require.NoError(t, err)
	require.Contains(t, string(body), "<attachment=abc>")

	h, _ := newTestHandler(t, StaticSelector{PMode: securedPMode()}, nil)
	received, err := h.Receive(context.Background(), body, contentType, nil)
	require.NoError(t, err)
	require.True(t, received.Outcome.Success(), "codes: %v", received.Outcome.Codes())

	require.Len(t, received.Payloads, 1)
	assert.Equal(t, "abc", received.Payloads[0].ContentID)
	plain, err := received.Payloads[0].Bytes()
	require.NoError(t, err)
	assert.Equal(t, payload.Attachments[0].Data, plain)
}

// serialize packs the envelope and attachments of built into a transport
// entity
func serialize(t *testing.T, built *as4.BuiltMessage) ([]byte, string) {
	t.Helper()

	payloads := make([]mime.Payload, 0, len(built.Attachments))
	for _, att := range built.Attachments {
		data, err := att.Bytes()
		require.NoError(t, err)
		payloads = append(payloads, mime.CreatePayloadWithID(data, att.ContentType, att.ContentID))
	}
	entity := mime.NewMessage(built.Envelope, payloads)
	entity.Type = mime.ContentTypeSOAPXML

	body, contentType, err := entity.Serialize()
	require.NoError(t, err)
	return body, contentType
}
