package as4

import (
	"context"
	"crypto/x509"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/finvix/dbna-phase4/internal/storage"
	"github.com/finvix/dbna-phase4/pkg/message"
	"github.com/finvix/dbna-phase4/pkg/pmode"
	"github.com/finvix/dbna-phase4/pkg/reliability"
	"github.com/finvix/dbna-phase4/pkg/security"
	"github.com/finvix/dbna-phase4/pkg/transport"
)

// recordingServer answers with the given status codes in turn, then 200
// with a receipt, and records the message id of every request.
type recordingServer struct {
	*httptest.Server

	mu       sync.Mutex
	statuses []int
	ids      []string
}

func newRecordingServer(t *testing.T, statuses ...int) *recordingServer {
	t.Helper()

	s := &recordingServer{statuses: statuses}
	s.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		env, err := message.Parse(body)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		messaging, _ := env.Messaging()
		signal := messaging.FirstSignalMessage()

		s.mu.Lock()
		s.ids = append(s.ids, signal.MessageInfo.MessageId)
		status := http.StatusOK
		if len(s.statuses) > 0 {
			status, s.statuses = s.statuses[0], s.statuses[1:]
		}
		s.mu.Unlock()

		if status != http.StatusOK {
			http.Error(w, "try again", status)
			return
		}

		receipt := message.NewEnvelope(message.NsSOAP12Env, &message.Messaging{
			SignalMessages: []*message.SignalMessage{
				message.NewReceipt(message.NewMessageInfo("receipt@server", signal.MessageInfo.MessageId), nil),
			},
		}, nil)
		out, err := receipt.Marshal()
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "application/soap+xml; charset=UTF-8")
		_, _ = w.Write(out)
	}))
	t.Cleanup(s.Close)
	return s
}

func (s *recordingServer) messageIDs() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.ids...)
}

func newTestClient(t *testing.T, cfg *ExchangeConfig, server *httptest.Server, opts ...Option) *Client {
	t.Helper()

	httpsConfig := transport.DefaultHTTPSConfig()
	httpsConfig.Logger = discardLogger()
	opts = append([]Option{
		WithLogger(discardLogger()),
		WithTransport(transport.NewHTTPSClientWith(server.Client(), httpsConfig)),
	}, opts...)

	client, err := NewClient(cfg, opts...)
	require.NoError(t, err)
	return client
}

func TestNewClient_NilConfig(t *testing.T) {
	client, err := NewClient(nil)
	assert.ErrorIs(t, err, ErrConfiguration)
	assert.Nil(t, client)
}

func TestClient_SendRetriesWithSameMessageID(t *testing.T) {
	server := newRecordingServer(t, http.StatusServiceUnavailable, http.StatusBadGateway)

	cfg := NewExchangeConfig()
	require.NoError(t, cfg.SetMaxRetries(3))
	require.NoError(t, cfg.SetRetryIntervalMS(1))
	journal := storage.NewMemoryJournal()

	client := newTestClient(t, cfg, server.Server, WithJournal(journal))
	sent, err := client.Send(context.Background(), server.URL, &PullRequest{MPC: "default"})
	require.NoError(t, err)

	assert.Equal(t, http.StatusOK, sent.Response.StatusCode)
	assert.Equal(t, 3, sent.Response.Attempts)

	ids := server.messageIDs()
	require.Len(t, ids, 3)
	for _, id := range ids {
		assert.Equal(t, sent.Built.MessageID, id)
	}

	tracked, ok := client.Tracker().GetMessage(sent.Built.MessageID)
	require.True(t, ok)
	assert.Equal(t, reliability.StateDelivered, tracked.State)
	assert.Equal(t, 3, tracked.AttemptCount)
	assert.Len(t, tracked.Errors, 2)

	record, err := journal.GetExchange(context.Background(), storage.DirectionOutbound, sent.Built.MessageID)
	require.NoError(t, err)
	assert.Equal(t, storage.StatusDelivered, record.Status)
	assert.Equal(t, 3, record.Attempts)
	assert.Equal(t, "pull-request", record.Kind)
	assert.Equal(t, server.URL, record.Endpoint)
}

func TestClient_SendUsesFreshMessageIDs(t *testing.T) {
	server := newRecordingServer(t)
	client := newTestClient(t, NewExchangeConfig(), server.Server)

	first, err := client.Send(context.Background(), server.URL, &PullRequest{MPC: "default"})
	require.NoError(t, err)
	second, err := client.Send(context.Background(), server.URL, &PullRequest{MPC: "default"})
	require.NoError(t, err)

	assert.NotEqual(t, first.Built.MessageID, second.Built.MessageID)
	assert.Equal(t, []string{first.Built.MessageID, second.Built.MessageID}, server.messageIDs())
}

func TestClient_SendClientErrorIsNotRetried(t *testing.T) {
	server := newRecordingServer(t, http.StatusBadRequest)

	cfg := NewExchangeConfig()
	require.NoError(t, cfg.SetMaxRetries(3))
	require.NoError(t, cfg.SetRetryIntervalMS(1))
	require.NoError(t, cfg.SetMessageIDFactory(func() string { return "fixed@test" }))
	journal := storage.NewMemoryJournal()

	client := newTestClient(t, cfg, server.Server, WithJournal(journal))
	_, err := client.Send(context.Background(), server.URL, &PullRequest{MPC: "default"})
	require.Error(t, err)

	var statusErr *transport.StatusError
	require.ErrorAs(t, err, &statusErr)
	assert.Equal(t, http.StatusBadRequest, statusErr.StatusCode)
	assert.Len(t, server.messageIDs(), 1)

	tracked, ok := client.Tracker().GetMessage("fixed@test")
	require.True(t, ok)
	assert.Equal(t, reliability.StateFailed, tracked.State)

	record, err := journal.GetExchange(context.Background(), storage.DirectionOutbound, "fixed@test")
	require.NoError(t, err)
	assert.Equal(t, storage.StatusFailed, record.Status)
	assert.Equal(t, http.StatusBadRequest, record.HTTPStatus)
	assert.NotEmpty(t, record.LastError)
}

func TestClient_ConfigurationErrorSendsNothing(t *testing.T) {
	server := newRecordingServer(t)
	client := newTestClient(t, NewExchangeConfig(), server.Server)

	_, err := client.Send(context.Background(), server.URL, &PullRequest{})
	assert.ErrorIs(t, err, ErrConfiguration)
	assert.Empty(t, server.messageIDs())
	assert.Equal(t, 0, client.Tracker().Len())
}

func TestClient_SendForEnvelope(t *testing.T) {
	server := newRecordingServer(t)
	client := newTestClient(t, NewExchangeConfig(), server.Server)

	decoded, err := client.SendForEnvelope(context.Background(), server.URL, &PullRequest{MPC: "default"})
	require.NoError(t, err)

	messaging, err := decoded.Response.Messaging()
	require.NoError(t, err)
	signal := messaging.FirstSignalMessage()
	require.NotNil(t, signal)
	assert.NotNil(t, signal.Receipt)
	assert.Equal(t, decoded.Built.MessageID, signal.MessageInfo.RefToMessageId)
}

func TestSendAndDecode_DecodeError(t *testing.T) {
	server := newRecordingServer(t)
	client := newTestClient(t, NewExchangeConfig(), server.Server)

	var calls atomic.Int32
	_, err := SendAndDecode(context.Background(), client, server.URL, &PullRequest{MPC: "default"},
		func(*transport.Response) (string, error) {
			calls.Add(1)
			return "", io.ErrUnexpectedEOF
		})
	assert.ErrorIs(t, err, io.ErrUnexpectedEOF)
	assert.Equal(t, int32(1), calls.Load())
}

func TestDecodeEnvelope_Empty(t *testing.T) {
	_, err := DecodeEnvelope(&transport.Response{StatusCode: http.StatusAccepted})
	assert.ErrorIs(t, err, ErrEmptyResponse)
}

func TestClient_SendKeepsEncryptedAttachmentsReadable(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.Copy(io.Discard, r.Body)
		w.WriteHeader(http.StatusOK)
	}))
	t.Cleanup(server.Close)

	cfg, keys := signingConfig(t)
	receiverKey, receiverCert := generateRSATestCert(t, "receiver.example.com")
	*cfg.Encryption() = security.EncryptionParams{
		Algorithm:     pmode.DataAlgoAES128GCM,
		KeyEncryption: pmode.KeyAlgoRSAOAEP256,
		Certificate:   receiverCert,
	}

	payload := testUserMessage()
	client := newTestClient(t, cfg, server)
	sent, err := client.Send(context.Background(), server.URL, payload)
	require.NoError(t, err)
	require.True(t, sent.Built.Encrypted)
	require.Len(t, sent.Built.Attachments, 2)

	for i, att := range sent.Built.Attachments {
		assert.Empty(t, att.Path)
		data, err := att.Bytes()
		require.NoError(t, err)
		assert.NotEqual(t, payload.Attachments[i].Data, data)
	}

	receiver := &security.KeyMaterial{
		PrivateKey:  receiverKey,
		Certificate: receiverCert,
		Known:       []*x509.Certificate{keys.Certificate},
	}
	result, err := security.NewWSSecurity(security.WithLogger(discardLogger())).
		VerifyAndDecrypt(sent.Built.Envelope, sent.Built.Attachments, receiver)
	require.NoError(t, err)
	for i, att := range result.Attachments {
		data, err := att.Bytes()
		require.NoError(t, err)
		assert.Equal(t, payload.Attachments[i].Data, data)
	}
}
