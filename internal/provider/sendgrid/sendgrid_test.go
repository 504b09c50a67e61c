package sendgrid

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shineum/mail-manager/internal/email"
	"github.com/shineum/mail-manager/internal/provider"
)

func emailWithAttachments() *email.Request {
	return &email.Request{
		FromEmail: "noreply@toucantoco.com",
		FromName:  "Toucan Toco",
		Subject:   "Toucan Toco - Take a look !",
		HTMLBody:  "<h1>html part</h1>",
		Attachments: email.Attachments{
			{Filename: "screenshot.png", Content: "QA==", MIMEType: "image/png", Disposition: "attachment"},
			{Filename: "screenshot_bis.png", Content: "QA==", MIMEType: "image/png", Disposition: "attachment"},
		},
		Recipients: []email.Recipient{
			{Email: "test1@toucantoco.com", Name: "Test"},
			{Email: "test2@toucantoco.com"},
		},
	}
}

func newTestProvider(t *testing.T, server *httptest.Server) *Provider {
	t.Helper()

	p, err := New(Config{
		APIKey:     "test-key",
		Host:       server.URL,
		HTTPClient: server.Client(),
	})
	require.NoError(t, err)
	return p
}

func TestNew_RequiresAPIKey(t *testing.T) {
	t.Parallel()

	_, err := New(Config{})
	require.ErrorIs(t, err, provider.ErrMissingField)
}

func TestName(t *testing.T) {
	t.Parallel()

	p, err := New(Config{APIKey: "foo"})
	require.NoError(t, err)
	assert.Equal(t, "sendgrid", p.Name())
}

func TestCreateMessage_RecipientOrder(t *testing.T) {
	t.Parallel()

	p, err := New(Config{APIKey: "foo"})
	require.NoError(t, err)

	msg, err := p.CreateMessage(emailWithAttachments())
	require.NoError(t, err)

	assert.Equal(t, []string{"test1@toucantoco.com", "test2@toucantoco.com"}, msg.Recipients())

	// The wire payload carries the same order.
	var payload struct {
		Personalizations []struct {
			To []struct {
				Email string `json:"email"`
				Name  string `json:"name"`
			} `json:"to"`
		} `json:"personalizations"`
	}
	require.NoError(t, json.Unmarshal(msg.(*Message).Body(), &payload))
	require.Len(t, payload.Personalizations, 1)

	to := payload.Personalizations[0].To
	require.Len(t, to, 2)
	assert.Equal(t, "test1@toucantoco.com", to[0].Email)
	assert.Equal(t, "Test", to[0].Name)
	assert.Equal(t, "test2@toucantoco.com", to[1].Email)
	assert.Empty(t, to[1].Name)
}

func TestCreateMessage_Fields(t *testing.T) {
	t.Parallel()

	p, err := New(Config{APIKey: "foo"})
	require.NoError(t, err)

	msg, err := p.CreateMessage(emailWithAttachments())
	require.NoError(t, err)
	m := msg.(*Message).Mail

	assert.Equal(t, "noreply@toucantoco.com", m.From.Address)
	assert.Equal(t, "Toucan Toco", m.From.Name)
	assert.Equal(t, "Toucan Toco - Take a look !", m.Subject)
	require.Len(t, m.Content, 1)
	assert.Equal(t, "text/html", m.Content[0].Type)
	assert.Equal(t, "<h1>html part</h1>", m.Content[0].Value)

	require.Len(t, m.Attachments, 2)
	assert.Equal(t, "screenshot.png", m.Attachments[0].Filename)
	assert.Equal(t, "QA==", m.Attachments[0].Content)
	assert.Equal(t, "image/png", m.Attachments[0].Type)
	assert.Equal(t, "attachment", m.Attachments[0].Disposition)
	assert.Equal(t, "screenshot_bis.png", m.Attachments[1].Filename)
}

func TestCreateMessage_AttachmentCounts(t *testing.T) {
	t.Parallel()

	p, err := New(Config{APIKey: "foo"})
	require.NoError(t, err)

	var single email.Request
	require.NoError(t, json.Unmarshal([]byte(`{
		"FromEmail": "a@b.com", "Subject": "s", "Html-part": "b",
		"Recipients": [{"Email": "x@y.com"}],
		"Attachments": {"filename": "one.txt", "content": "QA=="}
	}`), &single))

	var many email.Request
	require.NoError(t, json.Unmarshal([]byte(`{
		"FromEmail": "a@b.com", "Subject": "s", "Html-part": "b",
		"Recipients": [{"Email": "x@y.com"}],
		"Attachments": [{"filename": "one.txt", "content": "QA=="}, {"filename": "two.txt", "content": "QA=="}]
	}`), &many))

	none := single.Clone()
	none.Attachments = nil

	tests := []struct {
		name string
		req  *email.Request
		want int
	}{
		{name: "none", req: none, want: 0},
		{name: "single object", req: &single, want: 1},
		{name: "array", req: &many, want: 2},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			msg, err := p.CreateMessage(tt.req)
			require.NoError(t, err)
			assert.Len(t, msg.(*Message).Mail.Attachments, tt.want)
		})
	}
}

func TestCreateMessage_Categories(t *testing.T) {
	t.Parallel()

	p, err := New(Config{APIKey: "foo"})
	require.NoError(t, err)

	req := emailWithAttachments()
	req.Categories = []string{"welcome", "onboarding", "b2b"}

	msg, err := p.CreateMessage(req)
	require.NoError(t, err)
	assert.Equal(t, []string{"welcome", "onboarding", "b2b"}, msg.(*Message).Mail.Categories)
}

func TestCreateMessage_MissingFields(t *testing.T) {
	t.Parallel()

	p, err := New(Config{APIKey: "foo"})
	require.NoError(t, err)

	noSender := emailWithAttachments()
	noSender.FromEmail = ""
	_, err = p.CreateMessage(noSender)
	require.ErrorIs(t, err, provider.ErrMissingField)

	noRcptEmail := emailWithAttachments()
	noRcptEmail.Recipients[1].Email = ""
	_, err = p.CreateMessage(noRcptEmail)
	require.ErrorIs(t, err, provider.ErrMissingField)

	noFilename := emailWithAttachments()
	noFilename.Attachments[0].Filename = ""
	_, err = p.CreateMessage(noFilename)
	require.ErrorIs(t, err, provider.ErrMissingField)
}

func TestSendMessage_Success(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/v3/mail/send", r.URL.Path)
		assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))

		body, err := io.ReadAll(r.Body)
		assert.NoError(t, err)

		var payload map[string]any
		assert.NoError(t, json.Unmarshal(body, &payload))
		assert.Equal(t, "Toucan Toco - Take a look !", payload["subject"])

		w.Header().Set("X-Message-Id", "msg-123")
		w.WriteHeader(http.StatusAccepted)
	}))
	defer server.Close()

	p := newTestProvider(t, server)

	msg, err := p.CreateMessage(emailWithAttachments())
	require.NoError(t, err)

	outcome := p.SendMessage(context.Background(), msg)
	require.False(t, outcome.Failed())
	assert.Equal(t, http.StatusAccepted, outcome.StatusCode)
	assert.Equal(t, "msg-123", outcome.MessageID)
	assert.True(t, p.IsSuccessfulResponse(outcome))
}

func TestSendMessage_ErrorStatusIsNotSuccessful(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"errors":[{"message":"bad"}]}`))
	}))
	defer server.Close()

	p := newTestProvider(t, server)

	msg, err := p.CreateMessage(emailWithAttachments())
	require.NoError(t, err)

	outcome := p.SendMessage(context.Background(), msg)
	assert.False(t, outcome.Failed())
	assert.Equal(t, http.StatusBadRequest, outcome.StatusCode)
	assert.False(t, p.IsSuccessfulResponse(outcome))
}

func TestSendMessage_TransportErrorIsCaptured(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	p := newTestProvider(t, server)
	server.Close()

	msg, err := p.CreateMessage(emailWithAttachments())
	require.NoError(t, err)

	outcome := p.SendMessage(context.Background(), msg)
	assert.True(t, outcome.Failed())
	assert.False(t, p.IsSuccessfulResponse(outcome))
}

type foreignMessage struct{}

func (foreignMessage) Recipients() []string { return []string{"x@y.com"} }

func TestSendMessage_ForeignMessage(t *testing.T) {
	t.Parallel()

	p, err := New(Config{APIKey: "foo"})
	require.NoError(t, err)

	outcome := p.SendMessage(context.Background(), foreignMessage{})
	assert.True(t, outcome.Failed())
}

func TestIsSuccessfulResponse(t *testing.T) {
	t.Parallel()

	p, err := New(Config{APIKey: "foo"})
	require.NoError(t, err)

	tests := []struct {
		outcome provider.Outcome
		want    bool
	}{
		{outcome: provider.Outcome{StatusCode: 200}, want: true},
		{outcome: provider.Outcome{StatusCode: 202}, want: true},
		{outcome: provider.Outcome{StatusCode: 299}, want: true},
		{outcome: provider.Outcome{StatusCode: 199}, want: false},
		{outcome: provider.Outcome{StatusCode: 300}, want: false},
		{outcome: provider.Outcome{StatusCode: 500}, want: false},
		{outcome: provider.Outcome{}, want: false},
		{outcome: provider.Failure(io.EOF), want: false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, p.IsSuccessfulResponse(tt.outcome), "status %d", tt.outcome.StatusCode)
	}
}

func TestGetEmails(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodGet, r.Method)
		assert.Equal(t, "/v3/messages", r.URL.Path)
		assert.Equal(t, `to_email="alice@example.com"`, r.URL.Query().Get("query"))
		assert.Equal(t, "5", r.URL.Query().Get("limit"))

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"messages":[
			{"msg_id":"m1","from_email":"noreply@x.com","to_email":"alice@example.com","subject":"Hi","status":"delivered","opens_count":2,"clicks_count":1,"last_event_time":"2024-01-01T00:00:00Z"},
			{"msg_id":"m2","from_email":"noreply@x.com","to_email":"alice@example.com","subject":"Again","status":"processing"}
		]}`))
	}))
	defer server.Close()

	p := newTestProvider(t, server)

	got, err := p.GetEmails(context.Background(), "alice@example.com", 5)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "m1", got[0].MessageID)
	assert.Equal(t, "delivered", got[0].Status)
	assert.Equal(t, 2, got[0].OpensCount)
	assert.Equal(t, "m2", got[1].MessageID)
}

func TestGetEmails_DefaultLimit(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "10", r.URL.Query().Get("limit"))
		_, _ = w.Write([]byte(`{"messages":[]}`))
	}))
	defer server.Close()

	p := newTestProvider(t, server)

	got, err := p.GetEmails(context.Background(), "alice@example.com", 0)
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestGetEmails_NonOKStatusPropagates(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
		_, _ = w.Write([]byte(`{"errors":[{"message":"access forbidden"}]}`))
	}))
	defer server.Close()

	p := newTestProvider(t, server)

	_, err := p.GetEmails(context.Background(), "alice@example.com", 10)
	require.Error(t, err)

	var statusErr *StatusError
	require.ErrorAs(t, err, &statusErr)
	assert.Equal(t, http.StatusForbidden, statusErr.StatusCode)
}
