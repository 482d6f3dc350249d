package gmail

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/api/option"

	"github.com/customeros/mailreader/config"
	mailerrors "github.com/customeros/mailreader/internal/errors"
)

const rawMessage = "Message-ID: <raw@example.com>\r\nSubject: Raw\r\n\r\nhello\r\n"

type apiServer struct {
	*httptest.Server
	mu      sync.Mutex
	queries []url.Values
	bodies  []string
}

func (s *apiServer) request(i int) (url.Values, string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.queries[i], s.bodies[i]
}

func newAPIServer(t *testing.T) *apiServer {
	s := &apiServer{}
	s.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		s.mu.Lock()
		s.queries = append(s.queries, r.URL.Query())
		s.bodies = append(s.bodies, string(body))
		s.mu.Unlock()
		w.Header().Set("Content-Type", "application/json")

		switch {
		case r.URL.Path == "/gmail/v1/users/me/labels" && r.Method == http.MethodGet:
			_, _ = w.Write([]byte(`{"labels":[{"id":"INBOX","name":"INBOX"},{"id":"Label_7","name":"Work/Projects","messagesTotal":4,"messagesUnread":1}]}`))
		case r.URL.Path == "/gmail/v1/users/me/messages" && r.Method == http.MethodGet:
			_, _ = w.Write([]byte(`{"messages":[{"id":"a"},{"id":"b"}],"nextPageToken":"n1"}`))
		case r.URL.Path == "/gmail/v1/users/me/messages/a" && r.URL.Query().Get("format") == "raw":
			raw := base64.URLEncoding.EncodeToString([]byte(rawMessage))
			_ = json.NewEncoder(w).Encode(map[string]interface{}{"id": "a", "raw": raw, "labelIds": []string{"INBOX", "UNREAD"}})
		case r.URL.Path == "/gmail/v1/users/me/messages/a" && r.URL.Query().Get("format") == "metadata":
			_, _ = w.Write([]byte(`{"id":"a","labelIds":["INBOX"],"internalDate":"1700000000000","payload":{"headers":[{"name":"Subject","value":"Hi"},{"name":"From","value":"ana@example.com"}]}}`))
		case r.URL.Path == "/gmail/v1/users/me/messages/a/modify" && r.Method == http.MethodPost:
			_, _ = w.Write([]byte(`{"id":"a"}`))
		case r.URL.Path == "/gmail/v1/users/me/messages/expired":
			w.WriteHeader(http.StatusUnauthorized)
			_, _ = w.Write([]byte(`{"error":{"code":401,"message":"Invalid Credentials"}}`))
		default:
			w.WriteHeader(http.StatusNotFound)
			_, _ = w.Write([]byte(`{"error":{"code":404,"message":"Requested entity was not found."}}`))
		}
	}))
	t.Cleanup(s.Close)
	return s
}

func newTestGoogleClient(t *testing.T, server *apiServer) *googleClient {
	cfg := &config.GmailConfig{RequestsPerSecond: 1000, Burst: 100}
	client, err := newGoogleClient(context.Background(), NewLimiter(cfg), option.WithEndpoint(server.URL+"/"), option.WithHTTPClient(server.Client()))
	require.NoError(t, err)
	return client
}

func TestGoogleClient_ListLabels(t *testing.T) {
	// Arrange
	server := newAPIServer(t)
	client := newTestGoogleClient(t, server)

	// Act
	labels, err := client.ListLabels(context.Background())

	// Assert
	require.NoError(t, err)
	assert.Equal(t, []Label{{ID: "INBOX", Name: "INBOX"}, {ID: "Label_7", Name: "Work/Projects", Total: 4, Unread: 1}}, labels)
}

func TestGoogleClient_ListMessagesSendsQuery(t *testing.T) {
	// Arrange
	server := newAPIServer(t)
	client := newTestGoogleClient(t, server)

	// Act
	ids, next, err := client.ListMessages(context.Background(), ListQuery{LabelID: "INBOX", Query: "invoice", PageToken: "p0", MaxResults: 2})

	// Assert
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, ids)
	assert.Equal(t, "n1", next)
	query, _ := server.request(0)
	assert.Equal(t, "INBOX", query.Get("labelIds"))
	assert.Equal(t, "invoice", query.Get("q"))
	assert.Equal(t, "p0", query.Get("pageToken"))
	assert.Equal(t, "2", query.Get("maxResults"))
	assert.Equal(t, "false", query.Get("includeSpamTrash"))
}

func TestGoogleClient_GetMetadata(t *testing.T) {
	// Arrange
	server := newAPIServer(t)
	client := newTestGoogleClient(t, server)

	// Act
	meta, err := client.GetMetadata(context.Background(), "a", summaryHeaders)

	// Assert
	require.NoError(t, err)
	assert.Equal(t, "Hi", meta.Headers["Subject"])
	assert.Equal(t, int64(1700000000), meta.InternalDate.Unix())
	query, _ := server.request(0)
	assert.Equal(t, summaryHeaders, query["metadataHeaders"])
}

func TestGoogleClient_GetRawDecodesBody(t *testing.T) {
	// Arrange
	server := newAPIServer(t)
	client := newTestGoogleClient(t, server)

	// Act
	raw, labels, err := client.GetRaw(context.Background(), "a")

	// Assert
	require.NoError(t, err)
	assert.Equal(t, rawMessage, string(raw))
	assert.Equal(t, []string{"INBOX", "UNREAD"}, labels)
}

func TestGoogleClient_MissingMessageIsNotFound(t *testing.T) {
	// Arrange
	server := newAPIServer(t)
	client := newTestGoogleClient(t, server)

	// Act
	_, _, err := client.GetRaw(context.Background(), "missing")

	// Assert
	assert.True(t, mailerrors.IsNotFound(err))
}

func TestGoogleClient_UnauthorizedIsConnectionError(t *testing.T) {
	// Arrange
	server := newAPIServer(t)
	client := newTestGoogleClient(t, server)

	// Act
	_, _, err := client.GetRaw(context.Background(), "expired")

	// Assert
	assert.True(t, mailerrors.IsConnectionError(err))
	assert.False(t, mailerrors.IsNotFound(err))
}

func TestGoogleClient_RemoveLabels(t *testing.T) {
	// Arrange
	server := newAPIServer(t)
	client := newTestGoogleClient(t, server)

	// Act
	err := client.RemoveLabels(context.Background(), "a", labelUnread)

	// Assert
	require.NoError(t, err)
	_, body := server.request(0)
	assert.True(t, strings.Contains(body, `"removeLabelIds":["UNREAD"]`))
}
