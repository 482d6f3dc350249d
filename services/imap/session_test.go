package imap

import (
	"context"
	"io"
	"testing"
	"time"

	"github.com/emersion/go-imap"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	mailerrors "github.com/customeros/mailreader/internal/errors"
	"github.com/customeros/mailreader/internal/logger"
	"github.com/customeros/mailreader/internal/models"
)

func TestSession_ConnectMovesToConnected(t *testing.T) {
	// Arrange
	fake := newFakeClient()

	// Act
	session := connectedSession(fake)

	// Assert
	assert.Equal(t, StateConnected, session.State())
	assert.Equal(t, "acct_test", session.Identity())
}

func TestSession_ConnectFailureIsConnectionError(t *testing.T) {
	dial := func(ctx context.Context, account *models.MailAccount) (imapClient, error) {
		return nil, errors.New("dial tcp: connection refused")
	}
	session := newSession(testAccount(), testImapConfig(), logger.NewNopLogger(), dial)

	err := session.Connect(context.Background())

	require.Error(t, err)
	assert.True(t, mailerrors.IsConnectionError(err))
	assert.Equal(t, StateDisconnected, session.State())
}

func TestSession_ConnectTwiceIsInvalidState(t *testing.T) {
	session := connectedSession(newFakeClient())

	err := session.Connect(context.Background())

	assert.ErrorIs(t, err, mailerrors.ErrInvalidState)
}

func TestSession_SearchAndFetchRequireSelectedBox(t *testing.T) {
	session := connectedSession(newFakeClient())

	_, err := session.Search(context.Background())
	assert.ErrorIs(t, err, mailerrors.ErrInvalidState)

	_, err = session.Fetch(context.Background(), models.FetchOptions{StartSeq: 1, EndSeq: 2, BodyParts: "HEADER"})
	assert.ErrorIs(t, err, mailerrors.ErrInvalidState)

	err = session.CloseBox(context.Background())
	assert.ErrorIs(t, err, mailerrors.ErrInvalidState)
}

func TestSession_OperationsBeforeConnectAreInvalid(t *testing.T) {
	session := newSession(testAccount(), testImapConfig(), logger.NewNopLogger(), nil)

	_, err := session.ListBoxes(context.Background())
	assert.ErrorIs(t, err, mailerrors.ErrInvalidState)

	_, err = session.GetBox(context.Background(), "INBOX", true)
	assert.ErrorIs(t, err, mailerrors.ErrInvalidState)

	err = session.CreateBox(context.Background(), "New")
	assert.ErrorIs(t, err, mailerrors.ErrInvalidState)
}

func TestSession_GetBoxReportsCounts(t *testing.T) {
	session := connectedSession(newFakeClient())

	box, err := session.GetBox(context.Background(), "INBOX", true)

	require.NoError(t, err)
	assert.Equal(t, StateBoxSelected, session.State())
	assert.Equal(t, "INBOX", session.SelectedBox())
	assert.Equal(t, uint32(3), box.Counts.Total)
	assert.Equal(t, uint32(1), box.Counts.New)
	assert.Equal(t, uint32(2), box.Counts.Unseen)
	assert.Equal(t, uint32(7), box.UIDValidity)
	assert.Equal(t, uint32(13), box.UIDNext)
}

func TestSession_FailedSelectLeavesConnectedWithoutBox(t *testing.T) {
	session := connectedSession(newFakeClient())
	_, err := session.GetBox(context.Background(), "INBOX", true)
	require.NoError(t, err)

	_, err = session.GetBox(context.Background(), "Missing", true)

	require.Error(t, err)
	assert.False(t, mailerrors.IsConnectionError(err))
	assert.Equal(t, StateConnected, session.State())
	assert.Empty(t, session.SelectedBox())
}

func TestSession_TransportFailureDisconnects(t *testing.T) {
	fake := newFakeClient()
	session := connectedSession(fake)
	_, err := session.GetBox(context.Background(), "INBOX", true)
	require.NoError(t, err)

	fake.searchErr = io.EOF
	_, err = session.Search(context.Background())

	assert.True(t, mailerrors.IsConnectionError(err))
	assert.Equal(t, StateDisconnected, session.State())
	assert.True(t, fake.terminated)
}

type timeoutError struct{}

func (timeoutError) Error() string   { return "read tcp 127.0.0.1:143: i/o timeout" }
func (timeoutError) Timeout() bool   { return true }
func (timeoutError) Temporary() bool { return true }

func TestSession_CommandTimeoutClosesConnection(t *testing.T) {
	fake := newFakeClient()
	session := connectedSession(fake)
	_, err := session.GetBox(context.Background(), "INBOX", true)
	require.NoError(t, err)

	fake.searchErr = timeoutError{}
	_, err = session.Search(context.Background())

	assert.True(t, mailerrors.IsConnectionError(err))
	assert.Equal(t, StateDisconnected, session.State())
	assert.True(t, fake.terminated)
}

func TestSession_ListBoxesBuildsHierarchy(t *testing.T) {
	session := connectedSession(newFakeClient())

	boxes, err := session.ListBoxes(context.Background())

	require.NoError(t, err)
	require.Len(t, boxes, 2)
	assert.Equal(t, "Archive", boxes[0].ID)
	require.Len(t, boxes[0].Children, 1)
	assert.Equal(t, "Archive/2023", boxes[0].Children[0].ID)
	assert.Equal(t, "2023", boxes[0].Children[0].Name)
	assert.Equal(t, "INBOX", boxes[1].ID)
}

func TestSession_FetchRangeUsesPeek(t *testing.T) {
	fake := newFakeClient()
	session := connectedSession(fake)
	_, err := session.GetBox(context.Background(), "INBOX", true)
	require.NoError(t, err)

	raws, err := session.Fetch(context.Background(), models.FetchOptions{
		StartSeq:  3,
		EndSeq:    2,
		BodyParts: "HEADER.FIELDS (FROM SUBJECT MESSAGE-ID)",
	})

	require.NoError(t, err)
	require.Len(t, raws, 2)
	assert.Equal(t, "2:3", fake.lastFetch.String())
	assert.Equal(t, imap.FetchItem("BODY.PEEK[HEADER.FIELDS (FROM SUBJECT MESSAGE-ID)]"), fake.lastItems[3])
	assert.Equal(t, uint32(2), raws[0].SeqNum)
	assert.Equal(t, uint32(11), raws[0].UID)
	assert.Equal(t, "Subject: two\r\n\r\n", string(raws[0].Body))
}

func TestSession_FetchMarkAsReadDropsPeek(t *testing.T) {
	fake := newFakeClient()
	session := connectedSession(fake)
	_, err := session.GetBox(context.Background(), "INBOX", false)
	require.NoError(t, err)

	raws, err := session.Fetch(context.Background(), models.FetchOptions{IDs: []uint32{1}, MarkAsRead: true})

	require.NoError(t, err)
	require.Len(t, raws, 1)
	assert.Equal(t, imap.FetchItem("BODY[]"), fake.lastItems[3])
	assert.Equal(t, []string{imap.SeenFlag}, raws[0].Flags)
}

func TestSession_FetchRejectsAmbiguousOptions(t *testing.T) {
	session := connectedSession(newFakeClient())
	_, err := session.GetBox(context.Background(), "INBOX", true)
	require.NoError(t, err)

	_, err = session.Fetch(context.Background(), models.FetchOptions{IDs: []uint32{1}, StartSeq: 1, EndSeq: 2})
	assert.ErrorIs(t, err, mailerrors.ErrInvalidFetchOptions)

	_, err = session.Fetch(context.Background(), models.FetchOptions{})
	assert.ErrorIs(t, err, mailerrors.ErrInvalidFetchOptions)

	assert.Equal(t, StateBoxSelected, session.State())
}

func TestSession_CancelledContextDoesNotTouchConnection(t *testing.T) {
	fake := newFakeClient()
	session := connectedSession(fake)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := session.GetBox(ctx, "INBOX", true)

	assert.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, fake.selected)
	assert.Equal(t, StateConnected, session.State())
}

func TestSession_DeadlineBecomesCommandTimeout(t *testing.T) {
	fake := newFakeClient()
	session := connectedSession(fake)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	_, err := session.GetBox(ctx, "INBOX", true)

	require.NoError(t, err)
	require.NotEmpty(t, fake.timeouts)
	assert.LessOrEqual(t, fake.timeouts[0], 2*time.Second)
	assert.Greater(t, fake.timeouts[0], time.Duration(0))
	assert.Equal(t, time.Duration(0), fake.timeouts[len(fake.timeouts)-1])
}

func TestSession_CreateBoxDuplicateSurfacesServerError(t *testing.T) {
	session := connectedSession(newFakeClient())

	require.NoError(t, session.CreateBox(context.Background(), "Projects"))
	err := session.CreateBox(context.Background(), "Projects")

	require.Error(t, err)
	assert.Contains(t, err.Error(), "already exists")
}

func TestSession_LogoutFromAnyState(t *testing.T) {
	fake := newFakeClient()
	session := connectedSession(fake)
	_, err := session.GetBox(context.Background(), "INBOX", true)
	require.NoError(t, err)

	require.NoError(t, session.Logout(context.Background()))

	assert.True(t, fake.loggedOut)
	assert.Equal(t, StateDisconnected, session.State())
	require.NoError(t, session.Logout(context.Background()))
}

func TestBuildCriteria(t *testing.T) {
	since := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)

	criteria := buildCriteria([]models.SearchFilter{
		{Kind: models.SearchText, Value: "invoice"},
		{Kind: models.SearchSentSince, Since: since},
		{Kind: models.SearchHeader, Field: "Message-ID", Value: "abc@host"},
		{Kind: models.SearchUnseen},
		{Kind: models.SearchUID, UID: 42},
	})

	assert.Equal(t, []string{"invoice"}, criteria.Text)
	assert.Equal(t, since, criteria.SentSince)
	assert.Equal(t, "abc@host", criteria.Header.Get("Message-ID"))
	assert.Equal(t, []string{imap.SeenFlag}, criteria.WithoutFlags)
	require.NotNil(t, criteria.Uid)
	assert.True(t, criteria.Uid.Contains(42))
}
