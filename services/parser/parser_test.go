package parser

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/customeros/mailreader/internal/enum"
	"github.com/customeros/mailreader/internal/models"
)

func TestParseAddressList(t *testing.T) {
	// Act
	addresses := ParseAddressList("A <a@example.com>, b@example.com")

	// Assert
	require.Len(t, addresses, 2)
	assert.Equal(t, "a@example.com", addresses[0].Email)
	assert.Equal(t, "A", addresses[0].DisplayName)
	assert.Equal(t, "b@example.com", addresses[1].Email)
	assert.Empty(t, addresses[1].DisplayName)
	assert.Equal(t, "b@example.com", addresses[1].DisplayOrEmail())
}

func TestParseAddressList_MalformedYieldsEmpty(t *testing.T) {
	assert.Empty(t, ParseAddressList("<<not an address"))
	assert.Empty(t, ParseAddressList(""))
}

func TestParseSummary(t *testing.T) {
	raw := models.RawMessage{
		SeqNum:       4,
		UID:          104,
		Flags:        []string{"\\Seen"},
		InternalDate: time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC),
		Body: []byte("From: Jane Doe <jane@example.com>\r\n" +
			"Subject: =?UTF-8?Q?Caf=C3=A9_meeting?=\r\n" +
			"Message-ID: <abc123@example.com>\r\n" +
			"\r\n"),
	}

	summary := ParseSummary(raw, "INBOX")

	assert.Equal(t, "abc123@example.com", summary.ID)
	assert.Equal(t, uint32(4), summary.InternalID)
	assert.Equal(t, "Café meeting", summary.Subject)
	require.Len(t, summary.From, 1)
	assert.Equal(t, "jane@example.com", summary.From[0].Email)
	assert.Equal(t, "Jane Doe", summary.From[0].DisplayName)
	assert.True(t, summary.Flags.Seen)
	assert.Equal(t, "INBOX", summary.Box.ID)
	assert.Equal(t, raw.InternalDate, summary.Date)
}

func TestParseSummary_MissingHeadersDegrade(t *testing.T) {
	raw := models.RawMessage{
		SeqNum: 1,
		UID:    77,
		Flags:  []string{"\\Flagged"},
		Body:   []byte("Subject: no sender\r\nFrom: not-an-address\r\n\r\n"),
	}

	summary := ParseSummary(raw, "INBOX")

	assert.Equal(t, "uid:77", summary.ID)
	assert.Equal(t, "no sender", summary.Subject)
	assert.Empty(t, summary.From)
	assert.NotNil(t, summary.From)
	assert.False(t, summary.Flags.Seen)
}

func TestParseSummary_SeenFlagIsCaseInsensitive(t *testing.T) {
	raw := models.RawMessage{Flags: []string{"\\SEEN"}, Body: []byte("\r\n")}

	assert.True(t, ParseSummary(raw, "INBOX").Flags.Seen)
}

func TestParseFull_HTMLWithAttachment(t *testing.T) {
	body := strings.Join([]string{
		"From: Jane <jane@example.com>",
		"To: Bob <bob@example.com>, carol@example.com",
		"Cc: dave@example.com",
		"Subject: Report",
		"Message-ID: <report@example.com>",
		"MIME-Version: 1.0",
		"Content-Type: multipart/mixed; boundary=\"b1\"",
		"",
		"--b1",
		"Content-Type: text/html; charset=utf-8",
		"",
		"<html><body><p onclick=\"evil()\">Hello</p><script>alert(1)</script></body></html>",
		"--b1",
		"Content-Type: text/plain; name=\"notes.txt\"",
		"Content-Disposition: attachment; filename=\"notes.txt\"",
		"",
		"attached notes",
		"--b1--",
		"",
	}, "\r\n")

	full := ParseFull(models.RawMessage{SeqNum: 2, UID: 9, Body: []byte(body)}, "INBOX", RenderOptions{})

	assert.Equal(t, "report@example.com", full.ID)
	require.Len(t, full.To, 2)
	assert.Equal(t, "bob@example.com", full.To[0].Email)
	assert.Equal(t, "carol@example.com", full.To[1].Email)
	require.Len(t, full.Cc, 1)
	assert.Empty(t, full.Bcc)
	assert.Equal(t, enum.ContentTypeHTML, full.Content.Type)
	assert.Contains(t, full.Content.HTML, "Hello")
	assert.NotContains(t, full.Content.HTML, "alert(1)")
	assert.NotContains(t, full.Content.HTML, "onclick")
	require.Len(t, full.Attachments, 1)
	assert.Equal(t, "notes.txt", full.Attachments[0].Filename)
	assert.Equal(t, 0, full.Attachments[0].Index)

	attachment, err := ExtractAttachment([]byte(body), 0)
	require.NoError(t, err)
	assert.Contains(t, string(attachment.Data), "attached notes")

	_, err = ExtractAttachment([]byte(body), 3)
	assert.Error(t, err)
}

func TestParseFull_PlainTextIsWrapped(t *testing.T) {
	body := "From: a@example.com\r\nSubject: hi\r\nContent-Type: text/plain\r\n\r\n1 < 2 & fine\r\n"

	full := ParseFull(models.RawMessage{UID: 3, Body: []byte(body)}, "INBOX", RenderOptions{})

	assert.Equal(t, enum.ContentTypeText, full.Content.Type)
	assert.Contains(t, full.Content.HTML, "<html>")
	assert.Contains(t, full.Content.HTML, "1 &lt; 2 &amp; fine")
}

func TestRender_NoImages(t *testing.T) {
	html := `<html><body><img src="https://tracker.example.com/p.gif" srcset="a.png 2x"><p>text</p></body></html>`

	rendered := Render(html, true, false)

	assert.Contains(t, rendered, `data-original-src="https://tracker.example.com/p.gif"`)
	assert.Contains(t, rendered, transparentPixel)
	assert.NotContains(t, rendered, "srcset")
	assert.Contains(t, rendered, "<p>text</p>")
}

func TestRender_DarkMode(t *testing.T) {
	html := `<html><head></head><body bgcolor="#ffffff"><div style="color: #000; font-size: 12px; background-color: white">x</div><font color="red">y</font></body></html>`

	rendered := Render(html, false, true)

	assert.NotContains(t, rendered, "bgcolor")
	assert.NotContains(t, rendered, `color="red"`)
	assert.Contains(t, rendered, `style="font-size: 12px"`)
	assert.Contains(t, rendered, "data-dark-mode")
}

func TestRender_LeavesSafeHTMLAlone(t *testing.T) {
	html := `<html><head></head><body><a href="https://example.com">link</a></body></html>`

	rendered := Render(html, false, false)

	assert.Contains(t, rendered, `<a href="https://example.com">link</a>`)
	assert.NotContains(t, rendered, "data-dark-mode")
}
