package models

import (
	"time"

	"github.com/customeros/mailreader/internal/enum"
)

type Address struct {
	Email       string `json:"email"`
	DisplayName string `json:"displayName"`
}

func (a Address) DisplayOrEmail() string {
	if a.DisplayName != "" {
		return a.DisplayName
	}
	return a.Email
}

type Flags struct {
	Seen bool `json:"seen"`
}

type BoxRef struct {
	ID string `json:"id"`
}

type MessageSummary struct {
	ID         string    `json:"id"`
	InternalID uint32    `json:"internalID,omitempty"`
	Date       time.Time `json:"date"`
	Subject    string    `json:"subject"`
	From       []Address `json:"from"`
	Flags      Flags     `json:"flags"`
	Box        BoxRef    `json:"box"`
}

type Content struct {
	Type enum.ContentType `json:"type"`
	HTML string           `json:"html"`
}

type Attachment struct {
	Index       int    `json:"index"`
	Filename    string `json:"filename"`
	ContentType string `json:"contentType"`
	Size        int    `json:"size"`
	ContentID   string `json:"contentId,omitempty"`
	Inline      bool   `json:"inline"`
}

type FullMessage struct {
	MessageSummary
	To          []Address    `json:"to"`
	Cc          []Address    `json:"cc"`
	Bcc         []Address    `json:"bcc"`
	Content     Content      `json:"content"`
	Attachments []Attachment `json:"attachments"`
}

// AttachmentContent is a downloaded attachment body.
type AttachmentContent struct {
	Attachment
	Data []byte `json:"-"`
}

// RawMessage is one record as returned by a session fetch.
type RawMessage struct {
	SeqNum       uint32
	UID          uint32
	Flags        []string
	InternalDate time.Time
	Body         []byte
}

type FetchOptions struct {
	IDs        []uint32
	StartSeq   uint32
	EndSeq     uint32
	BodyParts  string
	MarkAsRead bool
}

// ByIDs reports whether the fetch addresses an explicit id list rather than a range.
func (o FetchOptions) ByIDs() bool {
	return len(o.IDs) > 0
}

type SearchKind string

const (
	SearchText      SearchKind = "TEXT"
	SearchSentSince SearchKind = "SENTSINCE"
	SearchSince     SearchKind = "SINCE"
	SearchHeader    SearchKind = "HEADER"
	SearchUnseen    SearchKind = "UNSEEN"
	SearchUID       SearchKind = "UID"
)

type SearchFilter struct {
	Kind  SearchKind
	Field string
	Value string
	Since time.Time
	UID   uint32
}

type PageRequest struct {
	Filter string
	Start  int
	End    int
}

type MessageRequest struct {
	ID         string
	BoxID      string
	MarkAsRead bool
	NoImages   bool
	DarkMode   bool
}

type AttachmentRequest struct {
	BoxID     string
	MessageID string
	Index     int
}
