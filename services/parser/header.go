package parser

import (
	"bufio"
	"bytes"
	"io"
	"log"
	"strings"
	"time"

	"github.com/customeros/mailsherpa/mailvalidate"
	"github.com/emersion/go-message"
	_ "github.com/emersion/go-message/charset"
	"github.com/emersion/go-message/mail"
	"github.com/emersion/go-message/textproto"

	"github.com/customeros/mailreader/internal/models"
	"github.com/customeros/mailreader/internal/utils"
)

// readHeader parses the header block at the start of raw. A truncated or
// malformed block yields whatever fields were read before the damage.
func readHeader(raw []byte) *mail.Header {
	tpHeader, err := textproto.ReadHeader(bufio.NewReader(bytes.NewReader(raw)))
	if err != nil && err != io.EOF {
		log.Printf("Error parsing message header: %v", err)
	}
	header := mail.Header{Header: message.Header{Header: tpHeader}}
	return &header
}

func headerText(header *mail.Header, key string) string {
	if header == nil {
		return ""
	}
	value, err := header.Text(key)
	if err != nil {
		return strings.TrimSpace(header.Get(key))
	}
	return strings.TrimSpace(value)
}

func headerDate(header *mail.Header, fallback time.Time) time.Time {
	if header.Has("Date") {
		if date, err := header.Date(); err == nil && !date.IsZero() {
			return date.UTC()
		}
	}
	return fallback.UTC()
}

func headerAddresses(header *mail.Header, key string) []models.Address {
	if !header.Has(key) {
		return []models.Address{}
	}
	list, err := header.AddressList(key)
	if err != nil {
		log.Printf("Error parsing %s header %q: %v", key, header.Get(key), err)
		return []models.Address{}
	}
	return convertAddresses(list)
}

// ParseAddressList parses an RFC 5322 address list such as
// "A <a@example.com>, b@example.com". Malformed input yields an empty list.
func ParseAddressList(value string) []models.Address {
	if strings.TrimSpace(value) == "" {
		return []models.Address{}
	}
	list, err := mail.ParseAddressList(value)
	if err != nil {
		log.Printf("Error parsing address list %q: %v", value, err)
		return []models.Address{}
	}
	return convertAddresses(list)
}

func convertAddresses(list []*mail.Address) []models.Address {
	addresses := make([]models.Address, 0, len(list))
	for _, addr := range list {
		if addr == nil || addr.Address == "" {
			continue
		}
		addresses = append(addresses, models.Address{
			Email:       normalizeEmail(addr.Address),
			DisplayName: strings.TrimSpace(addr.Name),
		})
	}
	return addresses
}

func normalizeEmail(email string) string {
	email = strings.TrimSpace(email)
	syntaxValidation := mailvalidate.ValidateEmailSyntax(email)
	if syntaxValidation.IsValid && syntaxValidation.CleanEmail != "" {
		return syntaxValidation.CleanEmail
	}
	return email
}

func messageID(header *mail.Header, uid uint32) string {
	if id := utils.NormalizeMessageID(header.Get("Message-Id")); id != "" {
		return id
	}
	return utils.UIDMessageID(uid)
}

func isSeen(flags []string) bool {
	for _, flag := range flags {
		if utils.ContainsFold(flag, "seen") {
			return true
		}
	}
	return false
}
