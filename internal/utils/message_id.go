package utils

import (
	"fmt"
	"strconv"
	"strings"

	gonanoid "github.com/matoous/go-nanoid/v2"
)

const (
	nanoIDAlphabet = "abcdefghijklmnopqrstuvwxyz0123456789"
	uidIDPrefix    = "uid:"
)

// GenerateNanoIDWithPrefix returns ids like "acct_k3j5h2...".
func GenerateNanoIDWithPrefix(prefix string, size int) string {
	id, err := gonanoid.Generate(nanoIDAlphabet, size)
	if err != nil {
		panic(err)
	}
	if prefix == "" {
		return id
	}
	return fmt.Sprintf("%s_%s", prefix, id)
}

// UIDMessageID is the id given to a message that carries no Message-ID header.
func UIDMessageID(uid uint32) string {
	return uidIDPrefix + strconv.FormatUint(uint64(uid), 10)
}

// ParseUIDMessageID reverses UIDMessageID.
func ParseUIDMessageID(id string) (uint32, bool) {
	if !strings.HasPrefix(id, uidIDPrefix) {
		return 0, false
	}
	uid, err := strconv.ParseUint(strings.TrimPrefix(id, uidIDPrefix), 10, 32)
	if err != nil || uid == 0 {
		return 0, false
	}
	return uint32(uid), true
}
