package imap

import (
	"strings"

	"github.com/emersion/go-imap"

	"github.com/customeros/mailreader/internal/models"
)

// buildCriteria ANDs the filters together. No filters matches every message.
func buildCriteria(filters []models.SearchFilter) *imap.SearchCriteria {
	criteria := imap.NewSearchCriteria()

	for _, filter := range filters {
		switch filter.Kind {
		case models.SearchText:
			if filter.Value != "" {
				criteria.Text = append(criteria.Text, filter.Value)
			}
		case models.SearchSentSince:
			criteria.SentSince = filter.Since
		case models.SearchSince:
			criteria.Since = filter.Since
		case models.SearchHeader:
			criteria.Header.Add(strings.TrimSpace(filter.Field), filter.Value)
		case models.SearchUnseen:
			criteria.WithoutFlags = append(criteria.WithoutFlags, imap.SeenFlag)
		case models.SearchUID:
			if criteria.Uid == nil {
				criteria.Uid = new(imap.SeqSet)
			}
			criteria.Uid.AddNum(filter.UID)
		}
	}

	return criteria
}
