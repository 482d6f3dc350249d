package retrieval

import (
	"context"
	"sort"

	"github.com/opentracing/opentracing-go"
	"github.com/opentracing/opentracing-go/log"
	"github.com/pkg/errors"

	"github.com/customeros/mailreader/dto"
	"github.com/customeros/mailreader/interfaces"
	"github.com/customeros/mailreader/internal/caches"
	mailerrors "github.com/customeros/mailreader/internal/errors"
	"github.com/customeros/mailreader/internal/models"
	"github.com/customeros/mailreader/internal/tracing"
	"github.com/customeros/mailreader/internal/utils"
	"github.com/customeros/mailreader/services/parser"
)

const headerFields = "HEADER.FIELDS (FROM SUBJECT MESSAGE-ID)"

// boxSnapshot is the cached listing of one box. Summaries are keyed by
// sequence number, which stays stable while nothing is expunged. Every
// fetched position is kept, including copies sharing a Message-ID, so a
// duplicate never looks like a gap.
type boxSnapshot struct {
	UIDValidity uint32                  `json:"uidValidity"`
	UIDNext     uint32                  `json:"uidNext"`
	Total       uint32                  `json:"total"`
	Messages    []models.MessageSummary `json:"messages"`
}

// validFor reports whether the sequence numbers recorded in the snapshot
// still address the same messages in box.
func (s boxSnapshot) validFor(box *models.MailBox) bool {
	if s.UIDValidity != box.UIDValidity {
		return false
	}
	if s.UIDNext == 0 || box.UIDNext == 0 {
		return box.Counts.Total >= s.Total
	}
	if box.UIDNext < s.UIDNext {
		return false
	}
	// anything short of total + appended means messages were expunged
	return box.Counts.Total >= s.Total+(box.UIDNext-s.UIDNext)
}

func (s boxSnapshot) describes(box *models.MailBox) bool {
	return s.UIDValidity == box.UIDValidity && s.UIDNext == box.UIDNext && s.Total == box.Counts.Total
}

func (s boxSnapshot) index() map[uint32]models.MessageSummary {
	index := make(map[uint32]models.MessageSummary, len(s.Messages))
	for _, message := range s.Messages {
		index[message.InternalID] = message
	}
	return index
}

// GetBoxMessages lists one page of a box, newest first. Pages are served from
// the box snapshot where possible; only missing positions go to the server.
func (p *ImapProvider) GetBoxMessages(ctx context.Context, boxID string, page models.PageRequest) ([]models.MessageSummary, error) {
	span, ctx := opentracing.StartSpanFromContext(ctx, "ImapProvider.GetBoxMessages")
	defer span.Finish()
	tracing.SetDefaultServiceSpanTags(ctx, span)
	span.SetTag("box.id", boxID)
	span.LogFields(log.String("filter", page.Filter), log.Int("start", page.Start), log.Int("end", page.End))

	if page.Start < 0 || page.End < page.Start {
		err := errors.Wrapf(mailerrors.ErrInvalidPage, "start %d end %d", page.Start, page.End)
		tracing.TraceErr(span, err)
		return nil, err
	}

	var messages, discovered []models.MessageSummary
	err := p.sessions.WithSession(ctx, p.account, func(ctx context.Context, session interfaces.MailSession) error {
		var err error
		messages, discovered, err = p.boxMessages(ctx, session, boxID, page)
		return err
	})
	if err != nil {
		tracing.TraceErr(span, err)
		return nil, err
	}

	span.LogFields(log.Int("result.count", len(messages)), log.Int("result.discovered", len(discovered)))

	if len(discovered) > 0 {
		ids := make([]string, 0, len(discovered))
		for _, message := range visibleSummaries(discovered) {
			ids = append(ids, message.ID)
		}
		p.publish(ctx, boxID, dto.MessagesDiscovered{AccountID: p.account.Identity(), BoxID: boxID, MessageIDs: ids})
	}

	return messages, nil
}

func (p *ImapProvider) boxMessages(ctx context.Context, session interfaces.MailSession, boxID string, page models.PageRequest) ([]models.MessageSummary, []models.MessageSummary, error) {
	box, err := session.GetBox(ctx, boxID, true)
	if err != nil {
		return nil, nil, err
	}

	total := int(box.Counts.Total)
	if total <= page.Start {
		return []models.MessageSummary{}, nil, nil
	}

	wanted, err := resolvePage(ctx, session, total, page)
	if err != nil {
		return nil, nil, err
	}
	if len(wanted) == 0 {
		return []models.MessageSummary{}, nil, nil
	}

	key := caches.NewKey(session.Identity(), caches.KindMessages, boxID)
	snapshot := p.loadSnapshot(key, box)
	cached := snapshot.index()

	var hits []models.MessageSummary
	var missing []uint32
	for _, seq := range wanted {
		if message, ok := cached[seq]; ok {
			hits = append(hits, message)
		} else {
			missing = append(missing, seq)
		}
	}

	if len(hits) == 0 {
		opts := models.FetchOptions{IDs: wanted, BodyParts: headerFields}
		if page.Filter == "" {
			opts = models.FetchOptions{StartSeq: wanted[0], EndSeq: wanted[len(wanted)-1], BodyParts: headerFields}
		}

		fresh, err := fetchSummaries(ctx, session, boxID, opts)
		if err != nil {
			return nil, nil, err
		}

		p.persist(key, box, mergeSummaries(fresh, snapshot.Messages))
		return visibleSummaries(fresh), nil, nil
	}

	var discovered []models.MessageSummary
	if page.Start == 0 && len(missing) > 0 {
		discovered, err = p.probeNewMessages(ctx, session, boxID, page.Filter, missing)
		if err != nil {
			return nil, nil, err
		}
		missing = withoutSeqNums(missing, discovered)
	}

	var filled []models.MessageSummary
	if len(missing) > 0 {
		filled, err = fetchSummaries(ctx, session, boxID, models.FetchOptions{IDs: missing, BodyParts: headerFields})
		if err != nil {
			return nil, nil, err
		}
	}

	fresh := append(discovered, filled...)
	if len(fresh) > 0 || !snapshot.describes(box) {
		p.mergeAndPersist(key, box, snapshot, fresh)
	}

	return visibleSummaries(mergeSummaries(fresh, hits)), discovered, nil
}

// resolvePage turns a page request into the sequence numbers it covers,
// newest first.
func resolvePage(ctx context.Context, session interfaces.MailSession, total int, page models.PageRequest) ([]uint32, error) {
	if page.Filter == "" {
		high := total - page.Start
		low := total - page.End
		if low < 1 {
			low = 1
		}

		wanted := make([]uint32, 0, high-low+1)
		for seq := high; seq >= low; seq-- {
			wanted = append(wanted, uint32(seq))
		}
		return wanted, nil
	}

	ids, err := session.Search(ctx, models.SearchFilter{Kind: models.SearchText, Value: page.Filter})
	if err != nil {
		return nil, err
	}
	if page.Start >= len(ids) {
		return nil, nil
	}

	newest := make([]uint32, len(ids))
	for i, id := range ids {
		newest[len(ids)-1-i] = id
	}

	end := page.End
	if end >= len(newest) {
		end = len(newest) - 1
	}
	return newest[page.Start : end+1], nil
}

// probeNewMessages looks for recently sent messages among the positions the
// snapshot does not know yet and fetches their headers.
func (p *ImapProvider) probeNewMessages(ctx context.Context, session interfaces.MailSession, boxID, filter string, unknown []uint32) ([]models.MessageSummary, error) {
	filters := []models.SearchFilter{{Kind: models.SearchSentSince, Since: utils.Now().Add(-p.cache.TTL())}}
	if filter != "" {
		filters = append(filters, models.SearchFilter{Kind: models.SearchText, Value: filter})
	}

	recent, err := session.Search(ctx, filters...)
	if err != nil {
		return nil, err
	}

	var ids []uint32
	for _, id := range recent {
		if containsSeqNum(unknown, id) {
			ids = append(ids, id)
		}
	}
	if len(ids) == 0 {
		return nil, nil
	}

	p.log.Debugf("[%s][%s] Found %d new messages", session.Identity(), boxID, len(ids))

	return fetchSummaries(ctx, session, boxID, models.FetchOptions{IDs: ids, BodyParts: headerFields})
}

// mergeAndPersist folds fresh summaries into the snapshot and stores it
// against the current box state.
func (p *ImapProvider) mergeAndPersist(key caches.Key, box *models.MailBox, snapshot boxSnapshot, fresh []models.MessageSummary) {
	p.persist(key, box, mergeSummaries(fresh, snapshot.Messages))
}

func (p *ImapProvider) loadSnapshot(key caches.Key, box *models.MailBox) boxSnapshot {
	var snapshot boxSnapshot
	if !p.cache.GetJSON(key, &snapshot) {
		return boxSnapshot{}
	}
	if !snapshot.validFor(box) {
		p.log.Debugf("[%s] Discarding stale box snapshot", key.String())
		p.cache.Delete(key)
		return boxSnapshot{}
	}
	return snapshot
}

func (p *ImapProvider) persist(key caches.Key, box *models.MailBox, messages []models.MessageSummary) {
	snapshot := boxSnapshot{
		UIDValidity: box.UIDValidity,
		UIDNext:     box.UIDNext,
		Total:       box.Counts.Total,
		Messages:    messages,
	}
	if err := p.cache.SetJSON(key, snapshot); err != nil {
		p.log.Errorf("[%s] Error caching box snapshot: %v", key.String(), err)
	}
}

func fetchSummaries(ctx context.Context, session interfaces.MailSession, boxID string, opts models.FetchOptions) ([]models.MessageSummary, error) {
	raws, err := session.Fetch(ctx, opts)
	if err != nil {
		return nil, err
	}

	summaries := make([]models.MessageSummary, 0, len(raws))
	for _, raw := range raws {
		summaries = append(summaries, parser.ParseSummary(raw, boxID))
	}
	sortNewestFirst(summaries)
	return summaries, nil
}

// mergeSummaries combines two listings by sequence number, newest first. An
// entry of fresh replaces an existing entry at the same position.
func mergeSummaries(fresh, existing []models.MessageSummary) []models.MessageSummary {
	merged := make([]models.MessageSummary, 0, len(fresh)+len(existing))
	seqNums := make(map[uint32]struct{}, cap(merged))

	for _, list := range [][]models.MessageSummary{fresh, existing} {
		for _, message := range list {
			if _, ok := seqNums[message.InternalID]; ok {
				continue
			}
			seqNums[message.InternalID] = struct{}{}
			merged = append(merged, message)
		}
	}

	sortNewestFirst(merged)
	return merged
}

// visibleSummaries collapses copies sharing a Message-ID to the newest one.
// messages must be sorted newest first.
func visibleSummaries(messages []models.MessageSummary) []models.MessageSummary {
	return utils.UniqueBy(messages, func(m models.MessageSummary) string { return m.ID })
}

func sortNewestFirst(messages []models.MessageSummary) {
	sort.SliceStable(messages, func(i, j int) bool {
		return messages[i].InternalID > messages[j].InternalID
	})
}

func containsSeqNum(seqNums []uint32, seq uint32) bool {
	for _, s := range seqNums {
		if s == seq {
			return true
		}
	}
	return false
}

func withoutSeqNums(seqNums []uint32, found []models.MessageSummary) []uint32 {
	remaining := make([]uint32, 0, len(seqNums))
	for _, seq := range seqNums {
		known := false
		for _, message := range found {
			if message.InternalID == seq {
				known = true
				break
			}
		}
		if !known {
			remaining = append(remaining, seq)
		}
	}
	return remaining
}
