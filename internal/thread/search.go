package thread

import (
	"context"
	"log/slog"
	"slices"
	"strings"
	"time"

	"ecochat/internal/featureflags"
	"ecochat/internal/observability"
	"ecochat/models"
)

// highlightFor is how long a search hit stays highlighted.
const highlightFor = 3 * time.Second

type searchState struct {
	keyword   string
	hits      []int64
	index     int
	offset    int
	exhausted bool
}

// SearchResult describes the search position after a navigation step.
type SearchResult struct {
	Keyword   string
	Index     int
	Total     int
	MessageID int64
	Exhausted bool
}

func (s searchState) result() SearchResult {
	r := SearchResult{Keyword: s.keyword, Index: s.index, Total: len(s.hits), Exhausted: s.exhausted}
	if s.index >= 0 && s.index < len(s.hits) {
		r.MessageID = s.hits[s.index]
	}
	return r
}

// Search starts a new keyword search and focuses the most recent hit.
func (t *Thread) Search(ctx context.Context, keyword string) (SearchResult, error) {
	keyword = strings.TrimSpace(keyword)
	if keyword == "" {
		return SearchResult{}, models.NewValidationError("Search keyword is empty")
	}

	t.mu.Lock()
	roomID, epoch := t.roomID, t.epoch
	t.search = searchState{keyword: keyword, index: -1}
	t.mu.Unlock()
	if roomID == 0 {
		return SearchResult{}, models.NewValidationError("No room is open")
	}

	ids, err := t.fetchHits(ctx, roomID, keyword, 0)
	if err != nil {
		return SearchResult{}, err
	}

	t.mu.Lock()
	if t.epoch != epoch || t.search.keyword != keyword {
		t.mu.Unlock()
		stale()
		return SearchResult{}, nil
	}
	t.search.hits = ids
	t.search.offset = len(ids)
	t.search.exhausted = len(ids) < t.opts.SearchPageSize
	if len(ids) > 0 {
		t.search.index = 0
	}
	res := t.search.result()
	t.mu.Unlock()

	if res.MessageID != 0 {
		t.focus(ctx, epoch, res.MessageID)
	}
	return res, nil
}

// SearchNext moves to the next older hit, fetching another page when the
// loaded hits are used up.
func (t *Thread) SearchNext(ctx context.Context) (SearchResult, error) {
	t.mu.Lock()
	roomID, epoch := t.roomID, t.epoch
	s := t.search
	if s.keyword == "" {
		t.mu.Unlock()
		return SearchResult{}, models.NewValidationError("No active search")
	}
	if s.index+1 < len(s.hits) {
		t.search.index++
		res := t.search.result()
		t.mu.Unlock()
		t.focus(ctx, epoch, res.MessageID)
		return res, nil
	}
	if s.exhausted {
		res := s.result()
		t.mu.Unlock()
		return res, nil
	}
	t.mu.Unlock()

	ids, err := t.fetchHits(ctx, roomID, s.keyword, s.offset)
	if err != nil {
		return s.result(), err
	}

	t.mu.Lock()
	if t.epoch != epoch || t.search.keyword != s.keyword || t.search.offset != s.offset {
		t.mu.Unlock()
		stale()
		return SearchResult{}, nil
	}
	for _, id := range ids {
		if !slices.Contains(t.search.hits, id) {
			t.search.hits = append(t.search.hits, id)
		}
	}
	t.search.offset += len(ids)
	t.search.exhausted = len(ids) < t.opts.SearchPageSize
	moved := t.search.index+1 < len(t.search.hits)
	if moved {
		t.search.index++
	}
	res := t.search.result()
	t.mu.Unlock()

	if moved {
		t.focus(ctx, epoch, res.MessageID)
	}
	return res, nil
}

// SearchPrev moves to the next newer hit.
func (t *Thread) SearchPrev(ctx context.Context) (SearchResult, error) {
	t.mu.Lock()
	if t.search.keyword == "" {
		t.mu.Unlock()
		return SearchResult{}, models.NewValidationError("No active search")
	}
	if t.search.index <= 0 {
		res := t.search.result()
		t.mu.Unlock()
		return res, nil
	}
	t.search.index--
	res := t.search.result()
	epoch := t.epoch
	t.mu.Unlock()

	t.focus(ctx, epoch, res.MessageID)
	return res, nil
}

// ClearSearch ends the search session and drops the highlight.
func (t *Thread) ClearSearch() {
	t.mu.Lock()
	t.search = searchState{}
	t.highlightT.Cancel()
	t.highlightT = nil
	t.highlight = ""
	t.mu.Unlock()
}

func (t *Thread) fetchHits(ctx context.Context, roomID int64, keyword string, offset int) ([]int64, error) {
	ctx = observability.WithRoomID(ctx, roomID)
	found, err := t.opts.API.SearchMessages(ctx, roomID, t.self().MemberID, keyword, t.opts.SearchPageSize, offset)
	if err != nil {
		observability.GlobalLogger.ErrorContext(ctx, "message search failed",
			slog.Int("offset", offset), slog.String("error", err.Error()))
		t.alert("Search", err)
		return nil, err
	}
	ids := make([]int64, 0, len(found))
	for _, m := range found {
		ids = append(ids, m.MessageID)
	}
	return ids, nil
}

// focus scrolls to a hit and highlights it, replacing any earlier highlight.
// Hits older than the loaded history pull older pages first.
func (t *Thread) focus(ctx context.Context, epoch uint64, messageID int64) {
	localID, ok := t.localIDOf(messageID)
	if !ok && t.flag(featureflags.SearchAutoload) {
		for !ok && t.current(epoch) && t.HasMore() {
			added, err := t.loadOlder(ctx)
			if err != nil || added == 0 {
				break
			}
			localID, ok = t.localIDOf(messageID)
		}
	}
	if !ok {
		return
	}

	t.mu.Lock()
	if t.epoch != epoch {
		t.mu.Unlock()
		return
	}
	t.highlightT.Cancel()
	t.highlight = localID
	t.highlightT = t.opts.Scheduler.After(highlightFor, func() {
		t.mu.Lock()
		if t.highlight == localID {
			t.highlight = ""
			t.highlightT = nil
		}
		t.mu.Unlock()
	})
	t.mu.Unlock()

	t.opts.Viewport.ScrollToMessage(localID)
}

func (t *Thread) localIDOf(messageID int64) (string, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if i := indexByID(t.messages, messageID); i >= 0 {
		return t.messages[i].LocalID, true
	}
	return "", false
}
