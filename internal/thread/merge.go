package thread

import "ecochat/models"

// outcome says what reconcile did with an incoming message.
type outcome int

const (
	outcomeReplaced outcome = iota
	outcomeConfirmed
	outcomeAppended
	// outcomeIgnored: a deletion echo for a message that is not loaded.
	outcomeIgnored
)

func (o outcome) String() string {
	switch o {
	case outcomeReplaced:
		return "replaced"
	case outcomeConfirmed:
		return "confirmed"
	case outcomeIgnored:
		return "ignored"
	default:
		return "appended"
	}
}

func indexByID(msgs []models.Message, messageID int64) int {
	for i := range msgs {
		if msgs[i].MessageID == messageID {
			return i
		}
	}
	return -1
}

func indexByLocalID(msgs []models.Message, localID string) int {
	for i := range msgs {
		if msgs[i].LocalID == localID {
			return i
		}
	}
	return -1
}

// matchOptimistic finds the pending entry an echo of in confirms. With a
// correlation id only an exact id match counts; otherwise the newest pending
// entry with the same content and type wins.
func matchOptimistic(msgs []models.Message, in models.Message, self int64, byCorrelation bool) int {
	if in.SenderID != self {
		return -1
	}
	if byCorrelation && in.ClientMessageID != "" {
		for i := len(msgs) - 1; i >= 0; i-- {
			if msgs[i].IsOptimistic && msgs[i].ClientMessageID == in.ClientMessageID {
				return i
			}
		}
		return -1
	}
	for i := len(msgs) - 1; i >= 0; i-- {
		m := msgs[i]
		if m.IsOptimistic && m.SenderID == self && m.Content == in.Content && m.MessageType == in.MessageType {
			return i
		}
	}
	return -1
}

// reconcile folds a streamed message into msgs. A known MessageID is replaced
// in place, a matching optimistic entry is confirmed in place keeping its
// LocalID, anything else is appended. A deletion of a message that is not
// loaded is ignored and idx is -1.
func reconcile(msgs []models.Message, in models.Message, self int64, byCorrelation bool) ([]models.Message, int, outcome) {
	in.IsOptimistic = false

	if i := indexByID(msgs, in.MessageID); i >= 0 && in.MessageID > 0 {
		in.LocalID = msgs[i].LocalID
		msgs[i] = in
		return msgs, i, outcomeReplaced
	}
	if i := matchOptimistic(msgs, in, self, byCorrelation); i >= 0 {
		in.LocalID = msgs[i].LocalID
		msgs[i] = in
		return msgs, i, outcomeConfirmed
	}
	if in.MessageType == models.MessageDeleted {
		return msgs, -1, outcomeIgnored
	}

	in.LocalID = models.ConfirmedLocalID(in.MessageID)
	msgs = append(msgs, in)
	return msgs, len(msgs) - 1, outcomeAppended
}

// markParentDeleted swaps the reply preview of every reply to deletedID.
func markParentDeleted(msgs []models.Message, deletedID int64) int {
	n := 0
	for i := range msgs {
		p := msgs[i].ParentMessageID
		if p != nil && *p == deletedID {
			msgs[i].ParentMessageContent = models.DeletedPlaceholder
			n++
		}
	}
	return n
}

// confirmed gives fetched messages their render keys.
func confirmed(page []models.Message) []models.Message {
	out := make([]models.Message, len(page))
	for i, m := range page {
		m.IsOptimistic = false
		m.LocalID = models.ConfirmedLocalID(m.MessageID)
		out[i] = m
	}
	return out
}

// prependOlder puts an older page in front of msgs, skipping ids already present.
func prependOlder(msgs, page []models.Message) ([]models.Message, int) {
	fresh := make([]models.Message, 0, len(page))
	for _, m := range confirmed(page) {
		if indexByID(msgs, m.MessageID) < 0 {
			fresh = append(fresh, m)
		}
	}
	return append(fresh, msgs...), len(fresh)
}

// mergeLatest folds a re-fetched newest page into an already rendered list.
// Known ids are refreshed in place; missing ones are inserted after the last
// confirmed entry with a smaller id, so pending optimistic entries stay last.
func mergeLatest(msgs, page []models.Message, self int64, byCorrelation bool) []models.Message {
	for _, m := range confirmed(page) {
		if i := indexByID(msgs, m.MessageID); i >= 0 {
			m.LocalID = msgs[i].LocalID
			msgs[i] = m
			continue
		}
		if i := matchOptimistic(msgs, m, self, byCorrelation); i >= 0 {
			m.LocalID = msgs[i].LocalID
			msgs[i] = m
			continue
		}
		at := 0
		for i := len(msgs) - 1; i >= 0; i-- {
			if !msgs[i].IsOptimistic && msgs[i].MessageID < m.MessageID {
				at = i + 1
				break
			}
		}
		msgs = append(msgs, models.Message{})
		copy(msgs[at+1:], msgs[at:])
		msgs[at] = m
	}
	return msgs
}

// applyReactions replaces the reaction list of one message. For the acting
// member the declared action decides the selection; for anyone else each
// emoji keeps the viewer's previous selection.
func applyReactions(msgs []models.Message, ev models.ReactionEvent, self int64) bool {
	i := indexByID(msgs, ev.MessageID)
	if i < 0 {
		return false
	}

	prior := make(map[string]bool, len(msgs[i].Reactions))
	for _, r := range msgs[i].Reactions {
		prior[r.EmojiType] = r.SelectedByMe
	}

	next := make([]models.Reaction, 0, len(ev.Reactions))
	for _, r := range ev.Reactions {
		if ev.MemberID == self {
			r.SelectedByMe = r.EmojiType == ev.EmojiType && ev.Action != models.ReactionRemove
		} else {
			r.SelectedByMe = prior[r.EmojiType]
		}
		next = append(next, r)
	}
	msgs[i].Reactions = next
	return true
}

// applyUnreadCounts sets the remaining unread count of every listed message.
func applyUnreadCounts(msgs []models.Message, counts map[int64]int) bool {
	changed := false
	for i := range msgs {
		if n, ok := counts[msgs[i].MessageID]; ok && msgs[i].UnreadCount != n {
			msgs[i].UnreadCount = max(n, 0)
			changed = true
		}
	}
	return changed
}

// removeNewestOptimistic drops the most recent unconfirmed entry.
func removeNewestOptimistic(msgs []models.Message) ([]models.Message, *models.Message) {
	for i := len(msgs) - 1; i >= 0; i-- {
		if msgs[i].IsOptimistic {
			removed := msgs[i]
			return append(msgs[:i], msgs[i+1:]...), &removed
		}
	}
	return msgs, nil
}

func oldestConfirmedID(msgs []models.Message) (int64, bool) {
	for _, m := range msgs {
		if !m.IsOptimistic && m.MessageID > 0 {
			return m.MessageID, true
		}
	}
	return 0, false
}

func cloneMessages(msgs []models.Message) []models.Message {
	out := make([]models.Message, len(msgs))
	for i := range msgs {
		out[i] = msgs[i].Clone()
	}
	return out
}
