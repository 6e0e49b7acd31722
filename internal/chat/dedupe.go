package chat

// Dedupe collapses id collisions, keeping for each id the message whose date
// is newest (a strictly newer date displaces the held one, a tie keeps it).
// Output preserves the first-seen relative order of surviving ids. Pure and
// idempotent.
func Dedupe(messages []Message) []Message {
	out := make([]Message, 0, len(messages))
	index := make(map[string]int, len(messages))
	for _, m := range messages {
		i, seen := index[m.ID]
		if !seen {
			index[m.ID] = len(out)
			out = append(out, m)
			continue
		}
		if out[i].Date < m.Date {
			out[i] = m
		}
	}
	return out
}

// FilterErrors strips error-role turns. Error turns are never replayed to the
// backend and never persisted.
func FilterErrors(messages []Message) []Message {
	out := make([]Message, 0, len(messages))
	for _, m := range messages {
		if m.Role != RoleError {
			out = append(out, m)
		}
	}
	return out
}

// CollapseErrors applies the passive duplicate-failure rule: when exactly two
// error turns exist and the tail reads [user, error, error], the earlier of
// the two errors is dropped so the most recent attempt's error survives.
func CollapseErrors(messages []Message) []Message {
	errs := 0
	for _, m := range messages {
		if m.Role == RoleError {
			errs++
		}
	}
	if errs != 2 {
		return messages
	}
	n := len(messages)
	if n < 3 ||
		messages[n-3].Role != RoleUser ||
		messages[n-2].Role != RoleError ||
		messages[n-1].Role != RoleError {
		return messages
	}
	out := make([]Message, 0, n-1)
	out = append(out, messages[:n-2]...)
	out = append(out, messages[n-1])
	return out
}

// TrailingError detects the two regenerable tail shapes, [..., user, error]
// and [..., user, error, error], and returns the index of the originating
// user turn.
func TrailingError(messages []Message) (int, bool) {
	n := len(messages)
	if n >= 2 &&
		messages[n-2].Role == RoleUser &&
		messages[n-1].Role == RoleError {
		return n - 2, true
	}
	if n >= 3 &&
		messages[n-3].Role == RoleUser &&
		messages[n-2].Role == RoleError &&
		messages[n-1].Role == RoleError {
		return n - 3, true
	}
	return 0, false
}
