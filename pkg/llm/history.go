package llm

// Rough chars-per-token ratio used for budget trimming. Exact tokenization
// is provider-specific; this only needs to bound the window.
const charsPerToken = 4

// TrimToBudget returns the suffix of msgs that fits tokenBudget, always
// keeping the most recent system message even when it falls outside the
// window. Order is preserved.
func TrimToBudget(msgs []Message, tokenBudget int) []Message {
	if tokenBudget <= 0 || len(msgs) == 0 {
		return msgs
	}

	sysIdx := -1
	for i := len(msgs) - 1; i >= 0; i-- {
		if msgs[i].Role == RoleSystem {
			sysIdx = i
			break
		}
	}

	budget := tokenBudget
	if sysIdx >= 0 {
		budget -= estimateTokens(msgs[sysIdx])
	}

	start := len(msgs)
	for i := len(msgs) - 1; i >= 0; i-- {
		if i == sysIdx {
			start = i
			continue
		}
		cost := estimateTokens(msgs[i])
		if cost > budget {
			break
		}
		budget -= cost
		start = i
	}

	if sysIdx >= 0 && start > sysIdx {
		out := make([]Message, 0, len(msgs)-start+1)
		out = append(out, msgs[sysIdx])
		out = append(out, msgs[start:]...)
		return out
	}
	return msgs[start:]
}

func estimateTokens(m Message) int {
	n := len(m.Content)/charsPerToken + 1
	return n
}
