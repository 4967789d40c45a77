package rag

type Turn struct {
	Question string
	Answer   string
}

// History is the chronological list of turns of one conversation. It is not
// safe for concurrent use.
type History struct {
	turns []Turn
}

func (h *History) Append(question, answer string) {
	h.turns = append(h.turns, Turn{Question: question, Answer: answer})
}

func (h *History) Len() int {
	if h == nil {
		return 0
	}
	return len(h.turns)
}

// Last returns up to n most recent turns, oldest first. n <= 0 returns all.
func (h *History) Last(n int) []Turn {
	if h == nil {
		return nil
	}

	turns := h.turns
	if n > 0 && len(turns) > n {
		turns = turns[len(turns)-n:]
	}

	res := make([]Turn, len(turns))
	copy(res, turns)
	return res
}

func (h *History) Turns() []Turn {
	return h.Last(0)
}
