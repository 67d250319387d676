package chess

// Move is the structured description of a move as reported by the rules engine.
// The session core stores it verbatim and never interprets it.
type Move struct {
	From      string `json:"from"`
	To        string `json:"to"`
	Promotion string `json:"promotion,omitempty"`
	Notation  string `json:"san"`
}

// String returns the move in coordinate form, e.g. "e7e8q"
func (m Move) String() string {
	return m.From + m.To + m.Promotion
}
