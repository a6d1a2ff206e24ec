package chat

// Store is the key/value model: a single string value.
type Store struct {
	value string
}

// Apply runs a Set or Get. A Get produces exactly one Reply addressed to
// the requesting connection; other commands are ignored.
func (s *Store) Apply(cmd Command, reply func(Reply)) {
	switch c := cmd.(type) {
	case Set:
		s.value = c.Text
	case Get:
		reply(Reply{Token: c.Token, Text: s.value})
	}
}

func (s *Store) Value() string { return s.value }
