package model

// Conversation is the ordered message sequence sent to the model.
type Conversation []Message

// Clone returns a copy that does not share the backing array.
func (c Conversation) Clone() Conversation {
	if c == nil {
		return nil
	}
	out := make(Conversation, len(c))
	copy(out, c)
	return out
}

// CountRole returns how many messages have the given role.
func (c Conversation) CountRole(role Role) int {
	n := 0
	for _, m := range c {
		if m.Role == role {
			n++
		}
	}
	return n
}

// Validate checks every message.
func (c Conversation) Validate() error {
	for _, m := range c {
		if err := m.Validate(); err != nil {
			return err
		}
	}
	return nil
}

// Equal reports whether both conversations hold the same messages in the same order.
func (c Conversation) Equal(other Conversation) bool {
	if len(c) != len(other) {
		return false
	}
	for i := range c {
		if c[i] != other[i] {
			return false
		}
	}
	return true
}
