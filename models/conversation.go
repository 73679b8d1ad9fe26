package models

import "time"

// Conversation pairs two participants. ParticipantA sorts before ParticipantB.
type Conversation struct {
	ID           int64     `json:"id"`
	ParticipantA string    `json:"participant_a"`
	ParticipantB string    `json:"participant_b"`
	CreatedAt    time.Time `json:"created_at"`
}

// NormalizePair orders a participant pair so (a, b) and (b, a) resolve identically.
func NormalizePair(a, b string) (string, string) {
	if b < a {
		return b, a
	}
	return a, b
}

// Peer returns the other participant, or "" if userID is not a participant.
func (c Conversation) Peer(userID string) string {
	switch userID {
	case c.ParticipantA:
		return c.ParticipantB
	case c.ParticipantB:
		return c.ParticipantA
	default:
		return ""
	}
}
