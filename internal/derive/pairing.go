package derive

import "example.com/sessionledger/internal/domain"

// PairIndex returns the index of the event paired with ordered[i]: the next
// resume for a pause, or the preceding pause for a resume, with no other
// pause or resume in between. ordered must be sorted by sequence.
func PairIndex(ordered []domain.SessionEvent, i int) (int, bool) {
	if i < 0 || i >= len(ordered) {
		return -1, false
	}
	switch ordered[i].Type {
	case domain.EventSessionPause:
		for j := i + 1; j < len(ordered); j++ {
			switch ordered[j].Type {
			case domain.EventSessionResume:
				return j, true
			case domain.EventSessionPause:
				return -1, false
			}
		}
	case domain.EventSessionResume:
		for j := i - 1; j >= 0; j-- {
			switch ordered[j].Type {
			case domain.EventSessionPause:
				return j, true
			case domain.EventSessionResume:
				return -1, false
			}
		}
	}
	return -1, false
}
