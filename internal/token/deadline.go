package token

import "time"

// EffectiveState computes the state a reader should observe, given the
// persisted state and the record's deadlines. A pending token past its
// acceptance deadline, or an accepted token past its key-release
// deadline, reads as expired even before Expire has persisted it.
//
// The view is monotonic: once a deadline has passed, no transition that
// requires the pre-deadline state can succeed, regardless of whether
// the expiry has been materialized yet. Terminal states are unaffected
// by elapsed time.
func EffectiveState(t Token, now time.Time) State {
	switch t.State {
	case StatePending:
		if !now.Before(t.DeadlineAccept) {
			return StateExpired
		}
	case StateAccepted:
		if !now.Before(t.DeadlineKeyRelease) {
			return StateExpired
		}
	}
	return t.State
}

// Expire persists the expired state when a deadline has elapsed. It is
// idempotent: tokens that are already terminal, or whose window is
// still open, are returned unchanged with changed=false.
func Expire(t Token, now time.Time) (Token, bool) {
	if EffectiveState(t, now) != StateExpired || t.State == StateExpired {
		return t, false
	}

	updated := t
	updated.State = StateExpired
	updated.TransferableTo = ""
	updated.UpdatedAt = now.UTC()
	return updated, true
}
