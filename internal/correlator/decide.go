package correlator

import (
	"slices"
	"sort"
	"time"
)

// Rules holds the deployment-specific correlation settings.
type Rules struct {
	// Trunk is the shared outside-line extension that reports events on
	// behalf of the real operator extension.
	Trunk string
	// SuppressWindow bounds how long after a timer starts a spurious end
	// from the same operator is still discarded.
	SuppressWindow time.Duration
}

// Decision is the outcome of Decide: one action plus the session change
// the caller must apply.
type Decision struct {
	Action Action
	Put    *Session
	Remove string
}

func none(reason string) Decision {
	return Decision{Action: Action{Type: ActionNone, Reason: reason}}
}

// Decide maps one transition to an action without side effects.
//
// Resolution order for end events: exact call id, then a scan of live
// sessions by reporting or party extension, then a bare "call ended" for a
// connected reporting extension. The exact call id always wins.
func Decide(in Input, sessions map[string]Session, connected func(string) bool, rules Rules) Decision {
	switch in.Kind {
	case KindRinging:
		return decideRinging(in, sessions, rules)
	case KindConnected:
		return decideConnected(in, sessions, connected, rules)
	case KindEnded:
		return decideEnded(in, sessions, connected, rules)
	default:
		return none("ignored transition")
	}
}

func decideRinging(in Input, sessions map[string]Session, rules Rules) Decision {
	if in.CallID == "" {
		return none("ringing without call id")
	}
	operator := in.Extension
	if in.Extension == rules.Trunk && in.PartyExtension != "" {
		operator = in.PartyExtension
	}
	if operator == "" || operator == rules.Trunk {
		return none("ringing on trunk without party extension")
	}

	action := Action{
		Type:         ActionRinging,
		CallID:       in.CallID,
		Operator:     operator,
		CallerNumber: in.CallerNumber,
		CallerName:   in.CallerName,
	}

	existing, ok := sessions[in.CallID]
	if ok {
		if existing.State == StateConnected {
			return none("ringing for connected call")
		}
		if existing.HasRung(operator) {
			return none("duplicate ringing")
		}
		// Another extension ringing for the same call (ring group): the
		// session keeps its owner, the new operator still gets data.
		s := existing
		s.RungBy = append(slices.Clone(existing.RungBy), operator)
		return Decision{Action: action, Put: &s}
	}

	return Decision{
		Action: action,
		Put: &Session{
			CallID:       in.CallID,
			Operator:     operator,
			CallerNumber: in.CallerNumber,
			CallerName:   in.CallerName,
			CreatedAt:    in.At,
			State:        StateRinging,
			RungBy:       []string{operator},
		},
	}
}

func decideConnected(in Input, sessions map[string]Session, connected func(string) bool, rules Rules) Decision {
	if in.CallID == "" {
		return none("connected without call id")
	}

	var operator string
	switch {
	case in.Extension != rules.Trunk && connected(in.Extension):
		operator = in.Extension
	case in.Extension == rules.Trunk && in.PartyExtension != "" && connected(in.PartyExtension):
		operator = in.PartyExtension
	}

	existing, ok := sessions[in.CallID]
	if ok && existing.TimerRunning() {
		return none("timer already running")
	}

	s := Session{
		CallID:       in.CallID,
		CallerNumber: in.CallerNumber,
		CallerName:   in.CallerName,
		CreatedAt:    in.At,
		State:        StateConnected,
	}
	if ok {
		s = existing
		s.State = StateConnected
	}

	if operator == "" {
		if !ok {
			return none("connected for no live operator")
		}
		// Keep tracking the call so a later end resolves exactly.
		return Decision{Action: Action{Type: ActionNone, CallID: in.CallID, Reason: "connected for no live operator"}, Put: &s}
	}

	s.Operator = operator
	s.TimerEntity = in.Entity
	s.TimerStartedAt = in.At
	s.SuppressNextEnd = true
	s.SuppressUntil = in.At.Add(rules.SuppressWindow)
	if s.CallerNumber == "" {
		s.CallerNumber = in.CallerNumber
	}
	if s.CallerName == "" {
		s.CallerName = in.CallerName
	}

	return Decision{
		Action: Action{
			Type:         ActionTimerStarted,
			CallID:       in.CallID,
			Operator:     operator,
			CallerNumber: s.CallerNumber,
			CallerName:   s.CallerName,
			StartedAt:    in.At,
		},
		Put: &s,
	}
}

func decideEnded(in Input, sessions map[string]Session, connected func(string) bool, rules Rules) Decision {
	if in.CallID != "" {
		if s, ok := sessions[in.CallID]; ok {
			return endSession(in, s, rules)
		}
	}

	if s, ok := scanForEnd(in, sessions); ok {
		return endSession(in, s, rules)
	}

	if in.Extension != "" && in.Extension != rules.Trunk && connected(in.Extension) {
		return Decision{Action: Action{
			Type:     ActionCallEnded,
			CallID:   in.CallID,
			Operator: in.Extension,
			Reason:   "no matching session",
		}}
	}
	return none("end for unknown call")
}

// scanForEnd picks the live timed session owned by the reporting or party
// extension. The most recently started timer wins; call id breaks ties.
func scanForEnd(in Input, sessions map[string]Session) (Session, bool) {
	var candidates []Session
	for _, s := range sessions {
		if !s.TimerRunning() {
			continue
		}
		if s.Operator == in.Extension || (in.PartyExtension != "" && s.Operator == in.PartyExtension) {
			candidates = append(candidates, s)
		}
	}
	if len(candidates) == 0 {
		return Session{}, false
	}
	sort.Slice(candidates, func(i, j int) bool {
		a, b := candidates[i], candidates[j]
		if !a.TimerStartedAt.Equal(b.TimerStartedAt) {
			return a.TimerStartedAt.After(b.TimerStartedAt)
		}
		return a.CallID < b.CallID
	})
	return candidates[0], true
}

func endSession(in Input, s Session, rules Rules) Decision {
	if !s.TimerRunning() {
		if in.Extension != s.Operator && in.Extension != rules.Trunk {
			return none("other extension stopped ringing")
		}
		return Decision{
			Action: Action{
				Type:     ActionCallEnded,
				CallID:   s.CallID,
				Operator: s.Operator,
				Reason:   "ended before connect",
			},
			Remove: s.CallID,
		}
	}

	if s.SuppressNextEnd && in.Extension == s.Operator && !in.At.After(s.SuppressUntil) {
		s.SuppressNextEnd = false
		return Decision{
			Action: Action{
				Type:     ActionSuppressed,
				CallID:   s.CallID,
				Operator: s.Operator,
				Reason:   "spurious end after connect",
			},
			Put: &s,
		}
	}

	duration := in.At.Sub(s.TimerStartedAt)
	if duration < 0 {
		duration = 0
	}
	return Decision{
		Action: Action{
			Type:         ActionTimerEnded,
			CallID:       s.CallID,
			Operator:     s.Operator,
			CallerNumber: s.CallerNumber,
			CallerName:   s.CallerName,
			StartedAt:    s.TimerStartedAt,
			Duration:     duration,
		},
		Remove: s.CallID,
	}
}
