// Package matcher scores recording candidates against calendar meetings.
//
// Scores combine three axes: how much of the shorter interval the two
// overlap, token cosine similarity of the titles, and the fraction of
// meeting attendees that appear in the candidate participants. A candidate
// that does not overlap the meeting at all is rejected regardless of the
// other axes. Everything here is pure; callers supply all inputs.
package matcher

import (
	"math"
	"slices"
	"time"

	"meetsync/internal/meetings"
	"meetsync/internal/sources"
	"meetsync/internal/textutil"
)

const scoreEpsilon = 1e-9

// Weights controls the contribution of each axis. They are normalized by
// their sum so callers need not make them add to one.
type Weights struct {
	Overlap   float64
	Title     float64
	Attendees float64
}

// DefaultWeights favours temporal overlap.
var DefaultWeights = Weights{Overlap: 0.5, Title: 0.3, Attendees: 0.2}

// DefaultThreshold is the minimum score accepted as a match.
const DefaultThreshold = 0.6

// Matcher holds scoring parameters.
type Matcher struct {
	Weights   Weights
	Threshold float64
}

// New returns a matcher with the default weights and the given threshold.
// A non-positive threshold selects DefaultThreshold.
func New(threshold float64) *Matcher {
	if threshold <= 0 {
		threshold = DefaultThreshold
	}
	return &Matcher{Weights: DefaultWeights, Threshold: threshold}
}

// Breakdown reports per-axis scores for a pair.
type Breakdown struct {
	Overlap   float64
	Title     float64
	Attendees float64
	// HasAttendees is false when either side lacked attendee data and the
	// attendee weight was redistributed.
	HasAttendees bool
	Score        float64
}

// Match is an accepted (meeting, candidate) pairing.
type Match struct {
	Meeting   meetings.Meeting
	Candidate sources.Candidate
	Score     float64
}

// Score computes the weighted score for one pair.
func (m *Matcher) Score(meeting meetings.Meeting, candidate sources.Candidate) Breakdown {
	var b Breakdown
	b.Overlap = overlapRatio(meeting, candidate)
	if b.Overlap <= 0 {
		return b
	}
	b.Title = textutil.CosineSimilarity(
		textutil.NewFingerprint(meeting.Title),
		textutil.NewFingerprint(candidate.Title),
	)
	b.Attendees, b.HasAttendees = attendeeOverlap(meeting.Attendees, candidate.Participants)

	w := m.weights()
	if b.HasAttendees {
		total := w.Overlap + w.Title + w.Attendees
		b.Score = (w.Overlap*b.Overlap + w.Title*b.Title + w.Attendees*b.Attendees) / total
	} else {
		total := w.Overlap + w.Title
		b.Score = (w.Overlap*b.Overlap + w.Title*b.Title) / total
	}
	b.Score = clamp01(b.Score)
	return b
}

// Best returns the highest scoring candidate at or above the threshold.
func (m *Matcher) Best(meeting meetings.Meeting, candidates []sources.Candidate) (Match, bool) {
	var (
		best  Match
		found bool
	)
	for _, candidate := range candidates {
		score := m.Score(meeting, candidate).Score
		if score < m.Threshold-scoreEpsilon {
			continue
		}
		if !found || candidateBetter(score, candidate, best.Score, best.Candidate) {
			best = Match{Meeting: meeting, Candidate: candidate, Score: score}
			found = true
		}
	}
	return best, found
}

// Assign pairs meetings and candidates one-to-one. Each round takes every
// open meeting's Best among the free candidates and accepts the strongest
// pair, so a recording is never assigned to two meetings and a meeting never
// receives two recordings.
func (m *Matcher) Assign(meetingList []meetings.Meeting, candidates []sources.Candidate) []Match {
	open := slices.Clone(meetingList)
	free := slices.Clone(candidates)
	accepted := make([]Match, 0)
	for len(open) > 0 && len(free) > 0 {
		var (
			pick  Match
			found bool
		)
		for _, meeting := range open {
			match, ok := m.Best(meeting, free)
			if ok && (!found || pairBetter(match, pick)) {
				pick, found = match, true
			}
		}
		if !found {
			break
		}
		accepted = append(accepted, pick)
		open = slices.DeleteFunc(open, func(mt meetings.Meeting) bool { return mt.ID == pick.Meeting.ID })
		free = slices.DeleteFunc(free, func(c sources.Candidate) bool { return c.RecordingID == pick.Candidate.RecordingID })
	}
	return accepted
}

// pairBetter orders competing pairs by score, then earlier meeting, then
// meeting id, then the candidate order Best uses.
func pairBetter(a, b Match) bool {
	if math.Abs(a.Score-b.Score) > scoreEpsilon {
		return a.Score > b.Score
	}
	if !a.Meeting.Start.Equal(b.Meeting.Start) {
		return a.Meeting.Start.Before(b.Meeting.Start)
	}
	if a.Meeting.ID != b.Meeting.ID {
		return a.Meeting.ID < b.Meeting.ID
	}
	return candidateBetter(a.Score, a.Candidate, b.Score, b.Candidate)
}

func (m *Matcher) weights() Weights {
	w := m.Weights
	if w.Overlap+w.Title+w.Attendees <= 0 {
		return DefaultWeights
	}
	if w.Overlap+w.Title <= 0 {
		w.Overlap = DefaultWeights.Overlap
	}
	return w
}

func candidateBetter(score float64, candidate sources.Candidate, bestScore float64, best sources.Candidate) bool {
	if math.Abs(score-bestScore) > scoreEpsilon {
		return score > bestScore
	}
	if !candidate.Start.Equal(best.Start) {
		return candidate.Start.Before(best.Start)
	}
	return candidate.RecordingID < best.RecordingID
}

func overlapRatio(meeting meetings.Meeting, candidate sources.Candidate) float64 {
	if meeting.Start.IsZero() || candidate.Start.IsZero() {
		return 0
	}
	mStart, mEnd := meeting.Start, meeting.End
	if !mEnd.After(mStart) {
		return 0
	}
	cStart, cEnd := candidate.Start, candidate.End
	if !cEnd.After(cStart) {
		cEnd = cStart.Add(mEnd.Sub(mStart))
	}
	start := later(mStart, cStart)
	end := earlier(mEnd, cEnd)
	if !end.After(start) {
		return 0
	}
	shorter := minDuration(mEnd.Sub(mStart), cEnd.Sub(cStart))
	if shorter <= 0 {
		return 0
	}
	return clamp01(float64(end.Sub(start)) / float64(shorter))
}

func attendeeOverlap(attendees, participants []string) (float64, bool) {
	meetingSet := addressSet(attendees)
	participantSet := addressSet(participants)
	if len(meetingSet) == 0 || len(participantSet) == 0 {
		return 0, false
	}
	hits := 0
	for address := range meetingSet {
		if _, ok := participantSet[address]; ok {
			hits++
		}
	}
	return float64(hits) / float64(len(meetingSet)), true
}

func addressSet(values []string) map[string]struct{} {
	set := make(map[string]struct{}, len(values))
	for _, value := range values {
		address := meetings.NormalizeAddress(value)
		if address == "" {
			continue
		}
		set[address] = struct{}{}
	}
	return set
}

func later(a, b time.Time) time.Time {
	if a.After(b) {
		return a
	}
	return b
}

func earlier(a, b time.Time) time.Time {
	if a.Before(b) {
		return a
	}
	return b
}

func minDuration(a, b time.Duration) time.Duration {
	if a < b {
		return a
	}
	return b
}

func clamp01(v float64) float64 {
	switch {
	case v < 0:
		return 0
	case v > 1:
		return 1
	default:
		return v
	}
}
