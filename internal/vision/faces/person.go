package faces

import "math"

// Person is an identity label.
type Person string

// Identity labels.
const (
	Owner1  Person = "OWNER_1"
	Owner2  Person = "OWNER_2"
	Unknown Person = "UNKNOWN"
	None    Person = "NONE"
)

// KnownPersons lists the enrollable identities in template iteration order.
var KnownPersons = []Person{Owner1, Owner2}

// IsKnown reports whether p can be enrolled.
func IsKnown(p Person) bool {
	for _, k := range KnownPersons {
		if k == p {
			return true
		}
	}
	return false
}

// Sample is the result of recognizing one frame.
type Sample struct {
	Person        Person
	Confidence    float64
	FacesDetected int

	// Score is the best template distance, or -1 when no template was
	// compared.
	Score float64
}

// Aggregate is the vote over several samples.
type Aggregate struct {
	Person        Person
	Confidence    float64
	FacesDetected int
}

// Thresholds are the template distance bounds for a positive match.
type Thresholds struct {
	Strong float64
	Weak   float64
}

// Confidence maps a distance to a confidence for the chosen person.
//
// NONE is 0.0 and UNKNOWN is 0.40. A known person scores 0.95 at or below
// the strong threshold, falls linearly to 0.70 at the weak threshold, and
// 0.40 beyond it.
func (t Thresholds) Confidence(score float64, p Person) float64 {
	switch p {
	case None:
		return 0.0
	case Unknown:
		return 0.40
	}
	switch {
	case score <= t.Strong:
		return 0.95
	case score <= t.Weak:
		span := t.Weak - t.Strong
		if span <= 0 {
			return 0.70
		}
		return 0.95 - 0.25*(score-t.Strong)/span
	default:
		return 0.40
	}
}

// Vote picks the most frequent person across samples.
//
// NONE samples count only when every sample is NONE. A tie between labels
// goes to the one with the highest confidence seen for it; on equal
// confidence the label seen first wins. The aggregate confidence is the best
// confidence observed for the winner and FacesDetected is the maximum over
// all samples.
func Vote(samples []Sample) Aggregate {
	agg := Aggregate{Person: None}
	if len(samples) == 0 {
		return agg
	}

	var order []Person
	counts := make(map[Person]int)
	best := make(map[Person]float64)
	for _, s := range samples {
		if s.FacesDetected > agg.FacesDetected {
			agg.FacesDetected = s.FacesDetected
		}
		if s.Person == None {
			continue
		}
		if _, seen := counts[s.Person]; !seen {
			order = append(order, s.Person)
			best[s.Person] = math.Inf(-1)
		}
		counts[s.Person]++
		if s.Confidence > best[s.Person] {
			best[s.Person] = s.Confidence
		}
	}
	if len(order) == 0 {
		return agg
	}

	winner := order[0]
	for _, p := range order[1:] {
		if counts[p] > counts[winner] ||
			(counts[p] == counts[winner] && best[p] > best[winner]) {
			winner = p
		}
	}
	agg.Person = winner
	agg.Confidence = best[winner]
	return agg
}
