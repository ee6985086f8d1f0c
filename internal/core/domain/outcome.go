package domain

// Outcome is the result of the atomic reservation.
type Outcome int

// Values match the codes returned by the reservation script.
const (
	OutcomeReserved  Outcome = 0
	OutcomeSoldOut   Outcome = 1
	OutcomeDuplicate Outcome = 2
)

func (o Outcome) String() string {
	switch o {
	case OutcomeReserved:
		return "reserved"
	case OutcomeSoldOut:
		return "sold-out"
	case OutcomeDuplicate:
		return "duplicate"
	default:
		return "unknown"
	}
}
