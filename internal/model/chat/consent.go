package chat

import "fmt"

// ConsentStatus is the tri-state storage consent for a tab.
type ConsentStatus int

const (
	// ConsentUnset means the user has not chosen a storage regime yet.
	// No message may be dispatched while consent is unset.
	ConsentUnset ConsentStatus = iota
	// ConsentAnonymous stores transcripts encrypted in the volatile tab store only.
	ConsentAnonymous
	// ConsentSecure persists transcripts through the durable session collaborator.
	ConsentSecure
)

// String implements fmt.Stringer.
func (s ConsentStatus) String() string {
	switch s {
	case ConsentUnset:
		return "unset"
	case ConsentAnonymous:
		return "anonymous"
	case ConsentSecure:
		return "secure"
	default:
		return fmt.Sprintf("consent(%d)", int(s))
	}
}

// MarshalJSON encodes the status as its string form.
func (s ConsentStatus) MarshalJSON() ([]byte, error) {
	return []byte(`"` + s.String() + `"`), nil
}

// ParseConsentStatus converts the wire form back to a status.
func ParseConsentStatus(raw string) (ConsentStatus, error) {
	switch raw {
	case "unset", "":
		return ConsentUnset, nil
	case "anonymous":
		return ConsentAnonymous, nil
	case "secure":
		return ConsentSecure, nil
	default:
		return ConsentUnset, fmt.Errorf("unknown consent status %q", raw)
	}
}
