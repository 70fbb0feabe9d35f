package enums

import "fmt"

// RelayOutcome is stored in relay_deliveries.outcome.
type RelayOutcome string

const (
	RelayOutcomeForwarded    RelayOutcome = "forwarded"
	RelayOutcomeRejected     RelayOutcome = "rejected"
	RelayOutcomeNetworkError RelayOutcome = "network_error"
)

var validRelayOutcomes = []RelayOutcome{
	RelayOutcomeForwarded,
	RelayOutcomeRejected,
	RelayOutcomeNetworkError,
}

func (o RelayOutcome) String() string {
	return string(o)
}

// IsValid reports whether the value is a known outcome.
func (o RelayOutcome) IsValid() bool {
	for _, candidate := range validRelayOutcomes {
		if candidate == o {
			return true
		}
	}
	return false
}

// ParseRelayOutcome converts raw input into RelayOutcome.
func ParseRelayOutcome(value string) (RelayOutcome, error) {
	for _, candidate := range validRelayOutcomes {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid relay outcome %q", value)
}
