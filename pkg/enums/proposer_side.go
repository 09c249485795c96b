package enums

import "fmt"

// ProposerSide identifies which party put a price on the table.
type ProposerSide string

const (
	ProposerSideBuyer  ProposerSide = "buyer"
	ProposerSideSeller ProposerSide = "seller"
)

var validProposerSides = []ProposerSide{
	ProposerSideBuyer,
	ProposerSideSeller,
}

// String implements fmt.Stringer.
func (p ProposerSide) String() string {
	return string(p)
}

// IsValid reports whether the value is known.
func (p ProposerSide) IsValid() bool {
	for _, candidate := range validProposerSides {
		if candidate == p {
			return true
		}
	}
	return false
}

// ParseProposerSide converts raw input into a ProposerSide.
func ParseProposerSide(value string) (ProposerSide, error) {
	for _, candidate := range validProposerSides {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid proposer side %q", value)
}
