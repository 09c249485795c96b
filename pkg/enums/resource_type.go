package enums

import "fmt"

// ResourceType identifies a class of compute capacity offered on the exchange.
type ResourceType string

const (
	ResourceTypeGPU ResourceType = "GPU"
	ResourceTypeCPU ResourceType = "CPU"
	ResourceTypeTPU ResourceType = "TPU"
)

var validResourceTypes = []ResourceType{
	ResourceTypeGPU,
	ResourceTypeCPU,
	ResourceTypeTPU,
}

// String implements fmt.Stringer.
func (r ResourceType) String() string {
	return string(r)
}

// IsValid reports whether the value is known.
func (r ResourceType) IsValid() bool {
	for _, candidate := range validResourceTypes {
		if candidate == r {
			return true
		}
	}
	return false
}

// ParseResourceType converts raw input into a ResourceType.
func ParseResourceType(value string) (ResourceType, error) {
	for _, candidate := range validResourceTypes {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid resource type %q", value)
}
