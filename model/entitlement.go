package model

type EntitlementStatus uint8

const (
	EntitlementUnknown EntitlementStatus = iota
	EntitlementEntitled
	EntitlementNotEntitled
)

func (s EntitlementStatus) String() string {
	switch s {
	case EntitlementEntitled:
		return "Entitled"
	case EntitlementNotEntitled:
		return "NotEntitled"
	default:
		return "Unknown"
	}
}

type Entitlement struct {
	Product *Product
	Order   Order
	Status  EntitlementStatus
	Message string
}
