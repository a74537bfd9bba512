package integration

// ---------------------------------------------------------------------------
// ProviderCode represents a third-party commerce provider
// ---------------------------------------------------------------------------

// ProviderCode identifies a third-party provider this gateway talks to
type ProviderCode string

const (
	// ProviderCodeShipcloud represents the shipping-rate provider
	ProviderCodeShipcloud ProviderCode = "SHIPCLOUD"
	// ProviderCodeBillbee represents the inventory/order provider
	ProviderCodeBillbee ProviderCode = "BILLBEE"
)

// IsValid returns true if the provider code is valid
func (c ProviderCode) IsValid() bool {
	switch c {
	case ProviderCodeShipcloud, ProviderCodeBillbee:
		return true
	default:
		return false
	}
}

// String returns the string representation of ProviderCode
func (c ProviderCode) String() string {
	return string(c)
}

// DisplayName returns a human-readable name for the provider
func (c ProviderCode) DisplayName() string {
	switch c {
	case ProviderCodeShipcloud:
		return "shipcloud"
	case ProviderCodeBillbee:
		return "Billbee"
	default:
		return string(c)
	}
}
