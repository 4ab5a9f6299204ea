package domain

// UsageItem is one line of the remote usage report.
type UsageItem struct {
	Product  string  `json:"product"`
	UnitType string  `json:"unitType"`
	Quantity float64 `json:"quantity"`
}

// Usage is the structured usage data returned by the remote service.
type Usage struct {
	Items []UsageItem `json:"usageItems"`
}

// QuotaReport is the normalized result of probing one identity.
type QuotaReport struct {
	Identity string `json:"identity"`

	// ConsumedMinutes is the raw metered quantity.
	ConsumedMinutes float64 `json:"consumed_minutes"`

	// HoursEquivalent is ConsumedMinutes * multiplier / 60.
	HoursEquivalent float64 `json:"hours_equivalent"`

	// RemainingHours is the capacity left below the ceiling, never negative.
	RemainingHours float64 `json:"remaining_hours"`

	CeilingHours float64 `json:"ceiling_hours"`

	IsWarning   bool `json:"is_warning"`
	IsExhausted bool `json:"is_exhausted"`

	// Assumed is set when the probe failed and the report is the
	// conservative assume-exhausted default.
	Assumed bool `json:"assumed,omitempty"`
}
