package types

import "strings"

// Property is one monitored web-analytics property as recorded in the
// registry blob (config/properties.json).
type Property struct {
	PropertyID       string `json:"property_id"`
	DatasetID        string `json:"dataset_id"`
	ClientName       string `json:"client_name"`
	Domain           string `json:"domain"`
	ConversionEvents string `json:"conversion_events"` // comma-separated event names
	Notes            string `json:"notes"`
	IsConfigured     bool   `json:"is_configured"`

	// Per-property overrides. Zero values mean "use detector defaults".
	DisabledDimensions []Dimension `json:"disabled_dimensions,omitempty"`
	VolumeFloor        float64     `json:"volume_floor,omitempty"`
}

// ConversionEventList splits the comma-separated conversion events, trimming
// whitespace and dropping empties.
func (p *Property) ConversionEventList() []string {
	var out []string
	for _, e := range strings.Split(p.ConversionEvents, ",") {
		if e = strings.TrimSpace(e); e != "" {
			out = append(out, e)
		}
	}
	return out
}

// DimensionEnabled reports whether a breakdown axis is monitored for this
// property.
func (p *Property) DimensionEnabled(dim Dimension) bool {
	for _, d := range p.DisabledDimensions {
		if d == dim {
			return false
		}
	}
	return true
}

// PropertyRegistry is the decoded registry blob.
type PropertyRegistry struct {
	Properties []Property `json:"properties"`
}

// Configured returns the properties eligible for monitoring, in file order.
func (r *PropertyRegistry) Configured() []Property {
	var out []Property
	for _, p := range r.Properties {
		if p.IsConfigured {
			out = append(out, p)
		}
	}
	return out
}
