package loam

// PolicyMetadata is the front matter of a policy document.
// Rules stay loosely typed here and are decoded by the loader so that
// numeric and list values coming from YAML or JSON normalize the same way.
type PolicyMetadata struct {
	ID      string           `json:"id" mapstructure:"id"`
	Name    string           `json:"name" mapstructure:"name"`
	Enabled *bool            `json:"enabled" mapstructure:"enabled"`
	Rules   []map[string]any `json:"rules" mapstructure:"rules"`
}
