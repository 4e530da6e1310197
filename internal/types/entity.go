package types

// Entity is one configured trading participant: an independently ledgered
// account tied to a content source it trades on.
type Entity struct {
	Name     string `yaml:"name" json:"name" validate:"required"`
	Strategy string `yaml:"strategy" json:"strategy"`
	// Source names the external content channel whose analysis drives this
	// entity's trades.
	Source string `yaml:"source" json:"source"`
}
