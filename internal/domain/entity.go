package domain

// Entity is a monitored location. Name is the stable identifier.
type Entity struct {
	Name      string  `json:"name"`
	Country   string  `json:"country"`
	Latitude  float64 `json:"lat"`
	Longitude float64 `json:"lon"`
}
