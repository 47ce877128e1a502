package source

// Record is a raw upstream record. The set of implementations is closed:
// LiveRecord and ArchiveRecord. Only the normalizer reads their fields.
type Record interface {
	sourceRecord()
}

// Unit systems reported by the live source
const (
	UnitsStandard = "standard" // Kelvin, m/s
	UnitsMetric   = "metric"   // Celsius, m/s
	UnitsImperial = "imperial" // Fahrenheit, mph
)

// LiveRecord is one OpenWeatherMap current-weather response.
// Pointer fields are nil when the upstream omitted them.
type LiveRecord struct {
	EntityID  string
	Country   string
	Latitude  float64
	Longitude float64
	Units     string

	Dt *int64

	Temp       *float64
	FeelsLike  *float64
	TempMin    *float64
	TempMax    *float64
	Pressure   *float64
	Humidity   *float64
	WindSpeed  *float64
	WindDeg    *float64
	Clouds     *float64
	Visibility *float64

	Main        string
	Description string

	Sunrise *int64
	Sunset  *int64
}

func (LiveRecord) sourceRecord() {}

// ArchiveRecord is one hourly row of an Open-Meteo archive response.
// Time is local to the response's UTC offset, formatted "2006-01-02T15:04".
type ArchiveRecord struct {
	EntityID  string
	Country   string
	Latitude  float64
	Longitude float64

	Time             string
	UTCOffsetSeconds int

	TemperatureUnit string
	WindSpeedUnit   string

	Temperature         *float64
	ApparentTemperature *float64
	Humidity            *float64
	WindSpeed           *float64
	WindDirection       *float64
	CloudCover          *float64
	WeatherCode         *int
}

func (ArchiveRecord) sourceRecord() {}
