package chrono

import (
	"time"
)

var saoPaulo *time.Location

func init() {
	var err error
	saoPaulo, err = time.LoadLocation("America/Sao_Paulo")
	if err != nil {
		// tzdata may be missing in slim containers, the portals only care about wall-clock offsets
		saoPaulo = time.FixedZone("BRT", -3*60*60)
	}
}

// SaoPaulo returns a [*time.Location] for America/Sao_Paulo
func SaoPaulo() *time.Location {
	return saoPaulo
}

// TimeAPI is the interface that anything depending on the system clock should use.
type TimeAPI interface {
	// Now returns the current time, the timezone of the time will default to America/Sao_Paulo.
	Now() time.Time
}

// StandardTime is the standard implementation of TimeAPI using the standard library.
type StandardTime struct{}

// NewStandardTime is the constructor of StandardTime.
func NewStandardTime() StandardTime {
	return StandardTime{}
}

func (StandardTime) Now() time.Time {
	return time.Now().In(saoPaulo)
}
