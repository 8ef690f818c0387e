// Package units converts between irrigation volumes and water depths.
package units

const (
	// GallonsPerAcreInch is the volume of one inch of water over one acre.
	GallonsPerAcreInch = 27154.0
	MMPerInch          = 25.4
	MinutesPerHour     = 60.0
)

func MMToInches(mm float64) float64 { return mm / MMPerInch }
func InchesToMM(in float64) float64 { return in * MMPerInch }

// GallonsToInches spreads a volume over a block. Returns 0 for a non-positive area.
func GallonsToInches(gallons, acres float64) float64 {
	if acres <= 0 {
		return 0
	}
	return gallons / (acres * GallonsPerAcreInch)
}

func GallonsToMM(gallons, acres float64) float64 {
	return InchesToMM(GallonsToInches(gallons, acres))
}

func InchesToGallons(inches, acres float64) float64 {
	return inches * acres * GallonsPerAcreInch
}

// FlowGallons is the volume delivered by a system running for hours at gpm.
func FlowGallons(hours, gpm float64) float64 {
	return hours * gpm * MinutesPerHour
}

// HoursForGallons is the runtime needed to deliver gallons at gpm. Returns 0 for a non-positive flow rate.
func HoursForGallons(gallons, gpm float64) float64 {
	if gpm <= 0 {
		return 0
	}
	return gallons / (gpm * MinutesPerHour)
}
