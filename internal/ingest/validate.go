package ingest

import (
	"encoding/json"

	"github.com/lox/vinewater/internal/models"
)

const (
	FlagETNegative      = "et_negative"
	FlagETImplausible   = "et_implausible"
	FlagRainNegative    = "rain_negative"
	FlagRainImplausible = "rain_implausible"
)

// Daily reference ET above this is outside anything a vineyard sees.
const maxPlausibleETmm = 15.0

// Single-day rainfall above this is treated as a sensor or feed error.
const maxPlausibleRainMM = 500.0

func ValidateET(rec models.ETDailyRecord) []string {
	var flags []string
	if rec.ET < 0 {
		flags = append(flags, FlagETNegative)
	}
	if rec.ET > maxPlausibleETmm {
		flags = append(flags, FlagETImplausible)
	}
	return flags
}

func ValidateRainfall(r models.DailyRainfall) []string {
	var flags []string
	if r.MM < 0 {
		flags = append(flags, FlagRainNegative)
	}
	if r.MM > maxPlausibleRainMM {
		flags = append(flags, FlagRainImplausible)
	}
	return flags
}

// Usable reports whether a flagged ET value may still feed the budget.
// Negative values are dropped; implausibly high ones are kept but flagged.
func Usable(flags []string) bool {
	for _, f := range flags {
		if f == FlagETNegative {
			return false
		}
	}
	return true
}

func QualityFlagsToJSON(flags []string) string {
	if len(flags) == 0 {
		return ""
	}
	b, _ := json.Marshal(flags)
	return string(b)
}
