package market

import (
	"github.com/shopspring/decimal"
)

// InstrumentSpec describes how an instrument may be traded on the gateway.
type InstrumentSpec struct {
	Name         string  `json:"name" yaml:"name"`
	MinVolume    float64 `json:"min_volume" yaml:"min_volume"`
	MaxVolume    float64 `json:"max_volume" yaml:"max_volume"`
	VolumeStep   float64 `json:"volume_step" yaml:"volume_step"`
	ContractSize float64 `json:"contract_size" yaml:"contract_size"`
	TickSize     float64 `json:"tick_size" yaml:"tick_size"`
	Digits       int     `json:"digits" yaml:"digits"`
	Tradeable    bool    `json:"tradeable" yaml:"tradeable"`
}

// RoundVolume rounds v to the nearest multiple of step. A non-positive step
// leaves v at two decimal places.
func RoundVolume(v, step float64) float64 {
	dv := decimal.NewFromFloat(v)
	if step <= 0 {
		return dv.Round(2).InexactFloat64()
	}
	ds := decimal.NewFromFloat(step)
	return dv.Div(ds).Round(0).Mul(ds).InexactFloat64()
}

// FloorVolume rounds v down to a multiple of step.
func FloorVolume(v, step float64) float64 {
	dv := decimal.NewFromFloat(v)
	if step <= 0 {
		return dv.Truncate(2).InexactFloat64()
	}
	ds := decimal.NewFromFloat(step)
	return dv.Div(ds).Floor().Mul(ds).InexactFloat64()
}

// OnStep reports whether v is an exact multiple of step.
func OnStep(v, step float64) bool {
	if step <= 0 {
		return true
	}
	return decimal.NewFromFloat(v).Mod(decimal.NewFromFloat(step)).IsZero()
}

// NormalizeVolume clamps v into [MinVolume, MaxVolume] on the volume step.
func (s InstrumentSpec) NormalizeVolume(v float64) float64 {
	v = RoundVolume(v, s.VolumeStep)
	if v < s.MinVolume {
		v = s.MinVolume
	}
	if s.MaxVolume > 0 && v > s.MaxVolume {
		v = FloorVolume(s.MaxVolume, s.VolumeStep)
	}
	return v
}

// Notional is the account-currency value of volume lots at price.
func (s InstrumentSpec) Notional(volume, price float64) float64 {
	cs := s.ContractSize
	if cs <= 0 {
		cs = 1
	}
	return volume * cs * price
}
