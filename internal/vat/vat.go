// Package vat holds the flat country -> VAT rate table used at checkout and
// invoicing time. Rates are static; sourcing live rates is out of scope.
package vat

import "math"

// EU standard rates, percent. Unknown countries fall back to the configured
// default rate.
var countryRates = map[string]float64{
	"AT": 20.0,
	"BE": 21.0,
	"BG": 20.0,
	"HR": 25.0,
	"CY": 19.0,
	"CZ": 21.0,
	"DK": 25.0,
	"EE": 22.0,
	"FI": 25.5,
	"FR": 20.0,
	"DE": 19.0,
	"GR": 24.0,
	"HU": 27.0,
	"IE": 23.0,
	"IT": 22.0,
	"LV": 21.0,
	"LT": 21.0,
	"LU": 17.0,
	"MT": 18.0,
	"NL": 21.0,
	"PL": 23.0,
	"PT": 23.0,
	"RO": 19.0,
	"SK": 23.0,
	"SI": 22.0,
	"ES": 21.0,
	"SE": 25.0,
}

type Table struct {
	defaultRate float64
}

func NewTable(defaultRate float64) *Table {
	return &Table{defaultRate: defaultRate}
}

func (t *Table) Rate(country string) float64 {
	if rate, ok := countryRates[country]; ok {
		return rate
	}
	return t.defaultRate
}

// Tax computes the VAT amount in minor units, rounded half away from zero.
func Tax(subtotal int64, rate float64) int64 {
	return int64(math.Round(float64(subtotal) * rate / 100))
}
