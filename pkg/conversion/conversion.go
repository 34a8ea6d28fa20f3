package conversion

import (
	"errors"
	"fmt"
)

var ErrUnknownConversion = errors.New("unknown conversion")

type Id string

const (
	Identity = Id("identity")
	F2C      = Id("f2c")
	C2F      = Id("c2f")
	Kph2Mph  = Id("kph2mph")
	Mph2Kph  = Id("mph2kph")
	Mps2Mph  = Id("mps2mph")
	Mph2Mps  = Id("mph2mps")
)

const (
	mphPerKph = 0.621371
	mphPerMps = 2.236936
)

type Conversion struct {
	Id    Id     `json:"id"`
	Label string `json:"label"`
	fn    func(float64) float64
}

var all = []Conversion{
	{Id: Identity, Label: "None", fn: func(v float64) float64 { return v }},
	{Id: F2C, Label: "°F ⭢ °C", fn: func(v float64) float64 { return (v - 32) * 5 / 9 }},
	{Id: C2F, Label: "°C ⭢ °F", fn: func(v float64) float64 { return v*9/5 + 32 }},
	{Id: Kph2Mph, Label: "kph ⭢ mph", fn: func(v float64) float64 { return v * mphPerKph }},
	{Id: Mph2Kph, Label: "mph ⭢ kph", fn: func(v float64) float64 { return v / mphPerKph }},
	{Id: Mps2Mph, Label: "m/s ⭢ mph", fn: func(v float64) float64 { return v * mphPerMps }},
	{Id: Mph2Mps, Label: "mph ⭢ m/s", fn: func(v float64) float64 { return v / mphPerMps }},
}

// All returns the conversions in display order, identity first.
func All() []Conversion {
	ret := make([]Conversion, len(all))
	copy(ret, all)
	return ret
}

// Lookup finds a conversion by id. The empty id is identity.
func Lookup(id string) (Conversion, bool) {
	if id == "" {
		return all[0], true
	}
	for _, c := range all {
		if string(c.Id) == id {
			return c, true
		}
	}
	return Conversion{}, false
}

func Valid(id string) bool {
	_, ok := Lookup(id)
	return ok
}

func Apply(id string, v float64) (float64, error) {
	c, ok := Lookup(id)
	if !ok {
		return v, fmt.Errorf("%w: %s", ErrUnknownConversion, id)
	}
	return c.fn(v), nil
}
