package model

// Preference is the audience's desired value for one attribute.
type Preference struct {
	Name    string  `json:"name"`
	Min     float64 `json:"min"`
	Max     float64 `json:"max"`
	Current float64 `json:"current"`
}

// Preferences is a snapshot of every attribute the audience can steer.
type Preferences map[string]Preference

func (p Preferences) Clone() Preferences {
	if p == nil {
		return nil
	}
	out := make(Preferences, len(p))
	for name, pref := range p {
		out[name] = pref
	}
	return out
}

// PreferenceFor derives the audience's starting preference from a seed gene.
func PreferenceFor(ins Instruction) Preference {
	expr := ins.Expression()
	return Preference{
		Name:    ins.Name(),
		Min:     expr.Min,
		Max:     expr.Max,
		Current: expr.Current,
	}
}
