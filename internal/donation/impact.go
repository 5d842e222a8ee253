package donation

// ImpactMessage describes what a donation of the given whole amount funds.
func ImpactMessage(amount int64) string {
	switch {
	case amount >= 5000:
		return "Can support child home for a week"
	case amount >= 2000:
		return "Can restore temple artwork"
	case amount >= 500:
		return "Can skill one woman for a month"
	default:
		return "Will make a significant difference"
	}
}

// Preset is a suggested amount shown on the donation form.
type Preset struct {
	Amount int64  `json:"amount"`
	Impact string `json:"impact"`
}

// Presets pairs each configured amount with its impact line.
func Presets(amounts []int64) []Preset {
	out := make([]Preset, 0, len(amounts))
	for _, amount := range amounts {
		out = append(out, Preset{Amount: amount, Impact: ImpactMessage(amount)})
	}
	return out
}
