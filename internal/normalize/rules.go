package normalize

import (
	"fmt"
	"sort"
	"strings"
)

// valueRange is an inclusive plausibility band with asymmetric slack: data
// from real schools routinely sits a little outside the book numbers, so
// the low bound is relaxed by lowSlack and the high bound by highSlack
// before a value is rejected.
type valueRange struct {
	min, max  float64
	lowSlack  float64 // multiplier applied to min
	highSlack float64 // multiplier applied to max
}

func (r valueRange) check(v float64) bool {
	return v >= r.min*r.lowSlack && v <= r.max*r.highSlack
}

// Market hourly-rate ranges in USD by aircraft class.
var hourlyRateRanges = map[string]valueRange{
	"single_engine": {75, 350, 0.5, 2},
	"multi_engine":  {150, 600, 0.5, 2},
	"rotorcraft":    {200, 800, 0.5, 2},
	"seaplane":      {150, 500, 0.5, 2},
	"default":       {50, 1000, 0.5, 2},
}

// Program cost ranges in USD by program type.
var totalCostRanges = map[string]valueRange{
	"sport":         {3000, 8000, 0.3, 3},
	"private_pilot": {5000, 15000, 0.3, 3},
	"instrument":    {8000, 25000, 0.3, 3},
	"commercial":    {25000, 50000, 0.3, 3},
	"cfi":           {15000, 35000, 0.3, 3},
	"default":       {1000, 100000, 0.3, 3},
}

// Training-hour ranges by program type, anchored on FAA minimums.
var trainingHourRanges = map[string]valueRange{
	"sport":         {20, 100, 0.5, 2},
	"private_pilot": {35, 100, 0.5, 2},
	"instrument":    {35, 80, 0.5, 2},
	"commercial":    {150, 300, 0.5, 2},
	"cfi":           {100, 200, 0.5, 2},
	"atp":           {1200, 2000, 0.5, 2},
	"default":       {1, 5000, 0.5, 2},
}

// Program duration ranges in weeks.
var trainingWeekRanges = map[string]valueRange{
	"sport":         {2, 24, 0.5, 2},
	"private_pilot": {4, 52, 0.5, 2},
	"instrument":    {4, 24, 0.5, 2},
	"commercial":    {12, 104, 0.5, 2},
	"cfi":           {8, 52, 0.5, 2},
	"default":       {1, 208, 0.5, 2},
}

func rangeFor(table map[string]valueRange, key string) valueRange {
	key = strings.ReplaceAll(strings.ToLower(strings.TrimSpace(key)), " ", "_")
	if r, ok := table[key]; ok {
		return r
	}
	return table["default"]
}

func validateHourlyRate(rate float64, aircraftType string) error {
	if rate <= 0 {
		return fmt.Errorf("hourly rate must be positive")
	}
	r := rangeFor(hourlyRateRanges, aircraftType)
	if !r.check(rate) {
		return fmt.Errorf("hourly rate $%.0f outside market range $%.0f-$%.0f", rate, r.min, r.max)
	}
	return nil
}

func validateTotalCost(cost float64, programType string) error {
	if cost <= 0 {
		return fmt.Errorf("total cost must be positive")
	}
	r := rangeFor(totalCostRanges, programType)
	if !r.check(cost) {
		return fmt.Errorf("total cost $%.0f implausible for %s program", cost, orDefault(programType))
	}
	return nil
}

func validateTrainingHours(hours float64, programType string) error {
	if hours <= 0 {
		return fmt.Errorf("training hours must be positive")
	}
	r := rangeFor(trainingHourRanges, programType)
	if !r.check(hours) {
		return fmt.Errorf("training hours %.0f implausible for %s program", hours, orDefault(programType))
	}
	return nil
}

func validateTrainingWeeks(weeks float64, programType string) error {
	if weeks <= 0 {
		return fmt.Errorf("training weeks must be positive")
	}
	r := rangeFor(trainingWeekRanges, programType)
	if !r.check(weeks) {
		return fmt.Errorf("duration %.0f weeks implausible for %s program", weeks, orDefault(programType))
	}
	return nil
}

func orDefault(programType string) string {
	if strings.TrimSpace(programType) == "" {
		return "unspecified"
	}
	return programType
}

// costBand maps a total cost to its reporting band.
func costBand(cost float64) string {
	switch {
	case cost < 5000:
		return "budget"
	case cost < 10000:
		return "$5k-$10k"
	case cost < 15000:
		return "$10k-$15k"
	case cost < 25000:
		return "$15k-$25k"
	default:
		return "$25k+"
	}
}

// detectOutliersIQR returns the indices of values outside
// [Q1 - threshold*IQR, Q3 + threshold*IQR]. Fewer than 4 values is too
// little data to call anything an outlier.
func detectOutliersIQR(values []float64, threshold float64) []int {
	if len(values) < 4 {
		return nil
	}

	sorted := append([]float64(nil), values...)
	sort.Float64s(sorted)
	q1 := sorted[len(sorted)/4]
	q3 := sorted[3*len(sorted)/4]
	iqr := q3 - q1
	lower := q1 - threshold*iqr
	upper := q3 + threshold*iqr

	var outliers []int
	for i, v := range values {
		if v < lower || v > upper {
			outliers = append(outliers, i)
		}
	}
	return outliers
}
