package ml

import "math"

// FeatureVector holds the four iris measurements of one request. A nil field
// means the value was absent or could not be parsed.
type FeatureVector struct {
	SepalLength *float64
	SepalWidth  *float64
	PetalLength *float64
	PetalWidth  *float64
}

// FeatureNames returns the query names in vector order.
func FeatureNames() []string {
	return []string{"slength", "swidth", "plength", "pwidth"}
}

// Values returns the ordered vector with NaN in every absent slot.
func (v FeatureVector) Values() []float64 {
	fields := []*float64{v.SepalLength, v.SepalWidth, v.PetalLength, v.PetalWidth}
	values := make([]float64, len(fields))
	for i, f := range fields {
		if f == nil {
			values[i] = math.NaN()
			continue
		}
		values[i] = *f
	}
	return values
}

// Missing returns the names of the absent fields.
func (v FeatureVector) Missing() []string {
	var missing []string
	for i, value := range v.Values() {
		if math.IsNaN(value) {
			missing = append(missing, FeatureNames()[i])
		}
	}
	return missing
}
