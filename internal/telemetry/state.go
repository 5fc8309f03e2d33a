package telemetry

// LightState buckets an illuminance value the way the light page labels it.
func LightState(lux float64) string {
	switch {
	case lux > 500:
		return "Bright"
	case lux > 100:
		return "Moderate"
	default:
		return "Dim"
	}
}

// TemperatureState buckets a temperature on the 0..100 gauge scale.
func TemperatureState(celsius float64) string {
	v := int(celsius)
	if celsius < 0 {
		v = 0
	}
	if v > 100 {
		v = 100
	}
	switch {
	case v < 15:
		return "Cold"
	case v < 35:
		return "Warm"
	default:
		return "Hot"
	}
}
