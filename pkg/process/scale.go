package process

// Affine scaling between physical and normalized coordinates. These
// constants are contract values shared by the forward model, the dataset
// pipeline and the inverse surrogate; changing them invalidates every
// trained weight file.
//
// Concentrations are NOT scaled: C_a and C_b pass through unchanged in
// both directions.
const (
	// Flow: scaled = (F - 5) / 95
	FlowOffset = 5.0
	FlowSpan   = 95.0

	// Heat duty: scaled = (QDot + 5000) / 5000
	HeatOffset = 5000.0
	HeatSpan   = 5000.0

	// Temperature: kelvin = scaled*25 + 125
	TempOffset = 125.0
	TempSpan   = 25.0
)

// ScaleFlow maps a physical flow rate to its normalized form.
func ScaleFlow(f float64) float64 {
	return (f - FlowOffset) / FlowSpan
}

// UnscaleFlow maps a normalized flow rate back to physical units.
func UnscaleFlow(fs float64) float64 {
	return fs*FlowSpan + FlowOffset
}

// ScaleHeat maps a physical heat duty to its normalized form.
func ScaleHeat(q float64) float64 {
	return (q + HeatOffset) / HeatSpan
}

// UnscaleHeat maps a normalized heat duty back to physical units.
func UnscaleHeat(qs float64) float64 {
	return qs*HeatSpan - HeatOffset
}

// ScaleTemp maps a temperature in kelvin to its normalized form.
func ScaleTemp(tK float64) float64 {
	return (tK - TempOffset) / TempSpan
}

// UnscaleTemp maps a normalized temperature back to kelvin.
func UnscaleTemp(ts float64) float64 {
	return ts*TempSpan + TempOffset
}

// ScaleSetpoint maps a physical setpoint to normalized coordinates.
func ScaleSetpoint(sp Setpoint) (fs, qs float64) {
	return ScaleFlow(sp.F), ScaleHeat(sp.QDot)
}

// UnscaleSetpoint maps normalized coordinates back to a physical setpoint.
func UnscaleSetpoint(fs, qs float64) Setpoint {
	return Setpoint{F: UnscaleFlow(fs), QDot: UnscaleHeat(qs)}
}
