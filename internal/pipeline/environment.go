package pipeline

import (
	"math"

	"depth-safety-alerts/internal/model"
)

// Thresholds above which a correction term is considered abnormal and the
// overall environmental confidence is reduced.
const (
	calmWindKnots       = 10.0
	strongWindKnots     = 25.0
	standardPressureHPa = 1013.25
	extremePressureDrop = 30.0
	referenceWaterTempC = 15.0
	coldWaterTempC      = 5.0
	seaStateRough       = 5
)

// EnvCalculator derives per-cause depth correction terms from an
// environmental snapshot. Missing snapshot fields contribute a zero term.
type EnvCalculator struct{}

// NewEnvCalculator constructs the environmental correction calculator.
func NewEnvCalculator() *EnvCalculator {
	return &EnvCalculator{}
}

// Calculate returns the five additive correction terms, their sum, and an
// overall confidence that starts at 1.0 and shrinks for each abnormal term.
func (c *EnvCalculator) Calculate(reading model.DepthReading, env model.EnvironmentalSnapshot) model.EnvironmentalFactors {
	factors := model.EnvironmentalFactors{Confidence: 1.0}

	if env.HasWind {
		factors.WindCorrection = windCorrection(env.WindSpeedKnots)
		if env.WindSpeedKnots > strongWindKnots {
			factors.Confidence *= 0.8
		}
	}

	factors.CurrentCorrection = currentCorrection(env)
	if math.Abs(factors.CurrentCorrection) > 0.15 {
		factors.Confidence *= 0.9
	}

	if env.HasPressure {
		factors.PressureCorrection = pressureCorrection(env.PressureHPa)
		if standardPressureHPa-env.PressureHPa > extremePressureDrop {
			factors.Confidence *= 0.85
		}
	}

	if env.HasWaterTemp {
		factors.TemperatureCorrection = temperatureCorrection(env.WaterTempC)
		if env.WaterTempC < coldWaterTempC {
			factors.Confidence *= 0.9
		}
	}

	factors.SalinityCorrection = salinityCorrection(reading)

	factors.TotalCorrection = factors.WindCorrection +
		factors.CurrentCorrection +
		factors.PressureCorrection +
		factors.TemperatureCorrection +
		factors.SalinityCorrection

	return factors
}

// windCorrection models wind-driven setdown: depth appears shallower as wind
// builds above the calm threshold. Bounded at half a meter.
func windCorrection(speedKnots float64) float64 {
	if speedKnots <= calmWindKnots {
		return 0
	}
	excess := speedKnots - calmWindKnots
	correction := -0.01 * excess
	return math.Max(correction, -0.5)
}

// currentCorrection is a severity-scaled proxy; there is no direct current
// measurement in the snapshot, so sea state and wave height stand in.
func currentCorrection(env model.EnvironmentalSnapshot) float64 {
	severity := 0.0
	if env.HasSeaState && env.SeaState >= seaStateRough {
		severity += float64(env.SeaState-seaStateRough+1) * 0.05
	}
	if env.HasWaveHeight && env.WaveHeightM > 2 {
		severity += (env.WaveHeightM - 2) * 0.03
	}
	return -math.Min(severity, 0.3)
}

// pressureCorrection applies the inverse barometer effect: roughly 1 cm of
// water level per hPa below standard pressure.
func pressureCorrection(pressureHPa float64) float64 {
	drop := standardPressureHPa - pressureHPa
	if drop <= 0 {
		return 0
	}
	return math.Min(drop*0.01, 0.5)
}

// temperatureCorrection reduces effective depth slightly for cold, dense water.
func temperatureCorrection(waterTempC float64) float64 {
	deviation := referenceWaterTempC - waterTempC
	if deviation <= 0 {
		return 0
	}
	return math.Max(-0.005*deviation, -0.2)
}

// salinityCorrection infers a non-positive freshwater offset near coastal
// latitudes. Higher absolute latitude is used as a weak estuary proxy.
func salinityCorrection(reading model.DepthReading) float64 {
	latFactor := math.Abs(reading.Location.Lat) / 90
	return -0.05 * latFactor
}
