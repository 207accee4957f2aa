package audio

import (
	"math"

	"github.com/sirupsen/logrus"

	"github.com/snoozleEmily/transcriptor/internal/logging"
)

// VoiceActivityDetector classifies PCM frames as voice or background using
// frame energy against an adaptive noise floor plus the zero-crossing rate.
// It is not safe for concurrent use.
type VoiceActivityDetector struct {
	// Energy-based VAD parameters
	energyThreshold      float64 // Minimum energy threshold for voice
	adaptiveThreshold    float64 // Adaptive threshold based on background noise
	backgroundNoiseLevel float64 // Estimated background noise level

	zcThreshold     float64 // Zero-crossing rate threshold
	smoothingFactor float64 // For exponential smoothing of the noise floor

	speechCount  int // Consecutive frames detected as speech
	silenceCount int // Consecutive frames detected as silence

	speechFramesRequired  int
	silenceFramesRequired int

	isSpeaking bool
	logger     *logrus.Entry
}

// VADConfig holds configuration for Voice Activity Detector
type VADConfig struct {
	EnergyThreshold       float64
	SpeechFramesRequired  int
	SilenceFramesRequired int
}

// Frame is the analysis of one frame
type Frame struct {
	Energy     float64
	ZCR        float64
	IsVoice    bool
	IsSpeaking bool
}

// NewVoiceActivityDetector creates a new VAD with defaults
func NewVoiceActivityDetector(logger *logrus.Entry) *VoiceActivityDetector {
	return NewVoiceActivityDetectorWithConfig(VADConfig{}, logger)
}

// NewVoiceActivityDetectorWithConfig creates a new VAD with custom configuration
func NewVoiceActivityDetectorWithConfig(config VADConfig, logger *logrus.Entry) *VoiceActivityDetector {
	if config.EnergyThreshold <= 0 {
		config.EnergyThreshold = 0.01
	}
	if config.SpeechFramesRequired <= 0 {
		config.SpeechFramesRequired = 3
	}
	if config.SilenceFramesRequired <= 0 {
		config.SilenceFramesRequired = 15
	}

	return &VoiceActivityDetector{
		energyThreshold:       config.EnergyThreshold,
		adaptiveThreshold:     config.EnergyThreshold,
		backgroundNoiseLevel:  0.001,
		zcThreshold:           0.25,
		smoothingFactor:       0.1,
		speechFramesRequired:  config.SpeechFramesRequired,
		silenceFramesRequired: config.SilenceFramesRequired,
		logger:                logging.OrNop(logger).WithField("component", "vad"),
	}
}

// Analyze classifies one frame and advances the detector state
func (vad *VoiceActivityDetector) Analyze(samples []int16) Frame {
	if len(samples) == 0 {
		return Frame{IsSpeaking: vad.isSpeaking}
	}

	energy := calculateRMS(samples)
	zcr := calculateZeroCrossingRate(samples)

	vad.updateNoiseEstimate(energy)
	isVoice := vad.classifyFrame(energy, zcr)
	vad.updateState(isVoice)

	if vad.logger.Logger.IsLevelEnabled(logrus.TraceLevel) {
		vad.logger.WithFields(logrus.Fields{
			"energy":      energy,
			"zcr":         zcr,
			"threshold":   vad.adaptiveThreshold,
			"noise_level": vad.backgroundNoiseLevel,
			"is_voice":    isVoice,
			"is_speaking": vad.isSpeaking,
		}).Trace("VAD analysis")
	}

	return Frame{Energy: energy, ZCR: zcr, IsVoice: isVoice, IsSpeaking: vad.isSpeaking}
}

// DetectVoiceActivity reports the speaking state after analyzing samples
func (vad *VoiceActivityDetector) DetectVoiceActivity(samples []int16) bool {
	return vad.Analyze(samples).IsSpeaking
}

// updateNoiseEstimate tracks the noise floor during silence only
func (vad *VoiceActivityDetector) updateNoiseEstimate(energy float64) {
	if vad.isSpeaking || energy >= vad.adaptiveThreshold*2 {
		return
	}

	vad.backgroundNoiseLevel = vad.smoothingFactor*energy +
		(1-vad.smoothingFactor)*vad.backgroundNoiseLevel

	// noise level plus margin, never below the configured floor
	vad.adaptiveThreshold = vad.backgroundNoiseLevel * 3.0
	if vad.adaptiveThreshold < vad.energyThreshold {
		vad.adaptiveThreshold = vad.energyThreshold
	}
}

func (vad *VoiceActivityDetector) classifyFrame(energy, zcr float64) bool {
	if energy < vad.adaptiveThreshold {
		return false
	}
	// Very high ZCR is hiss or broadband noise rather than voice
	if zcr > vad.zcThreshold*2 {
		return false
	}
	return energy >= vad.backgroundNoiseLevel*2
}

// updateState applies hysteresis so single frames do not flip the state
func (vad *VoiceActivityDetector) updateState(isVoice bool) {
	if isVoice {
		vad.speechCount++
		vad.silenceCount = 0
		if vad.speechCount >= vad.speechFramesRequired {
			vad.isSpeaking = true
		}
		return
	}

	vad.silenceCount++
	vad.speechCount = 0
	if vad.silenceCount >= vad.silenceFramesRequired {
		vad.isSpeaking = false
	}
}

// calculateRMS returns the normalized root mean square of samples
func calculateRMS(samples []int16) float64 {
	if len(samples) == 0 {
		return 0
	}

	var sum float64
	for _, sample := range samples {
		normalized := float64(sample) / 32768.0
		sum += normalized * normalized
	}
	return math.Sqrt(sum / float64(len(samples)))
}

// calculateZeroCrossingRate returns sign changes per sample pair
func calculateZeroCrossingRate(samples []int16) float64 {
	if len(samples) < 2 {
		return 0
	}

	crossings := 0
	for i := 1; i < len(samples); i++ {
		if (samples[i-1] >= 0) != (samples[i] >= 0) {
			crossings++
		}
	}
	return float64(crossings) / float64(len(samples)-1)
}

// Reset resets the VAD state
func (vad *VoiceActivityDetector) Reset() {
	vad.speechCount = 0
	vad.silenceCount = 0
	vad.isSpeaking = false
	vad.backgroundNoiseLevel = 0.001
	vad.adaptiveThreshold = vad.energyThreshold
}

// IsSpeaking returns the current speaking state
func (vad *VoiceActivityDetector) IsSpeaking() bool {
	return vad.isSpeaking
}

// NoiseLevel returns the estimated background noise level
func (vad *VoiceActivityDetector) NoiseLevel() float64 {
	return vad.backgroundNoiseLevel
}
