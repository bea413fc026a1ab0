package config

import (
	"time"

	"markestedt/voicekey/inject"
	"markestedt/voicekey/trigger"
)

func ms(n int) time.Duration {
	return time.Duration(n) * time.Millisecond
}

// Spec converts the trigger section into a validated trigger.Spec and its
// activation mode.
func (c TriggerConfig) Spec() (trigger.Spec, trigger.ActivationMode, error) {
	mode, err := trigger.ParseMode(c.Mode)
	if err != nil {
		return trigger.Spec{}, trigger.ActivationMode{}, err
	}
	kind, err := trigger.ParseActivationKind(c.ActivationMode)
	if err != nil {
		return trigger.Spec{}, trigger.ActivationMode{}, err
	}

	spec := trigger.Spec{
		Mode:         mode,
		Key:          c.Key,
		Timeout:      ms(c.TimeoutMs),
		HoldDuration: ms(c.HoldDurationMs),
		Sequence:     c.Keys,
		Phrases:      c.Phrases,
		Locale:       c.Locale,
		CancelKey:    c.CancelKey,
	}
	am := trigger.ActivationMode{Kind: kind, Threshold: ms(c.ClassifyThresholdMs)}
	if am.Threshold == 0 {
		am.Threshold = trigger.DefaultClassifyThreshold
	}
	if err := spec.Validate(); err != nil {
		return trigger.Spec{}, trigger.ActivationMode{}, err
	}
	return spec, am, nil
}

// TriggerFromSpec is the inverse of TriggerConfig.Spec.
func TriggerFromSpec(spec trigger.Spec, am trigger.ActivationMode) TriggerConfig {
	return TriggerConfig{
		Mode:                spec.Mode.String(),
		Key:                 spec.Key,
		Keys:                spec.Sequence,
		TimeoutMs:           int(spec.Timeout / time.Millisecond),
		HoldDurationMs:      int(spec.HoldDuration / time.Millisecond),
		Phrases:             spec.Phrases,
		Locale:              spec.Locale,
		CancelKey:           spec.CancelKey,
		ActivationMode:      am.Kind.String(),
		ClassifyThresholdMs: int(am.Threshold / time.Millisecond),
	}
}

// Pipeline converts the injection section into pipeline options.
func (c InjectionConfig) Pipeline() inject.Config {
	return inject.Config{
		AutoInjectEnabled:     c.AutoInjectEnabled,
		InjectDelay:           ms(c.InjectDelayMs),
		UseKeyboardSimulation: c.UseKeyboardSimulation,
		PreserveClipboard:     c.PreserveClipboard,
		DuplicateDetection:    c.DuplicateDetection,
		DuplicateWindow:       ms(c.DuplicateWindowMs),
		TargetAppFilter:       c.TargetAppFilter,
		ChunkSize:             c.ChunkSize,
		ClipboardSettle:       ms(c.ClipboardSettleMs),
		RetryAttempts:         c.RetryAttempts,
		RetryInterval:         ms(c.RetryIntervalMs),
	}
}

func (c SessionConfig) MaxCapture() time.Duration {
	return time.Duration(c.MaxCaptureSeconds) * time.Second
}

func (c SessionConfig) FocusSettle() time.Duration {
	return ms(c.FocusSettleMs)
}

func (c SessionConfig) MinRecording() time.Duration {
	return ms(c.MinRecordingMs)
}

func (c BusConfig) ConnectTimeout() time.Duration {
	return ms(c.ConnectTimeoutMs)
}
