package main

import (
	"log/slog"

	"github.com/MrWong99/lingobridge/internal/config"
	"github.com/MrWong99/lingobridge/pkg/audio"
	"github.com/MrWong99/lingobridge/pkg/audio/filedev"
	"github.com/MrWong99/lingobridge/pkg/audio/portaudio"
)

// registerBuiltinBackends wires the device backends that ship with
// lingobridge into reg.
func registerBuiltinBackends(reg *config.Registry) {
	// ── portaudio ─────────────────────────────────────────────────────────────

	reg.RegisterInput(config.BackendPortAudio, func(c config.CaptureConfig) (audio.InputDevice, error) {
		return portaudio.NewMicrophone(portaudio.WithDevice(c.Device)), nil
	})
	reg.RegisterOutput(config.BackendPortAudio, func(c config.PlaybackConfig) (audio.OutputOpener, error) {
		return func() (audio.OutputDevice, error) {
			s, err := portaudio.NewSpeaker(c.SampleRate, portaudio.WithDevice(c.Device))
			if err != nil {
				return nil, err
			}
			return s, nil
		}, nil
	})

	// ── file ──────────────────────────────────────────────────────────────────
	// Reads raw PCM16 from a file at wall-clock pace; useful for scripted
	// sessions and machines without a sound card.

	reg.RegisterInput(config.BackendFile, func(c config.CaptureConfig) (audio.InputDevice, error) {
		return filedev.NewInput(c.Device, c.SampleRate), nil
	})
	reg.RegisterOutput(config.BackendFile, func(c config.PlaybackConfig) (audio.OutputOpener, error) {
		return func() (audio.OutputDevice, error) {
			o, err := filedev.NewOutput(c.SampleRate, c.Device)
			if err != nil {
				return nil, err
			}
			return o, nil
		}, nil
	})

	ins, outs := reg.Backends()
	slog.Debug("registered device backends", "inputs", ins, "outputs", outs)
}
