// Package portaudio provides the hardware audio backend: a [Microphone]
// implementing [audio.InputDevice] and a [Speaker] implementing
// [audio.OutputDevice], both on top of github.com/gordonklaus/portaudio.
//
// The PortAudio library is initialised on first use and terminated when the
// last stream is closed.
package portaudio

import (
	"fmt"
	"strings"
	"sync"

	pa "github.com/gordonklaus/portaudio"
)

var host struct {
	mu   sync.Mutex
	refs int
}

// acquire initialises PortAudio if no stream currently holds it.
func acquire() error {
	host.mu.Lock()
	defer host.mu.Unlock()
	if host.refs == 0 {
		if err := pa.Initialize(); err != nil {
			return fmt.Errorf("portaudio: initialize: %w", err)
		}
	}
	host.refs++
	return nil
}

// release terminates PortAudio once the last holder is gone.
func release() {
	host.mu.Lock()
	defer host.mu.Unlock()
	if host.refs == 0 {
		return
	}
	host.refs--
	if host.refs == 0 {
		_ = pa.Terminate()
	}
}

// findDevice resolves name to a device with input (or output) channels. An
// empty name selects the host default. Matching is a case-insensitive
// substring match on the device name.
func findDevice(name string, input bool) (*pa.DeviceInfo, error) {
	if name == "" {
		if input {
			return pa.DefaultInputDevice()
		}
		return pa.DefaultOutputDevice()
	}
	devices, err := pa.Devices()
	if err != nil {
		return nil, err
	}
	want := strings.ToLower(name)
	for _, d := range devices {
		if input && d.MaxInputChannels < 1 || !input && d.MaxOutputChannels < 1 {
			continue
		}
		if strings.Contains(strings.ToLower(d.Name), want) {
			return d, nil
		}
	}
	return nil, fmt.Errorf("portaudio: no device matching %q", name)
}

// Option configures a [Microphone] or [Speaker].
type Option func(*options)

type options struct {
	device          string
	framesPerBuffer int
	channels        int
}

// WithDevice selects a device by (partial, case-insensitive) name instead of
// the host default.
func WithDevice(name string) Option {
	return func(o *options) { o.device = name }
}

// WithFramesPerBuffer sets the PortAudio buffer size in frames. Zero lets the
// host choose.
func WithFramesPerBuffer(n int) Option {
	return func(o *options) { o.framesPerBuffer = n }
}

// WithChannels sets the number of capture channels. Defaults to 1.
func WithChannels(n int) Option {
	return func(o *options) { o.channels = n }
}

func buildOptions(opts []Option) options {
	o := options{framesPerBuffer: pa.FramesPerBufferUnspecified, channels: 1}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}
