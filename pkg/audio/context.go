package audio

import (
	"errors"
	"fmt"
	"sync"
)

// ErrNoOutput is returned by [Context.Output] when the context was built
// without an output opener.
var ErrNoOutput = errors.New("audio: no output device configured")

// ErrNoInput is returned by [Context.Input] when the context was built
// without an input device.
var ErrNoInput = errors.New("audio: no input device configured")

// Context owns the audio devices of one bridge. The input device is handed
// out as-is (each recording span opens and closes its own stream); the output
// device is opened on first use and held until [Context.Release].
//
// A released Context can be used again: the next call to [Context.Output]
// opens a fresh device.
//
// All methods are safe for concurrent use.
type Context struct {
	input      InputDevice
	openOutput OutputOpener

	mu     sync.Mutex
	output OutputDevice
}

// NewContext returns a Context over the given devices. Either may be nil when
// the caller only captures or only plays back.
func NewContext(input InputDevice, openOutput OutputOpener) *Context {
	return &Context{input: input, openOutput: openOutput}
}

// Input returns the microphone.
func (c *Context) Input() (InputDevice, error) {
	if c.input == nil {
		return nil, ErrNoInput
	}
	return c.input, nil
}

// Output returns the speaker, opening it on first use.
func (c *Context) Output() (OutputDevice, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.output != nil {
		return c.output, nil
	}
	if c.openOutput == nil {
		return nil, ErrNoOutput
	}
	out, err := c.openOutput()
	if err != nil {
		return nil, fmt.Errorf("audio: open output: %w", err)
	}
	c.output = out
	return out, nil
}

// OutputOpen reports whether the speaker is currently held.
func (c *Context) OutputOpen() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.output != nil
}

// Release closes the speaker if it is open. It is safe to call Release more
// than once.
func (c *Context) Release() error {
	c.mu.Lock()
	out := c.output
	c.output = nil
	c.mu.Unlock()
	if out == nil {
		return nil
	}
	if err := out.Close(); err != nil {
		return fmt.Errorf("audio: close output: %w", err)
	}
	return nil
}
