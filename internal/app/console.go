package app

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/MrWong99/lingobridge/internal/config"
)

// errQuit ends Run cleanly when the user quits from the console.
var errQuit = errors.New("app: quit")

const consoleHelp = `commands:
  c            connect
  r            start/stop recording (push-to-talk)
  d            disconnect
  s            status
  lang <name>  switch practised language
  topic <name> switch conversation topic
  mode <Assisted|Non-Assisted>
  h            help
  q            quit
`

// console reads line commands until ctx ends or the user quits. Reading
// happens on a separate goroutine because a blocked Read cannot be
// interrupted.
func (a *App) console(ctx context.Context) error {
	lines := make(chan string)
	go func() {
		defer close(lines)
		sc := bufio.NewScanner(a.in)
		for sc.Scan() {
			select {
			case lines <- sc.Text():
			case <-ctx.Done():
				return
			}
		}
	}()

	fmt.Fprint(a.out, consoleHelp)
	for {
		select {
		case <-ctx.Done():
			return nil
		case line, ok := <-lines:
			if !ok {
				// EOF on stdin is a quit.
				return errQuit
			}
			if err := a.command(ctx, line); err != nil {
				return err
			}
		}
	}
}

// command executes one console line. Only quit returns an error; failures
// of individual commands are printed.
func (a *App) command(ctx context.Context, line string) error {
	cmd, arg, _ := strings.Cut(strings.TrimSpace(line), " ")
	arg = strings.TrimSpace(arg)

	var err error
	switch strings.ToLower(cmd) {
	case "":
		return nil
	case "q", "quit", "exit":
		return errQuit
	case "c", "connect":
		err = a.Connect(ctx)
	case "d", "disconnect":
		a.Disconnect()
	case "r", "rec", "record":
		err = a.ToggleRecording(ctx)
	case "s", "status":
		a.printStatus()
	case "lang", "language", "topic", "mode":
		err = a.switchField(strings.ToLower(cmd), arg)
	case "h", "help", "?":
		fmt.Fprint(a.out, consoleHelp)
	default:
		fmt.Fprintf(a.out, "unknown command %q; type h for help\n", cmd)
	}
	if err != nil {
		fmt.Fprintf(a.out, "error: %v\n", err)
	}
	return nil
}

func (a *App) switchField(field, value string) error {
	if value == "" {
		return fmt.Errorf("%s needs a value", field)
	}
	sc := a.Config().Session
	switch field {
	case "lang", "language":
		sc.Language = value
	case "topic":
		sc.Topic = value
	case "mode":
		m := config.Mode(value)
		if !m.IsValid() {
			return fmt.Errorf("mode %q is invalid; valid values: Assisted, Non-Assisted", value)
		}
		sc.Mode = m
	}
	return a.SwitchSession(sc)
}

func (a *App) printStatus() {
	c := a.ctrl
	sc := a.Config().Session
	fmt.Fprintf(a.out, "state=%s session=%s level=%.3f buffered=%s language=%q topic=%q mode=%s\n",
		c.State(), c.SessionID(), c.Level(), c.Buffered().Round(time.Millisecond),
		sc.Language, sc.Topic, sc.Mode,
	)
	if err := c.LastError(); err != nil {
		fmt.Fprintf(a.out, "last error: %v\n", err)
	}
}
