// Package commands maps named editor commands and key chords onto the editor
// and the playback scheduler. It runs on the session loop like everything
// else that touches the project.
package commands

import (
	"fmt"
	"sort"
	"strings"

	"github.com/rs/zerolog"

	"github.com/keagan/reelcut/internal/edit"
	"github.com/keagan/reelcut/internal/session"
)

// Command names one user action.
type Command string

const (
	PlayPause    Command = "play-pause"
	SetIn        Command = "set-in"
	SetOut       Command = "set-out"
	ToggleLoop   Command = "toggle-loop"
	Split        Command = "split"
	Delete       Command = "delete"
	Duplicate    Command = "duplicate"
	StepBack     Command = "step-back"
	StepForward  Command = "step-forward"
	Undo         Command = "undo"
	Redo         Command = "redo"
	Replay       Command = "replay"
	ToggleRipple Command = "toggle-ripple"
	RaiseOverlay Command = "raise-overlay"
	LowerOverlay Command = "lower-overlay"
)

var all = []Command{
	PlayPause, SetIn, SetOut, ToggleLoop, Split, Delete, Duplicate,
	StepBack, StepForward, Undo, Redo, Replay, ToggleRipple,
	RaiseOverlay, LowerOverlay,
}

// All lists every command.
func All() []Command {
	return append([]Command(nil), all...)
}

// Parse resolves a command name.
func Parse(name string) (Command, error) {
	name = strings.ToLower(strings.TrimSpace(name))
	for _, c := range all {
		if string(c) == name {
			return c, nil
		}
	}
	return "", fmt.Errorf("unknown command %q", name)
}

// Key is a chord. Name is lower case: a letter, "space", "delete",
// "backspace", "left" or "right".
type Key struct {
	Name  string
	Ctrl  bool
	Shift bool
}

func (k Key) String() string {
	var parts []string
	if k.Ctrl {
		parts = append(parts, "ctrl")
	}
	if k.Shift {
		parts = append(parts, "shift")
	}
	return strings.Join(append(parts, k.Name), "+")
}

// ParseKey reads chords like "ctrl+z" or "shift+r". "cmd" and "meta" are
// read as ctrl.
func ParseKey(s string) (Key, error) {
	var k Key
	parts := strings.Split(strings.ToLower(strings.TrimSpace(s)), "+")
	for i, p := range parts {
		p = strings.TrimSpace(p)
		if i < len(parts)-1 {
			switch p {
			case "ctrl", "cmd", "meta":
				k.Ctrl = true
			case "shift":
				k.Shift = true
			default:
				return Key{}, fmt.Errorf("unknown modifier %q in %q", p, s)
			}
			continue
		}
		if p == "" {
			return Key{}, fmt.Errorf("empty key in %q", s)
		}
		k.Name = p
	}
	return k, nil
}

// DefaultBindings is the editor keymap.
func DefaultBindings() map[Key]Command {
	m := make(map[Key]Command)
	m[Key{Name: "space"}] = PlayPause
	m[Key{Name: "i"}] = SetIn
	m[Key{Name: "o"}] = SetOut
	m[Key{Name: "l"}] = ToggleLoop
	m[Key{Name: "c"}] = Split
	m[Key{Name: "delete"}] = Delete
	m[Key{Name: "backspace"}] = Delete
	m[Key{Name: "d", Ctrl: true}] = Duplicate
	m[Key{Name: "left"}] = StepBack
	m[Key{Name: "right"}] = StepForward
	m[Key{Name: "z", Ctrl: true}] = Undo
	m[Key{Name: "y", Ctrl: true}] = Redo
	m[Key{Name: "z", Ctrl: true, Shift: true}] = Redo
	m[Key{Name: "r", Shift: true}] = Replay
	m[Key{Name: "p"}] = ToggleRipple
	return m
}

// Player is the transport side of the command surface. *playback.Scheduler
// satisfies it.
type Player interface {
	TogglePlay()
	Replay()
	StepFrame(dir int)
	Seek(t float64)
}

// Dispatcher runs commands against an editor and a player.
type Dispatcher struct {
	logger   zerolog.Logger
	ed       *edit.Editor
	player   Player
	bindings map[Key]Command
	onRun    []func(Command, bool)
}

// New creates a dispatcher with the default keymap.
func New(logger zerolog.Logger, ed *edit.Editor, player Player) *Dispatcher {
	return &Dispatcher{
		logger:   logger.With().Str("component", "commands").Logger(),
		ed:       ed,
		player:   player,
		bindings: DefaultBindings(),
	}
}

// Bind maps a chord to a command, replacing any previous binding.
func (d *Dispatcher) Bind(k Key, c Command) {
	d.bindings[k] = c
}

// Bindings returns the keymap sorted by command then chord.
func (d *Dispatcher) Bindings() []Binding {
	out := make([]Binding, 0, len(d.bindings))
	for k, c := range d.bindings {
		out = append(out, Binding{Key: k, Command: c})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Command != out[j].Command {
			return out[i].Command < out[j].Command
		}
		return out[i].Key.String() < out[j].Key.String()
	})
	return out
}

// Binding is one keymap entry.
type Binding struct {
	Key     Key
	Command Command
}

// OnRun registers fn to observe every command and whether it changed anything.
func (d *Dispatcher) OnRun(fn func(Command, bool)) {
	d.onRun = append(d.onRun, fn)
}

// HandleKey runs the command bound to k. It reports false for unbound keys.
func (d *Dispatcher) HandleKey(k Key) bool {
	c, ok := d.bindings[k]
	if !ok {
		return false
	}
	d.Run(c)
	return true
}

// Run executes c and reports whether it had an effect. Rejected edits are
// silent.
func (d *Dispatcher) Run(c Command) bool {
	sess := d.ed.Session()
	applied := true

	switch c {
	case PlayPause:
		d.player.TogglePlay()
	case Replay:
		d.player.Replay()
	case StepBack:
		d.player.StepFrame(-1)
	case StepForward:
		d.player.StepFrame(1)
	case SetIn:
		d.ed.SetInAtPlayhead()
	case SetOut:
		d.ed.SetOutAtPlayhead()
	case ToggleLoop:
		d.ed.ToggleLoop()
	case ToggleRipple:
		d.ed.ToggleRipple()
	case Split:
		applied = d.ed.SplitAtPlayhead()
	case Delete:
		applied = d.ed.DeleteSelected()
	case Duplicate:
		applied = d.ed.DuplicateSelected()
	case Undo:
		applied = d.ed.Undo()
	case Redo:
		applied = d.ed.Redo()
	case RaiseOverlay, LowerOverlay:
		applied = d.restack(c == RaiseOverlay)
	default:
		d.logger.Warn().Str("command", string(c)).Msg("unknown command")
		return false
	}

	// Structural edits can move or remove the clip under the playhead.
	switch c {
	case Split, Delete, Duplicate, Undo, Redo:
		if applied {
			d.player.Seek(sess.GlobalTime)
		}
	}

	d.logger.Debug().Str("command", string(c)).Bool("applied", applied).Msg("command")
	for _, fn := range d.onRun {
		fn(c, applied)
	}
	return applied
}

func (d *Dispatcher) restack(up bool) bool {
	sel := d.ed.Session().Selection
	if sel.Kind != session.SelectOverlay {
		return false
	}
	if up {
		return d.ed.RaiseOverlay(sel.ID)
	}
	return d.ed.LowerOverlay(sel.ID)
}
