package gui

import (
	"strings"

	"fyne.io/fyne/v2"
	"fyne.io/fyne/v2/driver/desktop"

	"github.com/keagan/reelcut/internal/commands"
)

var namedKeys = map[fyne.KeyName]string{
	fyne.KeySpace:     "space",
	fyne.KeyLeft:      "left",
	fyne.KeyRight:     "right",
	fyne.KeyDelete:    "delete",
	fyne.KeyBackspace: "backspace",
}

// keyFromFyne converts a typed key to a command chord.
func keyFromFyne(name fyne.KeyName) (commands.Key, bool) {
	if n, ok := namedKeys[name]; ok {
		return commands.Key{Name: n}, true
	}
	s := string(name)
	if len(s) == 1 && s[0] >= 'A' && s[0] <= 'Z' {
		return commands.Key{Name: strings.ToLower(s)}, true
	}
	return commands.Key{}, false
}

// shortcutFor converts a modified chord to a fyne shortcut. Plain keys are
// delivered through the typed-key handler instead.
func shortcutFor(k commands.Key) (*desktop.CustomShortcut, bool) {
	if !k.Ctrl && !k.Shift {
		return nil, false
	}
	var name fyne.KeyName
	for fk, n := range namedKeys {
		if n == k.Name {
			name = fk
		}
	}
	if name == "" {
		if len(k.Name) != 1 {
			return nil, false
		}
		name = fyne.KeyName(strings.ToUpper(k.Name))
	}

	var mod fyne.KeyModifier
	if k.Ctrl {
		mod |= fyne.KeyModifierShortcutDefault
	}
	if k.Shift {
		mod |= fyne.KeyModifierShift
	}
	return &desktop.CustomShortcut{KeyName: name, Modifier: mod}, true
}
