package gui

import (
	"testing"

	"fyne.io/fyne/v2"

	"github.com/keagan/reelcut/internal/commands"
)

func TestKeyFromFyne(t *testing.T) {
	tests := []struct {
		in   fyne.KeyName
		want commands.Key
		ok   bool
	}{
		{fyne.KeySpace, commands.Key{Name: "space"}, true},
		{fyne.KeyBackspace, commands.Key{Name: "backspace"}, true},
		{fyne.KeyI, commands.Key{Name: "i"}, true},
		{fyne.KeyF1, commands.Key{}, false},
	}
	for _, tt := range tests {
		got, ok := keyFromFyne(tt.in)
		if ok != tt.ok || got != tt.want {
			t.Errorf("keyFromFyne(%q) = %+v, %v", tt.in, got, ok)
		}
	}
}

func TestShortcutFor(t *testing.T) {
	sc, ok := shortcutFor(commands.Key{Name: "z", Ctrl: true, Shift: true})
	if !ok {
		t.Fatal("expected a shortcut")
	}
	if sc.KeyName != fyne.KeyZ || sc.Modifier != fyne.KeyModifierShortcutDefault|fyne.KeyModifierShift {
		t.Errorf("unexpected shortcut %+v", sc)
	}

	if _, ok := shortcutFor(commands.Key{Name: "space"}); ok {
		t.Error("plain keys are not shortcuts")
	}

	sc, ok = shortcutFor(commands.Key{Name: "left", Shift: true})
	if !ok || sc.KeyName != fyne.KeyLeft {
		t.Errorf("expected shift+left, got %+v", sc)
	}
}
