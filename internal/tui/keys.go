package tui

import (
	"github.com/charmbracelet/bubbles/help"
	"github.com/charmbracelet/bubbles/key"
)

// keyMap holds every dashboard binding. Panes match against it with
// key.Matches instead of comparing raw key strings.
type keyMap struct {
	Quit     key.Binding
	Settings key.Binding
	Close    key.Binding
	Next     key.Binding
	Prev     key.Binding
	Tasks    key.Binding
	Log      key.Binding
	Progress key.Binding
	Down     key.Binding
	Up       key.Binding
}

var keys = keyMap{
	Quit:     key.NewBinding(key.WithKeys("q", "ctrl+c"), key.WithHelp("q", "quit")),
	Settings: key.NewBinding(key.WithKeys("s"), key.WithHelp("s", "settings")),
	Close:    key.NewBinding(key.WithKeys("esc"), key.WithHelp("esc", "close")),
	Next:     key.NewBinding(key.WithKeys("tab"), key.WithHelp("tab", "cycle focus")),
	Prev:     key.NewBinding(key.WithKeys("shift+tab")),
	Tasks:    key.NewBinding(key.WithKeys("1"), key.WithHelp("1/2/3", "jump to pane")),
	Log:      key.NewBinding(key.WithKeys("2")),
	Progress: key.NewBinding(key.WithKeys("3")),
	Down:     key.NewBinding(key.WithKeys("j", "down"), key.WithHelp("j/k", "select/scroll")),
	Up:       key.NewBinding(key.WithKeys("k", "up")),
}

// ShortHelp lists the bindings shown in the help bar. Bindings without help
// text are folded into their neighbours.
func (k keyMap) ShortHelp() []key.Binding {
	return []key.Binding{k.Next, k.Tasks, k.Down, k.Settings, k.Quit}
}

// FullHelp implements help.KeyMap.
func (k keyMap) FullHelp() [][]key.Binding {
	return [][]key.Binding{k.ShortHelp(), {k.Close}}
}

var helpBar = help.New()

// HelpView returns the one-line help bar.
func HelpView() string {
	return StyleHelp.Render(helpBar.View(keys))
}
