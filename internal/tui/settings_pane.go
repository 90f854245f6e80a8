package tui

import (
	"fmt"
	"strconv"

	"github.com/charmbracelet/bubbles/key"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/huh"
	"github.com/charmbracelet/lipgloss"

	"github.com/aristath/taskforge/internal/config"
)

// SettingsPaneModel manages the settings form overlay. Changes are written
// to a config file and apply to the next run.
type SettingsPaneModel struct {
	form        *huh.Form
	config      *config.Config
	globalPath  string
	projectPath string
	width       int
	height      int
	visible     bool
	saved       bool
	err         error

	// Form field bindings (strings for Huh)
	saveTarget string
	backend    string
	model      string
	command    string
	workers    string
	reuseScore string
}

// NewSettingsPaneModel creates a new settings pane.
func NewSettingsPaneModel(cfg *config.Config, globalPath, projectPath string) SettingsPaneModel {
	m := SettingsPaneModel{
		config:      cfg,
		globalPath:  globalPath,
		projectPath: projectPath,
	}
	m.loadFields()
	m.buildForm()
	return m
}

func (m *SettingsPaneModel) loadFields() {
	m.saveTarget = "project"
	m.backend = m.config.LLM.Backend
	m.model = m.config.LLM.Model
	m.command = m.config.LLM.Command
	m.workers = strconv.Itoa(m.config.Limits.Workers)
	m.reuseScore = strconv.FormatFloat(m.config.Thresholds.ReuseScore, 'f', -1, 64)
}

// buildForm constructs the Huh form with all settings fields.
func (m *SettingsPaneModel) buildForm() {
	m.form = huh.NewForm(
		huh.NewGroup(
			huh.NewSelect[string]().
				Key("saveTarget").
				Title("Save To").
				Options(
					huh.NewOption("Project ("+m.projectPath+")", "project"),
					huh.NewOption("Global ("+m.globalPath+")", "global"),
				).
				Value(&m.saveTarget),
		).Title("Save Target"),

		huh.NewGroup(
			huh.NewSelect[string]().
				Key("backend").
				Title("Backend").
				Options(
					huh.NewOption("Gemini API", "gemini"),
					huh.NewOption("Anthropic API", "anthropic"),
					huh.NewOption("Claude CLI", "claude-cli"),
				).
				Value(&m.backend),

			huh.NewInput().
				Key("model").
				Title("Model").
				Description("Empty for the backend default").
				Value(&m.model),

			huh.NewInput().
				Key("command").
				Title("CLI Command").
				Value(&m.command).
				Placeholder("claude"),
		).Title("Language Model"),

		huh.NewGroup(
			huh.NewInput().
				Key("workers").
				Title("Workers").
				Value(&m.workers).
				Validate(validatePositiveInt),

			huh.NewInput().
				Key("reuseScore").
				Title("Agent Reuse Score").
				Description("Minimum match score, between 0 and 1").
				Value(&m.reuseScore).
				Validate(validateUnitFloat),
		).Title("Pipeline"),
	)
}

func validatePositiveInt(s string) error {
	n, err := strconv.Atoi(s)
	if err != nil || n <= 0 {
		return fmt.Errorf("must be a positive integer")
	}
	return nil
}

func validateUnitFloat(s string) error {
	f, err := strconv.ParseFloat(s, 64)
	if err != nil || f < 0 || f > 1 {
		return fmt.Errorf("must be between 0 and 1")
	}
	return nil
}

// Init initializes the settings pane.
func (m SettingsPaneModel) Init() tea.Cmd {
	return m.form.Init()
}

// Update handles messages for the settings pane.
func (m SettingsPaneModel) Update(msg tea.Msg) (SettingsPaneModel, tea.Cmd) {
	if !m.visible {
		return m, nil
	}

	if km, ok := msg.(tea.KeyMsg); ok && key.Matches(km, keys.Close) {
		// Cancel without saving
		m.visible = false
		m.saved = false
		return m, nil
	}

	form, cmd := m.form.Update(msg)
	if f, ok := form.(*huh.Form); ok {
		m.form = f
	}

	if m.form.State == huh.StateCompleted {
		m.save()
	}

	return m, cmd
}

// save validates the edited config and writes it to the chosen file.
func (m *SettingsPaneModel) save() {
	updated, err := m.applyForm()
	if err == nil {
		err = updated.Validate()
	}
	if err == nil {
		targetPath := m.projectPath
		if m.saveTarget == "global" {
			targetPath = m.globalPath
		}
		err = config.Save(updated, targetPath)
	}

	if err != nil {
		m.err = err
		m.saved = false
		return
	}
	*m.config = *updated
	m.saved = true
	m.err = nil
	m.visible = false
}

// applyForm returns a copy of the config with the form values applied.
func (m *SettingsPaneModel) applyForm() (*config.Config, error) {
	cfg := *m.config
	cfg.LLM.Backend = m.backend
	cfg.LLM.Model = m.model
	cfg.LLM.Command = m.command

	workers, err := strconv.Atoi(m.workers)
	if err != nil {
		return nil, fmt.Errorf("limits.workers: %w", err)
	}
	cfg.Limits.Workers = workers

	score, err := strconv.ParseFloat(m.reuseScore, 64)
	if err != nil {
		return nil, fmt.Errorf("thresholds.reuse_score: %w", err)
	}
	cfg.Thresholds.ReuseScore = score
	return &cfg, nil
}

// View renders the settings pane.
func (m SettingsPaneModel) View() string {
	if !m.visible {
		return ""
	}

	var content string
	if m.err != nil {
		content = lipgloss.NewStyle().
			Foreground(lipgloss.Color("9")).
			Bold(true).
			Render(fmt.Sprintf("✗ Error saving: %v", m.err))
	} else {
		content = m.form.View()
	}

	style := lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(lipgloss.Color("62")).
		Padding(1, 2).
		Width(max(10, m.width-4)).
		Height(max(5, m.height-4))

	title := lipgloss.NewStyle().
		Bold(true).
		Foreground(lipgloss.Color("62")).
		Render("⚙ Settings (applies to the next run)")

	return lipgloss.JoinVertical(lipgloss.Left, title, style.Render(content))
}

// SetSize updates the dimensions of the settings pane.
func (m *SettingsPaneModel) SetSize(w, h int) {
	m.width = w
	m.height = h
	if m.form != nil {
		m.form.WithWidth(max(10, w-8)).WithHeight(max(5, h-8))
	}
}

// SetVisible shows or hides the settings pane.
func (m *SettingsPaneModel) SetVisible(v bool) {
	m.visible = v
	m.saved = false
	m.err = nil

	// Rebuild form to reset state
	if v {
		m.loadFields()
		m.buildForm()
		if m.width > 0 {
			m.SetSize(m.width, m.height)
		}
	}
}

// IsVisible returns whether the settings pane is currently visible.
func (m SettingsPaneModel) IsVisible() bool {
	return m.visible
}

// Saved reports whether the last form submission was written.
func (m SettingsPaneModel) Saved() bool {
	return m.saved
}
