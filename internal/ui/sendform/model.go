package sendform

import (
	"fmt"
	"strconv"
	"strings"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/huh"
	"github.com/charmbracelet/lipgloss"

	"github.com/nhle/hrnotify/internal/model"
	"github.com/nhle/hrnotify/internal/theme"
)

// SubmitMsg is dispatched when the form completes with a valid request.
type SubmitMsg struct {
	Request model.SendRequest
}

// CancelMsg is dispatched when the user aborts the form.
type CancelMsg struct{}

// formBindings holds form field values on the heap so that huh's Value()
// pointers remain valid across Bubble Tea model copies.
type formBindings struct {
	employeeID string
	title      string
	message    string
	category   string
}

// Model is the administrative "notify an employee" form.
type Model struct {
	form   *huh.Form
	fb     *formBindings
	width  int
	height int
}

// New creates a new send form model.
func New(width, height int) Model {
	return Model{
		fb:     &formBindings{},
		width:  width,
		height: height,
	}
}

// Start resets the fields and builds a fresh form.
func (m *Model) Start() tea.Cmd {
	*m.fb = formBindings{category: string(model.CategoryInfo)}
	m.form = m.buildForm()
	return m.form.Init()
}

// Update handles messages for the send form.
func (m Model) Update(msg tea.Msg) (Model, tea.Cmd) {
	if m.form == nil {
		return m, nil
	}

	mdl, cmd := m.form.Update(msg)
	if f, ok := mdl.(*huh.Form); ok {
		m.form = f
	}

	switch m.form.State {
	case huh.StateCompleted:
		req, err := Request(m.fb.employeeID, m.fb.title, m.fb.message, m.fb.category)
		m.form = nil
		if err != nil {
			return m, func() tea.Msg { return CancelMsg{} }
		}
		return m, func() tea.Msg { return SubmitMsg{Request: req} }
	case huh.StateAborted:
		m.form = nil
		return m, func() tea.Msg { return CancelMsg{} }
	}

	return m, cmd
}

// View renders the send form.
func (m Model) View() string {
	if m.form == nil {
		return ""
	}

	titleStyle := lipgloss.NewStyle().
		Bold(true).
		Foreground(theme.ColorWhite).
		MarginBottom(1)

	content := titleStyle.Render("Send Notification") + "\n" + m.form.View()

	return lipgloss.NewStyle().
		Padding(1, 2).
		Render(content)
}

// SetSize updates the form dimensions.
func (m *Model) SetSize(width, height int) {
	m.width = width
	m.height = height
}

func (m *Model) buildForm() *huh.Form {
	return huh.NewForm(
		huh.NewGroup(
			huh.NewInput().
				Title("Employee ID").
				Placeholder("Recipient employee id").
				Value(&m.fb.employeeID).
				Validate(validateEmployeeID),
			huh.NewInput().
				Title("Title").
				Value(&m.fb.title).
				Validate(validateRequired("Title")),
			huh.NewText().
				Title("Message").
				Value(&m.fb.message).
				Validate(validateRequired("Message")),
			huh.NewSelect[string]().
				Title("Category").
				Options(
					huh.NewOption("Info", string(model.CategoryInfo)),
					huh.NewOption("Success", string(model.CategorySuccess)),
					huh.NewOption("Warning", string(model.CategoryWarning)),
					huh.NewOption("Error", string(model.CategoryError)),
					huh.NewOption("None", ""),
				).
				Value(&m.fb.category),
		),
	).WithWidth(m.formWidth()).WithHeight(m.formHeight())
}

// Request builds a send request from raw form values.
func Request(employeeID, title, message, category string) (model.SendRequest, error) {
	if err := validateEmployeeID(employeeID); err != nil {
		return model.SendRequest{}, err
	}
	id, _ := strconv.ParseInt(strings.TrimSpace(employeeID), 10, 64)

	req := model.SendRequest{
		EmployeeID: id,
		Title:      strings.TrimSpace(title),
		Message:    strings.TrimSpace(message),
	}
	if category != "" {
		c := model.Category(category)
		req.Category = &c
	}
	return req, nil
}

func (m Model) formWidth() int {
	return min(max(m.width-4, 40), 100)
}

func (m Model) formHeight() int {
	return max(m.height-4, 10)
}

func validateRequired(fieldName string) func(string) error {
	return func(s string) error {
		if strings.TrimSpace(s) == "" {
			return fmt.Errorf("%s is required", fieldName)
		}
		return nil
	}
}

func validateEmployeeID(s string) error {
	id, err := strconv.ParseInt(strings.TrimSpace(s), 10, 64)
	if err != nil || id <= 0 {
		return fmt.Errorf("employee id must be a positive number")
	}
	return nil
}
