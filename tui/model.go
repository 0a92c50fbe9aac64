package tui

import (
	"fmt"
	"strings"
	"time"

	"charm.land/bubbles/v2/spinner"
	tea "charm.land/bubbletea/v2"
	"charm.land/lipgloss/v2"
)

// tickMsg is fired every second to update the token lifetime countdown.
type tickMsg time.Time

// state represents the current phase of a command.
type state int

const (
	stateInit       state = iota
	stateWorking          // requests in flight
	stateRefreshing       // refresh-token exchange running
	stateSuccess          // all done
	stateError            // fatal error
)

// statusKind distinguishes line types in the status log.
type statusKind int

const (
	statusOK   statusKind = iota
	statusWarn            // warning / non-fatal
	statusInfo            // neutral info
)

// maxBodyPreview caps response bodies echoed into the status log.
const maxBodyPreview = 200

// statusLine is one row in the scrolling status log.
type statusLine struct {
	kind statusKind
	text string
}

// Model is the BubbleTea model for the session CLI.
type Model struct {
	state   state
	spinner spinner.Model
	width   int
	height  int

	// Requests of the running command
	label   string
	pending int

	// Stored credential, when shown
	tokenPreview string
	tokenExpiry  time.Time
	remaining    time.Duration

	summary string
	errMsg  string

	// Scrolling status log shown below the main panel
	statusLines []statusLine
}

var (
	styleTitleBox = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("99")).
			BorderStyle(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("99")).
			Padding(0, 2)

	styleTokenBox = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("228")).
			BorderStyle(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("228")).
			Padding(0, 2)

	styleOK   = lipgloss.NewStyle().Foreground(lipgloss.Color("42"))
	styleWarn = lipgloss.NewStyle().Foreground(lipgloss.Color("214"))
	styleErr  = lipgloss.NewStyle().Foreground(lipgloss.Color("196"))
	styleDim  = lipgloss.NewStyle().Foreground(lipgloss.Color("244"))
	styleBold = lipgloss.NewStyle().Bold(true)
)

// NewModel creates the initial TUI model.
func NewModel() Model {
	s := spinner.New(
		spinner.WithSpinner(spinner.Dot),
		spinner.WithStyle(lipgloss.NewStyle().Foreground(lipgloss.Color("99"))),
	)
	return Model{
		state:   stateInit,
		spinner: s,
	}
}

// Init starts the spinner animation.
func (m Model) Init() tea.Cmd {
	return m.spinner.Tick
}

// Update handles all incoming messages.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		return m, nil

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd

	case tickMsg:
		if m.tokenExpiry.IsZero() {
			return m, nil
		}
		m.remaining = time.Until(m.tokenExpiry)
		if m.remaining > 0 {
			return m, tickAfterSecond()
		}
		return m, nil

	case tea.KeyPressMsg:
		if msg.String() == "ctrl+c" {
			return m, tea.Quit
		}
		return m, nil

	// ── Command messages ─────────────────────────────────────────────────────

	case MsgBanner:
		return m, nil

	case MsgCredentialsFound:
		m.addStatus(statusOK, "Found stored credentials")
		return m, nil

	case MsgCredentialsNotFound:
		m.addStatus(statusWarn, "No stored credentials, run `verigate login` first")
		return m, nil

	case MsgLoginOK:
		m.addStatus(statusOK, "Logged in as "+msg.Email)
		return m, nil

	case MsgLoginFailed:
		m.addStatus(statusWarn, "Login failed: "+describe(msg.Err))
		return m, nil

	case MsgLoggedOut:
		m.addStatus(statusOK, "Logged out, local credentials removed")
		return m, nil

	case MsgRequesting:
		m.state = stateWorking
		m.pending = msg.Count
		m.label = fmt.Sprintf("%s %s", msg.Method, msg.Path)
		return m, nil

	case MsgResponseOK:
		body := msg.Body
		if len(body) > maxBodyPreview {
			body = body[:maxBodyPreview] + "..."
		}
		if body == "" {
			body = "(empty body)"
		}
		m.addStatus(statusOK, fmt.Sprintf("[%d] %s", msg.Index, body))
		return m, nil

	case MsgRequestFinished:
		m.pending = max(m.pending-1, 0)
		if msg.Err != nil {
			m.addStatus(statusWarn, fmt.Sprintf("%s %s failed: %s", msg.Method, msg.Path, describe(msg.Err)))
		}
		return m, nil

	// ── Session events ───────────────────────────────────────────────────────

	case MsgAccessTokenRejected:
		m.addStatus(statusWarn, fmt.Sprintf("Access token rejected (401) for %s %s", msg.Method, msg.Path))
		return m, nil

	case MsgRefreshStarted:
		m.state = stateRefreshing
		m.addStatus(statusInfo, "Refreshing access token...")
		return m, nil

	case MsgRefreshJoined:
		m.addStatus(statusInfo, "Waiting for the running token refresh")
		return m, nil

	case MsgRefreshOK:
		m.state = stateWorking
		m.addStatus(statusOK, fmt.Sprintf("Token refreshed, %d request(s) released", msg.Waiters))
		return m, nil

	case MsgRefreshFailed:
		m.state = stateWorking
		m.addStatus(statusWarn, fmt.Sprintf("Refresh failed for %d request(s): %v", msg.Waiters, msg.Err))
		return m, nil

	case MsgSessionTerminated:
		m.addStatus(statusWarn, "Session ended, run `verigate login` to sign in again")
		return m, nil

	case MsgStatus:
		m.tokenPreview = msg.Preview
		m.remaining = msg.ExpiresIn
		if msg.ExpiresIn > 0 {
			m.tokenExpiry = time.Now().Add(msg.ExpiresIn)
			return m, tickAfterSecond()
		}
		return m, nil

	case MsgDone:
		m.summary = msg.Summary
		m.state = stateSuccess
		return m, nil

	case MsgFatal:
		m.errMsg = describe(msg.Err)
		m.state = stateError
		return m, nil
	}

	return m, nil
}

// View renders the TUI.
func (m Model) View() tea.View {
	switch m.state {
	case stateSuccess:
		return tea.NewView(m.viewSuccess())
	case stateError:
		return tea.NewView(m.viewError())
	default:
		return tea.NewView(m.viewMain())
	}
}

// viewMain is shown while a command is running.
func (m Model) viewMain() string {
	var b strings.Builder

	b.WriteString("\n")
	b.WriteString(styleTitleBox.Render("  Verigate Session  "))
	b.WriteString("\n\n")

	switch m.state {
	case stateRefreshing:
		b.WriteString(m.spinner.View())
		b.WriteString(" Refreshing access token...\n")

	case stateWorking:
		b.WriteString(m.spinner.View())
		b.WriteString(" " + m.label)
		if m.pending > 0 {
			b.WriteString("  ")
			b.WriteString(styleDim.Render(fmt.Sprintf("%d pending", m.pending)))
		}
		b.WriteString("\n")

	default:
		b.WriteString(m.spinner.View())
		b.WriteString(" Working...\n")
	}

	b.WriteString(m.viewToken())
	b.WriteString(m.viewStatusLog())
	return b.String()
}

// viewSuccess is shown after the command completed.
func (m Model) viewSuccess() string {
	var b strings.Builder

	b.WriteString("\n")
	b.WriteString(styleOK.Render("  ✓ Done"))
	b.WriteString("\n\n")

	for _, line := range strings.Split(m.summary, "\n") {
		b.WriteString(styleBold.Render("  " + line))
		b.WriteString("\n")
	}

	b.WriteString(m.viewToken())
	b.WriteString(m.viewStatusLog())
	return b.String()
}

// viewError is shown when a fatal error occurs.
func (m Model) viewError() string {
	var b strings.Builder

	b.WriteString("\n")
	b.WriteString(styleErr.Render("  ✗ Command failed"))
	b.WriteString("\n\n")
	b.WriteString(styleDim.Render("  " + m.errMsg))
	b.WriteString("\n")

	b.WriteString(m.viewStatusLog())
	return b.String()
}

// viewToken renders the stored credential panel, if one was reported.
func (m Model) viewToken() string {
	if m.tokenPreview == "" {
		return ""
	}

	var b strings.Builder
	b.WriteString("\n")
	b.WriteString(styleTokenBox.Render(m.tokenPreview))
	b.WriteString("\n")
	b.WriteString(styleBold.Render("Expires In: "))
	b.WriteString(formatExpiry(m.remaining))
	b.WriteString("\n")
	return b.String()
}

// viewStatusLog renders the scrolling status log.
func (m Model) viewStatusLog() string {
	if len(m.statusLines) == 0 {
		return ""
	}

	var b strings.Builder
	b.WriteString("\n")

	for _, line := range m.statusLines {
		switch line.kind {
		case statusOK:
			b.WriteString(styleOK.Render("  ✓ " + line.text))
		case statusWarn:
			b.WriteString(styleWarn.Render("  ⚠ " + line.text))
		default:
			b.WriteString(styleDim.Render("  · " + line.text))
		}
		b.WriteString("\n")
	}
	return b.String()
}

// addStatus appends a line to the status log.
func (m *Model) addStatus(kind statusKind, text string) {
	m.statusLines = append(m.statusLines, statusLine{kind: kind, text: text})
}

// tickAfterSecond returns a command that fires tickMsg after one second.
func tickAfterSecond() tea.Cmd {
	return tea.Tick(time.Second, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

// formatDuration formats a duration as "Xh Ym", "Xm Ys" or "Xs".
func formatDuration(d time.Duration) string {
	d = d.Round(time.Second)
	if d <= 0 {
		return "0s"
	}
	h := int(d.Hours())
	m := int(d.Minutes()) % 60
	s := int(d.Seconds()) % 60
	switch {
	case h > 0:
		return fmt.Sprintf("%dh %dm", h, m)
	case m > 0:
		return fmt.Sprintf("%dm %ds", m, s)
	default:
		return fmt.Sprintf("%ds", s)
	}
}
