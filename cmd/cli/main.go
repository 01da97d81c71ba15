package main

import (
	"bytes"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/FilipeBarcellos/integrationm-greenn/pkg/kafka"
	"github.com/FilipeBarcellos/integrationm-greenn/pkg/logging"
)

// Admin console for the webhook integration: fire test events at the
// service, inspect or clear the event log, and tail the audit stream.

type event struct {
	Name        string
	Description string
}

type action struct {
	Name string
}

type model struct {
	baseURL string
	logPath string
	brokers string
	topic   string

	events         []event
	actions        []action
	selectedEvent  int
	selectedAction int
	status         string
	output         string
	busy           bool
}

func initialModel(baseURL, logPath, brokers, topic string) model {
	return model{
		baseURL: baseURL,
		logPath: logPath,
		brokers: brokers,
		topic:   topic,
		events: []event{
			{"paid", "Completed sale"},
			{"refunded", "Refund"},
			{"chargedback", "Chargeback"},
			{"bogus", "Unknown status"},
		},
		actions: []action{{"send"}, {"view-log"}, {"clear-log"}, {"tail-audit"}},
		status:  "Ready",
	}
}

func (m model) Init() tea.Cmd {
	return nil
}

func (m model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c", "q":
			return m, tea.Quit
		case "up":
			if m.selectedEvent > 0 {
				m.selectedEvent--
			}
		case "down":
			if m.selectedEvent < len(m.events)-1 {
				m.selectedEvent++
			}
		case "left":
			if m.selectedAction > 0 {
				m.selectedAction--
			}
		case "right":
			if m.selectedAction < len(m.actions)-1 {
				m.selectedAction++
			}
		case "enter":
			if m.busy {
				return m, nil
			}
			m.busy = true
			m.status = "Running..."
			return m, runActionCmd(m, m.actions[m.selectedAction].Name, m.events[m.selectedEvent].Name)
		}
	case actionResult:
		m.busy = false
		m.status = msg.status
		m.output = msg.output
	}
	return m, nil
}

func (m model) View() string {
	b := &strings.Builder{}
	fmt.Fprintln(b, "integrationm-greenn admin console")
	fmt.Fprintln(b, "")
	fmt.Fprintln(b, "Test events (up/down):")
	for i, ev := range m.events {
		marker := " "
		if i == m.selectedEvent {
			marker = ">"
		}
		fmt.Fprintf(b, " %s %s - %s\n", marker, ev.Name, ev.Description)
	}
	fmt.Fprintln(b, "")
	fmt.Fprintln(b, "Actions (left/right):")
	for i, act := range m.actions {
		marker := " "
		if i == m.selectedAction {
			marker = "*"
		}
		fmt.Fprintf(b, " %s %s\n", marker, act.Name)
	}
	fmt.Fprintln(b, "")
	fmt.Fprintf(b, "Status: %s\n", m.status)
	if m.output != "" {
		fmt.Fprintf(b, "\n%s\n", m.output)
	}
	fmt.Fprintln(b, "\nControls: up/down event, left/right action, enter to run, q to quit")
	return b.String()
}

type actionResult struct {
	status string
	output string
}

func runActionCmd(m model, action, eventName string) tea.Cmd {
	return func() tea.Msg {
		switch action {
		case "send":
			return sendTestEvent(m.baseURL, eventName)
		case "view-log":
			return viewLog(m.logPath)
		case "clear-log":
			return clearLog(m.logPath)
		case "tail-audit":
			return tailAudit(m.brokers, m.topic)
		}
		return actionResult{status: "Unknown action"}
	}
}

func sendTestEvent(baseURL, status string) tea.Msg {
	payload := map[string]any{
		"seller":  map[string]any{"id": "seller-test"},
		"client":  map[string]any{"email": "teste@example.com", "name": "Cliente Teste"},
		"product": map[string]any{"name": "Curso Teste"},
		"sale":    map[string]any{"status": status},
	}
	data, _ := json.Marshal(payload)

	client := &http.Client{Timeout: 10 * time.Second}
	resp, err := client.Post(strings.TrimRight(baseURL, "/")+"/greenn-webhook/v1/process", "application/json", bytes.NewReader(data))
	if err != nil {
		return actionResult{status: "Error", output: err.Error()}
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	return actionResult{
		status: fmt.Sprintf("HTTP %d", resp.StatusCode),
		output: strings.TrimSpace(string(body)),
	}
}

func clearLog(logPath string) tea.Msg {
	log := logging.New(logging.Config{Enabled: true, Path: logPath})
	if err := log.Clear(); err != nil {
		return actionResult{status: "Error", output: err.Error()}
	}
	return actionResult{status: "Log limpo.", output: ""}
}

// tailAudit reads a handful of recent audit records from the stream. A
// short deadline bounds the read when the stream is idle.
func tailAudit(brokers, topic string) tea.Msg {
	client := kafka.NewClient(brokers)
	if !client.Enabled() {
		return actionResult{status: "Error", output: kafka.ErrDisabled.Error() + " (set -brokers)"}
	}
	reader := client.NewReader(topic, "greenn-admin-cli")
	defer reader.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	var lines []string
	for len(lines) < 10 {
		msg, err := reader.ReadMessage(ctx)
		if err != nil {
			break
		}
		lines = append(lines, string(msg.Value))
	}
	if len(lines) == 0 {
		return actionResult{status: fmt.Sprintf("Audit: %s vazio", topic), output: ""}
	}
	return actionResult{status: fmt.Sprintf("Audit: %s", topic), output: strings.Join(lines, "\n")}
}

func viewLog(logPath string) tea.Msg {
	data, err := os.ReadFile(logPath)
	if err != nil {
		return actionResult{status: "Error", output: err.Error()}
	}
	lines := strings.Split(strings.TrimRight(string(data), "\n"), "\n")
	const tail = 20
	if len(lines) > tail {
		lines = lines[len(lines)-tail:]
	}
	return actionResult{status: fmt.Sprintf("Log: %s", logPath), output: strings.Join(lines, "\n")}
}

func main() {
	baseURL := flag.String("base-url", "http://localhost:8080", "webhook service base URL")
	logPath := flag.String("log", "greenn.log", "event log file path")
	brokers := flag.String("brokers", "", "kafka brokers (CSV) for audit tailing")
	topic := flag.String("topic", "greenn.events", "audit stream topic")
	flag.Parse()

	p := tea.NewProgram(initialModel(*baseURL, *logPath, *brokers, *topic))
	if _, err := p.Run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}
