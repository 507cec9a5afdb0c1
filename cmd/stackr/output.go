package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"

	"github.com/loykin/stackr/pkg/client"
)

var (
	colorRunning  = lipgloss.Color("42")
	colorStarting = lipgloss.Color("214")
	colorError    = lipgloss.Color("196")
	colorStopped  = lipgloss.Color("245")
	colorBorder   = lipgloss.Color("240")
)

func printJSON(w io.Writer, v any) error {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(w, string(b))
	return err
}

func absPath(p string) (string, error) {
	if len(p) > 1 && p[:2] == "~/" {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", err
		}
		p = filepath.Join(home, p[2:])
	}
	return filepath.Abs(p)
}

func statusStyle(r *lipgloss.Renderer, status string) lipgloss.Style {
	s := r.NewStyle()
	switch status {
	case "running":
		return s.Foreground(colorRunning)
	case "starting":
		return s.Foreground(colorStarting)
	case "error":
		return s.Foreground(colorError).Bold(true)
	default:
		return s.Foreground(colorStopped)
	}
}

// renderTable draws rows with the status column colored. Colors are dropped
// automatically when w is not a terminal.
func renderTable(w io.Writer, headers []string, rows [][]string, statusCol int) {
	r := lipgloss.NewRenderer(w)
	cell := r.NewStyle().Padding(0, 1)
	t := table.New().
		Border(lipgloss.NormalBorder()).
		BorderStyle(r.NewStyle().Foreground(colorBorder)).
		Headers(headers...).
		Rows(rows...).
		StyleFunc(func(row, col int) lipgloss.Style {
			if row == table.HeaderRow {
				return cell.Bold(true)
			}
			if col == statusCol && row >= 0 && row < len(rows) {
				return statusStyle(r, rows[row][col]).Padding(0, 1)
			}
			return cell
		})
	_, _ = fmt.Fprintln(w, t.Render())
}

func printProjects(w io.Writer, list []client.ProjectStatus) {
	if len(list) == 0 {
		_, _ = fmt.Fprintln(w, "No projects. Add one with 'stackr project add <path>'.")
		return
	}
	rows := make([][]string, 0, len(list))
	for _, p := range list {
		domain := p.Domain
		if domain == "" {
			domain = "localhost"
		}
		status := p.Status
		if p.Missing {
			status += " (missing)"
		}
		rows = append(rows, []string{p.ID, p.Name, p.Kind, strconv.Itoa(p.Port), domain, p.Version, status, p.Path})
	}
	renderTable(w, []string{"ID", "NAME", "KIND", "PORT", "DOMAIN", "VERSION", "STATUS", "PATH"}, rows, 6)
	for _, p := range list {
		if p.Error != "" {
			_, _ = fmt.Fprintf(w, "%s: %s\n", p.ID, p.Error)
		}
	}
}

func printServices(w io.Writer, list []client.ServiceStatus) {
	rows := make([][]string, 0, len(list))
	for _, s := range list {
		pid := ""
		if s.PID > 0 {
			pid = strconv.Itoa(s.PID)
		}
		rows = append(rows, []string{s.ID, s.Name, s.Runtime, strconv.Itoa(s.Port), s.Status, pid})
	}
	renderTable(w, []string{"ID", "NAME", "RUNTIME", "PORT", "STATUS", "PID"}, rows, 4)
}

func printVersions(w io.Writer, list []client.Version) {
	if len(list) == 0 {
		_, _ = fmt.Fprintln(w, "No runtime versions installed.")
		return
	}
	rows := make([][]string, 0, len(list))
	for _, v := range list {
		active := ""
		if v.Active {
			active = "*"
		}
		rows = append(rows, []string{active, v.Name, v.Runtime, v.Dir})
	}
	renderTable(w, []string{"", "NAME", "RUNTIME", "DIR"}, rows, -1)
}

func printEntry(w io.Writer, e client.StatusEntry) {
	line := fmt.Sprintf("%s %s", e.ID, e.Status)
	if e.PID > 0 {
		line += fmt.Sprintf(" pid=%d", e.PID)
	}
	if e.Error != "" {
		line += " error=" + strconv.Quote(e.Error)
	}
	_, _ = fmt.Fprintln(w, line)
}

func printEvent(w io.Writer, ev client.Event) {
	line := fmt.Sprintf("%s %s %s -> %s", ev.At.Local().Format("15:04:05"), ev.ID, ev.From, ev.To)
	if ev.PID > 0 {
		line += fmt.Sprintf(" pid=%d", ev.PID)
	}
	if ev.Error != "" {
		line += " error=" + strconv.Quote(ev.Error)
	}
	_, _ = fmt.Fprintln(w, line)
}
