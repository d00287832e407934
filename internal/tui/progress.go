// Package tui renders long queue runs and command summaries in the terminal.
package tui

import (
	"context"
	"fmt"
	"strings"

	tea "github.com/charmbracelet/bubbletea"
)

// Update is a progress report from a running job.
type Update struct {
	Done   int
	Total  int
	Detail string
}

// Job is the work behind a progress view. report may be called from any goroutine.
type Job func(ctx context.Context, report func(Update)) (summary string, err error)

type updateMsg Update

type doneMsg struct {
	summary string
	err     error
}

// Progress is a bubbletea model that runs a Job and draws its progress.
// q or ctrl+c cancels the job and waits for it to stop.
type Progress struct {
	title    string
	job      Job
	ctx      context.Context
	cancel   context.CancelFunc
	updates  chan Update
	finished chan doneMsg

	current    Update
	summary    string
	err        error
	done       bool
	cancelling bool
	width      int
}

func NewProgress(ctx context.Context, title string, job Job) *Progress {
	ctx, cancel := context.WithCancel(ctx)
	return &Progress{
		title:    title,
		job:      job,
		ctx:      ctx,
		cancel:   cancel,
		updates:  make(chan Update, 16),
		finished: make(chan doneMsg, 1),
		width:    40,
	}
}

func (p *Progress) Init() tea.Cmd {
	go func() {
		summary, err := p.job(p.ctx, func(u Update) {
			select {
			case p.updates <- u:
			case <-p.ctx.Done():
			}
		})
		p.finished <- doneMsg{summary: summary, err: err}
	}()
	return p.wait()
}

// wait delivers the next update, or the result once the job returns.
func (p *Progress) wait() tea.Cmd {
	return func() tea.Msg {
		select {
		case u := <-p.updates:
			return updateMsg(u)
		case d := <-p.finished:
			return d
		}
	}
}

func (p *Progress) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch m := msg.(type) {
	case tea.KeyMsg:
		switch m.String() {
		case "q", "ctrl+c", "esc":
			if !p.done {
				p.cancelling = true
				p.cancel()
			}
		}
	case tea.WindowSizeMsg:
		p.width = min(max(m.Width-20, 10), 60)
	case updateMsg:
		p.current = Update(m)
		return p, p.wait()
	case doneMsg:
		p.done = true
		p.summary = m.summary
		p.err = m.err
		p.cancel()
		return p, tea.Quit
	}
	return p, nil
}

func (p *Progress) View() string {
	var b strings.Builder
	b.WriteString(titleStyle.Render(p.title))
	b.WriteString("\n\n")
	b.WriteString(Bar(p.current.Done, p.current.Total, p.width))
	fmt.Fprintf(&b, " %d/%d\n", p.current.Done, p.current.Total)
	if p.current.Detail != "" {
		b.WriteString(labelStyle.Render(p.current.Detail))
		b.WriteString("\n")
	}
	switch {
	case p.done && p.err != nil:
		b.WriteString(Error(p.err) + "\n")
	case p.done:
		b.WriteString(okStyle.Render(p.summary) + "\n")
	case p.cancelling:
		b.WriteString(warnStyle.Render("stopping after the current batch...") + "\n")
	default:
		b.WriteString(labelStyle.Render("q to stop") + "\n")
	}
	return b.String()
}

// Result returns what the job returned. It is only meaningful after the program exits.
func (p *Progress) Result() (string, error) { return p.summary, p.err }

// Bar draws a fixed-width progress bar.
func Bar(done, total, width int) string {
	if width <= 0 {
		width = 40
	}
	filled := 0
	if total > 0 {
		filled = min(done*width/total, width)
	}
	return barStyle.Render(strings.Repeat("█", filled)) + strings.Repeat("░", width-filled)
}

// RunProgress runs job under a progress view until it finishes.
func RunProgress(ctx context.Context, title string, job Job) (string, error) {
	p := NewProgress(ctx, title, job)
	if _, err := tea.NewProgram(p, tea.WithContext(ctx)).Run(); err != nil {
		return "", err
	}
	return p.Result()
}
