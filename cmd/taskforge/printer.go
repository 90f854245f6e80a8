package main

import (
	"fmt"
	"io"
	"strings"

	"github.com/fatih/color"

	"github.com/aristath/taskforge/internal/events"
	"github.com/aristath/taskforge/internal/scheduler"
)

// printer writes bus events as colored lines.
type printer struct {
	out     io.Writer
	details bool // print LogEvent details below the message
}

var (
	colorInfo     = color.New(color.FgWhite)
	colorSuccess  = color.New(color.FgGreen)
	colorWarning  = color.New(color.FgYellow)
	colorError    = color.New(color.FgRed)
	colorCritique = color.New(color.FgMagenta)
	colorActor    = color.New(color.Bold)
	colorDim      = color.New(color.FgHiBlack)
)

func severityColor(s events.Severity) *color.Color {
	switch s {
	case events.SeveritySuccess:
		return colorSuccess
	case events.SeverityWarning:
		return colorWarning
	case events.SeverityError:
		return colorError
	case events.SeverityCritique:
		return colorCritique
	}
	return colorInfo
}

// drain prints events until the channel is closed.
func (p *printer) drain(sub <-chan events.Event) {
	for evt := range sub {
		p.print(evt)
	}
}

func (p *printer) print(evt events.Event) {
	switch e := evt.(type) {
	case events.LogEvent:
		name := e.ActorName
		if name == "" {
			name = string(e.Actor)
		}
		fmt.Fprintf(p.out, "%s %s %s\n",
			colorDim.Sprint(e.Timestamp.Format("15:04:05")),
			colorActor.Sprintf("[%s]", name),
			severityColor(e.Severity).Sprint(e.Message),
		)
		if p.details && e.Details != "" {
			fmt.Fprintln(p.out, colorDim.Sprint(indent(e.Details)))
		}

	case events.TaskStatusEvent:
		c := colorInfo
		switch e.To {
		case scheduler.TaskCompleted:
			c = colorSuccess
		case scheduler.TaskFailed:
			c = colorError
		}
		fmt.Fprintf(p.out, "%s %s %s\n",
			colorDim.Sprint(e.Timestamp.Format("15:04:05")),
			colorActor.Sprintf("[%s]", e.ID),
			c.Sprintf("%s -> %s", statusName(e.From), e.To),
		)

	case events.StageEvent:
		fmt.Fprintln(p.out, colorActor.Sprintf("== %s ==", e.To))
	}
}

func statusName(s scheduler.TaskStatus) string {
	if s == "" {
		return "new"
	}
	return string(s)
}

func indent(s string) string {
	return "    " + strings.ReplaceAll(strings.TrimSpace(s), "\n", "\n    ")
}
