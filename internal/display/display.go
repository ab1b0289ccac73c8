// Package display renders workflow status for the terminal.
package display

import (
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/pablasso/forge/internal/dispatch"
	"github.com/pablasso/forge/internal/workflow"
)

// State holds the current live status line.
type State struct {
	Phase         workflow.Phase
	TaskNum       int
	TotalTasks    int
	TaskTitle     string
	Iteration     int
	MaxIterations int
	Step          string
	Activity      string
	StartTime     time.Time
}

// Display manages the terminal status line and prints phase snapshots above
// it.
type Display struct {
	mu       sync.Mutex
	writer   io.Writer
	state    State
	ticker   *time.Ticker
	done     chan struct{}
	wg       sync.WaitGroup // Ensures goroutine exits before Stop() returns
	active   bool
	lastLine string
}

// New creates a new Display writing to the given writer.
func New(w io.Writer) *Display {
	return &Display{
		writer: w,
		done:   make(chan struct{}),
	}
}

// Start begins the display update loop.
func (d *Display) Start() {
	d.mu.Lock()
	if d.active {
		d.mu.Unlock()
		return
	}
	d.active = true
	if d.state.StartTime.IsZero() {
		d.state.StartTime = time.Now()
	}
	d.done = make(chan struct{})
	d.ticker = time.NewTicker(time.Second)
	d.wg.Add(1)
	d.mu.Unlock()

	go d.updateLoop()
}

// Stop halts the display update loop and clears the status line.
// Blocks until the update goroutine has exited to prevent race conditions.
func (d *Display) Stop() {
	d.mu.Lock()
	if !d.active {
		d.mu.Unlock()
		return
	}
	d.active = false
	d.mu.Unlock()

	d.ticker.Stop()
	close(d.done)
	d.wg.Wait()
	d.clearLine()
}

// Render prints a status snapshot of st above the status line.
func (d *Display) Render(st *workflow.State) {
	d.mu.Lock()
	d.state.Phase = st.Phase
	d.state.TotalTasks = len(st.Tasks)
	d.mu.Unlock()
	d.PrintAbove("%s", RenderStatus(st))
}

// Step records which task and iteration the execute loop is on.
func (d *Display) Step(st *workflow.State, iteration int, step string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.state.Phase = st.Phase
	d.state.TaskNum = st.ActiveTask + 1
	d.state.TotalTasks = len(st.Tasks)
	d.state.TaskTitle = ""
	if task := st.Current(); task != nil {
		d.state.TaskTitle = task.Title
	}
	d.state.Iteration = iteration
	d.state.MaxIterations = st.Config.Execution.MaxIterations
	d.state.Step = step
	d.state.Activity = ""
}

// Event shows the latest tool activity of a running agent.
func (d *Display) Event(ev dispatch.Event) {
	if ev.Type != dispatch.EventToolUse {
		return
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	d.state.Activity = ev.ToolName
	if ev.ToolTarget != "" {
		d.state.Activity += " " + ev.ToolTarget
	}
}

// updateLoop periodically renders the status line.
func (d *Display) updateLoop() {
	defer d.wg.Done()
	d.render()
	for {
		select {
		case <-d.ticker.C:
			d.render()
		case <-d.done:
			return
		}
	}
}

// render draws the current status line.
func (d *Display) render() {
	d.mu.Lock()
	state := d.state
	lastLine := d.lastLine
	d.mu.Unlock()

	line := formatLine(state, time.Since(state.StartTime))

	// Only update if changed (reduces flicker)
	if line == lastLine {
		return
	}

	d.mu.Lock()
	d.lastLine = line
	d.mu.Unlock()

	fmt.Fprintf(d.writer, "\r\033[K%s", line)
}

// formatLine creates the status line string.
func formatLine(state State, elapsed time.Duration) string {
	if state.Phase == "" {
		return ""
	}
	timeStr := formatDuration(elapsed)
	if state.Phase != workflow.PhaseExecute || state.TotalTasks == 0 {
		return fmt.Sprintf("%s │ ⏱ %s", state.Phase, timeStr)
	}

	line := fmt.Sprintf("Task %d/%d: %s │ Iteration %d/%d │ %s │ ⏱ %s",
		state.TaskNum,
		state.TotalTasks,
		truncate(state.TaskTitle, 40),
		state.Iteration,
		state.MaxIterations,
		state.Step,
		timeStr)
	if state.Activity != "" {
		line += " │ " + truncate(state.Activity, 40)
	}
	return line
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-3]) + "..."
}

// clearLine clears the status line.
func (d *Display) clearLine() {
	fmt.Fprintf(d.writer, "\r\033[K")
}

// PrintAbove prints a message above the status line.
func (d *Display) PrintAbove(format string, args ...interface{}) {
	d.clearLine()
	fmt.Fprintf(d.writer, format+"\n", args...)
	d.mu.Lock()
	d.lastLine = ""
	active := d.active
	d.mu.Unlock()
	if active {
		d.render()
	}
}

func formatDuration(d time.Duration) string {
	d = d.Round(time.Second)
	h := d / time.Hour
	d -= h * time.Hour
	m := d / time.Minute
	d -= m * time.Minute
	s := d / time.Second

	if h > 0 {
		return fmt.Sprintf("%02d:%02d:%02d", h, m, s)
	}
	return fmt.Sprintf("%02d:%02d", m, s)
}
