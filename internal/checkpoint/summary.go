package checkpoint

import "github.com/pablasso/forge/internal/workflow"

// Summary is what the operator sees at a checkpoint.
type Summary struct {
	Done                  int
	Total                 int
	SpentUSD              float64
	EstimatedRemainingUSD float64
	HardLimitUSD          float64
	NextTask              string
	Triggers              []Trigger
}

// Summarize builds the checkpoint summary. Remaining cost is the average cost
// of completed tasks times the number of unfinished tasks.
func Summarize(st *workflow.State, thresholds Thresholds, triggers []Trigger) Summary {
	s := Summary{
		Done:         st.CountTerminal(),
		Total:        len(st.Tasks),
		SpentUSD:     st.SpentUSD,
		HardLimitUSD: thresholds.HardLimitUSD,
		Triggers:     triggers,
	}

	var completed int
	var cost float64
	for _, t := range st.Tasks {
		if t.Status == workflow.TaskComplete {
			completed++
			cost += t.CostUSD
		}
	}
	if completed > 0 {
		s.EstimatedRemainingUSD = cost / float64(completed) * float64(s.Total-s.Done)
	}

	for i := st.ActiveTask; i >= 0 && i < len(st.Tasks); i++ {
		if !st.Tasks[i].Status.IsTerminal() {
			s.NextTask = st.Tasks[i].Title
			break
		}
	}
	return s
}
