package worker

import "github.com/corbalt/collide"

// Result is one Worker's final report, returned by driver.Process once a
// run's last queue position has been reached (spec.md §4.4 "Reports
// per-worker results").
type Result struct {
	WorkerID  int
	Responses []*collide.Response
}

// ResultOf snapshots w's current responses into a Result.
func ResultOf(w *Worker) Result {
	return Result{WorkerID: w.id, Responses: w.Responses()}
}
