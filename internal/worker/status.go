package worker

// Status is a point-in-time view of a worker.
type Status struct {
	ID          string `json:"id"`
	DisplayName string `json:"display_name"`
	State       State  `json:"state"`
	Isolation   string `json:"isolation"`
	InFlight    string `json:"in_flight,omitempty"`
	Processed   int64  `json:"processed"`
	Failed      int64  `json:"failed"`
	Threads     int64  `json:"executor_threads"`
}

func (w *Worker) Status() Status {
	w.mu.Lock()
	defer w.mu.Unlock()

	s := Status{
		ID:          w.cfg.ID,
		DisplayName: w.cfg.DisplayName,
		State:       w.state,
		Isolation:   string(w.cfg.Isolation),
		Processed:   w.processed,
		Failed:      w.failed,
	}
	if w.pending != nil {
		s.InFlight = w.pending.class
	}
	if w.isolator != nil {
		s.Threads = w.isolator.Threads()
	}
	return s
}
