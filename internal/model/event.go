package model

// AnomalyEvent is one decoded classification line emitted by a worker.
type AnomalyEvent struct {
	Interface   string
	IsAnomalous bool
	Label       string
}
