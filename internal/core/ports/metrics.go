package ports

// MetricsCollector receives protocol events for export. Implementations
// must be safe for concurrent use and cheap enough for frame hot paths.
type MetricsCollector interface {
	SessionOpened()
	SessionClosed(reason string)
	FrameSent()
	FrameReceived()
	FrameRejected(code string)
	ControlDelivered()
	ControlRetransmit()
	RecoveryActivated(reason string)
	DegradedSafeEntered()
	ObserveLossRatio(ratio float64)
}

// NopMetrics discards all events. Used by tests and by callers that do
// not enable monitoring.
type NopMetrics struct{}

func (NopMetrics) SessionOpened()           {}
func (NopMetrics) SessionClosed(string)     {}
func (NopMetrics) FrameSent()               {}
func (NopMetrics) FrameReceived()           {}
func (NopMetrics) FrameRejected(string)     {}
func (NopMetrics) ControlDelivered()        {}
func (NopMetrics) ControlRetransmit()       {}
func (NopMetrics) RecoveryActivated(string) {}
func (NopMetrics) DegradedSafeEntered()     {}
func (NopMetrics) ObserveLossRatio(float64) {}
