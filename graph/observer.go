package graph

// Observer receives engine events. Arguments are copies or read-only records;
// implementations must not block for long since they run on the walking goroutine.
type Observer interface {
	ExecutionStarted(exec *GraphExecution)
	// ExecutionStopped is called whenever a walk stops: completed, failed or waiting for input.
	ExecutionStopped(exec *GraphExecution)
	NodeFinished(executionID string, rec *NodeExecution)
	CheckpointCreated(cp *Checkpoint)
	InputRequested(req *HumanInputRequest)
	InputResolved(req *HumanInputRequest)
	ExecutionsEvicted(n int)
}

// NopObserver implements Observer with no-ops. Embed it to implement a subset.
type NopObserver struct{}

func (NopObserver) ExecutionStarted(*GraphExecution)    {}
func (NopObserver) ExecutionStopped(*GraphExecution)    {}
func (NopObserver) NodeFinished(string, *NodeExecution) {}
func (NopObserver) CheckpointCreated(*Checkpoint)       {}
func (NopObserver) InputRequested(*HumanInputRequest)   {}
func (NopObserver) InputResolved(*HumanInputRequest)    {}
func (NopObserver) ExecutionsEvicted(int)               {}

type observers []Observer

func (o observers) ExecutionStarted(exec *GraphExecution) {
	for _, ob := range o {
		ob.ExecutionStarted(exec)
	}
}

func (o observers) ExecutionStopped(exec *GraphExecution) {
	for _, ob := range o {
		ob.ExecutionStopped(exec)
	}
}

func (o observers) NodeFinished(executionID string, rec *NodeExecution) {
	for _, ob := range o {
		ob.NodeFinished(executionID, rec)
	}
}

func (o observers) CheckpointCreated(cp *Checkpoint) {
	for _, ob := range o {
		ob.CheckpointCreated(cp)
	}
}

func (o observers) InputRequested(req *HumanInputRequest) {
	for _, ob := range o {
		ob.InputRequested(req)
	}
}

func (o observers) InputResolved(req *HumanInputRequest) {
	for _, ob := range o {
		ob.InputResolved(req)
	}
}

func (o observers) ExecutionsEvicted(n int) {
	for _, ob := range o {
		ob.ExecutionsEvicted(n)
	}
}
