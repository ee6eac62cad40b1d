package agentloop

// State is the control loop's position in its state machine.
type State string

const (
	StateAwaitingModel State = "AWAITING_MODEL"
	StateExplaining    State = "EXPLAINING"
	StateDispatching   State = "DISPATCHING"
	StateTerminated    State = "TERMINATED"
)

// Outcome records why a run reached TERMINATED.
type Outcome string

const (
	// OutcomeCompleted means the model answered without requesting tools.
	OutcomeCompleted Outcome = "completed"
	// OutcomeTerminated means the model invoked the terminate sentinel.
	OutcomeTerminated Outcome = "terminated"
	// OutcomeRepeatedToolCall means the repetition guard fired.
	OutcomeRepeatedToolCall Outcome = "repeated_tool_call"
	// OutcomeStepBudgetExceeded means the model invocation budget ran out.
	OutcomeStepBudgetExceeded Outcome = "step_budget_exceeded"
	// OutcomeAdapterFailure means the model adapter returned an error.
	OutcomeAdapterFailure Outcome = "adapter_failure"
)

// Fixed tool-result contents written by the loop itself.
const (
	ResultAgentTerminated = "Agent terminated."
	ResultRepeatedCall    = "Error: Repeated tool call."
	invalidToolFormat     = "Error: Invalid tool: %s"
	toolErrorFormat       = "Error: %s"
	placeholderFormat     = "Tool %s was called with ID %s"
)
