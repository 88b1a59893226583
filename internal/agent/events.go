package agent

// Event is one frame of an agent stream. Consumers receive an ordered
// sequence over a channel; Done is always the final frame of a
// completed stream.
type Event interface {
	event()
}

// Status is progress text shown while the agent works.
type Status struct {
	Text string
}

// Text is a conversational reply.
type Text struct {
	Content string
}

// ToolCallEvent reports that the agent is invoking a tool.
type ToolCallEvent struct {
	Tool   string
	Params map[string]interface{}
}

// ToolResultEvent carries the outcome of a data tool.
type ToolResultEvent struct {
	Result ToolResult
}

// ProposalEvent asks the operator to approve an action. Exactly one of
// Command, Port or IP is meaningful depending on Action.
type ProposalEvent struct {
	Action  string
	Command string
	Reason  string
	Port    int
	IP      string
}

// TerminalLine is one line of output from an approved command.
type TerminalLine struct {
	Line string
}

// TerminalDone closes a command's output stream with the full output.
type TerminalDone struct {
	Output     string
	NeedsInput bool
}

// TerminalInputNeeded pauses an execution that wants a password before
// it can run.
type TerminalInputNeeded struct {
	Prompt    string
	Command   string
	InputType string
}

// ErrorEvent reports a failure inside the stream.
type ErrorEvent struct {
	Message string
}

// Done terminates the stream.
type Done struct{}

func (Status) event()              {}
func (Text) event()                {}
func (ToolCallEvent) event()       {}
func (ToolResultEvent) event()     {}
func (ProposalEvent) event()       {}
func (TerminalLine) event()        {}
func (TerminalDone) event()        {}
func (TerminalInputNeeded) event() {}
func (ErrorEvent) event()          {}
func (Done) event()                {}
