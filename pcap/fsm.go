package pcap

import (
	"github.com/smallnest/gofsm"
	slog "github.com/vearne/simplelog"
)

// Connection lifecycle, seen from the server side of the captured
// conversation.
const (
	stateListen = "LISTEN"
	// SYN seen from the client
	stateSynReceived = "SYN-RECEIVED"
	// SYN+ACK seen from the server
	stateSynAcked    = "SYN-ACKED"
	stateEstablished = "ESTABLISHED"
	// FIN seen from one side
	stateCloseWait = "CLOSE-WAIT"
	stateClosed    = "CLOSED"
)

const (
	eventSYN     = "SYN"
	eventSYNACK  = "SYN-ACK"
	eventACK     = "ACK"
	eventFIN     = "FIN"
	eventRST     = "RST"
	eventPayload = "PAYLOAD"
)

type connEventProcessor struct{}

func (p *connEventProcessor) Action(action string, fromState string, toState string, args []interface{}) error {
	c := args[0].(*conversation)
	switch action {
	case "change-state":
		slog.Debug("conversation %v: [%v] -> [%v]", c.key.String(), fromState, toState)
	case "do-nothing":
	default:
		slog.Debug("conversation %v: unknown action %v", c.key.String(), action)
	}
	return nil
}

func (p *connEventProcessor) OnActionFailure(action string, fromState string, toState string, args []interface{}, err error) {
}

func (p *connEventProcessor) OnExit(fromState string, args []interface{}) {
}

func (p *connEventProcessor) OnEnter(toState string, args []interface{}) {
	// args: *conversation, *netPkg, *Replayer
	c := args[0].(*conversation)
	c.state = toState

	switch toState {
	case stateEstablished:
		r := args[2].(*Replayer)
		pkg := args[1].(*netPkg)
		r.establish(c, pkg)
	case stateCloseWait:
		r := args[2].(*Replayer)
		pkg := args[1].(*netPkg)
		r.halfClose(c, pkg)
	case stateClosed:
		r := args[2].(*Replayer)
		pkg := args[1].(*netPkg)
		r.finishConversation(c, pkg.Timestamp)
	}
}

// initConnFSM builds the state machine every conversation runs through.
// Capture files routinely start mid-connection, so a payload packet in
// LISTEN establishes the conversation without a handshake.
func initConnFSM(processor fsm.EventProcessor) *fsm.StateMachine {
	delegate := &fsm.DefaultDelegate{P: processor}
	transitions := []fsm.Transition{
		{From: stateListen, Event: eventSYN, To: stateSynReceived, Action: "change-state"},
		{From: stateSynReceived, Event: eventSYNACK, To: stateSynAcked, Action: "change-state"},
		{From: stateSynAcked, Event: eventACK, To: stateEstablished, Action: "change-state"},
		{From: stateSynAcked, Event: eventPayload, To: stateEstablished, Action: "change-state"},

		{From: stateListen, Event: eventPayload, To: stateEstablished, Action: "change-state"},

		{From: stateSynReceived, Event: eventSYN, To: stateSynReceived, Action: "do-nothing"},
		{From: stateSynAcked, Event: eventSYNACK, To: stateSynAcked, Action: "do-nothing"},
		{From: stateListen, Event: eventACK, To: stateListen, Action: "do-nothing"},
		{From: stateSynReceived, Event: eventACK, To: stateSynReceived, Action: "do-nothing"},
		{From: stateEstablished, Event: eventACK, To: stateEstablished, Action: "do-nothing"},
		{From: stateEstablished, Event: eventPayload, To: stateEstablished, Action: "do-nothing"},

		{From: stateEstablished, Event: eventFIN, To: stateCloseWait, Action: "change-state"},
		{From: stateCloseWait, Event: eventACK, To: stateCloseWait, Action: "do-nothing"},
		{From: stateCloseWait, Event: eventPayload, To: stateCloseWait, Action: "do-nothing"},
		{From: stateCloseWait, Event: eventFIN, To: stateClosed, Action: "change-state"},

		{From: stateListen, Event: eventRST, To: stateClosed, Action: "change-state"},
		{From: stateSynReceived, Event: eventRST, To: stateClosed, Action: "change-state"},
		{From: stateSynAcked, Event: eventRST, To: stateClosed, Action: "change-state"},
		{From: stateEstablished, Event: eventRST, To: stateClosed, Action: "change-state"},
		{From: stateCloseWait, Event: eventRST, To: stateClosed, Action: "change-state"},
	}

	return fsm.NewStateMachine(delegate, transitions...)
}
