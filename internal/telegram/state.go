package telegram

// State is the progress of a single request
type State int

const (
	StateIdle State = iota
	StateConnecting
	StateSendingHeaders
	StateSendingBody
	StateWaitingHeaders
	StateReadingBody
	StateParsing
	StateDone
	StateError
)

var stateNames = [...]string{
	StateIdle:           "idle",
	StateConnecting:     "connecting",
	StateSendingHeaders: "sending_headers",
	StateSendingBody:    "sending_body",
	StateWaitingHeaders: "waiting_headers",
	StateReadingBody:    "reading_body",
	StateParsing:        "parsing",
	StateDone:           "done",
	StateError:          "error",
}

func (s State) String() string {
	if s < 0 || int(s) >= len(stateNames) {
		return "invalid"
	}
	return stateNames[s]
}

// Terminal reports whether the request has finished
func (s State) Terminal() bool {
	return s == StateDone || s == StateError
}
