package workflow

import "fmt"

// State is one phase of the edit → mark → measure → compare lifecycle. The
// wire values keep the names the technicians know from the desktop tool.
type State string

const (
	// StateInitial means no project is loaded.
	StateInitial State = "inicial"
	// StateEditing means a project is open for viewing/adjusting.
	StateEditing State = "edicao"
	// StateMarking means points are being placed on the board photo.
	StateMarking State = "marcacao"
	// StateMeasuring means readings are being acquired from the device.
	StateMeasuring State = "medicao"
	// StateComparing means the divergence report is available.
	StateComparing State = "comparacao"
)

// DisplayName returns the technician-facing name of the state.
func (s State) DisplayName() string {
	switch s {
	case StateInitial:
		return "Inicial"
	case StateEditing:
		return "Edição"
	case StateMarking:
		return "Marcação"
	case StateMeasuring:
		return "Medição"
	case StateComparing:
		return "Comparação"
	}
	return string(s)
}

// Valid reports whether s is a known state.
func (s State) Valid() bool {
	switch s {
	case StateInitial, StateEditing, StateMarking, StateMeasuring, StateComparing:
		return true
	}
	return false
}

// StateError is returned for an illegal transition or for an operation that
// is not permitted in the current state. The controller state is unchanged.
type StateError struct {
	From   State
	To     State
	Reason string
}

func (e *StateError) Error() string {
	if e.To != "" {
		if e.Reason != "" {
			return fmt.Sprintf("cannot transition from %s to %s: %s", e.From, e.To, e.Reason)
		}
		return fmt.Sprintf("transition from %s to %s not allowed", e.From, e.To)
	}
	return fmt.Sprintf("operation not allowed in state %s: %s", e.From, e.Reason)
}
