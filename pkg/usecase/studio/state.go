package studio

import "github.com/m-mizutani/veoclip/pkg/model"

type StateKind string

const (
	StateIdle       StateKind = "idle"
	StateSubmitting StateKind = "submitting"
	StateReady      StateKind = "ready"
	StateFailed     StateKind = "failed"
)

// State is one observable state of the studio.
//
//   - Idle: Message holds the last validation message, if any
//   - Submitting: Message holds the latest progress report
//   - Ready: Ref is the displayable video (live reference or data URL);
//     Entry is set when the video was selected from the history
//   - Failed: Message holds the error to show
type State struct {
	Kind    StateKind
	Message string
	Ref     string
	Entry   *model.HistoryEntry
}
