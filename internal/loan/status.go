package loan

import (
	"fmt"

	"github.com/frahmantamala/asset-loan/internal"
)

type Status string

const (
	StatusDraft               Status = "draft"
	StatusSubmitted           Status = "submitted"
	StatusUnderReview         Status = "under_review"
	StatusPendingInfo         Status = "pending_info"
	StatusApproved            Status = "approved"
	StatusRejected            Status = "rejected"
	StatusReadyIssuance       Status = "ready_issuance"
	StatusIssued              Status = "issued"
	StatusInUse               Status = "in_use"
	StatusReturnDue           Status = "return_due"
	StatusReturning           Status = "returning"
	StatusReturned            Status = "returned"
	StatusCompleted           Status = "completed"
	StatusOverdue             Status = "overdue"
	StatusMaintenanceRequired Status = "maintenance_required"
)

var AllStatuses = []Status{
	StatusDraft, StatusSubmitted, StatusUnderReview, StatusPendingInfo,
	StatusApproved, StatusRejected, StatusReadyIssuance, StatusIssued,
	StatusInUse, StatusReturnDue, StatusReturning, StatusReturned,
	StatusCompleted, StatusOverdue, StatusMaintenanceRequired,
}

// transitions is the complete edge list of the lifecycle. Anything not listed
// here is rejected.
var transitions = map[Status][]Status{
	StatusDraft:               {StatusSubmitted},
	StatusSubmitted:           {StatusUnderReview},
	StatusUnderReview:         {StatusPendingInfo, StatusApproved, StatusRejected},
	StatusPendingInfo:         {StatusUnderReview},
	StatusApproved:            {StatusReadyIssuance, StatusReturning},
	StatusReadyIssuance:       {StatusIssued, StatusReturning},
	StatusIssued:              {StatusInUse, StatusReturning},
	StatusInUse:               {StatusReturnDue, StatusReturning},
	StatusReturnDue:           {StatusOverdue, StatusReturning, StatusInUse},
	StatusOverdue:             {StatusReturning},
	StatusReturning:           {StatusReturned},
	StatusReturned:            {StatusMaintenanceRequired, StatusCompleted},
	StatusMaintenanceRequired: {StatusCompleted},
}

func ParseStatus(v string) (Status, error) {
	for _, s := range AllStatuses {
		if string(s) == v {
			return s, nil
		}
	}
	return "", internal.NewValidationFieldError("status", fmt.Sprintf("unknown status %q", v), internal.ErrCodeInvalidStatus)
}

func (s Status) IsTerminal() bool {
	return s == StatusRejected || s == StatusCompleted
}

// IsActiveLoan reports whether the application holds or has reserved assets.
func (s Status) IsActiveLoan() bool {
	switch s {
	case StatusApproved, StatusReadyIssuance, StatusIssued, StatusInUse, StatusReturnDue, StatusOverdue:
		return true
	}
	return false
}

func (s Status) CanTransitionTo(to Status) bool {
	for _, next := range transitions[s] {
		if next == to {
			return true
		}
	}
	return false
}

// Transition validates one edge of the lifecycle.
func Transition(from, to Status) error {
	if !from.CanTransitionTo(to) {
		return internal.NewInvalidTransitionError(string(from), string(to),
			fmt.Sprintf("no transition from %s to %s", from, to))
	}
	return nil
}

type Command string

const (
	CommandSubmit          Command = "submit"
	CommandApprove         Command = "approve"
	CommandReject          Command = "reject"
	CommandRequestInfo     Command = "request_info"
	CommandProvideInfo     Command = "provide_info"
	CommandPrepareIssuance Command = "prepare_issuance"
	CommandIssue           Command = "issue"
	CommandStartReturn     Command = "start_return"
	CommandReturn          Command = "return"
	CommandExtend          Command = "extend"
	CommandRecall          Command = "recall"
	CommandConfirmDamage   Command = "confirm_damage"
	CommandComplete        Command = "complete"
)

var AllCommands = []Command{
	CommandSubmit, CommandApprove, CommandReject, CommandRequestInfo,
	CommandProvideInfo, CommandPrepareIssuance, CommandIssue, CommandStartReturn,
	CommandReturn, CommandExtend, CommandRecall, CommandConfirmDamage, CommandComplete,
}

type commandRule struct {
	from   []Status
	target Status
}

var commands = map[Command]commandRule{
	CommandSubmit:          {from: []Status{StatusDraft}, target: StatusSubmitted},
	CommandApprove:         {from: []Status{StatusUnderReview}, target: StatusApproved},
	CommandReject:          {from: []Status{StatusUnderReview}, target: StatusRejected},
	CommandRequestInfo:     {from: []Status{StatusUnderReview}, target: StatusPendingInfo},
	CommandProvideInfo:     {from: []Status{StatusPendingInfo}, target: StatusUnderReview},
	CommandPrepareIssuance: {from: []Status{StatusApproved}, target: StatusReadyIssuance},
	CommandIssue:           {from: []Status{StatusReadyIssuance}, target: StatusIssued},
	CommandStartReturn:     {from: []Status{StatusInUse, StatusReturnDue, StatusOverdue}, target: StatusReturning},
	CommandReturn:          {from: []Status{StatusInUse, StatusReturnDue, StatusOverdue, StatusReturning}, target: StatusReturned},
	CommandExtend:          {from: []Status{StatusInUse, StatusReturnDue}, target: StatusInUse},
	CommandRecall: {
		from:   []Status{StatusApproved, StatusReadyIssuance, StatusIssued, StatusInUse, StatusReturnDue, StatusOverdue},
		target: StatusReturning,
	},
	CommandConfirmDamage: {from: []Status{StatusReturned}, target: StatusMaintenanceRequired},
	CommandComplete:      {from: []Status{StatusReturned, StatusMaintenanceRequired}, target: StatusCompleted},
}

// Target is the state a successful command leads to.
func (c Command) Target() Status {
	return commands[c].target
}

func (c Command) PermittedFrom(s Status) bool {
	for _, from := range commands[c].from {
		if from == s {
			return true
		}
	}
	return false
}

// CheckCommand fails with InvalidTransition when the command is not legal in
// the current state.
func CheckCommand(c Command, current Status) error {
	rule, ok := commands[c]
	if !ok {
		return internal.NewValidationFieldError("command", fmt.Sprintf("unknown command %q", c), internal.ErrCodeValidationFailed)
	}
	if !c.PermittedFrom(current) {
		return internal.NewInvalidTransitionError(string(current), string(rule.target),
			fmt.Sprintf("%s is not allowed while the application is %s", c, current))
	}
	return nil
}
