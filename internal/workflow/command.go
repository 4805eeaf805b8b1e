package workflow

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/frahmantamala/asset-loan/internal"
	"github.com/frahmantamala/asset-loan/internal/approvalmatrix"
	"github.com/frahmantamala/asset-loan/internal/core/events"
	"github.com/frahmantamala/asset-loan/internal/loan"
	"github.com/frahmantamala/asset-loan/internal/sla"
)

// causeTick labels transitions driven by the clock rather than a caller.
const causeTick = "tick"

// command is the working state of one orchestrator command inside its
// transaction. Nothing it does is visible until the transaction commits.
type command struct {
	o          *Orchestrator
	ctx        context.Context
	repos      Repos
	app        *loan.Application
	now        time.Time
	actor      string
	events     []*events.BaseEvent
	skipUpdate bool
}

func (o *Orchestrator) newCommand(ctx context.Context, r Repos, app *loan.Application, now time.Time) *command {
	return &command{
		o:     o,
		ctx:   ctx,
		repos: r,
		app:   app,
		now:   now,
		actor: internal.ActorIDFromContext(ctx),
	}
}

func (c *command) actorOrSystem() string {
	if c.actor == "" {
		return internal.SystemActor
	}
	return c.actor
}

func (c *command) emit(eventType string, payload interface{}) error {
	e, err := events.NewLoanEvent(eventType, c.app.ID, payload, c.now)
	if err != nil {
		return err
	}
	c.events = append(c.events, e)
	return nil
}

func (c *command) move(to loan.Status, cause, notes string) error {
	from := c.app.Status
	if err := c.app.MoveTo(to, c.now); err != nil {
		return err
	}
	return c.emit(events.EventTypeStatusChanged, events.StatusChanged{
		ApplicationID: c.app.ID,
		From:          string(from),
		To:            string(to),
		Command:       cause,
		ActorID:       c.actorOrSystem(),
		Notes:         notes,
		ChangedAt:     c.now,
	})
}

func (c *command) record(tx *loan.Transaction) error {
	if err := c.repos.Loans.AppendTransaction(c.ctx, tx); err != nil {
		return err
	}
	payload := events.TransactionRecorded{
		TransactionID: tx.ID,
		ApplicationID: tx.ApplicationID,
		Type:          string(tx.Type),
		ActorID:       tx.ActorID,
		Notes:         tx.Notes,
		OccurredAt:    tx.OccurredAt,
	}
	if tx.AssetID != nil {
		payload.AssetID = *tx.AssetID
	}
	if tx.ConditionBefore != nil {
		payload.ConditionBefore = string(*tx.ConditionBefore)
	}
	if tx.ConditionAfter != nil {
		payload.ConditionAfter = string(*tx.ConditionAfter)
	}
	return c.emit(events.EventTypeTransactionRecorded, payload)
}

func (c *command) commit() error {
	if !c.skipUpdate {
		if err := c.repos.Loans.Update(c.ctx, c.app); err != nil {
			return err
		}
	}
	if len(c.events) == 0 {
		return nil
	}
	evts := make([]events.Event, 0, len(c.events))
	for _, e := range c.events {
		evts = append(evts, e)
	}
	return c.repos.Outbox.Append(c.ctx, evts)
}

func (c *command) progress() (*loan.ApprovalProgress, error) {
	decisions, err := c.repos.Loans.ListDecisions(c.ctx, c.app.ID)
	if err != nil {
		return nil, err
	}
	return loan.NewApprovalProgress(c.app.RequiredLevels, decisions), nil
}

func (c *command) startTimer(kind sla.Kind) error {
	_, err := c.o.tracker.Start(c.ctx, c.repos.Timers, c.app.ID, kind, c.now)
	return err
}

func (c *command) stopTimer(kind sla.Kind) error {
	return c.o.tracker.Stop(c.ctx, c.repos.Timers, c.app.ID, kind, c.now)
}

// checkEligible asks the directory whether the actor may decide lvl.
func (c *command) checkEligible(lvl approvalmatrix.RequiredLevel) error {
	if c.actor == "" {
		return internal.ErrApproverNotEligible
	}
	approver, err := c.o.directory.Lookup(c.ctx, c.actor)
	if err != nil {
		if internal.IsErrorCode(err, internal.ErrCodeUserNotFound) {
			return internal.ErrApproverNotEligible
		}
		return err
	}
	if !lvl.Spec.IsSatisfiedBy(approver) {
		return internal.ErrApproverNotEligible
	}
	return nil
}

// submit moves a draft through submission into review.
func (c *command) submit() error {
	if err := loan.CheckCommand(loan.CommandSubmit, c.app.Status); err != nil {
		return err
	}
	if c.app.Number == "" {
		number, err := c.repos.Loans.NextNumber(c.ctx, c.o.cfg.NumberPrefix, c.now)
		if err != nil {
			return err
		}
		c.app.Number = number
	}
	if err := c.app.CheckValue(); err != nil {
		return err
	}
	if err := c.move(loan.StatusSubmitted, string(loan.CommandSubmit), ""); err != nil {
		return err
	}
	if err := c.emit(events.EventTypeApplicationSubmitted, events.ApplicationSubmitted{
		ApplicationID:     c.app.ID,
		ApplicationNumber: c.app.Number,
		ApplicantName:     c.app.ApplicantName,
		ApplicantEmail:    c.app.ApplicantEmail,
		TotalValue:        c.app.TotalValue.StringFixed(2),
		SubmittedAt:       c.now,
	}); err != nil {
		return err
	}
	return c.enterReview()
}

// enterReview resolves the approval matrix against the rule set active now
// and starts the response and resolution clocks.
func (c *command) enterReview() error {
	if err := c.move(loan.StatusUnderReview, string(loan.CommandSubmit), ""); err != nil {
		return err
	}

	rules, err := c.o.rules.Load(c.ctx)
	if err != nil {
		return err
	}
	levels, err := c.o.resolver.Resolve(c.app.ApprovalRequest(), rules)
	if err != nil {
		return err
	}
	c.app.RequiredLevels = levels

	if err := c.startTimer(sla.KindResponse); err != nil {
		return err
	}
	if err := c.startTimer(sla.KindResolution); err != nil {
		return err
	}

	if len(levels) == 0 {
		return c.approve(internal.SystemActor, "no approval required")
	}
	return c.requestApproval(levels[0])
}

// requestApproval issues a fresh approval link for lvl.
func (c *command) requestApproval(lvl approvalmatrix.RequiredLevel) error {
	issued, err := c.o.tokens.Issue(c.app.ID, lvl.Level, c.now)
	if err != nil {
		return err
	}
	c.app.SetApprovalToken(issued.Hash, issued.ExpiresAt)

	candidates, err := c.o.directory.Candidates(c.ctx, lvl.Spec)
	if err != nil {
		return err
	}

	expires := issued.ExpiresAt
	return c.emit(events.EventTypeApprovalRequired, events.ApprovalRequired{
		ApplicationID:     c.app.ID,
		ApplicationNumber: c.app.Number,
		Level:             lvl.Level,
		ApproverSpec:      lvl.Spec.String(),
		CandidateIDs:      candidates,
		ApprovalToken:     issued.Token,
		TokenExpiresAt:    &expires,
	})
}

// recordApproval stores an approve decision and either completes the
// approval or asks for the next level.
func (c *command) recordApproval(progress *loan.ApprovalProgress, lvl approvalmatrix.RequiredLevel, remarks string) error {
	d := loan.NewDecision(c.app.ID, lvl.Level, loan.DecisionApprove, c.actorOrSystem(), remarks, c.now)
	if err := c.repos.Loans.RecordDecision(c.ctx, d); err != nil {
		return err
	}
	progress.Approved[lvl.Level] = d
	c.app.ClearApprovalToken()

	if err := c.stopTimer(sla.KindResponse); err != nil {
		return err
	}

	if progress.Complete() {
		return c.approve(c.actorOrSystem(), remarks)
	}
	next, _ := progress.NextPending()
	return c.requestApproval(next)
}

func (c *command) approve(by, remarks string) error {
	if err := c.move(loan.StatusApproved, string(loan.CommandApprove), remarks); err != nil {
		return err
	}
	c.app.ApprovedBy = &by
	if remarks != "" {
		c.app.ApprovalRemarks = &remarks
	}
	c.app.ClearApprovalToken()
	if err := c.stopTimer(sla.KindResponse); err != nil {
		return err
	}
	if err := c.emit(events.EventTypeApplicationApproved, events.ApplicationApproved{
		ApplicationID:     c.app.ID,
		ApplicationNumber: c.app.Number,
		ApprovedBy:        by,
		Remarks:           remarks,
		ApprovedAt:        c.now,
	}); err != nil {
		return err
	}
	return c.prepareIssuance(false)
}

// prepareIssuance reserves the assets. When strict is false a busy asset
// leaves the application approved for a later retry.
func (c *command) prepareIssuance(strict bool) error {
	busy, err := c.o.availability.Unavailable(c.ctx, c.app.AssetIDs(), c.app.StartDate, c.app.EndDate, c.app.ID)
	if err != nil {
		return err
	}
	if len(busy) > 0 {
		if strict {
			return internal.NewGuardFailedError("asset_available",
				fmt.Sprintf("assets not available for the loan window: %s", strings.Join(busy, ", ")))
		}
		c.o.logger.Info("application approved but assets are not yet available",
			"application_id", c.app.ID,
			"asset_ids", busy)
		return nil
	}
	return c.move(loan.StatusReadyIssuance, string(loan.CommandPrepareIssuance), "")
}

// advanceReturnState applies the clock-driven return edges.
func (c *command) advanceReturnState() error {
	due := c.app.ReturnDueAt(c.o.cfg.Location)
	if c.app.Status == loan.StatusInUse && !c.now.Before(due.Add(-c.o.cfg.ReturnLeadWindow)) {
		if err := c.move(loan.StatusReturnDue, causeTick, ""); err != nil {
			return err
		}
	}
	if c.app.Status == loan.StatusReturnDue && !c.now.Before(due) {
		if err := c.move(loan.StatusOverdue, causeTick, ""); err != nil {
			return err
		}
	}
	return nil
}
