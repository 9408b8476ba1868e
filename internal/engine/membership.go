package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/decisionhub/backend/internal/domains"
	"github.com/decisionhub/backend/internal/lifecycle"
	"github.com/decisionhub/backend/internal/storage/models"
	"github.com/decisionhub/backend/internal/storage/sqlite"
	"github.com/decisionhub/backend/pkg/logger"
)

// ChangeInvitationStatus records the invited expert's answer. Declining can
// complete the weighting stage when the decliner was the last one missing.
func (e *Engine) ChangeInvitationStatus(ctx context.Context, userID, issueID string, accept bool) error {
	return classify(e.changeInvitationStatus(ctx, userID, issueID, accept))
}

func (e *Engine) changeInvitationStatus(ctx context.Context, userID, issueID string, accept bool) error {
	release, err := e.lock(ctx, issueID, "invitation")
	if err != nil {
		return err
	}
	defer release()

	var issue *models.Issue
	err = e.db.WithTx(ctx, func(r *sqlite.Repo) error {
		issue, err = e.getIssue(ctx, r, issueID)
		if err != nil {
			return err
		}
		if err := lifecycle.RequireActive(issue); err != nil {
			return err
		}
		p, err := participation(ctx, r, issueID, userID)
		if err != nil {
			return err
		}
		if p == nil {
			return forbidden("you were not invited to this issue")
		}
		if p.InvitationStatus != models.InvitationPending {
			return conflict("invitation", "the invitation was already answered")
		}

		p.InvitationStatus = models.InvitationDeclined
		if accept {
			p.InvitationStatus = models.InvitationAccepted
		}
		if err := r.UpdateParticipation(ctx, p); err != nil {
			return err
		}
		if err := r.ResolveInvitationNotification(ctx, issueID, userID, accept); err != nil {
			return err
		}
		if !accept {
			if _, err := advanceIfWeighted(ctx, r, issue); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return err
	}

	logger.Info("Invitation answered",
		zap.String("issue_id", issueID),
		zap.String("user_id", userID),
		zap.Bool("accepted", accept),
	)
	e.publish(issueID, EventExpertsChanged, userID)
	if !accept {
		e.mailUsers(ctx, []string{issue.AdminID}, "Invitation declined",
			fmt.Sprintf("An expert declined the invitation to %q.", issue.Name))
	}
	return nil
}

type EditExpertsInput struct {
	Add    []string `json:"expertsToAdd,omitempty"`
	Remove []string `json:"expertsToRemove,omitempty"`
	// DomainID is the domain new experts evaluate with. Empty means the
	// configured global default.
	DomainID string `json:"domainId,omitempty"`
}

// EditExperts invites new experts and removes existing ones in one step.
func (e *Engine) EditExperts(ctx context.Context, adminID, issueID string, in EditExpertsInput) error {
	return classify(e.editExperts(ctx, adminID, issueID, in))
}

func (e *Engine) editExperts(ctx context.Context, adminID, issueID string, in EditExpertsInput) error {
	add, err := uniqueEmails(in.Add)
	if err != nil {
		return err
	}
	remove, err := uniqueEmails(in.Remove)
	if err != nil {
		return err
	}
	if len(add) == 0 && len(remove) == 0 {
		return invalid("experts", "nothing to change")
	}

	release, err := e.lock(ctx, issueID, "edit_experts")
	if err != nil {
		return err
	}
	defer release()

	issue, err := e.adminIssue(ctx, e.db.Repo, issueID, adminID)
	if err != nil {
		return err
	}
	if err := lifecycle.RequireActive(issue); err != nil {
		return err
	}
	model, err := e.db.GetModel(ctx, issue.ModelID)
	if err != nil {
		return err
	}
	admin, err := e.db.GetUser(ctx, adminID)
	if err != nil {
		return err
	}

	users, err := e.db.GetUsersByEmails(ctx, append(append([]string(nil), add...), remove...))
	if err != nil {
		return err
	}
	for _, em := range append(append([]string(nil), add...), remove...) {
		if _, ok := users[em]; !ok {
			return invalid("experts", "unknown user %s", em)
		}
	}

	var source *models.ExpressionDomain
	if len(add) > 0 {
		if source, err = e.sourceDomain(ctx, adminID, in.DomainID); err != nil {
			return err
		}
		if !model.SupportsDomain(source.Type) {
			return invalid("domainId", "model %s does not accept %s domains", model.Name, source.Type)
		}
	}

	var invited, removed []string
	err = e.db.WithTx(ctx, func(r *sqlite.Repo) error {
		now := e.now()
		lastPhase, err := r.LastPhase(ctx, issueID)
		if err != nil {
			return err
		}

		for _, em := range remove {
			u := users[em]
			if u.ID == issue.AdminID {
				return invalid("expertsToRemove", "the admin cannot be removed")
			}
			p, err := participation(ctx, r, issueID, u.ID)
			if err != nil {
				return err
			}
			if p == nil {
				return invalid("expertsToRemove", "%s does not take part in this issue", em)
			}
			if err := e.removeParticipant(ctx, r, issue, u.ID, lastPhase, "removedByAdmin", now); err != nil {
				return err
			}
			msg := fmt.Sprintf("You were removed from the issue %q", issue.Name)
			if err := notify(ctx, r, issue, u.ID, NotificationRemoved, msg, now); err != nil {
				return err
			}
			removed = append(removed, u.Email)
		}

		if len(add) > 0 {
			ordered, err := e.orderer.Load(ctx, r, issue)
			if err != nil {
				return err
			}
			snaps, err := domains.Snapshot(ctx, r, issueID, []*models.ExpressionDomain{source}, now)
			if err != nil {
				return err
			}
			snapID := snaps[source.ID].ID
			snapFor := func(*models.Alternative, *models.Criterion) string { return snapID }

			for _, em := range add {
				u := users[em]
				p, err := participation(ctx, r, issueID, u.ID)
				if err != nil {
					return err
				}
				if p != nil {
					return conflict("expertsToAdd", "%s already takes part in this issue", em)
				}
				status := models.InvitationPending
				if u.ID == issue.AdminID {
					status = models.InvitationAccepted
				}
				if err := e.addExpert(ctx, r, issue, u.ID, status, ordered.Alternatives, ordered.Leaves, model.IsPairwise, snapFor, lastPhase, now); err != nil {
					return err
				}
				if status == models.InvitationPending {
					if err := invite(ctx, r, issue, u.ID, admin.Email, now); err != nil {
						return err
					}
					invited = append(invited, u.Email)
				}
			}
		}

		_, err = advanceIfWeighted(ctx, r, issue)
		return err
	})
	if err != nil {
		return err
	}

	logger.Info("Experts edited",
		zap.String("issue_id", issueID),
		zap.Strings("added", add),
		zap.Strings("removed", remove),
	)
	e.publish(issueID, EventExpertsChanged, nil)
	e.mail(invited, "Invitation to "+issue.Name,
		fmt.Sprintf("%s invited you to take part in the decision %q.", admin.Email, issue.Name))
	e.mail(removed, "Removed from "+issue.Name,
		fmt.Sprintf("You no longer take part in the decision %q.", issue.Name))
	return nil
}

// sourceDomain loads the domain new cells use, defaulting to the configured
// global one.
func (e *Engine) sourceDomain(ctx context.Context, ownerID, id string) (*models.ExpressionDomain, error) {
	var d *models.ExpressionDomain
	var err error
	if strings.TrimSpace(id) == "" {
		d, err = e.db.GetGlobalDomainByName(ctx, e.cfg.DefaultDomainName)
	} else {
		d, err = e.db.GetDomain(ctx, id)
	}
	if errors.Is(err, sqlite.ErrNotFound) || (err == nil && d.OwnerID != "" && d.OwnerID != ownerID) {
		return nil, invalid("domainId", "unknown expression domain %q", id)
	}
	return d, err
}

// LeaveIssue removes the caller from an active issue. The admin cannot leave.
func (e *Engine) LeaveIssue(ctx context.Context, userID, issueID string) error {
	return classify(e.leaveIssue(ctx, userID, issueID))
}

func (e *Engine) leaveIssue(ctx context.Context, userID, issueID string) error {
	release, err := e.lock(ctx, issueID, "leave")
	if err != nil {
		return err
	}
	defer release()

	var issue *models.Issue
	err = e.db.WithTx(ctx, func(r *sqlite.Repo) error {
		issue, err = e.getIssue(ctx, r, issueID)
		if err != nil {
			return err
		}
		if err := lifecycle.RequireActive(issue); err != nil {
			return err
		}
		if issue.AdminID == userID {
			return precondition("issue", "the admin cannot leave the issue")
		}
		p, err := participation(ctx, r, issueID, userID)
		if err != nil {
			return err
		}
		if p == nil {
			return forbidden("you do not take part in this issue")
		}
		lastPhase, err := r.LastPhase(ctx, issueID)
		if err != nil {
			return err
		}
		if err := e.removeParticipant(ctx, r, issue, userID, lastPhase, "left", e.now()); err != nil {
			return err
		}
		_, err = advanceIfWeighted(ctx, r, issue)
		return err
	})
	if err != nil {
		return err
	}

	logger.Info("Expert left issue", zap.String("issue_id", issueID), zap.String("user_id", userID))
	e.publish(issueID, EventExpertsChanged, userID)
	e.mailUsers(ctx, []string{issue.AdminID}, "Expert left",
		fmt.Sprintf("An expert left the issue %q.", issue.Name))
	return nil
}

// removeParticipant drops the participation and weighting drafts. Evaluation
// cells go too unless the expert already submitted some, which keeps earlier
// rounds reproducible. The exit is appended to the expert's exit log.
func (e *Engine) removeParticipant(ctx context.Context, r *sqlite.Repo, issue *models.Issue, expertID string, lastPhase int, reason string, now time.Time) error {
	if err := r.DeleteWeightDrafts(ctx, issue.ID, expertID); err != nil {
		return err
	}
	submitted, err := r.HasSubmittedEvaluation(ctx, issue.ID, expertID)
	if err != nil {
		return err
	}
	if !submitted {
		if err := r.DeleteExpertEvaluations(ctx, issue.ID, expertID); err != nil {
			return err
		}
	}
	if err := r.DeleteParticipation(ctx, issue.ID, expertID); err != nil {
		return err
	}

	var phase *int
	if lastPhase > 0 {
		phase = &lastPhase
	}
	x, err := r.GetExit(ctx, issue.ID, expertID)
	if errors.Is(err, sqlite.ErrNotFound) {
		x = &models.ExitUserIssue{ID: uuid.New().String(), IssueID: issue.ID, UserID: expertID}
	} else if err != nil {
		return err
	}
	x.Timestamp = now
	x.Phase = phase
	x.Stage = issue.CurrentStage
	x.Reason = reason
	x.History = append(x.History, models.ExitEvent{
		Timestamp: now,
		Phase:     phase,
		Stage:     issue.CurrentStage,
		Action:    models.ExitActionExited,
		Reason:    reason,
	})
	return r.SaveExit(ctx, x)
}
