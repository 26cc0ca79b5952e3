package workers

import (
	"context"
	"log/slog"

	application "votingdapp/contexts/onchain-voting/voting-program/application"
	"votingdapp/contexts/onchain-voting/voting-program/application/queries"
)

// AuditSweep audits every poll and logs the ones whose persisted state breaks
// a program invariant.
type AuditSweep struct {
	Queries queries.ProgramQueries
	Logger  *slog.Logger
}

type AuditReport struct {
	PollsChecked int
	Inconsistent []queries.PollAudit
}

func (s AuditSweep) RunOnce(ctx context.Context) (AuditReport, error) {
	logger := application.ResolveLogger(s.Logger)
	polls, err := s.Queries.ListPolls(ctx)
	if err != nil {
		logger.Error("voting audit sweep list failed",
			application.LogAttrs("worker", "voting_audit_list_failed",
				"error", err.Error(),
			)...,
		)
		return AuditReport{}, err
	}

	report := AuditReport{}
	for _, poll := range polls {
		audit, err := s.Queries.AuditPoll(ctx, poll.ID)
		if err != nil {
			logger.Error("voting audit failed",
				application.LogAttrs("worker", "voting_audit_poll_failed",
					"poll_id", poll.ID,
					"error", err.Error(),
				)...,
			)
			return report, err
		}
		report.PollsChecked++
		if audit.Consistent {
			continue
		}
		report.Inconsistent = append(report.Inconsistent, audit)
		for _, violation := range audit.Violations {
			logger.Error("voting invariant violated",
				application.LogAttrs("worker", "voting_audit_violation",
					"poll_id", poll.ID,
					"violation", violation,
				)...,
			)
		}
	}

	logger.Info("voting audit sweep completed",
		application.LogAttrs("worker", "voting_audit_completed",
			"polls_checked", report.PollsChecked,
			"inconsistent_count", len(report.Inconsistent),
		)...,
	)
	return report, nil
}
