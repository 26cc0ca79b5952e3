package votingprogram

import (
	"log/slog"
	"time"

	httpadapter "votingdapp/contexts/onchain-voting/voting-program/adapters/http"
	"votingdapp/contexts/onchain-voting/voting-program/adapters/memory"
	"votingdapp/contexts/onchain-voting/voting-program/application/commands"
	"votingdapp/contexts/onchain-voting/voting-program/application/queries"
	"votingdapp/contexts/onchain-voting/voting-program/application/workers"
	"votingdapp/contexts/onchain-voting/voting-program/domain/entities"
	"votingdapp/contexts/onchain-voting/voting-program/ports"
)

type Module struct {
	Handler     httpadapter.Handler
	OutboxRelay workers.OutboxRelay
	AuditSweep  workers.AuditSweep
	Store       *memory.Store
}

type Dependencies struct {
	Ledger         ports.Ledger
	Outbox         ports.OutboxRepository
	Publisher      ports.EventPublisher
	Authorities    ports.AuthorityRegistry
	Clock          ports.Clock
	IDGen          ports.IDGenerator
	Policy         entities.CandidatePolicy
	IdempotencyTTL time.Duration
	Results        ports.ResultsCache
	Observer       ports.OperationObserver
	Logger         *slog.Logger
}

func NewModule(deps Dependencies) Module {
	program := commands.ProgramUseCase{
		Ledger:         deps.Ledger,
		Authorities:    deps.Authorities,
		Clock:          deps.Clock,
		IDGen:          deps.IDGen,
		Policy:         deps.Policy,
		IdempotencyTTL: deps.IdempotencyTTL,
		Results:        deps.Results,
		Observer:       deps.Observer,
		Logger:         deps.Logger,
	}
	programQueries := queries.ProgramQueries{
		Ledger:  deps.Ledger,
		Clock:   deps.Clock,
		Results: deps.Results,
		Logger:  deps.Logger,
	}
	return Module{
		Handler: httpadapter.Handler{
			Program: program,
			Queries: programQueries,
			Logger:  deps.Logger,
		},
		OutboxRelay: workers.OutboxRelay{
			Outbox:    deps.Outbox,
			Publisher: deps.Publisher,
			Clock:     deps.Clock,
			BatchSize: 100,
			Logger:    deps.Logger,
		},
		AuditSweep: workers.AuditSweep{
			Queries: programQueries,
			Logger:  deps.Logger,
		},
	}
}

// NewInMemoryModule wires the module to an in-process ledger whose clock can
// be pinned with Store.SetNow.
func NewInMemoryModule(policy entities.CandidatePolicy, logger *slog.Logger) Module {
	store := memory.NewStore()
	module := NewModule(Dependencies{
		Ledger:         store,
		Outbox:         store,
		Clock:          store,
		IDGen:          store,
		Policy:         policy,
		IdempotencyTTL: 24 * time.Hour,
		Logger:         logger,
	})
	module.Store = store
	return module
}
