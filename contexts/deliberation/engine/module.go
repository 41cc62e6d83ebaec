package engine

import (
	"log/slog"

	httpadapter "chant/contexts/deliberation/engine/adapters/http"
	"chant/contexts/deliberation/engine/adapters/memory"
	"chant/contexts/deliberation/engine/application/commands"
	"chant/contexts/deliberation/engine/application/queries"
	"chant/contexts/deliberation/engine/application/workers"
	"chant/contexts/deliberation/engine/domain/entities"
	"chant/contexts/deliberation/engine/ports"
)

type Module struct {
	Handler     httpadapter.Handler
	Finalizer   commands.FinalizeUseCase
	Coordinator commands.CoordinatorUseCase
	Store       *memory.Store
}

type Dependencies struct {
	Deliberations ports.DeliberationRepository
	Ideas         ports.IdeaRepository
	Cells         ports.CellRepository
	Ballots       ports.BallotRepository
	Reservations  ports.ReservationRepository
	Comments      ports.CommentRepository
	Tiers         ports.TierRepository
	Outbox        ports.OutboxWriter
	Clock         ports.Clock
	IDGen         ports.IDGenerator
	Config        entities.EngineConfig
	Logger        *slog.Logger
}

func NewModule(deps Dependencies) Module {
	deliberationUseCase := commands.DeliberationUseCase{
		Deliberations: deps.Deliberations,
		Ideas:         deps.Ideas,
		Cells:         deps.Cells,
		Tiers:         deps.Tiers,
		Outbox:        deps.Outbox,
		Clock:         deps.Clock,
		IDGen:         deps.IDGen,
		Config:        deps.Config,
		Logger:        deps.Logger,
	}
	ideaUseCase := commands.IdeaUseCase{
		Deliberations: deps.Deliberations,
		Ideas:         deps.Ideas,
		Outbox:        deps.Outbox,
		Clock:         deps.Clock,
		IDGen:         deps.IDGen,
		Config:        deps.Config,
		Logger:        deps.Logger,
	}
	voteUseCase := commands.VoteUseCase{
		Cells:        deps.Cells,
		Ballots:      deps.Ballots,
		Reservations: deps.Reservations,
		Outbox:       deps.Outbox,
		Clock:        deps.Clock,
		IDGen:        deps.IDGen,
		Config:       deps.Config,
		Logger:       deps.Logger,
	}
	commentUseCase := commands.CommentUseCase{
		Cells:        deps.Cells,
		Ballots:      deps.Ballots,
		Reservations: deps.Reservations,
		Comments:     deps.Comments,
		Clock:        deps.Clock,
		IDGen:        deps.IDGen,
		Logger:       deps.Logger,
	}
	coordinatorUseCase := commands.CoordinatorUseCase{
		Deliberations: deps.Deliberations,
		Ideas:         deps.Ideas,
		Cells:         deps.Cells,
		Tiers:         deps.Tiers,
		Outbox:        deps.Outbox,
		Clock:         deps.Clock,
		IDGen:         deps.IDGen,
		Config:        deps.Config,
		Logger:        deps.Logger,
	}
	finalizeUseCase := commands.FinalizeUseCase{
		Ideas:   deps.Ideas,
		Cells:   deps.Cells,
		Ballots: deps.Ballots,
		Outbox:  deps.Outbox,
		Clock:   deps.Clock,
		IDGen:   deps.IDGen,
		Config:  deps.Config,
		Logger:  deps.Logger,
	}
	stateUseCase := queries.StateUseCase{
		Deliberations: deps.Deliberations,
		Ideas:         deps.Ideas,
		Cells:         deps.Cells,
		Ballots:       deps.Ballots,
		Comments:      deps.Comments,
		Tiers:         deps.Tiers,
		Config:        deps.Config,
	}
	return Module{
		Handler: httpadapter.Handler{
			Deliberations: deliberationUseCase,
			Ideas:         ideaUseCase,
			Votes:         voteUseCase,
			Comments:      commentUseCase,
			Coordinator:   coordinatorUseCase,
			State:         stateUseCase,
			Logger:        deps.Logger,
		},
		Finalizer:   finalizeUseCase,
		Coordinator: coordinatorUseCase,
	}
}

func NewInMemoryModule(logger *slog.Logger) Module {
	store := memory.NewStore()
	module := NewModule(Dependencies{
		Deliberations: store,
		Ideas:         store,
		Cells:         store,
		Ballots:       store,
		Reservations:  store,
		Comments:      store,
		Tiers:         store,
		Outbox:        store,
		Clock:         store,
		IDGen:         store,
		Config:        entities.DefaultEngineConfig(),
		Logger:        logger,
	})
	module.Store = store
	return module
}

// Workers bundles the module's background loops against a shared store.
type Workers struct {
	GraceFinalizer     workers.GraceFinalizer
	DeadlineEnforcer   workers.DeadlineEnforcer
	ReservationSweeper workers.ReservationSweeper
}

func NewWorkers(deps Dependencies, module Module, batchSize int) Workers {
	return Workers{
		GraceFinalizer: workers.GraceFinalizer{
			Cells:       deps.Cells,
			Finalizer:   module.Finalizer,
			Coordinator: module.Coordinator,
			Clock:       deps.Clock,
			BatchSize:   batchSize,
			Logger:      deps.Logger,
		},
		DeadlineEnforcer: workers.DeadlineEnforcer{
			Cells:       deps.Cells,
			Finalizer:   module.Finalizer,
			Coordinator: module.Coordinator,
			Clock:       deps.Clock,
			BatchSize:   batchSize,
			Logger:      deps.Logger,
		},
		ReservationSweeper: workers.ReservationSweeper{
			Reservations: deps.Reservations,
			Clock:        deps.Clock,
			BatchSize:    batchSize,
			Logger:       deps.Logger,
		},
	}
}
