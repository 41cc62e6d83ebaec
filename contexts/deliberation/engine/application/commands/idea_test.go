package commands

import (
	"context"
	"errors"
	"testing"

	"chant/contexts/deliberation/engine/domain/entities"
	domainerrors "chant/contexts/deliberation/engine/domain/errors"
)

func TestSubmitIdeaRejectsDuplicateText(t *testing.T) {
	h := newHarness(quickConfig())
	ctx := context.Background()
	deliberation, err := h.deliberations.CreateDeliberation(ctx, CreateDeliberationCommand{
		Question: "Where do we plant the orchard?",
	})
	if err != nil {
		t.Fatalf("create deliberation failed: %v", err)
	}

	if _, err := h.ideas.SubmitIdea(ctx, SubmitIdeaCommand{
		DeliberationID: deliberation.DeliberationID,
		AuthorID:       "author-1",
		Text:           "the south slope",
	}); err != nil {
		t.Fatalf("submit failed: %v", err)
	}
	// Same text from a different author, modulo surrounding whitespace.
	if _, err := h.ideas.SubmitIdea(ctx, SubmitIdeaCommand{
		DeliberationID: deliberation.DeliberationID,
		AuthorID:       "author-2",
		Text:           "  the south slope  ",
	}); !errors.Is(err, domainerrors.ErrDuplicateSubmission) {
		t.Fatalf("duplicate text err = %v, want %v", err, domainerrors.ErrDuplicateSubmission)
	}
}

func TestSubmitIdeaOnePerAuthor(t *testing.T) {
	h := newHarness(quickConfig())
	ctx := context.Background()
	deliberation, err := h.deliberations.CreateDeliberation(ctx, CreateDeliberationCommand{
		Question:     "One proposal each",
		OnePerAuthor: true,
	})
	if err != nil {
		t.Fatalf("create deliberation failed: %v", err)
	}

	if _, err := h.ideas.SubmitIdea(ctx, SubmitIdeaCommand{
		DeliberationID: deliberation.DeliberationID,
		AuthorID:       "author-1",
		Text:           "first proposal",
	}); err != nil {
		t.Fatalf("submit failed: %v", err)
	}
	if _, err := h.ideas.SubmitIdea(ctx, SubmitIdeaCommand{
		DeliberationID: deliberation.DeliberationID,
		AuthorID:       "author-1",
		Text:           "second proposal",
	}); !errors.Is(err, domainerrors.ErrDuplicateSubmission) {
		t.Fatalf("second submission err = %v, want %v", err, domainerrors.ErrDuplicateSubmission)
	}
}

func TestSubmitIdeaEnforcesCap(t *testing.T) {
	h := newHarness(quickConfig())
	ctx := context.Background()
	deliberation, err := h.deliberations.CreateDeliberation(ctx, CreateDeliberationCommand{
		Question: "Capped intake",
		IdeaCap:  2,
	})
	if err != nil {
		t.Fatalf("create deliberation failed: %v", err)
	}

	for i, text := range ideaTexts(2) {
		if _, err := h.ideas.SubmitIdea(ctx, SubmitIdeaCommand{
			DeliberationID: deliberation.DeliberationID,
			AuthorID:       "author-1",
			Text:           text,
		}); err != nil {
			t.Fatalf("submit %d failed: %v", i, err)
		}
	}
	if _, err := h.ideas.SubmitIdea(ctx, SubmitIdeaCommand{
		DeliberationID: deliberation.DeliberationID,
		AuthorID:       "author-2",
		Text:           "one too many",
	}); !errors.Is(err, domainerrors.ErrCapacityExceeded) {
		t.Fatalf("over-cap err = %v, want %v", err, domainerrors.ErrCapacityExceeded)
	}
}

func TestSubmitIdeaPhaseGating(t *testing.T) {
	h := newHarness(quickConfig())
	ctx := context.Background()
	deliberation, _ := h.seedContest(t, ideaTexts(3))

	// Voting phase rejects new ideas outright.
	if _, err := h.ideas.SubmitIdea(ctx, SubmitIdeaCommand{
		DeliberationID: deliberation.DeliberationID,
		AuthorID:       "latecomer",
		Text:           "a late idea",
	}); !errors.Is(err, domainerrors.ErrPhaseClosed) {
		t.Fatalf("voting-phase submit err = %v, want %v", err, domainerrors.ErrPhaseClosed)
	}

	// A rolling deliberation keeps accepting while it accumulates challengers.
	rolling, err := h.deliberations.CreateDeliberation(ctx, CreateDeliberationCommand{
		Question:    "Rolling intake",
		RollingMode: true,
	})
	if err != nil {
		t.Fatalf("create rolling deliberation failed: %v", err)
	}
	rolling.Phase = entities.PhaseAccumulating
	if err := h.store.UpdateDeliberation(ctx, rolling); err != nil {
		t.Fatalf("update deliberation failed: %v", err)
	}
	idea, err := h.ideas.SubmitIdea(ctx, SubmitIdeaCommand{
		DeliberationID: rolling.DeliberationID,
		AuthorID:       "challenger-author",
		Text:           "a challenger idea",
	})
	if err != nil {
		t.Fatalf("accumulating submit failed: %v", err)
	}
	if idea.Status != entities.IdeaStatusQueued || idea.Tier != 1 {
		t.Fatalf("challenger idea = %s tier %d", idea.Status, idea.Tier)
	}
}
