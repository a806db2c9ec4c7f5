package service

import (
	"context"
	"fmt"
	"testing"

	"union-voting-backend/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRankedChoice_FirstRoundMajority(t *testing.T) {
	db := setupServiceTest(t)
	tab := NewRankedChoiceTabulator(db)
	session := createTestSession(t, db, models.RankedChoice, "A", "B")
	seedEligibility(t, db, session.ID, "m1", "m2", "m3")

	a, b := session.Options[0].ID, session.Options[1].ID
	castRanked(t, db, session.ID, "v1", []uint{a})
	castRanked(t, db, session.ID, "v2", []uint{a})
	castRanked(t, db, session.ID, "v3", []uint{b})

	result, err := tab.CalculateResults(context.Background(), session.ID)
	require.NoError(t, err)

	assert.Equal(t, OutcomeMajority, result.Outcome)
	assert.Equal(t, a, result.WinnerOptionID)
	require.NotNil(t, result.RunnerUpOptionID)
	assert.Equal(t, b, *result.RunnerUpOptionID)
	require.Len(t, result.Rounds, 1)
	assert.Equal(t, []RoundCount{{OptionID: a, Count: 2}, {OptionID: b, Count: 1}}, result.Rounds[0].Counts)
	assert.InDelta(t, 100.0, result.TurnoutPercentage, 0.001)
}

func TestRankedChoice_EliminationAndTransfer(t *testing.T) {
	db := setupServiceTest(t)
	tab := NewRankedChoiceTabulator(db)
	session := createTestSession(t, db, models.RankedChoice, "A", "B", "C")
	seedEligibility(t, db, session.ID, "m1", "m2", "m3", "m4", "m5")

	a, b, c := session.Options[0].ID, session.Options[1].ID, session.Options[2].ID

	// Round 1 counts A=2, B=1, C=2 over 5 ballots: nobody clears the strict
	// half of 5, B holds the minimum and is eliminated; the B ballot
	// transfers to its next active preference.
	castRanked(t, db, session.ID, "v1", []uint{a, b})
	castRanked(t, db, session.ID, "v2", []uint{a, b})
	castRanked(t, db, session.ID, "v3", []uint{b, a})
	castRanked(t, db, session.ID, "v4", []uint{c, a})
	castRanked(t, db, session.ID, "v5", []uint{c, b})

	result, err := tab.CalculateResults(context.Background(), session.ID)
	require.NoError(t, err)

	require.Len(t, result.Rounds, 2)

	round1 := result.Rounds[0]
	assert.Equal(t, []RoundCount{{OptionID: a, Count: 2}, {OptionID: b, Count: 1}, {OptionID: c, Count: 2}}, round1.Counts)
	assert.Equal(t, int64(5), round1.Continuing)
	assert.Equal(t, int64(0), round1.Exhausted)
	require.NotNil(t, round1.Eliminated)
	assert.Equal(t, b, *round1.Eliminated)

	// Round 2: v3 transfers to A (3 votes), v5's B preference is gone so it
	// stays with C (2 votes); A clears the majority.
	round2 := result.Rounds[1]
	assert.Equal(t, []RoundCount{{OptionID: a, Count: 3}, {OptionID: c, Count: 2}}, round2.Counts)

	assert.Equal(t, OutcomeMajority, result.Outcome)
	assert.Equal(t, a, result.WinnerOptionID)
	require.NotNil(t, result.RunnerUpOptionID)
	assert.Equal(t, c, *result.RunnerUpOptionID)
}

func TestRankedChoice_ZeroBallots(t *testing.T) {
	db := setupServiceTest(t)
	tab := NewRankedChoiceTabulator(db)
	session := createTestSession(t, db, models.RankedChoice, "A", "B")

	// 零票必须快速失败，不能除零或产生空洞的"赢家"
	_, err := tab.CalculateResults(context.Background(), session.ID)
	assert.ErrorIs(t, err, ErrNoBallots)
}

func TestRankedChoice_TwoWayTieSoleSurvivor(t *testing.T) {
	db := setupServiceTest(t)
	tab := NewRankedChoiceTabulator(db)
	session := createTestSession(t, db, models.RankedChoice, "A", "B")
	seedEligibility(t, db, session.ID, "m1", "m2")

	a, b := session.Options[0].ID, session.Options[1].ID
	castRanked(t, db, session.ID, "v1", []uint{a})
	castRanked(t, db, session.ID, "v2", []uint{b})

	// Exact 50/50: strict greater-than means no majority fires. The
	// documented tie-break eliminates the lower option ID, leaving the
	// other as sole survivor without a true majority -- the round data
	// carries the whole story.
	result, err := tab.CalculateResults(context.Background(), session.ID)
	require.NoError(t, err)

	assert.Equal(t, OutcomeSoleSurvivor, result.Outcome)
	assert.Equal(t, b, result.WinnerOptionID)
	require.NotNil(t, result.RunnerUpOptionID)
	assert.Equal(t, a, *result.RunnerUpOptionID)
	require.Len(t, result.Rounds, 1)
	require.NotNil(t, result.Rounds[0].Eliminated)
	assert.Equal(t, a, *result.Rounds[0].Eliminated)
}

func TestRankedChoice_ExhaustedBallotsReported(t *testing.T) {
	db := setupServiceTest(t)
	tab := NewRankedChoiceTabulator(db)
	session := createTestSession(t, db, models.RankedChoice, "A", "B", "C")
	seedEligibility(t, db, session.ID, "m1", "m2", "m3", "m4", "m5")

	a, b, c := session.Options[0].ID, session.Options[1].ID, session.Options[2].ID

	castRanked(t, db, session.ID, "v1", []uint{a, b})
	castRanked(t, db, session.ID, "v2", []uint{b}) // exhausts once B is gone
	castRanked(t, db, session.ID, "v3", []uint{c})
	castRanked(t, db, session.ID, "v4", []uint{c})
	castRanked(t, db, session.ID, "v5", []uint{a})

	result, err := tab.CalculateResults(context.Background(), session.ID)
	require.NoError(t, err)

	// Round 1: A=2, B=1, C=2 -- B eliminated. Round 2: v2 has no active
	// preference left and must be surfaced as exhausted, not dropped.
	require.Len(t, result.Rounds, 2)
	round2 := result.Rounds[1]
	assert.Equal(t, int64(1), round2.Exhausted)
	assert.Equal(t, int64(4), round2.Continuing)
	assert.Equal(t, []RoundCount{{OptionID: a, Count: 2}, {OptionID: c, Count: 2}}, round2.Counts)

	// 2-2 on 4 continuing votes: still no strict majority, A (lower ID) is
	// eliminated and C survives.
	require.NotNil(t, round2.Eliminated)
	assert.Equal(t, a, *round2.Eliminated)
	assert.Equal(t, OutcomeSoleSurvivor, result.Outcome)
	assert.Equal(t, c, result.WinnerOptionID)
}

func TestRankedChoice_RoundSafetyBound(t *testing.T) {
	db := setupServiceTest(t)
	tab := NewRankedChoiceTabulator(db)

	session := &models.VotingSession{
		Title:          "Overrun",
		OrganizationID: "org-1",
		BallotType:     models.RankedChoice,
		Status:         models.SessionOpen,
	}
	require.NoError(t, db.Create(session).Error)

	// 52 options and a 1-1 split between the first two: every round can
	// only shed one zero-count option, so the tabulation cannot finish
	// inside the 50-round cap and must surface the overrun.
	var first, second uint
	for i := 0; i < 52; i++ {
		opt := &models.VotingOption{SessionID: session.ID, Text: fmt.Sprintf("O%02d", i), OrderIndex: i}
		require.NoError(t, db.Create(opt).Error)
		if i == 0 {
			first = opt.ID
		}
		if i == 1 {
			second = opt.ID
		}
	}

	castRanked(t, db, session.ID, "v1", []uint{first})
	castRanked(t, db, session.ID, "v2", []uint{second})

	_, err := tab.CalculateResults(context.Background(), session.ID)
	assert.ErrorIs(t, err, ErrTabulationOverrun)
}

func TestRankedChoice_Idempotent(t *testing.T) {
	db := setupServiceTest(t)
	tab := NewRankedChoiceTabulator(db)
	session := createTestSession(t, db, models.RankedChoice, "A", "B", "C")
	seedEligibility(t, db, session.ID, "m1", "m2", "m3")

	a, b, c := session.Options[0].ID, session.Options[1].ID, session.Options[2].ID
	castRanked(t, db, session.ID, "v1", []uint{a, b})
	castRanked(t, db, session.ID, "v2", []uint{b, c})
	castRanked(t, db, session.ID, "v3", []uint{c, a})

	first, err := tab.CalculateResults(context.Background(), session.ID)
	require.NoError(t, err)
	second, err := tab.CalculateResults(context.Background(), session.ID)
	require.NoError(t, err)

	assert.Equal(t, first, second)
}

func TestRankedChoice_WrongBallotType(t *testing.T) {
	db := setupServiceTest(t)
	tab := NewRankedChoiceTabulator(db)
	single := createTestSession(t, db, models.SingleChoice, "Yes", "No")

	_, err := tab.CalculateResults(context.Background(), single.ID)
	assert.ErrorIs(t, err, ErrBadBallot)

	_, err = tab.CalculateResults(context.Background(), 9999)
	assert.ErrorIs(t, err, ErrSessionNotFound)
}
