package tech

import (
	"testing"

	"github.com/talgya/tile-city/internal/economy"
	"github.com/talgya/tile-city/internal/entropy"
)

func researchLedger(t *testing.T, research, wood float64) *economy.Ledger {
	t.Helper()
	l, err := economy.NewLedger(
		economy.NewResource(economy.Research, research, 1000),
		economy.NewResource(economy.Wood, wood, 1000),
	)
	if err != nil {
		t.Fatal(err)
	}
	return l
}

func testManager(t *testing.T) *Manager {
	t.Helper()
	m, err := NewManager(
		New("basics", "Basics", []economy.Cost{{Type: economy.Research, Amount: 10}}, 0.25),
		New("advanced", "Advanced", []economy.Cost{{Type: economy.Research, Amount: 20}, {Type: economy.Wood, Amount: 10}}, 0.1, "basics"),
		New("other", "Other", []economy.Cost{{Type: economy.Research, Amount: 4}}, 0.5),
	)
	if err != nil {
		t.Fatal(err)
	}
	return m
}

func TestNewManagerRejectsUnknownPrerequisite(t *testing.T) {
	_, err := NewManager(New("a", "A", nil, 0, "missing"))
	if err == nil {
		t.Fatal("expected unknown prerequisite to be rejected")
	}
}

func TestPartialFundingPersists(t *testing.T) {
	m := testManager(t)
	l := researchLedger(t, 5, 0)

	if got := l.AffordablePortion(m.Get("basics").Costs); got != 0.5 {
		t.Fatalf("expected affordable portion 0.5, got %f", got)
	}
	if !m.Research("basics", l) {
		t.Fatal("expected partial funding to count as progress")
	}
	tech := m.Get("basics")
	if tech.Researched {
		t.Fatal("expected tech to remain unresearched after half funding")
	}
	if l.Amount(economy.Research) != 0 {
		t.Fatalf("expected research stock spent, got %f", l.Amount(economy.Research))
	}
	if tech.Costs[0].Amount != 5 {
		t.Fatalf("expected remaining cost 5, got %f", tech.Costs[0].Amount)
	}
	if m.State("basics") != StatePartiallyFunded {
		t.Fatalf("expected partially funded state, got %s", m.State("basics"))
	}
}

func TestRepeatedPartialFundingConverges(t *testing.T) {
	m := testManager(t)
	calls := 0
	for !m.Get("basics").Researched {
		l := researchLedger(t, 3, 0)
		if !m.Research("basics", l) {
			t.Fatalf("expected progress on call %d", calls)
		}
		calls++
		if calls > 10 {
			t.Fatal("expected research to complete within a few payments")
		}
	}
	if calls != 4 {
		t.Fatalf("expected completion on the fourth payment, got %d", calls)
	}
}

func TestResearchRejectsWithoutResources(t *testing.T) {
	m := testManager(t)
	l := researchLedger(t, 0, 0)
	if m.Research("basics", l) {
		t.Fatal("expected no progress with an empty ledger")
	}
	if m.State("basics") != StateAvailable {
		t.Fatalf("expected untouched tech, got %s", m.State("basics"))
	}
}

func TestFudgeFactorCompletesNearlyFunded(t *testing.T) {
	m := testManager(t)
	l := researchLedger(t, 9.9999, 0)
	if !m.Research("basics", l) || !m.Get("basics").Researched {
		t.Fatal("expected 99.999% funding to complete the tech")
	}
}

func TestPrerequisitesAndUnavailableGate(t *testing.T) {
	m := testManager(t)
	if m.CanResearch("advanced") || m.State("advanced") != StateLocked {
		t.Fatal("expected advanced locked behind basics")
	}
	m.Research("basics", researchLedger(t, 100, 0))
	if !m.CanResearch("advanced") {
		t.Fatal("expected advanced researchable once basics is done")
	}
	m.Get("advanced").Unavailable = true
	if m.CanResearch("advanced") || m.State("advanced") != StateUnavailable {
		t.Fatal("expected unavailable gate to block research")
	}
	if m.Research("advanced", researchLedger(t, 100, 100)) {
		t.Fatal("expected research of an unavailable tech to be rejected")
	}
}

func TestAdoptionRampIsLinearAndCapped(t *testing.T) {
	m := testManager(t)
	if m.Adoption("basics") != 0 {
		t.Fatal("expected zero adoption before research")
	}
	m.Tick()
	if m.Get("basics").AdoptionRate != 0 {
		t.Fatal("expected no ramp before research")
	}
	m.Research("basics", researchLedger(t, 10, 0))
	prev := 0.0
	for i := 0; i < 6; i++ {
		m.Tick()
		cur := m.Adoption("basics")
		if cur < prev {
			t.Fatalf("expected non-decreasing adoption, got %f after %f", cur, prev)
		}
		prev = cur
	}
	if prev != 1 {
		t.Fatalf("expected adoption capped at 1, got %f", prev)
	}
}

func TestFirstPairHookFiresOnce(t *testing.T) {
	m := testManager(t)
	fired := 0
	researched := 0
	m.OnFirstPair = func(first, second *Tech) {
		fired++
		if first.ID != "basics" || second.ID != "other" {
			t.Fatalf("unexpected pair %s, %s", first.ID, second.ID)
		}
	}
	m.OnResearched = func(*Tech) { researched++ }
	m.Research("basics", researchLedger(t, 10, 0))
	m.Research("other", researchLedger(t, 10, 0))
	m.Research("advanced", researchLedger(t, 100, 100))
	if fired != 1 || researched != 3 {
		t.Fatalf("expected pair hook once and three completions, got %d and %d", fired, researched)
	}
}

func TestAssistReducesAllComponentsAndIsDailyLimited(t *testing.T) {
	m := testManager(t)
	m.Research("basics", researchLedger(t, 10, 0))
	donor := map[string]bool{"basics": true, "advanced": true}

	id, ok := m.Assist(donor, 5, "2026-10-14", entropy.NewSequence(0))
	if !ok || id != "advanced" {
		t.Fatalf("expected advanced assisted, got %q %v", id, ok)
	}
	adv := m.Get("advanced")
	if adv.CostOf(economy.Research) != 15 || adv.CostOf(economy.Wood) != 7.5 {
		t.Fatalf("expected 25%% reduction on every component, got %+v", adv.Costs)
	}
	if _, ok := m.Assist(donor, 5, "2026-10-14", entropy.NewSequence(0)); ok {
		t.Fatal("expected second assist on the same day to be rejected")
	}
	if _, ok := m.Assist(donor, 100, "2026-10-15", entropy.NewSequence(0)); !ok || !adv.Researched {
		t.Fatal("expected a large assist on the next day to complete the tech")
	}
}

func TestAssistWithoutCandidatesKeepsRateLimit(t *testing.T) {
	m := testManager(t)
	if _, ok := m.Assist(map[string]bool{"advanced": true}, 5, "2026-10-14", entropy.NewSequence(0)); ok {
		t.Fatal("expected no candidate while advanced is locked")
	}
	if m.LastAssistDay != "" {
		t.Fatal("expected failed assist not to consume the daily allowance")
	}
}

func TestGrantFreeSnapsSmallRemainders(t *testing.T) {
	m := testManager(t)
	// Candidates in order: basics, other. 0.99 picks the last one.
	id, ok := m.GrantFree(0.5, entropy.NewSequence(0.99))
	if !ok || id != "other" {
		t.Fatalf("expected other granted, got %q", id)
	}
	if got := m.Get("other").CostRatio(); got != 0.5 {
		t.Fatalf("expected cost ratio 0.5, got %f", got)
	}
	if _, ok := m.GrantFree(0.495, entropy.NewSequence(0.99)); !ok {
		t.Fatal("expected second grant")
	}
	if !m.Get("other").Researched {
		t.Fatal("expected ratio under 1% to snap to completion")
	}
}

func TestRestoreSkipsUnknown(t *testing.T) {
	m := testManager(t)
	if m.Restore("gone", 0, 0, nil, true, false) {
		t.Fatal("expected unknown tech to be reported")
	}
	if !m.Restore("basics", 0.4, 0.1, []economy.Cost{{Type: economy.Research, Amount: 0}}, true, false) {
		t.Fatal("expected known tech restored")
	}
	if m.Adoption("basics") != 0.4 || !m.CanResearch("advanced") {
		t.Fatal("expected restored state to drive adoption and prerequisites")
	}
}
