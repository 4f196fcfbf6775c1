package dedup

import (
	"context"
	"errors"
	"fmt"
	"io"
	"testing"

	"bitbucket.org/mmdatafocus/katsync_backend/koza"
	"github.com/sirupsen/logrus"
)

// NOTE: These tests are intentionally DB-free; the audit trail is skipped when
// no database is attached. Remote behavior is simulated with fakeRemote.

type fakeRemote struct {
	cards      map[string]koza.StockCard
	deleted    []int64
	updated    []koza.StockCard
	failDelete map[int64]error
	listErr    error
}

func newFakeRemote(cards ...koza.StockCard) *fakeRemote {
	f := &fakeRemote{cards: map[string]koza.StockCard{}, failDelete: map[int64]error{}}
	for _, c := range cards {
		f.cards[c.Code] = c
	}
	return f
}

func (f *fakeRemote) ListStockCards(ctx context.Context) ([]koza.StockCard, error) {
	if f.listErr != nil {
		return nil, f.listErr
	}
	out := make([]koza.StockCard, 0, len(f.cards))
	for _, c := range f.cards {
		out = append(out, c)
	}
	return out, nil
}

func (f *fakeRemote) GetStockCard(ctx context.Context, code string) (*koza.StockCard, error) {
	c, ok := f.cards[code]
	if !ok {
		return nil, &koza.RemoteError{StatusCode: 404, Op: "GetStockCard", Message: "not found"}
	}
	return &c, nil
}

func (f *fakeRemote) UpdateStockCard(ctx context.Context, card koza.StockCard) error {
	f.updated = append(f.updated, card)
	return nil
}

func (f *fakeRemote) DeleteStockCard(ctx context.Context, id int64) error {
	if err := f.failDelete[id]; err != nil {
		return err
	}
	f.deleted = append(f.deleted, id)
	return nil
}

func newTestService(remote RemoteCardAPI) *Service {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return NewService(remote, nil, logger)
}

func versioningGroup(cards ...koza.StockCard) DuplicateGroup {
	return DuplicateGroup{GroupId: "g1", Key: "WIDGET-A", Type: TypeVersioning, Cards: cards}
}

func TestSelectCanonical_PreferNoVersionSuffix(t *testing.T) {
	g := versioningGroup(
		card(1, "WA-V2", "WIDGET-A-V2"),
		card(2, "WA", "WIDGET-A"),
	)
	canonical, rule := SelectCanonical(g, DefaultRules(), nil)
	if canonical == nil || canonical.ID != 2 {
		t.Fatalf("expected card 2, got %+v", canonical)
	}
	if rule != RulePreferNoVersionSuffix {
		t.Fatalf("unexpected rule %q", rule)
	}
}

func TestSelectCanonical_PreferLowerVersionWhenAllVersioned(t *testing.T) {
	g := versioningGroup(
		card(1, "WA-V3", "WIDGET-A-V3"),
		card(2, "WA-V2", "WIDGET-A-V2"),
	)
	canonical, rule := SelectCanonical(g, DefaultRules(), nil)
	if canonical == nil || canonical.ID != 2 {
		t.Fatalf("expected card 2 (lower version), got %+v", canonical)
	}
	if rule != RulePreferLowerVersion {
		t.Fatalf("unexpected rule %q", rule)
	}
}

func TestSelectCanonical_PreferShorterCode(t *testing.T) {
	g := versioningGroup(
		card(1, "WIDGET-A-COPY", "WIDGET-A"),
		card(2, "WIDGET-A", "WIDGET-A"),
	)
	canonical, rule := SelectCanonical(g, DefaultRules(), nil)
	if canonical == nil || canonical.ID != 2 {
		t.Fatalf("expected card 2 (shorter code), got %+v", canonical)
	}
	if rule != RulePreferShorterCode {
		t.Fatalf("unexpected rule %q", rule)
	}
}

func TestSelectCanonical_FallbackLowestId(t *testing.T) {
	g := versioningGroup(
		card(7, "WA", "WIDGET-A"),
		card(3, "WB", "WIDGET-A"),
	)
	canonical, rule := SelectCanonical(g, DefaultRules(), nil)
	if canonical == nil || canonical.ID != 3 {
		t.Fatalf("expected card 3 (lowest id), got %+v", canonical)
	}
	if rule != "LowestCardId" {
		t.Fatalf("unexpected rule %q", rule)
	}
}

func TestSelectCanonical_DisabledRulesAreSkipped(t *testing.T) {
	rules := DefaultRules()
	for i := range rules {
		rules[i].Enabled = false
	}
	g := versioningGroup(
		card(5, "WA-V2", "WIDGET-A-V2"),
		card(9, "WA", "WIDGET-A"),
	)
	canonical, rule := SelectCanonical(g, rules, nil)
	if canonical == nil || canonical.ID != 5 || rule != "LowestCardId" {
		t.Fatalf("expected fallback to lowest id, got %+v via %q", canonical, rule)
	}
}

func TestPlan_CanonicalNeverListedForRemoval(t *testing.T) {
	s := newTestService(newFakeRemote())
	g := versioningGroup(
		card(1, "WA", "WIDGET-A"),
		card(2, "WA-V2", "WIDGET-A-V2"),
		card(3, "WA-V3", "WIDGET-A-V3"),
	)

	actions := s.Plan([]DuplicateGroup{g}, nil)
	if len(actions) != 1 {
		t.Fatalf("expected 1 action, got %d", len(actions))
	}
	a := actions[0]
	if a.Action != ActionRemove || a.Canonical == nil || a.Canonical.ID != 1 {
		t.Fatalf("unexpected action: %+v", a)
	}
	for _, c := range a.CardsToRemove {
		if c.ID == a.Canonical.ID {
			t.Fatal("canonical card listed for removal")
		}
	}
	if len(a.CardsToRemove) != 2 {
		t.Fatalf("expected 2 removals, got %d", len(a.CardsToRemove))
	}
}

func TestPlan_ProtectedCodeSkipsGroup(t *testing.T) {
	s := newTestService(newFakeRemote())
	g := versioningGroup(
		card(1, "WA", "WIDGET-A"),
		card(2, "WA-V2", "WIDGET-A-V2"),
	)

	actions := s.Plan([]DuplicateGroup{g}, map[string]bool{"WA-V2": true})
	if actions[0].Action != ActionSkip {
		t.Fatalf("expected Skip, got %s", actions[0].Action)
	}
	if actions[0].SkipReason == "" {
		t.Fatal("skip reason missing")
	}
}

func TestPlan_ConcatenatedCanonicalGetsCorrected(t *testing.T) {
	s := newTestService(newFakeRemote())
	g := DuplicateGroup{
		GroupId: "g2",
		Key:     "FOO-BAR",
		Type:    TypeConcatenationError,
		Cards: []koza.StockCard{
			card(1, "FB", "FOO-BARFOO-BAR"),
			card(2, "FB-LONGER", "FOO-BARFOO-BAR"),
		},
	}

	a := s.Plan([]DuplicateGroup{g}, nil)[0]
	if a.Action != ActionUpdateAndRemove {
		t.Fatalf("expected UpdateAndRemove, got %s", a.Action)
	}
	if a.UpdatedName != "FOO-BAR" {
		t.Fatalf("unexpected corrected name %q", a.UpdatedName)
	}
}

func TestExecute_RemovesDuplicatesKeepsCanonical(t *testing.T) {
	canonical := card(1, "WA", "WIDGET-A")
	remote := newFakeRemote(canonical, card(2, "WA-V2", "WIDGET-A-V2"))
	s := newTestService(remote)

	g := versioningGroup(canonical, card(2, "WA-V2", "WIDGET-A-V2"))
	result := s.Execute(context.Background(), s.Plan([]DuplicateGroup{g}, nil))

	if result.GroupsProcessed != 1 || result.CardsRemoved != 1 || len(result.Errors) != 0 {
		t.Fatalf("unexpected result: %+v", result)
	}
	if len(remote.deleted) != 1 || remote.deleted[0] != 2 {
		t.Fatalf("unexpected deletions: %v", remote.deleted)
	}
}

func TestExecute_GroupsAreIsolated(t *testing.T) {
	remote := newFakeRemote(
		card(1, "WA", "WIDGET-A"),
		card(2, "WA-V2", "WIDGET-A-V2"),
		card(10, "GZ", "GIZMO"),
		card(11, "GZ-V2", "GIZMO-V2"),
	)
	remote.failDelete[2] = errors.New("remote rejected the delete")
	s := newTestService(remote)

	groups := []DuplicateGroup{
		versioningGroup(card(1, "WA", "WIDGET-A"), card(2, "WA-V2", "WIDGET-A-V2")),
		{GroupId: "g2", Key: "GIZMO", Type: TypeVersioning, Cards: []koza.StockCard{
			card(10, "GZ", "GIZMO"),
			card(11, "GZ-V2", "GIZMO-V2"),
		}},
	}

	result := s.Execute(context.Background(), s.Plan(groups, nil))
	if len(result.Errors) != 1 {
		t.Fatalf("expected 1 group error, got %+v", result.Errors)
	}
	if result.GroupsProcessed != 1 {
		t.Fatalf("second group should still process: %+v", result)
	}
	if len(remote.deleted) != 1 || remote.deleted[0] != 11 {
		t.Fatalf("unexpected deletions: %v", remote.deleted)
	}
}

func TestExecute_StaleCanonicalAborts(t *testing.T) {
	// Remote state moved on: the code now belongs to a different card.
	remote := newFakeRemote(card(99, "WA", "WIDGET-A"))
	s := newTestService(remote)

	g := versioningGroup(card(1, "WA", "WIDGET-A"), card(2, "WA-V2", "WIDGET-A-V2"))
	result := s.Execute(context.Background(), s.Plan([]DuplicateGroup{g}, nil))

	if len(result.Errors) != 1 || result.GroupsProcessed != 0 {
		t.Fatalf("expected the group to abort: %+v", result)
	}
	if len(remote.deleted) != 0 {
		t.Fatalf("nothing may be deleted when verification fails: %v", remote.deleted)
	}
}

func TestExecute_UpdateAndRemove(t *testing.T) {
	canonical := card(1, "FB", "FOO-BARFOO-BAR")
	remote := newFakeRemote(canonical, card(2, "FB2", "FOO-BARFOO-BAR"))
	s := newTestService(remote)

	g := DuplicateGroup{GroupId: "g1", Key: "FOO-BAR", Type: TypeConcatenationError,
		Cards: []koza.StockCard{canonical, card(2, "FB2", "FOO-BARFOO-BAR")}}
	result := s.Execute(context.Background(), s.Plan([]DuplicateGroup{g}, nil))

	if result.CardsUpdated != 1 || result.CardsRemoved != 1 {
		t.Fatalf("unexpected result: %+v", result)
	}
	if len(remote.updated) != 1 || remote.updated[0].Name != "FOO-BAR" {
		t.Fatalf("canonical not corrected: %+v", remote.updated)
	}
}

func TestExecute_SkippedGroupsTouchNothing(t *testing.T) {
	remote := newFakeRemote(card(1, "WA", "WIDGET-A"), card(2, "WA-V2", "WIDGET-A-V2"))
	s := newTestService(remote)

	g := versioningGroup(card(1, "WA", "WIDGET-A"), card(2, "WA-V2", "WIDGET-A-V2"))
	result := s.Execute(context.Background(), s.Plan([]DuplicateGroup{g}, map[string]bool{"WA-V2": true}))

	if result.GroupsSkipped != 1 || result.GroupsProcessed != 0 {
		t.Fatalf("unexpected result: %+v", result)
	}
	if len(remote.deleted) != 0 || len(remote.updated) != 0 {
		t.Fatal("skipped group must make no remote calls")
	}
}

func TestAnalyze_PropagatesRemoteError(t *testing.T) {
	remote := newFakeRemote()
	remote.listErr = fmt.Errorf("list: %w", &koza.RemoteError{StatusCode: 503, Op: "ListStockCards", Message: "unavailable"})
	s := newTestService(remote)

	if _, err := s.Analyze(context.Background()); err == nil {
		t.Fatal("expected the remote error to surface")
	}
}
