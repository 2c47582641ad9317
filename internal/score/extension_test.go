package score

import (
	"testing"

	"github.com/opensource-finance/kestrel/internal/domain"
)

func TestExtensionCreation(t *testing.T) {
	ext, err := NewExtension()
	if err != nil {
		t.Fatalf("failed to create extension: %v", err)
	}
	defer ext.Close()

	if ext.RulesCount() != 0 {
		t.Errorf("expected 0 rules, got %d", ext.RulesCount())
	}
}

func TestLoadRule(t *testing.T) {
	ext, _ := NewExtension()
	defer ext.Close()

	rule := &domain.ScoreRule{
		ID:         "round-amount",
		Name:       "Round Amount",
		Expression: "amount >= 100.0 && amount == double(int(amount))",
		Points:     10,
		Enabled:    true,
	}

	if err := ext.LoadRule(rule); err != nil {
		t.Fatalf("failed to load rule: %v", err)
	}
	if ext.RulesCount() != 1 {
		t.Errorf("expected 1 rule, got %d", ext.RulesCount())
	}
}

func TestLoadInvalidRule(t *testing.T) {
	ext, _ := NewExtension()
	defer ext.Close()

	t.Run("BadSyntax", func(t *testing.T) {
		err := ext.LoadRule(&domain.ScoreRule{
			ID:         "bad",
			Expression: "this is not valid CEL !!!",
			Enabled:    true,
		})
		if err == nil {
			t.Error("expected error for invalid CEL expression")
		}
	})

	t.Run("NonBoolOutput", func(t *testing.T) {
		err := ext.LoadRule(&domain.ScoreRule{
			ID:         "numeric",
			Expression: "amount * 2.0",
			Enabled:    true,
		})
		if err == nil {
			t.Error("expected error for non-bool expression")
		}
	})
}

func TestExtensionPoints(t *testing.T) {
	ext, _ := NewExtension()
	defer ext.Close()

	rules := []*domain.ScoreRule{
		{ID: "night-gas", Expression: `hour >= 0 && hour <= 5 && category == "gas_transport"`, Points: 10, Enabled: true},
		{ID: "small-town", Expression: "city_pop > 0 && city_pop < 5000", Points: 5, Enabled: true},
		{ID: "disabled", Expression: "true", Points: 20, Enabled: false},
	}
	if err := ext.LoadRules(rules); err != nil {
		t.Fatalf("failed to load rules: %v", err)
	}
	if ext.RulesCount() != 2 {
		t.Fatalf("expected 2 enabled rules, got %d", ext.RulesCount())
	}

	in := Input{Amount: 40, UnixTime: atHour(2), Category: "gas_transport"}
	raw := domain.RawEvent{"city_pop": float64(1200)}

	if got := ext.Points(in, raw); got != 15 {
		t.Errorf("expected 15 extra points, got %d", got)
	}

	// No timestamp: hour binds to -1 and the night rule stays quiet.
	in = Input{Amount: 40, Category: "gas_transport"}
	if got := ext.Points(in, raw); got != 5 {
		t.Errorf("expected 5 extra points without timestamp, got %d", got)
	}
}

func TestExtensionPointsCapped(t *testing.T) {
	ext, _ := NewExtension()
	defer ext.Close()

	ext.LoadRule(&domain.ScoreRule{
		ID:         "greedy",
		Expression: "true",
		Points:     90,
		Enabled:    true,
	})

	if got := ext.Points(Input{Amount: 40}, nil); got != domain.MaxRulePoints {
		t.Errorf("expected contribution capped at %d, got %d", domain.MaxRulePoints, got)
	}
}

func TestReloadRules(t *testing.T) {
	ext, _ := NewExtension()
	defer ext.Close()

	ext.LoadRule(&domain.ScoreRule{ID: "old", Expression: "true", Points: 5, Enabled: true})

	err := ext.ReloadRules([]*domain.ScoreRule{
		{ID: "new-a", Expression: "amount > 50.0", Points: 5, Enabled: true},
		{ID: "new-b", Expression: "amount > 500.0", Points: 5, Enabled: true},
	})
	if err != nil {
		t.Fatalf("reload failed: %v", err)
	}
	if ext.RulesCount() != 2 {
		t.Errorf("expected 2 rules after reload, got %d", ext.RulesCount())
	}
}
