package knowledge

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/atlas-desktop/paperengine/pkg/types"
)

// persister is the directory-of-JSON-files backing store: one subdirectory
// per table, one file per key, atomic temp-file-then-rename writes.
type persister struct {
	root string
}

func newFilePersister(root string) (persister, error) {
	p := persister{root: root}
	for _, sub := range []string{"coin_scores", "patterns", "regime_rules", "adaptations"} {
		if err := os.MkdirAll(filepath.Join(root, sub), 0o755); err != nil {
			return p, err
		}
	}
	return p, nil
}

func (p persister) saveCoinScore(cs types.CoinScore) error {
	return writeAtomic(filepath.Join(p.root, "coin_scores", cs.Coin+".json"), cs)
}

func (p persister) savePattern(pat types.TradingPattern) error {
	return writeAtomic(filepath.Join(p.root, "patterns", pat.PatternID+".json"), pat)
}

func (p persister) saveRule(r types.RegimeRule) error {
	return writeAtomic(filepath.Join(p.root, "regime_rules", r.RuleID+".json"), r)
}

func (p persister) saveAdaptation(a types.Adaptation) error {
	return writeAtomic(filepath.Join(p.root, "adaptations", a.ID+".json"), a)
}

func writeAtomic(path string, v any) error {
	raw, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, raw, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

// loadAll populates s's in-memory maps from whatever this persister has on
// disk. Corrupt or unreadable files are skipped silently, not fatal:
// a partial knowledge store on disk is recoverable, unlike a live invariant
// violation.
func (p persister) loadAll(s *Store) error {
	if err := loadTable(filepath.Join(p.root, "coin_scores"), func(raw []byte) error {
		var cs types.CoinScore
		if err := json.Unmarshal(raw, &cs); err != nil {
			return err
		}
		s.coinScores[cs.Coin] = cs
		return nil
	}); err != nil {
		return fmt.Errorf("load coin_scores: %w", err)
	}

	if err := loadTable(filepath.Join(p.root, "patterns"), func(raw []byte) error {
		var pat types.TradingPattern
		if err := json.Unmarshal(raw, &pat); err != nil {
			return err
		}
		s.patterns[pat.PatternID] = pat
		return nil
	}); err != nil {
		return fmt.Errorf("load patterns: %w", err)
	}

	if err := loadTable(filepath.Join(p.root, "regime_rules"), func(raw []byte) error {
		var r types.RegimeRule
		if err := json.Unmarshal(raw, &r); err != nil {
			return err
		}
		s.rules[r.RuleID] = r
		return nil
	}); err != nil {
		return fmt.Errorf("load regime_rules: %w", err)
	}

	if err := loadTable(filepath.Join(p.root, "adaptations"), func(raw []byte) error {
		var a types.Adaptation
		if err := json.Unmarshal(raw, &a); err != nil {
			return err
		}
		s.adaptations[a.ID] = a
		s.adaptOrder = append(s.adaptOrder, a.ID)
		return nil
	}); err != nil {
		return fmt.Errorf("load adaptations: %w", err)
	}

	return nil
}

func loadTable(dir string, handle func([]byte) error) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return err
	}
	for _, entry := range entries {
		if entry.IsDir() || filepath.Ext(entry.Name()) != ".json" {
			continue
		}
		raw, err := os.ReadFile(filepath.Join(dir, entry.Name()))
		if err != nil {
			continue
		}
		_ = handle(raw)
	}
	return nil
}
