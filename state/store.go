// Package state persists the streamvis document: JSON load with repair,
// atomic save, and a best-effort single-writer lock.
package state

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/ftahirops/streamvis/model"
	"github.com/ftahirops/streamvis/util"
)

// ErrNotLocked is returned by Save when the caller never acquired the
// writer lock for the target path.
var ErrNotLocked = errors.New("state: writer lock not held")

// Load reads the state document at path. A missing or corrupt file yields a
// fresh default state; corruption is recorded in meta.load_error rather than
// surfaced as an error. The returned state is always normalized.
func Load(path string) *model.State {
	st := model.NewState()
	data, err := os.ReadFile(path)
	if err == nil {
		var loaded model.State
		if jerr := json.Unmarshal(data, &loaded); jerr != nil {
			st.Meta.LoadError = fmt.Sprintf("unmarshal state: %v", jerr)
		} else {
			st = &loaded
			if st.Meta == nil {
				st.Meta = &model.Meta{}
			}
			if st.Gauges == nil {
				st.Gauges = make(map[string]*model.GaugeState)
			}
		}
	} else if !os.IsNotExist(err) {
		st.Meta.LoadError = fmt.Sprintf("read state: %v", err)
	}
	Normalize(st)
	return st
}

// Save writes the document to <path>.tmp and renames it into place. The
// caller must hold the writer lock obtained from AcquireLock.
func Save(st *model.State, path string, lock *FileLock) error {
	if lock == nil || !lock.held(path) {
		return fmt.Errorf("save %s: %w", path, ErrNotLocked)
	}
	st.Meta.StateVersion = model.StateSchemaVersion

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create state dir: %w", err)
	}
	data, err := json.MarshalIndent(st, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal state: %w", err)
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write state temp: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("replace state: %w", err)
	}
	return nil
}

// Normalize repairs a loaded document in place:
//   - history deduped per timestamp (later non-null values win), ascending,
//     capped at the rolling limit
//   - last_timestamp/last_stage/last_flow realigned to the newest entry
//   - mean_interval_sec clamped, incoherent cadence multiples dropped
//   - latency location/scale restored to the prior when missing or nonsense
func Normalize(st *model.State) {
	if st.Meta == nil {
		st.Meta = &model.Meta{}
	}
	if st.Gauges == nil {
		st.Gauges = make(map[string]*model.GaugeState)
	}
	for _, g := range st.Gauges {
		if g == nil {
			continue
		}
		g.History = MergeHistory(g.History, nil)
		if n := len(g.History); n > 0 {
			last := g.History[n-1]
			g.LastTimestamp = model.Time(last.TS)
			if last.Stage != nil {
				g.LastStage = last.Stage
			}
			if last.Flow != nil {
				g.LastFlow = last.Flow
			}
		}

		if g.MeanIntervalSec <= 0 {
			g.MeanIntervalSec = model.CadenceBaseSec
		}
		g.MeanIntervalSec = util.Clamp(g.MeanIntervalSec, model.MinIntervalSec, model.MaxIntervalSec)
		if g.CadenceMult < 0 || g.CadenceMult > model.CadenceMaxMult ||
			(g.CadenceMult > 0 && g.CadenceFit < model.CadenceClearMin) {
			g.CadenceMult = 0
			g.CadenceFit = 0
			g.PhaseOffsetSec = nil
		}

		if g.LatencyLocSec <= 0 {
			g.LatencyLocSec = model.LatencyPriorLocSec
		}
		if g.LatencyScaleSec <= 0 {
			g.LatencyScaleSec = model.LatencyPriorScaleSec
		}
		g.LatencySamples = cleanSamples(g.LatencySamples)
		g.Deltas = cleanSamples(g.Deltas)
	}
}

func cleanSamples(in []float64) []float64 {
	out := in[:0:0]
	for _, v := range in {
		if v >= 0 {
			out = append(out, v)
		}
	}
	if len(out) > model.HistoryLimit {
		out = out[len(out)-model.HistoryLimit:]
	}
	return out
}

// MergeHistory merges extra points into history, keeping one entry per
// timestamp with non-null metrics preferred, sorted ascending and capped.
func MergeHistory(history, extra []model.HistoryPoint) []model.HistoryPoint {
	byTS := make(map[time.Time]*model.HistoryPoint, len(history)+len(extra))
	order := make([]time.Time, 0, len(history)+len(extra))
	add := func(p model.HistoryPoint) {
		if p.TS.IsZero() {
			return
		}
		ts := p.TS.UTC()
		existing, ok := byTS[ts]
		if !ok {
			cp := p
			cp.TS = ts
			byTS[ts] = &cp
			order = append(order, ts)
			return
		}
		if p.Stage != nil {
			existing.Stage = p.Stage
		}
		if p.Flow != nil {
			existing.Flow = p.Flow
		}
	}
	for _, p := range history {
		add(p)
	}
	for _, p := range extra {
		add(p)
	}
	sort.Slice(order, func(i, j int) bool { return order[i].Before(order[j]) })
	if len(order) > model.HistoryLimit {
		order = order[len(order)-model.HistoryLimit:]
	}
	out := make([]model.HistoryPoint, 0, len(order))
	for _, ts := range order {
		out = append(out, *byTS[ts])
	}
	return out
}

// EvictDynamicGauges removes all dynamically discovered gauges and their
// learned state. Returns the removed gauge ids.
func EvictDynamicGauges(st *model.State) []string {
	meta := st.Meta
	if meta == nil || len(meta.DynamicSites) == 0 {
		return nil
	}
	removed := make([]string, 0, len(meta.DynamicSites))
	for id := range meta.DynamicSites {
		removed = append(removed, id)
		delete(st.Gauges, id)
	}
	sort.Strings(removed)
	meta.DynamicSites = nil
	meta.NearbySearchAt = nil
	meta.NearbyGauges = nil
	return removed
}
