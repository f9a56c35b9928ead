// Package policy implements the epsilon-greedy bandit that picks which
// prediction tool to query, weighted by each tool's observed accuracy, with
// quarantine for tools that keep failing.
package policy

import (
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/oddlane/traderd/internal/domain"
)

// AccuracyInfo tracks how a single tool has performed so far.
type AccuracyInfo struct {
	// Requests is the number of requests the tool has responded to.
	Requests int `json:"requests"`
	// Pending counts responses that have not been settled (redeemed) yet.
	Pending int `json:"pending"`
	// Accuracy is the running average of valid responses, in [0, 1].
	Accuracy float64 `json:"accuracy"`
	// ConsecutiveFailures counts invalid responses since the last valid one.
	ConsecutiveFailures int `json:"consecutive_failures"`
	// QuarantinedAt is the time the tool entered quarantine, zero if never.
	QuarantinedAt time.Time `json:"quarantined_at,omitzero"`
	// UpdatedAt is the time of the last recorded response.
	UpdatedAt time.Time `json:"updated_at,omitzero"`
}

// Policy is the process-wide epsilon-greedy selection state. It is owned by
// the local replica and only serialized into consensus payloads at the rounds
// that must agree on tool choice. It is not safe for concurrent use.
type Policy struct {
	Epsilon                      float64                  `json:"eps"`
	ConsecutiveFailuresThreshold int                      `json:"consecutive_failures_threshold"`
	QuarantineDuration           time.Duration            `json:"quarantine_duration"`
	UpdatedAt                    time.Time                `json:"updated_at,omitzero"`
	AccuracyStore                map[string]*AccuracyInfo `json:"accuracy_store"`
}

// New builds a Policy with zero-initialized accuracy records for the given
// tools.
func New(epsilon float64, failuresThreshold int, quarantine time.Duration, tools []string) (*Policy, error) {
	if epsilon < 0 || epsilon > 1 {
		return nil, fmt.Errorf("policy: epsilon %v must be in [0, 1]", epsilon)
	}
	p := &Policy{
		Epsilon:                      epsilon,
		ConsecutiveFailuresThreshold: failuresThreshold,
		QuarantineDuration:           quarantine,
		AccuracyStore:                make(map[string]*AccuracyInfo, len(tools)),
	}
	for _, tool := range tools {
		p.AccuracyStore[tool] = &AccuracyInfo{}
	}
	return p, nil
}

// Deserialize restores a Policy from its canonical JSON form.
func Deserialize(raw []byte) (*Policy, error) {
	var p Policy
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, fmt.Errorf("policy: deserialize: %w", err)
	}
	if p.AccuracyStore == nil {
		p.AccuracyStore = make(map[string]*AccuracyInfo)
	}
	return &p, nil
}

// Serialize returns the full JSON form used for persistence and the
// cross-replica accuracy snapshots. encoding/json emits map keys in sorted
// order, so equal policies always serialize to equal bytes.
func (p *Policy) Serialize() ([]byte, error) {
	raw, err := json.Marshal(p)
	if err != nil {
		return nil, fmt.Errorf("policy: serialize: %w", err)
	}
	return raw, nil
}

// canonicalAccuracy is the clock-free projection of AccuracyInfo that enters
// consensus payloads.
type canonicalAccuracy struct {
	Requests            int     `json:"requests"`
	Pending             int     `json:"pending"`
	Accuracy            float64 `json:"accuracy"`
	ConsecutiveFailures int     `json:"consecutive_failures"`
}

type canonicalPolicy struct {
	Epsilon                      float64                      `json:"eps"`
	ConsecutiveFailuresThreshold int                          `json:"consecutive_failures_threshold"`
	QuarantineDuration           time.Duration                `json:"quarantine_duration"`
	AccuracyStore                map[string]canonicalAccuracy `json:"accuracy_store"`
}

// Canonical returns the JSON form exchanged in consensus payloads. It leaves
// out the wall-clock fields: replicas record the same agreed responses at
// slightly different local times, and payload agreement compares exact bytes.
func (p *Policy) Canonical() ([]byte, error) {
	view := canonicalPolicy{
		Epsilon:                      p.Epsilon,
		ConsecutiveFailuresThreshold: p.ConsecutiveFailuresThreshold,
		QuarantineDuration:           p.QuarantineDuration,
		AccuracyStore:                make(map[string]canonicalAccuracy, len(p.AccuracyStore)),
	}
	for tool, info := range p.AccuracyStore {
		view.AccuracyStore[tool] = canonicalAccuracy{
			Requests:            info.Requests,
			Pending:             info.Pending,
			Accuracy:            info.Accuracy,
			ConsecutiveFailures: info.ConsecutiveFailures,
		}
	}
	raw, err := json.Marshal(view)
	if err != nil {
		return nil, fmt.Errorf("policy: canonical: %w", err)
	}
	return raw, nil
}

// Tools returns all known tool names in stable sorted order.
func (p *Policy) Tools() []string {
	names := make([]string, 0, len(p.AccuracyStore))
	for name := range p.AccuracyStore {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// EnsureTools adds zero-initialized records for tools that appeared since the
// policy was created, so a tool set change never drops accumulated state.
func (p *Policy) EnsureTools(tools []string) {
	for _, tool := range tools {
		if _, ok := p.AccuracyStore[tool]; !ok {
			p.AccuracyStore[tool] = &AccuracyInfo{}
		}
	}
}

// totalRequests is the number of settled requests across all tools.
func (p *Policy) totalRequests() int {
	var total int
	for _, info := range p.AccuracyStore {
		total += info.Requests
	}
	return total
}

// HasUpdated reports whether any response has ever been recorded.
func (p *Policy) HasUpdated() bool { return p.totalRequests() > 0 }

// Quarantined reports whether the tool is currently quarantined.
func (p *Policy) Quarantined(tool string, now time.Time) bool {
	info, ok := p.AccuracyStore[tool]
	if !ok || info.QuarantinedAt.IsZero() {
		return false
	}
	return now.Before(info.QuarantinedAt.Add(p.QuarantineDuration))
}

// available returns the non-quarantined tools in stable sorted order.
func (p *Policy) available(now time.Time) []string {
	var names []string
	for _, tool := range p.Tools() {
		if !p.Quarantined(tool, now) {
			names = append(names, tool)
		}
	}
	return names
}

// WeightedAccuracy is the tool's accuracy weighted by its share of settled
// requests. Zero until any request has settled.
func (p *Policy) WeightedAccuracy(tool string) float64 {
	total := p.totalRequests()
	if total == 0 {
		return 0
	}
	info, ok := p.AccuracyStore[tool]
	if !ok {
		return 0
	}
	return info.Accuracy * float64(info.Requests-info.Pending) / float64(total)
}

// Select picks a tool given a random draw in [0, 1). With probability epsilon
// (or before any response has been recorded) it picks uniformly among the
// non-quarantined tools; otherwise it picks the non-quarantined tool with the
// highest weighted accuracy, ties broken by tool name order. Selection is
// deterministic for a fixed draw and accuracy state.
func (p *Policy) Select(randomDraw float64, now time.Time) (string, error) {
	available := p.available(now)
	if len(available) == 0 {
		return "", fmt.Errorf("policy: select: %w", domain.ErrNoToolsAvailable)
	}

	if !p.HasUpdated() {
		return available[drawIndex(randomDraw, len(available))], nil
	}
	if randomDraw < p.Epsilon {
		// The draw is confined to [0, epsilon); stretch it back over the
		// whole tool list so every tool stays reachable.
		return available[drawIndex(randomDraw/p.Epsilon, len(available))], nil
	}

	best := available[0]
	bestWeight := p.WeightedAccuracy(best)
	for _, tool := range available[1:] {
		if w := p.WeightedAccuracy(tool); w > bestWeight {
			best, bestWeight = tool, w
		}
	}
	return best, nil
}

// drawIndex maps a uniform draw in [0, 1) onto a list index.
func drawIndex(draw float64, n int) int {
	idx := int(draw * float64(n))
	if idx >= n {
		idx = n - 1
	}
	return idx
}

// RecordRequest marks a request as sent to the tool and pending settlement.
func (p *Policy) RecordRequest(tool string) error {
	info, ok := p.AccuracyStore[tool]
	if !ok {
		return fmt.Errorf("policy: record request: tool %q: %w", tool, domain.ErrNotFound)
	}
	info.Pending++
	return nil
}

// RecordResponse settles one pending request for the tool. Valid responses
// advance the accuracy running average and clear the failure streak; invalid
// ones extend the streak and quarantine the tool once the threshold is hit.
func (p *Policy) RecordResponse(tool string, ts time.Time, wasInvalid bool) error {
	info, ok := p.AccuracyStore[tool]
	if !ok {
		return fmt.Errorf("policy: record response: tool %q: %w", tool, domain.ErrNotFound)
	}

	info.Requests++
	if info.Pending > 0 {
		info.Pending--
	}
	info.UpdatedAt = ts
	p.UpdatedAt = ts

	if wasInvalid {
		info.ConsecutiveFailures++
		if info.ConsecutiveFailures >= p.ConsecutiveFailuresThreshold {
			info.QuarantinedAt = ts
		}
		// the accuracy average only moves on valid responses
		return nil
	}

	info.ConsecutiveFailures = 0
	info.QuarantinedAt = time.Time{}
	info.Accuracy += (1 - info.Accuracy) / float64(info.Requests)
	return nil
}

// MergeRemote folds a remotely published accuracy snapshot into the local
// store. It only applies on the first-ever run (before any local response has
// been recorded); a remote record wins when it is newer than the local one
// minus the given offset. Tools absent from the snapshot keep their local
// record.
func (p *Policy) MergeRemote(remote map[string]AccuracyInfo, offset time.Duration) {
	if p.HasUpdated() {
		return
	}
	for tool, remoteInfo := range remote {
		local, ok := p.AccuracyStore[tool]
		if !ok {
			continue
		}
		if remoteInfo.UpdatedAt.After(local.UpdatedAt.Add(-offset)) {
			merged := remoteInfo
			p.AccuracyStore[tool] = &merged
		}
	}
}
