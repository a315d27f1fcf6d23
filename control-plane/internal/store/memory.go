package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/pilot-net/fleet-alerts/pkg/types"
)

// MemoryStore is an in-process store for tests and local development.
//
// Transactions are serialized by a single mutex. Each transaction works on a
// copy of the state that replaces the live state only when fn succeeds, so a
// failed transaction leaves nothing behind.
type MemoryStore struct {
	mu    sync.Mutex
	state *memState
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{state: newMemState()}
}

// InTx runs fn in a serialized transaction.
func (m *MemoryStore) InTx(ctx context.Context, fn func(tx Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	work := m.state.clone()
	if err := fn(&memTx{st: work}); err != nil {
		return err
	}
	m.state = work
	return nil
}

// Ping always succeeds.
func (m *MemoryStore) Ping(ctx context.Context) error {
	return nil
}

// Close is a no-op.
func (m *MemoryStore) Close() {}

// ListTenantsWithOpenAlerts returns tenants that have OPEN alerts, sorted.
func (m *MemoryStore) ListTenantsWithOpenAlerts(ctx context.Context) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	seen := make(map[string]bool)
	for _, a := range m.state.alerts {
		if a.Status == types.AlertStatusOpen {
			seen[a.TenantID] = true
		}
	}
	tenants := make([]string, 0, len(seen))
	for t := range seen {
		tenants = append(tenants, t)
	}
	sort.Strings(tenants)
	return tenants, nil
}

// =============================================================================
// STATE
// =============================================================================

type memState struct {
	alerts      map[string]*types.Alert
	routeLogs   []*types.RouteLogEntry
	actions     []*types.HandlingAction
	executions  []*types.EscalationExecution
	routing     map[string]*types.RoutingRule
	silences    map[string]*types.SilenceRule
	aggregation map[string]*types.AggregationRule
	shifts      map[string]*types.OncallShift
	policies    map[string]*types.EscalationPolicy // tenant|priority
}

func newMemState() *memState {
	return &memState{
		alerts:      make(map[string]*types.Alert),
		routing:     make(map[string]*types.RoutingRule),
		silences:    make(map[string]*types.SilenceRule),
		aggregation: make(map[string]*types.AggregationRule),
		shifts:      make(map[string]*types.OncallShift),
		policies:    make(map[string]*types.EscalationPolicy),
	}
}

func (s *memState) clone() *memState {
	c := newMemState()
	for k, v := range s.alerts {
		c.alerts[k] = v.Clone()
	}
	for _, e := range s.routeLogs {
		cp := *e
		cp.Detail = cloneDetail(e.Detail)
		c.routeLogs = append(c.routeLogs, &cp)
	}
	// Actions and executions are immutable once written.
	c.actions = append(c.actions, s.actions...)
	c.executions = append(c.executions, s.executions...)
	for k, v := range s.routing {
		cp := *v
		c.routing[k] = &cp
	}
	for k, v := range s.silences {
		cp := *v
		c.silences[k] = &cp
	}
	for k, v := range s.aggregation {
		cp := *v
		c.aggregation[k] = &cp
	}
	for k, v := range s.shifts {
		cp := *v
		c.shifts[k] = &cp
	}
	for k, v := range s.policies {
		cp := *v
		c.policies[k] = &cp
	}
	return c
}

func cloneDetail(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	c := make(map[string]any, len(m))
	for k, v := range m {
		c[k] = v
	}
	return c
}

func policyKey(tenantID string, p types.Priority) string {
	return tenantID + "|" + string(p)
}

// =============================================================================
// TRANSACTION
// =============================================================================

type memTx struct {
	st *memState
}

var _ Tx = (*memTx)(nil)

// --- alerts ---

func (t *memTx) FindActiveAlert(ctx context.Context, tenantID, droneID string, kind types.AlertKind) (*types.Alert, error) {
	for _, a := range t.st.alerts {
		if a.TenantID == tenantID && a.DroneID == droneID && a.Kind == kind && a.IsActive() {
			return a.Clone(), nil
		}
	}
	return nil, nil
}

func (t *memTx) GetAlert(ctx context.Context, tenantID, id string, forUpdate bool) (*types.Alert, error) {
	a, ok := t.st.alerts[id]
	if !ok || a.TenantID != tenantID {
		return nil, nil
	}
	return a.Clone(), nil
}

func (t *memTx) CreateAlert(ctx context.Context, alert *types.Alert) error {
	if _, ok := t.st.alerts[alert.ID]; ok {
		return fmt.Errorf("alert %s: %w", alert.ID, types.ErrDuplicate)
	}
	if alert.IsActive() {
		for _, a := range t.st.alerts {
			if a.TenantID == alert.TenantID && a.DroneID == alert.DroneID && a.Kind == alert.Kind && a.IsActive() {
				return fmt.Errorf("active alert for %s/%s: %w", alert.DroneID, alert.Kind, types.ErrDuplicate)
			}
		}
	}
	t.st.alerts[alert.ID] = alert.Clone()
	return nil
}

func (t *memTx) UpdateAlert(ctx context.Context, alert *types.Alert) error {
	existing, ok := t.st.alerts[alert.ID]
	if !ok || existing.TenantID != alert.TenantID {
		return fmt.Errorf("alert %s: %w", alert.ID, types.ErrNotFound)
	}
	t.st.alerts[alert.ID] = alert.Clone()
	return nil
}

func (t *memTx) ListAlerts(ctx context.Context, tenantID string, filter types.AlertFilter) ([]types.Alert, error) {
	var out []types.Alert
	for _, a := range t.st.alerts {
		if a.TenantID != tenantID {
			continue
		}
		if filter.Status != nil && a.Status != *filter.Status {
			continue
		}
		if filter.Kind != nil && a.Kind != *filter.Kind {
			continue
		}
		if filter.DroneID != nil && a.DroneID != *filter.DroneID {
			continue
		}
		out = append(out, *a.Clone())
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].LastSeenAt.Equal(out[j].LastSeenAt) {
			return out[i].LastSeenAt.After(out[j].LastSeenAt)
		}
		return out[i].ID < out[j].ID
	})
	return paginate(out, filter.Offset, filter.Limit), nil
}

func (t *memTx) ListOpenAlerts(ctx context.Context, tenantID string, limit int) ([]types.Alert, error) {
	var out []types.Alert
	for _, a := range t.st.alerts {
		if a.TenantID == tenantID && a.Status == types.AlertStatusOpen {
			out = append(out, *a.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].FirstSeenAt.Equal(out[j].FirstSeenAt) {
			return out[i].FirstSeenAt.Before(out[j].FirstSeenAt)
		}
		return out[i].ID < out[j].ID
	})
	return paginate(out, 0, limit), nil
}

func (t *memTx) ListAlertsFirstSeen(ctx context.Context, tenantID string, from, to *time.Time) ([]types.Alert, error) {
	var out []types.Alert
	for _, a := range t.st.alerts {
		if a.TenantID == tenantID && inWindow(a.FirstSeenAt, from, to) {
			out = append(out, *a.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].FirstSeenAt.Before(out[j].FirstSeenAt) })
	return out, nil
}

func inWindow(t time.Time, from, to *time.Time) bool {
	if from != nil && t.Before(*from) {
		return false
	}
	if to != nil && !t.Before(*to) {
		return false
	}
	return true
}

func paginate[T any](items []T, offset, limit int) []T {
	if offset >= len(items) {
		return nil
	}
	items = items[offset:]
	if limit > 0 && limit < len(items) {
		items = items[:limit]
	}
	return items
}

// --- route logs ---

func (t *memTx) InsertRouteLog(ctx context.Context, entry *types.RouteLogEntry) error {
	cp := *entry
	cp.Detail = cloneDetail(entry.Detail)
	t.st.routeLogs = append(t.st.routeLogs, &cp)
	return nil
}

func (t *memTx) GetRouteLog(ctx context.Context, tenantID, id string, forUpdate bool) (*types.RouteLogEntry, error) {
	for _, e := range t.st.routeLogs {
		if e.ID == id && e.TenantID == tenantID {
			cp := *e
			cp.Detail = cloneDetail(e.Detail)
			return &cp, nil
		}
	}
	return nil, nil
}

func (t *memTx) UpdateRouteLogDetail(ctx context.Context, tenantID, id string, detail map[string]any) error {
	for _, e := range t.st.routeLogs {
		if e.ID == id && e.TenantID == tenantID {
			e.Detail = cloneDetail(detail)
			return nil
		}
	}
	return fmt.Errorf("route log %s: %w", id, types.ErrNotFound)
}

func (t *memTx) ListRouteLogs(ctx context.Context, tenantID, alertID string) ([]types.RouteLogEntry, error) {
	var out []types.RouteLogEntry
	for _, e := range t.st.routeLogs {
		if e.TenantID == tenantID && e.AlertID == alertID {
			cp := *e
			cp.Detail = cloneDetail(e.Detail)
			out = append(out, cp)
		}
	}
	return out, nil
}

// --- handling actions ---

func (t *memTx) InsertHandlingAction(ctx context.Context, action *types.HandlingAction) error {
	cp := *action
	t.st.actions = append(t.st.actions, &cp)
	return nil
}

func (t *memTx) ListHandlingActions(ctx context.Context, tenantID, alertID string) ([]types.HandlingAction, error) {
	var out []types.HandlingAction
	for _, a := range t.st.actions {
		if a.TenantID == tenantID && a.AlertID == alertID {
			out = append(out, *a)
		}
	}
	return out, nil
}

// --- escalation executions ---

func (t *memTx) EscalationExists(ctx context.Context, tenantID, alertID string, level int) (bool, error) {
	for _, e := range t.st.executions {
		if e.TenantID == tenantID && e.AlertID == alertID && e.Level == level {
			return true, nil
		}
	}
	return false, nil
}

func (t *memTx) InsertEscalationExecution(ctx context.Context, exec *types.EscalationExecution) error {
	for _, e := range t.st.executions {
		if e.AlertID == exec.AlertID && e.Level == exec.Level {
			return fmt.Errorf("escalation %s level %d: %w", exec.AlertID, exec.Level, types.ErrDuplicate)
		}
	}
	cp := *exec
	t.st.executions = append(t.st.executions, &cp)
	return nil
}

func (t *memTx) ListEscalationExecutions(ctx context.Context, tenantID, alertID string) ([]types.EscalationExecution, error) {
	var out []types.EscalationExecution
	for _, e := range t.st.executions {
		if e.TenantID == tenantID && e.AlertID == alertID {
			out = append(out, *e)
		}
	}
	return out, nil
}

func (t *memTx) ListEscalatedAlertIDs(ctx context.Context, tenantID string, reason types.EscalationReason, from, to *time.Time) ([]string, error) {
	seen := make(map[string]bool)
	var out []string
	for _, e := range t.st.executions {
		if e.TenantID != tenantID || e.Reason != reason || seen[e.AlertID] {
			continue
		}
		a, ok := t.st.alerts[e.AlertID]
		if !ok || !inWindow(a.FirstSeenAt, from, to) {
			continue
		}
		seen[e.AlertID] = true
		out = append(out, e.AlertID)
	}
	return out, nil
}

// --- routing rules ---

func (t *memTx) ListRoutingRules(ctx context.Context, tenantID string, activeOnly bool) ([]types.RoutingRule, error) {
	var out []types.RoutingRule
	for _, r := range t.st.routing {
		if r.TenantID == tenantID && (!activeOnly || r.IsActive) {
			out = append(out, *r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return byCreation(out[i].CreatedAt, out[i].ID, out[j].CreatedAt, out[j].ID) })
	return out, nil
}

func (t *memTx) GetRoutingRule(ctx context.Context, tenantID, id string) (*types.RoutingRule, error) {
	r, ok := t.st.routing[id]
	if !ok || r.TenantID != tenantID {
		return nil, nil
	}
	cp := *r
	return &cp, nil
}

func (t *memTx) CreateRoutingRule(ctx context.Context, rule *types.RoutingRule) error {
	if _, ok := t.st.routing[rule.ID]; ok {
		return fmt.Errorf("routing rule %s: %w", rule.ID, types.ErrDuplicate)
	}
	for _, r := range t.st.routing {
		if r.TenantID == rule.TenantID && r.Name == rule.Name {
			return fmt.Errorf("routing rule name %q: %w", rule.Name, types.ErrDuplicate)
		}
	}
	cp := *rule
	t.st.routing[rule.ID] = &cp
	return nil
}

func (t *memTx) UpdateRoutingRule(ctx context.Context, rule *types.RoutingRule) error {
	for _, r := range t.st.routing {
		if r.ID != rule.ID && r.TenantID == rule.TenantID && r.Name == rule.Name {
			return fmt.Errorf("routing rule name %q: %w", rule.Name, types.ErrDuplicate)
		}
	}
	cp := *rule
	t.st.routing[rule.ID] = &cp
	return nil
}

func (t *memTx) DeleteRoutingRule(ctx context.Context, tenantID, id string) error {
	if r, ok := t.st.routing[id]; ok && r.TenantID == tenantID {
		delete(t.st.routing, id)
	}
	return nil
}

// --- silence rules ---

func (t *memTx) ListSilenceRules(ctx context.Context, tenantID string, activeOnly bool) ([]types.SilenceRule, error) {
	var out []types.SilenceRule
	for _, r := range t.st.silences {
		if r.TenantID == tenantID && (!activeOnly || r.IsActive) {
			out = append(out, *r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return byCreation(out[i].CreatedAt, out[i].ID, out[j].CreatedAt, out[j].ID) })
	return out, nil
}

func (t *memTx) GetSilenceRule(ctx context.Context, tenantID, id string) (*types.SilenceRule, error) {
	r, ok := t.st.silences[id]
	if !ok || r.TenantID != tenantID {
		return nil, nil
	}
	cp := *r
	return &cp, nil
}

func (t *memTx) CreateSilenceRule(ctx context.Context, rule *types.SilenceRule) error {
	if _, ok := t.st.silences[rule.ID]; ok {
		return fmt.Errorf("silence rule %s: %w", rule.ID, types.ErrDuplicate)
	}
	for _, r := range t.st.silences {
		if r.TenantID == rule.TenantID && r.Name == rule.Name {
			return fmt.Errorf("silence rule name %q: %w", rule.Name, types.ErrDuplicate)
		}
	}
	cp := *rule
	t.st.silences[rule.ID] = &cp
	return nil
}

func (t *memTx) UpdateSilenceRule(ctx context.Context, rule *types.SilenceRule) error {
	for _, r := range t.st.silences {
		if r.ID != rule.ID && r.TenantID == rule.TenantID && r.Name == rule.Name {
			return fmt.Errorf("silence rule name %q: %w", rule.Name, types.ErrDuplicate)
		}
	}
	cp := *rule
	t.st.silences[rule.ID] = &cp
	return nil
}

func (t *memTx) DeleteSilenceRule(ctx context.Context, tenantID, id string) error {
	if r, ok := t.st.silences[id]; ok && r.TenantID == tenantID {
		delete(t.st.silences, id)
	}
	return nil
}

// --- aggregation rules ---

func (t *memTx) ListAggregationRules(ctx context.Context, tenantID string, activeOnly bool) ([]types.AggregationRule, error) {
	var out []types.AggregationRule
	for _, r := range t.st.aggregation {
		if r.TenantID == tenantID && (!activeOnly || r.IsActive) {
			out = append(out, *r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return byCreation(out[i].CreatedAt, out[i].ID, out[j].CreatedAt, out[j].ID) })
	return out, nil
}

func (t *memTx) GetAggregationRule(ctx context.Context, tenantID, id string) (*types.AggregationRule, error) {
	r, ok := t.st.aggregation[id]
	if !ok || r.TenantID != tenantID {
		return nil, nil
	}
	cp := *r
	return &cp, nil
}

func (t *memTx) CreateAggregationRule(ctx context.Context, rule *types.AggregationRule) error {
	if _, ok := t.st.aggregation[rule.ID]; ok {
		return fmt.Errorf("aggregation rule %s: %w", rule.ID, types.ErrDuplicate)
	}
	for _, r := range t.st.aggregation {
		if r.TenantID == rule.TenantID && r.Name == rule.Name {
			return fmt.Errorf("aggregation rule name %q: %w", rule.Name, types.ErrDuplicate)
		}
	}
	cp := *rule
	t.st.aggregation[rule.ID] = &cp
	return nil
}

func (t *memTx) UpdateAggregationRule(ctx context.Context, rule *types.AggregationRule) error {
	for _, r := range t.st.aggregation {
		if r.ID != rule.ID && r.TenantID == rule.TenantID && r.Name == rule.Name {
			return fmt.Errorf("aggregation rule name %q: %w", rule.Name, types.ErrDuplicate)
		}
	}
	cp := *rule
	t.st.aggregation[rule.ID] = &cp
	return nil
}

func (t *memTx) DeleteAggregationRule(ctx context.Context, tenantID, id string) error {
	if r, ok := t.st.aggregation[id]; ok && r.TenantID == tenantID {
		delete(t.st.aggregation, id)
	}
	return nil
}

// --- oncall shifts ---

func (t *memTx) ListOncallShifts(ctx context.Context, tenantID string, activeOnly bool) ([]types.OncallShift, error) {
	var out []types.OncallShift
	for _, s := range t.st.shifts {
		if s.TenantID == tenantID && (!activeOnly || s.IsActive) {
			out = append(out, *s)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].StartsAt.Equal(out[j].StartsAt) {
			return out[i].StartsAt.Before(out[j].StartsAt)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (t *memTx) GetOncallShift(ctx context.Context, tenantID, id string) (*types.OncallShift, error) {
	s, ok := t.st.shifts[id]
	if !ok || s.TenantID != tenantID {
		return nil, nil
	}
	cp := *s
	return &cp, nil
}

func (t *memTx) CreateOncallShift(ctx context.Context, shift *types.OncallShift) error {
	if _, ok := t.st.shifts[shift.ID]; ok {
		return fmt.Errorf("oncall shift %s: %w", shift.ID, types.ErrDuplicate)
	}
	cp := *shift
	t.st.shifts[shift.ID] = &cp
	return nil
}

func (t *memTx) UpdateOncallShift(ctx context.Context, shift *types.OncallShift) error {
	cp := *shift
	t.st.shifts[shift.ID] = &cp
	return nil
}

func (t *memTx) DeleteOncallShift(ctx context.Context, tenantID, id string) error {
	if s, ok := t.st.shifts[id]; ok && s.TenantID == tenantID {
		delete(t.st.shifts, id)
	}
	return nil
}

// --- escalation policies ---

func (t *memTx) GetEscalationPolicy(ctx context.Context, tenantID string, priority types.Priority) (*types.EscalationPolicy, error) {
	p, ok := t.st.policies[policyKey(tenantID, priority)]
	if !ok {
		return nil, nil
	}
	cp := *p
	return &cp, nil
}

func (t *memTx) ListEscalationPolicies(ctx context.Context, tenantID string) ([]types.EscalationPolicy, error) {
	var out []types.EscalationPolicy
	for _, p := range t.st.policies {
		if p.TenantID == tenantID {
			out = append(out, *p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Priority < out[j].Priority })
	return out, nil
}

func (t *memTx) UpsertEscalationPolicy(ctx context.Context, policy *types.EscalationPolicy) error {
	key := policyKey(policy.TenantID, policy.Priority)
	if existing, ok := t.st.policies[key]; ok {
		policy.ID = existing.ID
		policy.CreatedAt = existing.CreatedAt
	}
	cp := *policy
	t.st.policies[key] = &cp
	return nil
}

func (t *memTx) DeleteEscalationPolicy(ctx context.Context, tenantID string, priority types.Priority) error {
	delete(t.st.policies, policyKey(tenantID, priority))
	return nil
}

func byCreation(ta time.Time, ida string, tb time.Time, idb string) bool {
	if !ta.Equal(tb) {
		return ta.Before(tb)
	}
	return ida < idb
}
