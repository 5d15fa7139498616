package appointment

import "sort"

// CancellationReason selects between soft-cancel and cancel-with-delete.
type CancellationReason struct {
	ID          int64  `json:"id" yaml:"id"`
	Description string `json:"description" yaml:"description"`
	IsDelete    bool   `json:"isDelete" yaml:"is_delete"`
}

// Built-in reason identifiers.
const (
	ReasonCreatedInError int64 = 1
	ReasonCancelled      int64 = 2
	ReasonRescheduled    int64 = 3
)

// DefaultCancellationReasons is the catalogue used when none is configured.
var DefaultCancellationReasons = []CancellationReason{
	{ID: ReasonCreatedInError, Description: "Created in error", IsDelete: true},
	{ID: ReasonCancelled, Description: "Cancelled", IsDelete: false},
	{ID: ReasonRescheduled, Description: "Rescheduled", IsDelete: false},
}

// ReasonCatalog resolves cancellation reason ids.
type ReasonCatalog struct {
	byID      map[int64]CancellationReason
	defaultID int64
}

// NewReasonCatalog builds a catalogue. With no reasons the defaults are used.
func NewReasonCatalog(reasons ...CancellationReason) *ReasonCatalog {
	if len(reasons) == 0 {
		reasons = DefaultCancellationReasons
	}
	catalog := &ReasonCatalog{byID: make(map[int64]CancellationReason, len(reasons)), defaultID: ReasonCancelled}
	for _, reason := range reasons {
		catalog.byID[reason.ID] = reason
	}
	if _, ok := catalog.byID[catalog.defaultID]; !ok {
		catalog.defaultID = 0
		for _, reason := range catalog.All() {
			if !reason.IsDelete {
				catalog.defaultID = reason.ID
				break
			}
		}
	}
	return catalog
}

// Lookup returns the reason with id.
func (c *ReasonCatalog) Lookup(id int64) (CancellationReason, bool) {
	if c == nil {
		return CancellationReason{}, false
	}
	reason, ok := c.byID[id]
	return reason, ok
}

// Default returns the soft-cancel reason applied when the caller gives none.
func (c *ReasonCatalog) Default() (CancellationReason, bool) {
	if c == nil {
		return CancellationReason{}, false
	}
	return c.Lookup(c.defaultID)
}

// All returns the reasons ordered by id.
func (c *ReasonCatalog) All() []CancellationReason {
	if c == nil {
		return nil
	}
	reasons := make([]CancellationReason, 0, len(c.byID))
	for _, reason := range c.byID {
		reasons = append(reasons, reason)
	}
	sort.Slice(reasons, func(i, j int) bool { return reasons[i].ID < reasons[j].ID })
	return reasons
}
