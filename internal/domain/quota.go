package domain

import "time"

// ReservationStatus tracks whether a quota hold is still open.
type ReservationStatus string

const (
	ReservationActive     ReservationStatus = "active"
	ReservationCommitted  ReservationStatus = "committed"
	ReservationRolledBack ReservationStatus = "rolled_back"
)

// QuotaReservation is a claim against an owner's usage for one job. There is
// at most one per JobID and it is resolved exactly once.
type QuotaReservation struct {
	ID        string            `json:"id"`
	OwnerID   string            `json:"owner_id"`
	JobID     string            `json:"job_id"`
	Units     int               `json:"units"`
	Status    ReservationStatus `json:"status"`
	CreatedAt time.Time         `json:"created_at"`
}

// QuotaUsage is an owner's ledger position for the current period.
type QuotaUsage struct {
	OwnerID  string `json:"owner_id"`
	Used     int    `json:"used"`
	Reserved int    `json:"reserved"`
	Limit    int    `json:"limit"`
}

// Remaining is the number of units that can still be reserved.
func (u QuotaUsage) Remaining() int {
	left := u.Limit - u.Used - u.Reserved
	if left < 0 {
		return 0
	}
	return left
}
