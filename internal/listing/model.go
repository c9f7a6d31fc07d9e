package listing

import (
	"time"

	"github.com/sudo-init-do/repairnet/internal/wallet"
)

// Persisted key layout.
const (
	IndexKey  = "service_keys"
	keyPrefix = "service_"
)

// RecordKey returns the key a listing is stored under.
func RecordKey(id string) string {
	return keyPrefix + id
}

// Status is the lifecycle state of a listing.
type Status string

const (
	StatusAvailable Status = "available"
	StatusMatched   Status = "matched"
	StatusCompleted Status = "completed"
)

func (s Status) Valid() bool {
	switch s {
	case StatusAvailable, StatusMatched, StatusCompleted:
		return true
	}
	return false
}

// previous returns the state a listing must be in before moving to s.
func (s Status) previous() (Status, bool) {
	switch s {
	case StatusMatched:
		return StatusAvailable, true
	case StatusCompleted:
		return StatusMatched, true
	}
	return "", false
}

// ServiceTypes is the fixed set of repair categories a listing can offer.
var ServiceTypes = []string{
	"Refrigerator",
	"Washing Machine",
	"Oven",
	"Dishwasher",
	"Microwave",
	"Small Appliances",
	"Electronics",
	"Other",
}

// IsServiceType reports whether s is one of ServiceTypes.
func IsServiceType(s string) bool {
	for _, t := range ServiceTypes {
		if t == s {
			return true
		}
	}
	return false
}

// Record is a single repair-service listing.
type Record struct {
	ID          string `json:"id,omitempty"`
	Data        string `json:"data"`
	Timestamp   int64  `json:"timestamp"`
	Provider    string `json:"provider"`
	ServiceType string `json:"serviceType"`
	Reputation  int    `json:"reputation"`
	Status      Status `json:"status"`
}

// ListedAt returns Timestamp as a time.
func (r Record) ListedAt() time.Time {
	return time.Unix(r.Timestamp, 0).UTC()
}

// ProvidedBy reports whether address created the listing.
func (r Record) ProvidedBy(address string) bool {
	return wallet.SameAddress(address, r.Provider)
}

// CreateRequest holds the caller-supplied fields of a new listing.
type CreateRequest struct {
	ServiceType  string `json:"serviceType" validate:"required,servicetype"`
	Description  string `json:"description" validate:"max=2000"`
	Availability string `json:"availability" validate:"max=500"`
	// Creator is the wallet address of the caller, filled in by the server.
	Creator string `json:"-" validate:"required,wallet"`
}
