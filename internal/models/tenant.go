package models

import (
	"time"
)

// Plan is the commercial plan label of a tenant
type Plan string

// PlanBasic is the plan of a new tenant. Any other non-empty label is kept as entered.
const PlanBasic Plan = "Basic"

// Tenant status values
const (
	TenantStatusActive = "active"
)

// DefaultMaxEmployees is the employee limit of a new tenant
const DefaultMaxEmployees = 30

// Tenant represents one managed ControlFace customer deployment.
// ID is the document key assigned by the store, not a stored field.
type Tenant struct {
	ID            string    `json:"id" db:"id"`
	Name          string    `json:"name" db:"name"`
	ProjectID     string    `json:"projectId" db:"project_id"`
	FirebaseToken string    `json:"firebaseToken" db:"firebase_token"`
	Plan          Plan      `json:"plan" db:"plan"`
	MaxEmployees  int       `json:"maxEmployees" db:"max_employees"`
	Status        string    `json:"status" db:"status"`
	CreatedAt     time.Time `json:"createdAt" db:"created_at"`
}

// Clone returns a copy of the tenant
func (t *Tenant) Clone() *Tenant {
	if t == nil {
		return nil
	}
	c := *t
	return &c
}
