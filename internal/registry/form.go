package registry

import (
	"fmt"

	"github.com/controlface/deploy-console/internal/models"
	"github.com/controlface/deploy-console/internal/validation"
)

// Form is the operator-editable part of a tenant
type Form struct {
	Name          string      `json:"name" validate:"required"`
	ProjectID     string      `json:"projectId" validate:"required"`
	FirebaseToken string      `json:"firebaseToken"`
	Plan          models.Plan `json:"plan" validate:"required"`
	MaxEmployees  int         `json:"maxEmployees" validate:"min=1"`
}

// DefaultForm returns an empty form with the default plan and seat count
func DefaultForm() Form {
	return Form{Plan: models.PlanBasic, MaxEmployees: models.DefaultMaxEmployees}
}

// FormFromTenant fills a form from a stored tenant, defaulting missing values
func FormFromTenant(t *models.Tenant) Form {
	return Form{
		Name:          t.Name,
		ProjectID:     t.ProjectID,
		FirebaseToken: t.FirebaseToken,
		Plan:          t.Plan,
		MaxEmployees:  t.MaxEmployees,
	}.withDefaults()
}

func (f Form) withDefaults() Form {
	if f.Plan == "" {
		f.Plan = models.PlanBasic
	}
	if f.MaxEmployees == 0 {
		f.MaxEmployees = models.DefaultMaxEmployees
	}
	return f
}

// normalize applies defaults and validates. Values are stored as submitted;
// blank-only fields count as missing.
func (f Form) normalize(v *validation.Validator) (Form, error) {
	f = f.withDefaults()

	if err := v.Validate(f); err != nil {
		return f, fmt.Errorf("%w: %v", ErrInvalidForm, err)
	}
	return f, nil
}

func (f Form) apply(t *models.Tenant) {
	t.Name = f.Name
	t.ProjectID = f.ProjectID
	t.FirebaseToken = f.FirebaseToken
	t.Plan = f.Plan
	t.MaxEmployees = f.MaxEmployees
}
