package ecolesync

import "time"

// Gender values accepted by the remote store.
const (
	GenderMale   = "homme"
	GenderFemale = "femme"
)

// Teacher payment types.
const (
	PaymentFixed  = "fixe"
	PaymentHourly = "horaire"
)

// Record is a row owned by exactly one account. Identity, ownership and
// the created/updated timestamps are assigned by the remote store; the
// mirror never fabricates them.
type Record[R any] interface {
	RecordID() string
	WithOwner(ownerID string) R
}

type Class struct {
	ID          string    `json:"id"`
	Name        string    `json:"name" validate:"required"`
	Description string    `json:"description,omitempty"`
	Capacity    int       `json:"capacity" validate:"gt=0"`
	UserID      string    `json:"user_id"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

func (c Class) RecordID() string { return c.ID }

func (c Class) WithOwner(ownerID string) Class {
	c.UserID = ownerID
	return c
}

type Student struct {
	ID            string    `json:"id"`
	FirstName     string    `json:"first_name" validate:"required"`
	LastName      string    `json:"last_name" validate:"required"`
	BirthDate     string    `json:"birth_date" validate:"required"`
	BirthPlace    string    `json:"birth_place" validate:"required"`
	StudentNumber string    `json:"student_number,omitempty"`
	ParentPhone   string    `json:"parent_phone" validate:"required"`
	Gender        string    `json:"gender" validate:"oneof=homme femme"`
	ClassID       string    `json:"class_id,omitempty"`
	UserID        string    `json:"user_id"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

func (s Student) RecordID() string { return s.ID }

func (s Student) WithOwner(ownerID string) Student {
	s.UserID = ownerID
	return s
}

type Teacher struct {
	ID          string    `json:"id"`
	FirstName   string    `json:"first_name" validate:"required"`
	LastName    string    `json:"last_name" validate:"required"`
	Email       string    `json:"email" validate:"required,email"`
	Phone       string    `json:"phone" validate:"required"`
	Subject     string    `json:"subject" validate:"required"`
	HireDate    string    `json:"hire_date" validate:"required"`
	PaymentType string    `json:"payment_type" validate:"oneof=fixe horaire"`
	Salary      *float64  `json:"salary,omitempty"`
	HourlyRate  *float64  `json:"hourly_rate,omitempty"`
	Gender      string    `json:"gender" validate:"oneof=homme femme"`
	Residence   string    `json:"residence" validate:"required"`
	UserID      string    `json:"user_id"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

func (t Teacher) RecordID() string { return t.ID }

func (t Teacher) WithOwner(ownerID string) Teacher {
	t.UserID = ownerID
	return t
}
