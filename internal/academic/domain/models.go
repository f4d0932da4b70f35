package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
)

type Student struct {
	ID               snowflake.ID `gorm:"primaryKey" json:"id"`
	Name             string       `gorm:"not null" json:"name"`
	RegistrationCode string       `gorm:"column:registration_code;uniqueIndex" json:"registration_code"`
	Email            string       `gorm:"column:email" json:"email,omitempty"`
	CreatedAt        time.Time    `gorm:"not null;default:CURRENT_TIMESTAMP" json:"created_at"`
	UpdatedAt        time.Time    `gorm:"not null;default:CURRENT_TIMESTAMP" json:"updated_at"`
}

func (Student) TableName() string {
	return "students"
}

type Term struct {
	ID        snowflake.ID `gorm:"primaryKey" json:"id"`
	Name      string       `gorm:"not null" json:"name"`
	StartDate time.Time    `gorm:"column:start_date;not null" json:"start_date"`
	EndDate   time.Time    `gorm:"column:end_date;not null" json:"end_date"`
	CreatedAt time.Time    `gorm:"not null;default:CURRENT_TIMESTAMP" json:"created_at"`
}

func (Term) TableName() string {
	return "terms"
}

// Contains reports whether the given instant falls inside the term window.
func (t Term) Contains(at time.Time) bool {
	return !at.Before(t.StartDate) && !at.After(t.EndDate)
}

type Enrollment struct {
	ID        snowflake.ID `gorm:"primaryKey" json:"id"`
	StudentID snowflake.ID `gorm:"column:student_id;not null;index" json:"student_id"`
	TermID    snowflake.ID `gorm:"column:term_id;not null;index" json:"term_id"`
	CreatedAt time.Time    `gorm:"not null;default:CURRENT_TIMESTAMP" json:"created_at"`
}

func (Enrollment) TableName() string {
	return "enrollments"
}
