package domain

import (
	"context"
	"errors"

	"github.com/bwmarrin/snowflake"
)

type Service interface {
	GetStudent(ctx context.Context, id snowflake.ID) (Student, error)
	// IsEnrolledCurrentTerm reports whether the student has an enrollment in
	// the term covering now. Without a current term it reports false.
	IsEnrolledCurrentTerm(ctx context.Context, studentID snowflake.ID) (bool, error)
}

var (
	ErrInvalidStudent  = errors.New("invalid_student")
	ErrStudentNotFound = errors.New("student_not_found")
)
