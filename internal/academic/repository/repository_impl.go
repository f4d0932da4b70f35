package repository

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/studiva/campusbill/internal/academic/domain"
	"gorm.io/gorm"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

func (r *repo) FindStudent(ctx context.Context, db *gorm.DB, id snowflake.ID) (*domain.Student, error) {
	var student domain.Student
	err := db.WithContext(ctx).Raw(
		`SELECT id, name, registration_code, email, created_at, updated_at
		 FROM students WHERE id = ?`,
		id,
	).Scan(&student).Error
	if err != nil {
		return nil, err
	}
	if student.ID == 0 {
		return nil, nil
	}
	return &student, nil
}

func (r *repo) CurrentTerm(ctx context.Context, db *gorm.DB, at time.Time) (*domain.Term, error) {
	var term domain.Term
	err := db.WithContext(ctx).Raw(
		`SELECT id, name, start_date, end_date, created_at
		 FROM terms WHERE start_date <= ? AND end_date >= ?
		 ORDER BY start_date DESC LIMIT 1`,
		at,
		at,
	).Scan(&term).Error
	if err != nil {
		return nil, err
	}
	if term.ID == 0 {
		return nil, nil
	}
	return &term, nil
}

func (r *repo) IsEnrolled(ctx context.Context, db *gorm.DB, studentID, termID snowflake.ID) (bool, error) {
	var count int64
	err := db.WithContext(ctx).
		Model(&domain.Enrollment{}).
		Where("student_id = ? AND term_id = ?", studentID, termID).
		Count(&count).Error
	if err != nil {
		return false, err
	}
	return count > 0, nil
}
