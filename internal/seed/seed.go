package seed

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	academicdomain "github.com/studiva/campusbill/internal/academic/domain"
	"gorm.io/gorm"
)

const (
	demoStudentName = "Demo Student"
	demoStudentCode = "2024000001"
	demoStudentMail = "demo.student@campus.edu"
	demoTermName    = "2024/2"
)

// EnsureDemoData seeds one student and the current academic term so a fresh
// local install can issue invoices immediately. Idempotent.
func EnsureDemoData(db *gorm.DB) error {
	if db == nil {
		return errors.New("seed database handle is required")
	}

	node, err := snowflake.NewNode(1)
	if err != nil {
		return err
	}

	ctx := context.Background()
	return db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		student, err := ensureDemoStudentTx(ctx, tx, node)
		if err != nil {
			return err
		}
		term, err := ensureCurrentTermTx(ctx, tx, node)
		if err != nil {
			return err
		}
		return ensureEnrollmentTx(ctx, tx, node, student.ID, term.ID)
	})
}

func ensureDemoStudentTx(ctx context.Context, tx *gorm.DB, node *snowflake.Node) (academicdomain.Student, error) {
	var student academicdomain.Student
	err := tx.WithContext(ctx).
		Where("registration_code = ?", demoStudentCode).
		First(&student).Error
	if err == nil {
		return student, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return academicdomain.Student{}, err
	}

	now := time.Now().UTC()
	student = academicdomain.Student{
		ID:               node.Generate(),
		Name:             demoStudentName,
		RegistrationCode: demoStudentCode,
		Email:            demoStudentMail,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	if err := tx.WithContext(ctx).Create(&student).Error; err != nil {
		return academicdomain.Student{}, err
	}
	return student, nil
}

func ensureCurrentTermTx(ctx context.Context, tx *gorm.DB, node *snowflake.Node) (academicdomain.Term, error) {
	now := time.Now().UTC()

	var term academicdomain.Term
	err := tx.WithContext(ctx).
		Where("start_date <= ? AND end_date >= ?", now, now).
		First(&term).Error
	if err == nil {
		return term, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return academicdomain.Term{}, err
	}

	// Half-year window around today.
	term = academicdomain.Term{
		ID:        node.Generate(),
		Name:      demoTermName,
		StartDate: now.AddDate(0, -3, 0),
		EndDate:   now.AddDate(0, 3, 0),
		CreatedAt: now,
	}
	if err := tx.WithContext(ctx).Create(&term).Error; err != nil {
		return academicdomain.Term{}, err
	}
	return term, nil
}

func ensureEnrollmentTx(ctx context.Context, tx *gorm.DB, node *snowflake.Node, studentID, termID snowflake.ID) error {
	var enrollment academicdomain.Enrollment
	err := tx.WithContext(ctx).
		Where("student_id = ? AND term_id = ?", studentID, termID).
		First(&enrollment).Error
	if err == nil {
		return nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return err
	}

	return tx.WithContext(ctx).Create(&academicdomain.Enrollment{
		ID:        node.Generate(),
		StudentID: studentID,
		TermID:    termID,
		CreatedAt: time.Now().UTC(),
	}).Error
}
