package service

import (
	"context"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/glebarez/sqlite"
	"github.com/studiva/campusbill/internal/academic/domain"
	"github.com/studiva/campusbill/internal/academic/repository"
	"github.com/studiva/campusbill/internal/clock"
	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

func newTestService(t *testing.T, dsn string, now time.Time) (*Service, *gorm.DB, *snowflake.Node) {
	t.Helper()

	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	assert.NoError(t, err)
	assert.NoError(t, db.AutoMigrate(&domain.Student{}, &domain.Term{}, &domain.Enrollment{}))

	node, _ := snowflake.NewNode(1)
	fake := clock.NewFakeClock(now)

	svc := New(Params{
		DB:    db,
		Log:   zap.NewNop(),
		Clock: fake,
		Repo:  repository.Provide(),
	}).(*Service)

	return svc, db, node
}

func TestGetStudent(t *testing.T) {
	now := time.Date(2024, time.September, 1, 12, 0, 0, 0, time.UTC)
	svc, db, node := newTestService(t, "file:academic_get_student?mode=memory&cache=shared", now)

	id := node.Generate()
	assert.NoError(t, db.Create(&domain.Student{
		ID:               id,
		Name:             "Ana Souza",
		RegistrationCode: "2024-00123",
	}).Error)

	student, err := svc.GetStudent(context.Background(), id)
	assert.NoError(t, err)
	assert.Equal(t, "Ana Souza", student.Name)

	_, err = svc.GetStudent(context.Background(), node.Generate())
	assert.ErrorIs(t, err, domain.ErrStudentNotFound)

	_, err = svc.GetStudent(context.Background(), 0)
	assert.ErrorIs(t, err, domain.ErrInvalidStudent)
}

func TestIsEnrolledCurrentTerm(t *testing.T) {
	now := time.Date(2024, time.September, 1, 12, 0, 0, 0, time.UTC)
	svc, db, node := newTestService(t, "file:academic_enrolled?mode=memory&cache=shared", now)

	studentID := node.Generate()
	termID := node.Generate()
	assert.NoError(t, db.Create(&domain.Student{ID: studentID, Name: "Ana Souza"}).Error)
	assert.NoError(t, db.Create(&domain.Term{
		ID:        termID,
		Name:      "2024/2",
		StartDate: time.Date(2024, time.August, 1, 0, 0, 0, 0, time.UTC),
		EndDate:   time.Date(2024, time.December, 20, 0, 0, 0, 0, time.UTC),
	}).Error)

	enrolled, err := svc.IsEnrolledCurrentTerm(context.Background(), studentID)
	assert.NoError(t, err)
	assert.False(t, enrolled)

	assert.NoError(t, db.Create(&domain.Enrollment{
		ID:        node.Generate(),
		StudentID: studentID,
		TermID:    termID,
	}).Error)

	enrolled, err = svc.IsEnrolledCurrentTerm(context.Background(), studentID)
	assert.NoError(t, err)
	assert.True(t, enrolled)
}

func TestIsEnrolledCurrentTermNoCurrentTerm(t *testing.T) {
	// The clock sits outside every term window.
	now := time.Date(2025, time.February, 1, 0, 0, 0, 0, time.UTC)
	svc, db, node := newTestService(t, "file:academic_no_term?mode=memory&cache=shared", now)

	studentID := node.Generate()
	termID := node.Generate()
	assert.NoError(t, db.Create(&domain.Term{
		ID:        termID,
		Name:      "2024/2",
		StartDate: time.Date(2024, time.August, 1, 0, 0, 0, 0, time.UTC),
		EndDate:   time.Date(2024, time.December, 20, 0, 0, 0, 0, time.UTC),
	}).Error)
	assert.NoError(t, db.Create(&domain.Enrollment{
		ID:        node.Generate(),
		StudentID: studentID,
		TermID:    termID,
	}).Error)

	enrolled, err := svc.IsEnrolledCurrentTerm(context.Background(), studentID)
	assert.NoError(t, err)
	assert.False(t, enrolled)
}
