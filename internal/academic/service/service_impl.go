package service

import (
	"context"

	"github.com/bwmarrin/snowflake"
	"github.com/studiva/campusbill/internal/academic/domain"
	"github.com/studiva/campusbill/internal/clock"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB    *gorm.DB
	Log   *zap.Logger
	Clock clock.Clock
	Repo  domain.Repository
	Cache *EnrollmentCache `optional:"true"`
}

type Service struct {
	db    *gorm.DB
	log   *zap.Logger
	clock clock.Clock
	repo  domain.Repository
	cache *EnrollmentCache
}

func New(p Params) domain.Service {
	return &Service{
		db:    p.DB,
		log:   p.Log.Named("academic.service"),
		clock: p.Clock,
		repo:  p.Repo,
		cache: p.Cache,
	}
}

func (s *Service) GetStudent(ctx context.Context, id snowflake.ID) (domain.Student, error) {
	if id == 0 {
		return domain.Student{}, domain.ErrInvalidStudent
	}
	student, err := s.repo.FindStudent(ctx, s.db, id)
	if err != nil {
		return domain.Student{}, err
	}
	if student == nil {
		return domain.Student{}, domain.ErrStudentNotFound
	}
	return *student, nil
}

func (s *Service) IsEnrolledCurrentTerm(ctx context.Context, studentID snowflake.ID) (bool, error) {
	if studentID == 0 {
		return false, domain.ErrInvalidStudent
	}

	if enrolled, ok := s.cache.Get(ctx, studentID); ok {
		return enrolled, nil
	}

	term, err := s.repo.CurrentTerm(ctx, s.db, s.clock.Now())
	if err != nil {
		return false, err
	}
	if term == nil {
		s.cache.Set(ctx, studentID, false)
		return false, nil
	}

	enrolled, err := s.repo.IsEnrolled(ctx, s.db, studentID, term.ID)
	if err != nil {
		return false, err
	}

	s.cache.Set(ctx, studentID, enrolled)
	return enrolled, nil
}
