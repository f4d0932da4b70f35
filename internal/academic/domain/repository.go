package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

type Repository interface {
	FindStudent(ctx context.Context, db *gorm.DB, id snowflake.ID) (*Student, error)
	CurrentTerm(ctx context.Context, db *gorm.DB, at time.Time) (*Term, error)
	IsEnrolled(ctx context.Context, db *gorm.DB, studentID, termID snowflake.ID) (bool, error)
}
