package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	redis "github.com/redis/go-redis/v9"
	"github.com/studiva/campusbill/internal/config"
)

const (
	keyEnrollment     = "academic:enrolled:%s"
	enrollmentTTL     = 45 * time.Second
	cacheValueHit     = "1"
	cacheValueMiss    = "0"
	cacheReadTimeout  = 150 * time.Millisecond
	cacheWriteTimeout = 250 * time.Millisecond
)

// EnrollmentCache is a short-TTL redis cache in front of the enrollment
// lookup. A nil cache degrades to direct reads.
type EnrollmentCache struct {
	client *redis.Client
}

func NewEnrollmentCache(cfg config.Config) *EnrollmentCache {
	addr := strings.TrimSpace(cfg.AcademicCacheRedisAddr)
	if addr == "" {
		return nil
	}
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: strings.TrimSpace(cfg.AcademicCacheRedisPassword),
		DB:       cfg.AcademicCacheRedisDB,
	})
	return &EnrollmentCache{client: client}
}

func (c *EnrollmentCache) Get(ctx context.Context, studentID snowflake.ID) (bool, bool) {
	if c == nil || c.client == nil {
		return false, false
	}
	ctx, cancel := context.WithTimeout(ctx, cacheReadTimeout)
	defer cancel()

	value, err := c.client.Get(ctx, fmt.Sprintf(keyEnrollment, studentID.String())).Result()
	if err != nil {
		return false, false
	}
	return value == cacheValueHit, true
}

func (c *EnrollmentCache) Set(ctx context.Context, studentID snowflake.ID, enrolled bool) {
	if c == nil || c.client == nil {
		return
	}
	ctx, cancel := context.WithTimeout(ctx, cacheWriteTimeout)
	defer cancel()

	value := cacheValueMiss
	if enrolled {
		value = cacheValueHit
	}
	c.client.Set(ctx, fmt.Sprintf(keyEnrollment, studentID.String()), value, enrollmentTTL)
}
