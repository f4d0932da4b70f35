package server

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	"github.com/studiva/campusbill/internal/observability/logger"
	paymentdomain "github.com/studiva/campusbill/internal/payment/domain"
	"go.uber.org/zap"
)

type createPaymentRequest struct {
	InvoiceID   string          `json:"invoice_id"`
	Amount      decimal.Decimal `json:"amount"`
	Method      string          `json:"method"`
	Provider    string          `json:"provider"`
	ProviderRef string          `json:"provider_ref"`
}

func (s *Server) CreatePayment(c *gin.Context) {
	var req createPaymentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	view, err := s.paymentSvc.Create(c.Request.Context(), paymentdomain.CreatePaymentRequest{
		InvoiceID:   req.InvoiceID,
		Amount:      req.Amount,
		Method:      req.Method,
		Provider:    req.Provider,
		ProviderRef: req.ProviderRef,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{"data": view})
}

func (s *Server) SettlePayment(c *gin.Context) {
	view, err := s.paymentSvc.Settle(c.Request.Context(), strings.TrimSpace(c.Param("id")))
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": view})
}

func (s *Server) FailPayment(c *gin.Context) {
	view, err := s.paymentSvc.Fail(c.Request.Context(), strings.TrimSpace(c.Param("id")))
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": view})
}

func (s *Server) RefundPayment(c *gin.Context) {
	view, err := s.paymentSvc.Refund(c.Request.Context(), strings.TrimSpace(c.Param("id")))
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": view})
}

// PaymentRateLimit throttles payment creation per invoice with the redis
// token bucket. Without a configured limiter every request passes.
func (s *Server) PaymentRateLimit() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !s.paymentLimiter.Enabled() {
			c.Next()
			return
		}

		ctx := c.Request.Context()
		invoiceID, err := readPaymentRateLimitKey(c)
		if err != nil {
			logger.FromContext(ctx).Warn("payment rate limit read body failed", zap.Error(err))
			AbortWithError(c, invalidRequestError())
			return
		}
		if invoiceID == "" {
			c.Next()
			return
		}

		result, err := s.paymentLimiter.AllowPayment(ctx, invoiceID)
		if err != nil {
			logger.FromContext(ctx).Warn("payment rate limit check failed", zap.Error(err))
			AbortWithError(c, ErrServiceUnavailable)
			return
		}
		if !result.Allowed {
			logger.FromContext(ctx).Warn("payment rate limit exceeded",
				zap.String("invoice_id", invoiceID),
			)
			retryAfter := int64(result.RetryAfter.Seconds())
			if retryAfter < 1 {
				retryAfter = 1
			}
			c.Header("Retry-After", strconv.FormatInt(retryAfter, 10))
			AbortWithError(c, fmt.Errorf("%w: %s", paymentdomain.ErrRateLimitedPayment, invoiceID))
			return
		}

		c.Next()
	}
}

func readPaymentRateLimitKey(c *gin.Context) (string, error) {
	body, err := io.ReadAll(c.Request.Body)
	if err != nil {
		return "", err
	}
	c.Request.Body = io.NopCloser(bytes.NewBuffer(body))
	if len(body) == 0 {
		return "", nil
	}

	var payload struct {
		InvoiceID string `json:"invoice_id"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return "", nil
	}

	return strings.TrimSpace(payload.InvoiceID), nil
}
