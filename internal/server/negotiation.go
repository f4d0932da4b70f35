package server

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	negotiationdomain "github.com/studiva/campusbill/internal/negotiation/domain"
)

type negotiationPlanRequest struct {
	StudentID         string          `json:"student_id"`
	TotalAmount       decimal.Decimal `json:"total_amount"`
	NumInstallments   int             `json:"num_installments"`
	FirstDueDate      string          `json:"first_due_date"`
	DescriptionPrefix string          `json:"description_prefix"`
	CancelPending     bool            `json:"cancel_pending"`
}

func (r negotiationPlanRequest) toDomain() (negotiationdomain.PlanRequest, error) {
	firstDue, err := parseOptionalTime(r.FirstDueDate, false)
	if err != nil || firstDue == nil {
		return negotiationdomain.PlanRequest{}, newValidationError("first_due_date", "invalid_due_date", "invalid due date")
	}
	return negotiationdomain.PlanRequest{
		StudentID:         r.StudentID,
		TotalAmount:       r.TotalAmount,
		NumInstallments:   r.NumInstallments,
		FirstDueDate:      *firstDue,
		DescriptionPrefix: r.DescriptionPrefix,
		CancelPending:     r.CancelPending,
	}, nil
}

func (s *Server) PreviewNegotiation(c *gin.Context) {
	var req negotiationPlanRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	planReq, err := req.toDomain()
	if err != nil {
		AbortWithError(c, err)
		return
	}

	plan, err := s.negotiationSvc.Preview(c.Request.Context(), planReq)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": plan})
}

type executeNegotiationRequest struct {
	negotiationPlanRequest
	TermID       string           `json:"term_id"`
	FineRate     *decimal.Decimal `json:"fine_rate"`
	InterestRate *decimal.Decimal `json:"interest_rate"`
}

func (s *Server) ExecuteNegotiation(c *gin.Context) {
	var req executeNegotiationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	planReq, err := req.toDomain()
	if err != nil {
		AbortWithError(c, err)
		return
	}

	// The plan is rebuilt server side; clients cannot submit tampered
	// installment splits.
	plan, err := s.negotiationSvc.Preview(c.Request.Context(), planReq)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	resp, err := s.negotiationSvc.Execute(c.Request.Context(), negotiationdomain.ExecuteRequest{
		Plan:         plan,
		TermID:       req.TermID,
		FineRate:     req.FineRate,
		InterestRate: req.InterestRate,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{"data": resp})
}
