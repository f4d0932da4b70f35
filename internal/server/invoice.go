package server

import (
	"net/http"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	invoicedomain "github.com/studiva/campusbill/internal/invoice/domain"
	"github.com/studiva/campusbill/pkg/db/pagination"
)

type createInvoiceRequest struct {
	StudentID    string           `json:"student_id"`
	TermID       string           `json:"term_id"`
	Description  string           `json:"description"`
	DueDate      string           `json:"due_date"`
	Amount       decimal.Decimal  `json:"amount"`
	FineRate     *decimal.Decimal `json:"fine_rate"`
	InterestRate *decimal.Decimal `json:"interest_rate"`
}

func (s *Server) CreateInvoice(c *gin.Context) {
	var req createInvoiceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	dueDate, err := parseOptionalTime(req.DueDate, false)
	if err != nil || dueDate == nil {
		AbortWithError(c, newValidationError("due_date", "invalid_due_date", "invalid due date"))
		return
	}

	view, err := s.invoiceSvc.Create(c.Request.Context(), invoicedomain.CreateInvoiceRequest{
		StudentID:    req.StudentID,
		TermID:       req.TermID,
		Description:  req.Description,
		DueDate:      *dueDate,
		Amount:       req.Amount,
		FineRate:     req.FineRate,
		InterestRate: req.InterestRate,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{"data": view})
}

type updateInvoiceRequest struct {
	Description  *string          `json:"description"`
	DueDate      *string          `json:"due_date"`
	FineRate     *decimal.Decimal `json:"fine_rate"`
	InterestRate *decimal.Decimal `json:"interest_rate"`
}

func (s *Server) UpdateInvoice(c *gin.Context) {
	id := strings.TrimSpace(c.Param("id"))

	var req updateInvoiceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	update := invoicedomain.UpdateInvoiceRequest{
		ID:           id,
		Description:  req.Description,
		FineRate:     req.FineRate,
		InterestRate: req.InterestRate,
	}
	if req.DueDate != nil {
		dueDate, err := parseOptionalTime(*req.DueDate, false)
		if err != nil || dueDate == nil {
			AbortWithError(c, newValidationError("due_date", "invalid_due_date", "invalid due date"))
			return
		}
		update.DueDate = dueDate
	}

	view, err := s.invoiceSvc.Update(c.Request.Context(), update)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": view})
}

func (s *Server) GetInvoiceByID(c *gin.Context) {
	id := strings.TrimSpace(c.Param("id"))
	if _, err := snowflake.ParseString(id); err != nil {
		AbortWithError(c, newValidationError("id", "invalid_id", "invalid id"))
		return
	}

	view, err := s.invoiceSvc.GetByID(c.Request.Context(), id)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": view})
}

func (s *Server) ListInvoices(c *gin.Context) {
	var page pagination.Pagination
	if err := c.ShouldBindQuery(&page); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	dueFrom, err := parseOptionalTime(c.Query("due_from"), false)
	if err != nil {
		AbortWithError(c, newValidationError("due_from", "invalid_time", "invalid time"))
		return
	}
	dueTo, err := parseOptionalTime(c.Query("due_to"), true)
	if err != nil {
		AbortWithError(c, newValidationError("due_to", "invalid_time", "invalid time"))
		return
	}

	resp, err := s.invoiceSvc.List(c.Request.Context(), invoicedomain.ListInvoiceRequest{
		Pagination: page,
		StudentID:  strings.TrimSpace(c.Query("student_id")),
		Status:     strings.TrimSpace(c.Query("status")),
		DueFrom:    dueFrom,
		DueTo:      dueTo,
		Query:      strings.TrimSpace(c.Query("q")),
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"data":            resp.Invoices,
		"next_page_token": resp.NextPageToken,
		"has_more":        resp.HasMore,
	})
}

func (s *Server) PayInvoice(c *gin.Context) {
	view, err := s.invoiceSvc.MarkPaid(c.Request.Context(), strings.TrimSpace(c.Param("id")))
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": view})
}

func (s *Server) CancelInvoice(c *gin.Context) {
	view, err := s.invoiceSvc.Cancel(c.Request.Context(), strings.TrimSpace(c.Param("id")))
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": view})
}

func (s *Server) GetSummary(c *gin.Context) {
	resp, err := s.invoiceSvc.Summary(c.Request.Context(), invoicedomain.SummaryRequest{
		StudentID: strings.TrimSpace(c.Query("student_id")),
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp})
}
