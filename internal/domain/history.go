package domain

import (
	"time"
)

// RequestStatus is the lifecycle state of an installment request.
type RequestStatus string

const (
	RequestPending  RequestStatus = "pending"
	RequestApproved RequestStatus = "approved"
	RequestRejected RequestStatus = "rejected"
)

// PlanStatus is the lifecycle state of an installment plan.
type PlanStatus string

const (
	PlanActive    PlanStatus = "active"
	PlanCompleted PlanStatus = "completed"
	PlanDefaulted PlanStatus = "defaulted"
	PlanCancelled PlanStatus = "cancelled"
)

// PaymentStatus is the lifecycle state of a single installment payment.
type PaymentStatus string

const (
	PaymentPending   PaymentStatus = "pending"
	PaymentPaid      PaymentStatus = "paid"
	PaymentOverdue   PaymentStatus = "overdue"
	PaymentCancelled PaymentStatus = "cancelled"
)

// Customer is the subject of a fraud analysis.
type Customer struct {
	ID        string    `json:"id"`
	FullName  string    `json:"fullName,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
}

// InstallmentRequest is a customer's request to buy a product in installments
// from one merchant.
type InstallmentRequest struct {
	ID           string        `json:"id"`
	CustomerID   string        `json:"customerId"`
	MerchantID   string        `json:"merchantId"`
	ProductName  string        `json:"productName"`
	ProductValue float64       `json:"productValue"`
	Months       int           `json:"months"`
	Status       RequestStatus `json:"status"`
	CreatedAt    time.Time     `json:"createdAt"`
}

// InstallmentPlan is an approved request turned into a payment schedule.
type InstallmentPlan struct {
	ID              string     `json:"id"`
	RequestID       string     `json:"requestId"`
	CustomerID      string     `json:"customerId"`
	MerchantID      string     `json:"merchantId"`
	TotalAmount     float64    `json:"totalAmount"`
	PaidAmount      float64    `json:"paidAmount"`
	RemainingAmount float64    `json:"remainingAmount"`
	Installments    int        `json:"installments"`
	Status          PlanStatus `json:"status"`
	CreatedAt       time.Time  `json:"createdAt"`
}

// Payment is a single installment against a plan.
type Payment struct {
	ID       string        `json:"id"`
	PlanID   string        `json:"planId"`
	Amount   float64       `json:"amount"`
	DueDate  time.Time     `json:"dueDate"`
	PaidDate *time.Time    `json:"paidDate,omitempty"`
	Status   PaymentStatus `json:"status"`
}

// Late reports whether the payment was settled after its due date.
func (p *Payment) Late() bool {
	return p.Status == PaymentPaid && p.PaidDate != nil && p.PaidDate.After(p.DueDate)
}

// DebtSummary aggregates a customer's active debt exposure.
type DebtSummary struct {
	TotalDebt       float64 `json:"totalDebt"`
	ActivePlans     int     `json:"activePlans"`
	UniqueMerchants int     `json:"uniqueMerchants"`
}
