package handler

import (
	appfiscal "github.com/desdobra/backend/internal/application/fiscal"
	"github.com/google/uuid"
)

// AuthorizeEmissionRequest asks for authorization of an order's document
type AuthorizeEmissionRequest struct {
	CompanyID   string `json:"company_id" binding:"required,uuid"`
	OrderID     string `json:"order_id" binding:"required,uuid"`
	Environment string `json:"environment" binding:"omitempty,oneof=1 2"`
}

// AuthorizeEmissionResponse reports either the enqueued job or, when the
// access key was already authorized, the existing record
type AuthorizeEmissionResponse struct {
	JobID             *uuid.UUID                  `json:"job_id,omitempty"`
	AlreadyAuthorized bool                        `json:"already_authorized"`
	Emission          *appfiscal.EmissionResponse `json:"emission,omitempty"`
}

// AccessKeyURI carries the 44-digit document key path parameter
type AccessKeyURI struct {
	AccessKey string `uri:"access_key" binding:"required,accesskey"`
}

// OrderIDURI carries an order ID path parameter
type OrderIDURI struct {
	OrderID string `uri:"order_id" binding:"required,uuid"`
}
