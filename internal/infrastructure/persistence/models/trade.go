package models

import (
	"github.com/desdobra/backend/internal/domain/trade"
	"github.com/shopspring/decimal"
)

// SalesOrderModel is the persistence model for the SalesOrder aggregate
type SalesOrderModel struct {
	CompanyAggregateModel
	OrderNumber   string              `gorm:"type:varchar(50);not null;index"`
	CustomerName  string              `gorm:"type:varchar(200)"`
	TotalAmount   decimal.Decimal     `gorm:"type:decimal(18,4);not null;default:0"`
	InvoiceStatus trade.InvoiceStatus `gorm:"type:varchar(20);not null;default:'NONE'"`
}

// TableName returns the table name for GORM
func (SalesOrderModel) TableName() string {
	return "sales_orders"
}

// ToDomain converts the persistence model to a domain SalesOrder
func (m *SalesOrderModel) ToDomain() *trade.SalesOrder {
	order := &trade.SalesOrder{
		OrderNumber:   m.OrderNumber,
		CustomerName:  m.CustomerName,
		TotalAmount:   m.TotalAmount,
		InvoiceStatus: m.InvoiceStatus,
	}
	m.PopulateCompanyAggregateRoot(&order.CompanyAggregateRoot)
	return order
}

// SalesOrderModelFromDomain converts a domain SalesOrder to the persistence model
func SalesOrderModelFromDomain(o *trade.SalesOrder) *SalesOrderModel {
	model := &SalesOrderModel{
		OrderNumber:   o.OrderNumber,
		CustomerName:  o.CustomerName,
		TotalAmount:   o.TotalAmount,
		InvoiceStatus: o.InvoiceStatus,
	}
	model.FromDomainCompanyAggregateRoot(o.CompanyAggregateRoot)
	return model
}
