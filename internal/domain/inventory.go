package domain

import "time"

type ReservationStatus string

const (
	ReservationActive    ReservationStatus = "Active"
	ReservationReleased  ReservationStatus = "Released"
	ReservationFulfilled ReservationStatus = "Fulfilled"
	ReservationExpired   ReservationStatus = "Expired"
)

// ReservationItem describes a line that was reserved.
type ReservationItem struct {
	ProductID         string `json:"productId"`
	QuantityRequested int    `json:"quantityRequested"`
	QuantityReserved  int    `json:"quantityReserved"`
	ReservationID     string `json:"reservationId"`
}

// ShortageItem describes a line that could not be reserved.
type ShortageItem struct {
	ProductID         string `json:"productId"`
	QuantityRequested int    `json:"quantityRequested"`
	QuantityAvailable int    `json:"quantityAvailable"`
	Shortage          int    `json:"shortage"`
}

func NewShortageItem(productID string, requested, available int) ShortageItem {
	return ShortageItem{
		ProductID:         productID,
		QuantityRequested: requested,
		QuantityAvailable: available,
		Shortage:          requested - available,
	}
}

// ReservationResult is either a full set of reservations or a list of shortages, never both.
type ReservationResult struct {
	Success      bool              `json:"success"`
	Reservations []ReservationItem `json:"reservations,omitempty"`
	Shortages    []ShortageItem    `json:"shortages,omitempty"`
}

type RestockPriority string

const (
	PriorityNormal   RestockPriority = "Normal"
	PriorityHigh     RestockPriority = "High"
	PriorityCritical RestockPriority = "Critical"
)

type LowStockWarning struct {
	ProductID                  string    `json:"productId"`
	ProductName                string    `json:"productName"`
	CurrentStock               int       `json:"currentStock"`
	ReorderLevel               int       `json:"reorderLevel"`
	RecommendedRestockQuantity int       `json:"recommendedRestockQuantity"`
	WarningTimestamp           time.Time `json:"warningTimestamp"`
	Reason                     string    `json:"reason"`
}

func (LowStockWarning) Kind() Kind { return KindLowStockWarning }

type RestockRequest struct {
	ProductID         string          `json:"productId"`
	ProductName       string          `json:"productName"`
	RequestedQuantity int             `json:"requestedQuantity"`
	CurrentStock      int             `json:"currentStock"`
	ReorderLevel      int             `json:"reorderLevel"`
	RequestTimestamp  time.Time       `json:"requestTimestamp"`
	Priority          RestockPriority `json:"priority"`
	RequestedBy       string          `json:"requestedBy"`
}

func (RestockRequest) Kind() Kind { return KindRestockRequest }
