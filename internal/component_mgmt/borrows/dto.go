package borrows

import "time"

type BorrowerInput struct {
	Name  string `json:"name" binding:"required"`
	TpID  string `json:"tp_id" binding:"required"`
	Phone string `json:"phone" binding:"required"`
	Email string `json:"email" binding:"required"`
}

type BorrowItemInput struct {
	ComponentID int64 `json:"component_id"`
	Quantity    int   `json:"quantity"`
}

type CreateBorrowRequest struct {
	Borrower BorrowerInput     `json:"borrower" binding:"required"`
	PicName  string            `json:"pic_name" binding:"required"`
	Reason   string            `json:"reason" binding:"required"`
	// "2006-01-02" 形式（DATE）
	ExpectedReturnDate string            `json:"expected_return_date" binding:"required"`
	Items              []BorrowItemInput `json:"items" binding:"required"`
}

type BorrowItemResponse struct {
	ComponentID      int64  `json:"component_id"`
	ComponentName    string `json:"component_name"`
	QuantityBorrowed int    `json:"quantity_borrowed"`
	QuantityReturned int    `json:"quantity_returned"`
}

type BorrowTransactionResponse struct {
	ID                 int64                `json:"id"`
	TransactionULID    string               `json:"transaction_ulid"`
	BorrowerName       string               `json:"borrower_name"`
	BorrowerTpID       string               `json:"borrower_tp_id"`
	BorrowerEmail      string               `json:"borrower_email"`
	PicName            string               `json:"pic_name"`
	Reason             string               `json:"reason"`
	BorrowedAt         time.Time            `json:"borrowed_at"`
	ExpectedReturnDate string               `json:"expected_return_date"`
	Status             string               `json:"status"`
	Items              []BorrowItemResponse `json:"items"`
}

type ReturnRequest struct {
	TransactionID int64   `json:"transaction_id"`
	ComponentID   int64   `json:"component_id"`
	Quantity      int     `json:"quantity"`
	PicName       string  `json:"pic_name" binding:"required"`
	Remarks       *string `json:"remarks,omitempty"`
}

type BatchReturnLine struct {
	TransactionID int64   `json:"transaction_id"`
	ComponentID   int64   `json:"component_id"`
	Quantity      int     `json:"quantity"`
	Remarks       *string `json:"remarks,omitempty"`
}

type BatchReturnRequest struct {
	PicName string            `json:"pic_name" binding:"required"`
	Items   []BatchReturnLine `json:"items" binding:"required"`
}

type ReturnResponse struct {
	EventULID         string    `json:"event_ulid"`
	TransactionID     int64     `json:"transaction_id"`
	ComponentID       int64     `json:"component_id"`
	Quantity          int       `json:"quantity"`
	Remaining         int       `json:"remaining"`
	TransactionStatus string    `json:"transaction_status"`
	ReturnedAt        time.Time `json:"returned_at"`
}

type BatchReturnResponse struct {
	Results           []ReturnResponse `json:"results"`
	NotifiedBorrowers int              `json:"notified_borrowers"`
}

// 未返却残のある貸出のフラット表示（1行 = 1部品）
type ActiveBorrowRow struct {
	TransactionID      int64  `json:"transaction_id"`
	BorrowerName       string `json:"borrower_name"`
	TpID               string `json:"tp_id"`
	Phone              string `json:"phone"`
	ComponentID        int64  `json:"component_id"`
	ComponentName      string `json:"component"`
	Quantity           int    `json:"quantity"` // 未返却残
	ExpectedReturnDate string `json:"expected_return_date"`
	Status             string `json:"status"` // ACTIVE | OVERDUE（導出）
}
