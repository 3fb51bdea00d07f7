package customer

import "time"

// Customer is the canonical staging-side shape of an upstream customer
// record. customer_id is the natural key shared with the upstream
// system-of-record.
type Customer struct {
	CustomerID string    `json:"customer_id"`
	Email      string    `json:"email"`
	FirstName  string    `json:"first_name"`
	LastName   string    `json:"last_name"`
	Phone      string    `json:"phone"`
	Status     string    `json:"status"`
	UpdatedAt  time.Time `json:"updated_at"`
}
