// internal/models/order.go
package models

import (
	"time"

	"gorm.io/gorm"
)

// Order is the thin projection of the order collaborator that the planner
// needs: who the client is, where they live and how many service items the
// installers have to mount there.
type Order struct {
	gorm.Model
	ClientName    string `json:"client_name"`
	ClientAddress string `json:"client_address"`
	ClientPhone   string `json:"client_phone"`
	ServiceCount  int    `json:"service_count"`
	Status        string `json:"status" gorm:"default:'new'"` // "new", "in_progress", "completed", "cancelled"
	ManagerID     uint   `json:"manager_id" gorm:"index"`
	Manager       User   `gorm:"foreignKey:ManagerID" json:"manager,omitempty"`

	CompletedAt *time.Time `json:"completed_at,omitempty"`

	// At most one active schedule per order
	Schedule *ScheduleSlot `gorm:"foreignKey:OrderID" json:"schedule,omitempty"`
}
