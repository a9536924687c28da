package components

import (
	"database/sql"
	"time"

	"CREDIT-backend/internal/component_mgmt/location"
)

func nullInt64ToPtr(n sql.NullInt64) *int64 {
	if n.Valid {
		v := n.Int64
		return &v
	}
	return nil
}

type CreateComponentRequest struct {
	Name     string        `json:"name" binding:"required"`
	Category string        `json:"category" binding:"required"`
	Quantity int           `json:"quantity"`
	Remarks  *string       `json:"remarks,omitempty"`
	Location location.Spec `json:"location"`
}

// 部分更新。Locationを渡した場合は保管場所の付け替えになるため、
// 未返却残が0のときしか成功しない。
type UpdateComponentRequest struct {
	Name     *string        `json:"name,omitempty"`
	Category *string        `json:"category,omitempty"`
	Quantity *int           `json:"quantity,omitempty"`
	Remarks  *string        `json:"remarks,omitempty"`
	Location *location.Spec `json:"location,omitempty"`
}

type DeleteComponentRequest struct {
	Reason string `json:"reason" binding:"required"`
}

type LocationResponse struct {
	StorageType     string  `json:"storage_type"`
	CabinetNumber   *int64  `json:"cabinet_number,omitempty"`
	ShelfNumber     *int64  `json:"shelf_number,omitempty"`
	ContainerID     *int64  `json:"container_id,omitempty"`
	DrawerIndex     *int64  `json:"drawer_index,omitempty"`
	StorageBoxIndex *int64  `json:"storage_box_index,omitempty"`
	LocationType    string  `json:"location_type"`
	LocationIndex   *int64  `json:"location_index,omitempty"`
}

type ComponentResponse struct {
	ID        int64            `json:"id"`
	Name      string           `json:"name"`
	Category  string           `json:"category"`
	Quantity  int              `json:"quantity"`
	Available int              `json:"available"`
	Remarks   *string          `json:"remarks,omitempty"`
	Location  LocationResponse `json:"location"`
	IsDeleted bool             `json:"is_deleted"`
	DeletedReason *string      `json:"deleted_reason,omitempty"`
	DeletedAt     *time.Time   `json:"deleted_at,omitempty"`
	CreatedAt time.Time        `json:"created_at"`
	UpdatedAt time.Time        `json:"updated_at"`
}

type ValidateLocationResponse struct {
	Valid      bool     `json:"valid"`
	Violations []string `json:"violations"`
}

func buildComponentResponse(c *Component, available int) ComponentResponse {
	resp := ComponentResponse{
		ID:        c.ID,
		Name:      c.Name,
		Category:  c.Category,
		Quantity:  c.Quantity,
		Available: available,
		IsDeleted: c.IsDeleted,
		CreatedAt: c.CreatedAt,
		UpdatedAt: c.UpdatedAt,
		Location: LocationResponse{
			StorageType:  c.StorageType,
			LocationType: c.LocationType,
		},
	}
	if c.Remarks.Valid {
		v := c.Remarks.String
		resp.Remarks = &v
	}
	if c.DeletedReason.Valid {
		v := c.DeletedReason.String
		resp.DeletedReason = &v
	}
	if c.DeletedAt.Valid {
		v := c.DeletedAt.Time
		resp.DeletedAt = &v
	}
	resp.Location.CabinetNumber = nullInt64ToPtr(c.CabinetNumber)
	resp.Location.ShelfNumber = nullInt64ToPtr(c.ShelfNumber)
	resp.Location.ContainerID = nullInt64ToPtr(c.ContainerID)
	resp.Location.DrawerIndex = nullInt64ToPtr(c.DrawerIndex)
	resp.Location.StorageBoxIndex = nullInt64ToPtr(c.StorageBoxIndex)
	resp.Location.LocationIndex = nullInt64ToPtr(c.LocationIndex)
	return resp
}
