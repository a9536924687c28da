package components

import (
	"database/sql"
	"time"

	"CREDIT-backend/internal/component_mgmt/location"
)

// Component は components テーブルの1行を表す。
// quantity は「これまでに所有した総数」で、貸出・返却では変化しない。
// 貸出可能数は都度 quantity - 未返却残 で計算する。
type Component struct {
	ID       int64
	Name     string
	Category string
	Quantity int
	Remarks  sql.NullString

	StorageType     string
	CabinetNumber   sql.NullInt64
	ShelfNumber     sql.NullInt64
	ContainerID     sql.NullInt64
	DrawerIndex     sql.NullInt64
	StorageBoxIndex sql.NullInt64
	LocationType    string
	LocationIndex   sql.NullInt64

	IsDeleted     bool
	DeletedReason sql.NullString
	DeletedAt     sql.NullTime

	CreatedAt time.Time
	UpdatedAt time.Time
}

// applyLocation は正規化済みLocationをDBカラムに展開する。
// 先に全カラムをクリアするため、タイプ切り替えで旧タイプの値が残ることはない。
func (c *Component) applyLocation(loc location.Location) {
	c.StorageType = string(loc.Type)
	c.CabinetNumber = sql.NullInt64{}
	c.ShelfNumber = sql.NullInt64{}
	c.ContainerID = sql.NullInt64{}
	c.DrawerIndex = sql.NullInt64{}
	c.StorageBoxIndex = sql.NullInt64{}
	c.LocationType = string(location.SubNone)
	c.LocationIndex = sql.NullInt64{}

	switch loc.Type {
	case location.StorageCabinet:
		c.CabinetNumber = sql.NullInt64{Int64: int64(loc.Cabinet.CabinetNumber), Valid: true}
		c.ShelfNumber = sql.NullInt64{Int64: int64(loc.Cabinet.ShelfNumber), Valid: true}
		if loc.Cabinet.ContainerID != nil {
			c.ContainerID = sql.NullInt64{Int64: *loc.Cabinet.ContainerID, Valid: true}
		}
	case location.StorageDrawer:
		c.DrawerIndex = sql.NullInt64{Int64: int64(loc.Drawer.DrawerIndex), Valid: true}
	case location.StorageBox:
		c.StorageBoxIndex = sql.NullInt64{Int64: int64(loc.Box.StorageBoxIndex), Valid: true}
	}

	if loc.Sub.Type != location.SubNone {
		c.LocationType = string(loc.Sub.Type)
		c.LocationIndex = sql.NullInt64{Int64: int64(loc.Sub.Index), Valid: true}
	}
}
