package location

import "fmt"

// 保管タイプ
type StorageType string

const (
	StorageCabinet StorageType = "CABINET"
	StorageDrawer  StorageType = "DRAWER"
	StorageBox     StorageType = "STORAGE_BOX"
)

// コンテナ・引き出し内の細分（箱 / 仕切り）
type SubLocationType string

const (
	SubNone      SubLocationType = "NONE"
	SubBox       SubLocationType = "BOX"
	SubPartition SubLocationType = "PARTITION"
)

const (
	CabinetMin = 1
	CabinetMax = 10
	ShelfMin   = 0 // 0 = 棚なし
	ShelfMax   = 5
	SubIndexMin = 1
	SubIndexMax = 15
)

// Spec は検証前の生の保管場所入力。タイプに合わないフィールドも来うる。
type Spec struct {
	StorageType     StorageType     `json:"storage_type"`
	CabinetNumber   *int            `json:"cabinet_number,omitempty"`
	ShelfNumber     *int            `json:"shelf_number,omitempty"`
	ContainerID     *int64          `json:"container_id,omitempty"`
	DrawerIndex     *int            `json:"drawer_index,omitempty"`
	StorageBoxIndex *int            `json:"storage_box_index,omitempty"`
	LocationType    SubLocationType `json:"location_type"`
	LocationIndex   *int            `json:"location_index,omitempty"`

	// ContainerID指定時に呼び出し側がDBから解決して渡す、コンテナの所属キャビネット番号。
	// バリデータ自身はDBを見ない。
	ContainerCabinetNumber *int `json:"-"`
}

// ===== 正規化済み保管場所（variantは常に1つだけ） =====

type CabinetSlot struct {
	CabinetNumber int
	ShelfNumber   int
	ContainerID   *int64
}

type DrawerSlot struct {
	DrawerIndex int
}

type StorageBoxSlot struct {
	StorageBoxIndex int
}

type SubLocation struct {
	Type  SubLocationType
	Index int // Type != NONE のときのみ有効
}

// Location は検証済みの保管場所。保管タイプを切り替えるときは
// 新しいSpecからNormalizeし直すことで、旧タイプのフィールドが構造的に残らない。
type Location struct {
	Type    StorageType
	Cabinet *CabinetSlot
	Drawer  *DrawerSlot
	Box     *StorageBoxSlot
	Sub     SubLocation
}

// Validate は全ルールを検査して違反の一覧を返す（空なら妥当）。
// 最初の違反で打ち切らず、全て集めて返す。
func (s Spec) Validate() []string {
	var violations []string

	switch s.StorageType {
	case StorageCabinet:
		if s.CabinetNumber == nil {
			violations = append(violations, "CABINET requires cabinet_number")
		} else if *s.CabinetNumber < CabinetMin || *s.CabinetNumber > CabinetMax {
			violations = append(violations, fmt.Sprintf("cabinet_number must be between %d and %d", CabinetMin, CabinetMax))
		}
		if s.ShelfNumber == nil {
			violations = append(violations, "CABINET requires shelf_number")
		} else if *s.ShelfNumber < ShelfMin || *s.ShelfNumber > ShelfMax {
			violations = append(violations, fmt.Sprintf("shelf_number must be between %d and %d", ShelfMin, ShelfMax))
		}
		if s.DrawerIndex != nil {
			violations = append(violations, "CABINET cannot have drawer_index")
		}
		if s.StorageBoxIndex != nil {
			violations = append(violations, "CABINET cannot have storage_box_index")
		}
		if s.ContainerID != nil && s.ContainerCabinetNumber != nil && s.CabinetNumber != nil &&
			*s.ContainerCabinetNumber != *s.CabinetNumber {
			violations = append(violations, fmt.Sprintf("container does not belong to cabinet %d", *s.CabinetNumber))
		}

	case StorageDrawer:
		if s.DrawerIndex == nil {
			violations = append(violations, "DRAWER requires drawer_index")
		} else if *s.DrawerIndex < 1 {
			violations = append(violations, "drawer_index must be >= 1")
		}
		if s.CabinetNumber != nil {
			violations = append(violations, "DRAWER cannot have cabinet_number")
		}
		if s.ShelfNumber != nil {
			violations = append(violations, "DRAWER cannot have shelf_number")
		}
		if s.ContainerID != nil {
			violations = append(violations, "DRAWER cannot have container_id")
		}
		if s.StorageBoxIndex != nil {
			violations = append(violations, "DRAWER cannot have storage_box_index")
		}

	case StorageBox:
		if s.StorageBoxIndex == nil {
			violations = append(violations, "STORAGE_BOX requires storage_box_index")
		} else if *s.StorageBoxIndex < 1 {
			violations = append(violations, "storage_box_index must be >= 1")
		}
		if s.CabinetNumber != nil {
			violations = append(violations, "STORAGE_BOX cannot have cabinet_number")
		}
		if s.ShelfNumber != nil {
			violations = append(violations, "STORAGE_BOX cannot have shelf_number")
		}
		if s.ContainerID != nil {
			violations = append(violations, "STORAGE_BOX cannot have container_id")
		}
		if s.DrawerIndex != nil {
			violations = append(violations, "STORAGE_BOX cannot have drawer_index")
		}
		if s.LocationType == SubBox || s.LocationType == SubPartition {
			violations = append(violations, "STORAGE_BOX cannot have BOX or PARTITION location_type")
		}

	default:
		violations = append(violations, fmt.Sprintf("invalid storage_type %q, must be CABINET, DRAWER or STORAGE_BOX", string(s.StorageType)))
	}

	switch s.LocationType {
	case SubNone, "": // 未指定はNONE扱い
		// LocationIndexは無視する
	case SubBox, SubPartition:
		if s.LocationIndex == nil {
			violations = append(violations, fmt.Sprintf("location_index is required when location_type is %s", s.LocationType))
		} else if *s.LocationIndex < SubIndexMin || *s.LocationIndex > SubIndexMax {
			violations = append(violations, fmt.Sprintf("location_index must be between %d and %d", SubIndexMin, SubIndexMax))
		}
	default:
		violations = append(violations, fmt.Sprintf("invalid location_type %q, must be NONE, BOX or PARTITION", string(s.LocationType)))
	}

	return violations
}

// Normalize は検証して正規化済みLocationを返す。
// 旧タイプのstaleなフィールドは構築時点で捨てられる。
func (s Spec) Normalize() (Location, []string) {
	if violations := s.Validate(); len(violations) > 0 {
		return Location{}, violations
	}

	loc := Location{Type: s.StorageType, Sub: SubLocation{Type: SubNone}}
	if s.LocationType == SubBox || s.LocationType == SubPartition {
		loc.Sub = SubLocation{Type: s.LocationType, Index: *s.LocationIndex}
	}

	switch s.StorageType {
	case StorageCabinet:
		loc.Cabinet = &CabinetSlot{
			CabinetNumber: *s.CabinetNumber,
			ShelfNumber:   *s.ShelfNumber,
			ContainerID:   s.ContainerID,
		}
	case StorageDrawer:
		loc.Drawer = &DrawerSlot{DrawerIndex: *s.DrawerIndex}
	case StorageBox:
		loc.Box = &StorageBoxSlot{StorageBoxIndex: *s.StorageBoxIndex}
	}
	return loc, nil
}
