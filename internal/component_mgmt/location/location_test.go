package location

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func intPtr(v int) *int       { return &v }
func int64Ptr(v int64) *int64 { return &v }

func TestValidate_Cabinet(t *testing.T) {
	tests := []struct {
		name string
		spec Spec
		want []string
	}{
		{
			name: "有効なキャビネット",
			spec: Spec{StorageType: StorageCabinet, CabinetNumber: intPtr(3), ShelfNumber: intPtr(2)},
			want: nil,
		},
		{
			name: "棚なし(0)も有効",
			spec: Spec{StorageType: StorageCabinet, CabinetNumber: intPtr(1), ShelfNumber: intPtr(0)},
			want: nil,
		},
		{
			name: "キャビネット番号が範囲外",
			spec: Spec{StorageType: StorageCabinet, CabinetNumber: intPtr(11), ShelfNumber: intPtr(2)},
			want: []string{"cabinet_number must be between 1 and 10"},
		},
		{
			name: "必須フィールド欠落",
			spec: Spec{StorageType: StorageCabinet},
			want: []string{"CABINET requires cabinet_number", "CABINET requires shelf_number"},
		},
		{
			name: "他タイプのフィールド混入",
			spec: Spec{
				StorageType:     StorageCabinet,
				CabinetNumber:   intPtr(2),
				ShelfNumber:     intPtr(1),
				DrawerIndex:     intPtr(4),
				StorageBoxIndex: intPtr(7),
			},
			want: []string{"CABINET cannot have drawer_index", "CABINET cannot have storage_box_index"},
		},
		{
			name: "コンテナが別キャビネット所属",
			spec: Spec{
				StorageType:            StorageCabinet,
				CabinetNumber:          intPtr(2),
				ShelfNumber:            intPtr(1),
				ContainerID:            int64Ptr(10),
				ContainerCabinetNumber: intPtr(5),
			},
			want: []string{"container does not belong to cabinet 2"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.spec.Validate())
		})
	}
}

func TestValidate_Drawer(t *testing.T) {
	valid := Spec{StorageType: StorageDrawer, DrawerIndex: intPtr(3)}
	assert.Empty(t, valid.Validate())

	// 全違反を集めて返す（fail-fastしない）
	bad := Spec{
		StorageType:   StorageDrawer,
		CabinetNumber: intPtr(1),
		ShelfNumber:   intPtr(2),
		ContainerID:   int64Ptr(9),
	}
	got := bad.Validate()
	assert.Equal(t, []string{
		"DRAWER requires drawer_index",
		"DRAWER cannot have cabinet_number",
		"DRAWER cannot have shelf_number",
		"DRAWER cannot have container_id",
	}, got)

	zero := Spec{StorageType: StorageDrawer, DrawerIndex: intPtr(0)}
	assert.Equal(t, []string{"drawer_index must be >= 1"}, zero.Validate())
}

func TestValidate_StorageBox(t *testing.T) {
	valid := Spec{StorageType: StorageBox, StorageBoxIndex: intPtr(2)}
	assert.Empty(t, valid.Validate())

	// 収納ボックスは箱・仕切りの細分を持てない
	withSub := Spec{
		StorageType:     StorageBox,
		StorageBoxIndex: intPtr(1),
		LocationType:    SubBox,
		LocationIndex:   intPtr(2),
	}
	assert.Contains(t, withSub.Validate(), "STORAGE_BOX cannot have BOX or PARTITION location_type")

	crossType := Spec{StorageType: StorageBox, StorageBoxIndex: intPtr(1), DrawerIndex: intPtr(2)}
	assert.Equal(t, []string{"STORAGE_BOX cannot have drawer_index"}, crossType.Validate())
}

func TestValidate_SubLocation(t *testing.T) {
	missing := Spec{StorageType: StorageDrawer, DrawerIndex: intPtr(1), LocationType: SubPartition}
	assert.Equal(t, []string{"location_index is required when location_type is PARTITION"}, missing.Validate())

	outOfRange := Spec{StorageType: StorageDrawer, DrawerIndex: intPtr(1), LocationType: SubBox, LocationIndex: intPtr(16)}
	assert.Equal(t, []string{"location_index must be between 1 and 15"}, outOfRange.Validate())

	unknown := Spec{StorageType: StorageDrawer, DrawerIndex: intPtr(1), LocationType: "SHELF"}
	assert.Equal(t, []string{`invalid location_type "SHELF", must be NONE, BOX or PARTITION`}, unknown.Validate())
}

func TestValidate_UnknownStorageType(t *testing.T) {
	spec := Spec{StorageType: "LOCKER"}
	assert.Equal(t, []string{`invalid storage_type "LOCKER", must be CABINET, DRAWER or STORAGE_BOX`}, spec.Validate())
}

// タイプ切り替え時、旧タイプのフィールドは正規化で構造的に消える
func TestNormalize_DropsStaleFieldsOnTypeSwitch(t *testing.T) {
	loc, violations := Spec{StorageType: StorageDrawer, DrawerIndex: intPtr(4)}.Normalize()
	require.Empty(t, violations)
	assert.Equal(t, StorageDrawer, loc.Type)
	require.NotNil(t, loc.Drawer)
	assert.Nil(t, loc.Cabinet)
	assert.Nil(t, loc.Box)
	assert.Equal(t, SubNone, loc.Sub.Type)
}

func TestNormalize_Cabinet(t *testing.T) {
	loc, violations := Spec{
		StorageType:   StorageCabinet,
		CabinetNumber: intPtr(7),
		ShelfNumber:   intPtr(3),
		ContainerID:   int64Ptr(12),
		ContainerCabinetNumber: intPtr(7),
		LocationType:  SubBox,
		LocationIndex: intPtr(5),
	}.Normalize()
	require.Empty(t, violations)
	require.NotNil(t, loc.Cabinet)
	assert.Equal(t, 7, loc.Cabinet.CabinetNumber)
	assert.Equal(t, 3, loc.Cabinet.ShelfNumber)
	require.NotNil(t, loc.Cabinet.ContainerID)
	assert.Equal(t, int64(12), *loc.Cabinet.ContainerID)
	assert.Equal(t, SubBox, loc.Sub.Type)
	assert.Equal(t, 5, loc.Sub.Index)
}

func TestNormalize_InvalidReturnsViolations(t *testing.T) {
	_, violations := Spec{StorageType: StorageBox, LocationType: SubBox, LocationIndex: intPtr(2)}.Normalize()
	assert.Equal(t, []string{
		"STORAGE_BOX requires storage_box_index",
		"STORAGE_BOX cannot have BOX or PARTITION location_type",
	}, violations)
}
