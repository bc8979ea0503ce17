package models

// Well-known ids of the Helium inventory schema. These are fixed by the
// production database and must not drift.
const (
	TypeSLD             uint = 18 // software level device
	TypeGCM             uint = 16 // gas counter module
	TypeMercuryCryostat uint = 28

	ClassVessel           uint = 2
	ClassCryostat         uint = 4
	ClassGasCounter       uint = 7
	ClassGasCounterModule uint = 16
	ClassHeLvlModule      uint = 17
)

// TimeFormat is the timestamp layout used by every date column the engine
// touches.
const TimeFormat = "2006-01-02 15:04:05"

// Object — one row of the inventory table; a physical or logical
// instrument.
type Object struct {
	ID             uint    `gorm:"column:OB_ID;primaryKey;autoIncrement"`
	Name           string  `gorm:"column:OB_NAME"`
	TypeID         uint    `gorm:"column:OB_OBJECTTYPE_ID"`
	DisplayGroupID *uint   `gorm:"column:OB_DISPLAYGROUP_ID"`
	Comment        *string `gorm:"column:OB_COMMENT"`
}

func (Object) TableName() string { return "gam_object" }

type ObjectType struct {
	ID      uint   `gorm:"column:OT_ID;primaryKey;autoIncrement"`
	Name    string `gorm:"column:OT_NAME"`
	ClassID uint   `gorm:"column:OT_OBJECTCLASS_ID"`
}

func (ObjectType) TableName() string { return "gam_objecttype" }

type ObjectClass struct {
	ID           uint    `gorm:"column:OC_ID;primaryKey;autoIncrement"`
	Name         string  `gorm:"column:OC_NAME"`
	FunctionID   uint    `gorm:"column:OC_FUNCTION_ID"`
	MeasureType1 *string `gorm:"column:OC_MEASURETYPE1"`
	MeasureType2 *string `gorm:"column:OC_MEASURETYPE2"`
	MeasureType3 *string `gorm:"column:OC_MEASURETYPE3"`
	MeasureType4 *string `gorm:"column:OC_MEASURETYPE4"`
	MeasureType5 *string `gorm:"column:OC_MEASURETYPE5"`
	PositionType *string `gorm:"column:OC_POSITIONTYPE"`
}

func (ObjectClass) TableName() string { return "gam_objectclass" }

type Function struct {
	ID   uint   `gorm:"column:FUN_ID;primaryKey;autoIncrement"`
	Name string `gorm:"column:FUN_NAME"`
}

func (Function) TableName() string { return "gam_function" }

// ObjectRelation — time-bounded directed assignment between two objects.
// A relation is active while DateRemoval is null.
type ObjectRelation struct {
	ID             uint     `gorm:"column:OR_ID;primaryKey;autoIncrement"`
	ObjectID       uint     `gorm:"column:OR_OBJECT_ID"`
	AssignedID     uint     `gorm:"column:OR_OBJECT_ID_ASSIGNED"`
	Primary        int      `gorm:"column:OR_PRIMARY"`
	DateAssignment string   `gorm:"column:OR_DATE_ASSIGNMENT"`
	DateRemoval    *string  `gorm:"column:OR_DATE_REMOVAL"`
	Outflow        *float64 `gorm:"column:OR_OUTFLOW"`
	BookingRequest *uint    `gorm:"column:OR_BOOKINGREQUEST"`
}

func (ObjectRelation) TableName() string { return "gam_objectrelation" }

// Measurement — append-only row of up to five correlated values.
// Dates are kept as pre-formatted strings so MEA_DATE and MEA_DATE2 stay
// bit-identical.
type Measurement struct {
	ID          uint     `gorm:"column:MEA_ID;primaryKey;autoIncrement"`
	ObjectID    uint     `gorm:"column:MEA_OBJECT_ID"`
	Date        string   `gorm:"column:MEA_DATE"`
	Date2       string   `gorm:"column:MEA_DATE2"`
	Comment     string   `gorm:"column:MEA_COMMENT"`
	Value1      *float64 `gorm:"column:MEA_VALUE1"`
	Value2      *float64 `gorm:"column:MEA_VALUE2"`
	Value3      *float64 `gorm:"column:MEA_VALUE3"`
	Value4      *float64 `gorm:"column:MEA_VALUE4"`
	Value5      *float64 `gorm:"column:MEA_VALUE5"`
	Valid       int      `gorm:"column:MEA_VALID"`
	BookingCode int      `gorm:"column:MEA_BOOKINGCODE"`
}

func (Measurement) TableName() string { return "gam_measurement" }

// All returns every model, in dependency order, for test migrations.
func All() []any {
	return []any{
		&Function{},
		&ObjectClass{},
		&ObjectType{},
		&Object{},
		&ObjectRelation{},
		&Measurement{},
	}
}
