package repo

import (
	"context"
	"fmt"
	"strconv"

	"gorm.io/gorm"

	"pvimport/internal/logs"
	"pvimport/internal/models"
)

const measurementBookingCode = 0 // marks rows not written by the balance program

// AddMeasurement writes one measurement row for objectID. values maps
// slot numbers 1..5 to scalars; absent slots become null columns. When
// the object has an active software-level-device child, the row is
// redirected to it and the comment says so. Returns the inserted row id.
func (r *Repo) AddMeasurement(ctx context.Context, objectID uint, values map[int]any) (uint, error) {
	var rowID uint
	err := r.s.WithConnection(ctx, func(gdb *gorm.DB) error {
		obj, err := objectTx(gdb, objectID)
		if err != nil {
			return err
		}
		if obj == nil {
			return fmt.Errorf("object %d does not exist", objectID)
		}

		var typeName, className string
		if t, err := objectTypeTx(gdb, objectID); err != nil {
			return err
		} else if t != nil {
			typeName = t.Name
		}
		if c, err := objectClassTx(gdb, objectID); err != nil {
			return err
		} else if c != nil {
			className = c.Name
		}

		target := objectID
		comment := fmt.Sprintf("%q (%s - %s) via HLM PV IMPORT", obj.Name, typeName, className)
		if sldID, found, err := activeAssignedModuleTx(gdb, objectID, models.TypeSLD); err != nil {
			return err
		} else if found {
			target = sldID
			comment = fmt.Sprintf("SLD for %d %q (%s - %s) via HLM PV IMPORT",
				objectID, obj.Name, typeName, className)
		}

		now := r.now().Format(models.TimeFormat)
		m := models.Measurement{
			ObjectID:    target,
			Date:        now,
			Date2:       now,
			Comment:     comment,
			Value1:      slotValue(values, 1),
			Value2:      slotValue(values, 2),
			Value3:      slotValue(values, 3),
			Value4:      slotValue(values, 4),
			Value5:      slotValue(values, 5),
			Valid:       1,
			BookingCode: measurementBookingCode,
		}
		if err := gdb.Create(&m).Error; err != nil {
			return err
		}
		rowID = m.ID

		logs.Logger.WithFields(map[string]any{
			"measurement_id": m.ID,
			"object":         obj.Name,
			"target":         target,
			"values":         values,
		}).Info("measurement written")
		return nil
	})
	return rowID, err
}

func slotValue(values map[int]any, slot int) *float64 {
	v, ok := values[slot]
	if !ok || v == nil {
		return nil
	}
	f, ok := toFloat(v)
	if !ok {
		logs.Logger.Debugf("slot %d value %v is not numeric, writing null", slot, v)
		return nil
	}
	return &f
}

func toFloat(v any) (float64, bool) {
	switch x := v.(type) {
	case float64:
		return x, true
	case float32:
		return float64(x), true
	case int:
		return float64(x), true
	case int16:
		return float64(x), true
	case int32:
		return float64(x), true
	case int64:
		return float64(x), true
	case uint16:
		return float64(x), true
	case string:
		f, err := strconv.ParseFloat(x, 64)
		return f, err == nil
	default:
		return 0, false
	}
}
