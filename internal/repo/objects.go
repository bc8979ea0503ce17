package repo

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"

	"pvimport/internal/db"
	"pvimport/internal/logs"
	"pvimport/internal/models"
)

// ErrNameAlreadyExists is returned by AddObject when the requested name
// is already taken. The engine path never expects it; it exists for the
// editor flow.
var ErrNameAlreadyExists = errors.New("object name already exists")

// Repo is the typed access layer over the Helium schema. Every public
// operation routes through the session's reconnect wrapper exactly once.
type Repo struct {
	s *db.Session

	now func() time.Time
}

func New(s *db.Session) *Repo {
	return &Repo{s: s, now: time.Now}
}

// Object returns the object row, or nil when the id is unknown.
func (r *Repo) Object(ctx context.Context, id uint) (*models.Object, error) {
	var out *models.Object
	err := r.s.WithConnection(ctx, func(gdb *gorm.DB) error {
		var e error
		out, e = objectTx(gdb, id)
		return e
	})
	return out, err
}

func objectTx(gdb *gorm.DB, id uint) (*models.Object, error) {
	var o models.Object
	if err := gdb.First(&o, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &o, nil
}

// ObjectIDByName resolves a name to an id. The schema does not enforce
// name uniqueness; on duplicates the lowest id wins and a warning is
// logged.
func (r *Repo) ObjectIDByName(ctx context.Context, name string) (uint, bool, error) {
	var (
		id    uint
		found bool
	)
	err := r.s.WithConnection(ctx, func(gdb *gorm.DB) error {
		var e error
		id, found, e = objectIDByNameTx(gdb, name)
		return e
	})
	return id, found, err
}

func objectIDByNameTx(gdb *gorm.DB, name string) (uint, bool, error) {
	var objs []models.Object
	if err := gdb.Where("OB_NAME = ?", name).Order("OB_ID ASC").Find(&objs).Error; err != nil {
		return 0, false, err
	}
	if len(objs) == 0 {
		return 0, false, nil
	}
	if len(objs) > 1 {
		logs.Logger.Warnf("object name %q is ambiguous (%d rows), using lowest id %d",
			name, len(objs), objs[0].ID)
	}
	return objs[0].ID, true, nil
}

// ObjectTypeName returns the type name of an object, or "" when the
// object or its type is unknown.
func (r *Repo) ObjectTypeName(ctx context.Context, id uint) (string, error) {
	var name string
	err := r.s.WithConnection(ctx, func(gdb *gorm.DB) error {
		t, e := objectTypeTx(gdb, id)
		if t != nil {
			name = t.Name
		}
		return e
	})
	return name, err
}

func objectTypeTx(gdb *gorm.DB, objectID uint) (*models.ObjectType, error) {
	o, err := objectTx(gdb, objectID)
	if err != nil || o == nil {
		return nil, err
	}
	var t models.ObjectType
	if err := gdb.First(&t, o.TypeID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &t, nil
}

// ObjectClassName returns the class name of an object, traversing
// object → type → class.
func (r *Repo) ObjectClassName(ctx context.Context, id uint) (string, error) {
	var name string
	err := r.s.WithConnection(ctx, func(gdb *gorm.DB) error {
		c, e := objectClassTx(gdb, id)
		if c != nil {
			name = c.Name
		}
		return e
	})
	return name, err
}

func objectClassTx(gdb *gorm.DB, objectID uint) (*models.ObjectClass, error) {
	t, err := objectTypeTx(gdb, objectID)
	if err != nil || t == nil {
		return nil, err
	}
	var c models.ObjectClass
	if err := gdb.First(&c, t.ClassID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &c, nil
}

// ObjectFunctionName returns the function name of an object, traversing
// object → type → class → function.
func (r *Repo) ObjectFunctionName(ctx context.Context, id uint) (string, error) {
	var name string
	err := r.s.WithConnection(ctx, func(gdb *gorm.DB) error {
		c, e := objectClassTx(gdb, id)
		if e != nil || c == nil {
			return e
		}
		var f models.Function
		if e := gdb.First(&f, c.FunctionID).Error; e != nil {
			if errors.Is(e, gorm.ErrRecordNotFound) {
				return nil
			}
			return e
		}
		name = f.Name
		return nil
	})
	return name, err
}

// MeasurementTypes returns the five measurement-type labels of a class.
func (r *Repo) MeasurementTypes(ctx context.Context, classID uint) ([5]*string, error) {
	var out [5]*string
	err := r.s.WithConnection(ctx, func(gdb *gorm.DB) error {
		var c models.ObjectClass
		if e := gdb.First(&c, classID).Error; e != nil {
			if errors.Is(e, gorm.ErrRecordNotFound) {
				return nil
			}
			return e
		}
		out = [5]*string{c.MeasureType1, c.MeasureType2, c.MeasureType3, c.MeasureType4, c.MeasureType5}
		return nil
	})
	return out, err
}

// ActiveAssignedModule finds the current module child of an object: the
// highest-id active relation from ownerID whose assigned object has the
// given type.
func (r *Repo) ActiveAssignedModule(ctx context.Context, ownerID, moduleTypeID uint) (uint, bool, error) {
	var (
		id    uint
		found bool
	)
	err := r.s.WithConnection(ctx, func(gdb *gorm.DB) error {
		var e error
		id, found, e = activeAssignedModuleTx(gdb, ownerID, moduleTypeID)
		return e
	})
	return id, found, err
}

func activeAssignedModuleTx(gdb *gorm.DB, ownerID, moduleTypeID uint) (uint, bool, error) {
	var rels []models.ObjectRelation
	err := gdb.
		Joins("JOIN gam_object ON gam_object.OB_ID = gam_objectrelation.OR_OBJECT_ID_ASSIGNED").
		Where("OR_OBJECT_ID = ? AND OR_DATE_REMOVAL IS NULL AND gam_object.OB_OBJECTTYPE_ID = ?",
			ownerID, moduleTypeID).
		Order("OR_ID DESC").
		Limit(1).
		Find(&rels).Error
	if err != nil {
		return 0, false, err
	}
	if len(rels) == 0 {
		return 0, false, nil
	}
	return rels[0].AssignedID, true, nil
}

// AddObject creates an inventory object and returns its id.
func (r *Repo) AddObject(ctx context.Context, name string, typeID uint, displayGroupID *uint, comment *string) (uint, error) {
	var id uint
	err := r.s.WithConnection(ctx, func(gdb *gorm.DB) error {
		var e error
		id, e = addObjectTx(gdb, name, typeID, displayGroupID, comment)
		return e
	})
	return id, err
}

func addObjectTx(gdb *gorm.DB, name string, typeID uint, displayGroupID *uint, comment *string) (uint, error) {
	if _, found, err := objectIDByNameTx(gdb, name); err != nil {
		return 0, err
	} else if found {
		return 0, fmt.Errorf("%w: %q", ErrNameAlreadyExists, name)
	}
	o := models.Object{Name: name, TypeID: typeID, DisplayGroupID: displayGroupID, Comment: comment}
	if err := gdb.Create(&o).Error; err != nil {
		return 0, err
	}
	return o.ID, nil
}

// AddRelation inserts an active relation from owner to assigned,
// stamped now.
func (r *Repo) AddRelation(ctx context.Context, ownerID, assignedID uint) error {
	return r.s.WithConnection(ctx, func(gdb *gorm.DB) error {
		return r.addRelationTx(gdb, ownerID, assignedID)
	})
}

func (r *Repo) addRelationTx(gdb *gorm.DB, ownerID, assignedID uint) error {
	rel := models.ObjectRelation{
		ObjectID:       ownerID,
		AssignedID:     assignedID,
		Primary:        0,
		DateAssignment: r.now().Format(models.TimeFormat),
	}
	return gdb.Create(&rel).Error
}

// CreateModuleIfRequired materialises the module child for eligible
// classes: Vessel/Cryostat get an SLD, GasCounter gets a GCM, then an
// active relation from owner to child. Other classes are a no-op.
func (r *Repo) CreateModuleIfRequired(ctx context.Context, objectID uint, objectName string, classID uint) error {
	var (
		childType uint
		childName string
	)
	switch classID {
	case models.ClassVessel, models.ClassCryostat:
		childType = models.TypeSLD
		childName = fmt.Sprintf("SLD %q (ID: %d)", objectName, objectID)
	case models.ClassGasCounter:
		childType = models.TypeGCM
		childName = fmt.Sprintf("GCM %q (ID: %d)", objectName, objectID)
	default:
		return nil
	}

	return r.s.WithConnection(ctx, func(gdb *gorm.DB) error {
		return gdb.Transaction(func(tx *gorm.DB) error {
			childID, err := addObjectTx(tx, childName, childType, nil, nil)
			if err != nil {
				return err
			}
			return r.addRelationTx(tx, objectID, childID)
		})
	})
}
