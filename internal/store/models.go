package store

import "time"

// correctionRow is the persisted form of a correction.
type correctionRow struct {
	ID             int64     `gorm:"primaryKey;autoIncrement"`
	ImageID        string    `gorm:"size:200;not null;index"`
	OriginalName   string    `gorm:"size:200;not null"`
	OriginalGrams  int       `gorm:"not null"`
	CorrectedName  string    `gorm:"size:200;not null;index"`
	CorrectedGrams int       `gorm:"not null"`
	CreatedAt      time.Time `gorm:"not null;index"`

	Adjustments []adjustmentRow `gorm:"foreignKey:CorrectionID;constraint:OnDelete:CASCADE"`
}

// TableName returns the table name for GORM.
func (correctionRow) TableName() string {
	return "feedback_corrections"
}

// adjustmentRow is one ingredient adjustment. Position records submission
// order within its correction.
type adjustmentRow struct {
	ID           int64   `gorm:"primaryKey;autoIncrement"`
	CorrectionID int64   `gorm:"not null;index:idx_ingredient_adjustments_order,priority:1"`
	Position     int     `gorm:"not null;index:idx_ingredient_adjustments_order,priority:2"`
	Ingredient   string  `gorm:"size:100;not null"`
	DeltaGrams   int     `gorm:"not null"`
	Notes        *string `gorm:"size:500"`
}

// TableName returns the table name for GORM.
func (adjustmentRow) TableName() string {
	return "ingredient_adjustments"
}
