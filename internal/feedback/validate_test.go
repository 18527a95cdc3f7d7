package feedback

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func validInput() CorrectionInput {
	return CorrectionInput{
		ImageID:   "img-001",
		Original:  LabelInput{Name: "Fried Rice", Grams: 250},
		Corrected: LabelInput{Name: "Tonkotsu Ramen", Grams: 420},
	}
}

func TestValidator_GramsBoundaries(t *testing.T) {
	val := NewValidator()

	tests := []struct {
		grams int
		ok    bool
	}{
		{0, false},
		{1, true},
		{10000, true},
		{10001, false},
		{-5, false},
	}
	for _, tt := range tests {
		in := validInput()
		in.Corrected.Grams = tt.grams
		err := val.Validate(in)
		if tt.ok {
			assert.NoError(t, err, "grams=%d", tt.grams)
			continue
		}
		fields := fieldsOf(t, err)
		if assert.Len(t, fields, 1) {
			assert.Equal(t, "corrected.grams", fields[0].Field)
		}
	}
}

func TestValidator_Messages(t *testing.T) {
	val := NewValidator()
	long := strings.Repeat("n", 501)

	in := validInput()
	in.ImageID = ""
	in.Original.Name = strings.Repeat("x", 201)
	in.Original.Grams = 0
	in.Corrected.Grams = 10001
	in.Adjustments = []AdjustmentInput{
		{Ingredient: "Egg", DeltaGrams: -20},
		{Ingredient: "", DeltaGrams: 3, Notes: &long},
	}

	fields := fieldsOf(t, val.Validate(in))
	assert.ElementsMatch(t, []FieldError{
		{Field: "imageId", Message: "must not be empty"},
		{Field: "original.name", Message: "must be at most 200 characters"},
		{Field: "original.grams", Message: "must be greater than or equal to 1"},
		{Field: "corrected.grams", Message: "must be less than or equal to 10000"},
		{Field: "adjustments[1].ingredient", Message: "must not be empty"},
		{Field: "adjustments[1].notes", Message: "must be at most 500 characters"},
	}, fields)
}

func TestValidator_LengthIsCharacters(t *testing.T) {
	in := validInput()
	in.Corrected.Name = strings.Repeat("é", 200)
	assert.NoError(t, NewValidator().Validate(in))
}

func TestValidator_DeltaGramsUnbounded(t *testing.T) {
	in := validInput()
	in.Adjustments = []AdjustmentInput{
		{Ingredient: "Oil", DeltaGrams: -100000},
		{Ingredient: "Rice", DeltaGrams: 0},
	}
	assert.NoError(t, NewValidator().Validate(in))
}
