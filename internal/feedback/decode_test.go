package feedback

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const validBody = `{
	"imageId": "img-001",
	"original": {"name": "Fried Rice", "grams": 250},
	"corrected": {"name": "Tonkotsu Ramen", "grams": 420},
	"adjustments": [{"ingredient": "Egg", "deltaGrams": -20}]
}`

func fieldsOf(t *testing.T, err error) []FieldError {
	t.Helper()
	var verr *ValidationError
	require.True(t, errors.As(err, &verr), "expected ValidationError, got %v", err)
	assert.ErrorIs(t, err, ErrValidation)
	return verr.Fields
}

func TestDecode_Valid(t *testing.T) {
	in, err := Decode([]byte(validBody))
	require.NoError(t, err)

	assert.Equal(t, "img-001", in.ImageID)
	assert.Equal(t, LabelInput{Name: "Fried Rice", Grams: 250}, in.Original)
	assert.Equal(t, LabelInput{Name: "Tonkotsu Ramen", Grams: 420}, in.Corrected)
	require.Len(t, in.Adjustments, 1)
	assert.Equal(t, "Egg", in.Adjustments[0].Ingredient)
	assert.Equal(t, -20, in.Adjustments[0].DeltaGrams)
	assert.Nil(t, in.Adjustments[0].Notes)
}

func TestDecode_IntegralNumbers(t *testing.T) {
	body := `{"imageId":"a","original":{"name":"x","grams":250.0},"corrected":{"name":"y","grams":1e2},` +
		`"adjustments":[{"ingredient":"Egg","deltaGrams":-2.0E1,"notes":"1.5 eggs"}]}`
	in, err := Decode([]byte(body))
	require.NoError(t, err)

	assert.Equal(t, 250, in.Original.Grams)
	assert.Equal(t, 100, in.Corrected.Grams)
	require.Len(t, in.Adjustments, 1)
	assert.Equal(t, -20, in.Adjustments[0].DeltaGrams)
	require.NotNil(t, in.Adjustments[0].Notes)
	assert.Equal(t, "1.5 eggs", *in.Adjustments[0].Notes)

	for _, grams := range []string{"250.5", "1e-2", "1e300", `"250"`, "true"} {
		t.Run(grams, func(t *testing.T) {
			body := `{"imageId":"a","original":{"name":"x","grams":` + grams + `},"corrected":{"name":"y","grams":2}}`
			_, err := Decode([]byte(body))
			assert.Equal(t, []FieldError{{Field: "original.grams", Message: "must be an integer"}}, fieldsOf(t, err))
		})
	}
}

func TestDecode_AdjustmentsOptional(t *testing.T) {
	for _, body := range []string{
		`{"imageId":"a","original":{"name":"x","grams":1},"corrected":{"name":"y","grams":2}}`,
		`{"imageId":"a","original":{"name":"x","grams":1},"corrected":{"name":"y","grams":2},"adjustments":null}`,
		`{"imageId":"a","original":{"name":"x","grams":1},"corrected":{"name":"y","grams":2},"adjustments":[]}`,
	} {
		in, err := Decode([]byte(body))
		require.NoError(t, err, body)
		assert.Empty(t, in.Adjustments)
	}
}

func TestDecode_Rejections(t *testing.T) {
	tests := []struct {
		name string
		body string
		want []FieldError
	}{
		{
			name: "empty body",
			body: ``,
			want: []FieldError{{Message: "malformed JSON body"}},
		},
		{
			name: "truncated json",
			body: `{"imageId":`,
			want: []FieldError{{Message: "malformed JSON body"}},
		},
		{
			name: "top level array",
			body: `[]`,
			want: []FieldError{{Field: "", Message: "must be an object"}},
		},
		{
			name: "unknown top level key",
			body: `{"imageId":"a","original":{"name":"x","grams":1},"corrected":{"name":"y","grams":2},"userId":7}`,
			want: []FieldError{{Field: "userId", Message: "extra fields not permitted"}},
		},
		{
			name: "unknown nested key",
			body: `{"imageId":"a","original":{"name":"x","grams":1,"kcal":3},"corrected":{"name":"y","grams":2}}`,
			want: []FieldError{{Field: "original.kcal", Message: "extra fields not permitted"}},
		},
		{
			name: "unknown adjustment key",
			body: `{"imageId":"a","original":{"name":"x","grams":1},"corrected":{"name":"y","grams":2},"adjustments":[{"ingredient":"Egg","deltaGrams":1,"unit":"g"}]}`,
			want: []FieldError{{Field: "adjustments[0].unit", Message: "extra fields not permitted"}},
		},
		{
			name: "missing fields",
			body: `{"original":{"name":"x"}}`,
			want: []FieldError{
				{Field: "corrected", Message: "field required"},
				{Field: "imageId", Message: "field required"},
				{Field: "original.grams", Message: "field required"},
			},
		},
		{
			name: "wrong types",
			body: `{"imageId":5,"original":{"name":"x","grams":"250"},"corrected":{"name":"y","grams":2.5},"adjustments":{}}`,
			want: []FieldError{
				{Field: "adjustments", Message: "must be an array"},
				{Field: "corrected.grams", Message: "must be an integer"},
				{Field: "imageId", Message: "must be a string"},
				{Field: "original.grams", Message: "must be an integer"},
			},
		},
		{
			name: "null required field",
			body: `{"imageId":null,"original":{"name":"x","grams":1},"corrected":{"name":"y","grams":2}}`,
			want: []FieldError{{Field: "imageId", Message: "field required"}},
		},
		{
			name: "missing adjustment delta",
			body: `{"imageId":"a","original":{"name":"x","grams":1},"corrected":{"name":"y","grams":2},"adjustments":[{"ingredient":"Egg","deltaGrams":1},{"ingredient":"Rice"}]}`,
			want: []FieldError{{Field: "adjustments[1].deltaGrams", Message: "field required"}},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Decode([]byte(tt.body))
			assert.Equal(t, tt.want, fieldsOf(t, err))
		})
	}
}

func TestDecode_NotesNullable(t *testing.T) {
	body := `{"imageId":"a","original":{"name":"x","grams":1},"corrected":{"name":"y","grams":2},"adjustments":[{"ingredient":"Egg","deltaGrams":1,"notes":null},{"ingredient":"Oil","deltaGrams":-5,"notes":"less oil"}]}`

	in, err := Decode([]byte(body))
	require.NoError(t, err)
	require.Len(t, in.Adjustments, 2)
	assert.Nil(t, in.Adjustments[0].Notes)
	require.NotNil(t, in.Adjustments[1].Notes)
	assert.Equal(t, "less oil", *in.Adjustments[1].Notes)
}

func TestCorrectionInput_ToNewCorrection(t *testing.T) {
	notes := "skin removed"
	in := CorrectionInput{
		ImageID:   "img",
		Original:  LabelInput{Name: "a", Grams: 1},
		Corrected: LabelInput{Name: "b", Grams: 2},
		Adjustments: []AdjustmentInput{
			{Ingredient: "Chicken", DeltaGrams: -30, Notes: &notes},
			{Ingredient: "Rice", DeltaGrams: 15},
		},
	}

	nc := in.ToNewCorrection()
	assert.Equal(t, "img", nc.ImageID)
	assert.Equal(t, Label{Name: "b", Grams: 2}, nc.Corrected)
	assert.Equal(t, []Adjustment{
		{Ingredient: "Chicken", DeltaGrams: -30, Notes: &notes},
		{Ingredient: "Rice", DeltaGrams: 15},
	}, nc.Adjustments)
}
