package feedback

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"

	"github.com/fyrsmithlabs/feedbackd/internal/logging"
)

type fakeWriter struct {
	calls []NewCorrection
	err   error
}

func (f *fakeWriter) CreateCorrection(_ context.Context, nc NewCorrection) (Correction, error) {
	f.calls = append(f.calls, nc)
	if f.err != nil {
		return Correction{}, f.err
	}
	return Correction{
		ID:          int64(len(f.calls)),
		ImageID:     nc.ImageID,
		Original:    nc.Original,
		Corrected:   nc.Corrected,
		Adjustments: nc.Adjustments,
		CreatedAt:   NewTimestamp(time.Now()),
	}, nil
}

func TestService_Submit(t *testing.T) {
	store := &fakeWriter{}
	tl := logging.NewTestLogger()
	svc := NewService(store, tl.Logger)

	c, err := svc.Submit(context.Background(), []byte(validBody))
	require.NoError(t, err)

	assert.Equal(t, int64(1), c.ID)
	assert.Equal(t, []Adjustment{{Ingredient: "Egg", DeltaGrams: -20}}, c.Adjustments)
	require.Len(t, store.calls, 1)
	tl.AssertLogged(t, zapcore.InfoLevel, "correction stored")
}

func TestService_RejectsBeforeStore(t *testing.T) {
	bodies := map[string]string{
		"malformed":     `{"imageId"`,
		"unknown field": `{"imageId":"a","original":{"name":"x","grams":1},"corrected":{"name":"y","grams":2},"extra":true}`,
		"out of range":  `{"imageId":"a","original":{"name":"x","grams":0},"corrected":{"name":"y","grams":2}}`,
	}
	for name, body := range bodies {
		t.Run(name, func(t *testing.T) {
			store := &fakeWriter{}
			svc := NewService(store, nil)

			_, err := svc.Submit(context.Background(), []byte(body))
			assert.ErrorIs(t, err, ErrValidation)
			assert.Empty(t, store.calls)
		})
	}
}

func TestService_StorageFailure(t *testing.T) {
	store := &fakeWriter{err: NewStorageError("create correction", errors.New("disk full"))}
	tl := logging.NewTestLogger()
	svc := NewService(store, tl.Logger)

	_, err := svc.Submit(context.Background(), []byte(validBody))
	assert.ErrorIs(t, err, ErrStorage)
	tl.AssertLogged(t, zapcore.ErrorLevel, "failed to store correction")
}
