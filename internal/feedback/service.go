package feedback

import (
	"context"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/feedbackd/internal/logging"
)

// CorrectionWriter commits a correction and its adjustments atomically.
type CorrectionWriter interface {
	CreateCorrection(ctx context.Context, nc NewCorrection) (Correction, error)
}

// Service validates correction payloads and commits them through the store.
// Nothing reaches the store unless the payload passes both the allow-list
// decode and the range rules.
type Service struct {
	store     CorrectionWriter
	validator *Validator
	logger    *logging.Logger
}

// NewService creates an ingestion service.
func NewService(store CorrectionWriter, logger *logging.Logger) *Service {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Service{
		store:     store,
		validator: NewValidator(),
		logger:    logger.Named("ingest"),
	}
}

// Submit decodes, validates and stores a raw correction payload.
func (s *Service) Submit(ctx context.Context, body []byte) (Correction, error) {
	in, err := Decode(body)
	if err != nil {
		s.logger.Debug(ctx, "correction rejected by decode", zap.Error(err))
		return Correction{}, err
	}
	return s.SubmitInput(ctx, in)
}

// SubmitInput validates an already decoded payload and stores it.
func (s *Service) SubmitInput(ctx context.Context, in CorrectionInput) (Correction, error) {
	if err := s.validator.Validate(in); err != nil {
		s.logger.Debug(ctx, "correction rejected by validation", zap.Error(err))
		return Correction{}, err
	}

	c, err := s.store.CreateCorrection(ctx, in.ToNewCorrection())
	if err != nil {
		s.logger.Error(ctx, "failed to store correction",
			zap.String("image_id", in.ImageID),
			zap.Error(err),
		)
		return Correction{}, err
	}

	s.logger.Info(ctx, "correction stored",
		zap.Int64("correction_id", c.ID),
		zap.String("image_id", c.ImageID),
		zap.Int("adjustments", len(c.Adjustments)),
	)
	return c, nil
}
