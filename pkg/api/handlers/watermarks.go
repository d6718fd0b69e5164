package handlers

import "github.com/gofiber/fiber/v3"

// Health handles GET /health
func (s *Server) Health(c fiber.Ctx) error {
	return c.Status(fiber.StatusOK).JSON(fiber.Map{"status": "ok"})
}

// ListDatasets handles GET /api/v1/datasets
func (s *Server) ListDatasets(c fiber.Ctx) error {
	return c.Status(fiber.StatusOK).JSON(DatasetsResponse{
		Datasets: s.datasets,
		Stages:   s.stages,
	})
}

// ListWatermarks handles GET /api/v1/watermarks
func (s *Server) ListWatermarks(c fiber.Ctx) error {
	out := make([]Watermark, 0)

	for _, stage := range s.stages {
		records, err := s.list(c, stage)
		if err != nil {
			return err
		}

		out = append(out, records...)
	}

	return c.Status(fiber.StatusOK).JSON(WatermarksResponse{Watermarks: out, Total: len(out)})
}

// ListStageWatermarks handles GET /api/v1/watermarks/:stage
func (s *Server) ListStageWatermarks(c fiber.Ctx) error {
	stage := c.Params("stage")

	if _, ok := s.stores[stage]; !ok {
		return ErrStageNotFound
	}

	out, err := s.list(c, stage)
	if err != nil {
		return err
	}

	return c.Status(fiber.StatusOK).JSON(WatermarksResponse{Watermarks: out, Total: len(out)})
}

// GetWatermark handles GET /api/v1/watermarks/:stage/:dataset
func (s *Server) GetWatermark(c fiber.Ctx) error {
	stage := c.Params("stage")

	store, ok := s.stores[stage]
	if !ok {
		return ErrStageNotFound
	}

	rec, err := store.Read(c.Context(), c.Params("dataset"))
	if err != nil {
		s.log.WithError(err).WithField("stage", stage).Error("Failed to read watermark")

		return ErrStoreUnavailable
	}

	if rec == nil {
		return ErrWatermarkNotFound
	}

	return c.Status(fiber.StatusOK).JSON(newWatermark(stage, *rec))
}

func (s *Server) list(c fiber.Ctx, stage string) ([]Watermark, error) {
	records, err := s.stores[stage].List(c.Context())
	if err != nil {
		s.log.WithError(err).WithField("stage", stage).Error("Failed to list watermarks")

		return nil, ErrStoreUnavailable
	}

	out := make([]Watermark, 0, len(records))
	for _, rec := range records {
		out = append(out, newWatermark(stage, rec))
	}

	return out, nil
}
