package handlers

import "github.com/gofiber/fiber/v3"

// ErrStageNotFound is returned for a stage without a watermark log
var ErrStageNotFound = fiber.NewError(fiber.StatusNotFound, "stage not found")

// ErrWatermarkNotFound is returned when a dataset has no watermark yet
var ErrWatermarkNotFound = fiber.NewError(fiber.StatusNotFound, "watermark not found")

// ErrStoreUnavailable is returned when a watermark log cannot be read
var ErrStoreUnavailable = fiber.NewError(fiber.StatusServiceUnavailable, "watermark store unavailable")
