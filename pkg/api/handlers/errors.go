package handlers

import "github.com/gofiber/fiber/v3"

// ErrLinkNotFound is returned for unknown and malformed codes alike, so the
// code space cannot be probed for format hints
var ErrLinkNotFound = fiber.NewError(fiber.StatusNotFound, "link not found")

// ErrUnavailable is returned when neither the database nor a stale cache
// entry can answer
var ErrUnavailable = fiber.NewError(fiber.StatusServiceUnavailable, "temporarily unavailable")
