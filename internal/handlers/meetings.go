package handlers

import (
	"log"

	"github.com/gofiber/fiber/v2"
	"github.com/meetscribe/meetscribe/internal/store"
	"github.com/meetscribe/meetscribe/internal/types"
)

// MeetingsHandler serves the archived meetings and the runtime settings to
// viewer surfaces.
type MeetingsHandler struct {
	store *store.Store
}

// NewMeetingsHandler creates a new meetings handler
func NewMeetingsHandler(st *store.Store) *MeetingsHandler {
	return &MeetingsHandler{store: st}
}

// List returns the archived meetings, oldest first.
func (h *MeetingsHandler) List(c *fiber.Ctx) error {
	meetings, err := h.store.Meetings()
	if err != nil {
		log.Printf("Failed to load meetings: %v", err)
		return c.Status(fiber.StatusInternalServerError).JSON(types.Response{
			Success: false,
			Message: types.AsErrorObject(err),
		})
	}
	if meetings == nil {
		meetings = []types.MeetingRecord{}
	}
	return c.JSON(fiber.Map{"meetings": meetings})
}

// GetSettings returns the current runtime settings.
func (h *MeetingsHandler) GetSettings(c *fiber.Ctx) error {
	settings, err := h.store.Settings()
	if err != nil {
		log.Printf("Failed to load settings: %v", err)
		return c.Status(fiber.StatusInternalServerError).JSON(types.Response{
			Success: false,
			Message: types.AsErrorObject(err),
		})
	}
	return c.JSON(settings)
}

// UpdateSettings replaces the runtime settings.
func (h *MeetingsHandler) UpdateSettings(c *fiber.Ctx) error {
	var settings types.Settings
	if err := c.BodyParser(&settings); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(types.Response{
			Success: false,
			Message: "Invalid settings body",
		})
	}
	switch settings.OperationMode {
	case types.ModeAuto, types.ModeManual:
	default:
		return c.Status(fiber.StatusBadRequest).JSON(types.Response{
			Success: false,
			Message: "Invalid operation mode",
		})
	}
	switch settings.WebhookBodyType {
	case types.BodyTypeSimple, types.BodyTypeAdvanced:
	default:
		return c.Status(fiber.StatusBadRequest).JSON(types.Response{
			Success: false,
			Message: "Invalid webhook body type",
		})
	}
	if err := h.store.SaveSettings(settings); err != nil {
		log.Printf("Failed to save settings: %v", err)
		return c.Status(fiber.StatusInternalServerError).JSON(types.Response{
			Success: false,
			Message: types.AsErrorObject(err),
		})
	}
	return c.JSON(types.Response{Success: true, Message: "Settings saved"})
}
