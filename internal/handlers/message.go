package handlers

import (
	"log"
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/meetscribe/meetscribe/internal/coordinator"
	"github.com/meetscribe/meetscribe/internal/types"
)

// capturePlatforms lists the meeting platforms capture scripts exist for.
var capturePlatforms = []string{
	types.SoftwareGoogleMeet,
	types.SoftwareZoom,
	types.SoftwareTeams,
}

// MessageHandler dispatches the inter-context message protocol. Capture
// agents and viewer surfaces both talk to the coordinator through it.
type MessageHandler struct {
	coordinator *coordinator.Coordinator
}

// NewMessageHandler creates a new message handler
func NewMessageHandler(c *coordinator.Coordinator) *MessageHandler {
	return &MessageHandler{coordinator: c}
}

// Handle processes one protocol message and replies with a Response.
func (h *MessageHandler) Handle(c *fiber.Ctx) error {
	var msg types.Message
	if err := c.BodyParser(&msg); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(types.Response{
			Success: false,
			Message: "Invalid message body",
		})
	}

	switch msg.Type {
	case types.MsgNewMeetingStarted:
		h.coordinator.MeetingStarted(msg.TabID)
		return c.JSON(types.Response{Success: true, Message: "Meeting tab id saved"})

	case types.MsgMeetingEnded:
		if err := h.coordinator.MeetingEnded(c.Context(), msg.TabID); err != nil {
			return h.fail(c, err)
		}
		return c.JSON(types.Response{Success: true, Message: "Last meeting processed successfully"})

	case types.MsgDownloadTranscriptAtIndex:
		if msg.Index == nil {
			return h.fail(c, types.ErrInvalidIndex)
		}
		if err := h.coordinator.DownloadAtIndex(*msg.Index); err != nil {
			return h.fail(c, err)
		}
		return c.JSON(types.Response{Success: true, Message: "Transcript downloaded successfully"})

	case types.MsgRetryWebhookAtIndex:
		if msg.Index == nil {
			return h.fail(c, types.ErrInvalidIndex)
		}
		if err := h.coordinator.RetryWebhookAtIndex(c.Context(), *msg.Index); err != nil {
			return h.fail(c, err)
		}
		return c.JSON(types.Response{Success: true, Message: "Webhook posted successfully"})

	case types.MsgRecoverLastMeeting:
		result, err := h.coordinator.RecoverLastMeeting(c.Context())
		if err != nil {
			// A meeting that never started or captured nothing is the
			// normal case after a clean shutdown, not a failure.
			if types.IsBenignRecovery(err) {
				return c.JSON(types.Response{Success: true, Message: "Nothing to recover"})
			}
			return h.fail(c, err)
		}
		return c.JSON(types.Response{Success: true, Message: result})

	case types.MsgRegisterContentScripts:
		log.Printf("Content scripts registered for: %s", strings.Join(capturePlatforms, ", "))
		return c.JSON(types.Response{
			Success: true,
			Message: "Registered content scripts for: " + strings.Join(capturePlatforms, ", "),
		})

	default:
		log.Printf("Unknown message type: %q", msg.Type)
		return c.Status(fiber.StatusBadRequest).JSON(types.Response{
			Success: false,
			Message: "Unknown message type",
		})
	}
}

func (h *MessageHandler) fail(c *fiber.Ctx, err error) error {
	log.Printf("Message %v failed: %v", c.Path(), err)
	return c.JSON(types.Response{Success: false, Message: types.AsErrorObject(err)})
}
