package api

import (
	"errors"

	"github.com/gofiber/fiber/v2"

	"github.com/illegalcall/ai-credits/internal/profiles"
)

const recentTransactions = 20

func (s *Server) handleGetProfile(c *fiber.Ctx) error {
	identity := identityFrom(c)

	profile, err := s.profiles.GetProfile(c.UserContext(), identity.ID)
	if err != nil {
		if errors.Is(err, profiles.ErrNotFound) {
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
				"error": "User profile not found.",
			})
		}
		s.logger.Error().Err(err).Str("user_id", identity.ID).Msg("Failed to fetch profile")
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Server error while fetching profile.",
		})
	}

	return c.JSON(fiber.Map{
		"email":   profile.Email,
		"credits": profile.Credits,
	})
}

func (s *Server) handleListTransactions(c *fiber.Ctx) error {
	identity := identityFrom(c)

	transactions, err := s.profiles.ListTransactions(c.UserContext(), identity.ID, recentTransactions)
	if err != nil {
		s.logger.Error().Err(err).Str("user_id", identity.ID).Msg("Failed to list transactions")
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to fetch transactions.",
		})
	}

	return c.JSON(fiber.Map{"transactions": transactions})
}
