package api

import (
	"errors"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"

	"github.com/illegalcall/ai-credits/internal/models"
	"github.com/illegalcall/ai-credits/internal/profiles"
)

// handleListUsers joins the auth users with their profiles. Users without a
// profile row are listed with null credits and role.
func (s *Server) handleListUsers(c *fiber.Ctx) error {
	ctx := c.UserContext()

	users, err := s.auth.ListUsers(ctx)
	if err != nil {
		s.logger.Error().Err(err).Msg("Failed to fetch auth users")
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to fetch users.",
		})
	}

	rows, err := s.profiles.ListProfiles(ctx)
	if err != nil {
		s.logger.Error().Err(err).Msg("Failed to fetch profiles")
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to fetch users.",
		})
	}

	byID := make(map[string]models.Profile, len(rows))
	for _, p := range rows {
		byID[p.ID] = p
	}

	combined := make([]models.AdminUser, 0, len(users))
	for _, u := range users {
		entry := models.AdminUser{ID: u.ID, Email: u.Email}
		if p, ok := byID[u.ID]; ok {
			credits, role := p.Credits, p.Role
			entry.Credits = &credits
			entry.Role = &role
		}
		combined = append(combined, entry)
	}

	return c.JSON(combined)
}

func (s *Server) handleDeleteUser(c *fiber.Ctx) error {
	ctx := c.UserContext()

	id, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid user id.",
		})
	}

	if err := s.auth.DeleteUser(ctx, id); err != nil {
		s.logger.Error().Err(err).Str("user_id", id.String()).Msg("Failed to delete user")
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to delete user.",
		})
	}

	if err := s.profiles.DeleteProfile(ctx, id.String()); err != nil {
		s.logger.Warn().Err(err).Str("user_id", id.String()).Msg("Auth user deleted but profile remains")
	}

	s.logger.Info().Str("user_id", id.String()).Str("by", identityFrom(c).ID).Msg("User deleted")

	return c.JSON(fiber.Map{"message": "User deleted successfully."})
}

// handleGrantCredits adds (or with a negative amount removes) credits.
func (s *Server) handleGrantCredits(c *fiber.Ctx) error {
	ctx := c.UserContext()

	id, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid user id.",
		})
	}

	var req models.GrantCreditsRequest
	if err := c.BodyParser(&req); err != nil || req.Amount == 0 {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Amount is required.",
		})
	}

	balance, err := s.profiles.AdjustCredits(ctx, id.String(), req.Amount)
	if err != nil {
		if errors.Is(err, profiles.ErrConditionFailed) {
			return s.adjustRejected(c, id.String())
		}
		s.logger.Error().Err(err).Str("user_id", id.String()).Msg("Failed to adjust credits")
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to update user credits.",
		})
	}

	s.logger.Info().
		Str("user_id", id.String()).
		Int("amount", req.Amount).
		Int("balance", balance).
		Str("by", identityFrom(c).ID).
		Msg("Credits adjusted")

	return c.JSON(fiber.Map{"credits": balance})
}

// adjustRejected tells a missing profile apart from a balance that would go negative.
func (s *Server) adjustRejected(c *fiber.Ctx, id string) error {
	if _, err := s.profiles.GetProfile(c.UserContext(), id); errors.Is(err, profiles.ErrNotFound) {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"error": "User profile not found.",
		})
	}
	return c.Status(fiber.StatusConflict).JSON(fiber.Map{
		"error": "Credits cannot go below zero.",
	})
}
