package api

import (
	"errors"
	"strings"

	"github.com/gofiber/fiber/v2"

	"github.com/illegalcall/ai-credits/internal/models"
	"github.com/illegalcall/ai-credits/internal/profiles"
)

const identityKey = "identity"

// requireAuth resolves the bearer token and stores the caller's identity in
// the request locals.
func (s *Server) requireAuth(c *fiber.Ctx) error {
	header := c.Get(fiber.HeaderAuthorization)
	if header == "" {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
			"error": "Authorization token required.",
		})
	}

	token, ok := strings.CutPrefix(header, "Bearer ")
	if !ok || strings.TrimSpace(token) == "" {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
			"error": "Request is not authorized.",
		})
	}

	identity, err := s.tokens.ResolveToken(c.UserContext(), strings.TrimSpace(token))
	if err != nil {
		s.logger.Debug().Err(err).Msg("Token rejected")
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
			"error": "Request is not authorized.",
		})
	}

	c.Locals(identityKey, identity)
	return c.Next()
}

// requireAdmin must run after requireAuth.
func (s *Server) requireAdmin(c *fiber.Ctx) error {
	identity := identityFrom(c)

	profile, err := s.profiles.GetProfile(c.UserContext(), identity.ID)
	if err != nil {
		if errors.Is(err, profiles.ErrNotFound) {
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
				"error": "User profile not found.",
			})
		}
		s.logger.Error().Err(err).Str("user_id", identity.ID).Msg("Failed to verify admin role")
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Server error while verifying admin role.",
		})
	}

	if !profile.IsAdmin() {
		return c.Status(fiber.StatusForbidden).JSON(fiber.Map{
			"error": "Admin access required.",
		})
	}

	return c.Next()
}

func identityFrom(c *fiber.Ctx) *models.Identity {
	identity, _ := c.Locals(identityKey).(*models.Identity)
	return identity
}
