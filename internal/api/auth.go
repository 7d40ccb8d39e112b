package api

import (
	"errors"
	"strings"

	"github.com/gofiber/fiber/v2"

	"github.com/illegalcall/ai-credits/internal/models"
	"github.com/illegalcall/ai-credits/internal/pkg/supabase"
)

func parseCredentials(c *fiber.Ctx) (*models.CredentialsRequest, bool) {
	var req models.CredentialsRequest
	if err := c.BodyParser(&req); err != nil {
		return nil, false
	}
	req.Email = strings.TrimSpace(req.Email)
	if req.Email == "" || req.Password == "" {
		return nil, false
	}
	return &req, true
}

func (s *Server) handleRegister(c *fiber.Ctx) error {
	req, ok := parseCredentials(c)
	if !ok {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Please provide an email and password.",
		})
	}

	user, err := s.auth.SignUp(c.UserContext(), req.Email, req.Password)
	if err != nil {
		return s.authError(c, err, "Server error during registration.")
	}

	// On Supabase a signup trigger usually creates the row first; the insert is a no-op then.
	if err := s.profiles.CreateProfile(c.UserContext(), user.ID, user.Email); err != nil {
		s.logger.Error().Err(err).Str("user_id", user.ID).Msg("Failed to create profile")
	}

	s.logger.Info().Str("user_id", user.ID).Msg("User registered")

	return c.Status(fiber.StatusCreated).JSON(fiber.Map{
		"message": "Registration successful! Please check your email to confirm your account.",
		"user":    user,
	})
}

func (s *Server) handleLogin(c *fiber.Ctx) error {
	req, ok := parseCredentials(c)
	if !ok {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Please provide an email and password.",
		})
	}

	session, user, err := s.auth.SignIn(c.UserContext(), req.Email, req.Password)
	if err != nil {
		return s.authError(c, err, "Server error during login.")
	}

	return c.JSON(fiber.Map{
		"message": "Login successful!",
		"session": session,
		"user":    user,
	})
}

// authError passes rejections from the auth service through as 400s.
func (s *Server) authError(c *fiber.Ctx, err error, fallback string) error {
	var authErr *supabase.AuthError
	if errors.As(err, &authErr) {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": authErr.Message,
		})
	}
	s.logger.Error().Err(err).Msg("Authentication service error")
	return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
		"error": fallback,
	})
}
