package api

import (
	"context"
	"encoding/base64"
	"errors"
	"os"
	"strings"

	"github.com/gofiber/fiber/v2"

	"github.com/illegalcall/ai-credits/internal/credits"
	"github.com/illegalcall/ai-credits/internal/imaging"
	"github.com/illegalcall/ai-credits/internal/metrics"
	"github.com/illegalcall/ai-credits/internal/models"
	"github.com/illegalcall/ai-credits/internal/resume"
)

const pngDataURLPrefix = "data:image/png;base64,"

func (s *Server) handleTextToImage(c *fiber.Ctx) error {
	ctx := c.UserContext()
	identity := identityFrom(c)

	var req models.TextToImageRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid request body.",
		})
	}
	prompt := strings.TrimSpace(req.Prompt)
	if prompt == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Prompt is required.",
		})
	}

	if _, err := s.gate.AuthorizeAndCharge(ctx, identity.ID, credits.TextToImage.Name, credits.TextToImage.Cost); err != nil {
		return s.chargeError(c, err)
	}

	image, err := s.images.TextToImage(ctx, prompt)
	if err != nil {
		return s.upstreamError(c, "stability", "text-to-image", err)
	}

	return c.JSON(fiber.Map{"imageUrl": pngDataURLPrefix + image})
}

func (s *Server) handleRemoveBackground(c *fiber.Ctx) error {
	ctx := c.UserContext()
	identity := identityFrom(c)

	fh, err := c.FormFile("image")
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "No image file uploaded.",
		})
	}

	path, err := s.storage.StoreUpload(ctx, fh)
	if err != nil {
		s.logger.Error().Err(err).Msg("Failed to store upload")
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to store uploaded file.",
		})
	}
	defer s.removeUpload(ctx, path)

	data, err := os.ReadFile(path)
	if err != nil {
		s.logger.Error().Err(err).Str("path", path).Msg("Failed to read upload")
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to read uploaded file.",
		})
	}

	// Decoding happens before the charge so unreadable files cost nothing.
	image, resized, err := imaging.Downscale(data)
	if errors.Is(err, imaging.ErrTooLarge) {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Image dimensions are too large.",
		})
	}
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid image file.",
		})
	}
	if resized {
		s.logger.Debug().Str("user_id", identity.ID).Msg("Image downscaled before background removal")
	}

	if _, err := s.gate.AuthorizeAndCharge(ctx, identity.ID, credits.BackgroundRemoval.Name, credits.BackgroundRemoval.Cost); err != nil {
		return s.chargeError(c, err)
	}

	cutout, err := s.images.RemoveBackground(ctx, image)
	if err != nil {
		return s.upstreamError(c, "stability", "remove-background", err)
	}

	return c.JSON(fiber.Map{"imageUrl": pngDataURLPrefix + base64.StdEncoding.EncodeToString(cutout)})
}

func (s *Server) handleAnalyzeResume(c *fiber.Ctx) error {
	ctx := c.UserContext()
	identity := identityFrom(c)

	fh, err := c.FormFile("resume")
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "No resume file uploaded.",
		})
	}

	kind := resume.DetectKind(fh.Header.Get(fiber.HeaderContentType), fh.Filename)
	if kind == resume.KindUnknown {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": resume.ErrUnsupportedType.Error(),
		})
	}

	path, err := s.storage.StoreUpload(ctx, fh)
	if err != nil {
		s.logger.Error().Err(err).Msg("Failed to store upload")
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to store uploaded file.",
		})
	}
	defer s.removeUpload(ctx, path)

	if _, err := s.gate.AuthorizeAndCharge(ctx, identity.ID, credits.ResumeAnalysis.Name, credits.ResumeAnalysis.Cost); err != nil {
		return s.chargeError(c, err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		s.logger.Error().Err(err).Str("path", path).Msg("Failed to read upload")
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to read uploaded file.",
		})
	}

	text, err := resume.ExtractText(kind, data)
	if err != nil {
		s.logger.Error().Err(err).Str("user_id", identity.ID).Msg("Failed to extract resume text")
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": err.Error(),
		})
	}

	analysis, err := s.analyzer.Analyze(ctx, text)
	if err != nil {
		return s.upstreamError(c, s.analyzer.Provider(), "analyze-resume", err)
	}

	return c.JSON(fiber.Map{"analysis": analysis})
}

// upstreamError reports a failed provider call. Credits already debited are
// not refunded.
func (s *Server) upstreamError(c *fiber.Ctx, provider, operation string, err error) error {
	metrics.ObserveUpstreamFailure(provider)
	s.logger.Error().Err(err).Str("provider", provider).Str("operation", operation).Msg("Upstream call failed")
	return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
		"error": err.Error(),
	})
}

func (s *Server) removeUpload(ctx context.Context, path string) {
	if err := s.storage.Delete(ctx, path); err != nil {
		s.logger.Warn().Err(err).Str("path", path).Msg("Failed to remove upload")
	}
}
