package validation

import (
	"regexp"
	"strings"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"
)

var (
	sqlInjectionPattern = regexp.MustCompile(`(?i)(union|select|insert|update|delete|drop|create|alter|exec|script|javascript|onerror|onload)`)
	xssPattern          = regexp.MustCompile(`(?i)(<script|<iframe|javascript:|onerror=|onload=|onclick=)`)
)

type Config struct {
	MaxMessageLength    int
	AllowedContentTypes []string
	Logger              *zap.Logger
}

// Middleware validates request bodies on the chat, search and diagnose
// paths before they reach the handlers.
func Middleware(cfg Config) fiber.Handler {
	if cfg.MaxMessageLength == 0 {
		cfg.MaxMessageLength = 5000
	}
	if len(cfg.AllowedContentTypes) == 0 {
		cfg.AllowedContentTypes = []string{"application/json"}
	}

	return func(c *fiber.Ctx) error {
		if c.Method() == "POST" || c.Method() == "PUT" {
			contentType := c.Get("Content-Type")
			if contentType != "" {
				allowed := false
				for _, allowedType := range cfg.AllowedContentTypes {
					if strings.Contains(contentType, allowedType) {
						allowed = true
						break
					}
				}
				if !allowed {
					return c.Status(fiber.StatusUnsupportedMediaType).JSON(fiber.Map{
						"error": "Unsupported content type",
					})
				}
			}
		}

		path := c.Path()

		if c.Method() == "POST" && strings.Contains(path, "/api/v1/chat") && !strings.Contains(path, "/mode") {
			if err := validateTextField(c, cfg, "message"); err != nil {
				return err
			}
		}

		if c.Method() == "POST" && (strings.Contains(path, "/api/v1/search") || strings.Contains(path, "/api/v1/diagnose")) {
			if err := validateTextField(c, cfg, "query"); err != nil {
				return err
			}
		}

		return c.Next()
	}
}

// validateTextField checks the named string field of the JSON body for
// presence, length and injection patterns, and stores the sanitized body in
// locals for the handler.
func validateTextField(c *fiber.Ctx, cfg Config, field string) error {
	var req map[string]interface{}
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid JSON format",
		})
	}

	value, ok := req[field].(string)
	if !ok || strings.TrimSpace(value) == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": field + " is required and must be a string",
		})
	}

	if len(value) > cfg.MaxMessageLength {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": field + " exceeds maximum length",
		})
	}

	if containsSQLInjection(value) {
		cfg.Logger.Warn("Potential SQL injection attempt",
			zap.String("ip", c.IP()),
			zap.String(field, value),
		)
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid " + field + " content",
		})
	}

	if containsXSS(value) {
		cfg.Logger.Warn("Potential XSS attempt",
			zap.String("ip", c.IP()),
			zap.String(field, value),
		)
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid " + field + " content",
		})
	}

	req[field] = sanitizeString(value)
	c.Locals("sanitized_body", req)
	return nil
}

func containsSQLInjection(input string) bool {
	return sqlInjectionPattern.MatchString(input)
}

func containsXSS(input string) bool {
	return xssPattern.MatchString(input)
}

func sanitizeString(input string) string {
	input = strings.TrimSpace(input)
	input = strings.ReplaceAll(input, "\x00", "")
	return input
}
