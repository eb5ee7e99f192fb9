package web

import (
	"errors"

	"github.com/gofiber/fiber/v2"
	"github.com/teslashibe/go-humanrect/pkg/camera"
	"github.com/teslashibe/go-humanrect/pkg/capture"
	"github.com/teslashibe/go-humanrect/pkg/overlay"
)

// errorHandler maps domain errors to HTTP status codes.
func errorHandler(c *fiber.Ctx, err error) error {
	code := fiber.StatusInternalServerError

	var fe *fiber.Error
	var ve *camera.ValidationError
	switch {
	case errors.As(err, &fe):
		code = fe.Code
	case errors.As(err, &ve):
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error":    "invalid camera config",
			"problems": ve.Problems,
		})
	case errors.Is(err, capture.ErrNoDeviceAvailable),
		errors.Is(err, capture.ErrUnsupportedOrientation),
		errors.Is(err, capture.ErrInputRejected):
		code = fiber.StatusServiceUnavailable
	}

	return c.Status(code).JSON(fiber.Map{"error": err.Error()})
}

// handleStatus returns the pipeline status
func (s *Server) handleStatus(c *fiber.Ctx) error {
	return c.JSON(s.ctrl.Status())
}

// handleShapes returns the shapes currently on the surface
func (s *Server) handleShapes(c *fiber.Ctx) error {
	shapes, err := s.ctrl.Shapes(c.UserContext())
	if err != nil {
		return err
	}
	if shapes == nil {
		shapes = []overlay.Shape{}
	}
	return c.JSON(shapes)
}

func (s *Server) handleGetCamera(c *fiber.Ctx) error {
	return c.JSON(s.ctrl.CameraConfig())
}

// handlePutCamera applies a partial camera update, restarting the session
func (s *Server) handlePutCamera(c *fiber.Ctx) error {
	var params map[string]any
	if err := c.BodyParser(&params); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid JSON body")
	}

	cfg, err := s.ctrl.UpdateCamera(params)
	if err != nil {
		var ve *camera.ValidationError
		if errors.As(err, &ve) {
			return err
		}
		return fiber.NewError(fiber.StatusBadRequest, err.Error())
	}
	s.AddLog("INFO", "camera config updated")
	s.SendStatus()
	return c.JSON(cfg)
}

func (s *Server) handlePresets(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{
		"presets":      camera.PresetNames(),
		"capabilities": camera.Capabilities(),
	})
}

func (s *Server) handleStart(c *fiber.Ctx) error {
	if err := s.ctrl.StartSession(c.UserContext()); err != nil {
		return err
	}
	s.SendStatus()
	return c.JSON(fiber.Map{"running": true})
}

func (s *Server) handleStop(c *fiber.Ctx) error {
	if err := s.ctrl.StopSession(); err != nil {
		return err
	}
	s.SendStatus()
	return c.JSON(fiber.Map{"running": false})
}

// PreviewRequest is the body of PUT /api/preview
type PreviewRequest struct {
	Width   float64 `json:"width"`
	Height  float64 `json:"height"`
	Gravity string  `json:"gravity"`
}

// handlePutPreview changes the surface geometry
func (s *Server) handlePutPreview(c *fiber.Ctx) error {
	var req PreviewRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid JSON body")
	}

	gravity, err := overlay.ParseGravity(req.Gravity)
	if err != nil {
		return fiber.NewError(fiber.StatusBadRequest, err.Error())
	}
	g := overlay.Geometry{Size: overlay.Size{W: req.Width, H: req.Height}, Gravity: gravity}
	if g.Size.Empty() {
		return fiber.NewError(fiber.StatusBadRequest, "width and height must be positive")
	}

	if err := s.ctrl.SetGeometry(g); err != nil {
		return err
	}
	return c.JSON(g)
}

// handleGetLogs returns recent log entries
func (s *Server) handleGetLogs(c *fiber.Ctx) error {
	return c.JSON(s.Logs())
}
