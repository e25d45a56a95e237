package server

import (
	"context"
	"errors"
	"io"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/sirupsen/logrus"

	censor "github.com/phoenix4ge/censor"
	"github.com/phoenix4ge/censor/client"
	"github.com/phoenix4ge/censor/store"
	"github.com/phoenix4ge/censor/syncer"
	"github.com/phoenix4ge/censor/threshold"
	"github.com/phoenix4ge/censor/translate"
)

type moderateRequest struct {
	RequestID string `json:"request_id"`
	Context   string `json:"context_type"`
	ImageURL  string `json:"image_url"`
}

type moderateResponse struct {
	RequestID    string                      `json:"request_id"`
	Context      censor.UsageContext         `json:"context_type"`
	Providers    []string                    `json:"providers"`
	Assessment   censor.Assessment           `json:"assessment"`
	Detections   []censor.DetectionRecord    `json:"detections"`
	Dropped      int                         `json:"dropped"`
	Signals      censor.ChildSignals         `json:"child_signals"`
	Unknown      []string                    `json:"unknown_categories,omitempty"`
	Overrides    []threshold.ProfileOverride `json:"profile_overrides,omitempty"`
	ModelVersion int64                       `json:"model_version"`
}

type overrideRequest struct {
	Category string `json:"category"`
	Reason   string `json:"reason"`
}

type outcomeResponse struct {
	ID          string                        `json:"id"`
	Status      censor.SyncStatus             `json:"status"`
	Direction   censor.Direction              `json:"direction"`
	Target      string                        `json:"target"`
	Context     censor.UsageContext           `json:"context_type"`
	Attempts    int                           `json:"attempts"`
	RolledBack  bool                          `json:"rolled_back"`
	Drift       []censor.DriftReport          `json:"drift,omitempty"`
	Applied     *translate.RemoteParameterSet `json:"applied,omitempty"`
	Recommended *threshold.Model              `json:"recommended,omitempty"`
	Error       string                        `json:"error,omitempty"`
	DurationMS  int64                         `json:"duration_ms"`
}

func toOutcomeResponse(o *syncer.Outcome) *outcomeResponse {
	if o == nil {
		return nil
	}
	r := &outcomeResponse{
		ID:          o.ID,
		Status:      o.Status,
		Direction:   o.Direction,
		Target:      o.Target,
		Context:     o.Context,
		Attempts:    o.Attempts,
		RolledBack:  o.RolledBack,
		Drift:       o.Drift,
		Applied:     o.Applied,
		Recommended: o.Recommended,
		DurationMS:  o.Duration().Milliseconds(),
	}
	if o.Err != nil {
		r.Error = o.Err.Error()
	}
	return r
}

// moderate accepts a multipart upload with an "image" file or a JSON body
// with an image URL.
func (s *Server) moderate(c *fiber.Ctx) error {
	var in client.ModerateInput

	if strings.HasPrefix(c.Get(fiber.HeaderContentType), fiber.MIMEMultipartForm) {
		fh, err := c.FormFile("image")
		if err != nil {
			return s.fail(c, fiber.StatusBadRequest, censor.ErrNoImage)
		}
		f, err := fh.Open()
		if err != nil {
			return s.fail(c, fiber.StatusBadRequest, err)
		}
		data, err := io.ReadAll(f)
		f.Close()
		if err != nil {
			return s.fail(c, fiber.StatusBadRequest, err)
		}
		in.Image = data
		in.Filename = fh.Filename
		in.RequestID = c.FormValue("request_id")
		in.ImageURL = c.FormValue("image_url")
		uc, err := parseContext(c.FormValue("context_type"))
		if err != nil {
			return s.reject(c, err)
		}
		in.Context = uc
	} else {
		var req moderateRequest
		if err := c.BodyParser(&req); err != nil {
			return s.fail(c, fiber.StatusBadRequest, err)
		}
		uc, err := parseContext(req.Context)
		if err != nil {
			return s.reject(c, err)
		}
		in = client.ModerateInput{RequestID: req.RequestID, Context: uc, ImageURL: req.ImageURL}
	}

	res, err := s.svc.Moderate(c.UserContext(), in)
	if err != nil {
		return s.reject(c, err)
	}
	return s.ok(c, moderateResponse{
		RequestID:    res.RequestID,
		Context:      res.Context,
		Providers:    res.Providers,
		Assessment:   res.Assessment,
		Detections:   res.Retained,
		Dropped:      res.Dropped,
		Signals:      res.Signals,
		Unknown:      res.Unknown,
		Overrides:    res.Overrides,
		ModelVersion: res.ModelVersion,
	})
}

func (s *Server) getModeration(c *fiber.Ctx) error {
	rec, err := s.svc.Moderation(c.UserContext(), c.Params("request_id"))
	if err != nil {
		return s.reject(c, err)
	}
	return s.ok(c, rec)
}

func (s *Server) getModel(c *fiber.Ctx) error {
	return s.withContext(c, func(ctx context.Context, uc censor.UsageContext) (any, error) {
		return s.svc.Model(ctx, uc)
	})
}

func (s *Server) putModel(c *fiber.Ctx) error {
	var m threshold.Model
	if err := c.BodyParser(&m); err != nil {
		return s.fail(c, fiber.StatusBadRequest, err)
	}
	return s.withContext(c, func(ctx context.Context, uc censor.UsageContext) (any, error) {
		return s.svc.UpdateModel(ctx, uc, m, c.Get(ActorHeader))
	})
}

func (s *Server) grantOverride(c *fiber.Ctx) error {
	var req overrideRequest
	if err := c.BodyParser(&req); err != nil {
		return s.fail(c, fiber.StatusBadRequest, err)
	}
	return s.withContext(c, func(ctx context.Context, uc censor.UsageContext) (any, error) {
		return s.svc.GrantOverride(ctx, uc, req.Category, c.Get(ActorHeader), req.Reason)
	})
}

func (s *Server) revokeOverride(c *fiber.Ctx) error {
	return s.withContext(c, func(ctx context.Context, uc censor.UsageContext) (any, error) {
		return s.svc.RevokeOverride(ctx, uc, c.Params("category"), c.Get(ActorHeader))
	})
}

func (s *Server) push(c *fiber.Ctx) error {
	return s.sync(c, s.svc.Push)
}

func (s *Server) pull(c *fiber.Ctx) error {
	return s.sync(c, s.svc.Pull)
}

func (s *Server) reconcile(c *fiber.Ctx) error {
	uc, err := parseContext(c.Params("context"))
	if err != nil {
		return s.reject(c, err)
	}
	res, err := s.svc.Reconcile(c.UserContext(), uc)
	body := fiber.Map{}
	if res != nil {
		body["pull"] = toOutcomeResponse(res.Pull)
		body["push"] = toOutcomeResponse(res.Push)
	}
	if err != nil {
		return s.failWith(c, statusFor(err), err, body)
	}
	return s.ok(c, body)
}

// accept pulls the remote configuration and stores it as the local model.
func (s *Server) accept(c *fiber.Ctx) error {
	uc, err := parseContext(c.Params("context"))
	if err != nil {
		return s.reject(c, err)
	}
	ctx := c.UserContext()
	out, err := s.svc.Pull(ctx, uc)
	if err != nil {
		return s.failWith(c, statusFor(err), err, fiber.Map{"pull": toOutcomeResponse(out)})
	}
	rec, err := s.svc.AcceptRecommendation(ctx, uc, out, c.Get(ActorHeader))
	if err != nil {
		return s.reject(c, err)
	}
	return s.ok(c, fiber.Map{"pull": toOutcomeResponse(out), "model": rec})
}

func (s *Server) syncHistory(c *fiber.Ctx) error {
	filter := store.SyncFilter{
		Target: c.Query("target"),
		Limit:  c.QueryInt("limit", 50),
	}
	if q := c.Query("context_type"); q != "" {
		uc, err := parseContext(q)
		if err != nil {
			return s.reject(c, err)
		}
		filter.Context = uc
	}
	if q := c.Query("since"); q != "" {
		since, err := time.Parse(time.RFC3339, q)
		if err != nil {
			return s.reject(c, censor.NewConfigurationError("since", err.Error()))
		}
		filter.Since = &since
	}

	records, err := s.svc.SyncHistory(c.UserContext(), filter)
	if err != nil {
		return s.reject(c, err)
	}
	return s.ok(c, records)
}

func (s *Server) sync(c *fiber.Ctx, op func(context.Context, censor.UsageContext) (*syncer.Outcome, error)) error {
	uc, err := parseContext(c.Params("context"))
	if err != nil {
		return s.reject(c, err)
	}
	out, err := op(c.UserContext(), uc)
	if err != nil {
		return s.failWith(c, statusFor(err), err, fiber.Map{"outcome": toOutcomeResponse(out)})
	}
	return s.ok(c, toOutcomeResponse(out))
}

func (s *Server) withContext(c *fiber.Ctx, fn func(context.Context, censor.UsageContext) (any, error)) error {
	uc, err := parseContext(c.Params("context"))
	if err != nil {
		return s.reject(c, err)
	}
	result, err := fn(c.UserContext(), uc)
	if err != nil {
		return s.reject(c, err)
	}
	return s.ok(c, result)
}

// parseContext accepts the legacy gallery names. An empty value selects the
// public site profile.
func parseContext(s string) (censor.UsageContext, error) {
	if s == "" {
		return censor.ContextPublicSite, nil
	}
	return censor.ParseUsageContext(s)
}

func (s *Server) ok(c *fiber.Ctx, result any) error {
	return c.JSON(fiber.Map{"success": true, "result": result})
}

func (s *Server) reject(c *fiber.Ctx, err error) error {
	return s.fail(c, statusFor(err), err)
}

func (s *Server) fail(c *fiber.Ctx, status int, err error) error {
	return s.failWith(c, status, err, nil)
}

func (s *Server) failWith(c *fiber.Ctx, status int, err error, extra fiber.Map) error {
	entry := s.log.WithError(err).WithFields(logrus.Fields{
		"method": c.Method(),
		"path":   c.Path(),
		"status": status,
	})
	if status >= fiber.StatusInternalServerError {
		entry.Error("request failed")
	} else {
		entry.Debug("request rejected")
	}

	body := fiber.Map{"success": false, "error": err.Error()}
	for k, v := range extra {
		body[k] = v
	}
	return c.Status(status).JSON(body)
}

// statusFor maps service errors onto HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, censor.ErrNoImage),
		censor.IsConfigurationError(err),
		censor.IsDetectionFormatError(err),
		censor.GetErrorCategory(err) == censor.ErrorCategoryValidation:
		return fiber.StatusBadRequest
	case errors.Is(err, store.ErrNotFound), errors.Is(err, censor.ErrModelNotFound):
		return fiber.StatusNotFound
	case censor.IsDriftUnresolved(err):
		return fiber.StatusConflict
	case censor.IsRemoteRejection(err):
		return fiber.StatusUnprocessableEntity
	case errors.Is(err, censor.ErrRemoteNotFound), errors.Is(err, censor.ErrProviderNotFound):
		return fiber.StatusServiceUnavailable
	case errors.Is(err, context.DeadlineExceeded), censor.IsTimeout(err):
		return fiber.StatusGatewayTimeout
	case censor.IsTransient(err), censor.IsProviderError(err):
		return fiber.StatusBadGateway
	}
	return fiber.StatusInternalServerError
}
