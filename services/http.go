package services

import (
	"fmt"
	"net/http"
	"os"
	"strconv"

	appContext "github.com/alphabatem/common/context"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/recover"
	log "github.com/sirupsen/logrus"

	"github.com/tradeyard/otc_api/dto"
	"github.com/tradeyard/otc_api/middleware"
	"github.com/tradeyard/otc_api/shared"
)

// HttpService is the thin in-process caller surface for the OTC core.
type HttpService struct {
	appContext.DefaultService

	otcSvc    *OtcService
	ipLimiter *middleware.IPRateLimitMiddleware

	port int
	app  *fiber.App
}

const HTTP_SVC = "http_svc"

func (svc HttpService) Id() string {
	return HTTP_SVC
}

func (svc *HttpService) Configure(ctx *appContext.Context) error {
	if port := os.Getenv("HTTP_PORT"); port != "" {
		var err error
		if svc.port, err = strconv.Atoi(port); err != nil {
			return err
		}
	} else {
		svc.port = 8000
	}

	return svc.DefaultService.Configure(ctx)
}

func (svc *HttpService) Start() error {
	svc.otcSvc = svc.Service(OTC_SVC).(*OtcService)
	svc.ipLimiter = svc.Service(middleware.IP_RATE_LIMIT_SVC).(*middleware.IPRateLimitMiddleware)

	svc.app = fiber.New(fiber.Config{
		DisableStartupMessage: true,
	})

	svc.app.Use(recover.New())
	svc.app.Use(svc.ipLimiter.Handler())

	svc.app.Get("/ping", svc.ping)

	v1 := svc.app.Group("/api/v1")
	v1.Post("/otp/send", svc.sendCode)
	v1.Post("/otp/verify", svc.verifyCode)

	log.WithField("port", svc.port).Info("HTTP server starting")
	return svc.app.Listen(fmt.Sprintf(":%d", svc.port))
}

func (svc *HttpService) Shutdown() {
	if svc.app != nil {
		_ = svc.app.Shutdown()
	}
}

func (svc *HttpService) ping(c *fiber.Ctx) error {
	c.Set("Cache-Control", "max-age=10")
	return shared.ResponseJSON(c, http.StatusOK, "Success", "pong")
}

// parseRequest decodes the body into req and validates it, writing the error
// response itself when either step fails.
func parseRequest(c *fiber.Ctx, req dto.Validator) (bool, error) {
	if err := c.BodyParser(req); err != nil {
		return false, shared.ResponseBadRequest(c, "Invalid request body")
	}

	if err := req.Validate(); err != nil {
		resp := dto.CreateValidationErrorResponse(err)
		return false, shared.ResponseJSON(c, http.StatusBadRequest, resp.Message, resp.Errors)
	}

	return true, nil
}

func (svc *HttpService) sendCode(c *fiber.Ctx) error {
	var req dto.SendCodeRequest
	if ok, err := parseRequest(c, &req); !ok {
		return err
	}

	resp, err := svc.otcSvc.SendCode(c.Context(), req, middleware.ClientIP(c), c.Get("User-Agent"))
	if err != nil {
		return svc.handleError(c, err)
	}

	return shared.ResponseOK(c, resp)
}

func (svc *HttpService) verifyCode(c *fiber.Ctx) error {
	var req dto.VerifyCodeRequest
	if ok, err := parseRequest(c, &req); !ok {
		return err
	}

	result, err := svc.otcSvc.VerifyCode(c.Context(), req, middleware.ClientIP(c))
	if err != nil {
		return svc.handleError(c, err)
	}

	return shared.ResponseJSON(c, verificationStatusCode(result.Status), result.Message, result)
}

func verificationStatusCode(status string) int {
	switch status {
	case shared.StatusAccepted:
		return http.StatusOK
	case shared.StatusExpiredCode:
		return http.StatusGone
	case shared.StatusReusedCode:
		return http.StatusConflict
	default:
		return http.StatusBadRequest
	}
}

func (svc *HttpService) handleError(c *fiber.Ctx, err error) error {
	if appErr, ok := shared.GetAppError(err); ok {
		if appErr.Err != nil {
			log.WithError(appErr.Err).WithField("status", appErr.Status).Error("Request failed")
		}
		return shared.ResponseJSON(c, appErr.StatusCode, appErr.Message, fiber.Map{"status": appErr.Status})
	}

	log.WithError(err).Error("Unhandled error")
	return shared.ResponseInternalError(c)
}
