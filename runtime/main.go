package main

import (
	"github.com/alphabatem/common/context"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"

	"github.com/tradeyard/otc_api/middleware"
	"github.com/tradeyard/otc_api/services"
)

func main() {
	if err := godotenv.Load(); err != nil {
		log.Warn().Err(err).Msg("No .env file loaded")
	}

	ctx, err := context.NewCtx(
		&services.PostgresService{},
		&services.RedisService{},
		&services.SettingsService{},
		&services.EmailService{},
		&services.WhatsappService{},
		&services.OtpRateLimitService{},
		&services.OtcService{},
		&services.SweeperService{},
		&services.MonitoringService{},
		&middleware.IPRateLimitMiddleware{},

		&services.HttpService{},
	)
	if err != nil {
		log.Fatal().Err(err)
		return
	}

	err = ctx.Run()
	if err != nil {
		log.Fatal().Err(err)
		return
	}
}
