package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"bitwise74/school-api/app"
	"bitwise74/school-api/config"

	"github.com/gin-gonic/gin"
	"github.com/rollbar/rollbar-go"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

func main() {
	err := config.Setup()
	if err != nil {
		panic(err)
	}

	if viper.GetString("app.env") == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	token := viper.GetString("rollbar.token")
	rollbar.SetToken(token)
	rollbar.SetEnvironment(viper.GetString("app.env"))
	rollbar.SetEnabled(token != "")
	defer rollbar.Wait()

	router, stop, err := app.NewRouter()
	if err != nil {
		panic(err)
	}
	defer stop()

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", viper.GetInt("host.port")),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	go func() {
		zap.L().Info("Server starting", zap.String("addr", srv.Addr))

		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			zap.L().Fatal("Server stopped unexpectedly", zap.Error(err))
		}
	}()

	<-ctx.Done()
	zap.L().Info("Shutting down")

	shutdownCtx, done := context.WithTimeout(context.Background(), 15*time.Second)
	defer done()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		zap.L().Error("Failed to shut down cleanly", zap.Error(err))
	}
}
