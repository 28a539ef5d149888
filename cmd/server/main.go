package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/kiwari-pos/terminal/internal/backend"
	"github.com/kiwari-pos/terminal/internal/config"
	"github.com/kiwari-pos/terminal/internal/extras"
	"github.com/kiwari-pos/terminal/internal/handler"
	"github.com/kiwari-pos/terminal/internal/router"
	"github.com/kiwari-pos/terminal/internal/session"
	"github.com/kiwari-pos/terminal/internal/socket"
	"github.com/kiwari-pos/terminal/internal/transfer"
)

func main() {
	lg, err := zap.NewProduction()
	if err != nil {
		panic(err)
	}
	defer lg.Sync()

	if err := run(lg); err != nil {
		lg.Fatal("terminal exited", zap.Error(err))
	}
}

func run(lg *zap.Logger) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	api := backend.New(cfg.BackendURL, cfg.AuthToken, lg.Named("backend"))

	dispatcher := socket.NewDispatcher()
	sock, err := socket.Dial(ctx, cfg.SocketURL, cfg.AuthToken, dispatcher, lg.Named("socket"))
	if err != nil {
		return err
	}
	defer sock.Close()

	catalog := extras.NewCatalog(api.ExtrasGroups)

	rules := session.Rules{
		KitchenExcludedItems:      cfg.Kitchen.ExcludedItems,
		KitchenExcludedCategories: cfg.Kitchen.ExcludedCategories,
		AutoCloseTableAfterPay:    cfg.AutoClose.TableAfterPay,
		AutoClosePacketAfterPay:   cfg.AutoClose.PacketAfterPay,
		AutoClosePacketMethods:    cfg.AutoClose.PacketMethods,
	}
	sessions := session.NewManager(api, rules, lg.Named("session"))
	transfers := transfer.NewCoordinator(api, dispatcher, cfg.TableCount, cfg.MergeWait, lg.Named("transfer"))

	h := router.New(
		handler.NewSessionHandler(sessions, transfers, dispatcher, lg.Named("handler")),
		handler.NewExtrasHandler(catalog, lg.Named("handler")),
		cfg.CORS.Origins,
		lg.Named("http"),
	)

	srv := &http.Server{
		Addr:         cfg.Addr,
		Handler:      h,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
	}

	errc := make(chan error, 1)
	go func() {
		lg.Info("terminal listening", zap.String("addr", cfg.Addr))
		errc <- srv.ListenAndServe()
	}()

	select {
	case err := <-errc:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
	case <-sock.Done():
		lg.Warn("socket connection lost, shutting down")
	case <-ctx.Done():
		lg.Info("shutdown signal received")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}
