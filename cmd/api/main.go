package main

import (
    "context"
    "errors"
    "log"
    "net/http"
    "os"
    "os/signal"
    "syscall"
    "time"

    "github.com/jackc/pgx/v5/pgxpool"

    "amaksub.vtu/internal/api"
    "amaksub.vtu/internal/config"
    "amaksub.vtu/internal/notify"
    "amaksub.vtu/internal/pin"
    "amaksub.vtu/internal/processor"
    "amaksub.vtu/internal/session"
    "amaksub.vtu/internal/store"
    "amaksub.vtu/internal/vendor"
)

func main() {
    cfg, err := config.Load()
    if err != nil {
        log.Fatalf("config error: %v", err)
    }

    ctx := context.Background()
    pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
    if err != nil {
        log.Fatalf("db error: %v", err)
    }
    defer pool.Close()

    logger := log.New(os.Stdout, "", log.LstdFlags)
    st := store.New(pool)

    gsubz := vendor.NewGsubz(vendor.Options{
        BaseURL: cfg.Gsubz.BaseURL,
        APIKey:  cfg.Gsubz.APIKey,
        Timeout: cfg.VendorTimeout,
    })
    vtunaija := vendor.NewVtunaija(vendor.Options{
        BaseURL: cfg.Vtunaija.BaseURL,
        APIKey:  cfg.Vtunaija.APIKey,
        Timeout: cfg.VendorTimeout,
    })
    biller := vendor.NewBiller(vendor.Options{
        BaseURL:   cfg.Biller.BaseURL,
        APIKey:    cfg.Biller.APIKey,
        SecretKey: cfg.Biller.SecretKey,
        Timeout:   cfg.VendorTimeout,
    })
    registry := vendor.NewRegistry(gsubz, vtunaija, biller)
    if err := registry.Override(cfg.Routes); err != nil {
        log.Fatalf("vendor routes: %v", err)
    }

    var notifier notify.Notifier
    if cfg.Notify.URL != "" {
        notifier = notify.NewEmailFunction(cfg.Notify.URL, cfg.Notify.Token, cfg.Notify.Recipient)
    }
    alerts := notify.NewDispatcher(notifier, cfg.Notify.Timeout, logger)

    pins := pin.NewHasher(cfg.PinPepper)
    tokens := session.NewIssuer(cfg.SessionSecret, cfg.SessionTTL)

    proc := processor.New(processor.Config{
        Ledger:  st,
        Vendors: registry,
        Pins:    pins,
        Tokens:  tokens,
        Alerts:  alerts,
        Limits: processor.Limits{
            MinAirtime:     cfg.Limits.MinAirtime,
            MaxAirtime:     cfg.Limits.MaxAirtime,
            MinElectricity: cfg.Limits.MinElectricity,
            MaxElectricity: cfg.Limits.MaxElectricity,
        },
        KeyHints: map[string]string{
            vendor.GsubzName:    notify.MaskKey(cfg.Gsubz.APIKey),
            vendor.VtunaijaName: notify.MaskKey(cfg.Vtunaija.APIKey),
            vendor.BillerName:   notify.MaskKey(cfg.Biller.APIKey),
        },
        Logger: logger,
    })

    webhookSecrets := map[string]string{}
    for name, secret := range map[string]string{
        vendor.GsubzName:    cfg.Gsubz.WebhookSecret,
        vendor.VtunaijaName: cfg.Vtunaija.WebhookSecret,
        vendor.BillerName:   cfg.Biller.WebhookSecret,
    } {
        if secret != "" {
            webhookSecrets[name] = secret
        }
    }

    srv := api.NewServer(api.Options{
        Store:          st,
        Processor:      proc,
        Pins:           pins,
        Tokens:         tokens,
        AuthToken:      cfg.AuthToken,
        WebhookSecrets: webhookSecrets,
        Logger:         logger,
    })

    httpServer := &http.Server{
        Addr:              ":" + cfg.Port,
        Handler:           srv.Routes(),
        ReadHeaderTimeout: 5 * time.Second,
    }

    go func() {
        logger.Printf("listening on %s", httpServer.Addr)
        if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
            logger.Fatalf("server error: %v", err)
        }
    }()

    quit := make(chan os.Signal, 1)
    signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
    <-quit

    // Purchases in flight keep running on a detached context, so give them
    // the vendor timeout to settle.
    ctxShutdown, cancel := context.WithTimeout(context.Background(), cfg.VendorTimeout+5*time.Second)
    defer cancel()
    _ = httpServer.Shutdown(ctxShutdown)
    alerts.Wait()
}
