package config

import (
    "errors"
    "fmt"
    "os"
    "strings"
    "time"

    "github.com/joho/godotenv"
    "github.com/shopspring/decimal"
    "github.com/spf13/viper"
)

type Config struct {
    DatabaseURL   string
    AuthToken     string
    Port          string
    PinPepper     string
    SessionSecret string
    SessionTTL    time.Duration
    VendorTimeout time.Duration

    Gsubz    Vendor
    Vtunaija Vendor
    Biller   Vendor

    Notify Notify
    Limits Limits

    // Routes maps "service:network:plan_type" (trailing parts optional) to a
    // vendor name.
    Routes map[string]string
}

type Vendor struct {
    BaseURL       string
    APIKey        string
    SecretKey     string
    WebhookSecret string
}

type Notify struct {
    URL       string
    Token     string
    Recipient string
    Timeout   time.Duration
}

type Limits struct {
    MinAirtime     decimal.Decimal
    MaxAirtime     decimal.Decimal
    MinElectricity decimal.Decimal
    MaxElectricity decimal.Decimal
}

// Load reads an optional .env file and an optional config.yaml from the
// working directory, then environment variables, which win.
func Load() (Config, error) {
    if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
        return Config{}, fmt.Errorf("load .env: %w", err)
    }

    v := viper.New()
    v.SetConfigName("config")
    v.SetConfigType("yaml")
    v.AddConfigPath(".")
    if err := v.ReadInConfig(); err != nil {
        var notFound viper.ConfigFileNotFoundError
        if !errors.As(err, &notFound) {
            return Config{}, fmt.Errorf("read config: %w", err)
        }
    }
    return FromViper(v)
}

func setDefaults(v *viper.Viper) {
    v.SetDefault("DB_HOST", "localhost")
    v.SetDefault("DB_PORT", "5432")
    v.SetDefault("DB_SSLMODE", "disable")
    v.SetDefault("PORT", "8080")
    v.SetDefault("SESSION_TTL", "10m")
    v.SetDefault("VENDOR_TIMEOUT", "30s")
    v.SetDefault("NOTIFY_TIMEOUT", "10s")
    v.SetDefault("GSUBZ_BASE_URL", "https://gsubz.com")
    v.SetDefault("VTUNAIJA_BASE_URL", "https://vtunaija.com.ng")
    v.SetDefault("BILLER_BASE_URL", "https://vtpass.com")
    v.SetDefault("AIRTIME_MIN", "50")
    v.SetDefault("AIRTIME_MAX", "50000")
    v.SetDefault("ELECTRICITY_MIN", "1000")
    v.SetDefault("ELECTRICITY_MAX", "200000")
}

func FromViper(v *viper.Viper) (Config, error) {
    v.AutomaticEnv()
    setDefaults(v)

    get := func(key string) string {
        return strings.TrimSpace(v.GetString(key))
    }

    dbURL := get("DATABASE_URL")
    if dbURL == "" {
        user := get("DB_USER")
        password := get("DB_PASSWORD")
        name := get("DB_NAME")
        if user == "" || password == "" || name == "" {
            return Config{}, errors.New("DATABASE_URL or DB_USER/DB_PASSWORD/DB_NAME are required")
        }
        dbURL = fmt.Sprintf(
            "host=%s port=%s user=%s password=%s dbname=%s sslmode=%s",
            get("DB_HOST"),
            get("DB_PORT"),
            user,
            password,
            name,
            get("DB_SSLMODE"),
        )
    }

    cfg := Config{
        DatabaseURL:   dbURL,
        AuthToken:     get("AUTH_TOKEN"),
        Port:          get("PORT"),
        PinPepper:     get("PIN_PEPPER"),
        SessionSecret: get("SESSION_SECRET"),
        SessionTTL:    v.GetDuration("SESSION_TTL"),
        VendorTimeout: v.GetDuration("VENDOR_TIMEOUT"),
        Gsubz: Vendor{
            BaseURL:       get("GSUBZ_BASE_URL"),
            APIKey:        get("GSUBZ_API_KEY"),
            WebhookSecret: get("GSUBZ_WEBHOOK_SECRET"),
        },
        Vtunaija: Vendor{
            BaseURL:       get("VTUNAIJA_BASE_URL"),
            APIKey:        get("VTUNAIJA_API_KEY"),
            WebhookSecret: get("VTUNAIJA_WEBHOOK_SECRET"),
        },
        Biller: Vendor{
            BaseURL:       get("BILLER_BASE_URL"),
            APIKey:        get("BILLER_API_KEY"),
            SecretKey:     get("BILLER_SECRET_KEY"),
            WebhookSecret: get("BILLER_WEBHOOK_SECRET"),
        },
        Notify: Notify{
            URL:       get("NOTIFY_URL"),
            Token:     get("NOTIFY_TOKEN"),
            Recipient: get("NOTIFY_RECIPIENT"),
            Timeout:   v.GetDuration("NOTIFY_TIMEOUT"),
        },
    }

    if cfg.AuthToken == "" {
        return Config{}, errors.New("AUTH_TOKEN is required")
    }
    if cfg.PinPepper == "" {
        return Config{}, errors.New("PIN_PEPPER is required")
    }
    if cfg.SessionSecret == "" {
        return Config{}, errors.New("SESSION_SECRET is required")
    }
    if cfg.SessionTTL <= 0 || cfg.VendorTimeout <= 0 || cfg.Notify.Timeout <= 0 {
        return Config{}, errors.New("SESSION_TTL, VENDOR_TIMEOUT and NOTIFY_TIMEOUT must be positive durations")
    }

    limits, err := parseLimits(get)
    if err != nil {
        return Config{}, err
    }
    cfg.Limits = limits

    routes, err := ParseRoutes(get("VENDOR_ROUTES"))
    if err != nil {
        return Config{}, err
    }
    for k, name := range v.GetStringMapString("routes") {
        routes[strings.ToLower(k)] = strings.ToLower(strings.TrimSpace(name))
    }
    cfg.Routes = routes

    return cfg, nil
}

func parseLimits(get func(string) string) (Limits, error) {
    parse := func(key string) (decimal.Decimal, error) {
        d, err := decimal.NewFromString(get(key))
        if err != nil {
            return decimal.Zero, fmt.Errorf("%s: %w", key, err)
        }
        if !d.IsPositive() {
            return decimal.Zero, fmt.Errorf("%s must be positive", key)
        }
        return d, nil
    }

    var l Limits
    var err error
    if l.MinAirtime, err = parse("AIRTIME_MIN"); err != nil {
        return Limits{}, err
    }
    if l.MaxAirtime, err = parse("AIRTIME_MAX"); err != nil {
        return Limits{}, err
    }
    if l.MinElectricity, err = parse("ELECTRICITY_MIN"); err != nil {
        return Limits{}, err
    }
    if l.MaxElectricity, err = parse("ELECTRICITY_MAX"); err != nil {
        return Limits{}, err
    }
    if l.MinAirtime.GreaterThan(l.MaxAirtime) || l.MinElectricity.GreaterThan(l.MaxElectricity) {
        return Limits{}, errors.New("amount limits: min exceeds max")
    }
    return l, nil
}

// ParseRoutes reads "data-bundle:mtn:sme=vtunaija,airtime=gsubz".
func ParseRoutes(raw string) (map[string]string, error) {
    routes := map[string]string{}
    for _, item := range strings.Split(raw, ",") {
        item = strings.TrimSpace(item)
        if item == "" {
            continue
        }
        key, name, ok := strings.Cut(item, "=")
        key = strings.ToLower(strings.TrimSpace(key))
        name = strings.ToLower(strings.TrimSpace(name))
        if !ok || key == "" || name == "" {
            return nil, fmt.Errorf("invalid route %q", item)
        }
        routes[key] = name
    }
    return routes, nil
}
