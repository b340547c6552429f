package main

import (
	"crypto/tls"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/MicahParks/keyfunc"
	"github.com/joho/godotenv"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"

	"boardgate/api"
	"boardgate/client"
	"boardgate/session"
)

func main() {
	_ = godotenv.Load()

	if dbg, err := strconv.ParseBool(os.Getenv("DEBUG")); err == nil && dbg {
		log.SetLevel(log.DebugLevel)
	}

	backendURL := os.Getenv("BACKEND_BASE_URL")
	if backendURL == "" {
		log.Fatal("missing backend config")
	}
	appOrigin := os.Getenv("PUBLIC_ORIGIN")
	if appOrigin == "" {
		log.Fatal("missing app origin config")
	}

	var rc *redis.Client
	if redisConn := os.Getenv("REDIS_CONNECTION_STRING"); redisConn != "" {
		redisOpts, err := redis.ParseURL(redisConn)
		if err != nil {
			parts := strings.Split(redisConn, ",")
			redisOpts = &redis.Options{Addr: parts[0]}
			for _, p := range parts[1:] {
				kv := strings.SplitN(p, "=", 2)
				if len(kv) != 2 {
					continue
				}
				switch strings.ToLower(kv[0]) {
				case "password":
					redisOpts.Password = kv[1]
				case "ssl":
					if strings.ToLower(kv[1]) == "true" {
						redisOpts.TLSConfig = &tls.Config{}
					}
				}
			}
		}
		rc = redis.NewClient(redisOpts)
	}

	cacheTTL := 5 * time.Minute
	if v := os.Getenv("CACHE_TTL"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil || d <= 0 {
			log.Fatalf("invalid CACHE_TTL: %v", err)
		}
		cacheTTL = d
	}

	testMode := os.Getenv("AUTH0_TEST_MODE") == "1"
	var verifier *api.Verifier
	if testMode {
		secret := os.Getenv("AUTH0_TEST_SECRET")
		if secret == "" {
			log.Fatal("missing test auth secret")
		}
		verifier = api.NewLocalVerifier([]byte(secret))
	} else {
		jwtAudience := os.Getenv("AUTH0_AUDIENCE")
		domain := os.Getenv("AUTH0_DOMAIN")
		if jwtAudience == "" || domain == "" {
			log.Fatal("missing Auth0 config")
		}
		jwksURL := fmt.Sprintf("https://%s/.well-known/jwks.json", domain)
		jwks, err := keyfunc.Get(jwksURL, keyfunc.Options{})
		if err != nil {
			log.Fatalf("jwks: %v", err)
		}
		verifier = api.NewVerifier(jwks, jwtAudience, "https://"+domain+"/")
	}

	logger := log.New()
	backend := client.New(backendURL, nil, logger)
	sessions := session.NewRegistry(backend, rc, logger)

	e := echo.New()
	e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins: []string{"*"},
		AllowHeaders: []string{echo.HeaderOrigin, echo.HeaderContentType, echo.HeaderAccept, echo.HeaderAuthorization},
	}))

	api.Register(e, &api.Dependencies{
		Backend:  backend,
		Sessions: sessions,
		Auth:     verifier,
		Redis:    rc,
		CacheTTL: cacheTTL,
		Origin:   appOrigin,
		Logger:   logger,
	})

	listenAddr := ":8080"
	if val, ok := os.LookupEnv("FUNCTIONS_CUSTOMHANDLER_PORT"); ok {
		listenAddr = ":" + val
	}

	e.Logger.Fatal(e.Start(listenAddr))
}
