package goLogin_test

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	goLogin "github.com/MrEthical07/goLogin"
)

// ExampleNew demonstrates engine construction with production-style dependencies.
func ExampleNew() {
	rdb := redis.NewClient(&redis.Options{Addr: "127.0.0.1:6379"})
	db, _ := gorm.Open(sqlite.Open("auth.db"), &gorm.Config{})

	cfg := goLogin.DefaultConfig()
	cfg.Token.SigningMethod = "hs256"
	cfg.Token.PrivateKey = []byte("replace-with-32-bytes-of-secret!")
	cfg.Security.CounterFailurePolicy = goLogin.FailClosed

	engine, _ := goLogin.New().
		WithConfig(cfg).
		WithRedis(rdb).
		WithDB(db).
		Build()
	_ = engine
}

// ExampleEngine_Login shows a login call and how to read a retry hint from a
// rate-limited denial.
func ExampleEngine_Login() {
	var engine *goLogin.Engine
	ctx := goLogin.WithClientIP(context.Background(), "203.0.113.1")

	_, err := engine.Login(ctx, "alice@example.com", "password")
	if errors.Is(err, goLogin.ErrAuthenticationDenied) {
		if retry, ok := goLogin.RetryAfter(err); ok {
			fmt.Println("retry after", retry)
		}
	}
}

// ExampleEngine_MetricsSnapshot shows how to read in-process metrics counters.
func ExampleEngine_MetricsSnapshot() {
	var engine *goLogin.Engine
	snapshot := engine.MetricsSnapshot()
	_ = snapshot.Counters[goLogin.MetricLoginSuccess]
}
